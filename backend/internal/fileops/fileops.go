package fileops

import (
	"encoding/base64"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"filedock/backend/internal/types"

	"github.com/pkg/sftp"
)

// DefaultPreviewMaxBytes 预览内容的默认截断上限
const DefaultPreviewMaxBytes = 64 * 1024

// imageExtensions 是判定"图片文件"的扩展名白名单（全部小写）
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".avif": true,
	".heic": true,
	".svg":  true,
}

// IsImageName 按扩展名判断文件是否是图片，大小写不敏感
func IsImageName(name string) bool {
	return imageExtensions[strings.ToLower(path.Ext(name))]
}

// IsProbablyText 判断字节序列是否"像文本"：
// 每个字节要么是可打印 ASCII，要么是 \n \r \t，要么 >= 0x80。
// 这是固定的字节区间启发式，不是真正的字符集检测。
func IsProbablyText(data []byte) bool {
	for _, b := range data {
		if b == '\n' || b == '\r' || b == '\t' {
			continue
		}
		if b >= 0x20 && b <= 0x7e {
			continue
		}
		if b >= 0x80 {
			continue
		}
		return false
	}
	return true
}

// JoinRemotePath 把父目录和名字拼成远端路径，恰好一个分隔符，
// 容忍父目录本身以分隔符结尾
func JoinRemotePath(parent, name string) string {
	if strings.HasSuffix(parent, "/") {
		return parent + name
	}
	return parent + "/" + name
}

// ListDir 列举远端目录：剔除 . 和 ..，目录在前，
// 其余按名字大小写不敏感排序，非目录条目按扩展名标记是否图片
func ListDir(client *sftp.Client, dirPath string) ([]types.FileEntry, error) {
	infos, err := client.ReadDir(dirPath)
	if err != nil {
		return nil, &types.SftpError{Op: "read-dir", Path: dirPath, Err: err}
	}

	entries := make([]types.FileEntry, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		if name == "." || name == ".." {
			continue
		}
		entry := types.FileEntry{
			Name:  name,
			Path:  JoinRemotePath(dirPath, name),
			IsDir: info.IsDir(),
			Size:  info.Size(),
		}
		if mt := info.ModTime(); !mt.IsZero() {
			entry.Modified = mt.UTC().Format(time.RFC3339)
		}
		if !entry.IsDir {
			entry.IsImage = IsImageName(name)
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})

	return entries, nil
}

// ReadFilePreview 读取整个远端文件并截断到 maxBytes（<=0 时用默认值），
// 返回的 TotalSize 始终是真实的文件大小
func ReadFilePreview(client *sftp.Client, filePath string, maxBytes int) (*types.FilePreview, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultPreviewMaxBytes
	}

	data, err := readAll(client, filePath, "read-preview")
	if err != nil {
		return nil, err
	}

	truncated := len(data) > maxBytes
	previewData := data
	if truncated {
		previewData = data[:maxBytes]
	}

	preview := &types.FilePreview{
		Truncated: truncated,
		TotalSize: int64(len(data)),
	}
	if IsProbablyText(previewData) {
		preview.IsText = true
		preview.Content = string(previewData)
	} else {
		preview.Content = base64.StdEncoding.EncodeToString(previewData)
	}
	return preview, nil
}

// Download 下载远端文件的全部内容
func Download(client *sftp.Client, filePath string) ([]byte, error) {
	return readAll(client, filePath, "download")
}

func readAll(client *sftp.Client, filePath, op string) ([]byte, error) {
	f, err := client.Open(filePath)
	if err != nil {
		return nil, &types.SftpError{Op: op, Path: filePath, Err: err}
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, &types.SftpError{Op: op, Path: filePath, Err: err}
	}
	return data, nil
}

// SaveTo 把远端文件流式写入本地路径，返回写入的字节数。
// 本地目录的选择和重名规避由调用方负责。
func SaveTo(client *sftp.Client, remotePath, localPath string) (int64, error) {
	src, err := client.Open(remotePath)
	if err != nil {
		return 0, &types.SftpError{Op: "save", Path: remotePath, Err: err}
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return 0, err
	}

	written, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(localPath)
		return 0, &types.SftpError{Op: "save", Path: remotePath, Err: err}
	}
	return written, nil
}

// Upload 把内容写入远端文件，已存在则覆盖
func Upload(client *sftp.Client, remotePath string, data []byte) error {
	f, err := client.Create(remotePath)
	if err != nil {
		return &types.SftpError{Op: "upload", Path: remotePath, Err: err}
	}

	_, err = f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &types.SftpError{Op: "upload", Path: remotePath, Err: err}
	}
	return nil
}

// CreateDir 创建远端目录（含中间目录）
func CreateDir(client *sftp.Client, dirPath string) error {
	if err := client.MkdirAll(dirPath); err != nil {
		return &types.SftpError{Op: "mkdir", Path: dirPath, Err: err}
	}
	return nil
}

// Delete 删除远端文件
func Delete(client *sftp.Client, filePath string) error {
	if err := client.Remove(filePath); err != nil {
		return &types.SftpError{Op: "delete", Path: filePath, Err: err}
	}
	return nil
}
