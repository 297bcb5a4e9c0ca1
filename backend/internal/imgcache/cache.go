// Package imgcache 实现缩略图和原图的本地磁盘缓存。
//
// 缓存文件名由远端路径的 URL-safe base64 编码决定，没有索引文件，
// 存在性和新鲜度完全由文件系统元数据推导：本地修改时间不早于
// 调用方给出的远端修改时间即视为新鲜。
package imgcache

import (
	"context"
	"encoding/base64"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"filedock/backend/internal/fileops"
	"filedock/backend/internal/types"

	"github.com/pkg/sftp"
	"golang.org/x/sync/semaphore"
)

// ThumbMaxSourceBytes 生成缩略图时允许下载的最大原图体积
const ThumbMaxSourceBytes = 10 * 1024 * 1024

// Service 提供缩略图获取和原图缓存，持有图片计算池和清扫调度器。
// 解码/缩放/编码是纯 CPU 工作，经过有限并发的信号量，
// 避免一波缩略图请求把 I/O 型操作饿死。
type Service struct {
	sem     *semaphore.Weighted
	evictor *Evictor

	mu          sync.Mutex
	thumbBudget int64
	imageBudget int64
}

// NewService 创建缓存服务，两个目录各自独立的字节预算
func NewService(thumbBudget, imageBudget int64) *Service {
	return &Service{
		sem:         semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
		evictor:     NewEvictor(),
		thumbBudget: thumbBudget,
		imageBudget: imageBudget,
	}
}

// SetBudgets 更新两个目录的字节预算，设置保存后调用
func (s *Service) SetBudgets(thumbBudget, imageBudget int64) {
	s.mu.Lock()
	s.thumbBudget = thumbBudget
	s.imageBudget = imageBudget
	s.mu.Unlock()
}

func (s *Service) budgets() (int64, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thumbBudget, s.imageBudget
}

// CacheFileName 计算远端路径对应的缓存文件名（不含扩展名）。
// URL-safe base64 是单向稳定编码，同一路径永远映射到同一文件。
func CacheFileName(remotePath string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(remotePath))
}

// isFresh 判断缓存文件是否新鲜：
// 本地修改时间 >= 远端修改时间，或者调用方没有给出远端时间
func isFresh(localPath string, remoteMtime time.Time) bool {
	info, err := os.Stat(localPath)
	if err != nil {
		return false
	}
	if remoteMtime.IsZero() {
		return true
	}
	return !info.ModTime().Before(remoteMtime)
}

// Thumbnail 返回远端图片的缩略图（base64 编码的 JPEG）。
// 缓存新鲜时直接读本地文件，完全不碰网络；
// 未命中或过期时下载原图（超过 10 MiB 直接拒绝）、在计算池里
// 生成缩略图、写入缓存，然后调度一次该目录的后台清扫。
func (s *Service) Thumbnail(ctx context.Context, client *sftp.Client, remotePath, cacheDir string, remoteMtime time.Time) (string, error) {
	localPath := filepath.Join(cacheDir, CacheFileName(remotePath)+".jpg")

	if isFresh(localPath, remoteMtime) {
		data, err := os.ReadFile(localPath)
		if err == nil {
			log.Printf("[CACHE] thumbnail hit for %q", remotePath)
			return base64.StdEncoding.EncodeToString(data), nil
		}
		// 读缓存失败就按未命中处理
	}

	info, err := client.Stat(remotePath)
	if err != nil {
		return "", &types.SftpError{Op: "stat", Path: remotePath, Err: err}
	}
	if info.Size() > ThumbMaxSourceBytes {
		return "", &types.ImageError{Path: remotePath, Err: errSourceTooLarge}
	}

	data, err := fileops.Download(client, remotePath)
	if err != nil {
		return "", err
	}

	// CPU 密集段进计算池
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	thumb, renderErr := renderThumbnail(data)
	s.sem.Release(1)
	if renderErr != nil {
		return "", &types.ImageError{Path: remotePath, Err: renderErr}
	}

	if err := writeFileAtomic(localPath, thumb); err != nil {
		return "", err
	}
	thumbBudget, _ := s.budgets()
	s.evictor.Schedule(cacheDir, thumbBudget)

	return base64.StdEncoding.EncodeToString(thumb), nil
}

// CacheImage 把远端图片原样缓存到本地并返回本地路径，
// 用于前端需要全分辨率图片的场景。新鲜度判断与 Thumbnail 一致。
func (s *Service) CacheImage(client *sftp.Client, remotePath, cacheDir string, remoteMtime time.Time) (string, error) {
	localPath := filepath.Join(cacheDir, CacheFileName(remotePath)+path.Ext(remotePath))

	if isFresh(localPath, remoteMtime) {
		log.Printf("[CACHE] image hit for %q", remotePath)
		return localPath, nil
	}

	src, err := client.Open(remotePath)
	if err != nil {
		return "", &types.SftpError{Op: "cache-image", Path: remotePath, Err: err}
	}
	defer src.Close()

	if err := copyFileAtomic(localPath, src); err != nil {
		return "", err
	}
	_, imageBudget := s.budgets()
	s.evictor.Schedule(cacheDir, imageBudget)

	return localPath, nil
}

// ClearThumbnails 清空缩略图缓存目录
func (s *Service) ClearThumbnails(cacheDir string) error {
	return Clear(cacheDir)
}

// ClearImages 清空原图缓存目录
func (s *Service) ClearImages(cacheDir string) error {
	return Clear(cacheDir)
}

type sourceTooLargeError struct{}

func (e *sourceTooLargeError) Error() string {
	return "source image exceeds the 10 MiB thumbnail limit"
}

var errSourceTooLarge = &sourceTooLargeError{}

// writeFileAtomic 先写临时文件再改名，
// 保证清扫和读取永远只会看到完整写入的缓存文件
func writeFileAtomic(localPath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o750); err != nil {
		return err
	}
	tmpPath := localPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o640); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// copyFileAtomic 与 writeFileAtomic 相同的临时文件策略，但流式复制
func copyFileAtomic(localPath string, src io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o750); err != nil {
		return err
	}
	tmpPath := localPath + ".tmp"
	dst, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
