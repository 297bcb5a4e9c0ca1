package backend

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"filedock/backend/internal/config"
	"filedock/backend/internal/fileops"
	"filedock/backend/internal/imgcache"
	"filedock/backend/internal/keyvault"
	"filedock/backend/internal/sshmanager"
	"filedock/backend/internal/types"
)

const appDirName = "FileDock"

// App struct
type App struct {
	ctx context.Context

	settings   *config.Manager
	keyStore   *keyvault.Store
	sshManager *sshmanager.Manager
	cache      *imgcache.Service

	isDebug bool
}

// NewApp creates a new App application struct
func NewApp(isDebug bool) *App {
	return &App{isDebug: isDebug}
}

// Startup is called when the app starts.
func (a *App) Startup(ctx context.Context) {
	a.ctx = ctx

	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatalf("failed to get user config dir: %v", err)
	}
	dataDir := filepath.Join(userConfigDir, appDirName)
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		log.Printf("警告: 创建数据目录失败: %v", err)
	}

	// --- 日志文件初始化 ---
	logFilePath := filepath.Join(dataDir, "app.log")
	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o660)
	if err != nil {
		log.Printf("警告: 打开日志文件失败: %v", err)
	} else {
		// 开发模式下日志同时输出到终端和文件，生产模式只写文件
		if a.isDebug {
			log.SetOutput(io.MultiWriter(os.Stderr, logFile))
		} else {
			log.SetOutput(logFile)
		}
	}
	log.Println("-------------------- App Starting --------------------")

	a.settings = config.NewManager(filepath.Join(dataDir, "settings.json"))
	if err := a.settings.Load(); err != nil {
		log.Printf("警告: 加载设置文件失败 (可能是首次运行): %v", err)
	}
	s := a.settings.Get()

	a.keyStore = keyvault.NewStore(filepath.Join(dataDir, "ssh_keys.json"))
	a.sshManager = sshmanager.NewManager(a.keyStore, managerOptions(s))
	a.cache = imgcache.NewService(s.ThumbCacheBudget, s.ImageCacheBudget)
}

// Shutdown is called when the app terminates.
func (a *App) Shutdown(ctx context.Context) {
	log.Println("app shutdown")
	if a.sshManager != nil {
		a.sshManager.CloseAll()
	}
}

func managerOptions(s config.Settings) sshmanager.Options {
	return sshmanager.Options{
		ConnectTimeout: time.Duration(s.ConnectTimeoutSeconds) * time.Second,
		HostKeyPolicy:  s.HostKeyPolicy,
		KnownHostsPath: s.KnownHostsPath,
	}
}

// sftpFor 把会话 ID 解析为可用的 SFTP 通道，所有文件命令都从这里走
func (a *App) sftpFor(sessionID string) (*sftp.Client, error) {
	session, err := a.sshManager.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return session.SFTP()
}

// -----密钥管理-------------------------------------------------

// StoreKey 保存一个命名 SSH 密钥，类型自动识别
func (a *App) StoreKey(name string, keyPEM string) (types.KeyInfo, error) {
	return a.keyStore.StoreKey(name, keyPEM)
}

// ListKeys 返回所有已存密钥的元数据
func (a *App) ListKeys() ([]types.KeyInfo, error) {
	return a.keyStore.ListKeys()
}

// DeleteKey 删除一个已存密钥
func (a *App) DeleteKey(name string) error {
	return a.keyStore.DeleteKey(name)
}

// GetKey 返回密钥的 PEM 内容（前端导出功能用）
func (a *App) GetKey(name string) (string, error) {
	return a.keyStore.RetrievePEM(name)
}

// ListSupportedKeyTypes 返回支持的密钥类型
func (a *App) ListSupportedKeyTypes() []string {
	return keyvault.SupportedKeyTypes()
}

// -----会话管理-------------------------------------------------

// Connect 建立 SSH 连接并返回会话 ID
func (a *App) Connect(host string, port int, user string, cred types.Credential) (string, error) {
	sessionID, err := a.sshManager.Connect(host, port, user, cred)
	if err != nil {
		return "", err
	}
	runtime.EventsEmit(a.ctx, "session:connected", types.SessionInfo{
		ID: sessionID, Host: host, User: user,
	})
	return sessionID, nil
}

// TestConnection 只验证凭据，不保留会话
func (a *App) TestConnection(host string, port int, user string, cred types.Credential) error {
	return a.sshManager.TestConnection(host, port, user, cred)
}

// Disconnect 断开并移除会话
func (a *App) Disconnect(sessionID string) error {
	if err := a.sshManager.Disconnect(sessionID); err != nil {
		return err
	}
	runtime.EventsEmit(a.ctx, "session:closed", sessionID)
	return nil
}

// ListSessions 返回所有活动会话
func (a *App) ListSessions() []types.SessionInfo {
	return a.sshManager.ListSessions()
}

// -----文件操作-------------------------------------------------

// ListDir 列举远端目录
func (a *App) ListDir(sessionID string, path string) ([]types.FileEntry, error) {
	start := time.Now()
	client, err := a.sftpFor(sessionID)
	if err != nil {
		return nil, err
	}
	entries, err := fileops.ListDir(client, path)
	log.Printf("[CMD] ListDir %q took %.2fms", path, float64(time.Since(start).Microseconds())/1000.0)
	return entries, err
}

// ReadFilePreview 读取文件预览，maxBytes <= 0 时用默认 64 KiB
func (a *App) ReadFilePreview(sessionID string, path string, maxBytes int) (*types.FilePreview, error) {
	client, err := a.sftpFor(sessionID)
	if err != nil {
		return nil, err
	}
	return fileops.ReadFilePreview(client, path, maxBytes)
}

// DownloadFile 下载文件内容
func (a *App) DownloadFile(sessionID string, path string) ([]byte, error) {
	client, err := a.sftpFor(sessionID)
	if err != nil {
		return nil, err
	}
	return fileops.Download(client, path)
}

// SaveFile 把远端文件保存到下载目录，返回本地路径
func (a *App) SaveFile(sessionID string, remotePath string, localName string) (string, error) {
	client, err := a.sftpFor(sessionID)
	if err != nil {
		return "", err
	}

	downloadDir := a.settings.Get().DownloadDir
	if err := os.MkdirAll(downloadDir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create download dir: %w", err)
	}
	localPath := filepath.Join(downloadDir, filepath.Base(localName))

	written, err := fileops.SaveTo(client, remotePath, localPath)
	if err != nil {
		return "", err
	}
	log.Printf("[CMD] SaveFile %q -> %q (%d bytes)", remotePath, localPath, written)
	return localPath, nil
}

// UploadFile 上传内容到远端路径，content 为 base64 编码
func (a *App) UploadFile(sessionID string, remotePath string, contentB64 string) error {
	data, err := base64.StdEncoding.DecodeString(contentB64)
	if err != nil {
		return fmt.Errorf("invalid upload payload: %w", err)
	}
	client, err := a.sftpFor(sessionID)
	if err != nil {
		return err
	}
	return fileops.Upload(client, remotePath, data)
}

// CreateDir 创建远端目录
func (a *App) CreateDir(sessionID string, path string) error {
	client, err := a.sftpFor(sessionID)
	if err != nil {
		return err
	}
	return fileops.CreateDir(client, path)
}

// DeleteFile 删除远端文件
func (a *App) DeleteFile(sessionID string, path string) error {
	client, err := a.sftpFor(sessionID)
	if err != nil {
		return err
	}
	return fileops.Delete(client, path)
}

// -----缩略图与图片缓存-----------------------------------------

// GetThumbnail 返回远端图片的缩略图（base64 JPEG）。
// remoteMtimeUnix 是远端文件的修改时间（unix 秒），0 表示未知。
func (a *App) GetThumbnail(sessionID string, path string, remoteMtimeUnix int64) (string, error) {
	client, err := a.sftpFor(sessionID)
	if err != nil {
		return "", err
	}
	return a.cache.Thumbnail(a.ctx, client, path, a.settings.Get().ThumbCacheDir, unixToTime(remoteMtimeUnix))
}

// CacheImage 缓存远端图片原图并返回本地路径
func (a *App) CacheImage(sessionID string, path string, remoteMtimeUnix int64) (string, error) {
	client, err := a.sftpFor(sessionID)
	if err != nil {
		return "", err
	}
	return a.cache.CacheImage(client, path, a.settings.Get().ImageCacheDir, unixToTime(remoteMtimeUnix))
}

// ClearThumbnailCache 清空缩略图缓存
func (a *App) ClearThumbnailCache() error {
	return a.cache.ClearThumbnails(a.settings.Get().ThumbCacheDir)
}

// ClearImageCache 清空原图缓存
func (a *App) ClearImageCache() error {
	return a.cache.ClearImages(a.settings.Get().ImageCacheDir)
}

func unixToTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// -----设置-----------------------------------------------------

// GetSettings 返回当前设置
func (a *App) GetSettings() config.Settings {
	return a.settings.Get()
}

// SaveSettings 保存设置并让依赖设置的组件生效
func (a *App) SaveSettings(s config.Settings) error {
	if err := a.settings.Save(s); err != nil {
		return err
	}
	applied := a.settings.Get()
	a.sshManager.SetOptions(managerOptions(applied))
	a.cache.SetBudgets(applied.ThumbCacheBudget, applied.ImageCacheBudget)
	return nil
}

// SelectDirectory 打开系统目录选择对话框（前端选下载目录用）
func (a *App) SelectDirectory(title string) (string, error) {
	return runtime.OpenDirectoryDialog(a.ctx, runtime.OpenDialogOptions{
		Title: title,
	})
}
