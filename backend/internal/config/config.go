package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	// DefaultThumbCacheBudget 缩略图缓存目录的默认字节预算
	DefaultThumbCacheBudget int64 = 50 * 1024 * 1024
	// DefaultImageCacheBudget 原图缓存目录的默认字节预算
	DefaultImageCacheBudget int64 = 200 * 1024 * 1024
	// DefaultConnectTimeoutSeconds SSH 连接超时
	DefaultConnectTimeoutSeconds = 10
)

// 主机密钥校验策略
const (
	HostKeyPolicyInsecure   = "insecure"    // 接受任何主机密钥（默认，与桌面端现状一致）
	HostKeyPolicyKnownHosts = "known_hosts" // 使用 known_hosts 文件校验
)

// Settings 是应用的全部可持久化设置，由前端读写
type Settings struct {
	DownloadDir           string `json:"downloadDir"`
	ThumbCacheDir         string `json:"thumbCacheDir"`
	ImageCacheDir         string `json:"imageCacheDir"`
	ThumbCacheBudget      int64  `json:"thumbCacheBudget"`
	ImageCacheBudget      int64  `json:"imageCacheBudget"`
	ConnectTimeoutSeconds int    `json:"connectTimeoutSeconds"`
	HostKeyPolicy         string `json:"hostKeyPolicy"`
	KnownHostsPath        string `json:"knownHostsPath,omitempty"`
}

// Manager 负责设置文件的加载与保存，前端可能随时改写，
// 所以用锁保护内存副本
type Manager struct {
	path     string
	mu       sync.RWMutex
	settings Settings
}

// NewManager 创建设置管理器，path 为 JSON 设置文件路径
func NewManager(path string) *Manager {
	return &Manager{
		path:     path,
		settings: defaults(filepath.Dir(path)),
	}
}

// defaults 基于数据目录推导默认设置
func defaults(dataDir string) Settings {
	downloadDir, err := os.UserHomeDir()
	if err == nil {
		downloadDir = filepath.Join(downloadDir, "Downloads")
	} else {
		downloadDir = dataDir
	}
	return Settings{
		DownloadDir:           downloadDir,
		ThumbCacheDir:         filepath.Join(dataDir, "cache", "thumbnails"),
		ImageCacheDir:         filepath.Join(dataDir, "cache", "images"),
		ThumbCacheBudget:      DefaultThumbCacheBudget,
		ImageCacheBudget:      DefaultImageCacheBudget,
		ConnectTimeoutSeconds: DefaultConnectTimeoutSeconds,
		HostKeyPolicy:         HostKeyPolicyInsecure,
	}
}

// Load 从磁盘加载设置，文件不存在时保留默认值
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在是正常情况（首次运行），返回nil
			return nil
		}
		return err
	}

	loaded := m.settings
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse settings file %s: %w", m.path, err)
	}
	m.settings = normalize(loaded, filepath.Dir(m.path))
	return nil
}

// normalize 填补缺失或非法的字段，保证下游拿到的设置总是可用的
func normalize(s Settings, dataDir string) Settings {
	def := defaults(dataDir)
	if s.DownloadDir == "" {
		s.DownloadDir = def.DownloadDir
	}
	if s.ThumbCacheDir == "" {
		s.ThumbCacheDir = def.ThumbCacheDir
	}
	if s.ImageCacheDir == "" {
		s.ImageCacheDir = def.ImageCacheDir
	}
	if s.ThumbCacheBudget <= 0 {
		s.ThumbCacheBudget = def.ThumbCacheBudget
	}
	if s.ImageCacheBudget <= 0 {
		s.ImageCacheBudget = def.ImageCacheBudget
	}
	if s.ConnectTimeoutSeconds <= 0 {
		s.ConnectTimeoutSeconds = def.ConnectTimeoutSeconds
	}
	if s.HostKeyPolicy != HostKeyPolicyKnownHosts {
		s.HostKeyPolicy = HostKeyPolicyInsecure
	}
	return s
}

// Get 返回当前设置的副本
func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// Save 校正并保存新的设置
func (m *Manager) Save(s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings = normalize(s, filepath.Dir(m.path))

	data, err := json.MarshalIndent(m.settings, "", "  ")
	if err != nil {
		return err
	}
	// 确保目录存在
	if err := os.MkdirAll(filepath.Dir(m.path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0o640)
}
