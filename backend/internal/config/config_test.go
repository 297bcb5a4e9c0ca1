package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewManager_Defaults 测试新管理器携带默认设置
func TestNewManager_Defaults(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(filepath.Join(dir, "settings.json"))

	s := m.Get()
	assert.Equal(t, DefaultThumbCacheBudget, s.ThumbCacheBudget)
	assert.Equal(t, DefaultImageCacheBudget, s.ImageCacheBudget)
	assert.Equal(t, DefaultConnectTimeoutSeconds, s.ConnectTimeoutSeconds)
	assert.Equal(t, HostKeyPolicyInsecure, s.HostKeyPolicy)
	assert.Equal(t, filepath.Join(dir, "cache", "thumbnails"), s.ThumbCacheDir)
	assert.Equal(t, filepath.Join(dir, "cache", "images"), s.ImageCacheDir)
	assert.NotEmpty(t, s.DownloadDir)
}

// TestLoad_MissingFile 测试设置文件不存在时加载不报错（首次运行）
func TestLoad_MissingFile(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "settings.json"))

	require.NoError(t, m.Load())
	assert.Equal(t, DefaultThumbCacheBudget, m.Get().ThumbCacheBudget)
}

// TestLoad_InvalidJSON 测试损坏的设置文件返回错误
func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o640))

	m := NewManager(path)
	assert.Error(t, m.Load())
}

// TestSaveLoad_RoundTrip 测试保存后重新加载得到相同设置
func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")

	m := NewManager(path)
	s := m.Get()
	s.DownloadDir = filepath.Join(dir, "downloads")
	s.ThumbCacheBudget = 1024
	s.ConnectTimeoutSeconds = 5
	s.HostKeyPolicy = HostKeyPolicyKnownHosts
	s.KnownHostsPath = filepath.Join(dir, "known_hosts")
	require.NoError(t, m.Save(s))

	reloaded := NewManager(path)
	require.NoError(t, reloaded.Load())

	got := reloaded.Get()
	assert.Equal(t, s.DownloadDir, got.DownloadDir)
	assert.Equal(t, int64(1024), got.ThumbCacheBudget)
	assert.Equal(t, 5, got.ConnectTimeoutSeconds)
	assert.Equal(t, HostKeyPolicyKnownHosts, got.HostKeyPolicy)
	assert.Equal(t, s.KnownHostsPath, got.KnownHostsPath)
}

// TestSave_NormalizesInvalidFields 测试非法字段在保存时被校正回默认值
func TestSave_NormalizesInvalidFields(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(filepath.Join(dir, "settings.json"))

	require.NoError(t, m.Save(Settings{
		ThumbCacheBudget:      -1,
		ImageCacheBudget:      0,
		ConnectTimeoutSeconds: -3,
		HostKeyPolicy:         "whatever",
	}))

	s := m.Get()
	assert.Equal(t, DefaultThumbCacheBudget, s.ThumbCacheBudget)
	assert.Equal(t, DefaultImageCacheBudget, s.ImageCacheBudget)
	assert.Equal(t, DefaultConnectTimeoutSeconds, s.ConnectTimeoutSeconds)
	assert.Equal(t, HostKeyPolicyInsecure, s.HostKeyPolicy)
	assert.NotEmpty(t, s.ThumbCacheDir)
	assert.NotEmpty(t, s.ImageCacheDir)
}

// TestGet_ReturnsCopy 测试 Get 返回副本，修改不影响内部状态
func TestGet_ReturnsCopy(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "settings.json"))

	s := m.Get()
	s.DownloadDir = "/changed"
	assert.NotEqual(t, "/changed", m.Get().DownloadDir)
}
