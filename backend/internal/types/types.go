package types

import "fmt"

// SessionInfo 代表一个活动 SSH 会话的摘要信息，返回给前端展示
type SessionInfo struct {
	ID   string `json:"id"`
	Host string `json:"host"`
	User string `json:"user"`
}

// FileEntry 代表一次目录列举中的单个条目（即时快照，不做缓存）
type FileEntry struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	IsDir    bool   `json:"isDir"`
	Size     int64  `json:"size"`
	Modified string `json:"modified,omitempty"` // RFC3339，远端未提供时为空
	IsImage  bool   `json:"isImage"`
}

// FilePreview 代表一个文件预览结果
// 文本内容原样返回，二进制内容以 base64 编码返回
type FilePreview struct {
	Content   string `json:"content"`
	IsText    bool   `json:"isText"`
	Truncated bool   `json:"truncated"`
	TotalSize int64  `json:"totalSize"` // 即使被截断也是真实的文件大小
}

// KeyInfo 代表一个已存储 SSH 密钥的元数据（不含密钥本体，可安全发给前端）
type KeyInfo struct {
	Name        string `json:"name"`
	KeyType     string `json:"keyType"`
	Fingerprint string `json:"fingerprint"`
	CreatedAt   string `json:"createdAt"`
}

// Credential 描述一次连接使用的凭据：
// KeyName 指向密钥仓库中的命名密钥（可带 Passphrase），
// 或者 Password 为本次输入的密码，二选一。
type Credential struct {
	KeyName    string `json:"keyName,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
	Password   string `json:"password,omitempty"`
}

// --- 错误类型 ---
// 每类失败都有独立的错误类型，调用方通过 errors.As 区分，
// 错误信息中标明失败发生在哪个阶段（resolve / connect / authenticate / protocol）。

// ConnectionError 表示建立传输连接失败，Stage 标明失败阶段
type ConnectionError struct {
	Stage string // "resolve" | "connect" | "handshake"
	Addr  string
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed at %s stage for %s: %v", e.Stage, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthError 表示凭据被服务端拒绝
type AuthError struct {
	User string
	Addr string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s@%s: %v", e.User, e.Addr, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// MalformedKeyError 表示解码已存储密钥时失败（格式损坏或口令错误），
// 与 AuthError（服务端拒绝）是不同的错误类别。
type MalformedKeyError struct {
	KeyName string
	Err     error
}

func (e *MalformedKeyError) Error() string {
	return fmt.Sprintf("failed to decode key %q: %v", e.KeyName, e.Err)
}

func (e *MalformedKeyError) Unwrap() error { return e.Err }

// SessionNotFoundError 表示会话 ID 在注册表中不存在，
// 调用方据此区分“引用已失效”和“传输层故障”。
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session not found: %s", e.SessionID)
}

// SftpError 表示文件操作期间的传输层失败，带操作上下文
type SftpError struct {
	Op   string
	Path string
	Err  error
}

func (e *SftpError) Error() string {
	return fmt.Sprintf("sftp %s %q failed: %v", e.Op, e.Path, e.Err)
}

func (e *SftpError) Unwrap() error { return e.Err }

// ImageError 表示图片解码/缩放/编码失败
type ImageError struct {
	Path string
	Err  error
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("image processing failed for %q: %v", e.Path, e.Err)
}

func (e *ImageError) Unwrap() error { return e.Err }

// KeyNotFoundError 表示密钥仓库中不存在指定名称的密钥
type KeyNotFoundError struct {
	Name string
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("key not found: %s", e.Name)
}
