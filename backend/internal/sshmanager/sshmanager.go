package sshmanager

import (
	"context"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"filedock/backend/internal/config"
	"filedock/backend/internal/types"
	"filedock/backend/pkg/utils"

	"github.com/google/uuid"
	"github.com/skeema/knownhosts"
	"golang.org/x/crypto/ssh"
)

// KeySource 是会话管理器对密钥仓库的唯一依赖：按名称取回 PEM
type KeySource interface {
	RetrievePEM(name string) (string, error)
}

// Options 控制连接行为，取值来自应用设置
type Options struct {
	ConnectTimeout time.Duration
	HostKeyPolicy  string // config.HostKeyPolicyInsecure / config.HostKeyPolicyKnownHosts
	KnownHostsPath string
}

// Manager 维护会话注册表：会话 ID 到已认证连接的映射。
// 锁只保护映射的增删和快照，绝不跨网络往返持有。
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	vault KeySource
	opts  Options
}

// NewManager 创建会话管理器
func NewManager(vault KeySource, opts Options) *Manager {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = config.DefaultConnectTimeoutSeconds * time.Second
	}
	return &Manager{
		sessions: make(map[string]*Session),
		vault:    vault,
		opts:     opts,
	}
}

// SetOptions 替换连接选项，设置保存后调用。只影响之后的新连接。
func (m *Manager) SetOptions(opts Options) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = config.DefaultConnectTimeoutSeconds * time.Second
	}
	m.mu.Lock()
	m.opts = opts
	m.mu.Unlock()
}

// options 返回当前连接选项的副本
func (m *Manager) options() Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts
}

// authMethods 根据凭据构建认证方法：
// 命名密钥（可带口令）优先于密码；解码失败和认证被拒是两类不同的错误
func (m *Manager) authMethods(cred types.Credential) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cred.KeyName != "" {
		pem, err := m.vault.RetrievePEM(cred.KeyName)
		if err != nil {
			return nil, err
		}
		signer, err := signerFromPEM(cred.KeyName, pem, cred.Passphrase)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if cred.Password != "" {
		methods = append(methods, ssh.Password(cred.Password))
	}

	if len(methods) == 0 {
		return nil, &types.MalformedKeyError{KeyName: cred.KeyName,
			Err: errNoCredential}
	}
	return methods, nil
}

var errNoCredential = &noCredentialError{}

type noCredentialError struct{}

func (e *noCredentialError) Error() string {
	return "no credential provided: need a stored key name or a password"
}

// signerFromPEM 解析私钥，失败一律归类为 MalformedKeyError
// （包括缺少口令、口令错误、内容损坏）
func signerFromPEM(name, pem, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase([]byte(pem), []byte(passphrase))
		if err != nil {
			return nil, &types.MalformedKeyError{KeyName: name, Err: err}
		}
		return signer, nil
	}
	signer, err := ssh.ParsePrivateKey([]byte(pem))
	if err != nil {
		return nil, &types.MalformedKeyError{KeyName: name, Err: err}
	}
	return signer, nil
}

// hostKeyCallback 按设置构建主机密钥校验回调。
// 默认接受任何主机密钥；known_hosts 模式用 knownhosts 文件校验。
func hostKeyCallback(opts Options) (ssh.HostKeyCallback, error) {
	if opts.HostKeyPolicy == config.HostKeyPolicyKnownHosts && opts.KnownHostsPath != "" {
		hkcb, err := knownhosts.New(opts.KnownHostsPath)
		if err != nil {
			return nil, &types.ConnectionError{Stage: "resolve", Addr: opts.KnownHostsPath, Err: err}
		}
		return hkcb.HostKeyCallback(), nil
	}
	return ssh.InsecureIgnoreHostKey(), nil
}

// dial 完成 解析地址 -> 建立 TCP 连接 -> 握手认证 的完整流程，
// 每个阶段失败返回对应类别的错误
func (m *Manager) dial(host string, port int, user string, cred types.Credential) (*ssh.Client, error) {
	opts := m.options()

	methods, err := m.authMethods(cred)
	if err != nil {
		return nil, err
	}

	hostKeyCb, err := hostKeyCallback(opts)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))

	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, &types.ConnectionError{Stage: "resolve", Addr: addr, Err: err}
	}

	conn, err := net.DialTimeout("tcp", tcpAddr.String(), opts.ConnectTimeout)
	if err != nil {
		return nil, &types.ConnectionError{Stage: "connect", Addr: addr, Err: err}
	}

	clientConfig := &ssh.ClientConfig{
		User:            user,
		Auth:            methods,
		HostKeyCallback: hostKeyCb,
		Timeout:         opts.ConnectTimeout,
	}

	// 给握手本身也设超时，防止对端只收不答时卡死
	_ = conn.SetDeadline(time.Now().Add(opts.ConnectTimeout))
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		if isAuthFailure(err) {
			return nil, &types.AuthError{User: user, Addr: addr, Err: err}
		}
		return nil, &types.ConnectionError{Stage: "handshake", Addr: addr, Err: err}
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(c, chans, reqs), nil
}

// isAuthFailure 判断握手错误是不是认证被拒。
// x/crypto/ssh 没有为客户端侧认证失败导出错误类型，只能看错误文本。
func isAuthFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain")
}

// Connect 建立连接并注册会话，成功返回新分配的会话 ID。
// 会话要么完整注册，要么完全不注册，不会出现半初始化状态。
func (m *Manager) Connect(host string, port int, user string, cred types.Credential) (string, error) {
	log.Printf("[SSH] Connecting to %s@%s:%d", user, host, port)
	start := time.Now()

	client, err := m.dial(host, port, user, cred)
	if err != nil {
		log.Printf("[SSH] Connection failed after %.2fms: %v",
			float64(time.Since(start).Microseconds())/1000.0, err)
		return "", err
	}

	keepCtx, stopKeep := context.WithCancel(context.Background())
	session := &Session{
		ID:       uuid.NewString(),
		Host:     host,
		User:     user,
		client:   client,
		stopKeep: stopKeep,
		newSFTP:  defaultNewSFTP,
	}
	go func() {
		defer utils.Recover("keepalive")
		StartKeepAlive(keepCtx, client)
	}()

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	log.Printf("[SSH] Connected in %.2fms, session_id=%s",
		float64(time.Since(start).Microseconds())/1000.0, session.ID)
	return session.ID, nil
}

// TestConnection 执行与 Connect 相同的流程但立刻丢弃结果，
// 用于在不保留会话的情况下验证凭据
func (m *Manager) TestConnection(host string, port int, user string, cred types.Credential) error {
	client, err := m.dial(host, port, user, cred)
	if err != nil {
		return err
	}
	client.Close()
	return nil
}

// Get 按 ID 查找会话，所有下游文件操作都经过这里。
// 未知 ID 返回 SessionNotFoundError，调用方据此与传输故障区分。
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, &types.SessionNotFoundError{SessionID: sessionID}
	}
	return session, nil
}

// Disconnect 断开并移除会话。
// 故意不做幂等：对未知（包括已断开）的 ID 返回 SessionNotFoundError，
// 重复断开暴露的是调用方的状态管理缺陷。
func (m *Manager) Disconnect(sessionID string) error {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return &types.SessionNotFoundError{SessionID: sessionID}
	}

	log.Printf("[SSH] Disconnecting session_id=%s", sessionID)
	session.close()
	return nil
}

// ListSessions 返回所有会话的一致快照
func (m *Manager) ListSessions() []types.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]types.SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, types.SessionInfo{ID: s.ID, Host: s.Host, User: s.User})
	}
	return infos
}

// CloseAll 在应用退出时断开所有会话
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}
