package sshmanager

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"filedock/backend/internal/types"
)

const testPassword = "secret"

// stubVault 是测试用的内存密钥仓库
type stubVault map[string]string

func (v stubVault) RetrievePEM(name string) (string, error) {
	pem, ok := v[name]
	if !ok {
		return "", &types.KeyNotFoundError{Name: name}
	}
	return pem, nil
}

func newSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return signer
}

// startTestSSHServer 启动一个进程内 SSH 服务端：
// 校验密码或公钥，握手成功后丢弃所有请求、拒绝所有通道
func startTestSSHServer(t *testing.T) (string, int) {
	t.Helper()

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
			if string(pw) == testPassword {
				return nil, nil
			}
			return nil, fmt.Errorf("wrong password")
		},
		PublicKeyCallback: func(_ ssh.ConnMetadata, _ ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	cfg.AddHostKey(newSigner(t))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				sconn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
				if err != nil {
					conn.Close()
					return
				}
				go ssh.DiscardRequests(reqs)
				for ch := range chans {
					ch.Reject(ssh.UnknownChannelType, "unsupported")
				}
				sconn.Close()
			}()
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func newTestManager(vault KeySource) *Manager {
	return NewManager(vault, Options{ConnectTimeout: 3 * time.Second})
}

// TestConnect_Password 测试密码认证成功并注册会话
func TestConnect_Password(t *testing.T) {
	host, port := startTestSSHServer(t)
	m := newTestManager(stubVault{})
	defer m.CloseAll()

	id, err := m.Connect(host, port, "tester", types.Credential{Password: testPassword})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	session, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, host, session.Host)
	assert.Equal(t, "tester", session.User)

	infos := m.ListSessions()
	require.Len(t, infos, 1)
	assert.Equal(t, id, infos[0].ID)
}

// TestConnect_KeyAuth 测试命名密钥认证
func TestConnect_KeyAuth(t *testing.T) {
	host, port := startTestSSHServer(t)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	m := newTestManager(stubVault{"work": string(pem.EncodeToMemory(block))})
	defer m.CloseAll()

	id, err := m.Connect(host, port, "tester", types.Credential{KeyName: "work"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

// TestConnect_WrongPassword 测试凭据被拒时返回 AuthError
func TestConnect_WrongPassword(t *testing.T) {
	host, port := startTestSSHServer(t)
	m := newTestManager(stubVault{})

	_, err := m.Connect(host, port, "tester", types.Credential{Password: "nope"})
	var authErr *types.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "tester", authErr.User)
	assert.Empty(t, m.ListSessions())
}

// TestConnect_Refused 测试端口不可达时返回 connect 阶段的 ConnectionError
func TestConnect_Refused(t *testing.T) {
	// 先占住一个端口再释放，确保它当下没有监听者
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	ln.Close()

	m := newTestManager(stubVault{})
	_, err = m.Connect(host, port, "tester", types.Credential{Password: testPassword})
	var connErr *types.ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, "connect", connErr.Stage)
}

// TestConnect_MalformedKey 测试密钥解码失败返回 MalformedKeyError，
// 与服务端拒绝（AuthError）是不同的错误类别
func TestConnect_MalformedKey(t *testing.T) {
	host, port := startTestSSHServer(t)
	m := newTestManager(stubVault{"broken": "not a private key"})

	_, err := m.Connect(host, port, "tester", types.Credential{KeyName: "broken"})
	var keyErr *types.MalformedKeyError
	require.True(t, errors.As(err, &keyErr))
	assert.Equal(t, "broken", keyErr.KeyName)
}

// TestConnect_NoCredential 测试既无密钥也无密码时直接报错
func TestConnect_NoCredential(t *testing.T) {
	host, port := startTestSSHServer(t)
	m := newTestManager(stubVault{})

	_, err := m.Connect(host, port, "tester", types.Credential{})
	assert.Error(t, err)
	assert.Empty(t, m.ListSessions())
}

// TestConnect_UniqueIDs 测试每次连接分配不同的会话 ID
func TestConnect_UniqueIDs(t *testing.T) {
	host, port := startTestSSHServer(t)
	m := newTestManager(stubVault{})
	defer m.CloseAll()

	id1, err := m.Connect(host, port, "tester", types.Credential{Password: testPassword})
	require.NoError(t, err)
	id2, err := m.Connect(host, port, "tester", types.Credential{Password: testPassword})
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Len(t, m.ListSessions(), 2)
}

// TestDisconnect_NotIdempotent 测试重复断开同一会话返回 SessionNotFoundError
func TestDisconnect_NotIdempotent(t *testing.T) {
	host, port := startTestSSHServer(t)
	m := newTestManager(stubVault{})

	id, err := m.Connect(host, port, "tester", types.Credential{Password: testPassword})
	require.NoError(t, err)

	require.NoError(t, m.Disconnect(id))

	err = m.Disconnect(id)
	var notFound *types.SessionNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, id, notFound.SessionID)
}

// TestGet_Unknown 测试未知会话 ID 返回 SessionNotFoundError
func TestGet_Unknown(t *testing.T) {
	m := newTestManager(stubVault{})

	_, err := m.Get("no-such-session")
	var notFound *types.SessionNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

// TestTestConnection 测试连通性检查成功且不留下会话
func TestTestConnection(t *testing.T) {
	host, port := startTestSSHServer(t)
	m := newTestManager(stubVault{})

	require.NoError(t, m.TestConnection(host, port, "tester", types.Credential{Password: testPassword}))
	assert.Empty(t, m.ListSessions())
}

// TestCloseAll 测试退出时清空全部会话
func TestCloseAll(t *testing.T) {
	host, port := startTestSSHServer(t)
	m := newTestManager(stubVault{})

	_, err := m.Connect(host, port, "tester", types.Credential{Password: testPassword})
	require.NoError(t, err)
	_, err = m.Connect(host, port, "tester", types.Credential{Password: testPassword})
	require.NoError(t, err)

	m.CloseAll()
	assert.Empty(t, m.ListSessions())
}
