package sshmanager

import (
	"log"
	"sync"
	"time"

	"filedock/backend/internal/types"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/singleflight"
)

// Session 代表一条已认证的 SSH 连接，以及按需创建的 SFTP 通道。
// 由 Manager 独占持有，所有文件操作通过会话 ID 共享访问它。
type Session struct {
	ID   string
	Host string
	User string

	client    *ssh.Client
	closeOnce sync.Once
	stopKeep  func()

	// SFTP 通道的"一次性记忆单元"：
	// 首次成功的结果被永久缓存；并发的首批调用共享同一次初始化
	// （包括失败结果）；失败不缓存，下一次请求会重新尝试。
	// 单纯的检查后加锁无法避免竞态下重复建通道，所以用 singleflight 合并。
	mu      sync.Mutex
	sftpCli *sftp.Client
	flight  singleflight.Group

	// newSFTP 默认在 client 上打开 SFTP 子系统，测试中可替换为计数桩
	newSFTP func(*ssh.Client) (*sftp.Client, error)
}

func defaultNewSFTP(client *ssh.Client) (*sftp.Client, error) {
	return sftp.NewClient(client)
}

// SFTP 返回本会话的 SFTP 通道，首次调用时惰性创建。
// 并发首次调用只会触发一次通道创建，其余调用方等待同一结果。
func (s *Session) SFTP() (*sftp.Client, error) {
	s.mu.Lock()
	if s.sftpCli != nil {
		cli := s.sftpCli
		s.mu.Unlock()
		log.Printf("[SFTP] Reusing existing SFTP channel (host=%s, user=%s)", s.Host, s.User)
		return cli, nil
	}
	s.mu.Unlock()

	v, err, _ := s.flight.Do("sftp", func() (any, error) {
		// singleflight 只合并并发调用，这里再查一次备忘，
		// 避免"前一批已成功、本调用晚到"时重复建通道
		s.mu.Lock()
		if s.sftpCli != nil {
			cli := s.sftpCli
			s.mu.Unlock()
			return cli, nil
		}
		s.mu.Unlock()

		log.Printf("[SFTP] Creating NEW SFTP channel (host=%s, user=%s)", s.Host, s.User)
		start := time.Now()

		cli, err := s.newSFTP(s.client)
		if err != nil {
			return nil, &types.SftpError{Op: "open-channel", Path: "", Err: err}
		}

		s.mu.Lock()
		s.sftpCli = cli
		s.mu.Unlock()

		log.Printf("[SFTP] New channel created in %.2fms", float64(time.Since(start).Microseconds())/1000.0)
		return cli, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sftp.Client), nil
}

// close 释放会话持有的全部资源，只会执行一次
func (s *Session) close() {
	s.closeOnce.Do(func() {
		if s.stopKeep != nil {
			s.stopKeep()
		}
		s.mu.Lock()
		cli := s.sftpCli
		s.sftpCli = nil
		s.mu.Unlock()
		if cli != nil {
			cli.Close()
		}
		if s.client != nil {
			s.client.Close()
		}
	})
}
