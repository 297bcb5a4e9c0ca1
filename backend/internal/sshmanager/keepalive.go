package sshmanager

import (
	"context"
	"log"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	// SSHKeepAliveInterval is the interval for sending SSH keep-alive messages.
	SSHKeepAliveInterval = 15 * time.Second
	// keepAliveRequestTimeout is the timeout for the keep-alive request itself.
	// It must be shorter than SSHKeepAliveInterval.
	keepAliveRequestTimeout = 10 * time.Second
)

// StartKeepAlive 周期性向服务端发送 keep-alive 请求，主动探测失效连接。
// 请求失败或超时都会关闭底层连接（半开连接上 SendRequest 可能永远阻塞，
// 所以请求本身也要带超时）。应在独立 goroutine 中运行，ctx 取消后退出。
func StartKeepAlive(ctx context.Context, client *ssh.Client) {
	ticker := time.NewTicker(SSHKeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			errC := make(chan error, 1)
			go func() {
				_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
				errC <- err
			}()

			select {
			case err := <-errC:
				if err != nil {
					log.Printf("[SSH] keep-alive for %s failed: %v. Closing connection.", client.RemoteAddr(), err)
					client.Close()
					return
				}
			case <-time.After(keepAliveRequestTimeout):
				log.Printf("[SSH] keep-alive for %s timed out after %s. Closing connection.", client.RemoteAddr(), keepAliveRequestTimeout)
				client.Close()
				return
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
