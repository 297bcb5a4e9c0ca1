package utils

import (
	"log"
)

// SafeGo 启动一个 goroutine 并在内部捕获 panic，
// 后台清扫等任务的崩溃只记日志，不能带垮整个进程
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Recovered from panic in goroutine %s: %v", name, r)
			}
		}()
		fn()
	}()
}
