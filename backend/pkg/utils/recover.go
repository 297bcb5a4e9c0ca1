package utils

import (
	"log"
)

// Recover 捕获 panic 并记录错误日志，用于 defer
func Recover(name string) {
	if r := recover(); r != nil {
		log.Printf("Recovered from panic in %s: %v", name, r)
	}
}
