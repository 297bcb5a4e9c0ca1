//go:build dev

package main

// IsDebug 标记开发模式（wails dev 带 -tags dev 编译）
const IsDebug = true
