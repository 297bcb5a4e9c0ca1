package imgcache

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"filedock/backend/pkg/utils"
)

// Evictor 负责缓存目录的后台清扫调度。
// 每个目录同一时刻至多一个清扫在跑；清扫进行中再次调度直接变成 no-op，
// 清扫和前台的缓存写入互不阻塞。
type Evictor struct {
	mu      sync.Mutex
	running map[string]bool
}

// NewEvictor 创建清扫调度器
func NewEvictor() *Evictor {
	return &Evictor{running: make(map[string]bool)}
}

// Schedule 为目录调度一次后台清扫，返回是否真的启动了新清扫
func (e *Evictor) Schedule(dir string, budget int64) bool {
	e.mu.Lock()
	if e.running[dir] {
		e.mu.Unlock()
		return false
	}
	e.running[dir] = true
	e.mu.Unlock()

	utils.SafeGo("cache-sweep", func() {
		defer func() {
			e.mu.Lock()
			delete(e.running, dir)
			e.mu.Unlock()
		}()
		Sweep(dir, budget)
	})
	return true
}

type cacheFile struct {
	path    string
	size    int64
	modTime time.Time
}

// Sweep 同步执行一次清扫：统计目录下普通文件的总大小，
// 超出预算时按修改时间从旧到新删除，直到释放的空间覆盖超出量。
// 单个文件删除失败只记日志并跳过，不会中断整次清扫。
func Sweep(dir string, budget int64) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[CACHE] sweep: failed to read dir %s: %v", dir, err)
		}
		return
	}

	var files []cacheFile
	var total int64
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		// .tmp 是尚未完成的写入，不参与统计和删除
		if strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, cacheFile{
			path:    filepath.Join(dir, entry.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
		total += info.Size()
	}

	if total <= budget {
		return
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	overage := total - budget
	var freed int64
	removed := 0
	for _, f := range files {
		if freed >= overage {
			break
		}
		if err := os.Remove(f.path); err != nil {
			log.Printf("[CACHE] sweep: failed to remove %s: %v", f.path, err)
			continue
		}
		freed += f.size
		removed++
	}
	log.Printf("[CACHE] sweep of %s removed %d files, freed %d bytes (total was %d, budget %d)",
		dir, removed, freed, total, budget)
}

// Clear 删除目录下全部缓存文件（外部清空操作）
func Clear(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			log.Printf("[CACHE] clear: failed to remove %s: %v", entry.Name(), err)
		}
	}
	return nil
}
