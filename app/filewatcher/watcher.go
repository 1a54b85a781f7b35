package filewatcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"autoclip/app/config"
	"autoclip/app/logger"

	"github.com/fsnotify/fsnotify"
)

// 识别为视频的扩展名
var videoExts = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".mov":  true,
	".flv":  true,
	".webm": true,
	".avi":  true,
}

// OnStableFunc 文件写入完成后的回调
type OnStableFunc func(path string)

// pendingFile 等待写入完成的文件
type pendingFile struct {
	size     int64
	lastSeen time.Time
}

// Watcher 收件目录监控器
// 监控目录中新出现的视频文件，文件大小稳定一段时间后视为写入完成并触发回调
type Watcher struct {
	cfg      *config.WatcherConfig
	log      *logger.Logger
	onStable OnStableFunc
	fsw      *fsnotify.Watcher
	pending  map[string]*pendingFile
	mu       sync.Mutex
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New 创建收件目录监控器，未启用时返回 nil
func New(cfg *config.WatcherConfig, log *logger.Logger, onStable OnStableFunc) (*Watcher, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(cfg.Dir); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{
		cfg:      cfg,
		log:      log,
		onStable: onStable,
		fsw:      fsw,
		pending:  make(map[string]*pendingFile),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start 启动监控
func (w *Watcher) Start() {
	if w == nil {
		return
	}

	// 启动时把目录里已有的视频也纳入跟踪
	entries, err := os.ReadDir(w.cfg.Dir)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				w.track(filepath.Join(w.cfg.Dir, e.Name()))
			}
		}
	}

	w.wg.Add(2)
	go w.watchLoop()
	go w.stableLoop()
	w.log.Infof("收件目录监控已启动: %s", w.cfg.Dir)
}

// Stop 停止监控
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	close(w.stopCh)
	w.fsw.Close()
	w.wg.Wait()
	w.log.Info("收件目录监控已停止")
}

// watchLoop 消费文件系统事件
func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.track(event.Name)
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				w.mu.Lock()
				delete(w.pending, event.Name)
				w.mu.Unlock()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Errorf("文件监控错误: %v", err)
		}
	}
}

// track 把文件纳入稳定性跟踪
func (w *Watcher) track(path string) {
	if !videoExts[strings.ToLower(filepath.Ext(path))] {
		return
	}

	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	p, ok := w.pending[path]
	if !ok {
		w.pending[path] = &pendingFile{size: fi.Size(), lastSeen: time.Now()}
		w.log.Infof("发现新视频文件: %s", path)
		return
	}
	if p.size != fi.Size() {
		p.size = fi.Size()
		p.lastSeen = time.Now()
	}
}

// stableLoop 周期性检查文件是否写入完成
func (w *Watcher) stableLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	stableAfter := time.Duration(w.cfg.StableSeconds) * time.Second
	if stableAfter <= 0 {
		stableAfter = 5 * time.Second
	}

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.flushStable(stableAfter)
		}
	}
}

// flushStable 把大小稳定超过阈值的文件交给回调
func (w *Watcher) flushStable(stableAfter time.Duration) {
	var ready []string

	w.mu.Lock()
	for path, p := range w.pending {
		fi, err := os.Stat(path)
		if err != nil {
			delete(w.pending, path)
			continue
		}
		if fi.Size() != p.size {
			p.size = fi.Size()
			p.lastSeen = time.Now()
			continue
		}
		if time.Since(p.lastSeen) >= stableAfter {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		w.log.Infof("视频文件写入完成: %s", path)
		w.onStable(path)
	}
}
