package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"treasury-desk/infrastructure/logger"
)

// HotReloadConfig 热更新配置
type HotReloadConfig struct {
	Enabled      bool          // 是否启用热更新
	CooldownTime time.Duration // 冷却时间，避免编辑器连续写入触发多次
}

// DefaultHotReloadConfig 默认热更新配置
func DefaultHotReloadConfig() HotReloadConfig {
	return HotReloadConfig{
		Enabled:      true,
		CooldownTime: 2 * time.Second,
	}
}

// ReloadHandler 接收重新加载并校验通过的配置
type ReloadHandler func(AppConfig) error

// HotReloader 监听配置文件所在目录，文件变化后重新加载并回调。
// 监听目录而不是文件本身，这样"写临时文件再 rename"的保存方式也能被捕获。
type HotReloader struct {
	config     HotReloadConfig
	configPath string
	watcher    *fsnotify.Watcher
	logger     *logger.Logger
	handlers   []ReloadHandler
	lastReload time.Time
	mu         sync.Mutex
	stopOnce   sync.Once
	stopChan   chan struct{}
	doneChan   chan struct{}
}

// NewHotReloader 创建热更新器
func NewHotReloader(configPath string, cfg HotReloadConfig, log *logger.Logger) (*HotReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}
	abs, err := filepath.Abs(configPath)
	if err != nil {
		abs = configPath
	}
	return &HotReloader{
		config:     cfg,
		configPath: filepath.Clean(abs),
		watcher:    watcher,
		logger:     log,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// OnReload 注册回调，按注册顺序执行
func (h *HotReloader) OnReload(fn ReloadHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers = append(h.handlers, fn)
}

// Start 启动热更新监听
func (h *HotReloader) Start(ctx context.Context) error {
	if !h.config.Enabled {
		close(h.doneChan)
		return nil
	}
	if err := h.watcher.Add(filepath.Dir(h.configPath)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}
	go h.watch(ctx)
	return nil
}

// Stop 停止热更新
func (h *HotReloader) Stop() error {
	h.stopOnce.Do(func() { close(h.stopChan) })

	select {
	case <-h.doneChan:
	case <-time.After(time.Second):
		// watch goroutine 没有启动
	}
	return h.watcher.Close()
}

func (h *HotReloader) watch(ctx context.Context) {
	defer close(h.doneChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != h.configPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				h.handleConfigChange()
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.LogError(err, map[string]interface{}{"action": "config_watch"})
		}
	}
}

// handleConfigChange 处理配置变化；加载或校验失败时保留旧配置。
func (h *HotReloader) handleConfigChange() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.lastReload.IsZero() && time.Since(h.lastReload) < h.config.CooldownTime {
		return
	}

	cfg, err := LoadWithEnvOverrides(h.configPath)
	if err != nil {
		h.logger.LogError(err, map[string]interface{}{"action": "config_reload", "path": h.configPath})
		return
	}
	for _, fn := range h.handlers {
		if err := fn(cfg); err != nil {
			h.logger.LogError(err, map[string]interface{}{"action": "config_apply", "path": h.configPath})
			return
		}
	}
	h.lastReload = time.Now()
	h.logger.LogEvent("config_reloaded", map[string]interface{}{
		"path":      h.configPath,
		"log_level": cfg.Log.Level,
	})
}
