package container

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"treasury-desk/config"
	"treasury-desk/curve"
	"treasury-desk/gateway"
	"treasury-desk/infrastructure/alert"
	"treasury-desk/infrastructure/logger"
	"treasury-desk/infrastructure/monitor"
	"treasury-desk/internal/clock"
	"treasury-desk/internal/httpapi"
	"treasury-desk/internal/store"
	"treasury-desk/order"
)

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg        *config.AppConfig
	configPath string

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	alerts  *alert.Manager
	clock   clock.Clock

	// 存储
	curveRepo curve.Repository
	orderRepo order.Repository
	storage   *storeComponent

	// 上游与核心服务
	fetcher gateway.Fetcher
	breaker *gateway.Breaker
	cache   *curve.Cache
	engine  *order.Engine
	manager *order.Manager

	// 对外接口
	hub       *httpapi.Hub
	apiServer *httpServerComponent

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 创建新的Container实例
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	c := NewWithConfig(cfg)
	c.configPath = configPath
	return c, nil
}

// NewWithConfig 使用已加载的配置创建容器，不启用热更新。
func NewWithConfig(cfg config.AppConfig) *Container {
	return &Container{
		cfg:       &cfg,
		clock:     clock.System,
		lifecycle: NewLifecycleManager(),
	}
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}

	if err := c.buildStore(); err != nil {
		return fmt.Errorf("build store failed: %w", err)
	}

	c.buildCurve()
	c.buildOrders()

	if err := c.registerLifecycleComponents(); err != nil {
		return fmt.Errorf("register lifecycle failed: %w", err)
	}
	c.logger.Info("container built successfully")
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	c.monitor = monitor.New(monitor.DefaultConfig())

	channels := []alert.Channel{alert.NewLogChannel("log", c.logger)}
	if c.cfg.Alert.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookChannel("webhook", c.cfg.Alert.WebhookURL, nil))
	}
	c.alerts = alert.NewManager(channels, c.cfg.Alert.Throttle)
	c.hub = httpapi.NewHub(c.logger, c.monitor)

	c.logger.Info("infrastructure built")
	return nil
}

func (c *Container) buildStore() error {
	db := c.cfg.Database
	switch db.Driver {
	case "postgres":
		pg, err := store.OpenPostgres(store.PostgresOption{
			DSN:             db.DSN,
			Host:            db.Host,
			Port:            db.Port,
			User:            db.User,
			Password:        db.Password,
			Database:        db.Name,
			SSLMode:         db.SSLMode,
			Params:          db.Params,
			MaxOpenConns:    db.MaxOpenConns,
			MaxIdleConns:    db.MaxIdleConns,
			ConnMaxLifetime: db.ConnMaxLifetime,
			AutoMigrate:     db.AutoMigrate,
		})
		if err != nil {
			return err
		}
		c.curveRepo, c.orderRepo = pg, pg
		c.storage = &storeComponent{ping: pg.Ping, close: pg.Close}
	default:
		mem := store.NewMemory(func(event string, fields map[string]interface{}) {
			c.logger.Debug(event, zap.Any("fields", fields))
		})
		c.curveRepo, c.orderRepo = mem, mem
		c.storage = &storeComponent{}
	}

	c.logger.Info(fmt.Sprintf("store built (%s)", db.Driver))
	return nil
}

func (c *Container) buildCurve() {
	t := c.cfg.Treasury
	retrying := &gateway.RetryingFetcher{
		Client:      gateway.NewDefaultHTTPClient(),
		MaxAttempts: t.MaxAttempts,
		Timeout:     t.Timeout,
		BackoffBase: t.BackoffBase,
		JitterMax:   t.JitterMax,
		UserAgent:   t.UserAgent,
		Monitor:     c.monitor,
		Logger:      c.logger,
	}
	if t.RateLimit > 0 {
		retrying.Limiter = gateway.NewTokenBucketLimiter(t.RateLimit, t.RateBurst)
	}
	c.fetcher = retrying
	if t.BreakerThreshold > 0 {
		c.breaker = gateway.NewBreaker(gateway.BreakerConfig{
			Threshold:     t.BreakerThreshold,
			Cooldown:      t.BreakerCooldown,
			OnStateChange: c.onBreakerChange,
		})
		c.fetcher = &gateway.BreakerFetcher{Next: retrying, Breaker: c.breaker}
	}

	ingestor := &curve.Ingestor{
		Fetcher: c.fetcher,
		BaseURL: t.BaseURL,
		Clock:   c.clock,
		Logger:  c.logger,
		Monitor: c.monitor,
		Alerts:  c.alerts,
	}
	c.cache = curve.NewCache(c.curveRepo, ingestor, curve.CacheOptions{
		MemoTTL:     c.cfg.Curve.MemoTTL,
		WarmWorkers: c.cfg.Curve.WarmWorkers,
		Clock:       c.clock,
		Logger:      c.logger,
		Monitor:     c.monitor,
	})

	c.logger.Info("curve services built")
}

// onBreakerChange 熔断打开时告警，恢复时通知
func (c *Container) onBreakerChange(from, to gateway.State) {
	c.monitor.SetBreakerState(int(to))
	fields := map[string]interface{}{"from": from.String(), "to": to.String()}
	switch to {
	case gateway.StateOpen:
		_ = c.alerts.SendError("upstream circuit open", fields)
	case gateway.StateClosed:
		_ = c.alerts.SendInfo("upstream circuit closed", fields)
	}
}

func (c *Container) buildOrders() {
	c.engine = order.NewEngine(c.cache, c.orderRepo, order.EngineConfig{
		Clock:   c.clock,
		Logger:  c.logger,
		Monitor: c.monitor,
		Sink:    c.hub.Publish,
	})
	c.manager = order.NewManager(c.orderRepo, c.engine, order.ManagerConfig{
		Clock:   c.clock,
		Logger:  c.logger,
		Monitor: c.monitor,
		Sink:    c.hub.Publish,
	})

	c.logger.Info("order services built")
}

func (c *Container) registerLifecycleComponents() error {
	c.lifecycle.Register(c.storage)
	c.lifecycle.Register(&hubComponent{hub: c.hub})

	api := httpapi.NewServer(httpapi.Deps{
		Curves:         c.cache,
		Orders:         c.manager,
		Hub:            c.hub,
		Clock:          c.clock,
		Logger:         c.logger,
		Monitor:        c.monitor,
		Health:         func(context.Context) error { return c.HealthCheck() },
		RequestTimeout: c.cfg.Server.WriteTimeout,
	})
	c.apiServer = &httpServerComponent{
		name:    "api_server",
		handler: api.Router(),
		cfg:     c.cfg.Server,
		logger:  c.logger,
	}
	c.lifecycle.Register(c.apiServer)

	if c.configPath != "" {
		reloader, err := config.NewHotReloader(c.configPath, config.DefaultHotReloadConfig(), c.logger)
		if err != nil {
			return err
		}
		reloader.OnReload(c.applyReload)
		c.lifecycle.Register(&reloaderComponent{reloader: reloader})
	}
	return nil
}

// applyReload 只热更新日志级别；其余字段需要重启生效。
func (c *Container) applyReload(cfg config.AppConfig) error {
	if err := c.logger.SetLevel(cfg.Log.Level); err != nil {
		return err
	}
	c.cfg.Log.Level = cfg.Log.Level
	return nil
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	// 非 systemd 环境下 SdNotify 返回 (false, nil)
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "sd_notify_ready"})
	}
	c.logger.Info("container started")
	return nil
}

func (c *Container) Stop() error {
	c.logger.Info("stopping container...")
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "sd_notify_stopping"})
	}

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}

	if c.logger != nil {
		_ = c.logger.Close()
	}
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// Config 返回当前配置副本
func (c *Container) Config() config.AppConfig { return *c.cfg }

func (c *Container) Logger() *logger.Logger { return c.logger }

// Curves 曲线缓存，CLI 的 curve/warm 子命令直接使用。
func (c *Container) Curves() *curve.Cache { return c.cache }

func (c *Container) Orders() *order.Manager { return c.manager }

// APIAddr 返回 API 实际监听地址，启动前为空。
func (c *Container) APIAddr() string {
	if c.apiServer == nil {
		return ""
	}
	return c.apiServer.Addr()
}
