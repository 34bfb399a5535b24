package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"treasury-desk/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env      string         `yaml:"env"`
	Treasury TreasuryConfig `yaml:"treasury"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Log      logger.Config  `yaml:"log"`
	Curve    CurveConfig    `yaml:"curve"`
	Alert    AlertConfig    `yaml:"alert"`
}

// TreasuryConfig 上游收益率 feed 的抓取参数。
type TreasuryConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	Timeout     time.Duration `yaml:"timeout"` // 单次尝试超时
	MaxAttempts int           `yaml:"maxAttempts"`
	BackoffBase time.Duration `yaml:"backoffBase"`
	JitterMax   time.Duration `yaml:"jitterMax"`
	RateLimit   float64       `yaml:"rateLimit"` // 每秒请求数，0 表示不限速
	RateBurst   int           `yaml:"rateBurst"`
	UserAgent   string        `yaml:"userAgent"`
	// 连续 BreakerThreshold 次抓取失败后熔断 BreakerCooldown，0 表示关闭熔断
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerCooldown  time.Duration `yaml:"breakerCooldown"`
}

// DatabaseConfig 存储配置。driver: memory | postgres
type DatabaseConfig struct {
	Driver          string            `yaml:"driver"`
	DSN             string            `yaml:"dsn"`
	Host            string            `yaml:"host"`
	Port            int               `yaml:"port"`
	User            string            `yaml:"user"`
	Password        string            `yaml:"password"`
	Name            string            `yaml:"name"`
	SSLMode         string            `yaml:"sslMode"`
	Params          map[string]string `yaml:"params"`
	MaxOpenConns    int               `yaml:"maxOpenConns"`
	MaxIdleConns    int               `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration     `yaml:"connMaxLifetime"`
	AutoMigrate     bool              `yaml:"autoMigrate"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type CurveConfig struct {
	MemoTTL     time.Duration `yaml:"memoTTL"`
	WarmWorkers int           `yaml:"warmWorkers"`
}

// AlertConfig 告警通道。日志通道总是开启，WebhookURL 为空时不发 webhook。
type AlertConfig struct {
	WebhookURL string        `yaml:"webhookURL"`
	Throttle   time.Duration `yaml:"throttle"`
}

// Default returns a config that runs locally with the in-memory store.
func Default() AppConfig {
	return AppConfig{
		Env: "dev",
		Treasury: TreasuryConfig{
			Timeout:     20 * time.Second,
			MaxAttempts: 4,
			BackoffBase: 500 * time.Millisecond,
			JitterMax:   200 * time.Millisecond,
			RateBurst:   1,
			UserAgent:   "treasury-desk/1.0",

			BreakerThreshold: 5,
			BreakerCooldown:  time.Minute,
		},
		Database: DatabaseConfig{
			Driver:      "memory",
			AutoMigrate: true,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    90 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: logger.DefaultConfig(),
		Curve: CurveConfig{
			MemoTTL:     time.Hour,
			WarmWorkers: 4,
		},
		Alert: AlertConfig{
			Throttle: 5 * time.Minute,
		},
	}
}

// Load reads YAML config from path over Default() and applies validation.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads a .env file next to path (if any), then the
// YAML, then overrides deployment-specific fields from TD_* env vars.
// Variables already set in the environment win over .env.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("load %s: %w", envPath, err)
	}

	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	applyEnv(&cfg)
	return cfg, Validate(cfg)
}

func applyEnv(cfg *AppConfig) {
	if v := os.Getenv("TD_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
		if cfg.Database.Driver == "memory" {
			cfg.Database.Driver = "postgres"
		}
	}
	if v := os.Getenv("TD_DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("TD_TREASURY_BASE_URL"); v != "" {
		cfg.Treasury.BaseURL = v
	}
	if v := os.Getenv("TD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TD_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("TD_ALERT_WEBHOOK_URL"); v != "" {
		cfg.Alert.WebhookURL = v
	}
}
