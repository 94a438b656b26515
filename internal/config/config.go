package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// 支持的数据库与资产存储驱动。
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	StorageFS    = "fs"
	StorageMinIO = "minio"
)

// Config aggregates application settings sourced from environment variables.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Storage  StorageConfig  `mapstructure:"storage"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Render   RenderConfig   `mapstructure:"render"`
	Assets   AssetsConfig   `mapstructure:"assets"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig 选择数据库驱动：默认本地 SQLite 文件，可切换到 PostgreSQL。
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig 包含 Redis 连接配置。Enabled 为 false 时通知与跨进程锁退化为进程内实现。
type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// Addr 返回 host:port。
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// StorageConfig 选择资产存储后端。
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Root   string `mapstructure:"root"`
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	PublicEndpoint   string `mapstructure:"public_endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	Bucket           string `mapstructure:"bucket"`
	Region           string `mapstructure:"region"`
	BucketLookup     string `mapstructure:"bucket_lookup"`
	AutoCreateBucket bool   `mapstructure:"auto_create_bucket"`
}

// RenderConfig 控制渲染引擎与编辑会话。
type RenderConfig struct {
	StrictConditions bool   `mapstructure:"strict_conditions"`
	HistoryLimit     int    `mapstructure:"history_limit"`
	DefaultDecimals  int    `mapstructure:"default_decimals"`
	BrowserBin       string `mapstructure:"browser_bin"`
}

// AssetsConfig 控制资产上传。ClamdAddr 为空时跳过病毒扫描。
type AssetsConfig struct {
	ClamdAddr string `mapstructure:"clamd_addr"`
	MaxBytes  int64  `mapstructure:"max_bytes"`
}

// WorkerConfig 控制 asynq worker。
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	MetricsPort int `mapstructure:"metrics_port"`
}

// DSN builds a lib/pq compatible connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// Load reads configuration solely from environment variables (with optional defaults).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.allowed_origins", []string{})
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "labreport.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "labreport")
	v.SetDefault("database.user", "labreport")
	v.SetDefault("database.password", "labreport")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("storage.driver", StorageFS)
	v.SetDefault("storage.root", "assets")
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "lab-reports")
	v.SetDefault("minio.bucket_lookup", "auto")
	v.SetDefault("minio.auto_create_bucket", true)
	v.SetDefault("render.strict_conditions", false)
	v.SetDefault("render.history_limit", 50)
	v.SetDefault("render.default_decimals", 2)
	v.SetDefault("assets.max_bytes", 5*1024*1024)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.metrics_port", 9100)
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                 "API_PORT",
		"api.allowed_origins":      "API_ALLOWED_ORIGINS",
		"database.driver":          "DATABASE_DRIVER",
		"database.path":            "DATABASE_PATH",
		"database.host":            "DATABASE_HOST",
		"database.port":            "DATABASE_PORT",
		"database.name":            "POSTGRES_DB",
		"database.user":            "POSTGRES_USER",
		"database.password":        "POSTGRES_PASSWORD",
		"database.sslmode":         "DATABASE_SSLMODE",
		"redis.enabled":            "REDIS_ENABLED",
		"redis.host":               "REDIS_HOST",
		"redis.port":               "REDIS_PORT",
		"storage.driver":           "STORAGE_DRIVER",
		"storage.root":             "STORAGE_ROOT",
		"minio.endpoint":           "MINIO_ENDPOINT",
		"minio.public_endpoint":    "MINIO_PUBLIC_ENDPOINT",
		"minio.access_key_id":      "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":  "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":            "MINIO_USE_SSL",
		"minio.bucket":             "MINIO_BUCKET",
		"minio.region":             "MINIO_REGION",
		"minio.bucket_lookup":      "MINIO_BUCKET_LOOKUP",
		"minio.auto_create_bucket": "MINIO_AUTO_CREATE_BUCKET",
		"render.strict_conditions": "RENDER_STRICT_CONDITIONS",
		"render.history_limit":     "RENDER_HISTORY_LIMIT",
		"render.default_decimals":  "RENDER_DEFAULT_DECIMALS",
		"render.browser_bin":       "RENDER_BROWSER_BIN",
		"assets.clamd_addr":        "CLAMD_ADDR",
		"assets.max_bytes":         "ASSETS_MAX_BYTES",
		"worker.concurrency":       "WORKER_CONCURRENCY",
		"worker.metrics_port":      "WORKER_METRICS_PORT",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}

	switch cfg.Database.Driver {
	case DriverSQLite:
		if cfg.Database.Path == "" {
			return errors.New("database path is required for sqlite")
		}
	case DriverPostgres:
		if cfg.Database.Host == "" {
			return errors.New("database host is required")
		}
		if cfg.Database.Port <= 0 {
			return errors.New("database port must be positive")
		}
		if cfg.Database.Name == "" {
			return errors.New("database name is required")
		}
		if cfg.Database.User == "" {
			return errors.New("database user is required")
		}
		if cfg.Database.SSLMode == "" {
			return errors.New("database sslmode is required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	if cfg.Redis.Enabled {
		if cfg.Redis.Host == "" {
			return errors.New("redis host is required")
		}
		if cfg.Redis.Port <= 0 {
			return errors.New("redis port must be positive")
		}
	}

	switch cfg.Storage.Driver {
	case StorageFS:
		if cfg.Storage.Root == "" {
			return errors.New("storage root is required for fs storage")
		}
	case StorageMinIO:
		if cfg.MinIO.Endpoint == "" {
			return errors.New("minio endpoint is required")
		}
		if cfg.MinIO.AccessKeyID == "" {
			return errors.New("minio access key id is required")
		}
		if cfg.MinIO.SecretAccessKey == "" {
			return errors.New("minio secret access key is required")
		}
		if cfg.MinIO.Bucket == "" {
			return errors.New("minio bucket is required")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}

	if cfg.Render.HistoryLimit <= 0 {
		return errors.New("render history limit must be positive")
	}
	if cfg.Render.DefaultDecimals < 0 {
		return errors.New("render default decimals must not be negative")
	}
	if cfg.Worker.Concurrency <= 0 {
		return errors.New("worker concurrency must be positive")
	}
	return nil
}
