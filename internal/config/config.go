package config

import (
	"fmt"
	"strings"
	"time"

	"docvault/internal/service/s3"

	"github.com/spf13/viper"
)

const (
	envPrefix = "DOCVAULT"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	S3        s3.Config
	Upload    UploadConfig
	Sharing   SharingConfig
	Log       LogConfig
	Cleanup   CleanupConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port     string
	GRPCPort string
}

type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	// Path используется только драйвером sqlite
	Path string
}

// UploadConfig: MaxBulkFiles ограничивает число файлов в одном пакетном запросе
type UploadConfig struct {
	Workers      int
	MaxFileSize  int64
	MaxBulkFiles int
	SignedURLTTL time.Duration
}

// SharingConfig включает проверку read/write прав. Право delete проверяется всегда.
type SharingConfig struct {
	Enforce bool
}

type LogConfig struct {
	Level string
}

type CleanupConfig struct {
	Schedule    string
	OrphanGrace time.Duration
}

// RateLimitConfig ограничивает число запросов на пользователя. Ноль отключает лимит.
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// NewViper возвращает экземпляр viper с дефолтами и привязкой к окружению
func NewViper() *viper.Viper {
	v := viper.New()
	ApplyDefaults(v)
	return v
}

// ApplyDefaults задает значения по умолчанию и переменные окружения DOCVAULT_*.
// Ключ s3.bucket читается из DOCVAULT_S3_BUCKET.
func ApplyDefaults(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.http_port", "2525")
	v.SetDefault("server.grpc_port", "50051")

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "docvault")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "docvault.db")

	v.SetDefault("s3.use_path_style", false)
	v.SetDefault("s3.request_timeout", 30*time.Second)

	v.SetDefault("upload.workers", 8)
	v.SetDefault("upload.max_file_size", int64(100<<20))
	v.SetDefault("upload.max_bulk_files", 50)
	v.SetDefault("upload.signed_url_ttl", time.Hour)

	v.SetDefault("sharing.enforce", false)
	v.SetDefault("log.level", "info")

	v.SetDefault("cleanup.schedule", "@every 1h")
	v.SetDefault("cleanup.orphan_grace", 24*time.Hour)

	v.SetDefault("ratelimit.requests_per_minute", 120)
	v.SetDefault("ratelimit.burst", 20)
}

// Load собирает конфигурацию из viper и проверяет обязательные поля
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("server.http_port"),
			GRPCPort: v.GetString("server.grpc_port"),
		},
		Database: loadDatabase(v),
		S3: s3.Config{
			Region:          v.GetString("s3.region"),
			Bucket:          v.GetString("s3.bucket"),
			AccessKeyID:     v.GetString("s3.access_key_id"),
			SecretAccessKey: v.GetString("s3.secret_access_key"),
			Endpoint:        v.GetString("s3.endpoint"),
			UsePathStyle:    v.GetBool("s3.use_path_style"),
			RequestTimeout:  v.GetDuration("s3.request_timeout"),
		},
		Upload: UploadConfig{
			Workers:      v.GetInt("upload.workers"),
			MaxFileSize:  v.GetInt64("upload.max_file_size"),
			MaxBulkFiles: v.GetInt("upload.max_bulk_files"),
			SignedURLTTL: v.GetDuration("upload.signed_url_ttl"),
		},
		Sharing: SharingConfig{
			Enforce: v.GetBool("sharing.enforce"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
		},
		Cleanup: CleanupConfig{
			Schedule:    v.GetString("cleanup.schedule"),
			OrphanGrace: v.GetDuration("cleanup.orphan_grace"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: v.GetInt("ratelimit.requests_per_minute"),
			Burst:             v.GetInt("ratelimit.burst"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase читает только настройки базы; используется командой migrate
func LoadDatabase(v *viper.Viper) (*DatabaseConfig, error) {
	db := loadDatabase(v)
	if err := db.validate(); err != nil {
		return nil, err
	}
	return &db, nil
}

func loadDatabase(v *viper.Viper) DatabaseConfig {
	return DatabaseConfig{
		Driver:   strings.ToLower(v.GetString("database.driver")),
		Host:     v.GetString("database.host"),
		Port:     v.GetString("database.port"),
		User:     v.GetString("database.user"),
		Password: v.GetString("database.password"),
		Name:     v.GetString("database.name"),
		SSLMode:  v.GetString("database.sslmode"),
		Path:     v.GetString("database.path"),
	}
}

func (c *Config) validate() error {
	if err := c.Database.validate(); err != nil {
		return err
	}
	if err := c.S3.Validate(); err != nil {
		return fmt.Errorf("s3 configuration is incomplete: %w", err)
	}
	if c.Upload.Workers <= 0 {
		return fmt.Errorf("upload.workers must be positive, got %d", c.Upload.Workers)
	}
	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("upload.max_file_size must be positive")
	}
	if c.Upload.MaxBulkFiles <= 0 {
		return fmt.Errorf("upload.max_bulk_files must be positive, got %d", c.Upload.MaxBulkFiles)
	}
	if c.Upload.SignedURLTTL <= 0 {
		return fmt.Errorf("upload.signed_url_ttl must be positive")
	}
	if c.Cleanup.OrphanGrace < 0 {
		return fmt.Errorf("cleanup.orphan_grace must not be negative")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("ratelimit values must not be negative")
	}
	return nil
}

func (c *DatabaseConfig) validate() error {
	switch c.Driver {
	case DriverPostgres:
		if c.Host == "" || c.Port == "" || c.User == "" || c.Name == "" {
			return fmt.Errorf("database configuration is incomplete: host=%s, port=%s, user=%s, name=%s",
				c.Host, c.Port, c.User, c.Name)
		}
	case DriverSQLite:
		if strings.TrimSpace(c.Path) == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Driver)
	}
	return nil
}

// GetDSN возвращает строку подключения для выбранного драйвера
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == DriverSQLite {
		return c.Path
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}
