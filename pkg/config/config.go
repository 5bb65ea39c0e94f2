package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds the configuration for the upload server
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// UploadConfig holds the resumable upload protocol settings
type UploadConfig struct {
	Prefix        string        `mapstructure:"prefix"`
	MaxSize       int64         `mapstructure:"max_size"`
	DaysToKeep    int           `mapstructure:"days_to_keep"`
	FragmentSize  int           `mapstructure:"fragment_size"`
	LockBackend   string        `mapstructure:"lock_backend"` // memory, redis
	LockTimeout   time.Duration `mapstructure:"lock_timeout"`
	HookTimeout   time.Duration `mapstructure:"hook_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// Retention returns how long a session is kept after its first chunk
func (u *UploadConfig) Retention() time.Duration {
	return time.Duration(u.DaysToKeep) * 24 * time.Hour
}

// StorageConfig holds blob and session record storage configuration
type StorageConfig struct {
	Type          string `mapstructure:"type"` // local
	LocalPath     string `mapstructure:"local_path"`
	RecordBackend string `mapstructure:"record_backend"` // sidecar, redis, database
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // postgres, sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	Path     string `mapstructure:"path"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// AuthConfig holds the settings of the built-in request authorizer.
// With neither a secret nor a key hash every request is allowed.
type AuthConfig struct {
	JWTSecret  string `mapstructure:"jwt_secret"`
	APIKeyHash string `mapstructure:"api_key_hash"`
}

// NotifyConfig selects completion notifiers
type NotifyConfig struct {
	RedisChannel string `mapstructure:"redis_channel"`
	Database     bool   `mapstructure:"database"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, console
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 0)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	v.SetDefault("upload.prefix", "files")
	v.SetDefault("upload.max_size", int64(128849018880))
	v.SetDefault("upload.days_to_keep", 5)
	v.SetDefault("upload.fragment_size", 4<<20)
	v.SetDefault("upload.lock_backend", "memory")
	v.SetDefault("upload.lock_timeout", 5*time.Second)
	v.SetDefault("upload.hook_timeout", 30*time.Second)
	v.SetDefault("upload.sweep_interval", time.Hour)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "/tmp/files")
	v.SetDefault("storage.record_backend", "sidecar")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "tusgate")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.dbname", "tusgate")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "tusgate.db")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "tus:")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.api_key_hash", "")

	v.SetDefault("notify.redis_channel", "")
	v.SetDefault("notify.database", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load reads configuration from defaults, an optional YAML file and
// TUS_ prefixed environment variables, in increasing precedence.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	if c.Upload.MaxSize <= 0 {
		return fmt.Errorf("upload.max_size must be positive")
	}
	if c.Upload.DaysToKeep <= 0 {
		return fmt.Errorf("upload.days_to_keep must be positive")
	}
	if c.Upload.FragmentSize <= 0 {
		return fmt.Errorf("upload.fragment_size must be positive")
	}
	if c.Storage.LocalPath == "" {
		return fmt.Errorf("storage.local_path is required")
	}
	return nil
}

// DatabaseURL returns a PostgreSQL connection string
func (d *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// RedisAddr returns the Redis address
func (r *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// SetupLogging configures the global zerolog logger
func (l *LoggingConfig) SetupLogging() {
	level, err := zerolog.ParseLevel(l.Level)
	if err != nil || l.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if l.Format == "console" || l.Format == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
