package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MinSecretLength is the minimum length accepted for every configured secret.
const MinSecretLength = 32

type ServerConfig struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
	Mode    string `mapstructure:"mode"` // debug / release / test
}

// Production reports whether cookies must be marked Secure.
func (s ServerConfig) Production() bool {
	return s.Mode == "release"
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // sqlite / postgres
	DSN          string `mapstructure:"dsn"`
	LogMode      bool   `mapstructure:"log_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type SecurityConfig struct {
	AccessTokenSecret  string        `mapstructure:"access_token_secret"`
	RefreshTokenSecret string        `mapstructure:"refresh_token_secret"`
	SessionSecret      string        `mapstructure:"session_secret"`
	CSRFSecret         string        `mapstructure:"csrf_secret"`
	EncryptionKey      string        `mapstructure:"encryption_key"`
	BcryptCost         int           `mapstructure:"bcrypt_cost"`
	AccessTokenTTL     time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL    time.Duration `mapstructure:"refresh_token_ttl"`
}

type SessionConfig struct {
	CookieName    string        `mapstructure:"cookie_name"`
	MaxAge        time.Duration `mapstructure:"max_age"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type RateLimitConfig struct {
	Window      time.Duration `mapstructure:"window"`
	MaxRequests int           `mapstructure:"max_requests"`
	LoginMax    int           `mapstructure:"login_max"`
}

type UploadConfig struct {
	Dir              string   `mapstructure:"dir"`
	AllowedMimeTypes []string `mapstructure:"allowed_mime_types"`
	MaxFileSize      int64    `mapstructure:"max_file_size"`
}

type BackupConfig struct {
	Dir        string        `mapstructure:"dir"`
	Interval   time.Duration `mapstructure:"interval"`
	MaxBackups int           `mapstructure:"max_backups"`
	Enabled    bool          `mapstructure:"enabled"`
}

type LogConfig struct {
	Format string `mapstructure:"format"` // text / json
	Level  string `mapstructure:"level"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"` // empty keeps rate-limit counters in memory
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AdminConfig seeds an administrator on first start when both fields are set.
type AdminConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Security  SecurityConfig  `mapstructure:"security"`
	Session   SessionConfig   `mapstructure:"session"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Backup    BackupConfig    `mapstructure:"backup"`
	Log       LogConfig       `mapstructure:"log"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Admin     AdminConfig     `mapstructure:"admin"`
}

// DefaultAllowedMimeTypes are the upload types accepted when none are configured.
var DefaultAllowedMimeTypes = []string{
	"image/jpeg",
	"image/jpg",
	"image/png",
	"image/gif",
	"image/webp",
	"application/pdf",
	"text/csv",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.mode", "debug")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/ledger.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("security.bcrypt_cost", 12)
	v.SetDefault("security.access_token_ttl", 15*time.Minute)
	v.SetDefault("security.refresh_token_ttl", 7*24*time.Hour)

	v.SetDefault("session.cookie_name", "sid")
	v.SetDefault("session.max_age", 7*24*time.Hour)
	v.SetDefault("session.sweep_interval", time.Hour)

	v.SetDefault("rate_limit.window", 15*time.Minute)
	v.SetDefault("rate_limit.max_requests", 100)
	v.SetDefault("rate_limit.login_max", 5)

	v.SetDefault("upload.dir", "./uploads")
	v.SetDefault("upload.allowed_mime_types", DefaultAllowedMimeTypes)
	v.SetDefault("upload.max_file_size", 5*1024*1024)

	v.SetDefault("backup.dir", "./backups")
	v.SetDefault("backup.interval", 24*time.Hour)
	v.SetDefault("backup.max_backups", 10)
	v.SetDefault("backup.enabled", true)

	v.SetDefault("log.format", "text")
	v.SetDefault("log.level", "info")
}

// Load reads configuration from the given file (optional) and LEDGER_* environment
// variables, e.g. LEDGER_SECURITY_SESSION_SECRET. The result is not validated;
// call Validate before starting any component.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range []string{
		"security.access_token_secret",
		"security.refresh_token_secret",
		"security.session_secret",
		"security.csrf_secret",
		"security.encryption_key",
		"redis.addr",
		"redis.password",
		"admin.username",
		"admin.password",
	} {
		_ = v.BindEnv(key)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

// FieldProblem describes one invalid configuration field.
type FieldProblem struct {
	Field  string
	Reason string
}

// ValidationError lists every configuration problem found by Validate.
type ValidationError struct {
	Problems []FieldProblem
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Field+": "+p.Reason)
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// Validate checks required secrets and numeric limits. All problems are
// reported at once so an operator can fix the environment in one pass.
func (c *Config) Validate() error {
	var problems []FieldProblem

	secrets := []struct {
		field string
		value string
	}{
		{"security.access_token_secret", c.Security.AccessTokenSecret},
		{"security.refresh_token_secret", c.Security.RefreshTokenSecret},
		{"security.session_secret", c.Security.SessionSecret},
		{"security.encryption_key", c.Security.EncryptionKey},
	}
	for _, s := range secrets {
		switch {
		case s.value == "":
			problems = append(problems, FieldProblem{s.field, "is required"})
		case len(s.value) < MinSecretLength:
			problems = append(problems, FieldProblem{s.field,
				fmt.Sprintf("must be at least %d characters (got %d)", MinSecretLength, len(s.value))})
		}
	}
	if c.Security.CSRFSecret != "" && len(c.Security.CSRFSecret) < MinSecretLength {
		problems = append(problems, FieldProblem{"security.csrf_secret",
			fmt.Sprintf("must be at least %d characters (got %d)", MinSecretLength, len(c.Security.CSRFSecret))})
	}

	if c.RateLimit.Window <= 0 {
		problems = append(problems, FieldProblem{"rate_limit.window", "must be > 0"})
	}
	if c.RateLimit.MaxRequests <= 0 {
		problems = append(problems, FieldProblem{"rate_limit.max_requests", "must be > 0"})
	}
	if c.RateLimit.LoginMax <= 0 {
		problems = append(problems, FieldProblem{"rate_limit.login_max", "must be > 0"})
	}
	if c.Upload.MaxFileSize <= 0 {
		problems = append(problems, FieldProblem{"upload.max_file_size", "must be > 0"})
	}
	if len(c.Upload.AllowedMimeTypes) == 0 {
		problems = append(problems, FieldProblem{"upload.allowed_mime_types", "must not be empty"})
	}
	if c.Backup.MaxBackups <= 0 {
		problems = append(problems, FieldProblem{"backup.max_backups", "must be > 0"})
	}
	if c.Backup.Enabled && c.Backup.Interval <= 0 {
		problems = append(problems, FieldProblem{"backup.interval", "must be > 0"})
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
