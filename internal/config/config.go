// Package config loads the spares configuration: which database backend is
// active, its connection parameters, admin notification addresses, and
// logging settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/trianglecurling/spares/internal/log"
)

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"

	defaultPostgresPort = 5432
	defaultLogLevel     = "info"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Type        string         `toml:"type"`
	AdminEmails []string       `toml:"admin_emails"`
	SQLite      SQLiteConfig   `toml:"sqlite"`
	Postgres    PostgresConfig `toml:"postgres"`
	Logging     LoggingConfig  `toml:"logging"`
}

type SQLiteConfig struct {
	Path string `toml:"path"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Database string `toml:"database"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	SSL      bool   `toml:"ssl"`
}

type LoggingConfig struct {
	Level     string `toml:"level"`
	File      string `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb"`
	MaxFiles  int    `toml:"max_files"`
}

type LoadOptions struct {
	ConfigPath string
	Env        map[string]string
}

func DefaultConfig() Config {
	return Config{
		Type:        BackendSQLite,
		AdminEmails: []string{},
		Postgres: PostgresConfig{
			Port: defaultPostgresPort,
		},
		Logging: LoggingConfig{
			Level:     defaultLogLevel,
			MaxSizeMB: log.DefaultMaxSizeMB,
			MaxFiles:  log.DefaultMaxFiles,
		},
	}
}

func Load(opts LoadOptions) (Config, error) {
	cfg := DefaultConfig()

	path, err := resolveConfigPath(opts)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}
	if err := loadFile(path, &cfg); err != nil {
		return Config{}, err
	}
	if err := applyEnvOverrides(&cfg, opts); err != nil {
		return Config{}, err
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %q: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: parse TOML file %q: %v", ErrInvalidConfig, path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config, opts LoadOptions) error {
	if value, ok := lookupEnv(opts, "SPARES_DB_TYPE"); ok {
		cfg.Type = value
	}
	if value, ok := lookupEnv(opts, "SPARES_SQLITE_PATH"); ok {
		cfg.SQLite.Path = value
	}

	if value, ok := lookupEnv(opts, "SPARES_PG_HOST"); ok {
		cfg.Postgres.Host = value
	}
	if value, ok := lookupEnv(opts, "SPARES_PG_PORT"); ok {
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse SPARES_PG_PORT: %v", ErrInvalidConfig, err)
		}
		cfg.Postgres.Port = port
	}
	if value, ok := lookupEnv(opts, "SPARES_PG_DATABASE"); ok {
		cfg.Postgres.Database = value
	}
	if value, ok := lookupEnv(opts, "SPARES_PG_USERNAME"); ok {
		cfg.Postgres.Username = value
	}
	if value, ok := lookupEnv(opts, "SPARES_PG_PASSWORD"); ok {
		cfg.Postgres.Password = value
	}
	if value, ok := lookupEnv(opts, "SPARES_PG_SSL"); ok {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: parse SPARES_PG_SSL: %v", ErrInvalidConfig, err)
		}
		cfg.Postgres.SSL = parsed
	}

	if value, ok := lookupEnv(opts, "SPARES_LOG_LEVEL"); ok {
		cfg.Logging.Level = value
	}
	if value, ok := lookupEnv(opts, "SPARES_LOG_FILE"); ok {
		cfg.Logging.File = value
	}

	return nil
}

func validate(cfg Config) error {
	switch cfg.Type {
	case BackendSQLite:
		if cfg.SQLite.Path == "" {
			return fmt.Errorf("%w: sqlite.path is required when type is %q", ErrInvalidConfig, BackendSQLite)
		}
	case BackendPostgres:
		if cfg.Postgres.Host == "" || cfg.Postgres.Database == "" || cfg.Postgres.Username == "" {
			return fmt.Errorf("%w: postgres.host, postgres.database and postgres.username are required when type is %q", ErrInvalidConfig, BackendPostgres)
		}
		if cfg.Postgres.Port <= 0 || cfg.Postgres.Port > 65535 {
			return fmt.Errorf("%w: postgres.port %d out of range", ErrInvalidConfig, cfg.Postgres.Port)
		}
	default:
		return fmt.Errorf("%w: type must be %q or %q, got %q", ErrInvalidConfig, BackendSQLite, BackendPostgres, cfg.Type)
	}

	if cfg.Logging.MaxSizeMB < 0 || cfg.Logging.MaxFiles < 0 {
		return fmt.Errorf("%w: logging sizes must not be negative", ErrInvalidConfig)
	}
	return nil
}

func resolveConfigPath(opts LoadOptions) (string, error) {
	if opts.ConfigPath != "" {
		return opts.ConfigPath, nil
	}
	if value, ok := lookupEnv(opts, "SPARES_CONFIG_PATH"); ok {
		return value, nil
	}
	return defaultConfigPath()
}

func lookupEnv(opts LoadOptions, key string) (string, bool) {
	if opts.Env != nil {
		if value, ok := opts.Env[key]; ok {
			return value, true
		}
	}
	return os.LookupEnv(key)
}

func defaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "Spares", "config.toml"), nil
	}

	configHome := filepath.Join(home, ".config")
	if xdgConfigHome, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && xdgConfigHome != "" {
		configHome = xdgConfigHome
	}
	return filepath.Join(configHome, "spares", "config.toml"), nil
}
