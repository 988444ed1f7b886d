// Package config reads the service configuration from the environment, an optional .env file
// and an optional config.yaml, and builds the logger.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Backends.
const (
	BackendRemote = "remote"
	BackendLocal  = "local"
)

// MySQLConfig for the remote customer table.
type MySQLConfig struct {
	Username string `mapstructure:"dbuser"`
	Password string `mapstructure:"dbpwd"`
	Host     string `mapstructure:"dbhost"`
	Database string `mapstructure:"dbname"`
}

// DSN returns the data source name. Timestamps are parsed into time.Time.
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", c.Username, c.Password, c.Host, c.Database)
}

// Connect opens and pings the database.
func (c MySQLConfig) Connect() (*sqlx.DB, error) {
	return sqlx.Connect("mysql", c.DSN())
}

// Config of the call list service.
type Config struct {
	Port         int    `mapstructure:"port"`
	Backend      string `mapstructure:"backend"`
	SnapshotPath string `mapstructure:"snapshot_path"`
	FilePrefix   string `mapstructure:"file_prefix"`
	LogLevel     string `mapstructure:"log_level"`
	GinLogging   string `mapstructure:"gin_logging"`
	Timezone     string `mapstructure:"timezone"`

	MySQL MySQLConfig `mapstructure:",squash"`
}

var defaults = map[string]any{
	"port":          8080,
	"backend":       BackendLocal,
	"dbuser":        "",
	"dbpwd":         "",
	"dbhost":        "localhost:3306",
	"dbname":        "test",
	"snapshot_path": "calllist.db",
	"file_prefix":   "CallToDie",
	"log_level":     "info",
	"gin_logging":   "on",
	"timezone":      "",
}

// Load reads the configuration. Values from envFile are added to the environment unless the
// variable is already set; a missing envFile is not an error. Environment variables win over
// config.yaml, which wins over the defaults.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("could not read %s: %w", envFile, err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return Config{}, err
		}
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("could not read config file: %w", err)
		}
	}

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return Config{}, fmt.Errorf("could not decode configuration: %w", err)
	}
	conf.Backend = strings.ToLower(strings.TrimSpace(conf.Backend))
	if conf.Backend != BackendRemote && conf.Backend != BackendLocal {
		return Config{}, fmt.Errorf("BACKEND must be %q or %q, got %q", BackendRemote, BackendLocal, conf.Backend)
	}
	if conf.Port <= 0 || conf.Port > 65535 {
		return Config{}, fmt.Errorf("PORT out of range: %d", conf.Port)
	}
	return conf, nil
}

// Addr is the listen address of the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// HTTPLogging reports whether gin should log every request.
func (c Config) HTTPLogging() bool {
	return !strings.EqualFold(c.GinLogging, "off")
}

// Location returns the configured time zone, or the local one.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// NewLogger builds a production zap logger at the given level.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	conf := zap.NewProductionConfig()
	conf.Level = zap.NewAtomicLevelAt(lvl)
	return conf.Build()
}
