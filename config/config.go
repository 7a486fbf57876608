/*
Package config loads process configuration from the environment.

PURPOSE:
  One Config struct parsed with caarlos0/env after optional .env and
  .env.local files are loaded with godotenv. Validate rejects values the
  engine cannot run with. Logger builds the process logrus logger.

VARIABLES:
  PORT                    HTTP port (8080)
  DB_DRIVER               sqlite | postgres | memory (sqlite)
  SQLITE_PATH             SQLite file, ":memory:" allowed (afectaciones.db)
  DATABASE_URL            Postgres DSN, required for DB_DRIVER=postgres
  LOG_LEVEL               silent | error | warn | info | debug (info)
  LOG_FORMAT              text | json (text)
  REQUEST_TIMEOUT         Per-request deadline (15s)
  REGISTRAR_TIMEOUT       Registration deadline when the caller has none (5s)
  VERIFY_ATTEMPTS         Verification reads per registration (3)
  VERIFY_BACKOFF          Base delay between verification reads (50ms)
  DASHBOARD_CONCURRENCY   Parallel unit reads per tablero (8)
  MONITOR_ENABLED         Stale open-period monitor (true)
  MONITOR_INTERVAL        Monitor check interval (1h)
  PROMETHEUS_ENABLED      Expose metrics (true)
  PROMETHEUS_PATH         Metrics route (/metrics)
  OTEL_ENABLED            Export traces over OTLP/HTTP (false)
  OTEL_ENDPOINT           OTLP collector host:port (localhost:4318)
  OTEL_SERVICE_NAME       Service name on spans (afectaciones-engine)
  CORS_ORIGINS            Comma-separated allowed origins
  APP_NAME                appName recorded when a request names none (afectaciones-cli)
*/
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// DefaultEnvFiles are loaded, when present, before parsing.
var DefaultEnvFiles = []string{".env", ".env.local"}

type DatabaseOptions struct {
	Driver     string `env:"DB_DRIVER" envDefault:"sqlite"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"afectaciones.db"`
	URL        string `env:"DATABASE_URL"`
}

type EngineOptions struct {
	RegistrarTimeout     time.Duration `env:"REGISTRAR_TIMEOUT" envDefault:"5s"`
	VerifyAttempts       int           `env:"VERIFY_ATTEMPTS" envDefault:"3"`
	VerifyBackoff        time.Duration `env:"VERIFY_BACKOFF" envDefault:"50ms"`
	DashboardConcurrency int           `env:"DASHBOARD_CONCURRENCY" envDefault:"8"`
}

type MonitorOptions struct {
	Enabled  bool          `env:"MONITOR_ENABLED" envDefault:"true"`
	Interval time.Duration `env:"MONITOR_INTERVAL" envDefault:"1h"`
}

type PrometheusOptions struct {
	Enabled bool   `env:"PROMETHEUS_ENABLED" envDefault:"true"`
	Path    string `env:"PROMETHEUS_PATH" envDefault:"/metrics"`
}

type OpenTelemetryOptions struct {
	Enabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	Endpoint    string `env:"OTEL_ENDPOINT" envDefault:"localhost:4318"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"afectaciones-engine"`
}

type Config struct {
	Database      DatabaseOptions
	Engine        EngineOptions
	Monitor       MonitorOptions
	Prometheus    PrometheusOptions
	OpenTelemetry OpenTelemetryOptions

	Port           int           `env:"PORT" envDefault:"8080"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat      string        `env:"LOG_FORMAT" envDefault:"text"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	CORSOrigins    []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173,http://localhost:8080"`
	AppName        string        `env:"APP_NAME" envDefault:"afectaciones-cli"`
}

// Load reads the given env files (missing ones are skipped) and parses the
// process environment.
func Load(envFiles ...string) (*Config, error) {
	existing := make([]string, 0, len(envFiles))
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return nil, fmt.Errorf("failed to load env files: %w", err)
		}
	}
	return parse(env.Options{})
}

// FromMap parses cfg from vars instead of the process environment.
func FromMap(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	c := &Config{}
	if err := env.ParseWithOptions(c, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when DB_DRIVER is %q", DriverSQLite)
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER is %q", DriverPostgres)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("DB_DRIVER must be one of sqlite, postgres, memory, got %q", c.Database.Driver)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.Engine.VerifyAttempts < 1 {
		return fmt.Errorf("VERIFY_ATTEMPTS must be at least 1, got %d", c.Engine.VerifyAttempts)
	}
	if c.Engine.VerifyBackoff < 0 || c.Engine.RegistrarTimeout <= 0 || c.RequestTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.Engine.DashboardConcurrency < 1 {
		return fmt.Errorf("DASHBOARD_CONCURRENCY must be at least 1, got %d", c.Engine.DashboardConcurrency)
	}
	if c.Monitor.Enabled && c.Monitor.Interval <= 0 {
		return fmt.Errorf("MONITOR_INTERVAL must be positive when the monitor is enabled")
	}
	if c.Prometheus.Enabled && !strings.HasPrefix(c.Prometheus.Path, "/") {
		return fmt.Errorf("PROMETHEUS_PATH must start with '/', got %q", c.Prometheus.Path)
	}
	if _, err := c.LogrusLevel(); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

func (c *Config) LogrusLevel() (logrus.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "silent":
		return logrus.PanicLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("unknown LOG_LEVEL %q", c.LogLevel)
	}
}

// Logger builds the process logger.
func (c *Config) Logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	level, _ := c.LogrusLevel()
	logger.SetLevel(level)
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }
