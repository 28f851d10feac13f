package config

import (
	"errors"
	"io/fs"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DateLayout is the format of source.start_date.
const DateLayout = "2006-01-02"

// Config holds the full application configuration.
type Config struct {
	Source     SourceConfig     `yaml:"source" mapstructure:"source"`
	Normalize  NormalizeConfig  `yaml:"normalize" mapstructure:"normalize"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// SourceConfig configures discovery and download of bulletins.
type SourceConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	OutDir            string  `yaml:"out_dir" mapstructure:"out_dir"`
	StartDate         string  `yaml:"start_date" mapstructure:"start_date"`
	FilePattern       string  `yaml:"file_pattern" mapstructure:"file_pattern"`
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	Concurrency       int     `yaml:"concurrency" mapstructure:"concurrency"`
	MaxPages          int     `yaml:"max_pages" mapstructure:"max_pages"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// Cutoff parses StartDate as a UTC date.
func (c SourceConfig) Cutoff() (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(c.StartDate))
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "config: invalid source.start_date %q", c.StartDate)
	}
	return t, nil
}

// Pattern compiles FilePattern.
func (c SourceConfig) Pattern() (*regexp.Regexp, error) {
	re, err := regexp.Compile(c.FilePattern)
	if err != nil {
		return nil, eris.Wrapf(err, "config: invalid source.file_pattern %q", c.FilePattern)
	}
	return re, nil
}

// Timeout returns the per-request HTTP timeout.
func (c SourceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// NormalizeConfig configures header mapping.
type NormalizeConfig struct {
	HeaderMapPath string `yaml:"header_map_path" mapstructure:"header_map_path"`
}

// IngestConfig configures the load phase.
type IngestConfig struct {
	Mode    string `yaml:"mode" mapstructure:"mode"`
	Workers int    `yaml:"workers" mapstructure:"workers"`
}

// StoreConfig configures the database backend. DatabaseURL wins over the
// individual connection fields.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Host        string `yaml:"host" mapstructure:"host"`
	Port        int    `yaml:"port" mapstructure:"port"`
	User        string `yaml:"user" mapstructure:"user"`
	Password    string `yaml:"password" mapstructure:"password"`
	Name        string `yaml:"name" mapstructure:"name"`
	SSLMode     string `yaml:"sslmode" mapstructure:"sslmode"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// IsSQLite reports whether the sqlite driver is selected.
func (c StoreConfig) IsSQLite() bool {
	switch strings.ToLower(c.Driver) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}

// DSN returns the connection string, or "" when no database is configured.
// For sqlite, Name is used as the file path when DatabaseURL is unset.
func (c StoreConfig) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.IsSQLite() {
		return c.Name
	}
	if c.Host == "" || c.Name == "" {
		return ""
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   c.Host,
		Path:   "/" + c.Name,
	}
	if c.Port > 0 {
		u.Host = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	}
	switch {
	case c.User != "" && c.Password != "":
		u.User = url.UserPassword(c.User, c.Password)
	case c.User != "":
		u.User = url.User(c.User)
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u.String()
}

// MonitoringConfig configures the run log health check.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	StaleAfterHours      int     `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SPIMEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Variables used by existing deployments. The prefixed name wins.
	for key, legacy := range map[string][]string{
		"source.base_url":   {"SPIMEX_BASE_URL"},
		"source.out_dir":    {"OUT_DIR"},
		"source.start_date": {"START_DATE"},
		"store.host":        {"DB_HOST"},
		"store.port":        {"DB_PORT"},
		"store.user":        {"DB_USER"},
		"store.password":    {"DB_PASSWORD", "DB_PASS"},
		"store.name":        {"DB_NAME"},
	} {
		env := "SPIMEX_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, env}, legacy...)...); err != nil {
			return nil, eris.Wrapf(err, "config: bind %s", key)
		}
	}

	// Defaults
	v.SetDefault("source.base_url", "https://spimex.com/markets/oil_products/trades/results/")
	v.SetDefault("source.out_dir", "./data")
	v.SetDefault("source.start_date", "2023-01-01")
	v.SetDefault("source.file_pattern", `(?i)oil_xls_\d{8}\d*\.xls`)
	v.SetDefault("source.user_agent", "spimex-sync/1.0")
	v.SetDefault("source.concurrency", 5)
	v.SetDefault("source.max_pages", 0)
	v.SetDefault("source.timeout_secs", 60)
	v.SetDefault("source.max_retries", 3)
	v.SetDefault("source.requests_per_second", 5.0)
	v.SetDefault("normalize.header_map_path", "")
	v.SetDefault("ingest.mode", "append")
	v.SetDefault("ingest.workers", 0)
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.port", 5432)
	v.SetDefault("store.sslmode", "disable")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.stale_after_hours", 48)
	v.SetDefault("monitoring.lookback_window_hours", 168)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate rejects settings that would fail later in a less obvious way.
func (c *Config) Validate() error {
	if _, err := c.Source.Cutoff(); err != nil {
		return err
	}
	if _, err := c.Source.Pattern(); err != nil {
		return err
	}
	if u, err := url.Parse(c.Source.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return eris.Errorf("config: invalid source.base_url %q", c.Source.BaseURL)
	}
	if c.Source.OutDir == "" {
		return eris.New("config: source.out_dir is required")
	}
	if c.Source.Concurrency <= 0 {
		return eris.Errorf("config: source.concurrency must be positive, got %d", c.Source.Concurrency)
	}
	if c.Source.MaxPages < 0 {
		return eris.Errorf("config: source.max_pages must not be negative, got %d", c.Source.MaxPages)
	}
	if c.Ingest.Workers < 0 {
		return eris.Errorf("config: ingest.workers must not be negative, got %d", c.Ingest.Workers)
	}
	switch strings.ToLower(c.Ingest.Mode) {
	case "", "append", "upsert":
	default:
		return eris.Errorf("config: unknown ingest.mode %q (want append or upsert)", c.Ingest.Mode)
	}
	if t := c.Monitoring.FailureRateThreshold; t < 0 || t > 1 {
		return eris.Errorf("config: monitoring.failure_rate_threshold must be between 0 and 1, got %g", t)
	}
	switch strings.ToLower(c.Store.Driver) {
	case "postgres", "postgresql", "pgx", "sqlite", "sqlite3":
	default:
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
