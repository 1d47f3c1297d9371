package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	NATS       NATSConfig       `yaml:"nats"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	OTA        OTAConfig        `yaml:"ota"`
	Sync       SyncConfig       `yaml:"sync"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	// Driver selects the queue store backend: "sqlite" (default) or "postgres".
	Driver   string         `yaml:"driver"`
	Path     string         `yaml:"path"`
	Postgres PostgresConfig `yaml:"postgres"`
	Backup   BackupConfig   `yaml:"backup"`
}

// BackupConfig controls periodic snapshots of the SQLite queue database.
type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	StoragePath   string        `yaml:"storage_path"`
	RetentionDays int           `yaml:"retention_days"`
}

type PostgresConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	DBName         string `yaml:"dbname"`
	SSLMode        string `yaml:"sslmode"`
	MaxConnections int    `yaml:"max_connections"`
}

// DSN renders a libpq-style connection string for pgxpool.
func (p PostgresConfig) DSN() string {
	parts := []string{
		fmt.Sprintf("host=%s", p.Host),
		fmt.Sprintf("port=%d", p.Port),
		fmt.Sprintf("user=%s", p.User),
		fmt.Sprintf("dbname=%s", p.DBName),
		fmt.Sprintf("sslmode=%s", p.SSLMode),
	}
	if p.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", p.Password))
	}
	if p.MaxConnections > 0 {
		parts = append(parts, fmt.Sprintf("pool_max_conns=%d", p.MaxConnections))
	}
	return strings.Join(parts, " ")
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	// ChangeQueueKey is the list holding pending change tasks.
	ChangeQueueKey string `yaml:"change_queue_key"`
	DeadLetterKey  string `yaml:"dead_letter_key"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	FailedSubject string `yaml:"failed_subject"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type OTAConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	Timeout      time.Duration `yaml:"timeout"`
	RPS          float64       `yaml:"rps"`
	Burst        int           `yaml:"burst"`
	TemplatesDir string        `yaml:"templates_dir"`
	// StockSearchService names the template and endpoint used to read published stock.
	StockSearchService string `yaml:"stock_search_service"`
	// StockCacheTTL caches stock search results in Redis for the operator stock view.
	// Diff reads never use the cache. Zero, the default, disables it.
	StockCacheTTL time.Duration    `yaml:"stock_cache_ttl"`
	Credentials   []OTACredentials `yaml:"credentials"`
}

// OTACredentials are injected into every payload rendered for a hotel.
type OTACredentials struct {
	HotelID  int64  `yaml:"hotel_id"`
	SystemID string `yaml:"system_id"`
	UserID   string `yaml:"user_id"`
	Password string `yaml:"password"`
}

type SyncConfig struct {
	PollInterval         time.Duration `yaml:"poll_interval"`
	BatchSize            int           `yaml:"batch_size"`
	Concurrency          int           `yaml:"concurrency"`
	MaxRetries           int           `yaml:"max_retries"`
	ChunkSize            int           `yaml:"chunk_size"`
	ChunkMaxEntries      int           `yaml:"chunk_max_entries"`
	ChunkMaxSpanDays     int           `yaml:"chunk_max_span_days"`
	JitterMin            time.Duration `yaml:"jitter_min"`
	JitterMax            time.Duration `yaml:"jitter_max"`
	ClaimTimeout         time.Duration `yaml:"claim_timeout"`
	ServiceName          string        `yaml:"service_name"`
	Timezone             string        `yaml:"timezone"`
	TranslatorMaxRetries int           `yaml:"translator_max_retries"`
}

// Location resolves the hotel time zone used to decide what "today" is.
func (s SyncConfig) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func Load(configPath string) (*Config, error) {
	// .env is optional; real environment variables win either way.
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" || c.Database.Postgres.DBName == "" {
			return errors.New("postgres host and dbname are required")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.OTA.Endpoint == "" {
		return errors.New("ota endpoint is required")
	}

	if c.Sync.JitterMax < c.Sync.JitterMin {
		return fmt.Errorf("sync.jitter_max (%s) must not be below sync.jitter_min (%s)", c.Sync.JitterMax, c.Sync.JitterMin)
	}
	if c.Sync.Timezone != "" {
		if _, err := time.LoadLocation(c.Sync.Timezone); err != nil {
			return fmt.Errorf("invalid sync.timezone: %w", err)
		}
	}

	return ValidateCredentials(c.OTA.Credentials)
}

func ValidateCredentials(creds []OTACredentials) error {
	seen := make(map[int64]bool)
	for _, cred := range creds {
		if cred.HotelID == 0 {
			return fmt.Errorf("ota credentials for system '%s' have invalid hotel_id 0", cred.SystemID)
		}
		if seen[cred.HotelID] {
			return fmt.Errorf("duplicate ota credentials for hotel %d", cred.HotelID)
		}
		seen[cred.HotelID] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = 5432
	}
	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}
	if c.Database.Backup.Interval == 0 {
		c.Database.Backup.Interval = 24 * time.Hour
	}
	if c.Database.Backup.StoragePath == "" {
		c.Database.Backup.StoragePath = "backups"
	}
	if c.Redis.ChangeQueueKey == "" {
		c.Redis.ChangeQueueKey = "otasync:changes"
	}
	if c.Redis.DeadLetterKey == "" {
		c.Redis.DeadLetterKey = "otasync:deadletter"
	}
	if c.NATS.FailedSubject == "" {
		c.NATS.FailedSubject = "ota.sync.failed"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}

	if c.OTA.Timeout == 0 {
		c.OTA.Timeout = 30 * time.Second
	}
	if c.OTA.StockSearchService == "" {
		c.OTA.StockSearchService = "stock_search"
	}

	// Sync defaults
	if c.Sync.PollInterval == 0 {
		c.Sync.PollInterval = 2 * time.Second
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 3
	}
	if c.Sync.Concurrency == 0 {
		c.Sync.Concurrency = 3
	}
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = 5
	}
	if c.Sync.ChunkSize == 0 {
		c.Sync.ChunkSize = 30
	}
	if c.Sync.ChunkMaxEntries == 0 {
		c.Sync.ChunkMaxEntries = 1000
	}
	if c.Sync.ChunkMaxSpanDays == 0 {
		c.Sync.ChunkMaxSpanDays = 30
	}
	if c.Sync.JitterMin == 0 && c.Sync.JitterMax == 0 {
		c.Sync.JitterMin = time.Second
		c.Sync.JitterMax = 3 * time.Second
	}
	if c.Sync.ClaimTimeout == 0 {
		c.Sync.ClaimTimeout = 10 * time.Minute
	}
	if c.Sync.ServiceName == "" {
		c.Sync.ServiceName = "stock_adjustment"
	}
	if c.Sync.Timezone == "" {
		c.Sync.Timezone = "Asia/Tokyo"
	}
	if c.Sync.TranslatorMaxRetries == 0 {
		c.Sync.TranslatorMaxRetries = 3
	}
}
