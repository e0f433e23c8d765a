package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendMySQL  = "mysql"
	BackendRedis  = "redis"
)

// Config holds runtime configuration for the bulletin service and CLI.
type Config struct {
	ListenAddr      string        `env:"LISTEN_ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"20s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	DefaultPageSize int           `env:"DEFAULT_PAGE_SIZE" envDefault:"8"`
	DefaultLang     string        `env:"DEFAULT_LANG" envDefault:"en-US"`

	StoreBackend string `env:"STORE_BACKEND" envDefault:"sqlite"`
	SQLitePath   string `env:"SQLITE_PATH" envDefault:"./bulletin.db"`

	DBHost         string        `env:"DB_HOST" envDefault:"127.0.0.1"`
	DBPort         int           `env:"DB_PORT" envDefault:"3306"`
	DBUser         string        `env:"DB_USER" envDefault:"root"`
	DBPassword     string        `env:"DB_PASSWORD"`
	DBName         string        `env:"DB_NAME" envDefault:"hertzbeat"`
	DBConnTimeout  time.Duration `env:"DB_CONN_TIMEOUT" envDefault:"5s"`
	DBQueryTimeout time.Duration `env:"DB_QUERY_TIMEOUT" envDefault:"10s"`

	RedisAddr      string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB" envDefault:"0"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"bulletin:"`

	// ManagerEndpoint is the monitoring manager base URL; the CLI points it
	// at a bulletin server instead.
	ManagerEndpoint string        `env:"MANAGER_ENDPOINT"`
	ManagerTimeout  time.Duration `env:"MANAGER_TIMEOUT" envDefault:"10s"`

	DingTalkWebhook   string   `env:"DINGTALK_WEBHOOK"`
	DingTalkAtMobiles []string `env:"DINGTALK_AT_MOBILES"`
	DingTalkAtAll     bool     `env:"DINGTALK_AT_ALL" envDefault:"false"`

	PromEnabled       bool          `env:"PROM_ENABLED" envDefault:"false"`
	PromTargets       []string      `env:"PROM_TARGETS" envDefault:"http://127.0.0.1:1157/actuator/prometheus"`
	PromMatchPrefix   string        `env:"PROM_MATCH_PREFIX" envDefault:"hertzbeat_"`
	PromScrapeTimeout time.Duration `env:"PROM_SCRAPE_TIMEOUT" envDefault:"5s"`

	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat     string `env:"LOG_FORMAT" envDefault:"text"`
	LogFile       string `env:"LOG_FILE"`
	LogMaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"100"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`
	LogMaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"28"`
}

// FromEnv loads env-file defaults, then parses APP_* variables.
func FromEnv() (Config, error) {
	loadConfigDefaultsFromFile()
	return Parse(nil)
}

// Parse reads configuration from environ, or from the process environment
// when environ is nil.
func Parse(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "APP_", Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	cfg.PromTargets = trimList(cfg.PromTargets)
	cfg.DingTalkAtMobiles = trimList(cfg.DingTalkAtMobiles)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("APP_SQLITE_PATH is required for the sqlite backend")
		}
	case BackendMySQL, BackendRedis:
	default:
		return fmt.Errorf("unsupported APP_STORE_BACKEND %q", c.StoreBackend)
	}
	if c.DefaultPageSize <= 0 {
		return fmt.Errorf("APP_DEFAULT_PAGE_SIZE must be positive, got %d", c.DefaultPageSize)
	}
	if c.ManagerEndpoint != "" {
		u, err := url.Parse(c.ManagerEndpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("APP_MANAGER_ENDPOINT is not an absolute URL: %q", c.ManagerEndpoint)
		}
	}
	return nil
}

func loadConfigDefaultsFromFile() {
	bootstrapCandidates := []string{
		"./go-monitor-bulletin.env",
		"/etc/default/go-monitor-bulletin",
	}
	for _, candidate := range bootstrapCandidates {
		_ = applyEnvDefaultsFromFile(absPath(candidate))
	}

	candidates := make([]string, 0, 2)
	if explicit := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); explicit != "" {
		candidates = append(candidates, explicit)
	}
	candidates = append(candidates, "/etc/go-monitor-bulletin/config.env")
	for _, candidate := range candidates {
		if err := applyEnvDefaultsFromFile(absPath(candidate)); err == nil {
			return
		}
	}
}

func absPath(candidate string) string {
	if filepath.IsAbs(candidate) {
		return candidate
	}
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, candidate)
	}
	return candidate
}

// applyEnvDefaultsFromFile sets variables from a dotenv file unless they are
// already set to a non-empty value.
func applyEnvDefaultsFromFile(path string) error {
	values, err := godotenv.Read(path)
	if err != nil {
		return err
	}
	for key, val := range values {
		if os.Getenv(key) == "" {
			_ = os.Setenv(key, val)
		}
	}
	return nil
}

// MySQLDSN returns a mysql driver DSN with safe defaults for TCP access.
func (c Config) MySQLDSN() string {
	params := url.Values{}
	params.Set("parseTime", "true")
	params.Set("timeout", c.DBConnTimeout.String())
	params.Set("readTimeout", c.DBQueryTimeout.String())
	params.Set("writeTimeout", c.DBQueryTimeout.String())
	params.Set("charset", "utf8mb4")
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s", c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, params.Encode())
}

func trimList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
