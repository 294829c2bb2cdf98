package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration validation errors.
var (
	ErrEmptyBaseURL        = errors.New("base URL cannot be empty")
	ErrInvalidTemplate     = errors.New("page template must contain exactly one %d verb")
	ErrInvalidTarget       = errors.New("target count cannot be negative")
	ErrInvalidMaxPages     = errors.New("max pages must be positive")
	ErrInvalidTimeout      = errors.New("timeout must be positive")
	ErrEmptyUserAgent      = errors.New("user agent cannot be empty")
	ErrMissingDBHost       = errors.New("database host is required")
	ErrMissingDBName       = errors.New("database name is required")
	ErrMissingDBUser       = errors.New("database user is required")
	ErrInvalidDBPort       = errors.New("database port must be between 1 and 65535")
	ErrInvalidExportFormat = errors.New("export format must be csv or json")
	ErrInvalidDBTimeout    = errors.New("database timeouts cannot be negative")
)

// Config holds pipeline configuration.
type Config struct {
	BaseURL      string         `yaml:"base_url"`
	PageTemplate string         `yaml:"page_template"`
	TargetCount  int            `yaml:"target_count"`
	MaxPages     int            `yaml:"max_pages"`
	Timeout      time.Duration  `yaml:"timeout"`
	UserAgent    string         `yaml:"user_agent"`
	Database     DatabaseConfig `yaml:"database"`
	ExportFile   string         `yaml:"export_file"`
	ExportFormat string         `yaml:"export_format"` // csv or json
	MetricsAddr  string         `yaml:"metrics_addr"`
	Verbose      bool           `yaml:"verbose"`
}

// DatabaseConfig holds the fixed connection parameters of the books store.
type DatabaseConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	Name             string        `yaml:"name"`
	User             string        `yaml:"user"`
	Password         string        `yaml:"password"`
	SSLMode          string        `yaml:"sslmode"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

// DefaultConfig returns defaults matching the docker-compose deployment.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:      "http://books.toscrape.com",
		PageTemplate: "/catalogue/page-%d.html",
		TargetCount:  50,
		MaxPages:     50,
		Timeout:      10 * time.Second,
		UserAgent:    "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		Database: DatabaseConfig{
			Host:             "postgres",
			Port:             5432,
			Name:             "books",
			User:             "airflow",
			Password:         "airflow",
			SSLMode:          "disable",
			ConnectTimeout:   10 * time.Second,
			StatementTimeout: 30 * time.Second,
		},
		ExportFormat: "csv",
	}
}

// LoadFile overlays the YAML document at path onto cfg. Keys missing from the
// file keep their current values.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

// PageURL returns the absolute URL of catalogue page n.
func (c *Config) PageURL(n int) string {
	return strings.TrimSuffix(c.BaseURL, "/") + fmt.Sprintf(c.PageTemplate, n)
}

// Normalize canonicalises case-insensitive values once every source has been
// applied.
func (c *Config) Normalize() {
	c.ExportFormat = strings.ToLower(strings.TrimSpace(c.ExportFormat))
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrEmptyBaseURL
	}
	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}
	if strings.Count(c.PageTemplate, "%") != 1 || !strings.Contains(c.PageTemplate, "%d") {
		return ErrInvalidTemplate
	}
	if c.TargetCount < 0 {
		return ErrInvalidTarget
	}
	if c.MaxPages <= 0 {
		return ErrInvalidMaxPages
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.UserAgent == "" {
		return ErrEmptyUserAgent
	}
	if c.ExportFile != "" && c.ExportFormat != "csv" && c.ExportFormat != "json" {
		return ErrInvalidExportFormat
	}
	return c.Database.Validate()
}

// Validate checks the connection parameters.
func (d DatabaseConfig) Validate() error {
	if d.Host == "" {
		return ErrMissingDBHost
	}
	if d.Name == "" {
		return ErrMissingDBName
	}
	if d.User == "" {
		return ErrMissingDBUser
	}
	if d.Port <= 0 || d.Port > 65535 {
		return ErrInvalidDBPort
	}
	if d.ConnectTimeout < 0 || d.StatementTimeout < 0 {
		return ErrInvalidDBTimeout
	}
	return nil
}

// DSN renders the parameters as a libpq key/value connection string.
func (d DatabaseConfig) DSN() string {
	parts := []string{
		"host=" + quoteDSN(d.Host),
		"port=" + strconv.Itoa(d.Port),
		"dbname=" + quoteDSN(d.Name),
		"user=" + quoteDSN(d.User),
	}
	if d.Password != "" {
		parts = append(parts, "password="+quoteDSN(d.Password))
	}
	if d.SSLMode != "" {
		parts = append(parts, "sslmode="+quoteDSN(d.SSLMode))
	}
	if secs := int(d.ConnectTimeout / time.Second); secs > 0 {
		parts = append(parts, "connect_timeout="+strconv.Itoa(secs))
	}
	return strings.Join(parts, " ")
}

func quoteDSN(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// EnvString returns the trimmed value of key and whether it was set.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer. A missing key is not an error.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}
