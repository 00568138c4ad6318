package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/basamba1990/scimentor-ai/internal/llm"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	LLM     LLM     `yaml:"llm"`
	Storage Storage `yaml:"storage"`
	Blobs   Blobs   `yaml:"blobs"`
	Server  Server  `yaml:"server"`
	History History `yaml:"history"`
	Logging Logging `yaml:"logging"`
}

type LLM struct {
	Provider          string  `yaml:"provider"`
	Model             string  `yaml:"model"`
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Temperature       float64 `yaml:"temperature"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Timeout returns the per-call provider timeout.
func (l LLM) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

type Storage struct {
	Driver          string `yaml:"driver"`
	DataDir         string `yaml:"data_dir"`
	DSNEnv          string `yaml:"dsn_env"`
	RecordCacheSize int    `yaml:"record_cache_size"`
}

type Blobs struct {
	Backend      string `yaml:"backend"`
	Dir          string `yaml:"dir"`
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
	UseSSL       bool   `yaml:"use_ssl"`
}

type Server struct {
	Port        int    `yaml:"port"`
	OwnerHeader string `yaml:"owner_header"`
}

type History struct {
	PageSize int `yaml:"page_size"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for scimentor.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "scimentor")
}

// DataDir returns the XDG data directory for scimentor.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "scimentor")
}

// LoadEnv loads .env files into the process environment. Missing files are
// ignored; variables already set win.
func LoadEnv(paths ...string) {
	_ = godotenv.Load(paths...)
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/scimentor/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'scimentor init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default config is invalid: %v", err))
	}
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		LLM: LLM{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			APIKeyEnv:      "OPENAI_API_KEY",
			Temperature:    0.1,
			TimeoutSeconds: 120,
			Burst:          1,
		},
		Storage: Storage{
			Driver:          "sqlite",
			DSNEnv:          "SCIMENTOR_DATABASE_URL",
			RecordCacheSize: 1024,
		},
		Blobs: Blobs{
			Backend:      "local",
			Region:       "us-east-1",
			Bucket:       "notebooks",
			AccessKeyEnv: "SCIMENTOR_S3_ACCESS_KEY",
			SecretKeyEnv: "SCIMENTOR_S3_SECRET_KEY",
		},
		Server:  Server{Port: 8000, OwnerHeader: "X-User-ID"},
		History: History{PageSize: 10},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "gemini":
	default:
		return fmt.Errorf("llm.provider must be openai or gemini, got %q", c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > llm.MaxTemperature {
		return fmt.Errorf("llm.temperature must be between 0 and %.1f, got %v", llm.MaxTemperature, c.LLM.Temperature)
	}
	if c.LLM.TimeoutSeconds <= 0 {
		return fmt.Errorf("llm.timeout_seconds must be positive")
	}
	if c.LLM.RequestsPerSecond < 0 {
		return fmt.Errorf("llm.requests_per_second must not be negative")
	}

	switch strings.ToLower(c.Storage.Driver) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver must be sqlite or postgres, got %q", c.Storage.Driver)
	}

	switch strings.ToLower(c.Blobs.Backend) {
	case "local":
	case "s3":
		if c.Blobs.Endpoint == "" || c.Blobs.Bucket == "" {
			return fmt.Errorf("blobs.endpoint and blobs.bucket are required for the s3 backend")
		}
	default:
		return fmt.Errorf("blobs.backend must be local or s3, got %q", c.Blobs.Backend)
	}

	if c.History.PageSize <= 0 {
		return fmt.Errorf("history.page_size must be positive")
	}
	if c.Server.OwnerHeader == "" {
		return fmt.Errorf("server.owner_header must not be empty")
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Storage.DataDir != "" {
		return c.Storage.DataDir
	}
	return DataDir()
}

// DatabasePath is the SQLite file used by the sqlite driver.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.GetDataDir(), "scimentor.db")
}

// BlobDir is where the local blob backend writes uploads.
func (c *Config) BlobDir() string {
	if c.Blobs.Dir != "" {
		return c.Blobs.Dir
	}
	return filepath.Join(c.GetDataDir(), "notebooks")
}

// PostgresDSN reads the DSN from the configured environment variable.
func (c *Config) PostgresDSN() string {
	return strings.TrimSpace(os.Getenv(c.Storage.DSNEnv))
}

// S3Credentials reads the access and secret keys from the environment.
func (c *Config) S3Credentials() (access, secret string) {
	return os.Getenv(c.Blobs.AccessKeyEnv), os.Getenv(c.Blobs.SecretKeyEnv)
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
