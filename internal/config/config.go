package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Backend strategy names accepted by the storage factory.
const (
	BackendSigned   = "signed"
	BackendIdentity = "identity"
)

// Config represents the application configuration
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Vault   VaultConfig   `yaml:"vault"`
	Logger  LoggerConfig  `yaml:"logger"`
}

// StorageConfig represents blob storage configuration
type StorageConfig struct {
	// Backend selects the access strategy: "signed" (shared key, presigned
	// URLs) or "identity" (ambient workload credential, plain URLs).
	Backend  string `yaml:"backend" envconfig:"STORAGE_BACKEND" default:"signed"`
	Endpoint string `yaml:"endpoint" envconfig:"STORAGE_ENDPOINT"`

	// Shared-key credential pair, used only by the signed backend and
	// never handed to clients.
	AccessKeyID string `yaml:"access_key_id" envconfig:"STORAGE_ACCESS_KEY_ID"`
	SharedKey   string `yaml:"shared_key" envconfig:"STORAGE_SHARED_KEY"`

	UseSSL    bool   `yaml:"use_ssl" envconfig:"STORAGE_USE_SSL" default:"false"`
	Container string `yaml:"container" envconfig:"STORAGE_CONTAINER" default:"files"`
	BasePath  string `yaml:"base_path" envconfig:"STORAGE_BASE_PATH" default:"images"`

	// GrantTTL bounds the validity window of minted access grants.
	GrantTTL time.Duration `yaml:"grant_ttl" envconfig:"STORAGE_GRANT_TTL" default:"5m"`

	// Vault path for credentials (optional)
	VaultPath string `yaml:"vault_path" envconfig:"STORAGE_VAULT_PATH"`
}

// VaultConfig represents HashiCorp Vault configuration
type VaultConfig struct {
	Enabled   bool   `yaml:"enabled" envconfig:"VAULT_ENABLED" default:"false"`
	Address   string `yaml:"address" envconfig:"VAULT_ADDR" default:"http://localhost:8200"`
	Token     string `yaml:"token" envconfig:"VAULT_TOKEN"`
	TokenPath string `yaml:"token_path" envconfig:"VAULT_TOKEN_PATH"`
	Namespace string `yaml:"namespace" envconfig:"VAULT_NAMESPACE"`
}

// LoggerConfig represents logger configuration
type LoggerConfig struct {
	Level      string `yaml:"level" envconfig:"LOG_LEVEL" default:"info"`
	Format     string `yaml:"format" envconfig:"LOG_FORMAT" default:"json"` // json or console
	OutputPath string `yaml:"output_path" envconfig:"LOG_OUTPUT_PATH" default:"stdout"`
}

// Load loads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	fileLoaded := false
	if configPath != "" {
		if err := loadFromFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		fileLoaded = true
	}

	// Remember the file values before envconfig applies its defaults
	// over them.
	fileCfg := *cfg

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if fileLoaded {
		restoreFileValues(cfg, &fileCfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// restoreFileValues puts file-loaded values back over the defaults
// envconfig applies for every defaulted field whose env var is absent.
// Precedence stays env > file > default.
func restoreFileValues(cfg, fileCfg *Config) {
	restore := func(envVar string, dst *string, fileVal string) {
		if fileVal != "" && os.Getenv(envVar) == "" {
			*dst = fileVal
		}
	}

	restore("STORAGE_BACKEND", &cfg.Storage.Backend, fileCfg.Storage.Backend)
	restore("STORAGE_CONTAINER", &cfg.Storage.Container, fileCfg.Storage.Container)
	restore("STORAGE_BASE_PATH", &cfg.Storage.BasePath, fileCfg.Storage.BasePath)
	restore("VAULT_ADDR", &cfg.Vault.Address, fileCfg.Vault.Address)
	restore("LOG_LEVEL", &cfg.Logger.Level, fileCfg.Logger.Level)
	restore("LOG_FORMAT", &cfg.Logger.Format, fileCfg.Logger.Format)
	restore("LOG_OUTPUT_PATH", &cfg.Logger.OutputPath, fileCfg.Logger.OutputPath)

	if fileCfg.Storage.GrantTTL != 0 && os.Getenv("STORAGE_GRANT_TTL") == "" {
		cfg.Storage.GrantTTL = fileCfg.Storage.GrantTTL
	}
	if os.Getenv("STORAGE_USE_SSL") == "" {
		cfg.Storage.UseSSL = fileCfg.Storage.UseSSL
	}
	if os.Getenv("VAULT_ENABLED") == "" {
		cfg.Vault.Enabled = fileCfg.Vault.Enabled
	}
}

// loadFromFile loads configuration from YAML file
func loadFromFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true) // Strict parsing

	if err := decoder.Decode(cfg); err != nil {
		return err
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendSigned, BackendIdentity:
	default:
		return fmt.Errorf("unknown storage backend: %q", c.Storage.Backend)
	}

	if c.Storage.Endpoint == "" {
		return fmt.Errorf("storage endpoint is required")
	}

	if c.Storage.Container == "" {
		return fmt.Errorf("storage container is required")
	}

	if c.Storage.BasePath == "" {
		return fmt.Errorf("storage base path is required")
	}

	if c.Storage.GrantTTL <= 0 {
		return fmt.Errorf("storage grant ttl must be positive")
	}

	if c.Vault.Enabled && c.Vault.Address == "" {
		return fmt.Errorf("vault address is required when vault is enabled")
	}

	return nil
}

// GetVaultToken returns the Vault token from config or file
func (c *VaultConfig) GetVaultToken() (string, error) {
	if c.Token != "" {
		return c.Token, nil
	}

	if c.TokenPath != "" {
		token, err := os.ReadFile(c.TokenPath)
		if err != nil {
			return "", fmt.Errorf("failed to read vault token from file: %w", err)
		}
		return string(token), nil
	}

	return "", fmt.Errorf("vault token not configured")
}
