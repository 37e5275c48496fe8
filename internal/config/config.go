package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/KaramelBytes/districtmatch/internal/utils"
)

// Global configuration structure.
type Global struct {
	// DataDir is a local directory or an http(s) base URL holding the
	// per-year files.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	// RegistryFile optionally replaces the built-in bucket registry.
	RegistryFile string `mapstructure:"registry_file" yaml:"registry_file"`

	DefaultMetric    string `mapstructure:"default_metric" yaml:"default_metric"`
	DefaultImpute    string `mapstructure:"default_impute" yaml:"default_impute"`
	DefaultNeighbors int    `mapstructure:"default_neighbors" yaml:"default_neighbors"`
	DefaultYear      int    `mapstructure:"default_year" yaml:"default_year"`

	// Loader cleaning
	ExcludeCharters     bool    `mapstructure:"exclude_charters" yaml:"exclude_charters"`
	MaskNegative        bool    `mapstructure:"mask_negative" yaml:"mask_negative"`
	DropSparseThreshold float64 `mapstructure:"drop_sparse_threshold" yaml:"drop_sparse_threshold"`

	// Cache sizes; 0 disables a cache.
	CacheYears   int `mapstructure:"cache_years" yaml:"cache_years"`
	CacheIndexes int `mapstructure:"cache_indexes" yaml:"cache_indexes"`

	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`

	// HTTP/Retry configuration
	HTTPTimeoutSec   int `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec"`
	RetryMaxAttempts int `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int `mapstructure:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`
}

// Keys lists the settable configuration keys in display order.
var Keys = []string{
	"data_dir", "registry_file",
	"default_metric", "default_impute", "default_neighbors", "default_year",
	"exclude_charters", "mask_negative", "drop_sparse_threshold",
	"cache_years", "cache_indexes", "listen_addr",
	"http_timeout_sec", "retry_max_attempts", "retry_base_delay_ms", "retry_max_delay_ms",
}

// Dir returns ~/.districtmatch.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".districtmatch"), nil
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.districtmatch/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	path := cfgFile
	if path == "" {
		dir, err := Dir()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
		path = filepath.Join(dir, "config.yaml")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := utils.SafeWriteFile(path, b); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: env > config file > defaults. A .env file in the working
// directory is loaded into the environment first; it never overrides
// variables that are already set.
func Load(cfgFile string) (*Global, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("DISTRICTMATCH")
	v.AutomaticEnv()

	v.SetDefault("data_dir", "data")
	v.SetDefault("registry_file", "")
	v.SetDefault("default_metric", "euclidean")
	v.SetDefault("default_impute", "median")
	v.SetDefault("default_neighbors", 10)
	v.SetDefault("default_year", 2023)
	v.SetDefault("exclude_charters", true)
	v.SetDefault("mask_negative", true)
	v.SetDefault("drop_sparse_threshold", 0.0)
	v.SetDefault("cache_years", 4)
	v.SetDefault("cache_indexes", 32)
	v.SetDefault("listen_addr", "127.0.0.1:8080")
	// HTTP/retry defaults
	v.SetDefault("http_timeout_sec", 60)
	v.SetDefault("retry_max_attempts", 3)
	v.SetDefault("retry_base_delay_ms", 500)
	v.SetDefault("retry_max_delay_ms", 4000)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	// optional read
	_ = v.ReadInConfig()

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}
