package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/districtmatch/internal/buckets"
	cfgpkg "github.com/KaramelBytes/districtmatch/internal/config"
	"github.com/KaramelBytes/districtmatch/internal/dataset"
	"github.com/KaramelBytes/districtmatch/internal/match"
)

var (
	// Global flags
	cfgFile     string
	debug       bool
	flagDataDir string
	// Retry/HTTP flags (override config if set)
	flagHTTPTimeoutSec   int
	flagRetryMaxAttempts int
	flagRetryBaseDelayMs int
	flagRetryMaxDelayMs  int

	// Loaded configuration
	cfg *cfgpkg.Global
)

var rootCmd = &cobra.Command{
	Use:   "districtmatch",
	Short: "DistrictMatch: find Texas school districts similar to a target district",
	Long: `DistrictMatch ranks Texas school districts by their similarity to a target district,
using TEA TAPR indicators grouped into feature buckets and a choice of distance metrics.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the entry point called by main.main()
func Execute() {
	// Initialize configuration before executing commands
	cobra.OnInitialize(loadConfig)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		if hint := match.Hint(err); hint != "" {
			fmt.Fprintln(os.Stderr, "  Hint:", hint)
		}
		os.Exit(1)
	}
}

func init() {
	// Persistent global flags available to all subcommands
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.districtmatch/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug output")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "directory or http(s) base URL with the year files (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagHTTPTimeoutSec, "http-timeout", 0, "HTTP client timeout in seconds (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagRetryMaxAttempts, "retry-max", 0, "max retry attempts on 429/5xx (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagRetryBaseDelayMs, "retry-base-ms", 0, "base retry backoff in ms (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagRetryMaxDelayMs, "retry-max-ms", 0, "max retry backoff cap in ms (overrides config)")
}

func loadConfig() {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		// Non-fatal: allow running commands that don't need config
		fmt.Fprintf(os.Stderr, "⚠ Warning: failed to load config: %v\n", err)
		return
	}
	cfg = c

	// Apply CLI overrides if provided
	f := rootCmd.PersistentFlags()
	if f.Changed("data-dir") && flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if f.Changed("http-timeout") && flagHTTPTimeoutSec > 0 {
		cfg.HTTPTimeoutSec = flagHTTPTimeoutSec
	}
	if f.Changed("retry-max") && flagRetryMaxAttempts > 0 {
		cfg.RetryMaxAttempts = flagRetryMaxAttempts
	}
	if f.Changed("retry-base-ms") && flagRetryBaseDelayMs > 0 {
		cfg.RetryBaseDelayMs = flagRetryBaseDelayMs
	}
	if f.Changed("retry-max-ms") && flagRetryMaxDelayMs > 0 {
		cfg.RetryMaxDelayMs = flagRetryMaxDelayMs
	}
}

// requireConfig returns the loaded configuration, loading it when the
// command runs without Execute's initializer (as in tests).
func requireConfig() (*cfgpkg.Global, error) {
	if cfg == nil {
		loadConfig()
	}
	if cfg == nil {
		return nil, fmt.Errorf("no configuration loaded")
	}
	return cfg, nil
}

func loadRegistry(c *cfgpkg.Global) (*buckets.Registry, error) {
	if c.RegistryFile == "" {
		return buckets.DefaultRegistry(), nil
	}
	return buckets.LoadRegistry(c.RegistryFile)
}

func loaderOptions(c *cfgpkg.Global) dataset.LoaderOptions {
	return dataset.LoaderOptions{
		Root:                c.DataDir,
		ExcludeCharters:     c.ExcludeCharters,
		MaskNegative:        c.MaskNegative,
		DropSparseThreshold: c.DropSparseThreshold,
		Timeout:             time.Duration(c.HTTPTimeoutSec) * time.Second,
		RetryMax:            c.RetryMaxAttempts,
		RetryWaitMin:        time.Duration(c.RetryBaseDelayMs) * time.Millisecond,
		RetryWaitMax:        time.Duration(c.RetryMaxDelayMs) * time.Millisecond,
	}
}

// engineStack is the engine and the year cache behind it.
type engineStack struct {
	engine *match.Engine
	// years is nil when the year cache is disabled.
	years *dataset.CachedSource
}

func newEngine(c *cfgpkg.Global) (*engineStack, error) {
	reg, err := loadRegistry(c)
	if err != nil {
		return nil, err
	}
	var src dataset.Source = dataset.NewLoader(loaderOptions(c))
	st := &engineStack{}
	if c.CacheYears > 0 {
		cs, err := dataset.NewCachedSource(src, c.CacheYears)
		if err != nil {
			return nil, err
		}
		st.years = cs
		src = cs
	}
	var opts []match.Option
	if c.CacheIndexes > 0 {
		opts = append(opts, match.WithIndexCache(c.CacheIndexes))
	}
	st.engine, err = match.NewEngine(reg, src, opts...)
	if err != nil {
		return nil, err
	}
	return st, nil
}
