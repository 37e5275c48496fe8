package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	cfgpkg "github.com/KaramelBytes/districtmatch/internal/config"
	"github.com/KaramelBytes/districtmatch/internal/match"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or set DistrictMatch configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, k := range cfgpkg.Keys {
			fmt.Fprintf(out, "%s: %s\n", k, configValue(c, k))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value and save to disk",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]
		c, err := requireConfig()
		if err != nil {
			return err
		}
		if err := setConfigValue(c, key, val); err != nil {
			return err
		}
		if err := cfgpkg.Save(c, cfgFile); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Saved config")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func configValue(c *cfgpkg.Global, key string) string {
	switch key {
	case "data_dir":
		return c.DataDir
	case "registry_file":
		return c.RegistryFile
	case "default_metric":
		return c.DefaultMetric
	case "default_impute":
		return c.DefaultImpute
	case "default_neighbors":
		return strconv.Itoa(c.DefaultNeighbors)
	case "default_year":
		return strconv.Itoa(c.DefaultYear)
	case "exclude_charters":
		return strconv.FormatBool(c.ExcludeCharters)
	case "mask_negative":
		return strconv.FormatBool(c.MaskNegative)
	case "drop_sparse_threshold":
		return strconv.FormatFloat(c.DropSparseThreshold, 'g', -1, 64)
	case "cache_years":
		return strconv.Itoa(c.CacheYears)
	case "cache_indexes":
		return strconv.Itoa(c.CacheIndexes)
	case "listen_addr":
		return c.ListenAddr
	case "http_timeout_sec":
		return strconv.Itoa(c.HTTPTimeoutSec)
	case "retry_max_attempts":
		return strconv.Itoa(c.RetryMaxAttempts)
	case "retry_base_delay_ms":
		return strconv.Itoa(c.RetryBaseDelayMs)
	case "retry_max_delay_ms":
		return strconv.Itoa(c.RetryMaxDelayMs)
	}
	return ""
}

func setConfigValue(c *cfgpkg.Global, key, val string) error {
	setInt := func(dst *int, least int) error {
		i, err := strconv.Atoi(val)
		if err != nil || i < least {
			return fmt.Errorf("invalid int for %s: %v (must be at least %d)", key, val, least)
		}
		*dst = i
		return nil
	}
	switch key {
	case "data_dir":
		c.DataDir = val
	case "registry_file":
		c.RegistryFile = val
	case "default_metric":
		m, perr := match.ParseMetric(val)
		if perr != nil {
			return perr
		}
		c.DefaultMetric = string(m)
	case "default_impute":
		s, perr := match.ParseImputeStrategy(val)
		if perr != nil {
			return perr
		}
		c.DefaultImpute = string(s)
	case "default_neighbors":
		return setInt(&c.DefaultNeighbors, 1)
	case "default_year":
		return setInt(&c.DefaultYear, 0)
	case "exclude_charters", "mask_negative":
		b, perr := strconv.ParseBool(strings.ToLower(val))
		if perr != nil {
			return fmt.Errorf("invalid bool for %s: %v", key, val)
		}
		if key == "exclude_charters" {
			c.ExcludeCharters = b
		} else {
			c.MaskNegative = b
		}
	case "drop_sparse_threshold":
		f, perr := strconv.ParseFloat(val, 64)
		if perr != nil || f < 0 || f > 100 {
			return fmt.Errorf("invalid percentage for drop_sparse_threshold: %v", val)
		}
		c.DropSparseThreshold = f
	case "cache_years":
		return setInt(&c.CacheYears, 0)
	case "cache_indexes":
		return setInt(&c.CacheIndexes, 0)
	case "listen_addr":
		c.ListenAddr = val
	case "http_timeout_sec":
		return setInt(&c.HTTPTimeoutSec, 0)
	case "retry_max_attempts":
		return setInt(&c.RetryMaxAttempts, 0)
	case "retry_base_delay_ms":
		return setInt(&c.RetryBaseDelayMs, 0)
	case "retry_max_delay_ms":
		return setInt(&c.RetryMaxDelayMs, 0)
	default:
		return fmt.Errorf("unknown key: %s (known: %s)", key, strings.Join(cfgpkg.Keys, ", "))
	}
	return nil
}
