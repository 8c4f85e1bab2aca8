package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/mailsift/pkg/mailsift/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage mailsift configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		fmt.Printf("pool_size:       %d (0=auto)\n", cfg.PoolSize)
		fmt.Printf("cache_path:      %s\n", pathOrDefault(cfg.CachePath, config.DefaultCachePath()))
		fmt.Printf("perf_path:       %s\n", pathOrDefault(cfg.PerfPath, config.DefaultPerfPath()))
		fmt.Printf("security.level:  %s\n", cfg.Security.Level)
		fmt.Printf("pattern_file:    %s\n", pathOrDefault(cfg.Security.PatternFile, "(built-in)"))
		fmt.Printf("hot_reload:      %t\n", cfg.Security.HotReload)
		fmt.Printf("audit_dir:       %s\n", pathOrDefault(cfg.Security.AuditDir, config.DefaultAuditDir()))
		fmt.Printf("inference.url:   %s\n", cfg.Inference.BaseURL)
		fmt.Printf("model_version:   %s\n", cfg.Inference.ModelVersion)
		fmt.Printf("unit_timeout:    %ds\n", cfg.Inference.UnitTimeoutSeconds)
		fmt.Printf("memory.cap:      %d (0=detected RAM)\n", cfg.Memory.CapBytes)
		fmt.Printf("memory.warning:  %.2f\n", cfg.Memory.WarningFraction)
		fmt.Printf("memory.critical: %.2f\n", cfg.Memory.CriticalFraction)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file if none exists",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteDefault(); err != nil {
			return err
		}

		dir, err := config.ConfigDir()
		if err != nil {
			return err
		}
		path := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(path); err == nil {
			fmt.Printf("Config file: %s\n", path)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

// pathOrDefault substitutes the fallback when no path is configured.
func pathOrDefault(path, fallback string) string {
	if path == "" {
		return fallback
	}
	return path
}
