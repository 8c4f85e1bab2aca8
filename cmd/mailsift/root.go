package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/mailsift/pkg/mailsift/config"
	"github.com/jamesainslie/mailsift/pkg/mailsift/engine"
	"github.com/jamesainslie/mailsift/pkg/mailsift/logging"
	"github.com/jamesainslie/mailsift/pkg/mailsift/types"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "mailsift [units.jsonl]",
		Short: "Analyze email content with a local language model",
		Long: `Mailsift dispatches email-derived text units to a local LLM inference
service with persistent result caching, bounded concurrency, and a
security gate that screens content before it reaches the model.

Units are read as JSON lines ({"identity_key": ..., "text_body": ...})
from the given file, or from stdin when no file is specified.

Examples:
  mailsift units.jsonl            # Analyze units from a file
  cat units.jsonl | mailsift      # Analyze units from stdin
  mailsift -j units.jsonl         # JSON output
  mailsift stats                  # Show pool/cache/performance stats
  mailsift hardware               # Show the detected hardware profile
  mailsift history                # View recent security audit events`,
		Args: cobra.MaximumNArgs(1),
		RunE: runAnalyze,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/mailsift/config.yaml)")
	rootCmd.PersistentFlags().StringP("level", "l", "", "security level (strict, normal, permissive)")
	rootCmd.PersistentFlags().IntP("pool-size", "p", 0, "override connection pool size (0=auto)")
	rootCmd.PersistentFlags().String("model-version", "", "override active model version")
	rootCmd.PersistentFlags().String("base-url", "", "inference endpoint base URL")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "output JSON format")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output")

	_ = viper.BindPFlag("security.level", rootCmd.PersistentFlags().Lookup("level"))
	_ = viper.BindPFlag("pool_size", rootCmd.PersistentFlags().Lookup("pool-size"))
	_ = viper.BindPFlag("inference.model_version", rootCmd.PersistentFlags().Lookup("model-version"))
	_ = viper.BindPFlag("inference.base_url", rootCmd.PersistentFlags().Lookup("base-url"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfigAndLogging loads configuration, applies flag overrides, and
// initializes logging. Shared bootstrap for all subcommands.
func loadConfigAndLogging() (*config.Config, error) {
	cfg, err := config.LoadFrom(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	applyFlagOverrides(cfg)

	if err := config.EnsureDataDir(); err != nil {
		return nil, err
	}
	if err := config.EnsureStateDir(); err != nil {
		return nil, err
	}

	logCfg := logging.Config{
		Level:      cfg.Logging.Level,
		Path:       cfg.Logging.Path,
		Components: cfg.Logging.Components,
		Rotation: logging.RotationConfig{
			MaxAge:     cfg.Logging.Rotation.MaxAge,
			MaxBackups: cfg.Logging.Rotation.MaxBackups,
			Daily:      cfg.Logging.Rotation.Daily,
		},
	}
	if cfg.Logging.Rotation.MaxSize != "" {
		if size, parseErr := humanize.ParseBytes(cfg.Logging.Rotation.MaxSize); parseErr == nil {
			logCfg.Rotation.MaxSize = int64(size)
		}
	}
	if viper.GetBool("verbose") {
		logCfg.Level = "debug"
		logCfg.ConsoleLevel = "debug"
	}
	if err := logging.Init(logCfg); err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}

	return cfg, nil
}

// applyFlagOverrides layers explicitly set command-line flags over the
// file and environment configuration.
func applyFlagOverrides(cfg *config.Config) {
	if level := viper.GetString("security.level"); level != "" {
		cfg.Security.Level = level
	}
	if size := viper.GetInt("pool_size"); size > 0 {
		cfg.PoolSize = size
	}
	if version := viper.GetString("inference.model_version"); version != "" {
		cfg.Inference.ModelVersion = version
	}
	if url := viper.GetString("inference.base_url"); url != "" {
		cfg.Inference.BaseURL = url
	}
}

// runAnalyze reads units, runs one batch through the engine, and prints
// the summary.
func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigAndLogging()
	if err != nil {
		return err
	}
	defer func() { _ = logging.Close() }()

	units, err := readUnits(args)
	if err != nil {
		return err
	}
	if len(units) == 0 {
		return fmt.Errorf("no analysis units provided")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, cfg, engine.Options{})
	if err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = eng.Close(closeCtx)
	}()

	quiet := viper.GetBool("quiet")
	jsonOut := viper.GetBool("json")

	var progress func(completed, total int)
	if !quiet && !jsonOut {
		progress = func(completed, total int) {
			fmt.Fprintf(os.Stderr, "\ranalyzed %d/%d units", completed, total)
		}
	}

	result, err := eng.SubmitBatch(ctx, units, progress)
	if err != nil {
		return fmt.Errorf("batch submission failed: %w", err)
	}
	if progress != nil {
		fmt.Fprintln(os.Stderr)
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(result)
	}

	printBatchSummary(result, quiet)
	return nil
}

// readUnits parses JSONL units from the given file or stdin.
func readUnits(args []string) ([]types.AnalysisUnit, error) {
	var reader io.Reader = os.Stdin
	if len(args) == 1 {
		file, err := os.Open(args[0])
		if err != nil {
			return nil, fmt.Errorf("opening units file: %w", err)
		}
		defer file.Close()
		reader = file
	}

	var units []types.AnalysisUnit
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	now := time.Now().UTC()
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var unit types.AnalysisUnit
		if err := json.Unmarshal(text, &unit); err != nil {
			return nil, fmt.Errorf("parsing unit on line %d: %w", line, err)
		}
		if unit.IdentityKey == "" {
			return nil, fmt.Errorf("unit on line %d has no identity_key", line)
		}
		if unit.SubmittedAt.IsZero() {
			unit.SubmittedAt = now
		}
		units = append(units, unit)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading units: %w", err)
	}

	return units, nil
}

// printBatchSummary renders the batch result for humans.
func printBatchSummary(result *types.BatchResult, quiet bool) {
	fmt.Printf("Batch %s\n", result.ID)
	fmt.Printf("  total:      %d\n", result.Total)
	fmt.Printf("  succeeded:  %d\n", result.Succeeded)
	fmt.Printf("  failed:     %d\n", result.Failed)
	fmt.Printf("  elapsed:    %s\n", result.Elapsed.Round(time.Millisecond))
	fmt.Printf("  throughput: %.1f units/min\n", result.Throughput)

	if quiet {
		return
	}

	for _, r := range result.Results {
		if r.Failed() {
			fmt.Printf("  FAIL %s (%s): %s\n", r.IdentityKey, r.Err.Kind, r.Err.Message)
			continue
		}
		source := "model"
		if r.FromCache {
			source = "cache"
		}
		fmt.Printf("  OK   %s (%s, %s)\n", r.IdentityKey, source, r.Latency.Round(time.Millisecond))
	}
}
