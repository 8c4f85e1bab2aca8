package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/mailsift/pkg/mailsift/config"
	"github.com/jamesainslie/mailsift/pkg/mailsift/gate"
	"github.com/jamesainslie/mailsift/pkg/mailsift/logging"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent security audit events",
	Long: `Lists security gate block and override events, newest first. Audit
records carry the pattern name and a truncated excerpt only, never the
full message content.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum events to show (0=all)")
	rootCmd.AddCommand(historyCmd)
}

// runHistory lists audit events straight from the audit directory.
func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigAndLogging()
	if err != nil {
		return err
	}
	defer func() { _ = logging.Close() }()

	auditDir := cfg.Security.AuditDir
	if auditDir == "" {
		auditDir = config.DefaultAuditDir()
	}

	audit, err := gate.NewAudit(auditDir)
	if err != nil {
		return err
	}

	events, err := audit.List(historyLimit)
	if err != nil {
		return fmt.Errorf("listing audit events: %w", err)
	}

	if viper.GetBool("json") {
		return json.NewEncoder(os.Stdout).Encode(events)
	}

	if len(events) == 0 {
		fmt.Println("No audit events recorded.")
		return nil
	}

	for _, e := range events {
		switch e.Type {
		case gate.EventOverride:
			fmt.Printf("%s  %-8s  %s  reason=%q\n",
				e.Timestamp.Format("2006-01-02 15:04:05"), e.Type, e.IdentityKey, e.Reason)
		default:
			fmt.Printf("%s  %-8s  %s  pattern=%s severity=%s\n",
				e.Timestamp.Format("2006-01-02 15:04:05"), e.Type, e.IdentityKey, e.PatternName, e.Severity)
		}
	}

	return nil
}
