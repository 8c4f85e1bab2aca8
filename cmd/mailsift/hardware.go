package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/mailsift/pkg/mailsift/hardware"
	"github.com/jamesainslie/mailsift/pkg/mailsift/logging"
)

var hardwareCmd = &cobra.Command{
	Use:   "hardware",
	Short: "Show the detected hardware profile",
	Long: `Probes CPU, RAM, and GPU, classifies the capability tier, and shows
the concurrency defaults derived from it.`,
	RunE: runHardware,
}

func init() {
	rootCmd.AddCommand(hardwareCmd)
}

// runHardware probes and prints the hardware profile.
func runHardware(cmd *cobra.Command, args []string) error {
	if _, err := loadConfigAndLogging(); err != nil {
		return err
	}
	defer func() { _ = logging.Close() }()

	profile := hardware.Detect(context.Background())

	if viper.GetBool("json") {
		return json.NewEncoder(os.Stdout).Encode(profile)
	}

	fmt.Printf("Tier:          %s\n", profile.Tier)
	fmt.Printf("CPU cores:     %d\n", profile.CPUCores)
	fmt.Printf("RAM total:     %s\n", humanize.IBytes(uint64(profile.RAMTotal)))
	fmt.Printf("RAM available: %s\n", humanize.IBytes(uint64(profile.RAMAvailable)))
	if profile.GPUPresent {
		fmt.Printf("GPU:           present (%s VRAM)\n", humanize.IBytes(uint64(profile.VRAM)))
	} else {
		fmt.Printf("GPU:           not detected\n")
	}
	fmt.Printf("Pool size:     %d\n", profile.PoolSize())

	return nil
}
