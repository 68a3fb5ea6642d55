package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/tempo/pkg/log"
)

var (
	version = "0.1.0"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "tempo",
	Short:   "Tempo discrete-event simulation kernel",
	Long:    `Tempo runs discrete-event simulations over virtual time: a sequential executive with cooperative detachable events, and a parallel coordinator with optimistic time-warp rollback.`,
	Version: version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"tempo version %s\n", version,
	))

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	// Initialize logging before any command runs
	cobra.OnInitialize(initLogging)

	// Add subcommands
	rootCmd.AddCommand(demoCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level: logLevel,
		JSON:  logJSON,
	})
}
