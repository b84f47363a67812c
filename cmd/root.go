// Package cmd provides the CLI commands for pcapscrub using Cobra.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "pcapscrub",
	Short: "Sanitize packet captures by masking TCP payload bytes",
	Long: `pcapscrub rewrites application-layer bytes inside TCP streams of a
capture file, addressed by TCP sequence number, while leaving protocol
framing intact. Redaction rules come from a JSON rules file; every rule
names a directional stream, a sequence interval and a mask operation.

Examples:
  pcapscrub streams capture.pcap                   # Enumerate streams to author rules against
  pcapscrub mask capture.pcap -R rules.json -w out.pcap
  pcapscrub mask capture.pcap -R rules.json -w out.pcap --strict
  pcapscrub verify capture.pcap out.pcap -R rules.json
  pcapscrub runs --audit-db scrub.db               # Show past masking runs`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")

	rootCmd.AddGroup(
		&cobra.Group{ID: "scrub", Title: "Scrubbing Commands:"},
		&cobra.Group{ID: "info", Title: "Information Commands:"},
	)

	rootCmd.AddCommand(maskCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(streamsCmd)
	rootCmd.AddCommand(runsCmd)
}

// newLogger builds the command-line logger. Errors fall back to a no-op
// logger rather than aborting the command.
func newLogger() *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if verbose {
		logger, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		cfg.OutputPaths = []string{"stderr"}
		logger, err = cfg.Build()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
