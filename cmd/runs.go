package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zerofisher/pcapscrub/audit"
)

// runs command flags
var (
	runsAuditDB string
	runsLimit   int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded masking runs",
	Long:  `Show past masking runs from the audit database, newest first.`,
	Example: `  pcapscrub runs --audit-db scrub.db
  pcapscrub runs --audit-db scrub.db -n 10`,
	GroupID: "info",
	RunE:    runRuns,
}

func init() {
	runsCmd.Flags().StringVar(&runsAuditDB, "audit-db", "",
		"SQLite audit database (required)")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20,
		"Maximum runs to show")

	runsCmd.MarkFlagRequired("audit-db")
}

func runRuns(cmd *cobra.Command, args []string) error {
	store, err := audit.Open(runsAuditDB)
	if err != nil {
		return fmt.Errorf("error opening audit db: %w", err)
	}
	defer store.Close()

	runs, err := store.ListRuns(runsLimit)
	if err != nil {
		return fmt.Errorf("error listing runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	for _, r := range runs {
		status := "ok"
		if !r.Success {
			status = "FAILED"
		}
		fmt.Printf("#%d  %s  %s\n", r.ID, r.StartedAt.Format(time.RFC3339), status)
		fmt.Printf("    %s -> %s\n", r.Input, r.Output)
		fmt.Printf("    packets=%d modified=%d bytes_masked=%d streams=%d elapsed=%s\n",
			r.TotalPackets, r.ModifiedPackets, r.BytesMasked, r.Streams, r.Duration)
		if r.Error != "" {
			fmt.Printf("    error: %s\n", r.Error)
		}
	}
	return nil
}
