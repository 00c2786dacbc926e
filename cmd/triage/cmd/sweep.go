package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Archive and delete records past the retention window",
	Long: `sweep archives ledger records older than retention.max_age to the
archive directory as JSON, then deletes them. Records whose executions
are still suspended are left untouched.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}
	defer application.Close()

	if !application.sweeper.Enabled() {
		return fmt.Errorf("retention is disabled, set retention.max_age to enable sweeping")
	}

	stats, err := application.sweeper.Sweep(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Examined %d record(s): archived %d, skipped %d, deleted %d\n",
		stats.Examined, stats.Archived, stats.Skipped, stats.Deleted)
	return nil
}
