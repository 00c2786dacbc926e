package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one scheduler cycle over pending messages",
	Long: `process requeues failed records, picks up to the configured batch of
pending messages, and triages each one. Useful for cron-style operation
without the long-running serve command.`,
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}
	defer application.Close()

	stats, err := application.service.RunCycle(cmd.Context())
	if err != nil {
		return err
	}

	if stats.Requeued > 0 {
		fmt.Printf("Requeued %d failed record(s)\n", stats.Requeued)
	}
	fmt.Printf("Processed %d message(s): %d succeeded, %d failed (%s)\n",
		stats.Picked, stats.Succeeded, stats.Failed, stats.Duration.Round(time.Millisecond))
	return nil
}
