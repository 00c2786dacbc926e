package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start <channel|sender|text>",
	Short: "Submit one message and triage it immediately",
	Long: `start ingests a single message in "channel|sender|text" form and runs
it through classification right away. Resubmitting the same line returns
the original record instead of triaging twice.`,
	Example: `  triage start "C042ABC|U123DEF|can someone review my PR?"`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}
	defer application.Close()

	res, err := application.service.Start(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return err
	}

	if res.Duplicate {
		fmt.Printf("Duplicate of record %d (status %s)\n", res.Record.ID, res.Record.Status)
		if res.Record.ExecutionID != "" {
			fmt.Printf("Execution: %s\n", res.Record.ExecutionID)
		}
		return nil
	}

	fmt.Printf("Record %d classified as %s\n", res.Record.ID, res.Record.Classification)
	if res.Record.Rationale != "" {
		fmt.Printf("Rationale: %s\n", res.Record.Rationale)
	}

	if res.Execution != nil && res.Execution.IsSuspended() {
		fmt.Printf("\nWaiting for human feedback.\n")
		fmt.Printf("  %s\n", res.Execution.Suspension.Prompt)
		fmt.Printf("\nResume with:\n  triage resume %s --feedback \"...\" [--response \"...\"]\n", res.Execution.ID)
	}
	return nil
}
