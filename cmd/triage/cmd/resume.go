package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sriyan983/slack-triage/internal/core"
)

var (
	resumeFeedback string
	resumeResponse string
)

var resumeCmd = &cobra.Command{
	Use:   "resume <execution-id>",
	Short: "Resume a suspended execution with human feedback",
	Long: `resume completes a respond-classified execution that is waiting for
human input. Feedback is required; an optional response is sent back to
the original Slack channel.`,
	Example: `  triage resume 2f9c... --feedback "handled in standup"
  triage resume 2f9c... --feedback "approved" --response "LGTM, ship it"`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeFeedback, "feedback", "",
		"feedback for the suspended execution (required)")
	resumeCmd.Flags().StringVar(&resumeResponse, "response", "",
		"response to send back to the original channel")
	_ = resumeCmd.MarkFlagRequired("feedback")

	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}
	defer application.Close()

	outcome, err := application.service.Resume(cmd.Context(), core.ExecutionID(args[0]), core.FeedbackPayload{
		Feedback:         resumeFeedback,
		OutboundResponse: resumeResponse,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Execution %s completed\n", outcome.ExecutionID)
	fmt.Printf("Feedback: %s\n", outcome.Feedback)
	if outcome.OutboundResponse != "" {
		fmt.Printf("Response sent: %s\n", outcome.OutboundResponse)
	}
	return nil
}
