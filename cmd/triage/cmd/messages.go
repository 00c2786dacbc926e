package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/sriyan983/slack-triage/internal/core"
)

var messagesClassification string

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	classificationStyles = map[core.Classification]lipgloss.Style{
		core.ClassificationIgnore:  lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		core.ClassificationNotify:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		core.ClassificationRespond: lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}
)

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "List triaged messages",
	RunE:  runMessages,
}

func init() {
	messagesCmd.Flags().StringVar(&messagesClassification, "classification", "",
		"filter by classification (ignore, notify, respond)")

	rootCmd.AddCommand(messagesCmd)
}

func runMessages(cmd *cobra.Command, args []string) error {
	c := core.Classification(messagesClassification)
	if c != "" && !core.ValidClassification(c) {
		return core.ErrValidation(core.CodeUnknownClassification,
			"classification must be ignore, notify, or respond")
	}

	application, err := buildApp()
	if err != nil {
		return err
	}
	defer application.Close()

	records, err := application.service.ListMessages(cmd.Context(), c)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println(dimStyle.Render("No messages."))
		return nil
	}

	for _, rec := range records {
		style, ok := classificationStyles[rec.Classification]
		if !ok {
			style = dimStyle
		}
		fmt.Printf("%s %s %s\n",
			headerStyle.Render(fmt.Sprintf("#%d", rec.ID)),
			style.Render(strings.ToUpper(string(rec.Classification))),
			dimStyle.Render(fmt.Sprintf("%s/%s %s", rec.Channel, rec.Sender, rec.ArrivalTS.Format("2006-01-02 15:04"))))
		fmt.Printf("  %s\n", truncate(rec.Text, 100))
		if rec.Status == core.ProcessedStatus(core.ClassificationRespond) {
			fmt.Printf("  %s\n", dimStyle.Render("awaiting feedback, execution "+string(rec.ExecutionID)))
		}
		if rec.LastError != "" {
			fmt.Printf("  %s\n", dimStyle.Render("last error: "+truncate(rec.LastError, 80)))
		}
	}
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ledger counts per processing status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}
	defer application.Close()

	counts, err := application.service.Stats(cmd.Context())
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		fmt.Println(dimStyle.Render("Ledger is empty."))
		return nil
	}

	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)

	fmt.Println(headerStyle.Render("Ledger status"))
	for _, s := range statuses {
		fmt.Printf("  %-20s %d\n", s, counts[core.ProcessingStatus(s)])
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
