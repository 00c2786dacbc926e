package cmd

import (
	"fmt"
	"os"

	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sriyan983/slack-triage/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold a .triage.yaml config in the current directory",
	RunE:  runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false,
		"overwrite an existing config file")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	const path = ".triage.yaml"

	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	// Parse the template before writing so a drifted default never
	// scaffolds a broken config.
	var check map[string]interface{}
	if err := yaml.Unmarshal([]byte(config.DefaultConfigYAML), &check); err != nil {
		return fmt.Errorf("default config is invalid yaml: %w", err)
	}

	if err := renameio.WriteFile(path, []byte(config.DefaultConfigYAML), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	fmt.Printf("Wrote %s\n", path)
	fmt.Println("Next steps:")
	fmt.Println("  1. Set TRIAGE_SLACK_BOT_TOKEN and TRIAGE_SLACK_APP_TOKEN")
	fmt.Println("  2. Set TRIAGE_CLASSIFIER_API_KEY")
	fmt.Println("  3. Run: triage serve")
	return nil
}
