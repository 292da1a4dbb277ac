package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	apiBase    string
	outputJSON bool
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "docsift-cli",
	Short: "docsift CLI for document upload, ingestion status, and question answering",
	Long: `docsift-cli talks to a running docsift API server.

Use this tool to:
- Upload documents and follow their ingestion
- List documents and inspect their status
- Delete documents with all derived chunks and vectors
- Ask questions answered from the indexed corpus

All commands support --json for automation.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if apiBase == "" {
			apiBase = os.Getenv("DOCSIFT_API")
		}
		if apiBase == "" {
			apiBase = "http://localhost:8000"
		}
		if noColor {
			color.NoColor = true
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiBase, "api", "", "API base URL (default: $DOCSIFT_API or http://localhost:8000)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output raw JSON for automation")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newDeleteCmd())
	rootCmd.AddCommand(newAskCmd())
}
