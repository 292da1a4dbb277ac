package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// newAskCmd creates the ask subcommand.
func newAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			client := NewClient(apiBase)

			var s *spinner.Spinner
			if !outputJSON && isTerminal() {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = " thinking..."
				s.Writer = os.Stderr
				s.Start()
			}

			resp, err := client.Ask(cmd.Context(), question)
			if s != nil {
				s.Stop()
			}
			if err != nil {
				return err
			}

			if outputJSON {
				return json.NewEncoder(os.Stdout).Encode(resp)
			}

			fmt.Println(resp.Answer)
			if len(resp.RetrievedContextTexts) == 0 {
				warn("no supporting passages found")
				return nil
			}

			fmt.Println()
			if noColor {
				fmt.Println("Supporting passages:")
			} else {
				color.New(color.FgCyan, color.Bold).Println("Supporting passages:")
			}
			for i, text := range resp.RetrievedContextTexts {
				fmt.Printf("  [%d] %s\n", i+1, strings.TrimSpace(text))
			}
			return nil
		},
	}
}
