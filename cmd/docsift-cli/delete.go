package main

import (
	"github.com/spf13/cobra"
)

// newDeleteCmd creates the delete subcommand.
func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a document with its chunks and vectors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDocumentID(args[0])
			if err != nil {
				return err
			}

			client := NewClient(apiBase)
			if err := client.DeleteDocument(cmd.Context(), id); err != nil {
				return err
			}
			success("document %d deleted", id)
			return nil
		},
	}
}
