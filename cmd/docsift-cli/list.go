package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// newListCmd creates the list subcommand.
func newListCmd() *cobra.Command {
	var (
		limit  int
		offset int
		order  string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List uploaded documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewClient(apiBase)
			resp, err := client.ListDocuments(cmd.Context(), limit, offset, order)
			if err != nil {
				return err
			}

			if outputJSON {
				return json.NewEncoder(os.Stdout).Encode(resp)
			}
			if len(resp.Documents) == 0 {
				info("no documents")
				return nil
			}

			rows := make([][]string, 0, len(resp.Documents))
			for _, doc := range resp.Documents {
				chunks := "-"
				if doc.NumberOfChunks != nil {
					chunks = strconv.Itoa(*doc.NumberOfChunks)
				}
				rows = append(rows, []string{
					strconv.FormatInt(doc.ID, 10),
					doc.OriginalFilename,
					string(doc.Status),
					chunks,
					formatBytes(doc.Size),
					doc.CreatedAt.Format("2006-01-02 15:04"),
				})
			}
			table([]string{"ID", "FILENAME", "STATUS", "CHUNKS", "SIZE", "CREATED"}, rows)
			fmt.Printf("\n%d documents (offset %d)\n", len(resp.Documents), resp.Offset)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "page size (max 100)")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	cmd.Flags().StringVar(&order, "order", "", "created_at_desc (default) or created_at_asc")
	return cmd
}
