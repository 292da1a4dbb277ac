package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/docsift/docsift/internal/storage"
)

// newStatusCmd creates the status subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show one document's ingestion state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDocumentID(args[0])
			if err != nil {
				return err
			}

			client := NewClient(apiBase)
			doc, err := client.GetDocument(cmd.Context(), id)
			if err != nil {
				return err
			}

			if outputJSON {
				return json.NewEncoder(os.Stdout).Encode(doc)
			}

			switch doc.Status {
			case storage.StatusReady:
				success("document %d is ready", doc.ID)
			case storage.StatusError:
				fail("document %d failed", doc.ID)
			default:
				info("document %d is %s", doc.ID, doc.Status)
			}

			keyValue("filename", doc.OriginalFilename)
			keyValue("content type", doc.ContentType)
			keyValue("size", formatBytes(doc.Size))
			keyValue("uploaded", doc.CreatedAt.Format("2006-01-02 15:04:05"))
			if doc.NumberOfChunks != nil {
				keyValue("chunks", *doc.NumberOfChunks)
			}
			if doc.ProcessedAt != nil {
				keyValue("processed", doc.ProcessedAt.Format("2006-01-02 15:04:05"))
			}
			if doc.ErrorMessage != nil {
				keyValue("error", *doc.ErrorMessage)
			}
			return nil
		},
	}
}

func parseDocumentID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("document id must be a positive integer, got %q", raw)
	}
	return id, nil
}
