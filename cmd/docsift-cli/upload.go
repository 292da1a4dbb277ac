package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/docsift/docsift/internal/storage"
)

const pollInterval = 2 * time.Second

// newUploadCmd creates the upload subcommand.
func newUploadCmd() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "upload <files...>",
		Short: "Upload documents for ingestion",
		Long: `Upload sends each file to the API, which stores the raw bytes and
queues an ingestion job. With --wait the command polls each document
until it reaches ready or error.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := NewClient(apiBase)

			var progress *mpb.Progress
			if !outputJSON && isTerminal() {
				progress = mpb.New(mpb.WithWidth(64))
			}

			uploaded := make([]*storage.Document, 0, len(args))
			for _, path := range args {
				doc, err := uploadOne(ctx, client, progress, path)
				if err != nil {
					if progress != nil {
						progress.Shutdown()
					}
					return fmt.Errorf("upload %s: %w", path, err)
				}
				uploaded = append(uploaded, doc)
			}
			if progress != nil {
				progress.Wait()
			}

			if !outputJSON {
				for _, doc := range uploaded {
					success("uploaded %s as document %d (%s)", doc.OriginalFilename, doc.ID, formatBytes(doc.Size))
				}
			}

			if wait {
				failed := 0
				for i := range uploaded {
					final, err := waitForDocument(ctx, client, uploaded[i].ID)
					if err != nil {
						return err
					}
					uploaded[i] = final
					switch final.Status {
					case storage.StatusReady:
						chunks := 0
						if final.NumberOfChunks != nil {
							chunks = *final.NumberOfChunks
						}
						success("document %d ready (%d chunks)", final.ID, chunks)
					case storage.StatusError:
						msg := "unknown error"
						if final.ErrorMessage != nil {
							msg = *final.ErrorMessage
						}
						fail("document %d failed: %s", final.ID, msg)
						failed++
					}
				}
				if failed > 0 && !outputJSON {
					return fmt.Errorf("%d of %d documents failed ingestion", failed, len(uploaded))
				}
			}

			if outputJSON {
				return json.NewEncoder(os.Stdout).Encode(uploaded)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "poll until ingestion reaches ready or error")
	return cmd
}

// uploadOne streams a single file with a per-file progress bar.
func uploadOne(ctx context.Context, client *Client, progress *mpb.Progress, path string) (*storage.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	var body io.Reader = f
	if progress != nil {
		name := filepath.Base(path)
		bar := progress.AddBar(fi.Size(),
			mpb.PrependDecorators(
				decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DSyncSpaceR}),
				decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.Percentage(decor.WC{W: 5}),
				decor.OnComplete(decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 8}), " done"),
			),
		)
		proxy := bar.ProxyReader(f)
		defer proxy.Close()
		body = proxy
	}

	return client.Upload(ctx, path, body)
}

// waitForDocument polls until the document leaves the ingestion states.
func waitForDocument(ctx context.Context, client *Client, id int64) (*storage.Document, error) {
	var s *spinner.Spinner
	if !outputJSON && isTerminal() {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Suffix = fmt.Sprintf(" ingesting document %d...", id)
		s.Writer = os.Stderr
		s.Start()
		defer s.Stop()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		doc, err := client.GetDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		if doc.Status == storage.StatusReady || doc.Status == storage.StatusError {
			return doc, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
