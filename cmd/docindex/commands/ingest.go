package commands

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/docindex/internal/app"
	"github.com/markdave123-py/docindex/internal/models"
	"github.com/markdave123-py/docindex/internal/services"
)

const pollInterval = 200 * time.Millisecond

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var (
		title    string
		category string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Ingest local files and wait until they are searchable",
		Long: `Ingest one or more local files. Plain text and markdown are indexed as is;
PDF, DOCX, HTML and the other formats docconv understands are converted first.

Examples:
  docindex ingest handbook.pdf --category hr
  docindex ingest notes/*.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if title != "" && len(args) > 1 {
				return errors.New("ingest: --title needs exactly one file")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			a, err := opts.openApp(ctx)
			if err != nil {
				return err
			}
			defer closeApp(a)

			ids := make([]string, 0, len(args))
			for _, path := range args {
				req, err := fileRequest(path, title, category)
				if err != nil {
					return err
				}
				doc, err := a.Documents.Create(ctx, req)
				if err != nil {
					return fmt.Errorf("ingest %s: %w", path, err)
				}
				ids = append(ids, doc.ID)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DOCUMENT\tFILE\tSTATUS\tCHUNKS\tERROR")
			failed := 0
			for i, id := range ids {
				st, err := waitTerminal(ctx, a, id)
				if err != nil {
					return err
				}
				if st.Status != models.StatusReady {
					failed++
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", id, filepath.Base(args[i]), st.Status, st.ChunkCount, st.Error)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("ingest: %d of %d documents failed", failed, len(ids))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Document title (default: file name without extension)")
	cmd.Flags().StringVarP(&category, "category", "c", "", "Category tag used to filter searches")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Give up waiting after this long")
	return cmd
}

func fileRequest(path, title, category string) (services.CreateDocumentRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return services.CreateDocumentRequest{}, fmt.Errorf("read %s: %w", path, err)
	}
	name := filepath.Base(path)
	if title == "" {
		title = strings.TrimSuffix(name, filepath.Ext(name))
	}
	return services.CreateDocumentRequest{
		Title:            title,
		Category:         category,
		FileType:         contentType(name),
		OriginalFileName: name,
		FileSize:         int64(len(data)),
		Data:             data,
	}, nil
}

func contentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt", "":
		return "text/plain"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func waitTerminal(ctx context.Context, a *app.App, id string) (*services.DocumentStatus, error) {
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		st, err := a.Documents.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		if st.Status.IsTerminal() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", id, ctx.Err())
		case <-t.C:
		}
	}
}
