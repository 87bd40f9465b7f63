package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/docindex/internal/models"
	"github.com/markdave123-py/docindex/internal/services"
)

const snippetLen = 80

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		category  string
		limit     int
		threshold float64
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Search the chunks of ready documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := opts.openApp(ctx)
			if err != nil {
				return err
			}
			defer closeApp(a)

			results, err := a.Search.Search(ctx, strings.Join(args, " "), models.SearchOptions{
				Category:  category,
				Limit:     limit,
				Threshold: &threshold,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			if len(results) == 0 {
				fmt.Fprintln(out, "no results")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SIMILARITY\tDOCUMENT\tCHUNK\tPAGE\tTEXT")
			for _, r := range results {
				page := "-"
				if r.PageNumber != nil {
					page = fmt.Sprint(*r.PageNumber)
				}
				fmt.Fprintf(tw, "%.4f\t%s\t%d\t%s\t%s\n", r.Similarity, r.DocumentTitle, r.ChunkIndex, page, snippet(r.Content))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", "Only search documents with this category")
	cmd.Flags().IntVarP(&limit, "limit", "n", services.DefaultLimit, "Maximum number of results")
	cmd.Flags().Float64Var(&threshold, "threshold", services.DefaultThreshold, "Minimum cosine similarity")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}

func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= snippetLen {
		return s
	}
	return string(r[:snippetLen-1]) + "…"
}
