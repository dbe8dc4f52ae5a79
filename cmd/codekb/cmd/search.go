package cmd

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codekb/codekb/internal/output"
	"github.com/codekb/codekb/internal/search"
)

type searchFlags struct {
	scope         string
	pattern       string
	language      string
	limit         int
	caseSensitive bool
	jsonOut       bool
}

func newSearchCmd() *cobra.Command {
	var flags searchFlags

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a ranked query against the index",
		Long: `Search returns files ranked by TF-IDF relevance, with matched lines
and surrounding context.

Examples:
  codekb search "read_file"
  codekb search handler --language go --limit 5
  codekb search Parse --case-sensitive --pattern "*.rs"
  codekb search "open database" --scope internal/store`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), flags)
		},
	}

	cmd.Flags().StringVarP(&flags.scope, "scope", "s", "", "Restrict to a path or its subtree")
	cmd.Flags().StringVarP(&flags.pattern, "pattern", "p", "", "File glob (e.g. \"*.go\")")
	cmd.Flags().StringVarP(&flags.language, "language", "l", "", "Language filter (e.g. go, rust)")
	cmd.Flags().IntVarP(&flags.limit, "limit", "n", 0, "Maximum results (0 = config default)")
	cmd.Flags().BoolVarP(&flags.caseSensitive, "case-sensitive", "c", false, "Match exact case")
	cmd.Flags().BoolVar(&flags.jsonOut, "json", false, "Emit JSON")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, flags searchFlags) error {
	handle, cfg, _, err := openKB()
	if err != nil {
		return err
	}
	defer func() { _ = handle.Close() }()

	limit := flags.limit
	if limit <= 0 {
		limit = cfg.Search.MaxResults
	}
	results, err := handle.Search(cmd.Context(), query, search.Options{
		PathScope:     flags.scope,
		FilePattern:   flags.pattern,
		Language:      flags.language,
		MaxResults:    limit,
		CaseSensitive: flags.caseSensitive,
		ContextLines:  cfg.Search.ContextLines,
		MaxSnippets:   cfg.Search.MaxSnippetsPerFile,
	})
	if err != nil {
		return err
	}

	if flags.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	out := output.New(cmd.OutOrStdout())
	if len(results) == 0 {
		out.Printf("No results for %q", query)
		return nil
	}

	out.Printf("Found %d results for %q:", len(results), query)
	out.Newline()
	for i, r := range results {
		out.Location("%d. %s (%.2f, %s)", i+1, r.Path, r.Score, r.Language)
		prev := 0
		for _, line := range r.Lines {
			if prev != 0 && line.Line > prev+1 {
				out.Dim("   ...")
			}
			prev = line.Line

			spans := make([][2]int, len(line.Spans))
			for j, sp := range line.Spans {
				spans[j] = [2]int{sp.Start, sp.End}
			}
			out.Printf("  %4d | %s", line.Line, out.Highlight(line.Text, spans))
		}
		out.Newline()
	}
	return nil
}
