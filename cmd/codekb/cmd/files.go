package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/codekb/codekb/internal/kb"
	"github.com/codekb/codekb/internal/output"
)

func newFilesCmd() *cobra.Command {
	var prefix string
	var language string
	var details bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "files",
		Short: "List indexed files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			handle, _, _, err := openKB()
			if err != nil {
				return err
			}
			defer func() { _ = handle.Close() }()

			records, err := handle.ListFiles(cmd.Context(), kb.ListOptions{
				PathPrefix: prefix,
				Language:   language,
			})
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}

			out := output.New(cmd.OutOrStdout())
			for _, rec := range records {
				if details {
					out.Printf("%s  %s  %d bytes  indexed %s",
						rec.Path, rec.Language, rec.SizeBytes,
						rec.IndexedAt.Format("2006-01-02 15:04:05"))
				} else {
					out.Println(rec.Path)
				}
			}
			out.Printf("%d files indexed", len(records))
			return nil
		},
	}

	cmd.Flags().StringVarP(&prefix, "prefix", "p", "", "Restrict to a path or its subtree")
	cmd.Flags().StringVarP(&language, "language", "l", "", "Language filter")
	cmd.Flags().BoolVarP(&details, "details", "d", false, "Show size, language and index time")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")

	return cmd
}

func newGetCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Show the indexed record for one file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, _, _, err := openKB()
			if err != nil {
				return err
			}
			defer func() { _ = handle.Close() }()

			rec, err := handle.GetFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			}

			out := output.New(cmd.OutOrStdout())
			out.Printf("path:       %s", rec.Path)
			out.Printf("language:   %s", rec.Language)
			out.Printf("size:       %d bytes", rec.SizeBytes)
			out.Printf("hash:       %s", rec.ContentHash)
			out.Printf("modified:   %s", rec.ModTime.Format("2006-01-02 15:04:05"))
			out.Printf("indexed at: %s", rec.IndexedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	return cmd
}

func newClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear [path]",
		Short: "Remove indexed data under a path, or everything",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, _, _, err := openKB()
			if err != nil {
				return err
			}
			defer func() { _ = handle.Close() }()

			path := ""
			if len(args) > 0 {
				path = args[0]
			}
			if err := handle.ClearIndex(cmd.Context(), path); err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if path == "" {
				out.Success("Cleared the whole index")
			} else {
				out.Success("Cleared index under %s", path)
			}
			return nil
		},
	}
	return cmd
}

func newStatsCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			handle, _, _, err := openKB()
			if err != nil {
				return err
			}
			defer func() { _ = handle.Close() }()

			stats, err := handle.Stats(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}

			out := output.New(cmd.OutOrStdout())
			out.Printf("files:     %d", stats.FileCount)
			out.Printf("documents: %d", stats.DocumentCount)
			out.Printf("postings:  %d", stats.PostingCount)
			out.Printf("terms:     %d", stats.TermCount)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	return cmd
}
