package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/codekb/codekb/internal/index"
	"github.com/codekb/codekb/internal/output"
)

type indexFlags struct {
	exclude      []string
	maxFileSize  int64
	force        bool
	nonRecursive bool
	noGitignore  bool
}

func newIndexCmd() *cobra.Command {
	var flags indexFlags

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build or update the full-text index",
		Long: `Index walks the root, tokenizes new and changed files, and retracts
deleted ones. Unchanged files are detected by content hash and skipped.

Examples:
  codekb index
  codekb index --exclude target --exclude "*.min.js"
  codekb index --force`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd, flags)
		},
	}

	cmd.Flags().StringSliceVarP(&flags.exclude, "exclude", "e", nil, "Path globs to skip (repeatable)")
	cmd.Flags().Int64Var(&flags.maxFileSize, "max-file-size", 0, "Per-file byte ceiling (0 = config default)")
	cmd.Flags().BoolVarP(&flags.force, "force", "f", false, "Re-tokenize every file, bypassing change detection")
	cmd.Flags().BoolVar(&flags.nonRecursive, "no-recursive", false, "Do not descend into subdirectories")
	cmd.Flags().BoolVar(&flags.noGitignore, "no-gitignore", false, "Ignore .gitignore rules")

	return cmd
}

func runIndex(cmd *cobra.Command, flags indexFlags) error {
	handle, cfg, root, err := openKB()
	if err != nil {
		return err
	}
	defer func() { _ = handle.Close() }()

	out := output.New(cmd.OutOrStdout())

	maxSize := flags.maxFileSize
	if maxSize == 0 {
		maxSize = cfg.Index.MaxFileSize
	}
	opts := index.Options{
		Recursive:        !flags.nonRecursive,
		Exclude:          append(cfg.ExcludePatterns(), flags.exclude...),
		MaxFileSize:      maxSize,
		Force:            flags.force || handle.NeedsRebuild(),
		RespectGitignore: cfg.Index.RespectGitignore && !flags.noGitignore,
	}

	start := time.Now()
	stats, err := handle.Index(cmd.Context(), root, opts)
	if err != nil {
		return err
	}

	out.Success("Indexed %s in %s", root, time.Since(start).Round(time.Millisecond))
	out.Printf("  scanned: %d  updated: %d  removed: %d  skipped: %d",
		stats.FilesScanned, stats.FilesUpdated, stats.FilesRemoved, stats.FilesSkipped)
	for _, msg := range stats.Errors {
		out.Error("  %s", msg)
	}
	return nil
}
