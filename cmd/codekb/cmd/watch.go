package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codekb/codekb/internal/config"
	"github.com/codekb/codekb/internal/index"
	"github.com/codekb/codekb/internal/output"
	"github.com/codekb/codekb/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var exclude []string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Continuously re-index on file changes",
		Long: `Watch keeps the index up to date: file events are debounced into
batches and each batch triggers an incremental re-index. Unchanged
files are skipped by content hash, so each pass is cheap.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, exclude)
		},
	}

	cmd.Flags().StringSliceVarP(&exclude, "exclude", "e", nil, "Path globs to skip (repeatable)")
	return cmd
}

func runWatch(cmd *cobra.Command, exclude []string) error {
	handle, cfg, root, err := openKB()
	if err != nil {
		return err
	}
	defer func() { _ = handle.Close() }()

	out := output.New(cmd.OutOrStdout())

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := index.Options{
		Recursive:        true,
		Exclude:          append(cfg.ExcludePatterns(), exclude...),
		MaxFileSize:      cfg.Index.MaxFileSize,
		RespectGitignore: cfg.Index.RespectGitignore,
	}

	// Bring the index current before watching.
	stats, err := handle.Index(ctx, root, opts)
	if err != nil {
		return err
	}
	out.Success("Initial index: %d updated, %d removed", stats.FilesUpdated, stats.FilesRemoved)

	w, err := watcher.New(watcher.Options{
		Exclude: append([]string{config.DefaultDataDirName}, cfg.ExcludePatterns()...),
	})
	if err != nil {
		return err
	}

	go func() {
		for batch := range w.Batches() {
			// A .gitignore edit changes what the crawler should see.
			for _, ev := range batch {
				if ev.Path == ".gitignore" || strings.HasSuffix(ev.Path, "/.gitignore") {
					handle.Indexer().Crawler().InvalidateGitignoreCache()
					break
				}
			}

			stats, err := handle.Index(ctx, root, opts)
			if err != nil {
				slog.Error("incremental index failed", slog.String("error", err.Error()))
				continue
			}
			if stats.FilesUpdated > 0 || stats.FilesRemoved > 0 {
				out.Printf("re-indexed: %d updated, %d removed (%d events)",
					stats.FilesUpdated, stats.FilesRemoved, len(batch))
			}
		}
	}()

	out.Printf("Watching %s (Ctrl-C to stop)", root)
	if err := w.Run(ctx, root); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
