package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/threadline/internal/config"
	"github.com/roach88/threadline/internal/store"
)

// CacheOptions holds flags for the cache commands.
type CacheOptions struct {
	*RootOptions
	Path      string        // overrides cache.path
	OlderThan time.Duration // prune cutoff age
}

// PruneResult reports a prune run.
type PruneResult struct {
	Path    string    `json:"path"`
	Cutoff  time.Time `json:"cutoff"`
	Removed int64     `json:"removed"`
}

// NewCacheCommand creates the cache command group.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CacheOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and prune the SQLite event cache",
	}
	cmd.PersistentFlags().StringVar(&opts.Path, "path", "", "cache database (default: cache.path from config)")

	stats := &cobra.Command{
		Use:           "stats",
		Short:         "Show cache contents",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheStats(cmd.Context(), opts, cmd)
		},
	}

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete events cached longer than --older-than",
		Long: `Delete events stored in the cache before now minus --older-than.

Examples:
  threadline cache prune --older-than 720h`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCachePrune(cmd.Context(), opts, cmd)
		},
	}
	prune.Flags().DurationVar(&opts.OlderThan, "older-than", 30*24*time.Hour, "age of the oldest event to keep")

	cmd.AddCommand(stats, prune)
	return cmd
}

// openCache resolves the cache path from --path or the config file.
func openCache(opts *CacheOptions) (*store.Store, string, error) {
	path := opts.Path
	if path == "" {
		cfg, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, "", WrapExitError(ExitCommandError, "load config", err)
		}
		path = cfg.Cache.Path
	}
	if path == "" {
		return nil, "", NewExitError(ExitCommandError, "no cache configured: set cache.path or pass --path")
	}

	st, err := store.Open(path)
	if err != nil {
		return nil, "", WrapExitError(ExitCommandError, "open cache", err)
	}
	return st, path, nil
}

func runCacheStats(ctx context.Context, opts *CacheOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	st, path, err := openCache(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "read cache", err)
	}

	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(stats)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Cache: %s\n", path)
	fmt.Fprintf(w, "  events:      %d\n", stats.Events)
	fmt.Fprintf(w, "  addressable: %d\n", stats.Addressable)
	if stats.Events > 0 {
		fmt.Fprintf(w, "  oldest:      %s\n", stats.Oldest.Format(time.RFC3339))
		fmt.Fprintf(w, "  newest:      %s\n", stats.Newest.Format(time.RFC3339))
	}
	return nil
}

func runCachePrune(ctx context.Context, opts *CacheOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.OlderThan < 0 {
		return NewExitError(ExitCommandError, "--older-than must not be negative")
	}
	st, path, err := openCache(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	cutoff := time.Now().Add(-opts.OlderThan).UTC()
	removed, err := st.Prune(ctx, cutoff)
	if err != nil {
		return WrapExitError(ExitCommandError, "prune cache", err)
	}
	opts.Logger().Info("cache pruned", "path", path, "removed", removed)

	result := PruneResult{Path: path, Cutoff: cutoff, Removed: removed}
	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Removed %d events cached before %s\n",
		passMark(), removed, cutoff.Format(time.RFC3339))
	return nil
}
