package cli

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/roach88/threadline/internal/ancestry"
	"github.com/roach88/threadline/internal/config"
	"github.com/roach88/threadline/internal/fetch"
	"github.com/roach88/threadline/internal/relay"
	"github.com/roach88/threadline/internal/store"
	"github.com/roach88/threadline/internal/thread"
)

// DefaultResolveTimeout bounds a resolve run when --timeout is not given.
const DefaultResolveTimeout = 30 * time.Second

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	Relays  []string      // relays to use instead of the configured defaults
	Timeout time.Duration // overall bound on fetching
	NoCache bool          // skip the SQLite cache even if configured
}

// ResolveResult is the resolved thread around one subject.
type ResolveResult struct {
	Subject   *nostr.Event   `json:"subject"`
	Root      *nostr.Event   `json:"root,omitempty"`
	Ancestors []*nostr.Event `json:"ancestors"`
	Parent    *nostr.Event   `json:"parent,omitempty"`
	Relays    []string       `json:"relays"`
	Rounds    int            `json:"rounds"`
	Complete  bool           `json:"complete"`
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve <note|nevent|naddr|hex-id>",
		Short: "Resolve the thread around an event",
		Long: `Fetch an event and resolve its thread: the root, the parent being replied
to, and the ancestors in between.

Relays are chosen from the hints carried by the pointer and the event's
tags, falling back to the configured defaults (or --relay).

Exit codes:
  0 - Thread resolved (possibly partial on timeout)
  1 - Subject event not found
  2 - Command error (bad pointer, invalid config, etc.)

Examples:
  threadline resolve note1...
  threadline resolve nevent1... --timeout 10s
  threadline resolve <hex-id> --relay wss://relay.damus.io --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Relays, "relay", "r", nil, "relay to query (repeatable, overrides configured defaults)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", DefaultResolveTimeout, "stop fetching after this long")
	cmd.Flags().BoolVar(&opts.NoCache, "no-cache", false, "do not read or write the SQLite event cache")

	return cmd
}

// subjectRef is a decoded event pointer.
type subjectRef struct {
	// Identifier is an event id or a "kind:pubkey:d" address.
	Identifier string
	Relays     []string
}

// parseSubject decodes a note, nevent, naddr or 64-character hex id.
func parseSubject(arg string) (subjectRef, error) {
	arg = strings.TrimPrefix(strings.TrimSpace(arg), "nostr:")
	if isHexID(arg) {
		return subjectRef{Identifier: strings.ToLower(arg)}, nil
	}

	prefix, value, err := nip19.Decode(arg)
	if err != nil {
		return subjectRef{}, fmt.Errorf("decode %q: %w", arg, err)
	}

	switch v := value.(type) {
	case string:
		if prefix != "note" {
			return subjectRef{}, fmt.Errorf("%s does not point at an event", prefix)
		}
		return subjectRef{Identifier: v}, nil
	case nostr.EventPointer:
		return subjectRef{Identifier: v.ID, Relays: v.Relays}, nil
	case nostr.EntityPointer:
		return subjectRef{
			Identifier: fmt.Sprintf("%d:%s:%s", v.Kind, v.PublicKey, v.Identifier),
			Relays:     v.Relays,
		}, nil
	default:
		return subjectRef{}, fmt.Errorf("%s does not point at an event", prefix)
	}
}

func isHexID(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func runResolve(ctx context.Context, opts *ResolveOptions, arg string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := newFormatter(opts.RootOptions, cmd)
	logger := opts.Logger()

	ref, err := parseSubject(arg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid event pointer", err)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	fallback := cfg.Relays.Default
	if len(opts.Relays) > 0 {
		fallback = opts.Relays
	}

	tracer := opts.Tracer(tracerName)
	fetcher, closeFetcher, err := buildFetcher(cfg, opts.NoCache, logger, tracer)
	if err != nil {
		return WrapExitError(ExitCommandError, "open event cache", err)
	}
	defer closeFetcher()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	subjectRelays := relay.SelectHints(ref.Relays, cfg.Relays.MaxHints, fallback)
	out.VerboseLog("fetching %s from %v", ref.Identifier, subjectRelays)

	subject, err := fetchOne(ctx, fetcher, subjectRelays, ref.Identifier)
	if err != nil {
		return WrapExitError(ExitFailure, "fetch subject", err)
	}
	if subject == nil {
		if fmtErr := out.Error("E_NOT_FOUND", "subject event not found", map[string]any{
			"id":     ref.Identifier,
			"relays": subjectRelays,
		}); fmtErr != nil {
			return fmtErr
		}
		return NewExitError(ExitFailure, fmt.Sprintf("event %s not found", ref.Identifier))
	}

	refs := ancestry.Extract(subject)
	hints := append(append([]string(nil), ref.Relays...), refs.RelayHints()...)
	relays := relay.SelectHints(hints, cfg.Relays.MaxHints, fallback)
	out.VerboseLog("resolving %d references from %v", len(refs.All()), relays)

	loader := thread.New(ctx, subject, relays, fetcher,
		thread.WithBatchWindow(cfg.Fetch.BatchWindow),
		thread.WithMaxRounds(cfg.Loader.MaxRounds),
		thread.WithLogger(logger),
		thread.WithTracer(tracer),
	)
	waitErr := loader.Wait(ctx)
	loader.Stop()
	if waitErr != nil {
		logger.Warn("resolve timed out, thread may be partial", "timeout", opts.Timeout)
	}
	if err := loader.Err(); err != nil {
		logger.Warn("resolution cut short", "error", err)
	}

	snap := loader.Snapshot()
	result := ResolveResult{
		Subject:   subject,
		Root:      snap.Root,
		Ancestors: snap.Ancestors,
		Parent:    snap.Parent,
		Relays:    relays,
		Rounds:    loader.Rounds(),
		Complete:  waitErr == nil && loader.Err() == nil,
	}

	if opts.Format == "json" {
		return out.Success(result)
	}
	printThread(cmd.OutOrStdout(), result)
	return nil
}

// buildFetcher assembles the relay pool and, when a cache path is configured,
// the SQLite cache in front of it. The returned func releases both.
func buildFetcher(cfg *config.Config, noCache bool, logger *slog.Logger, tracer trace.Tracer) (fetch.Fetcher, func(), error) {
	pool := relay.NewPool(
		relay.WithTimeout(cfg.Fetch.Timeout),
		relay.WithRate(rate.Limit(cfg.Fetch.Rate), cfg.Fetch.Burst),
		relay.WithCacheTTL(cfg.Cache.TTL),
		relay.WithPoolLogger(logger),
		relay.WithPoolTracer(tracer),
	)

	if cfg.Cache.Path == "" || noCache {
		return pool, func() { _ = pool.Close() }, nil
	}

	st, err := store.Open(cfg.Cache.Path)
	if err != nil {
		_ = pool.Close()
		return nil, nil, err
	}
	fetcher := fetch.Chain(store.NewSource(st, logger), store.NewRecorder(st, pool, logger))
	return fetcher, func() {
		_ = pool.Close()
		_ = st.Close()
	}, nil
}

// fetchOne loads the newest event answering to identifier. It returns nil
// without error when no source has it.
func fetchOne(ctx context.Context, f fetch.Fetcher, relays []string, identifier string) (*nostr.Event, error) {
	var (
		mu    sync.Mutex
		found *nostr.Event
	)
	done := make(chan struct{})

	f.Load(ctx, fetch.Once(fetch.Request{
		Relays:  relays,
		Filters: fetch.IDFilters([]string{identifier}),
		OnEvent: func(evts []*nostr.Event) {
			mu.Lock()
			defer mu.Unlock()
			for _, evt := range evts {
				if found == nil || evt.CreatedAt > found.CreatedAt {
					found = evt
				}
			}
		},
		OnDone: func() { close(done) },
	}))

	select {
	case <-done:
	case <-ctx.Done():
		// A deadline still returns whatever arrived in time.
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
	}

	mu.Lock()
	defer mu.Unlock()
	return found, nil
}

// printThread writes the thread top-down, subject last.
func printThread(w io.Writer, r ResolveResult) {
	if r.Root != nil {
		printEvent(w, "root", r.Root)
	}
	for _, evt := range r.Ancestors {
		printEvent(w, "ancestor", evt)
	}
	if r.Parent != nil {
		printEvent(w, "parent", r.Parent)
	}
	printEvent(w, "subject", r.Subject)

	fmt.Fprintln(w)
	summary := fmt.Sprintf("%d rounds across %d relays", r.Rounds, len(r.Relays))
	if r.Complete {
		fmt.Fprintf(w, "%s %s\n", passMark(), summary)
	} else {
		fmt.Fprintf(w, "%s %s (thread may be partial)\n", failMark(), summary)
	}
}

func printEvent(w io.Writer, role string, evt *nostr.Event) {
	fmt.Fprintf(w, "%-9s %s %s\n", role, evt.ID,
		dimColor.Sprint(evt.CreatedAt.Time().UTC().Format(time.RFC3339)))
	if content := preview(evt.Content, 72); content != "" {
		fmt.Fprintf(w, "          %s\n", content)
	}
}

// preview flattens content to one line of at most n runes.
func preview(content string, n int) string {
	flat := strings.Join(strings.Fields(content), " ")
	runes := []rune(flat)
	if len(runes) <= n {
		return flat
	}
	return string(runes[:n-1]) + "…"
}
