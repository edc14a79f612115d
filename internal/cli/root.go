package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/roach88/threadline/internal/cli"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Trace      bool // export spans to stderr

	logger   *slog.Logger
	provider *sdktrace.TracerProvider
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the threadline CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "threadline",
		Short: "threadline - Nostr thread resolution",
		Long: `Resolve the conversation around a Nostr event: its root, its parent and
the ancestors in between, fetched from relays round by round.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.setup(cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return opts.shutdown(context.Background())
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default ./threadline.toml)")
	cmd.PersistentFlags().BoolVar(&opts.Trace, "trace", false, "print tracing spans to stderr")

	cmd.AddCommand(NewResolveCommand(opts))
	cmd.AddCommand(NewExtractCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewCacheCommand(opts))

	return cmd
}

// setup configures logging and, with --trace, a stdout span exporter.
func (o *RootOptions) setup(stderr io.Writer) error {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	o.logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	if !o.Trace {
		return nil
	}
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(stderr),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}
	o.provider = sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	return nil
}

func (o *RootOptions) shutdown(ctx context.Context) error {
	if o.provider == nil {
		return nil
	}
	err := o.provider.Shutdown(ctx)
	o.provider = nil
	if err != nil {
		return fmt.Errorf("shutdown tracer: %w", err)
	}
	return nil
}

// Logger returns the command logger. Commands built without the root
// command log nowhere.
func (o *RootOptions) Logger() *slog.Logger {
	if o.logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o.logger
}

// Tracer returns the exporting tracer with --trace, else the global one.
func (o *RootOptions) Tracer(name string) trace.Tracer {
	if o.provider != nil {
		return o.provider.Tracer(name)
	}
	return otel.Tracer(name)
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
