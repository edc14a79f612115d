package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/spf13/cobra"

	"github.com/roach88/threadline/internal/ancestry"
)

// ExtractResult lists the references one event makes.
type ExtractResult struct {
	ID         string   `json:"id"`
	Address    string   `json:"address,omitempty"`
	Roots      []string `json:"roots"`
	Replies    []string `json:"replies"`
	Mentions   []string `json:"mentions"`
	RelayHints []string `json:"relay_hints,omitempty"`
}

// NewExtractCommand creates the extract command.
func NewExtractCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract [event.json|-]",
		Short: "Print the references an event makes",
		Long: `Read one event as JSON and print the identifiers it references, grouped
into roots, replies and mentions. Reads standard input when no file is given
or the file is "-".

Examples:
  threadline extract event.json
  cat event.json | threadline extract --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			return runExtract(rootOpts, path, cmd)
		},
	}
	return cmd
}

func runExtract(opts *RootOptions, path string, cmd *cobra.Command) error {
	evt, err := readEvent(path, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "read event", err)
	}

	refs := ancestry.Extract(evt)
	result := ExtractResult{
		ID:         evt.ID,
		Address:    ancestry.Address(evt),
		Roots:      refs.Roots,
		Replies:    refs.Replies,
		Mentions:   refs.Mentions,
		RelayHints: refs.RelayHints(),
	}

	if opts.Format == "json" {
		return newFormatter(opts, cmd).Success(result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "event     %s\n", result.ID)
	if result.Address != "" {
		fmt.Fprintf(w, "address   %s\n", result.Address)
	}
	printRefs(w, "roots", result.Roots)
	printRefs(w, "replies", result.Replies)
	printRefs(w, "mentions", result.Mentions)
	if len(result.RelayHints) > 0 {
		printRefs(w, "hints", result.RelayHints)
	}
	return nil
}

func printRefs(w io.Writer, label string, ids []string) {
	if len(ids) == 0 {
		fmt.Fprintf(w, "%-9s %s\n", label, dimColor.Sprint("-"))
		return
	}
	fmt.Fprintf(w, "%-9s %s\n", label, strings.Join(ids, ", "))
}

// readEvent decodes one event from path, or from stdin when path is "-".
func readEvent(path string, stdin io.Reader) (*nostr.Event, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	var evt nostr.Event
	if err := evt.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("parse event: %w", err)
	}
	return &evt, nil
}
