package harness

import (
	"bytes"
	"fmt"
	"os"

	"github.com/nbd-wtf/go-nostr"
	"gopkg.in/yaml.v3"

	"github.com/roach88/threadline/internal/ancestry"
	"github.com/roach88/threadline/internal/testutil"
)

// Scenario defines one thread resolution run.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Events is the graph the in-memory relay serves.
	Events []EventSpec `yaml:"events"`

	// Subject is the event whose thread is resolved. It is not served.
	Subject EventSpec `yaml:"subject"`

	// Relays are handed to the loader. Defaults to DefaultRelays.
	Relays []string `yaml:"relays,omitempty"`

	// Delivery shapes how the relay answers.
	Delivery Delivery `yaml:"delivery,omitempty"`

	// MaxRounds bounds the loader. Zero means the loader default.
	MaxRounds int `yaml:"max_rounds,omitempty"`

	// Assertions validate the final thread and the trace.
	Assertions []Assertion `yaml:"assertions"`
}

// DefaultRelays is used when a scenario names none.
var DefaultRelays = []string{"wss://relay.test"}

// EventSpec declares one event.
type EventSpec struct {
	ID        string     `yaml:"id"`
	Kind      int        `yaml:"kind,omitempty"`
	PubKey    string     `yaml:"pubkey,omitempty"`
	D         string     `yaml:"d,omitempty"`
	CreatedAt *int64     `yaml:"created_at,omitempty"`
	Tags      [][]string `yaml:"tags,omitempty"`
}

// Delivery controls the in-memory relay.
type Delivery struct {
	// Split delivers each matching event in its own batch.
	Split bool `yaml:"split,omitempty"`

	// Duplicates delivers every batch twice.
	Duplicates bool `yaml:"duplicates,omitempty"`

	// StopAfterRounds stops the loader when it issues request N+1.
	StopAfterRounds int `yaml:"stop_after_rounds,omitempty"`

	// LateDelivery answers the stopping request anyway, after the stop.
	LateDelivery bool `yaml:"late_delivery,omitempty"`
}

// Assertion validates the outcome.
type Assertion struct {
	Type   string   `yaml:"type"`
	ID     string   `yaml:"id,omitempty"`
	IDs    []string `yaml:"ids,omitempty"`
	Absent bool     `yaml:"absent,omitempty"`
	Count  *int     `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertRoot           = "root"
	AssertParent         = "parent"
	AssertAncestors      = "ancestors"
	AssertThreadOrder    = "thread_order"
	AssertRequestCount   = "request_count"
	AssertNeverRequested = "never_requested"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Subject.ID == "" {
		return fmt.Errorf("subject.id is required")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Delivery.StopAfterRounds < 0 {
		return fmt.Errorf("delivery.stop_after_rounds must not be negative")
	}

	ids := map[string]bool{s.Subject.ID: true}
	for i, evt := range s.Events {
		if evt.ID == "" {
			return fmt.Errorf("events[%d]: id is required", i)
		}
		if ids[evt.ID] {
			return fmt.Errorf("events[%d]: duplicate id %q", i, evt.ID)
		}
		ids[evt.ID] = true
		if err := validateTags(evt.Tags); err != nil {
			return fmt.Errorf("events[%d]: %w", i, err)
		}
	}
	if err := validateTags(s.Subject.Tags); err != nil {
		return fmt.Errorf("subject: %w", err)
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateTags(tags [][]string) error {
	for i, tag := range tags {
		if len(tag) == 0 {
			return fmt.Errorf("tags[%d]: empty tag", i)
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertRoot, AssertParent:
		if a.ID == "" && !a.Absent {
			return fmt.Errorf("assertions[%d]: %s requires id or absent", index, a.Type)
		}
		if a.ID != "" && a.Absent {
			return fmt.Errorf("assertions[%d]: %s cannot have both id and absent", index, a.Type)
		}
	case AssertAncestors, AssertThreadOrder:
		if a.IDs == nil {
			return fmt.Errorf("assertions[%d]: %s requires ids (use [] for none)", index, a.Type)
		}
	case AssertRequestCount:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: request_count requires count", index)
		}
	case AssertNeverRequested:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: never_requested requires id", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown type %q", index, a.Type)
	}
	return nil
}

// build turns a declared event into a nostr event, stamping created_at from
// clock when it is not given.
func (e EventSpec) build(clock *testutil.Clock) *nostr.Event {
	var ts nostr.Timestamp
	if e.CreatedAt != nil {
		ts = nostr.Timestamp(*e.CreatedAt)
	} else {
		ts = clock.Next()
	}

	tags := make([]nostr.Tag, len(e.Tags))
	for i, tag := range e.Tags {
		tags[i] = nostr.Tag(tag)
	}

	if ancestry.IsAddressable(e.Kind) {
		pubkey := e.PubKey
		if pubkey == "" {
			pubkey = "pub-" + e.ID
		}
		evt := testutil.Article(e.ID, pubkey, e.D, ts, tags...)
		evt.Kind = e.Kind
		return evt
	}

	evt := testutil.Note(e.ID, ts, tags...)
	if e.Kind != 0 {
		evt.Kind = e.Kind
	}
	if e.PubKey != "" {
		evt.PubKey = e.PubKey
	}
	return evt
}
