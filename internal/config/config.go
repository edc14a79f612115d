// Package config loads threadline settings from defaults, an optional TOML
// file and THREADLINE_* environment variables, and validates the result
// against an embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

//go:embed schema.cue
var schemaCUE string

// EnvPrefix is the prefix of environment overrides, e.g.
// THREADLINE_FETCH_TIMEOUT=3s or THREADLINE_RELAYS_DEFAULT=wss://a,wss://b.
const EnvPrefix = "THREADLINE_"

// Config holds every runtime setting.
type Config struct {
	Relays RelaysConfig `koanf:"relays" json:"relays"`
	Fetch  FetchConfig  `koanf:"fetch" json:"fetch"`
	Cache  CacheConfig  `koanf:"cache" json:"cache"`
	Loader LoaderConfig `koanf:"loader" json:"loader"`
}

// RelaysConfig selects which relays are queried.
type RelaysConfig struct {
	// Default relays are used when an event carries no usable hints.
	Default  []string `koanf:"default" json:"default"`
	MaxHints int      `koanf:"max_hints" json:"max_hints"`
}

// FetchConfig tunes the relay pool.
type FetchConfig struct {
	BatchWindow time.Duration `koanf:"batch_window" json:"batch_window"`
	Timeout     time.Duration `koanf:"timeout" json:"timeout"`
	Rate        float64       `koanf:"rate" json:"rate"`
	Burst       int           `koanf:"burst" json:"burst"`
}

// CacheConfig configures the event caches. An empty Path disables the
// SQLite cache; a zero TTL disables the in-memory one.
type CacheConfig struct {
	Path string        `koanf:"path" json:"path"`
	TTL  time.Duration `koanf:"ttl" json:"ttl"`
}

// LoaderConfig bounds thread resolution.
type LoaderConfig struct {
	MaxRounds int `koanf:"max_rounds" json:"max_rounds"`
}

// Defaults returns the built-in settings.
func Defaults() map[string]any {
	return map[string]any{
		"relays.default":     []string{"wss://relay.damus.io", "wss://nos.lol", "wss://relay.nostr.band"},
		"relays.max_hints":   8,
		"fetch.batch_window": "300ms",
		"fetch.timeout":      "8s",
		"fetch.rate":         5.0,
		"fetch.burst":        5,
		"cache.path":         "",
		"cache.ttl":          "10m",
		"loader.max_rounds":  1000,
	}
}

// DefaultPaths are tried in order when no config file is named.
var DefaultPaths = []string{"./threadline.toml", "$HOME/.config/threadline/config.toml"}

// Load builds the configuration. An explicit path must exist; otherwise the
// first existing entry of DefaultPaths is used, if any.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	} else {
		for _, p := range DefaultPaths {
			p = os.ExpandEnv(p)
			if _, err := os.Stat(p); err != nil {
				continue
			}
			if err := k.Load(file.Provider(p), toml.Parser()); err != nil {
				return nil, fmt.Errorf("load config %s: %w", p, err)
			}
			break
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envValue maps THREADLINE_FETCH_BATCH_WINDOW to fetch.batch_window: the
// first underscore separates section from key. List settings are
// comma-separated.
func envValue(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	key = strings.Replace(key, "_", ".", 1)
	if key == "relays.default" {
		var relays []string
		for _, r := range strings.Split(value, ",") {
			if r = strings.TrimSpace(r); r != "" {
				relays = append(relays, r)
			}
		}
		return key, relays
	}
	return key, value
}

// ValidationError reports the first schema violation.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid config: %s", e.Message)
	}
	return fmt.Sprintf("invalid config: %s: %s", e.Path, e.Message)
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks cfg against the embedded CUE schema.
func Validate(cfg *Config) error {
	c := *cfg
	if c.Relays.Default == nil {
		c.Relays.Default = []string{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		errs := cueerrors.Errors(err)
		if len(errs) == 0 {
			return &ValidationError{Message: err.Error()}
		}
		first := errs[0]
		format, args := first.Msg()
		return &ValidationError{
			Path:    strings.Join(first.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		}
	}
	return nil
}
