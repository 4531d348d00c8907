// Package config handles configuration loading and sound alias resolution.
// Settings merge in precedence order: command-line flags, NOTIDUCK_*
// environment variables, the config file, then built-in defaults.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Default values applied when neither file, environment, nor flags set them.
const (
	DefaultFadeOut    = 300 * time.Millisecond
	DefaultFadeIn     = 300 * time.Millisecond
	DefaultVolume     = 75
	DefaultDuckVolume = 5
)

// Duration is a time.Duration that unmarshals from either Go duration
// strings ("300ms", "1.5s") or bare numbers interpreted as seconds ("0.3"),
// the format the original flags used.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler, which covers TOML,
// YAML, and environment variable parsing alike.
func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)

	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs < 0 {
			return fmt.Errorf("negative duration %q", s)
		}
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: use seconds like '0.3' or a duration like '300ms': %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config is the notiduck configuration.
type Config struct {
	FadeOut         Duration          `toml:"fade_out" yaml:"fade_out" env:"NOTIDUCK_FADE_OUT" validate:"min=0"`
	FadeIn          Duration          `toml:"fade_in" yaml:"fade_in" env:"NOTIDUCK_FADE_IN" validate:"min=0"`
	Volume          int               `toml:"volume" yaml:"volume" env:"NOTIDUCK_VOLUME" validate:"min=0,max=100"`
	DuckVolume      int               `toml:"duck_volume" yaml:"duck_volume" env:"NOTIDUCK_DUCK_VOLUME" validate:"min=0,max=100"`
	NotifyOnFailure bool              `toml:"notify_on_failure" yaml:"notify_on_failure" env:"NOTIDUCK_NOTIFY_ON_FAILURE"`
	Sounds          map[string]string `toml:"sounds" yaml:"sounds"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		FadeOut:    Duration(DefaultFadeOut),
		FadeIn:     Duration(DefaultFadeIn),
		Volume:     DefaultVolume,
		DuckVolume: DefaultDuckVolume,
		Sounds:     make(map[string]string),
	}
}

// ConfigDir returns the notiduck configuration directory.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config.
func ConfigDir() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "notiduck")
}

// Search returns the first existing config file from the default locations,
// or an empty string when none exists.
func Search() string {
	var candidates []string

	if dir := ConfigDir(); dir != "" {
		candidates = append(candidates,
			filepath.Join(dir, "config.toml"),
			filepath.Join(dir, "config.yml"),
		)
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".notiduck.toml"),
			filepath.Join(home, ".notiduck.yml"),
		)
	}
	candidates = append(candidates, "notiduck.toml", "notiduck.yml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Load reads configuration from path, applies NOTIDUCK_* environment
// overrides, and validates the result. An empty path falls back to
// NOTIDUCK_CONFIG, then the default search locations. A missing file yields
// defaults, not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("NOTIDUCK_CONFIG")
	}
	if path == "" {
		path = Search()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		} else if err := unmarshal(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// unmarshal picks the parser by file extension: YAML for .yml/.yaml,
// TOML otherwise.
func unmarshal(path string, data []byte, cfg *Config) error {
	switch filepath.Ext(path) {
	case ".yml", ".yaml":
		return yaml.Unmarshal(data, cfg)
	default:
		return toml.Unmarshal(data, cfg)
	}
}

// ResolveSound maps a sound alias or path to an absolute, tilde-expanded
// file path and verifies the file exists.
func (c *Config) ResolveSound(sound string) (string, error) {
	path := sound
	if aliased, ok := c.Sounds[sound]; ok {
		path = aliased
	}

	path = ExpandPath(path)

	if _, err := os.Stat(path); err != nil {
		if aliased, ok := c.Sounds[sound]; ok {
			return "", fmt.Errorf("sound %q resolves to %s: %w", sound, aliased, err)
		}
		return "", fmt.Errorf("sound file %s: %w", path, err)
	}
	return path, nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
