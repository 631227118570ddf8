// Package config loads the per-project .gmlindex.toml settings.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pelletier/go-toml/v2"
)

// FileName is the config file looked up at the project root.
const FileName = ".gmlindex.toml"

// Config holds the indexer settings. Zero values are never used directly;
// Load starts from Default and overlays the file.
type Config struct {
	Include    []string `toml:"include"`
	Exclude    []string `toml:"exclude"`
	Cache      string   `toml:"cache"`
	Workers    int      `toml:"workers"`
	ScriptsDir string   `toml:"scripts_dir"`
	LogLevel   string   `toml:"log_level"`
	Watch      Watch    `toml:"watch"`
}

type Watch struct {
	DebounceMs int `toml:"debounce_ms"`
}

// Default returns the settings used when no config file exists.
func Default() *Config {
	return &Config{
		Include:  []string{"**/*.gml"},
		Exclude:  []string{".gmlindex/**", "**/.git/**"},
		Cache:    filepath.Join(".gmlindex", "cache.db"),
		Workers:  runtime.NumCPU(),
		LogLevel: "warn",
		Watch:    Watch{DebounceMs: 150},
	}
}

// fileConfig mirrors Config with optional fields so a file only overrides
// what it sets.
type fileConfig struct {
	Include    []string `toml:"include"`
	Exclude    []string `toml:"exclude"`
	Cache      *string  `toml:"cache"`
	Workers    *int     `toml:"workers"`
	ScriptsDir *string  `toml:"scripts_dir"`
	LogLevel   *string  `toml:"log_level"`
	Watch      struct {
		DebounceMs *int `toml:"debounce_ms"`
	} `toml:"watch"`
}

// Load reads root/.gmlindex.toml over the defaults. A missing file is not an
// error.
func Load(root string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(root, FileName))
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes TOML config text over the defaults. Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	var f fileConfig
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) && len(strict.Errors) > 0 {
			return nil, fmt.Errorf("config: unknown key %q", strings.Join(strict.Errors[0].Key(), "."))
		}
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg := merge(Default(), &f)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// merge overlays f on base. Include replaces the defaults; Exclude adds to
// them.
func merge(base *Config, f *fileConfig) *Config {
	if len(f.Include) > 0 {
		base.Include = f.Include
	}
	seen := make(map[string]bool, len(base.Exclude))
	for _, p := range base.Exclude {
		seen[p] = true
	}
	for _, p := range f.Exclude {
		if !seen[p] {
			seen[p] = true
			base.Exclude = append(base.Exclude, p)
		}
	}
	if f.Cache != nil {
		base.Cache = *f.Cache
	}
	if f.Workers != nil {
		base.Workers = *f.Workers
	}
	if f.ScriptsDir != nil {
		base.ScriptsDir = *f.ScriptsDir
	}
	if f.LogLevel != nil {
		base.LogLevel = *f.LogLevel
	}
	if f.Watch.DebounceMs != nil {
		base.Watch.DebounceMs = *f.Watch.DebounceMs
	}
	return base
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	for _, p := range append(append([]string(nil), c.Include...), c.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("config: bad glob pattern %q", p)
		}
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: workers must be at least 1, got %d", c.Workers)
	}
	if c.Watch.DebounceMs < 0 {
		return fmt.Errorf("config: watch.debounce_ms must not be negative, got %d", c.Watch.DebounceMs)
	}
	if c.Cache == "" {
		return errors.New("config: cache path is empty")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: log_level: %w", err)
	}
	return l, nil
}

// Match reports whether a project-relative, slash-separated path is
// included and not excluded.
func (c *Config) Match(uri string) bool {
	included := false
	for _, p := range c.Include {
		if ok, _ := doublestar.Match(p, uri); ok {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, p := range c.Exclude {
		if ok, _ := doublestar.Match(p, uri); ok {
			return false
		}
	}
	return true
}

// CachePath resolves Cache against the project root.
func (c *Config) CachePath(root string) string {
	if filepath.IsAbs(c.Cache) {
		return c.Cache
	}
	return filepath.Join(root, c.Cache)
}

// ScriptsPath resolves ScriptsDir against the project root, or "" if unset.
func (c *Config) ScriptsPath(root string) string {
	if c.ScriptsDir == "" || filepath.IsAbs(c.ScriptsDir) {
		return c.ScriptsDir
	}
	return filepath.Join(root, c.ScriptsDir)
}

// Debounce returns the watch debounce interval.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Watch.DebounceMs) * time.Millisecond
}
