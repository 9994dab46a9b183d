// Package manifest handles resumable.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/chazu/resumable/serial"
)

// FileName is the name of the configuration file.
const FileName = "resumable.toml"

// Manifest represents a resumable.toml project configuration.
type Manifest struct {
	Project    Project           `toml:"project"`
	Serializer SerializerConfig  `toml:"serializer"`
	Symbols    map[string]string `toml:"symbols"`
	Store      StoreConfig       `toml:"store"`

	// Dir is the directory containing the resumable.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// SerializerConfig tunes the encoder.
type SerializerConfig struct {
	MaxDepth int    `toml:"max-depth"`
	Timeout  string `toml:"timeout"`
}

// StoreConfig selects and configures the snapshot store.
type StoreConfig struct {
	Driver string `toml:"driver"` // "sqlite" or "redis"

	// sqlite
	Path string `toml:"path"`

	// redis
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
	TTL      string `toml:"ttl"`
}

// Load parses a resumable.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if m.Serializer.MaxDepth <= 0 {
		m.Serializer.MaxDepth = serial.DefaultMaxDepth
	}
	if m.Store.Driver == "" {
		m.Store.Driver = "sqlite"
	}
	if m.Store.Driver == "sqlite" && m.Store.Path == "" {
		m.Store.Path = filepath.Join(".resumable", "snapshots.db")
	}
	if m.Store.Prefix == "" {
		m.Store.Prefix = "resumable:"
	}

	if _, err := m.Serializer.TimeoutDuration(); err != nil {
		return nil, fmt.Errorf("%s: serializer timeout: %w", path, err)
	}
	if _, err := m.Store.TTLDuration(); err != nil {
		return nil, fmt.Errorf("%s: store ttl: %w", path, err)
	}
	if err := validateSymbols(m.Symbols); err != nil {
		return nil, fmt.Errorf("%s: [symbols]: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a resumable.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Default returns the configuration used when no resumable.toml exists.
func Default(dir string) *Manifest {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return &Manifest{
		Dir:        abs,
		Serializer: SerializerConfig{MaxDepth: serial.DefaultMaxDepth},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   filepath.Join(".resumable", "snapshots.db"),
			Prefix: "resumable:",
		},
	}
}

// TimeoutDuration parses the timeout setting. Empty means no timeout.
func (c SerializerConfig) TimeoutDuration() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Timeout)
}

// TTLDuration parses the ttl setting. Empty means keys never expire.
func (c StoreConfig) TTLDuration() (time.Duration, error) {
	if c.TTL == "" {
		return 0, nil
	}
	return time.ParseDuration(c.TTL)
}

// Registry returns a symbol registry seeded with the [symbols] chunk table.
func (m *Manifest) Registry() *serial.SymbolRegistry {
	reg := serial.NewSymbolRegistry()
	for symbol, chunk := range m.Symbols {
		reg.SetChunk(symbol, chunk)
	}
	return reg
}

// SerializerOptions returns encoder options for this project.
func (m *Manifest) SerializerOptions() []serial.Option {
	opts := []serial.Option{
		serial.WithMaxDepth(m.Serializer.MaxDepth),
		serial.WithRegistry(m.Registry()),
	}
	if d, err := m.Serializer.TimeoutDuration(); err == nil && d > 0 {
		opts = append(opts, serial.WithTimeout(d))
	}
	return opts
}

// StorePath returns the absolute sqlite database path.
func (m *Manifest) StorePath() string {
	if filepath.IsAbs(m.Store.Path) {
		return m.Store.Path
	}
	return filepath.Join(m.Dir, m.Store.Path)
}
