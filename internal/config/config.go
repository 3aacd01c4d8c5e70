// Package config loads the namespace layout from a TOML file.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"vmountfs/internal/vfs"
)

// Filesystem types that can be named in a config file.
const (
	TypeRamFS  = "ramfs"
	TypeDevFS  = "devfs"
	TypeHostFS = "hostfs"
)

var (
	// ErrInvalidConfig is wrapped by every validation failure.
	ErrInvalidConfig = errors.New("invalid config")
)

// Root describes the filesystem mounted at "/".
type Root struct {
	// Type is ramfs or hostfs.
	Type string `toml:"type"`
	// Source is the host directory for a hostfs root.
	Source string `toml:"source"`
	// State is an optional snapshot file restored into a ramfs root at
	// startup and written back on shutdown.
	State string `toml:"state"`
}

// Mount describes one additional mount point.
type Mount struct {
	Path     string `toml:"path"`
	Type     string `toml:"type"`
	Source   string `toml:"source"`
	ReadOnly bool   `toml:"read_only"`
}

// Config is the whole namespace layout.
type Config struct {
	Root   Root    `toml:"root"`
	Mounts []Mount `toml:"mount"`
}

// Default returns the built-in layout: a ramfs root with devfs at /dev and
// a ramfs at /tmp.
func Default() *Config {
	return &Config{
		Root: Root{Type: TypeRamFS},
		Mounts: []Mount{
			{Path: "/dev", Type: TypeDevFS},
			{Path: "/tmp", Type: TypeRamFS},
		},
	}
}

// Load decodes and validates the config file at path. Unknown keys are
// rejected.
func Load(path string) (*Config, error) {
	var c Config
	md, err := toml.DecodeFile(path, &c)
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", path, err)
	}
	return c.finish(md, path)
}

// Parse decodes and validates config text.
func Parse(data string) (*Config, error) {
	var c Config
	md, err := toml.Decode(data, &c)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return c.finish(md, "config")
}

func (c *Config) finish(md toml.MetaData, name string) (*Config, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalidConfig, name, strings.Join(keys, ", "))
	}
	c.setDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) setDefaults() {
	if c.Root.Type == "" {
		c.Root.Type = TypeRamFS
	}
	for i := range c.Mounts {
		if c.Mounts[i].Type == "" {
			c.Mounts[i].Type = TypeRamFS
		}
	}
}

// Validate checks the layout for consistency.
func (c *Config) Validate() error {
	switch c.Root.Type {
	case TypeRamFS:
	case TypeHostFS:
		if c.Root.Source == "" {
			return fmt.Errorf("%w: hostfs root needs a source", ErrInvalidConfig)
		}
		if c.Root.State != "" {
			return fmt.Errorf("%w: state is only supported for a ramfs root", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported root type %q", ErrInvalidConfig, c.Root.Type)
	}

	seen := make(map[string]bool)
	for _, m := range c.Mounts {
		if !strings.HasPrefix(m.Path, "/") {
			return fmt.Errorf("%w: mount path %q is not absolute", ErrInvalidConfig, m.Path)
		}
		if err := vfs.ValidatePath(m.Path); err != nil {
			return fmt.Errorf("%w: mount path %q: %v", ErrInvalidConfig, m.Path, err)
		}
		p := vfs.NewAbsPath(m.Path)
		if p.IsRoot() {
			return fmt.Errorf("%w: %q cannot be mounted over, configure [root] instead", ErrInvalidConfig, m.Path)
		}
		if seen[p.String()] {
			return fmt.Errorf("%w: duplicate mount path %q", ErrInvalidConfig, p.String())
		}
		seen[p.String()] = true

		switch m.Type {
		case TypeRamFS, TypeDevFS:
			if m.Source != "" {
				return fmt.Errorf("%w: %s mount at %q takes no source", ErrInvalidConfig, m.Type, m.Path)
			}
		case TypeHostFS:
			if m.Source == "" {
				return fmt.Errorf("%w: hostfs mount at %q needs a source", ErrInvalidConfig, m.Path)
			}
		default:
			return fmt.Errorf("%w: unsupported mount type %q at %q", ErrInvalidConfig, m.Type, m.Path)
		}
	}
	return nil
}
