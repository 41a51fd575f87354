// Package config reads the optional transdata configuration file and manages
// the daemon discovery file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the optional transdata configuration file. Every field
// is a pointer so an absent key can be told apart from a zero value; flags
// given on the command line always win.
type Config struct {
	Client ClientConfig `toml:"client"`
	Daemon DaemonConfig `toml:"daemon"`
}

// ClientConfig holds defaults for pushing a file.
type ClientConfig struct {
	Host    *string   `toml:"host"`
	Port    *int      `toml:"port"`
	Timeout *Duration `toml:"timeout"`
	BWLimit *Size     `toml:"bwlimit"`
	Chunk   *Size     `toml:"chunk"`
}

// DaemonConfig holds defaults for the receiving daemon.
type DaemonConfig struct {
	Listen      *string   `toml:"listen"`
	Port        *int      `toml:"port"`
	Root        *string   `toml:"root"`
	Timeout     *Duration `toml:"timeout"`
	Drain       *Duration `toml:"drain"`
	MaxSessions *int64    `toml:"max_sessions"`
	Journal     *string   `toml:"journal"`
}

// Duration is a time.Duration written as a Go duration string ("20s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	if v < 0 {
		return fmt.Errorf("invalid duration %q: negative", text)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Size is a byte count written in human form ("10M").
type Size int64

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Size) UnmarshalText(text []byte) error {
	n, err := ParseSize(string(text))
	if err != nil {
		return err
	}
	*s = Size(n)
	return nil
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "transdata", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist. Config is always optional.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}
	cfg, err := LoadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, nil
	}
	return cfg, err
}

// LoadFile reads the config file at path. Unlike Load, a missing file is an
// error.
func LoadFile(path string) (Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("read config %s: unknown key %q", path, undecoded[0].String())
	}
	return cfg, nil
}
