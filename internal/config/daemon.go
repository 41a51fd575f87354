package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// daemonDiscoveryPathOverride allows tests to redirect the discovery file path.
// When empty, DaemonDiscoveryPath() resolves the per-user runtime path.
var daemonDiscoveryPathOverride string //nolint:gochecknoglobals // test hook

// SetDaemonDiscoveryPathOverride sets a test override for the discovery path.
// Pass "" to restore the default. This is intended for tests only.
func SetDaemonDiscoveryPathOverride(path string) {
	daemonDiscoveryPathOverride = path
}

// DaemonDiscovery describes a running daemon. The client reads it to default
// the port when pushing to a daemon on the same host.
type DaemonDiscovery struct {
	Root string `toml:"root"`
	Port int    `toml:"port"`
	PID  int    `toml:"pid"`
}

// DaemonDiscoveryPath returns the path to the daemon discovery file:
// $XDG_RUNTIME_DIR/transdata/daemon.toml, or a per-user directory under the
// system temp dir.
func DaemonDiscoveryPath() string {
	if daemonDiscoveryPathOverride != "" {
		return daemonDiscoveryPathOverride
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "transdata", "daemon.toml")
	}
	return filepath.Join(os.TempDir(), "transdata-"+strconv.Itoa(os.Getuid()), "daemon.toml")
}

// WriteDaemonDiscovery writes the daemon discovery file, creating the parent
// directory if needed.
func WriteDaemonDiscovery(d DaemonDiscovery) error {
	path := DaemonDiscoveryPath()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create runtime dir: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(d); err != nil {
		return fmt.Errorf("encode daemon discovery: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write daemon discovery: %w", err)
	}
	return nil
}

// ReadDaemonDiscovery reads the daemon discovery file. Returns os.ErrNotExist
// if the file does not exist.
func ReadDaemonDiscovery() (DaemonDiscovery, error) {
	path := DaemonDiscoveryPath()

	var d DaemonDiscovery
	_, err := toml.DecodeFile(path, &d)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DaemonDiscovery{}, os.ErrNotExist
		}
		return DaemonDiscovery{}, fmt.Errorf("read daemon discovery: %w", err)
	}
	return d, nil
}

// RemoveDaemonDiscovery removes the daemon discovery file if it still
// describes this process (best-effort).
func RemoveDaemonDiscovery() {
	d, err := ReadDaemonDiscovery()
	if err != nil || d.PID != os.Getpid() {
		return
	}
	os.Remove(DaemonDiscoveryPath()) //nolint:errcheck // best-effort cleanup on shutdown
}
