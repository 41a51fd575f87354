//go:build unix

package main

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// detachedEnv marks a daemon process that was started by detach.
const detachedEnv = "TRANSDATA_DETACHED"

// detach re-execs the current command line in a new session with stdio on
// /dev/null and returns the child's pid. The working directory is kept so a
// debug log still lands next to where the daemon was started.
func detach() (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("resolve executable: %w", err)
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd := exec.Command(executable, os.Args[1:]...) //nolint:gosec // G204: re-exec of our own binary
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.Env = append(os.Environ(), detachedEnv+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start daemon: %w", err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("release daemon process: %w", err)
	}
	return pid, nil
}

// detached reports whether this process is the background half of detach.
func detached() bool {
	return os.Getenv(detachedEnv) == "1"
}
