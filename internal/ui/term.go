package ui

import (
	"os"

	"golang.org/x/term"
)

// IsTTY reports whether f refers to a terminal.
func IsTTY(f *os.File) bool {
	return term.IsTerminal(int(f.Fd())) //nolint:gosec // G115: fds fit in int
}

// TermWidth returns the terminal width of f in columns, or 80 if it cannot
// be determined.
func TermWidth(f *os.File) int {
	w, _, err := term.GetSize(int(f.Fd())) //nolint:gosec // G115: fds fit in int
	if err != nil || w <= 0 {
		return 80
	}
	return w
}
