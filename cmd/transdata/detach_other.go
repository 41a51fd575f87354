//go:build !unix

package main

import "errors"

func detach() (int, error) {
	return 0, errors.New("--detach is not supported on this platform")
}

func detached() bool { return false }
