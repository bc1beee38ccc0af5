// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package logger wraps log/slog with the level-string configuration
// convention used across the cmd/ binaries.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// New returns a JSON slog.Logger writing to w at the parsed level.
func New(w io.Writer, levelText string) (*slog.Logger, error) {
	level, err := ParseLevel(levelText)
	if err != nil {
		return nil, err
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler), nil
}

// ExitWithError terminates the process with a non-zero status if the
// pointed-to exit code is non-zero. Deferred in main so that earlier
// defers (closing connections, flushing state) still run first.
func ExitWithError(exitCode *int) {
	if *exitCode != 0 {
		fmt.Fprintf(os.Stderr, "exiting with code %d\n", *exitCode)
		os.Exit(*exitCode)
	}
}
