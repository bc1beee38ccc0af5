// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"log/slog"
	"strings"

	"github.com/absmach/coapcore/pkg/errors"
)

// ErrInvalidLogLevel indicates the configured level string is not one
// of debug, info, warn or error.
var ErrInvalidLogLevel = errors.New("unrecognized log level")

// ParseLevel maps a case-insensitive level name to an slog.Level.
func ParseLevel(text string) (slog.Level, error) {
	switch strings.ToLower(text) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, errors.Wrap(ErrInvalidLogLevel, errors.New(text))
	}
}
