// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package logger_test

import (
	"log/slog"
	"testing"

	"github.com/absmach/coapcore/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		desc  string
		input string
		level slog.Level
		err   bool
	}{
		{desc: "debug", input: "debug", level: slog.LevelDebug},
		{desc: "DEBUG uppercase", input: "DEBUG", level: slog.LevelDebug},
		{desc: "info", input: "info", level: slog.LevelInfo},
		{desc: "warn", input: "warn", level: slog.LevelWarn},
		{desc: "warning alias", input: "warning", level: slog.LevelWarn},
		{desc: "error", input: "error", level: slog.LevelError},
		{desc: "unrecognized level", input: "trace", err: true},
		{desc: "empty string", input: "", err: true},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			lvl, err := logger.ParseLevel(tc.input)
			if tc.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.level, lvl)
		})
	}
}
