// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/absmach/coapcore/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogsAtConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.New(&buf, "warn")
	require.NoError(t, err)

	log.Info("dropped below threshold")
	assert.Empty(t, buf.String())

	log.Warn("kept at threshold", "key", "value")
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept at threshold", entry["msg"])
	assert.Equal(t, "value", entry["key"])
}

func TestNewRejectsBadLevel(t *testing.T) {
	var buf bytes.Buffer
	_, err := logger.New(&buf, "verbose")
	assert.Error(t, err)
}
