// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package cli_test

import (
	"bytes"
	"testing"

	"github.com/absmach/coapcore/pkg/coap/cli"
	"github.com/stretchr/testify/assert"
)

func TestGetCmdReportsUsageOnMissingArgs(t *testing.T) {
	cmd := cli.NewGetCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs(nil)
	cmd.Run(cmd, nil)

	assert.Contains(t, out.String(), "usage")
}

func TestPostCmdReportsUsageOnMissingArgs(t *testing.T) {
	cmd := cli.NewPostCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.Run(cmd, []string{"coap://192.0.2.1/x"})

	assert.Contains(t, out.String(), "usage")
}
