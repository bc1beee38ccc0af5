// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package cli implements the coap-client command tree: one cobra
// subcommand per CoAP method, following the teacher's cli/ package
// shape (one NewXCmd per resource, shared log helpers for usage/
// error/result formatting colored by fatih/color) but bound to this
// module's client.Client instead of an HTTP SDK.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/absmach/coapcore/pkg/coap/client"
	"github.com/absmach/coapcore/pkg/coap/message"
	"github.com/absmach/coapcore/pkg/coap/net/udpsocket"
)

// Timeout is the exchange timeout every subcommand uses; overridable
// via --timeout.
var Timeout = 5 * time.Second

// Confirmable selects CON vs NON request type; overridable via
// --confirmable.
var Confirmable = true

func newClient() *client.Client {
	return client.New(udpsocket.Start, nil)
}

func callOptions() client.Options {
	opts := client.DefaultOptions()
	opts.Timeout = Timeout
	opts.Confirmable = Confirmable
	return opts
}

// NewGetCmd returns the "get <url>" subcommand.
func NewGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <url>",
		Short: "get <url>",
		Long:  `Sends a CoAP GET request to the given coap:// URL and prints the response.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(cmd, cmd.Short)
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), Timeout+time.Second)
			defer cancel()
			resp, err := newClient().Get(ctx, args[0], callOptions())
			logResult(cmd, resp, err)
		},
	}
}

// NewPostCmd returns the "post <url> <payload>" subcommand.
func NewPostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "post <url> <payload>",
		Short: "post <url> <payload>",
		Long:  `Sends a CoAP POST request carrying payload to the given coap:// URL.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 2 {
				logUsageCmd(cmd, cmd.Short)
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), Timeout+time.Second)
			defer cancel()
			resp, err := newClient().Post(ctx, args[0], []byte(args[1]), callOptions())
			logResult(cmd, resp, err)
		},
	}
}

// NewPutCmd returns the "put <url> <payload>" subcommand.
func NewPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <url> <payload>",
		Short: "put <url> <payload>",
		Long:  `Sends a CoAP PUT request carrying payload to the given coap:// URL.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 2 {
				logUsageCmd(cmd, cmd.Short)
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), Timeout+time.Second)
			defer cancel()
			resp, err := newClient().Put(ctx, args[0], []byte(args[1]), callOptions())
			logResult(cmd, resp, err)
		},
	}
}

// NewDeleteCmd returns the "delete <url>" subcommand.
func NewDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <url>",
		Short: "delete <url>",
		Long:  `Sends a CoAP DELETE request to the given coap:// URL.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(cmd, cmd.Short)
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), Timeout+time.Second)
			defer cancel()
			resp, err := newClient().Delete(ctx, args[0], callOptions())
			logResult(cmd, resp, err)
		},
	}
}

func logUsageCmd(cmd *cobra.Command, u string) {
	fmt.Fprintf(cmd.OutOrStdout(), color.YellowString("\nusage: %s\n\n"), u)
}

func logResult(cmd *cobra.Command, resp *message.Message, err error) {
	if err != nil {
		boldRed := color.New(color.FgRed, color.Bold)
		boldRed.Fprintf(cmd.ErrOrStderr(), "\nerror: ")
		fmt.Fprintf(cmd.ErrOrStderr(), "%s\n\n", color.RedString(err.Error()))
		return
	}

	status := statusColor(resp.Code.Status())
	fmt.Fprintf(cmd.OutOrStdout(), "\n%s %s\n", status(resp.Code.String()), resp.Type)
	if len(resp.Payload) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", resp.Payload)
	}
	fmt.Fprintln(cmd.OutOrStdout())
}

// statusColor picks green for 2.xx, red for 4.xx/5.xx, and leaves
// anything else uncolored, mirroring the teacher's logOKCmd/
// logErrorCmd blue/red convention but keyed on the CoAP status class.
func statusColor(status int) func(string, ...interface{}) string {
	switch status / 100 {
	case 2:
		return color.GreenString
	case 4, 5:
		return color.RedString
	default:
		return fmt.Sprintf
	}
}
