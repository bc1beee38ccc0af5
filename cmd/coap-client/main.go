// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package main contains coap-client, the cobra-based command line
// tool for issuing one-off CoAP requests, following the teacher's
// cmd/cli main.go shape of a root command gathering one NewXCmd per
// resource.
package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/absmach/coapcore/pkg/coap/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "coap-client",
		Short: "coap-client sends one-off CoAP requests",
		Long:  `coap-client issues a single GET/POST/PUT/DELETE request against a coap:// URL and prints the response.`,
	}

	rootCmd.PersistentFlags().DurationVarP(&cli.Timeout, "timeout", "t", 5*time.Second, "exchange timeout")
	rootCmd.PersistentFlags().BoolVarP(&cli.Confirmable, "confirmable", "c", true, "send as a confirmable (CON) message")

	rootCmd.AddCommand(cli.NewGetCmd())
	rootCmd.AddCommand(cli.NewPostCmd())
	rootCmd.AddCommand(cli.NewPutCmd())
	rootCmd.AddCommand(cli.NewDeleteCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
