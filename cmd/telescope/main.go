// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

// Command telescope runs the telemetry ingestion service: OTLP gRPC and
// HTTP/JSON ingestion, a bounded in-memory store and a websocket live stream.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/telescope-obs/telescope/internal/config"
	"github.com/telescope-obs/telescope/internal/service"
	"github.com/telescope-obs/telescope/internal/version"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "telescope",
		Short:        "Telescope telemetry ingestion service",
		Version:      version.String(),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			svc, err := service.New(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()
			return svc.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "",
		"path to the YAML configuration file")
	return cmd
}
