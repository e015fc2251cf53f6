// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package cmd holds the cobra command trees of the node, the collector and
// the debugging tools.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/relabs-tech/imu_capture/internal/config"
)

func configFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "configuration file path")
}

func debugFlag(cmd *cobra.Command) {
	cmd.Flags().Bool("debug", false, "toggle debug logging")
}

func initCmdFlags(cmd *cobra.Command, output string) {
	configFlag(cmd)
	cmd.Flags().Bool("print", false, "print config to stdout")
	cmd.Flags().BoolP("yes", "y", false, "overwrite")
	cmd.Flags().StringP("output", "o", output, "specify output file")
}

// parse loads the options of cmd and applies the log level.
func parse[T config.Options](cmd *cobra.Command, newDesc func() *config.Desc[T]) (*config.Desc[T], error) {
	desc := newDesc()
	if err := desc.Parse(cmd); err != nil {
		return nil, err
	}
	desc.PostParse()
	return desc, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// Execute runs root and exits non-zero on error.
func Execute(root *cobra.Command) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	root.SilenceUsage = true
	if err := root.ExecuteContext(context.Background()); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
