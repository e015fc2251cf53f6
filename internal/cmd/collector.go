// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/imu_capture/internal/app"
	"github.com/relabs-tech/imu_capture/internal/config"
	"github.com/relabs-tech/imu_capture/internal/session"
)

func collectorServeRunE(cmd *cobra.Command, _ []string) error {
	desc, err := parse(cmd, config.NewCollectorDesc)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd)
	defer cancel()
	return app.RunCollector(ctx, desc.Opt)
}

func collectorMergeRunE(cmd *cobra.Command, args []string) error {
	desc, err := parse(cmd, config.NewCollectorDesc)
	if err != nil {
		return err
	}
	keep, _ := cmd.Flags().GetBool("keep")
	decode, _ := cmd.Flags().GetBool("decode")
	for _, name := range args {
		if err := session.ValidateName(name); err != nil {
			return err
		}
		dir := filepath.Join(desc.Opt.SessionsPath, name)
		m, err := session.MergeDir(dir, session.MergeOptions{Expected: desc.Opt.Devices, Keep: keep})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: merged %d devices, %d sensors\n", name, len(m.Devices), len(m.Sensors))
		if decode {
			if err := decodeSession(cmd, dir, name); err != nil {
				return err
			}
		}
	}
	return nil
}

func collectorDecodeRunE(cmd *cobra.Command, args []string) error {
	desc, err := parse(cmd, config.NewCollectorDesc)
	if err != nil {
		return err
	}
	for _, name := range args {
		if err := session.ValidateName(name); err != nil {
			return err
		}
		if err := decodeSession(cmd, filepath.Join(desc.Opt.SessionsPath, name), name); err != nil {
			return err
		}
	}
	return nil
}

// decodeSession prints one line per sensor and fails if any sensor did.
func decodeSession(cmd *cobra.Command, dir, name string) error {
	results, err := session.DecodeDir(dir)
	if err != nil {
		return err
	}
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s failed: %v\n", name, r.SensorID, r.Err)
			errs = append(errs, fmt.Errorf("%s: %w", r.SensorID, r.Err))
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s (%d rows)\n", name, r.SensorID, r.Output, r.Rows)
	}
	return errors.Join(errs...)
}

func collectorFlags(cmd *cobra.Command) {
	configFlag(cmd)
	cmd.Flags().String("sessions", config.DefaultSessionsPath, "directory sessions are stored in")
	debugFlag(cmd)
}

// NewCollectorCmd builds the imu-collector command tree.
func NewCollectorCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "imu-collector",
		Short: "collects, merges and decodes capture sessions",
		Long:  "collector: receives session parts from the nodes, aligns them and decodes them to CSV",
	}

	serve := &cobra.Command{
		Use:        "serve",
		SuggestFor: []string{"ru", "ser"},
		Short:      "serve receives session uploads and relays node replies",
		Long: `serve starts the collector HTTP API, reading its configuration in this order:
1. path specified in --config flag
2. path defined in the IMUCAP_CONFIG environment variable
3. config.yaml in $HOME/.config/imucap, /etc/imucap or the current directory
The parameters in the configuration file are overwritten by:
1. command line arguments
2. IMUCAP_* environment variables
`,
		Example: `  imu-collector serve --config=/path/to/collector.yaml -p 8000`,
		RunE:    collectorServeRunE,
	}
	collectorFlags(serve)
	serve.Flags().IntP("port", "p", config.DefaultCollectorPort, "port the API listens on")
	serve.Flags().StringP("interface", "i", config.DefaultCollectorInterface, "interface the API listens on")
	root.AddCommand(serve)

	merge := &cobra.Command{
		Use:     "merge SESSION...",
		Short:   "merge aligns the node fragments of sessions into one manifest",
		Example: `  imu-collector merge walk_01 --decode`,
		Args:    cobra.MinimumNArgs(1),
		RunE:    collectorMergeRunE,
	}
	collectorFlags(merge)
	merge.Flags().Bool("keep", false, "keep the fragment files")
	merge.Flags().Bool("decode", false, "decode after merging")
	root.AddCommand(merge)

	decode := &cobra.Command{
		Use:     "decode SESSION...",
		Short:   "decode writes the cropped samples of merged sessions as CSV",
		Example: `  imu-collector decode walk_01`,
		Args:    cobra.MinimumNArgs(1),
		RunE:    collectorDecodeRunE,
	}
	collectorFlags(decode)
	root.AddCommand(decode)

	initCmd := &cobra.Command{
		Use:        "init",
		SuggestFor: []string{"ini", "in"},
		Short:      "init creates a collector configuration template",
		Example: `  imu-collector init --print
  imu-collector init -o /path/to/collector.yaml -y`,
		RunE: config.InitCfg(config.NewCollectorDesc),
	}
	initCmdFlags(initCmd, config.DefaultCollectorConfig)
	root.AddCommand(initCmd)

	return root
}
