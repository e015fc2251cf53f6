// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/imu_capture/internal/app"
	"github.com/relabs-tech/imu_capture/internal/command"
	"github.com/relabs-tech/imu_capture/internal/config"
	"github.com/relabs-tech/imu_capture/internal/sensors"
)

// NewConsoleCmd prints node replies and optionally sends one command.
func NewConsoleCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "console_mqtt [COMMAND]",
		Short: "console prints node replies from the MQTT info topic",
		Long: `console subscribes to the info topic of the collector configuration and prints
every node reply. An optional YAML command is published on the control topic first.`,
		Example: `  console_mqtt
  console_mqtt 'command: ping_sensors'
  console_mqtt 'command: start_session
args: {session_name: walk_01, duration: 30}'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := parse(cmd, config.NewCollectorDesc)
			if err != nil {
				return err
			}
			var send *command.Command
			if len(args) == 1 {
				if send, err = command.Parse([]byte(strings.TrimSpace(args[0]))); err != nil {
					return err
				}
			}
			ctx, cancel := signalContext(cmd)
			defer cancel()
			return app.RunConsoleMQTT(ctx, desc.Opt.MQTT, cmd.OutOrStdout(), send)
		},
	}
	configFlag(c)
	debugFlag(c)
	return c
}

// NewRegisterDebugCmd serves the register debug websocket for the
// sensors of a node configuration.
func NewRegisterDebugCmd() *cobra.Command {
	c := &cobra.Command{
		Use:     "register_debug",
		Short:   "register_debug exposes MPU6050 registers over a websocket",
		Example: `  register_debug --config=/path/to/node.yaml --listen :8081`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			desc, err := parse(cmd, config.NewNodeDesc)
			if err != nil {
				return err
			}
			listen, _ := cmd.Flags().GetString("listen")
			ctx, cancel := signalContext(cmd)
			defer cancel()

			set, err := sensors.OpenSet(ctx, desc.Opt.Sensors, desc.Opt.ReadTimeout())
			if err != nil {
				return err
			}
			defer set.Close()
			return app.RunRegisterDebug(ctx, set, listen)
		},
	}
	configFlag(c)
	debugFlag(c)
	c.Flags().String("listen", ":8081", "address the websocket listens on")
	return c
}
