// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/relabs-tech/imu_capture/internal/app"
	"github.com/relabs-tech/imu_capture/internal/bus"
	"github.com/relabs-tech/imu_capture/internal/calibration"
	"github.com/relabs-tech/imu_capture/internal/config"
	"github.com/relabs-tech/imu_capture/internal/sensors"
)

func nodeServeRunE(cmd *cobra.Command, _ []string) error {
	desc, err := parse(cmd, config.NewNodeDesc)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd)
	defer cancel()
	return app.RunNode(ctx, desc)
}

func nodeProbeRunE(cmd *cobra.Command, _ []string) error {
	desc, err := parse(cmd, config.NewNodeDesc)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd)
	defer cancel()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SENSOR\tBUS\tADDRESS\tSTATUS\tTEMPERATURE\tACCEL")
	for _, c := range desc.Opt.Sensors {
		status, temp, accel := "missing", "-", "-"
		dev, err := bus.Open(c.Bus, c.Address, desc.Opt.ReadTimeout())
		if err != nil {
			status = err.Error()
		} else {
			m := sensors.NewMPU6050(c.ID, dev)
			if ok, err := m.TestConnection(ctx); err != nil {
				status = err.Error()
			} else if ok {
				status = "ok"
				if raw, err := m.ReadRaw(ctx); err == nil {
					mo := raw.Scaled(m.Settings())
					temp = fmt.Sprintf("%.2f °C", mo.TempC)
					accel = fmt.Sprintf("%.2f %.2f %.2f g", mo.Accel[0], mo.Accel[1], mo.Accel[2])
				}
			}
			m.Close()
		}
		fmt.Fprintf(w, "%s\t%s\t0x%02X\t%s\t%s\t%s\n", c.ID, c.Bus, c.Address, status, temp, accel)
	}
	return w.Flush()
}

func nodeCalibrateRunE(cmd *cobra.Command, _ []string) error {
	desc, err := parse(cmd, config.NewNodeDesc)
	if err != nil {
		return err
	}
	f := cmd.Flags()
	target, _ := f.GetString("sensor")
	out, _ := f.GetString("output")
	p := calibration.DefaultParams()
	p.MaxIters, _ = f.GetInt("max-iters")
	p.RoughIters, _ = f.GetInt("rough-iters")
	p.BufferSize, _ = f.GetInt("buffer-size")
	p.Epsilon, _ = f.GetFloat64("epsilon")
	p.Mu, _ = f.GetFloat64("mu")
	p.VThreshold, _ = f.GetFloat64("v-threshold")
	if err := p.Validate(); err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()
	set, err := sensors.OpenSet(ctx, desc.Opt.Sensors, desc.Opt.ReadTimeout())
	if err != nil {
		return err
	}
	defer set.Close()
	targets, err := set.Select(target)
	if err != nil {
		return err
	}

	for _, m := range targets {
		log.Infof("calibrate: %s, keep the sensor still and level", m.ID())
		results, err := calibration.Calibrate(ctx, m, calibration.DefaultAxes(), p)
		if err != nil {
			return fmt.Errorf("%s: %w", m.ID(), err)
		}
		now := time.Now()
		name, err := calibration.WriteReport(out, calibration.NewReport(m.ID(), p, results, now), now)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote: %s\n", name)
	}
	return nil
}

// NewNodeCmd builds the imu-node command tree.
func NewNodeCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "imu-node",
		Short: "capture node for MPU6050 sensors",
		Long:  "capture node: configures, calibrates and records MPU6050 sensors on command",
	}

	serve := &cobra.Command{
		Use:        "serve",
		SuggestFor: []string{"ru", "ser"},
		Short:      "serve waits for commands on the MQTT control topic",
		Long: `serve opens the configured sensors and waits for commands, reading its configuration in this order:
1. path specified in --config flag
2. path defined in the IMUCAP_CONFIG environment variable
3. config.yaml in $HOME/.config/imucap, /etc/imucap or the current directory
The parameters in the configuration file are overwritten by:
1. command line arguments
2. IMUCAP_* environment variables
`,
		Example: `  imu-node serve --config=/path/to/node.yaml`,
		RunE:    nodeServeRunE,
	}
	configFlag(serve)
	serve.Flags().String("device-id", config.DefaultDeviceID, "id of this node in session manifests")
	serve.Flags().String("sessions", config.DefaultSessionsPath, "directory sessions are recorded in")
	debugFlag(serve)
	root.AddCommand(serve)

	initCmd := &cobra.Command{
		Use:        "init",
		SuggestFor: []string{"ini", "in"},
		Short:      "init creates a node configuration template",
		Example: `  imu-node init --print
  imu-node init -o /path/to/node.yaml -y`,
		RunE: config.InitCfg(config.NewNodeDesc),
	}
	initCmdFlags(initCmd, config.DefaultNodeConfig)
	root.AddCommand(initCmd)

	probe := &cobra.Command{
		Use:        "probe",
		SuggestFor: []string{"pro", "pr", "prob"},
		Short:      "probe checks every configured sensor answers",
		Example:    `  imu-node probe --config=/path/to/node.yaml`,
		RunE:       nodeProbeRunE,
	}
	configFlag(probe)
	debugFlag(probe)
	root.AddCommand(probe)

	cal := &cobra.Command{
		Use:   "calibrate",
		Short: "calibrate computes and writes the offset registers of resting sensors",
		Long: `calibrate runs the offset descent on every axis of the selected sensors
and writes a JSON report per sensor under --output.`,
		Example: `  imu-node calibrate --sensor 1 --max-iters 200 --rough-iters 10 --buffer-size 50`,
		RunE:    nodeCalibrateRunE,
	}
	configFlag(cal)
	debugFlag(cal)
	cal.Flags().String("sensor", sensors.AllSensors, "sensor id, or all")
	cal.Flags().Int("max-iters", 200, "iterations per axis")
	cal.Flags().Int("rough-iters", 10, "undamped iterations before damping starts")
	cal.Flags().Int("buffer-size", 50, "samples averaged per iteration")
	cal.Flags().Float64("epsilon", calibration.DefaultEpsilon, "step size")
	cal.Flags().Float64("mu", calibration.DefaultMu, "momentum")
	cal.Flags().Float64("v-threshold", calibration.DefaultVThreshold, "momentum below which an axis may stop")
	cal.Flags().StringP("output", "o", calibration.ReportDir, "report directory")
	root.AddCommand(cal)

	return root
}
