// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package command parses the YAML control messages a node receives and
// builds the replies it publishes.
//
// A control message looks like:
//
//	command: calibrate_sensor
//	args:
//	  sensor_id: "1"
//	  max_iters: 200
//	  rough_iters: 10
//	  buffer_size: 50
package command

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/imu_capture/internal/calibration"
	"github.com/relabs-tech/imu_capture/internal/imu"
	"github.com/relabs-tech/imu_capture/internal/session"
)

var (
	ErrUnknownCommand = errors.New("command: unknown command")
	ErrBadArgs        = errors.New("command: bad arguments")
)

// Name is a normalized command name.
type Name string

const (
	PingSensors     Name = "ping_sensors"
	Reset           Name = "reset"
	Configure       Name = "configure"
	Calibrate       Name = "calibrate"
	StartSession    Name = "start_session"
	GetTemperatures Name = "get_temperatures"
)

// AllSensors targets every sensor of the node.
const AllSensors = "all"

// aliases maps accepted wire names to a command, whether the name implies
// every sensor and whether it needs an explicit sensor_id.
var aliases = map[string]struct {
	name      Name
	all       bool
	requireID bool
}{
	"ping_sensors":        {PingSensors, true, false},
	"get_temperatures":    {GetTemperatures, true, false},
	"reset":               {Reset, false, false},
	"reset_sensor":        {Reset, false, true},
	"reset_sensors":       {Reset, true, false},
	"configure":           {Configure, false, false},
	"configurate_sensor":  {Configure, false, true},
	"configurate_sensors": {Configure, true, false},
	"calibrate":           {Calibrate, false, false},
	"calibrate_sensor":    {Calibrate, false, true},
	"calibrate_sensors":   {Calibrate, true, false},
	"start_session":       {StartSession, true, false},
}

// Command is a parsed control message.
type Command struct {
	Name      Name
	RequestID string
	// SensorID is a sensor id or AllSensors.
	SensorID string

	Settings    imu.Settings       // Configure
	Calibration calibration.Params // Calibrate
	Session     string             // StartSession
	Duration    time.Duration      // StartSession
}

// All reports whether the command targets every sensor.
func (c *Command) All() bool { return c.SensorID == "" || c.SensorID == AllSensors }

type envelope struct {
	Command   string    `yaml:"command"`
	RequestID string    `yaml:"request_id,omitempty"`
	Args      yaml.Node `yaml:"args,omitempty"`
}

type targetArgs struct {
	SensorID *string `yaml:"sensor_id"`
}

type configureArgs struct {
	SensorID    *string `yaml:"sensor_id"`
	ClockSource *uint8  `yaml:"clock_source"`
	DLPFMode    *uint8  `yaml:"dlpf_mode"`
	Rate        *uint8  `yaml:"rate"`
	AccelRange  *uint8  `yaml:"full_scale_accel_range"`
	GyroRange   *uint8  `yaml:"full_scale_gyro_range"`
	AccelFIFO   *bool   `yaml:"accel_fifo_enabled"`
	GyroXFIFO   *bool   `yaml:"x_gyro_fifo_enabled"`
	GyroYFIFO   *bool   `yaml:"y_gyro_fifo_enabled"`
	GyroZFIFO   *bool   `yaml:"z_gyro_fifo_enabled"`
}

type calibrateArgs struct {
	SensorID   *string  `yaml:"sensor_id"`
	MaxIters   *int     `yaml:"max_iters"`
	RoughIters *int     `yaml:"rough_iters"`
	BufferSize *int     `yaml:"buffer_size"`
	Epsilon    *float64 `yaml:"epsilon"`
	Mu         *float64 `yaml:"mu"`
	VThreshold *float64 `yaml:"v_threshold"`
}

type sessionArgs struct {
	SessionName *string  `yaml:"session_name"`
	Duration    *float64 `yaml:"duration"`
}

// Parse decodes and validates a control message.
func Parse(payload []byte) (*Command, error) {
	var env envelope
	if err := yaml.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArgs, err)
	}
	alias, ok := aliases[env.Command]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, env.Command)
	}
	cmd := &Command{Name: alias.name, RequestID: env.RequestID}
	if alias.all {
		cmd.SensorID = AllSensors
	}

	decode := func(v any) error {
		if env.Args.Kind == 0 {
			return nil
		}
		if err := env.Args.Decode(v); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBadArgs, env.Command, err)
		}
		return nil
	}
	target := func(id *string) error {
		if alias.all {
			return nil
		}
		if id == nil || *id == "" {
			if alias.requireID {
				return fmt.Errorf("%w: %s needs sensor_id", ErrBadArgs, env.Command)
			}
			cmd.SensorID = AllSensors
			return nil
		}
		cmd.SensorID = *id
		return nil
	}

	switch cmd.Name {
	case PingSensors, GetTemperatures:
		return cmd, nil

	case Reset:
		var a targetArgs
		if err := decode(&a); err != nil {
			return nil, err
		}
		return cmd, target(a.SensorID)

	case Configure:
		var a configureArgs
		if err := decode(&a); err != nil {
			return nil, err
		}
		if err := target(a.SensorID); err != nil {
			return nil, err
		}
		if a.ClockSource == nil || a.DLPFMode == nil || a.Rate == nil || a.AccelRange == nil ||
			a.GyroRange == nil || a.AccelFIFO == nil || a.GyroXFIFO == nil || a.GyroYFIFO == nil || a.GyroZFIFO == nil {
			return nil, fmt.Errorf("%w: %s needs every setting", ErrBadArgs, env.Command)
		}
		cmd.Settings = imu.Settings{
			ClockSource: imu.ClockSource(*a.ClockSource),
			DLPFMode:    imu.DLPFMode(*a.DLPFMode),
			Rate:        *a.Rate,
			AccelRange:  imu.AccelRange(*a.AccelRange),
			GyroRange:   imu.GyroRange(*a.GyroRange),
			AccelFIFO:   *a.AccelFIFO,
			GyroXFIFO:   *a.GyroXFIFO,
			GyroYFIFO:   *a.GyroYFIFO,
			GyroZFIFO:   *a.GyroZFIFO,
		}
		if err := cmd.Settings.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadArgs, err)
		}
		return cmd, nil

	case Calibrate:
		var a calibrateArgs
		if err := decode(&a); err != nil {
			return nil, err
		}
		if err := target(a.SensorID); err != nil {
			return nil, err
		}
		if a.MaxIters == nil || a.RoughIters == nil || a.BufferSize == nil {
			return nil, fmt.Errorf("%w: %s needs max_iters, rough_iters and buffer_size", ErrBadArgs, env.Command)
		}
		p := calibration.DefaultParams()
		p.MaxIters, p.RoughIters, p.BufferSize = *a.MaxIters, *a.RoughIters, *a.BufferSize
		if a.Epsilon != nil {
			p.Epsilon = *a.Epsilon
		}
		if a.Mu != nil {
			p.Mu = *a.Mu
		}
		if a.VThreshold != nil {
			p.VThreshold = *a.VThreshold
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadArgs, err)
		}
		cmd.Calibration = p
		return cmd, nil

	case StartSession:
		var a sessionArgs
		if err := decode(&a); err != nil {
			return nil, err
		}
		if a.SessionName == nil || a.Duration == nil {
			return nil, fmt.Errorf("%w: start_session needs session_name and duration", ErrBadArgs)
		}
		if err := session.ValidateName(*a.SessionName); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadArgs, err)
		}
		if *a.Duration <= 0 {
			return nil, fmt.Errorf("%w: duration must be positive, got %v", ErrBadArgs, *a.Duration)
		}
		cmd.Session = *a.SessionName
		cmd.Duration = time.Duration(*a.Duration * float64(time.Second))
		return cmd, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, env.Command)
}

// Encode renders a command in the wire format Parse accepts.
func Encode(c *Command) ([]byte, error) {
	args := map[string]any{}
	if c.SensorID != "" {
		args["sensor_id"] = c.SensorID
	}
	switch c.Name {
	case PingSensors, GetTemperatures, Reset:
	case Configure:
		s := c.Settings
		args["clock_source"] = uint8(s.ClockSource)
		args["dlpf_mode"] = uint8(s.DLPFMode)
		args["rate"] = s.Rate
		args["full_scale_accel_range"] = uint8(s.AccelRange)
		args["full_scale_gyro_range"] = uint8(s.GyroRange)
		args["accel_fifo_enabled"] = s.AccelFIFO
		args["x_gyro_fifo_enabled"] = s.GyroXFIFO
		args["y_gyro_fifo_enabled"] = s.GyroYFIFO
		args["z_gyro_fifo_enabled"] = s.GyroZFIFO
	case Calibrate:
		p := c.Calibration
		args["max_iters"] = p.MaxIters
		args["rough_iters"] = p.RoughIters
		args["buffer_size"] = p.BufferSize
		args["epsilon"] = p.Epsilon
		args["mu"] = p.Mu
		args["v_threshold"] = p.VThreshold
	case StartSession:
		delete(args, "sensor_id")
		args["session_name"] = c.Session
		args["duration"] = c.Duration.Seconds()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, c.Name)
	}

	out := struct {
		Command   string         `yaml:"command"`
		RequestID string         `yaml:"request_id,omitempty"`
		Args      map[string]any `yaml:"args,omitempty"`
	}{string(c.Name), c.RequestID, args}
	return yaml.Marshal(out)
}
