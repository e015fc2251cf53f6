// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package command

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/imu_capture/internal/calibration"
	"github.com/relabs-tech/imu_capture/internal/imu"
)

func TestParseAliases(t *testing.T) {
	tests := []struct {
		payload string
		name    Name
		sensor  string
	}{
		{"command: ping_sensors", PingSensors, AllSensors},
		{"command: reset_sensors", Reset, AllSensors},
		{"command: reset_sensor\nargs: {sensor_id: 1}", Reset, "1"},
		{"command: reset\nargs: {sensor_id: all}", Reset, AllSensors},
		{"command: get_temperatures", GetTemperatures, AllSensors},
		{"command: reset", Reset, AllSensors},
		{"command: reset\nargs: {}", Reset, AllSensors},
		{"command: reset\nargs: {sensor_id: \"\"}", Reset, AllSensors},
		{"command: calibrate\nargs: {max_iters: 5, rough_iters: 1, buffer_size: 2}", Calibrate, AllSensors},
	}
	for _, tt := range tests {
		c, err := Parse([]byte(tt.payload))
		if err != nil {
			t.Errorf("%q: %v", tt.payload, err)
			continue
		}
		if c.Name != tt.name || c.SensorID != tt.sensor {
			t.Errorf("%q = %s/%s, want %s/%s", tt.payload, c.Name, c.SensorID, tt.name, tt.sensor)
		}
	}

	for _, payload := range []string{
		"command: reset_sensor",
		"command: reset_sensor\nargs: {sensor_id: \"\"}",
		"command: calibrate_sensor\nargs: {max_iters: 5, rough_iters: 1, buffer_size: 2}",
	} {
		if _, err := Parse([]byte(payload)); !errors.Is(err, ErrBadArgs) {
			t.Errorf("%q: err = %v, want ErrBadArgs", payload, err)
		}
	}
}

func TestParseConfigure(t *testing.T) {
	payload := `command: configurate_sensor
request_id: abc
args:
  sensor_id: "2"
  clock_source: 1
  dlpf_mode: 3
  rate: 9
  full_scale_accel_range: 1
  full_scale_gyro_range: 3
  accel_fifo_enabled: true
  x_gyro_fifo_enabled: true
  y_gyro_fifo_enabled: false
  z_gyro_fifo_enabled: true
`
	c, err := Parse([]byte(payload))
	if err != nil {
		t.Fatal(err)
	}
	want := imu.Settings{
		ClockSource: imu.ClockPLLXGyro,
		DLPFMode:    imu.DLPF42,
		Rate:        9,
		AccelRange:  imu.Accel4G,
		GyroRange:   imu.Gyro2000,
		AccelFIFO:   true,
		GyroXFIFO:   true,
		GyroZFIFO:   true,
	}
	if c.Name != Configure || c.SensorID != "2" || c.RequestID != "abc" || c.Settings != want {
		t.Errorf("parsed %+v", c)
	}

	missing := `command: configurate_sensors
args: {clock_source: 1, dlpf_mode: 3}`
	if _, err := Parse([]byte(missing)); !errors.Is(err, ErrBadArgs) {
		t.Errorf("err = %v, want ErrBadArgs", err)
	}

	invalid := `command: configurate_sensors
args: {clock_source: 1, dlpf_mode: 9, rate: 0, full_scale_accel_range: 0, full_scale_gyro_range: 0,
  accel_fifo_enabled: true, x_gyro_fifo_enabled: true, y_gyro_fifo_enabled: true, z_gyro_fifo_enabled: true}`
	if _, err := Parse([]byte(invalid)); !errors.Is(err, imu.ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestParseCalibrate(t *testing.T) {
	c, err := Parse([]byte("command: calibrate_sensors\nargs: {max_iters: 200, rough_iters: 10, buffer_size: 50, mu: 0.4}"))
	if err != nil {
		t.Fatal(err)
	}
	p := c.Calibration
	if !c.All() || p.MaxIters != 200 || p.RoughIters != 10 || p.BufferSize != 50 {
		t.Errorf("parsed %+v", c)
	}
	if p.Mu != 0.4 || p.Epsilon != calibration.DefaultEpsilon || p.VThreshold != calibration.DefaultVThreshold {
		t.Errorf("tuning = %+v", p)
	}

	if _, err := Parse([]byte("command: calibrate_sensor\nargs: {max_iters: 1, rough_iters: 0, buffer_size: 1}")); !errors.Is(err, ErrBadArgs) {
		t.Errorf("missing sensor_id: err = %v", err)
	}
	if _, err := Parse([]byte("command: calibrate\nargs: {sensor_id: a, max_iters: 0, rough_iters: 0, buffer_size: 1}")); !errors.Is(err, ErrBadArgs) {
		t.Errorf("max_iters 0: err = %v", err)
	}
}

func TestParseStartSession(t *testing.T) {
	c, err := Parse([]byte("command: start_session\nargs: {session_name: walk_01, duration: 2.5}"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Session != "walk_01" || c.Duration != 2500*time.Millisecond {
		t.Errorf("parsed %+v", c)
	}
	for _, bad := range []string{
		"command: start_session\nargs: {session_name: walk, duration: 0}",
		"command: start_session\nargs: {session_name: ../etc, duration: 1}",
		"command: start_session\nargs: {duration: 1}",
	} {
		if _, err := Parse([]byte(bad)); !errors.Is(err, ErrBadArgs) {
			t.Errorf("%q: err = %v, want ErrBadArgs", bad, err)
		}
	}
}

func TestParseUnknown(t *testing.T) {
	if _, err := Parse([]byte("command: self_destruct")); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("err = %v", err)
	}
	if _, err := Parse([]byte(": : :")); err == nil {
		t.Error("garbage accepted")
	}
}

func TestEncodeParses(t *testing.T) {
	cmds := []*Command{
		{Name: Configure, SensorID: "s1", Settings: imu.DefaultSettings()},
		{Name: Calibrate, SensorID: AllSensors, Calibration: calibration.Params{MaxIters: 5, RoughIters: 1, BufferSize: 2, Epsilon: 0.2, Mu: 0.5, VThreshold: 0.05}},
		{Name: StartSession, SensorID: AllSensors, Session: "run", Duration: 3 * time.Second, RequestID: "r1"},
		{Name: Reset, SensorID: "s2"},
	}
	for _, c := range cmds {
		b, err := Encode(c)
		if err != nil {
			t.Fatalf("Encode %s: %v", c.Name, err)
		}
		got, err := Parse(b)
		if err != nil {
			t.Fatalf("Parse(%s): %v", b, err)
		}
		if *got != *c {
			t.Errorf("round trip %s: got %+v, want %+v", c.Name, got, c)
		}
	}
}

func TestReply(t *testing.T) {
	id := NewRequestID()
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("request id %q: %v", id, err)
	}
	r := Reply{Type: Success, DeviceID: "left", Msg: "Session finished", RequestID: id}
	b, err := r.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, err := ParseReply(b)
	if err != nil || got != r {
		t.Errorf("ParseReply = %+v, %v", got, err)
	}
	if _, err := ParseReply([]byte("type: shout\nmsg: hi")); err == nil {
		t.Error("unknown type accepted")
	}
}
