// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

// Axis identifies one measurement axis that has its own output and offset
// registers.
type Axis uint8

const (
	AccelX Axis = iota
	AccelY
	AccelZ
	GyroX
	GyroY
	GyroZ
)

// Axes lists every axis in calibration order.
var Axes = []Axis{AccelX, AccelY, AccelZ, GyroX, GyroY, GyroZ}

func (a Axis) String() string {
	switch a {
	case AccelX:
		return "accel_x"
	case AccelY:
		return "accel_y"
	case AccelZ:
		return "accel_z"
	case GyroX:
		return "gyro_x"
	case GyroY:
		return "gyro_y"
	case GyroZ:
		return "gyro_z"
	}
	return "unknown"
}

// IsAccel reports whether a is an accelerometer axis.
func (a Axis) IsAccel() bool { return a <= AccelZ }
