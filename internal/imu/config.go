// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned when a setting is outside its enum range.
var ErrInvalidConfig = errors.New("imu: invalid sensor configuration")

// ClockSource selects the MPU6050 clock (PWR_MGMT_1 CLKSEL).
type ClockSource uint8

const (
	ClockInternal  ClockSource = 0
	ClockPLLXGyro  ClockSource = 1
	ClockPLLYGyro  ClockSource = 2
	ClockPLLZGyro  ClockSource = 3
	ClockPLLExt32K ClockSource = 4
	ClockPLLExt19M ClockSource = 5
	ClockKeepReset ClockSource = 7
)

func (c ClockSource) Valid() bool { return c <= ClockPLLExt19M || c == ClockKeepReset }

// DLPFMode is the digital low pass filter setting (CONFIG DLPF_CFG).
type DLPFMode uint8

const (
	DLPF256 DLPFMode = iota // widest bandwidth, 8 kHz gyro output
	DLPF188
	DLPF98
	DLPF42
	DLPF20
	DLPF10
	DLPF5
)

func (m DLPFMode) Valid() bool { return m <= DLPF5 }

// AccelRange is the accelerometer full scale code (ACCEL_CONFIG AFS_SEL).
type AccelRange uint8

const (
	Accel2G AccelRange = iota
	Accel4G
	Accel8G
	Accel16G
)

func (r AccelRange) Valid() bool { return r <= Accel16G }

// FullScale returns the range in g.
func (r AccelRange) FullScale() float64 {
	return [...]float64{2, 4, 8, 16}[r&3]
}

// GyroRange is the gyroscope full scale code (GYRO_CONFIG FS_SEL).
type GyroRange uint8

const (
	Gyro250 GyroRange = iota
	Gyro500
	Gyro1000
	Gyro2000
)

func (r GyroRange) Valid() bool { return r <= Gyro2000 }

// FullScale returns the range in degrees per second.
func (r GyroRange) FullScale() float64 {
	return [...]float64{250, 500, 1000, 2000}[r&3]
}

const (
	// GyroOutputRateDefault applies when the DLPF is at its widest setting.
	GyroOutputRateDefault = 8000.0
	// GyroOutputRateDLPF applies for every other DLPF mode.
	GyroOutputRateDLPF = 1000.0
)

// AccelFactor maps a raw accelerometer count to g.
func AccelFactor(r AccelRange) float64 { return r.FullScale() / 32768.0 }

// GyroFactor maps a raw gyroscope count to degrees per second.
func GyroFactor(r GyroRange) float64 { return r.FullScale() / 32768.0 }

// Settings is the hardware-mirrored configuration of one sensor. The driver
// keeps one as its source of truth and never re-reads it from the device.
type Settings struct {
	ClockSource ClockSource `yaml:"clock_source" mapstructure:"clock_source" json:"clock_source"`
	DLPFMode    DLPFMode    `yaml:"dlpf_mode" mapstructure:"dlpf_mode" json:"dlpf_mode"`
	Rate        uint8       `yaml:"rate" mapstructure:"rate" json:"rate"`
	AccelRange  AccelRange  `yaml:"full_scale_accel_range" mapstructure:"full_scale_accel_range" json:"full_scale_accel_range"`
	GyroRange   GyroRange   `yaml:"full_scale_gyro_range" mapstructure:"full_scale_gyro_range" json:"full_scale_gyro_range"`

	AccelFIFO bool `yaml:"accel_fifo_enabled" mapstructure:"accel_fifo_enabled" json:"accel_fifo_enabled"`
	GyroXFIFO bool `yaml:"x_gyro_fifo_enabled" mapstructure:"x_gyro_fifo_enabled" json:"x_gyro_fifo_enabled"`
	GyroYFIFO bool `yaml:"y_gyro_fifo_enabled" mapstructure:"y_gyro_fifo_enabled" json:"y_gyro_fifo_enabled"`
	GyroZFIFO bool `yaml:"z_gyro_fifo_enabled" mapstructure:"z_gyro_fifo_enabled" json:"z_gyro_fifo_enabled"`
}

// PowerOnSettings is the state of a sensor right after a device reset.
func PowerOnSettings() Settings {
	return Settings{
		ClockSource: ClockInternal,
		DLPFMode:    DLPF256,
		AccelRange:  Accel2G,
		GyroRange:   Gyro250,
	}
}

// DefaultSettings is what a freshly generated node config carries: PLL
// clock, 42 Hz filter, 100 Hz sampling, every lane in the FIFO.
func DefaultSettings() Settings {
	return Settings{
		ClockSource: ClockPLLXGyro,
		DLPFMode:    DLPF42,
		Rate:        9,
		AccelRange:  Accel2G,
		GyroRange:   Gyro250,
		AccelFIFO:   true,
		GyroXFIFO:   true,
		GyroYFIFO:   true,
		GyroZFIFO:   true,
	}
}

// Validate checks every enum against its range.
func (s Settings) Validate() error {
	switch {
	case !s.ClockSource.Valid():
		return fmt.Errorf("%w: clock_source %d", ErrInvalidConfig, s.ClockSource)
	case !s.DLPFMode.Valid():
		return fmt.Errorf("%w: dlpf_mode %d", ErrInvalidConfig, s.DLPFMode)
	case !s.AccelRange.Valid():
		return fmt.Errorf("%w: full_scale_accel_range %d", ErrInvalidConfig, s.AccelRange)
	case !s.GyroRange.Valid():
		return fmt.Errorf("%w: full_scale_gyro_range %d", ErrInvalidConfig, s.GyroRange)
	}
	return nil
}

// Lanes returns the FIFO lane flags.
func (s Settings) Lanes() Lanes {
	return Lanes{Accel: s.AccelFIFO, GyroX: s.GyroXFIFO, GyroY: s.GyroYFIFO, GyroZ: s.GyroZFIFO}
}

// GyroOutputRate is the internal sample clock in Hz.
func (s Settings) GyroOutputRate() float64 {
	if s.DLPFMode == DLPF256 {
		return GyroOutputRateDefault
	}
	return GyroOutputRateDLPF
}

// SampleRate is the FIFO fill rate in packages per second.
func (s Settings) SampleRate() float64 {
	return s.GyroOutputRate() / (1 + float64(s.Rate))
}

// PackageLength is the size in bytes of one FIFO package.
func (s Settings) PackageLength() int { return s.Lanes().PackageLength() }

func (s Settings) AccelFactor() float64 { return AccelFactor(s.AccelRange) }

func (s Settings) GyroFactor() float64 { return GyroFactor(s.GyroRange) }

// SensorConfig binds settings to one physical sensor on a node.
type SensorConfig struct {
	ID       string   `yaml:"id" mapstructure:"id" json:"id"`
	Bus      string   `yaml:"bus" mapstructure:"bus" json:"bus"`
	Address  uint16   `yaml:"address" mapstructure:"address" json:"address"`
	Settings Settings `yaml:"settings" mapstructure:"settings" json:"settings"`
}
