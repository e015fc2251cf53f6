// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration zeroes sensor bias by iteratively adjusting the
// hardware offset registers while the sensor rests.
//
// Each axis runs a momentum descent on the averaged reading. The first
// RoughIters iterations apply the full error to the offset, later ones
// apply it damped by Epsilon; the momentum term itself is always damped.
package calibration

import (
	"context"
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/imu_capture/internal/imu"
)

const (
	DefaultEpsilon    = 0.1
	DefaultMu         = 0.5
	DefaultVThreshold = 0.05

	// GravityTarget is the raw accel Z reading of 1 g at ±2 g full scale,
	// negated so a sensor lying flat calibrates to it.
	GravityTarget = -16384
)

// Sensor is the part of a driver calibration needs.
type Sensor interface {
	ReadAxis(ctx context.Context, a imu.Axis) (int16, error)
	WriteOffset(a imu.Axis, v int16) error
}

// AxisSpec is one calibration target.
type AxisSpec struct {
	Axis imu.Axis
	// Target is the raw reading expected at rest.
	Target float64
	// OffsetFactor is how many output LSB one offset register LSB moves.
	OffsetFactor float64
}

// DefaultAxes lists the six axes in the order they are calibrated.
func DefaultAxes() []AxisSpec {
	return []AxisSpec{
		{Axis: imu.AccelX, Target: 0, OffsetFactor: 8},
		{Axis: imu.AccelY, Target: 0, OffsetFactor: 8},
		{Axis: imu.AccelZ, Target: GravityTarget, OffsetFactor: 8},
		{Axis: imu.GyroX, Target: 0, OffsetFactor: 4},
		{Axis: imu.GyroY, Target: 0, OffsetFactor: 4},
		{Axis: imu.GyroZ, Target: 0, OffsetFactor: 4},
	}
}

// Params controls one calibration run.
type Params struct {
	MaxIters   int     `yaml:"max_iters" json:"max_iters"`
	RoughIters int     `yaml:"rough_iters" json:"rough_iters"`
	BufferSize int     `yaml:"buffer_size" json:"buffer_size"`
	Epsilon    float64 `yaml:"epsilon" json:"epsilon"`
	Mu         float64 `yaml:"mu" json:"mu"`
	VThreshold float64 `yaml:"v_threshold" json:"v_threshold"`
}

// DefaultParams fills the tuning constants; iteration counts stay zero.
func DefaultParams() Params {
	return Params{Epsilon: DefaultEpsilon, Mu: DefaultMu, VThreshold: DefaultVThreshold}
}

// Validate checks the iteration counts.
func (p Params) Validate() error {
	if p.MaxIters <= 0 {
		return fmt.Errorf("calibration: max_iters must be positive, got %d", p.MaxIters)
	}
	if p.RoughIters < 0 {
		return fmt.Errorf("calibration: rough_iters must not be negative, got %d", p.RoughIters)
	}
	if p.BufferSize <= 0 {
		return fmt.Errorf("calibration: buffer_size must be positive, got %d", p.BufferSize)
	}
	return nil
}

// Result reports how one axis converged.
type Result struct {
	Axis       string    `json:"axis"`
	Iterations int       `json:"iterations"`
	Offset     float64   `json:"offset"`
	Register   int16     `json:"register"`
	Velocity   float64   `json:"velocity"`
	Converged  bool      `json:"converged"`
	Deltas     []float64 `json:"deltas"`
}

// CalibrateAxis runs the descent on one axis. The offset register is
// cleared first and written after every iteration.
func CalibrateAxis(ctx context.Context, s Sensor, spec AxisSpec, p Params) (Result, error) {
	res := Result{Axis: spec.Axis.String()}
	if err := p.Validate(); err != nil {
		return res, err
	}
	if err := s.WriteOffset(spec.Axis, 0); err != nil {
		return res, fmt.Errorf("calibrate %s: clear offset: %w", spec.Axis, err)
	}

	var v, offset float64
	for i := 0; i < p.MaxIters; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		var sum float64
		for j := 0; j < p.BufferSize; j++ {
			x, err := s.ReadAxis(ctx, spec.Axis)
			if err != nil {
				return res, fmt.Errorf("calibrate %s: %w", spec.Axis, err)
			}
			sum += float64(x)
		}
		delta := sum/float64(p.BufferSize) - spec.Target

		if i < p.RoughIters {
			offset += p.Mu*v - delta
		} else {
			offset += p.Mu*v - delta*p.Epsilon
		}
		v = p.Mu*v - delta*p.Epsilon

		reg := toRegister(offset / spec.OffsetFactor)
		if err := s.WriteOffset(spec.Axis, reg); err != nil {
			return res, fmt.Errorf("calibrate %s: write offset: %w", spec.Axis, err)
		}

		res.Iterations = i + 1
		res.Offset = offset
		res.Register = reg
		res.Velocity = v
		res.Deltas = append(res.Deltas, delta)

		if math.Abs(delta) < spec.OffsetFactor && math.Abs(v) < p.VThreshold {
			res.Converged = true
			break
		}
	}
	return res, nil
}

// Calibrate runs every axis in order, one after another.
func Calibrate(ctx context.Context, s Sensor, axes []AxisSpec, p Params) ([]Result, error) {
	results := make([]Result, 0, len(axes))
	for _, spec := range axes {
		start := time.Now()
		res, err := CalibrateAxis(ctx, s, spec, p)
		if err != nil {
			return results, err
		}
		log.Infof("calibration: %s converged=%t after %d iterations (offset %.1f, register %d, %v)",
			res.Axis, res.Converged, res.Iterations, res.Offset, res.Register, time.Since(start).Round(time.Millisecond))
		results = append(results, res)
	}
	return results, nil
}

// toRegister rounds to the nearest value an offset register can hold.
func toRegister(v float64) int16 {
	r := math.Round(v)
	switch {
	case r > math.MaxInt16:
		return math.MaxInt16
	case r < math.MinInt16:
		return math.MinInt16
	}
	return int16(r)
}
