// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/imu_capture/internal/bus"
	"github.com/relabs-tech/imu_capture/internal/imu"
)

// ErrUnknownSensor is returned when a command names a sensor this node does
// not own.
var ErrUnknownSensor = errors.New("sensors: unknown sensor id")

// AllSensors selects every sensor of a Set.
const AllSensors = "all"

// Set owns the drivers of one node, keyed by sensor id, in configuration
// order. It is built once at startup and passed to whoever needs it.
type Set struct {
	order []string
	byID  map[string]*MPU6050
}

func NewSet() *Set {
	return &Set{byID: make(map[string]*MPU6050)}
}

// Add registers a driver. Ids must be unique.
func (s *Set) Add(m *MPU6050) error {
	if _, ok := s.byID[m.ID()]; ok {
		return fmt.Errorf("sensors: duplicate sensor id %q", m.ID())
	}
	s.byID[m.ID()] = m
	s.order = append(s.order, m.ID())
	return nil
}

// Get returns the driver for id.
func (s *Set) Get(id string) (*MPU6050, error) {
	m, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSensor, id)
	}
	return m, nil
}

// Select resolves a one-or-all target. An empty id or AllSensors selects
// every sensor.
func (s *Set) Select(id string) ([]*MPU6050, error) {
	if id == "" || id == AllSensors {
		return s.All(), nil
	}
	m, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return []*MPU6050{m}, nil
}

// All returns the drivers in configuration order.
func (s *Set) All() []*MPU6050 {
	out := make([]*MPU6050, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// IDs returns the sensor ids in configuration order.
func (s *Set) IDs() []string {
	return append([]string(nil), s.order...)
}

func (s *Set) Len() int { return len(s.order) }

// Close releases every bus.
func (s *Set) Close() error {
	var errs []error
	for _, m := range s.All() {
		if err := m.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenSet opens, initializes and configures one driver per entry. Sensors
// that fail are closed again and reported together.
func OpenSet(ctx context.Context, cfgs []imu.SensorConfig, readTimeout time.Duration) (*Set, error) {
	set := NewSet()
	for _, c := range cfgs {
		dev, err := bus.Open(c.Bus, c.Address, readTimeout)
		if err != nil {
			_ = set.Close()
			return nil, fmt.Errorf("sensor %s: %w", c.ID, err)
		}
		m := NewMPU6050(c.ID, dev)
		if err := set.Add(m); err != nil {
			_ = dev.Close()
			_ = set.Close()
			return nil, err
		}
		if err := Setup(ctx, m, c.Settings); err != nil {
			_ = set.Close()
			return nil, err
		}
		log.Infof("sensors: %s ready on %s@0x%02X", c.ID, c.Bus, c.Address)
	}
	return set, nil
}

// Setup verifies identity, wakes the device and applies persisted settings.
func Setup(ctx context.Context, m *MPU6050, s imu.Settings) error {
	ok, err := m.TestConnection(ctx)
	if err != nil {
		return fmt.Errorf("%s: identity: %w", m.ID(), err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", m.ID(), ErrDisconnected)
	}
	if err := m.Init(ctx); err != nil {
		return err
	}
	return m.Configure(ctx, s)
}
