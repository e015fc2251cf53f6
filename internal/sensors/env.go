// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/imu_capture/internal/env"
)

// Ambient is an optional BMx280 sharing the node's I2C bus. Its reading is
// stored with each session fragment.
type Ambient struct {
	mu     sync.Mutex
	source string
	bus    i2c.BusCloser
	dev    *bmxx80.Dev
}

// OpenAmbient opens a BMx280 at addr on the named bus.
func OpenAmbient(busName string, addr uint16) (*Ambient, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	b, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("ambient: open %s: %w", busName, err)
	}

	dev, err := bmxx80.NewI2C(b, addr, &bmxx80.DefaultOpts)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("ambient: init: %w", err)
	}
	return &Ambient{source: busName, bus: b, dev: dev}, nil
}

// Read senses temperature and pressure once.
func (a *Ambient) Read() (env.Sample, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var e physic.Env
	if err := a.dev.Sense(&e); err != nil {
		return env.Sample{}, fmt.Errorf("ambient sense: %w", err)
	}

	return env.Sample{
		Source:      a.source,
		Temperature: e.Temperature.Celsius(),
		Pressure:    float64(e.Pressure) / float64(physic.Pascal),
		Humidity:    float64(e.Humidity) / float64(physic.PercentRH),
		Time:        time.Now(),
	}, nil
}

func (a *Ambient) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.dev.Halt(); err != nil {
		_ = a.bus.Close()
		return err
	}
	return a.bus.Close()
}
