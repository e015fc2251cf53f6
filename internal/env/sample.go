// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package env

import "time"

// Sample is one ambient reading taken on a node when a session starts.
type Sample struct {
	Source string `json:"source" yaml:"source"` // bus the BMx280 sits on

	Temperature float64   `json:"temp_c" yaml:"temp_c"`           // °C
	Pressure    float64   `json:"pressure_pa" yaml:"pressure_pa"` // Pa
	Humidity    float64   `json:"humidity_rh,omitempty" yaml:"humidity_rh,omitempty"`
	Time        time.Time `json:"time" yaml:"time"`
}
