// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

// Fix represents a single combined GPS fix, recorded with a session.
type Fix struct {
	Time       string  `json:"time" yaml:"time"`               // e.g. "12:34:56"
	Date       string  `json:"date" yaml:"date"`               // e.g. "06/12/25"
	Latitude   float64 `json:"lat" yaml:"lat"`                 // decimal degrees
	Longitude  float64 `json:"lon" yaml:"lon"`                 // decimal degrees
	SpeedKnots float64 `json:"speed_knots" yaml:"speed_knots"` // speed over ground
	CourseDeg  float64 `json:"course_deg" yaml:"course_deg"`   // course over ground
	Validity   string  `json:"validity" yaml:"validity"`       // "A" (valid) / "V" (void), etc.
}

// Valid reports whether the receiver flagged the fix as usable.
func (f Fix) Valid() bool { return f.Validity == "A" }
