// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ReportDir is where the calibrate command writes its reports.
const ReportDir = "calibration"

// Report is the JSON record of one sensor's calibration.
type Report struct {
	SchemaVersion int      `json:"schema_version"`
	CalibrationAt string   `json:"calibration_at"` // RFC3339
	Sensor        string   `json:"sensor"`
	Params        Params   `json:"params"`
	Axes          []Result `json:"axes"`
	Converged     bool     `json:"converged"`
}

// NewReport summarizes results taken at t.
func NewReport(sensor string, p Params, results []Result, t time.Time) Report {
	ok := len(results) > 0
	for _, r := range results {
		ok = ok && r.Converged
	}
	return Report{
		SchemaVersion: 1,
		CalibrationAt: t.Format(time.RFC3339),
		Sensor:        sensor,
		Params:        p,
		Axes:          results,
		Converged:     ok,
	}
}

// WriteReport stores r under dir and returns the file name.
func WriteReport(dir string, r Report, t time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	ts := t.Format("2006-01-02T15-04-05Z07-00")
	name := filepath.Join(dir, fmt.Sprintf("%s_%s_imu_calibration.json", r.Sensor, ts))

	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(name, b, 0o644); err != nil {
		return "", err
	}
	return name, nil
}
