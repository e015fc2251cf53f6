// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
)

// Stage is how far a session on disk has been processed.
type Stage string

const (
	StageCaptured Stage = "captured"
	StageMerged   Stage = "merged"
	StageDecoded  Stage = "decoded"
)

// Status summarizes a session directory.
type Status struct {
	Name        string   `json:"name"`
	Stage       Stage    `json:"stage"`
	Controllers []string `json:"controllers"`
	Sensors     []string `json:"sensors,omitempty"`
	Outputs     []string `json:"outputs,omitempty"`
}

// Inspect reports the stage of sessionDir. A session is merged once the
// unified manifest exists and decoded once every sensor has its CSV file.
func Inspect(sessionDir string) (*Status, error) {
	if _, err := os.Stat(sessionDir); err != nil {
		return nil, err
	}
	st := &Status{Name: filepath.Base(sessionDir), Stage: StageCaptured}

	m, err := LoadManifest(sessionDir)
	if errors.Is(err, os.ErrNotExist) {
		paths, err := FragmentPaths(sessionDir)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			st.Controllers = append(st.Controllers, controllerOf(p))
		}
		return st, nil
	}
	if err != nil {
		return nil, err
	}

	st.Stage = StageMerged
	for c := range m.Devices {
		st.Controllers = append(st.Controllers, c)
	}
	sort.Strings(st.Controllers)

	decoded := true
	for id := range m.Sensors {
		st.Sensors = append(st.Sensors, id)
		name := m.Files[id]
		if name == "" {
			name = RawFileName(id)
		}
		out := CSVName(name)
		if _, err := os.Stat(filepath.Join(sessionDir, out)); err == nil {
			st.Outputs = append(st.Outputs, out)
		} else {
			decoded = false
		}
	}
	sort.Strings(st.Sensors)
	sort.Strings(st.Outputs)
	if decoded {
		st.Stage = StageDecoded
	}
	return st, nil
}
