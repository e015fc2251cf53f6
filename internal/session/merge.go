// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/imu_capture/internal/env"
	"github.com/relabs-tech/imu_capture/internal/gps"
)

// MergeFragments unifies the fragments of one session and computes the
// crop windows that align every sensor to the latest node start.
func MergeFragments(frags []*Fragment) (*Manifest, error) {
	if len(frags) == 0 {
		return nil, ErrNoFragments
	}
	frags = slices.Clone(frags)
	sort.Slice(frags, func(i, j int) bool { return frags[i].ControllerID < frags[j].ControllerID })

	name := frags[0].Name
	m := &Manifest{
		Name:      name,
		Devices:   make(map[string][]string, len(frags)),
		Time:      ManifestTime{Start: make(map[string]float64, len(frags))},
		Sensors:   map[string]SensorMeta{},
		Overflows: map[string][]float64{},
		Files:     map[string]string{},
		NPackages: map[string]int{},
		Crops:     map[string]Crop{},
	}

	owner := map[string]string{}
	startMax := math.Inf(-1)
	for _, f := range frags {
		if f.Name != name {
			return nil, fmt.Errorf("%w: fragment %s belongs to session %q, not %q",
				ErrMalformedManifest, f.ControllerID, f.Name, name)
		}
		if _, dup := m.Devices[f.ControllerID]; dup {
			return nil, fmt.Errorf("%w: controller %s appears twice", ErrMalformedManifest, f.ControllerID)
		}

		ids := make([]string, 0, len(f.Sensors))
		for id, meta := range f.Sensors {
			if other, dup := owner[id]; dup {
				return nil, fmt.Errorf("%w: %s on %s and %s", ErrDuplicateSensor, id, other, f.ControllerID)
			}
			owner[id] = f.ControllerID
			ids = append(ids, id)
			m.Sensors[id] = meta
			m.Overflows[id] = f.Overflows[id]
			m.Files[id] = f.Files[id]
			m.NPackages[id] = f.NPackages[id]
		}
		sort.Strings(ids)
		m.Devices[f.ControllerID] = ids

		m.Time.Start[f.ControllerID] = f.Time.Start
		m.Time.Duration = math.Max(m.Time.Duration, f.Time.Duration)
		startMax = math.Max(startMax, f.Time.Start)

		if f.Ambient != nil {
			if m.Ambient == nil {
				m.Ambient = map[string]env.Sample{}
			}
			m.Ambient[f.ControllerID] = *f.Ambient
		}
		if f.Location != nil {
			if m.Locations == nil {
				m.Locations = map[string]gps.Fix{}
			}
			m.Locations[f.ControllerID] = *f.Location
		}
		if f.Aborted != "" {
			if m.Aborted == nil {
				m.Aborted = map[string]string{}
			}
			m.Aborted[f.ControllerID] = f.Aborted
		}
	}

	nMin := math.MaxInt
	for id, meta := range m.Sensors {
		n := m.NPackages[id]
		if meta.PackageLength == 0 {
			m.Crops[id] = Crop{0, 0}
			continue
		}
		delay := startMax - m.Time.Start[owner[id]]
		start := int(math.Floor(delay * meta.SampleRate))
		start = min(max(start, 0), n)
		m.Crops[id] = Crop{start, n}
		nMin = min(nMin, n-start)
	}
	if nMin == math.MaxInt {
		nMin = 0
	}
	for id, c := range m.Crops {
		if m.Sensors[id].PackageLength == 0 {
			continue
		}
		m.Crops[id] = Crop{c.Start(), c.Start() + nMin}
	}
	return m, nil
}

// MergeOptions controls MergeDir.
type MergeOptions struct {
	// Expected lists the controllers that must have delivered a fragment.
	// When empty any non-empty set is accepted.
	Expected []string
	// Keep leaves the fragment files in place after a successful merge.
	Keep bool
}

// MergeDir merges the fragments found in sessionDir, writes the unified
// manifest and removes the fragments. Nothing is written or removed when
// an expected fragment is missing.
func MergeDir(sessionDir string, opts MergeOptions) (*Manifest, error) {
	paths, err := FragmentPaths(sessionDir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFragments, sessionDir)
	}

	present := make(map[string]bool, len(paths))
	for _, p := range paths {
		present[controllerOf(p)] = true
	}
	var missing []string
	for _, id := range opts.Expected {
		if !present[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrIncompleteFragments, missing)
	}

	frags := make([]*Fragment, 0, len(paths))
	for _, p := range paths {
		f, err := LoadFragment(p)
		if err != nil {
			return nil, err
		}
		frags = append(frags, f)
	}

	m, err := MergeFragments(frags)
	if err != nil {
		return nil, err
	}
	if err := SaveManifest(sessionDir, m); err != nil {
		return nil, err
	}
	log.Infof("session %s: merged %d fragments, %d sensors", m.Name, len(frags), len(m.Sensors))

	if opts.Keep {
		return m, nil
	}
	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil {
			errs = append(errs, err)
		}
	}
	return m, errors.Join(errs...)
}
