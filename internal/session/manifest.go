// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package session captures FIFO data into a session directory, merges the
// per-node manifests of a session and decodes the raw files.
//
// A session directory looks like:
//
//	<name>/metadata/<controller>_session_info.yml   one fragment per node
//	<name>/metadata/session_info.yml                unified manifest after merge
//	<name>/raw_data/sensor_<id>                     raw FIFO bytes
//	<name>/sensor_<id>.csv                          decoded series
package session

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/imu_capture/internal/env"
	"github.com/relabs-tech/imu_capture/internal/gps"
	"github.com/relabs-tech/imu_capture/internal/imu"
)

const (
	MetadataDir    = "metadata"
	RawDir         = "raw_data"
	ManifestFile   = "session_info.yml"
	fragmentSuffix = "_session_info.yml"
)

var (
	ErrInvalidSession      = errors.New("session: invalid session name")
	ErrMalformedManifest   = errors.New("session: malformed manifest")
	ErrMalformedRaw        = errors.New("session: malformed raw data")
	ErrNoFragments         = errors.New("session: no manifest fragments")
	ErrIncompleteFragments = errors.New("session: manifest fragments missing")
	ErrDuplicateSensor     = errors.New("session: sensor id reported by more than one fragment")
)

// ValidateName rejects names that are empty or would escape the sessions
// directory.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidSession, name)
	}
	return nil
}

// RawFileName is the raw file of a sensor inside RawDir.
func RawFileName(sensorID string) string { return "sensor_" + sensorID }

// FragmentPath is where a node writes its manifest fragment.
func FragmentPath(sessionDir, controllerID string) string {
	return filepath.Join(sessionDir, MetadataDir, controllerID+fragmentSuffix)
}

// ManifestPath is where the merged manifest lives.
func ManifestPath(sessionDir string) string {
	return filepath.Join(sessionDir, MetadataDir, ManifestFile)
}

// SensorMeta is the configuration a sensor had during capture, with the
// values derived from it.
type SensorMeta struct {
	imu.Settings `yaml:",inline"`

	SampleRate    float64 `yaml:"sample_rate" json:"sample_rate"`
	AccelFactor   float64 `yaml:"accel_factor" json:"accel_factor"`
	GyroFactor    float64 `yaml:"gyro_factor" json:"gyro_factor"`
	PackageLength int     `yaml:"package_length" json:"package_length"`
}

// MetaFor derives the recorded metadata from cached settings.
func MetaFor(s imu.Settings) SensorMeta {
	return SensorMeta{
		Settings:      s,
		SampleRate:    s.SampleRate(),
		AccelFactor:   s.AccelFactor(),
		GyroFactor:    s.GyroFactor(),
		PackageLength: s.PackageLength(),
	}
}

// FragmentTime holds the wall clock start in unix seconds and the
// requested duration in seconds.
type FragmentTime struct {
	Start    float64 `yaml:"start" json:"start"`
	Duration float64 `yaml:"duration" json:"duration"`
}

// Fragment is the manifest one node writes for its part of a session.
type Fragment struct {
	Name         string                `yaml:"name" json:"name"`
	ControllerID string                `yaml:"controller_id" json:"controller_id"`
	Time         FragmentTime          `yaml:"time" json:"time"`
	Sensors      map[string]SensorMeta `yaml:"sensors" json:"sensors"`
	Overflows    map[string][]float64  `yaml:"overflows" json:"overflows"`
	Files        map[string]string     `yaml:"files" json:"files"`
	NPackages    map[string]int        `yaml:"n_packages" json:"n_packages"`
	Ambient      *env.Sample           `yaml:"ambient,omitempty" json:"ambient,omitempty"`
	Location     *gps.Fix              `yaml:"location,omitempty" json:"location,omitempty"`
	Aborted      string                `yaml:"aborted,omitempty" json:"aborted,omitempty"`
}

// ManifestTime holds each controller's start and the shared duration.
type ManifestTime struct {
	Start    map[string]float64 `yaml:"start" json:"start"`
	Duration float64            `yaml:"duration" json:"duration"`
}

// Crop is a half-open package index window [start, end).
type Crop [2]int

func (c Crop) Start() int { return c[0] }
func (c Crop) End() int   { return c[1] }
func (c Crop) Len() int   { return c[1] - c[0] }

// Manifest is the unified description of a merged session.
type Manifest struct {
	Name      string                `yaml:"name" json:"name"`
	Devices   map[string][]string   `yaml:"devices" json:"devices"`
	Time      ManifestTime          `yaml:"time" json:"time"`
	Sensors   map[string]SensorMeta `yaml:"sensors" json:"sensors"`
	Overflows map[string][]float64  `yaml:"overflows" json:"overflows"`
	Files     map[string]string     `yaml:"files" json:"files"`
	NPackages map[string]int        `yaml:"n_packages" json:"n_packages"`
	Crops     map[string]Crop       `yaml:"crops" json:"crops"`
	Ambient   map[string]env.Sample `yaml:"ambient,omitempty" json:"ambient,omitempty"`
	Locations map[string]gps.Fix    `yaml:"locations,omitempty" json:"locations,omitempty"`
	Aborted   map[string]string     `yaml:"aborted,omitempty" json:"aborted,omitempty"`
}

func readYAML(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrMalformedManifest, path, err)
	}
	return nil
}

// writeYAML writes through a temporary file so readers never see a
// partial manifest.
func writeYAML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadFragment reads one fragment file.
func LoadFragment(path string) (*Fragment, error) {
	var f Fragment
	if err := readYAML(path, &f); err != nil {
		return nil, err
	}
	if f.ControllerID == "" {
		return nil, fmt.Errorf("%w: %s has no controller_id", ErrMalformedManifest, path)
	}
	return &f, nil
}

// SaveFragment writes f to its place under sessionDir.
func SaveFragment(sessionDir string, f *Fragment) error {
	return writeYAML(FragmentPath(sessionDir, f.ControllerID), f)
}

// LoadManifest reads the merged manifest of a session.
func LoadManifest(sessionDir string) (*Manifest, error) {
	var m Manifest
	if err := readYAML(ManifestPath(sessionDir), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveManifest writes the merged manifest of a session.
func SaveManifest(sessionDir string, m *Manifest) error {
	return writeYAML(ManifestPath(sessionDir), m)
}

// FragmentPaths lists the fragment files present in a session, sorted.
func FragmentPaths(sessionDir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(sessionDir, MetadataDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fragmentSuffix) {
			continue
		}
		out = append(out, filepath.Join(sessionDir, MetadataDir, e.Name()))
	}
	return out, nil
}

// controllerOf extracts the controller id from a fragment file name.
func controllerOf(path string) string {
	return strings.TrimSuffix(filepath.Base(path), fragmentSuffix)
}
