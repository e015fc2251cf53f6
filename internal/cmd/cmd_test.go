// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/relabs-tech/imu_capture/internal/imu"
	"github.com/relabs-tech/imu_capture/internal/session"
)

// writeSession lays out a single-node session with n packages of sensor a.
func writeSession(t *testing.T, root, name string, n int) string {
	t.Helper()
	dir := filepath.Join(root, name)
	for _, d := range []string{session.RawDir, session.MetadataDir} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	s := imu.DefaultSettings()
	raw := make([]byte, n*s.PackageLength())
	if err := os.WriteFile(filepath.Join(dir, session.RawDir, session.RawFileName("a")), raw, 0o644); err != nil {
		t.Fatal(err)
	}
	frag := &session.Fragment{
		Name:         name,
		ControllerID: "left",
		Time:         session.FragmentTime{Start: 1000, Duration: 1},
		Sensors:      map[string]session.SensorMeta{"a": session.MetaFor(s)},
		Overflows:    map[string][]float64{"a": {}},
		Files:        map[string]string{"a": session.RawFileName("a")},
		NPackages:    map[string]int{"a": n},
	}
	if err := session.SaveFragment(dir, frag); err != nil {
		t.Fatal(err)
	}
	return dir
}

func collectorConfig(t *testing.T, root string, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "collector.yaml")
	body := "sessions_path: " + root + "\n" + extra
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewCollectorCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCollectorMergeDecode(t *testing.T) {
	root := t.TempDir()
	dir := writeSession(t, root, "walk", 3)
	cfg := collectorConfig(t, root, "")

	out, err := run(t, "merge", "walk", "--decode", "--config", cfg)
	if err != nil {
		t.Fatalf("merge: %v\n%s", err, out)
	}
	if !strings.Contains(out, "walk: merged 1 devices, 1 sensors") || !strings.Contains(out, "(3 rows)") {
		t.Errorf("output = %q", out)
	}
	csv, err := os.ReadFile(filepath.Join(dir, "sensor_a.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Count(string(csv), "\n"); lines != 4 {
		t.Errorf("csv has %d lines", lines)
	}

	if out, err := run(t, "decode", "walk", "--config", cfg); err != nil || !strings.Contains(out, "sensor_a.csv (3 rows)") {
		t.Errorf("decode again: %v %q", err, out)
	}
	if _, err := run(t, "merge", "walk", "--config", cfg); !errors.Is(err, session.ErrNoFragments) {
		t.Errorf("second merge: %v", err)
	}
}

func TestCollectorMergeWaitsForDevices(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "jump", 2)
	cfg := collectorConfig(t, root, "devices: [left, right]\n")

	if _, err := run(t, "merge", "jump", "--config", cfg); !errors.Is(err, session.ErrIncompleteFragments) {
		t.Errorf("err = %v, want ErrIncompleteFragments", err)
	}
	if _, err := run(t, "merge", "../jump", "--config", cfg); !errors.Is(err, session.ErrInvalidSession) {
		t.Errorf("err = %v, want ErrInvalidSession", err)
	}
	if _, err := run(t, "decode", "--config", cfg); err == nil {
		t.Error("decode without a session accepted")
	}
}

func TestNodeCmdTree(t *testing.T) {
	names := map[string]bool{}
	for _, c := range NewNodeCmd().Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "init", "probe", "calibrate"} {
		if !names[want] {
			t.Errorf("imu-node has no %s command", want)
		}
	}
	if NewConsoleCmd().Flags().Lookup("config") == nil || NewRegisterDebugCmd().Flags().Lookup("listen") == nil {
		t.Error("tool flags missing")
	}
}
