// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/relabs-tech/imu_capture/internal/bus"
	"github.com/relabs-tech/imu_capture/internal/imu"
	"github.com/relabs-tech/imu_capture/internal/sensors"
	"github.com/relabs-tech/imu_capture/internal/sensors/sensorstest"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

// fakeSource advances the clock by step on every count read and reports
// counts[k] at poll k (zero once the list runs out).
type fakeSource struct {
	id       string
	settings imu.Settings
	clock    *fakeClock
	step     time.Duration
	counts   []int

	polls  int
	resets int
	next   byte
}

func (s *fakeSource) ID() string             { return s.id }
func (s *fakeSource) Settings() imu.Settings { return s.settings }

func (s *fakeSource) ResetFIFO(context.Context) error {
	s.resets++
	return nil
}

func (s *fakeSource) FIFOCount(context.Context) (int, error) {
	s.clock.t = s.clock.t.Add(s.step)
	k := s.polls
	s.polls++
	if k < len(s.counts) {
		return s.counts[k], nil
	}
	return 0, nil
}

func (s *fakeSource) ReadFIFO(_ context.Context, n int) ([]byte, error) {
	b := make([]byte, n)
	for i := range b {
		b[i] = s.next
		s.next++
	}
	return b, nil
}

func TestCaptureOverflowIsAdvisory(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	src := &fakeSource{
		id:       "s1",
		settings: imu.DefaultSettings(),
		clock:    clk,
		step:     10 * time.Millisecond,
		counts:   []int{24, 0, 1024, 24},
	}
	idle := &fakeSource{id: "s2", settings: imu.PowerOnSettings(), clock: clk}

	dir := t.TempDir()
	var states []State
	c := &Capture{
		Name:         "walk",
		ControllerID: "node1",
		Dir:          dir,
		Duration:     100 * time.Millisecond,
		Sources:      []Source{src, idle},
		Now:          clk.Now,
		OnState:      func(s State) { states = append(states, s) },
	}
	frag, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if src.polls != 10 {
		t.Errorf("polled %d times, want 10", src.polls)
	}
	if idle.polls != 0 {
		t.Errorf("sensor without lanes polled %d times", idle.polls)
	}
	if src.resets != 1 || idle.resets != 1 {
		t.Errorf("FIFO resets = %d, %d; want 1 each", src.resets, idle.resets)
	}

	ov := frag.Overflows["s1"]
	if len(ov) != 1 || math.Abs(ov[0]-0.03) > 1e-9 {
		t.Fatalf("overflows = %v, want [0.03]", ov)
	}
	if frag.NPackages["s1"] != 6 {
		t.Errorf("n_packages = %d, want 6", frag.NPackages["s1"])
	}
	if frag.NPackages["s2"] != 0 {
		t.Errorf("idle n_packages = %d", frag.NPackages["s2"])
	}
	if frag.Time.Start != 1700000000 || frag.Time.Duration != 0.1 {
		t.Errorf("time = %+v", frag.Time)
	}
	if frag.Sensors["s1"].PackageLength != 12 || frag.Sensors["s1"].SampleRate != 100 {
		t.Errorf("metadata = %+v", frag.Sensors["s1"])
	}

	raw, err := os.ReadFile(filepath.Join(dir, RawDir, RawFileName("s1")))
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 6*12 {
		t.Errorf("raw file is %d bytes, want 72", len(raw))
	}
	for i, b := range raw {
		if b != byte(i) {
			t.Fatalf("raw byte %d = %d, stream reordered", i, b)
		}
	}
	if fi, err := os.Stat(filepath.Join(dir, RawDir, RawFileName("s2"))); err != nil || fi.Size() != 0 {
		t.Errorf("idle raw file: %v, %v", fi, err)
	}

	onDisk, err := LoadFragment(FragmentPath(dir, "node1"))
	if err != nil {
		t.Fatalf("LoadFragment: %v", err)
	}
	if onDisk.NPackages["s1"] != 6 || len(onDisk.Overflows["s1"]) != 1 || onDisk.Aborted != "" {
		t.Errorf("fragment on disk = %+v", onDisk)
	}

	want := []State{Armed, Running, Finalizing, Done}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("state %d = %v, want %v", i, states[i], want[i])
		}
	}
}

func TestCaptureReadErrorKeepsData(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	src := &fakeSource{
		id:       "s1",
		settings: imu.DefaultSettings(),
		clock:    clk,
		step:     time.Millisecond,
		counts:   []int{24, 24},
	}
	// fail the second burst
	cause := errors.New("bus stuck")
	wrapped := &failAfter{fakeSource: src, ok: 1, err: cause}

	dir := t.TempDir()
	c := &Capture{Name: "walk", ControllerID: "node1", Dir: dir, Duration: time.Second, Sources: []Source{wrapped}, Now: clk.Now}

	frag, err := c.Run(context.Background())
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want %v", err, cause)
	}
	if c.State() != Failed {
		t.Errorf("state = %v, want failed", c.State())
	}
	if frag == nil || frag.Aborted == "" {
		t.Fatalf("fragment not marked aborted: %+v", frag)
	}
	raw, err := os.ReadFile(filepath.Join(dir, RawDir, RawFileName("s1")))
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 24 {
		t.Errorf("raw file is %d bytes, want the 24 read before the error", len(raw))
	}
	if _, err := LoadFragment(FragmentPath(dir, "node1")); err != nil {
		t.Errorf("fragment not written: %v", err)
	}
}

type failAfter struct {
	*fakeSource
	ok  int
	err error
}

func (f *failAfter) ReadFIFO(ctx context.Context, n int) ([]byte, error) {
	if f.ok == 0 {
		return nil, f.err
	}
	f.ok--
	return f.fakeSource.ReadFIFO(ctx, n)
}

func TestCaptureCancelled(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	src := &fakeSource{id: "s1", settings: imu.DefaultSettings(), clock: clk, step: time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &Capture{Name: "walk", ControllerID: "node1", Dir: t.TempDir(), Duration: time.Second, Sources: []Source{src}, Now: clk.Now}
	frag, err := c.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if frag.Aborted == "" {
		t.Error("fragment not marked aborted")
	}
}

func TestCaptureRejectsBadInput(t *testing.T) {
	clk := &fakeClock{}
	src := &fakeSource{id: "s1", settings: imu.DefaultSettings(), clock: clk}
	cases := map[string]*Capture{
		"name":      {Name: "../x", Duration: time.Second, Sources: []Source{src}},
		"duration":  {Name: "x", Sources: []Source{src}},
		"duplicate": {Name: "x", Duration: time.Second, Sources: []Source{src, src}},
	}
	for name, c := range cases {
		c.Dir = t.TempDir()
		c.Now = clk.Now
		if _, err := c.Run(context.Background()); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestCaptureDriver(t *testing.T) {
	sim := sensorstest.New()
	sim.BeforeCount = func(s *sensorstest.MPU6050) { s.Push(make([]byte, 12)) }
	m := sensors.NewMPU6050("s1", bus.New(sim, 100*time.Millisecond))
	if err := sensors.Setup(context.Background(), m, imu.DefaultSettings()); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	c := &Capture{Name: "bench", ControllerID: "node1", Dir: dir, Duration: 20 * time.Millisecond, Sources: []Source{m}}
	frag, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if frag.NPackages["s1"] == 0 {
		t.Fatal("no packages captured")
	}
	fi, err := os.Stat(filepath.Join(dir, RawDir, RawFileName("s1")))
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() != int64(frag.NPackages["s1"]*12) {
		t.Errorf("raw file is %d bytes for %d packages", fi.Size(), frag.NPackages["s1"])
	}
}
