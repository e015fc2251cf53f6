// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/imu_capture/internal/env"
	"github.com/relabs-tech/imu_capture/internal/gps"
	"github.com/relabs-tech/imu_capture/internal/imu"
	"github.com/relabs-tech/imu_capture/internal/sensors"
)

// Source is a sensor the capture loop can drain.
type Source interface {
	ID() string
	Settings() imu.Settings
	ResetFIFO(ctx context.Context) error
	FIFOCount(ctx context.Context) (int, error)
	ReadFIFO(ctx context.Context, n int) ([]byte, error)
}

// State is the lifecycle of a capture.
type State int

const (
	Idle State = iota
	Armed
	Running
	Finalizing
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Running:
		return "running"
	case Finalizing:
		return "finalizing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Capture drains the FIFOs of every source into raw files for a fixed
// wall-clock duration. Polling is round-robin on one goroutine; timing is
// best effort.
type Capture struct {
	Name         string
	ControllerID string
	// Dir is the session directory, usually <sessions>/<Name>.
	Dir      string
	Duration time.Duration
	Sources  []Source

	// Ambient and Location are recorded in the fragment when set.
	Ambient  *env.Sample
	Location *gps.Fix

	// Now defaults to time.Now.
	Now func() time.Time
	// OnState is called on every transition.
	OnState func(State)

	state State
}

// stream is the per-sensor state of a running capture.
type stream struct {
	src       Source
	id        string
	length    int
	perRead   int
	file      *os.File
	w         *bufio.Writer
	packages  int
	overflows []float64
}

func (c *Capture) setState(s State) {
	c.state = s
	if c.OnState != nil {
		c.OnState(s)
	}
}

// State returns the current lifecycle state.
func (c *Capture) State() State { return c.state }

// Run performs the capture and writes the fragment manifest. Raw files are
// flushed and closed on every path. If the loop stops on an error the
// fragment is still written, with Aborted set, and the error is returned.
func (c *Capture) Run(ctx context.Context) (*Fragment, error) {
	if err := ValidateName(c.Name); err != nil {
		return nil, err
	}
	if c.Duration <= 0 {
		return nil, fmt.Errorf("session %s: duration must be positive, got %v", c.Name, c.Duration)
	}
	now := c.Now
	if now == nil {
		now = time.Now
	}

	rawDir := filepath.Join(c.Dir, RawDir)
	if err := os.MkdirAll(rawDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(c.Dir, MetadataDir), 0o755); err != nil {
		return nil, err
	}

	frag := &Fragment{
		Name:         c.Name,
		ControllerID: c.ControllerID,
		Time:         FragmentTime{Duration: c.Duration.Seconds()},
		Sensors:      make(map[string]SensorMeta, len(c.Sources)),
		Overflows:    make(map[string][]float64, len(c.Sources)),
		Files:        make(map[string]string, len(c.Sources)),
		NPackages:    make(map[string]int, len(c.Sources)),
		Ambient:      c.Ambient,
		Location:     c.Location,
	}

	streams := make([]*stream, 0, len(c.Sources))
	defer func() {
		for _, s := range streams {
			s.close()
		}
	}()
	for _, src := range c.Sources {
		settings := src.Settings()
		id := src.ID()
		if _, dup := frag.Sensors[id]; dup {
			return nil, fmt.Errorf("session %s: %w: %s", c.Name, ErrDuplicateSensor, id)
		}
		frag.Sensors[id] = MetaFor(settings)
		frag.Files[id] = RawFileName(id)

		f, err := os.Create(filepath.Join(rawDir, RawFileName(id)))
		if err != nil {
			return nil, err
		}
		s := &stream{src: src, id: id, length: settings.PackageLength(), file: f, w: bufio.NewWriter(f)}
		if s.length > 0 {
			s.perRead = sensors.MaxBurst / s.length
		}
		streams = append(streams, s)
	}

	runErr := c.loop(ctx, now, frag, streams)

	c.setState(Finalizing)
	var closeErr error
	for _, s := range streams {
		frag.Overflows[s.id] = append([]float64{}, s.overflows...)
		frag.NPackages[s.id] = s.packages
		if err := s.close(); err != nil && closeErr == nil {
			closeErr = fmt.Errorf("close %s: %w", s.id, err)
		}
	}
	if runErr == nil {
		runErr = closeErr
	}
	if runErr != nil {
		frag.Aborted = runErr.Error()
	}

	if err := SaveFragment(c.Dir, frag); err != nil {
		c.setState(Failed)
		return frag, errors.Join(runErr, fmt.Errorf("write manifest: %w", err))
	}
	if runErr != nil {
		c.setState(Failed)
		return frag, runErr
	}
	c.setState(Done)
	return frag, nil
}

func (c *Capture) loop(ctx context.Context, now func() time.Time, frag *Fragment, streams []*stream) error {
	start := now()
	frag.Time.Start = unixSeconds(start)
	for _, s := range streams {
		if err := s.src.ResetFIFO(ctx); err != nil {
			return err
		}
	}
	c.setState(Armed)

	c.setState(Running)
	log.Infof("session %s: capturing %d sensors for %v", c.Name, len(streams), c.Duration)
	for now().Sub(start) < c.Duration {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, s := range streams {
			if s.length == 0 {
				continue
			}
			if err := c.poll(ctx, now, start, s); err != nil {
				return err
			}
		}
	}

	for _, s := range streams {
		log.Debugf("session %s: %s captured %d packages, %d overflows", c.Name, s.id, s.packages, len(s.overflows))
	}
	return nil
}

// poll drains at most one burst of whole packages from s.
func (c *Capture) poll(ctx context.Context, now func() time.Time, start time.Time, s *stream) error {
	count, err := s.src.FIFOCount(ctx)
	if err != nil {
		return err
	}
	// a full queue means samples were lost since the last drain
	if count >= sensors.FIFOCapacity {
		elapsed := now().Sub(start).Seconds()
		s.overflows = append(s.overflows, elapsed)
		log.Warnf("session %s: %s FIFO overflow at %.3fs", c.Name, s.id, elapsed)
	}

	need := s.length * s.perRead
	if count < need {
		return nil
	}
	b, err := s.src.ReadFIFO(ctx, need)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(b); err != nil {
		return fmt.Errorf("write %s: %w", s.id, err)
	}
	s.packages += s.perRead
	return nil
}

func (s *stream) close() error {
	if s.file == nil {
		return nil
	}
	err := s.w.Flush()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.file = nil
	return err
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
