// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"
	log "github.com/sirupsen/logrus"
)

// OpenSerial opens an NMEA receiver with 8N1 framing.
func OpenSerial(port string, baud int) (io.ReadWriteCloser, error) {
	opts := serial.OpenOptions{
		PortName:        port,
		BaudRate:        uint(baud),
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	}
	p, err := serial.Open(opts)
	if err != nil {
		return nil, err
	}
	log.Infof("gps: serial port %s opened at %d baud", port, baud)
	return p, nil
}

// ParseLine turns one RMC sentence into a Fix. ok is false for anything
// that is not a parseable RMC sentence.
func ParseLine(line string) (Fix, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Fix{}, false
	}
	s, err := nmea.Parse(line)
	if err != nil || s.DataType() != nmea.TypeRMC {
		return Fix{}, false
	}
	m := s.(nmea.RMC)
	return Fix{
		Time:       m.Time.String(),
		Date:       m.Date.String(),
		Latitude:   m.Latitude,
		Longitude:  m.Longitude,
		SpeedKnots: m.Speed,
		CourseDeg:  m.Course,
		Validity:   string(m.Validity),
	}, true
}

// Tracker keeps the most recent fix read from a receiver.
type Tracker struct {
	mu     sync.RWMutex
	latest Fix
	have   bool
}

// Latest returns the last fix and whether one was seen.
func (t *Tracker) Latest() (Fix, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest, t.have
}

// Run reads sentences from rc until ctx is done or the stream ends. rc is
// closed on return.
func (t *Tracker) Run(ctx context.Context, rc io.ReadCloser) error {
	stop := context.AfterFunc(ctx, func() { rc.Close() })
	defer func() {
		if stop() {
			rc.Close()
		}
	}()

	r := bufio.NewReader(rc)
	for {
		line, err := r.ReadString('\n')
		if fix, ok := ParseLine(line); ok {
			t.mu.Lock()
			t.latest, t.have = fix, true
			t.mu.Unlock()
			log.Debugf("gps: fix %+v", fix)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
