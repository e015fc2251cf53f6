// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"context"
	"io"
	"math"
	"strings"
	"testing"
	"time"
)

const (
	rmcValid = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A"
	rmcVoid  = "$GPRMC,081836,V,3751.65,S,14507.36,E,000.0,360.0,130998,011.3,E*75"
)

func TestParseLine(t *testing.T) {
	fix, ok := ParseLine(rmcValid + "\r\n")
	if !ok {
		t.Fatal("valid RMC rejected")
	}
	if math.Abs(fix.Latitude-48.1173) > 1e-6 || math.Abs(fix.Longitude-11.516667) > 1e-6 {
		t.Errorf("position = %v, %v", fix.Latitude, fix.Longitude)
	}
	if fix.SpeedKnots != 22.4 || fix.CourseDeg != 84.4 || !fix.Valid() {
		t.Errorf("fix = %+v", fix)
	}

	for _, line := range []string{"", "garbage", "$GPRMC,bad*00", "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"} {
		if _, ok := ParseLine(line); ok {
			t.Errorf("%q accepted", line)
		}
	}
}

func TestTrackerKeepsLatest(t *testing.T) {
	var tr Tracker
	if _, ok := tr.Latest(); ok {
		t.Fatal("fix before any input")
	}
	in := strings.Join([]string{rmcValid, "noise", rmcVoid, ""}, "\n")
	if err := tr.Run(context.Background(), io.NopCloser(strings.NewReader(in))); err != nil {
		t.Fatalf("Run: %v", err)
	}
	fix, ok := tr.Latest()
	if !ok || fix.Valid() || fix.Latitude > -37 {
		t.Errorf("latest = %+v, %t", fix, ok)
	}
}

type blockingReader struct{ closed chan struct{} }

func (b *blockingReader) Read([]byte) (int, error) {
	<-b.closed
	return 0, io.ErrClosedPipe
}

func (b *blockingReader) Close() error {
	close(b.closed)
	return nil
}

func TestTrackerStopsOnCancel(t *testing.T) {
	var tr Tracker
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx, &blockingReader{closed: make(chan struct{})}) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
