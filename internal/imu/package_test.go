// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestPackageLengthAllLaneCombinations(t *testing.T) {
	for mask := 0; mask < 16; mask++ {
		l := Lanes{
			Accel: mask&1 != 0,
			GyroX: mask&2 != 0,
			GyroY: mask&4 != 0,
			GyroZ: mask&8 != 0,
		}
		want := 0
		if l.Accel {
			want += 6
		}
		for _, g := range []bool{l.GyroX, l.GyroY, l.GyroZ} {
			if g {
				want += 2
			}
		}
		got := l.PackageLength()
		if got != want {
			t.Errorf("%+v: PackageLength = %d, want %d", l, got, want)
		}
		if got%2 != 0 {
			t.Errorf("%+v: PackageLength %d is odd", l, got)
		}
		if len(l.Columns())*2 != got {
			t.Errorf("%+v: %d columns for %d bytes", l, len(l.Columns()), got)
		}
	}
}

func TestSampleRate(t *testing.T) {
	tests := []struct {
		dlpf DLPFMode
		rate uint8
		want float64
	}{
		{DLPF256, 0, 8000},
		{DLPF256, 7, 1000},
		{DLPF42, 0, 1000},
		{DLPF42, 9, 100},
		{DLPF5, 255, 1000.0 / 256},
	}
	for _, tt := range tests {
		s := Settings{DLPFMode: tt.dlpf, Rate: tt.rate}
		if got := s.SampleRate(); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("dlpf=%d rate=%d: SampleRate = %v, want %v", tt.dlpf, tt.rate, got, tt.want)
		}
	}
}

func TestFactors(t *testing.T) {
	wantA := []float64{2, 4, 8, 16}
	wantG := []float64{250, 500, 1000, 2000}
	for i := 0; i < 4; i++ {
		if got := AccelFactor(AccelRange(i)); got != wantA[i]/32768 {
			t.Errorf("AccelFactor(%d) = %v", i, got)
		}
		if got := GyroFactor(GyroRange(i)); got != wantG[i]/32768 {
			t.Errorf("GyroFactor(%d) = %v", i, got)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := DefaultSettings().Validate(); err != nil {
		t.Fatalf("default settings invalid: %v", err)
	}
	bad := []Settings{
		{ClockSource: 6},
		{DLPFMode: 7},
		{AccelRange: 4},
		{GyroRange: 9},
	}
	for _, s := range bad {
		if err := s.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%+v: err = %v, want ErrInvalidConfig", s, err)
		}
	}
}

func TestDecodeScenario(t *testing.T) {
	pkg := []byte{0x00, 0x64, 0x00, 0xC8, 0xFF, 0x38, 0x01, 0xF4, 0x02, 0x58, 0x02, 0xBC}
	lanes := Lanes{Accel: true, GyroX: true, GyroY: true, GyroZ: true}

	row, err := Decode(nil, pkg, lanes, 2.0/32768, 250.0/32768)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	// Words are 100, 200, -200, 500, 600, 700.
	want := []float64{0.006104, 0.012207, -0.012207, 3.814697, 4.577637, 5.340576}
	if len(row) != len(want) {
		t.Fatalf("got %d values, want %d", len(row), len(want))
	}
	for i := range want {
		if math.Abs(row[i]-want[i]) > 5e-7 {
			t.Errorf("%s = %.6f, want %.6f", lanes.Columns()[i], row[i], want[i])
		}
	}
}

func TestDecodeGyroOnlyLanes(t *testing.T) {
	lanes := Lanes{GyroY: true, GyroZ: true}
	pkg := Encode(nil, []int16{-100, 300})
	row, err := Decode(nil, pkg, lanes, 1, 0.5)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(row, []float64{-50, 150}) {
		t.Fatalf("row = %v", row)
	}
	if !reflect.DeepEqual(lanes.Columns(), []string{"gyro_y", "gyro_z"}) {
		t.Fatalf("columns = %v", lanes.Columns())
	}
}

func TestDecodeLaneMismatch(t *testing.T) {
	_, err := Decode(nil, make([]byte, 8), Lanes{Accel: true}, 1, 1)
	if !errors.Is(err, ErrLaneMismatch) {
		t.Fatalf("err = %v, want ErrLaneMismatch", err)
	}
}

func TestTemperature(t *testing.T) {
	if got := TemperatureC(0); math.Abs(got-36.53) > 1e-9 {
		t.Errorf("TemperatureC(0) = %v", got)
	}
	if got := TemperatureC(-340); math.Abs(got-35.53) > 1e-9 {
		t.Errorf("TemperatureC(-340) = %v", got)
	}
}

func TestRawScaled(t *testing.T) {
	s := PowerOnSettings()
	s.AccelRange = Accel4G
	m := Raw{Source: "a", Az: 8192, Gx: -32768, Temp: 340}.Scaled(s)
	if m.Source != "a" || math.Abs(m.Accel[2]-1) > 1e-9 || math.Abs(m.Gyro[0]+250) > 1e-9 {
		t.Errorf("scaled = %+v", m)
	}
	if math.Abs(m.TempC-37.53) > 1e-9 {
		t.Errorf("TempC = %v", m.TempC)
	}
}
