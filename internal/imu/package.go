// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrLaneMismatch is returned when a package length disagrees with the lanes.
var ErrLaneMismatch = errors.New("imu: lane flags do not match package length")

// Lanes are the FIFO lanes enabled on a sensor. Accel is one lane of three
// words; each gyro axis is a lane of one word.
type Lanes struct {
	Accel bool
	GyroX bool
	GyroY bool
	GyroZ bool
}

// PackageLength is 6 bytes for accel plus 2 per enabled gyro axis.
func (l Lanes) PackageLength() int {
	n := 0
	if l.Accel {
		n += 6
	}
	for _, on := range []bool{l.GyroX, l.GyroY, l.GyroZ} {
		if on {
			n += 2
		}
	}
	return n
}

// Columns names the decoded values in FIFO order.
func (l Lanes) Columns() []string {
	var cols []string
	if l.Accel {
		cols = append(cols, "accel_x", "accel_y", "accel_z")
	}
	if l.GyroX {
		cols = append(cols, "gyro_x")
	}
	if l.GyroY {
		cols = append(cols, "gyro_y")
	}
	if l.GyroZ {
		cols = append(cols, "gyro_z")
	}
	return cols
}

// Words splits a raw package into big-endian signed words.
func Words(pkg []byte) []int16 {
	out := make([]int16, len(pkg)/2)
	for i := range out {
		out[i] = int16(binary.BigEndian.Uint16(pkg[2*i:]))
	}
	return out
}

// Decode scales one raw package into engineering units, appending to dst.
// Accel words are multiplied by accelFactor, gyro words by gyroFactor.
func Decode(dst []float64, pkg []byte, lanes Lanes, accelFactor, gyroFactor float64) ([]float64, error) {
	if len(pkg) != lanes.PackageLength() {
		return dst, fmt.Errorf("%w: got %d bytes, lanes need %d", ErrLaneMismatch, len(pkg), lanes.PackageLength())
	}
	words := Words(pkg)
	i := 0
	if lanes.Accel {
		for ; i < 3; i++ {
			dst = append(dst, float64(words[i])*accelFactor)
		}
	}
	for ; i < len(words); i++ {
		dst = append(dst, float64(words[i])*gyroFactor)
	}
	return dst, nil
}

// Encode is the inverse of Decode on raw counts, used to build synthetic
// captures. values must hold one count per column.
func Encode(dst []byte, values []int16) []byte {
	for _, v := range values {
		dst = binary.BigEndian.AppendUint16(dst, uint16(v))
	}
	return dst
}
