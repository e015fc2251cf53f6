// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensorstest simulates an MPU6050 behind a periph conn.Conn so the
// real bus and driver code can run without hardware.
package sensorstest

import (
	"encoding/binary"
	"sync"

	"periph.io/x/conn/v3"
)

const (
	RegXAOffsH    = 0x06
	RegXGOffsUsrH = 0x13
	RegAccelXOutH = 0x3B
	RegGyroXOutH  = 0x43
	RegFIFOEn     = 0x23
	RegUserCtrl   = 0x6A
	RegPwrMgmt1   = 0x6B
	RegFIFOCountH = 0x72
	RegFIFORW     = 0x74
	RegWhoAmI     = 0x75

	fifoCapacity = 1024
)

// Write is one register write seen by the simulator.
type Write struct {
	Reg   byte
	Value byte
}

// MPU6050 is an in-memory MPU6050 register file with a FIFO and a linear
// axis model: output = Bias + offset register * offset factor.
type MPU6050 struct {
	mu     sync.Mutex
	regs   [256]byte
	fifo   []byte
	writes []Write

	// Bias is the raw output of each axis (accel x,y,z, gyro x,y,z) with a
	// zero offset register.
	Bias [6]int
	// Err, when set, fails every transaction.
	Err error
	// Disconnected makes WHO_AM_I read back zero.
	Disconnected bool
	// BeforeCount runs before every FIFO count read, outside the lock.
	BeforeCount func(s *MPU6050)
	// CountOverride replaces the reported FIFO count when it returns >= 0.
	CountOverride func(actual int) int
}

// New returns a device in its power-on state.
func New() *MPU6050 {
	s := &MPU6050{}
	s.powerOn()
	return s
}

func (s *MPU6050) powerOn() {
	s.regs = [256]byte{}
	s.regs[RegPwrMgmt1] = 0x40
	s.regs[RegWhoAmI] = 0x68
	s.fifo = nil
}

func (s *MPU6050) String() string      { return "mpu6050-sim" }
func (s *MPU6050) Duplex() conn.Duplex { return conn.Half }

// Tx implements conn.Conn.
func (s *MPU6050) Tx(w, r []byte) error {
	if len(w) == 0 {
		return nil
	}
	if w[0] == RegFIFOCountH && len(r) > 0 && s.BeforeCount != nil {
		s.BeforeCount(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}

	reg := w[0]
	for i, b := range w[1:] {
		s.write(reg+byte(i), b)
	}
	if len(r) > 0 {
		s.read(reg, r)
	}
	return nil
}

func (s *MPU6050) write(reg, v byte) {
	s.writes = append(s.writes, Write{Reg: reg, Value: v})
	switch reg {
	case RegPwrMgmt1:
		if v&0x80 != 0 {
			s.powerOn()
			return
		}
	case RegUserCtrl:
		if v&0x04 != 0 {
			s.fifo = nil
		}
		v &^= 0x05
	case RegWhoAmI:
		return
	}
	s.regs[reg] = v
}

func (s *MPU6050) read(reg byte, r []byte) {
	switch reg {
	case RegFIFORW:
		n := copy(r, s.fifo)
		s.fifo = s.fifo[n:]
		for i := n; i < len(r); i++ {
			r[i] = 0
		}
		return
	case RegFIFOCountH:
		n := len(s.fifo)
		if s.CountOverride != nil {
			if c := s.CountOverride(n); c >= 0 {
				n = c
			}
		}
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(n))
		copy(r, b[:])
		return
	}

	view := s.regs
	for i := 0; i < 3; i++ {
		binary.BigEndian.PutUint16(view[RegAccelXOutH+2*i:], uint16(s.output(i)))
		binary.BigEndian.PutUint16(view[RegGyroXOutH+2*i:], uint16(s.output(3+i)))
	}
	if s.Disconnected {
		view[RegWhoAmI] = 0
	}
	for i := range r {
		r[i] = view[int(reg)+i]
	}
}

func (s *MPU6050) output(axis int) int16 {
	var reg byte
	factor := 8
	if axis < 3 {
		reg = RegXAOffsH + byte(2*axis)
	} else {
		reg = RegXGOffsUsrH + byte(2*(axis-3))
		factor = 4
	}
	offset := int(int16(binary.BigEndian.Uint16(s.regs[reg:])))
	v := s.Bias[axis] + offset*factor
	if v > 32767 {
		v = 32767
	}
	if v < -32768 {
		v = -32768
	}
	return int16(v)
}

// Push appends bytes to the FIFO, dropping what does not fit.
func (s *MPU6050) Push(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := fifoCapacity - len(s.fifo)
	if room < len(b) {
		b = b[:room]
	}
	s.fifo = append(s.fifo, b...)
}

// FIFOLen returns the number of queued bytes.
func (s *MPU6050) FIFOLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fifo)
}

// Reg returns a stored register value.
func (s *MPU6050) Reg(reg byte) byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[reg]
}

// SetReg stores a register value without side effects.
func (s *MPU6050) SetReg(reg, v byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[reg] = v
}

// Offset returns the signed offset register pair starting at reg.
func (s *MPU6050) Offset(reg byte) int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int16(binary.BigEndian.Uint16(s.regs[reg:]))
}

// Writes returns every register write so far.
func (s *MPU6050) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Write(nil), s.writes...)
}
