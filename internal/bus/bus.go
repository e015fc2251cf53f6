// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package bus provides register-level access to I2C peripherals on top of
// periph.io connections. Reads are bounded by a per-call timeout; writes
// block until the transaction completes.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

var (
	// ErrHardwareIO wraps any failure reported by the underlying connection.
	ErrHardwareIO = errors.New("bus: hardware I/O error")
	// ErrReadTimeout is returned when a register read exceeds its bound.
	ErrReadTimeout = errors.New("bus: read timeout")
)

// DefaultReadTimeout mirrors the one second alarm used by the node firmware.
const DefaultReadTimeout = time.Second

var (
	hostOnce    sync.Once
	hostInitErr error
)

// Device is a register-addressed peripheral behind a conn.Conn.
type Device struct {
	c           conn.Conn
	closer      i2c.BusCloser
	readTimeout time.Duration
	// sem serializes transactions; a timed-out read may still own the bus.
	sem chan struct{}
}

// New wraps an existing connection. A zero readTimeout disables the bound.
func New(c conn.Conn, readTimeout time.Duration) *Device {
	return &Device{
		c:           c,
		readTimeout: readTimeout,
		sem:         make(chan struct{}, 1),
	}
}

// Open initializes the periph host once, opens the named I2C bus and
// returns a device addressed at addr.
func Open(busName string, addr uint16, readTimeout time.Duration) (*Device, error) {
	hostOnce.Do(func() {
		if _, err := host.Init(); err != nil {
			hostInitErr = fmt.Errorf("periph host init: %w", err)
		}
	})
	if hostInitErr != nil {
		return nil, hostInitErr
	}

	b, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}

	d := New(&i2c.Dev{Bus: b, Addr: addr}, readTimeout)
	d.closer = b
	return d, nil
}

// Close releases the bus if this device opened it.
func (d *Device) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}

// String identifies the device in log lines.
func (d *Device) String() string {
	return d.c.String()
}

func (d *Device) acquire(ctx context.Context) error {
	select {
	case d.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Device) release() { <-d.sem }

// read performs a write-then-read transaction bounded by the read timeout.
func (d *Device) read(ctx context.Context, reg byte, n int) ([]byte, error) {
	parent := ctx
	if d.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.readTimeout)
		defer cancel()
	}

	if err := d.acquire(ctx); err != nil {
		return nil, d.readErr(parent, reg, err)
	}

	type result struct {
		buf []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer d.release()
		buf := make([]byte, n)
		err := d.c.Tx([]byte{reg}, buf)
		done <- result{buf: buf, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("%w: read 0x%02X: %w", ErrHardwareIO, reg, res.err)
		}
		return res.buf, nil
	case <-ctx.Done():
		return nil, d.readErr(parent, reg, ctx.Err())
	}
}

func (d *Device) readErr(parent context.Context, reg byte, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: register 0x%02X after %v", ErrReadTimeout, reg, d.readTimeout)
	}
	return err
}

func (d *Device) write(reg byte, data ...byte) error {
	d.sem <- struct{}{}
	defer d.release()

	w := append([]byte{reg}, data...)
	if err := d.c.Tx(w, nil); err != nil {
		return fmt.Errorf("%w: write 0x%02X: %w", ErrHardwareIO, reg, err)
	}
	return nil
}

// ReadReg reads a single register.
func (d *Device) ReadReg(ctx context.Context, reg byte) (byte, error) {
	b, err := d.read(ctx, reg, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadRegs burst-reads n consecutive bytes starting at reg. For FIFO data
// registers the device does not auto-increment, so n bytes are drained from
// the same address.
func (d *Device) ReadRegs(ctx context.Context, reg byte, n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	return d.read(ctx, reg, n)
}

// ReadBit returns bit (0..7) of reg.
func (d *Device) ReadBit(ctx context.Context, reg, bit byte) (bool, error) {
	if bit > 7 {
		return false, fmt.Errorf("bus: bit index %d out of range", bit)
	}
	b, err := d.ReadReg(ctx, reg)
	if err != nil {
		return false, err
	}
	return b&(1<<bit) != 0, nil
}

// ReadBits extracts length bits whose most significant bit is bitStart.
func (d *Device) ReadBits(ctx context.Context, reg, bitStart, length byte) (byte, error) {
	if err := checkField(bitStart, length); err != nil {
		return 0, err
	}
	b, err := d.ReadReg(ctx, reg)
	if err != nil {
		return 0, err
	}
	shift := bitStart - length + 1
	mask := byte((1<<length)-1) << shift
	return (b & mask) >> shift, nil
}

// ReadWord reads an unsigned big-endian 16-bit value at reg, reg+1.
func (d *Device) ReadWord(ctx context.Context, reg byte) (uint16, error) {
	b, err := d.read(ctx, reg, 2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

// ReadSignedWord reads a signed big-endian 16-bit value at reg, reg+1.
func (d *Device) ReadSignedWord(ctx context.Context, reg byte) (int16, error) {
	w, err := d.ReadWord(ctx, reg)
	return int16(w), err
}

// WriteReg writes one register.
func (d *Device) WriteReg(reg, value byte) error {
	return d.write(reg, value)
}

// WriteRegs writes consecutive registers in one transaction.
func (d *Device) WriteRegs(reg byte, values []byte) error {
	return d.write(reg, values...)
}

// WriteBit sets or clears one bit with a read-modify-write. The read step
// honours ctx and the read timeout.
func (d *Device) WriteBit(ctx context.Context, reg, bit byte, on bool) error {
	if bit > 7 {
		return fmt.Errorf("bus: bit index %d out of range", bit)
	}
	b, err := d.ReadReg(ctx, reg)
	if err != nil {
		return err
	}
	if on {
		b |= 1 << bit
	} else {
		b &^= 1 << bit
	}
	return d.WriteReg(reg, b)
}

// WriteBits replaces length bits whose most significant bit is bitStart.
func (d *Device) WriteBits(ctx context.Context, reg, bitStart, length, value byte) error {
	if err := checkField(bitStart, length); err != nil {
		return err
	}
	if uint16(value) >= 1<<length {
		return fmt.Errorf("bus: value %d does not fit in %d bits", value, length)
	}
	b, err := d.ReadReg(ctx, reg)
	if err != nil {
		return err
	}
	shift := bitStart - length + 1
	mask := byte((1<<length)-1) << shift
	b = (b &^ mask) | (value << shift)
	return d.WriteReg(reg, b)
}

// WriteSignedWord writes a big-endian signed 16-bit value to reg, reg+1.
func (d *Device) WriteSignedWord(reg byte, value int16) error {
	u := uint16(value)
	return d.write(reg, byte(u>>8), byte(u))
}

func checkField(bitStart, length byte) error {
	if bitStart > 7 {
		return fmt.Errorf("bus: bit index %d out of range", bitStart)
	}
	if length == 0 || length > bitStart+1 {
		return fmt.Errorf("bus: bit field of length %d at %d is invalid", length, bitStart)
	}
	return nil
}
