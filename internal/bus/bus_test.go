// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3"
)

type regFile struct {
	regs  [256]byte
	err   error
	delay time.Duration
	txs   int
}

func (f *regFile) String() string { return "regfile" }
func (f *regFile) Duplex() conn.Duplex { return conn.Half }
func (f *regFile) Tx(w, r []byte) error {
	f.txs++
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return f.err
	}
	reg := w[0]
	for i, b := range w[1:] {
		f.regs[int(reg)+i] = b
	}
	for i := range r {
		r[i] = f.regs[int(reg)+i]
	}
	return nil
}

func TestReadWriteBits(t *testing.T) {
	f := &regFile{}
	d := New(f, 50*time.Millisecond)
	ctx := context.Background()

	f.regs[0x75] = 0x68
	id, err := d.ReadBits(ctx, 0x75, 6, 6)
	if err != nil {
		t.Fatalf("ReadBits: %v", err)
	}
	if id != 0x34 {
		t.Fatalf("ReadBits = 0x%02X, want 0x34", id)
	}

	f.regs[0x1B] = 0xE7
	if err := d.WriteBits(ctx, 0x1B, 4, 2, 3); err != nil {
		t.Fatalf("WriteBits: %v", err)
	}
	if f.regs[0x1B] != 0xFF {
		t.Fatalf("GYRO_CONFIG = 0x%02X, want 0xFF", f.regs[0x1B])
	}
	if err := d.WriteBits(ctx, 0x1B, 4, 2, 0); err != nil {
		t.Fatalf("WriteBits: %v", err)
	}
	if f.regs[0x1B] != 0xE7 {
		t.Fatalf("GYRO_CONFIG = 0x%02X, want 0xE7", f.regs[0x1B])
	}

	if err := d.WriteBits(ctx, 0x1B, 4, 2, 4); err == nil {
		t.Fatal("expected error for value wider than field")
	}

	if err := d.WriteBit(ctx, 0x6A, 6, true); err != nil {
		t.Fatalf("WriteBit: %v", err)
	}
	on, err := d.ReadBit(ctx, 0x6A, 6)
	if err != nil || !on {
		t.Fatalf("ReadBit = %v, %v; want true", on, err)
	}
	if err := d.WriteBit(ctx, 0x6A, 6, false); err != nil {
		t.Fatalf("WriteBit: %v", err)
	}
	if f.regs[0x6A] != 0 {
		t.Fatalf("USER_CTRL = 0x%02X, want 0", f.regs[0x6A])
	}
}

func TestSignedWord(t *testing.T) {
	f := &regFile{}
	d := New(f, 0)
	ctx := context.Background()

	for _, v := range []int16{0, 1, -1, 1234, -16384, 32767, -32768} {
		if err := d.WriteSignedWord(0x06, v); err != nil {
			t.Fatalf("WriteSignedWord(%d): %v", v, err)
		}
		got, err := d.ReadSignedWord(ctx, 0x06)
		if err != nil {
			t.Fatalf("ReadSignedWord: %v", err)
		}
		if got != v {
			t.Errorf("round trip %d -> %d", v, got)
		}
	}

	if err := d.WriteSignedWord(0x06, -2); err != nil {
		t.Fatal(err)
	}
	if f.regs[0x06] != 0xFF || f.regs[0x07] != 0xFE {
		t.Errorf("bytes = %02X %02X, want FF FE", f.regs[0x06], f.regs[0x07])
	}
}

func TestHardwareError(t *testing.T) {
	cause := errors.New("nack")
	d := New(&regFile{err: cause}, time.Second)

	_, err := d.ReadReg(context.Background(), 0x75)
	if !errors.Is(err, ErrHardwareIO) || !errors.Is(err, cause) {
		t.Fatalf("read err = %v, want ErrHardwareIO wrapping cause", err)
	}
	if err := d.WriteReg(0x6B, 0); !errors.Is(err, ErrHardwareIO) {
		t.Fatalf("write err = %v, want ErrHardwareIO", err)
	}
}

func TestReadTimeout(t *testing.T) {
	f := &regFile{delay: 200 * time.Millisecond}
	d := New(f, 10*time.Millisecond)

	start := time.Now()
	_, err := d.ReadReg(context.Background(), 0x72)
	if !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("err = %v, want ErrReadTimeout", err)
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Fatalf("timeout did not abort the call")
	}
}

func TestWriteWaitsForAbandonedRead(t *testing.T) {
	f := &regFile{delay: 100 * time.Millisecond}
	d := New(f, 10*time.Millisecond)

	start := time.Now()
	if _, err := d.ReadReg(context.Background(), 0x72); !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("read err = %v, want ErrReadTimeout", err)
	}
	if err := d.WriteReg(0x19, 0x07); err != nil {
		t.Fatalf("write: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 190*time.Millisecond {
		t.Fatalf("write overlapped the abandoned read (%v)", elapsed)
	}
	if f.regs[0x19] != 0x07 || f.txs != 2 {
		t.Fatalf("regs[0x19] = 0x%02X after %d transactions", f.regs[0x19], f.txs)
	}
}

func TestReadCancelled(t *testing.T) {
	f := &regFile{delay: 200 * time.Millisecond}
	d := New(f, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.ReadReg(ctx, 0x72)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrReadTimeout) {
		t.Fatal("cancellation reported as timeout")
	}
}

func TestInvalidField(t *testing.T) {
	d := New(&regFile{}, 0)
	if _, err := d.ReadBits(context.Background(), 0x1A, 2, 4); err == nil {
		t.Fatal("expected error for field longer than start bit")
	}
	if _, err := d.ReadBit(context.Background(), 0x1A, 8); err == nil {
		t.Fatal("expected error for bit 8")
	}
}
