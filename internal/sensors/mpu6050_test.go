// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/relabs-tech/imu_capture/internal/bus"
	"github.com/relabs-tech/imu_capture/internal/imu"
	"github.com/relabs-tech/imu_capture/internal/sensors/sensorstest"
)

func init() {
	ResetSettle = time.Millisecond
}

func newSim(t *testing.T, id string) (*MPU6050, *sensorstest.MPU6050) {
	t.Helper()
	sim := sensorstest.New()
	m := NewMPU6050(id, bus.New(sim, 100*time.Millisecond))
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return m, sim
}

func TestInitWakesDevice(t *testing.T) {
	m, sim := newSim(t, "s0")
	if sim.Reg(regPwrMgmt1)&(1<<pwr1SleepBit) != 0 {
		t.Error("device still asleep after Init")
	}
	if sim.Reg(regUserCtrl)&(1<<userCtrlFIFOEnBit) == 0 {
		t.Error("FIFO not enabled after Init")
	}
	if m.Settings() != imu.PowerOnSettings() {
		t.Errorf("cache = %+v, want power-on settings", m.Settings())
	}
}

func TestConfigureWritesRegisters(t *testing.T) {
	m, sim := newSim(t, "s0")
	s := imu.Settings{
		ClockSource: imu.ClockPLLXGyro,
		DLPFMode:    imu.DLPF42,
		Rate:        9,
		AccelRange:  imu.Accel8G,
		GyroRange:   imu.Gyro1000,
		AccelFIFO:   true,
		GyroXFIFO:   false,
		GyroYFIFO:   true,
		GyroZFIFO:   true,
	}
	if err := m.Configure(context.Background(), s); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	if got := sim.Reg(regPwrMgmt1) & 0x07; got != 1 {
		t.Errorf("CLKSEL = %d, want 1", got)
	}
	if sim.Reg(regPwrMgmt1)&(1<<pwr1SleepBit) != 0 {
		t.Error("clock write put the device to sleep")
	}
	if got := sim.Reg(regConfig) & 0x07; got != 3 {
		t.Errorf("DLPF_CFG = %d, want 3", got)
	}
	if got := sim.Reg(regSmplrtDiv); got != 9 {
		t.Errorf("SMPLRT_DIV = %d, want 9", got)
	}
	if got := (sim.Reg(regAccelConfig) >> 3) & 0x03; got != 2 {
		t.Errorf("AFS_SEL = %d, want 2", got)
	}
	if got := (sim.Reg(regGyroConfig) >> 3) & 0x03; got != 2 {
		t.Errorf("FS_SEL = %d, want 2", got)
	}
	if got := sim.Reg(regFIFOEn); got != 0x38 {
		t.Errorf("FIFO_EN = 0x%02X, want 0x38", got)
	}
	if m.Settings() != s {
		t.Errorf("cache = %+v, want %+v", m.Settings(), s)
	}
	if got := m.Settings().PackageLength(); got != 10 {
		t.Errorf("PackageLength = %d, want 10", got)
	}
}

func TestConfigureRejectsInvalid(t *testing.T) {
	m, sim := newSim(t, "s0")
	before := len(sim.Writes())
	err := m.Configure(context.Background(), imu.Settings{DLPFMode: 9})
	if !errors.Is(err, imu.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
	if len(sim.Writes()) != before {
		t.Error("invalid settings reached the device")
	}
}

func TestConfigureHardwareError(t *testing.T) {
	m, sim := newSim(t, "s0")
	sim.Err = errors.New("bus stuck")
	err := m.Configure(context.Background(), imu.DefaultSettings())
	if !errors.Is(err, bus.ErrHardwareIO) {
		t.Fatalf("err = %v, want ErrHardwareIO", err)
	}
	if m.Settings() != imu.PowerOnSettings() {
		t.Error("cache changed although no write succeeded")
	}
}

func TestResetRestoresDefaults(t *testing.T) {
	m, sim := newSim(t, "s0")
	ctx := context.Background()
	if err := m.Configure(ctx, imu.DefaultSettings()); err != nil {
		t.Fatal(err)
	}
	sim.SetReg(regMotThr, 0x55)
	sim.SetReg(regI2CSlv4Ctrl, 0x12)

	if err := m.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if m.Settings() != imu.PowerOnSettings() {
		t.Errorf("cache = %+v, want power-on", m.Settings())
	}
	if sim.Reg(regPwrMgmt1)&(1<<pwr1SleepBit) != 0 {
		t.Error("sleep still enabled after reset")
	}
	if sim.Reg(regUserCtrl)&(1<<userCtrlFIFOEnBit) == 0 {
		t.Error("FIFO disabled after reset")
	}

	zeroed := map[byte]bool{}
	for _, w := range sim.Writes() {
		if w.Value == 0 {
			zeroed[w.Reg] = true
		}
	}
	for _, reg := range zeroOnReset {
		if !zeroed[reg] {
			t.Errorf("register 0x%02X not cleared", reg)
		}
	}
	if len(zeroOnReset) != 31 {
		t.Errorf("zeroOnReset has %d registers, want 31", len(zeroOnReset))
	}
}

func TestResetDetectsDisconnect(t *testing.T) {
	m, sim := newSim(t, "s0")
	sim.Disconnected = true
	if err := m.Reset(context.Background()); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("err = %v, want ErrDisconnected", err)
	}
}

func TestFIFO(t *testing.T) {
	m, sim := newSim(t, "s0")
	ctx := context.Background()

	sim.Push([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	n, err := m.FIFOCount(ctx)
	if err != nil || n != 8 {
		t.Fatalf("FIFOCount = %d, %v; want 8", n, err)
	}
	b, err := m.ReadFIFO(ctx, 6)
	if err != nil {
		t.Fatal(err)
	}
	if b[0] != 1 || b[5] != 6 {
		t.Errorf("ReadFIFO = %v", b)
	}
	if sim.FIFOLen() != 2 {
		t.Errorf("FIFO holds %d bytes, want 2", sim.FIFOLen())
	}
	if _, err := m.ReadFIFO(ctx, MaxBurst+1); err == nil {
		t.Error("expected error for oversized burst")
	}

	if err := m.ResetFIFO(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := m.FIFOCount(ctx); n != 0 {
		t.Errorf("FIFOCount after reset = %d", n)
	}

	sim.Push(make([]byte, 2000))
	if n, _ := m.FIFOCount(ctx); n != FIFOCapacity {
		t.Errorf("FIFOCount = %d, want %d", n, FIFOCapacity)
	}
}

func TestAxisAndOffset(t *testing.T) {
	m, sim := newSim(t, "s0")
	ctx := context.Background()
	sim.Bias = [6]int{100, -200, -16000, 40, 0, -12}

	v, err := m.ReadAxis(ctx, imu.AccelZ)
	if err != nil || v != -16000 {
		t.Fatalf("ReadAxis(accel_z) = %d, %v", v, err)
	}
	if err := m.WriteOffset(imu.AccelX, -12); err != nil {
		t.Fatal(err)
	}
	if v, _ := m.ReadAxis(ctx, imu.AccelX); v != 100-12*8 {
		t.Errorf("accel_x = %d, want %d", v, 100-12*8)
	}
	if err := m.WriteOffset(imu.GyroZ, 3); err != nil {
		t.Fatal(err)
	}
	if v, _ := m.ReadAxis(ctx, imu.GyroZ); v != 0 {
		t.Errorf("gyro_z = %d, want 0", v)
	}
	if off, _ := m.ReadOffset(ctx, imu.GyroZ); off != 3 {
		t.Errorf("gyro_z offset = %d, want 3", off)
	}

	raw, err := m.ReadRaw(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if raw.Ax != 4 || raw.Ay != -200 || raw.Gx != 40 || raw.Gz != 0 {
		t.Errorf("ReadRaw = %+v", raw)
	}
}

func TestTemperature(t *testing.T) {
	m, sim := newSim(t, "s0")
	// -340 = 0xFEAC
	sim.SetReg(regTempOutH, 0xFE)
	sim.SetReg(regTempOutH+1, 0xAC)
	c, err := m.Temperature(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(c-35.53) > 1e-9 {
		t.Errorf("Temperature = %v, want 35.53", c)
	}
}

func TestSetSelect(t *testing.T) {
	set := NewSet()
	a, _ := newSim(t, "a")
	b, _ := newSim(t, "b")
	if err := set.Add(a); err != nil {
		t.Fatal(err)
	}
	if err := set.Add(b); err != nil {
		t.Fatal(err)
	}
	if err := set.Add(a); err == nil {
		t.Error("duplicate id accepted")
	}

	all, err := set.Select(AllSensors)
	if err != nil || len(all) != 2 || all[0].ID() != "a" || all[1].ID() != "b" {
		t.Fatalf("Select(all) = %v, %v", all, err)
	}
	if all, _ := set.Select(""); len(all) != 2 {
		t.Errorf("Select(\"\") returned %d sensors", len(all))
	}
	one, err := set.Select("b")
	if err != nil || len(one) != 1 || one[0] != b {
		t.Fatalf("Select(b) = %v, %v", one, err)
	}
	if _, err := set.Select("zz"); !errors.Is(err, ErrUnknownSensor) {
		t.Errorf("err = %v, want ErrUnknownSensor", err)
	}
}

func TestSetupAppliesSettings(t *testing.T) {
	sim := sensorstest.New()
	// left over from a previous run
	sim.SetReg(regSmplrtDiv, 0x31)
	sim.SetReg(regAccelConfig, 0x18)
	sim.SetReg(regFIFOEn, 0x08)
	m := NewMPU6050("s0", bus.New(sim, 0))
	if err := Setup(context.Background(), m, imu.DefaultSettings()); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if m.Settings() != imu.DefaultSettings() {
		t.Errorf("cache = %+v", m.Settings())
	}
	if got := sim.Reg(regSmplrtDiv); got != 9 {
		t.Errorf("SMPLRT_DIV = %d, want 9", got)
	}
	if got := sim.Reg(regAccelConfig) & 0x18; got != 0 {
		t.Errorf("ACCEL_CONFIG range bits = 0x%02X, want ±2 g", got)
	}

	bad := sensorstest.New()
	bad.Disconnected = true
	m = NewMPU6050("s1", bus.New(bad, 0))
	if err := Setup(context.Background(), m, imu.DefaultSettings()); !errors.Is(err, ErrDisconnected) {
		t.Errorf("err = %v, want ErrDisconnected", err)
	}
}
