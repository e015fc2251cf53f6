// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/imu_capture/internal/bus"
	"github.com/relabs-tech/imu_capture/internal/imu"
)

// ErrDisconnected is returned when WHO_AM_I does not identify an MPU6050.
var ErrDisconnected = errors.New("sensors: device not responding as MPU6050")

// ResetSettle is how long the device needs after DEVICE_RESET before it
// accepts register writes again.
var ResetSettle = 100 * time.Millisecond

// MPU6050 drives one sensor. Its Settings mirror what has been written to
// the device and are never re-read from hardware.
type MPU6050 struct {
	id       string
	dev      *bus.Device
	settings imu.Settings
}

// NewMPU6050 wraps dev. Call Init before use.
func NewMPU6050(id string, dev *bus.Device) *MPU6050 {
	return &MPU6050{id: id, dev: dev, settings: imu.PowerOnSettings()}
}

func (m *MPU6050) ID() string { return m.id }

func (m *MPU6050) String() string { return fmt.Sprintf("mpu6050 %s (%s)", m.id, m.dev) }

// Settings returns the cached configuration.
func (m *MPU6050) Settings() imu.Settings { return m.settings }

// Close releases the underlying bus.
func (m *MPU6050) Close() error { return m.dev.Close() }

// Init wakes the device, enables the FIFO subsystem and loads the current
// hardware state into the cache. Setup follows it with Configure, so the
// persisted settings, not the registers read here, are what the cache holds.
func (m *MPU6050) Init(ctx context.Context) error {
	if err := m.SetSleep(ctx, false); err != nil {
		return fmt.Errorf("%s: wake: %w", m.id, err)
	}
	if err := m.SetFIFOEnabled(ctx, true); err != nil {
		return fmt.Errorf("%s: enable FIFO: %w", m.id, err)
	}

	var s imu.Settings
	clk, err := m.dev.ReadBits(ctx, regPwrMgmt1, pwr1ClkSelBit, pwr1ClkSelLength)
	if err != nil {
		return fmt.Errorf("%s: read clock source: %w", m.id, err)
	}
	s.ClockSource = imu.ClockSource(clk)
	dlpf, err := m.dev.ReadBits(ctx, regConfig, configDLPFBit, configDLPFLength)
	if err != nil {
		return fmt.Errorf("%s: read dlpf: %w", m.id, err)
	}
	s.DLPFMode = imu.DLPFMode(dlpf)
	if s.Rate, err = m.dev.ReadReg(ctx, regSmplrtDiv); err != nil {
		return fmt.Errorf("%s: read rate: %w", m.id, err)
	}
	ar, err := m.dev.ReadBits(ctx, regAccelConfig, accelConfigFSBit, accelConfigFSLength)
	if err != nil {
		return fmt.Errorf("%s: read accel range: %w", m.id, err)
	}
	s.AccelRange = imu.AccelRange(ar)
	gr, err := m.dev.ReadBits(ctx, regGyroConfig, gyroConfigFSBit, gyroConfigFSLength)
	if err != nil {
		return fmt.Errorf("%s: read gyro range: %w", m.id, err)
	}
	s.GyroRange = imu.GyroRange(gr)
	fifo, err := m.dev.ReadReg(ctx, regFIFOEn)
	if err != nil {
		return fmt.Errorf("%s: read FIFO lanes: %w", m.id, err)
	}
	s.AccelFIFO = fifo&(1<<fifoEnAccelBit) != 0
	s.GyroXFIFO = fifo&(1<<fifoEnXGBit) != 0
	s.GyroYFIFO = fifo&(1<<fifoEnYGBit) != 0
	s.GyroZFIFO = fifo&(1<<fifoEnZGBit) != 0

	m.settings = s
	log.Debugf("%s: initialized with %+v", m, s)
	return nil
}

// Configure writes every setting to the device. The cache follows each
// successful write, so a failure part way leaves it matching hardware.
func (m *MPU6050) Configure(ctx context.Context, s imu.Settings) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("%s: %w", m.id, err)
	}
	if err := m.SetClockSource(ctx, s.ClockSource); err != nil {
		return err
	}
	if err := m.SetDLPFMode(ctx, s.DLPFMode); err != nil {
		return err
	}
	if err := m.SetRate(s.Rate); err != nil {
		return err
	}
	if err := m.SetAccelRange(ctx, s.AccelRange); err != nil {
		return err
	}
	if err := m.SetGyroRange(ctx, s.GyroRange); err != nil {
		return err
	}
	if err := m.SetLanes(ctx, s.Lanes()); err != nil {
		return err
	}
	log.Infof("%s: configured, sample rate %.2f Hz, package %d bytes", m.id, s.SampleRate(), s.PackageLength())
	return nil
}

func (m *MPU6050) SetClockSource(ctx context.Context, c imu.ClockSource) error {
	if err := m.dev.WriteBits(ctx, regPwrMgmt1, pwr1ClkSelBit, pwr1ClkSelLength, byte(c)); err != nil {
		return fmt.Errorf("%s: set clock source: %w", m.id, err)
	}
	m.settings.ClockSource = c
	return nil
}

func (m *MPU6050) SetDLPFMode(ctx context.Context, d imu.DLPFMode) error {
	if err := m.dev.WriteBits(ctx, regConfig, configDLPFBit, configDLPFLength, byte(d)); err != nil {
		return fmt.Errorf("%s: set dlpf mode: %w", m.id, err)
	}
	m.settings.DLPFMode = d
	return nil
}

// SetRate writes the sample rate divider.
func (m *MPU6050) SetRate(rate uint8) error {
	if err := m.dev.WriteReg(regSmplrtDiv, rate); err != nil {
		return fmt.Errorf("%s: set rate: %w", m.id, err)
	}
	m.settings.Rate = rate
	return nil
}

func (m *MPU6050) SetAccelRange(ctx context.Context, r imu.AccelRange) error {
	if err := m.dev.WriteBits(ctx, regAccelConfig, accelConfigFSBit, accelConfigFSLength, byte(r)); err != nil {
		return fmt.Errorf("%s: set accel range: %w", m.id, err)
	}
	m.settings.AccelRange = r
	return nil
}

func (m *MPU6050) SetGyroRange(ctx context.Context, r imu.GyroRange) error {
	if err := m.dev.WriteBits(ctx, regGyroConfig, gyroConfigFSBit, gyroConfigFSLength, byte(r)); err != nil {
		return fmt.Errorf("%s: set gyro range: %w", m.id, err)
	}
	m.settings.GyroRange = r
	return nil
}

// SetLanes enables or disables each FIFO lane.
func (m *MPU6050) SetLanes(ctx context.Context, l imu.Lanes) error {
	lanes := []struct {
		bit   byte
		on    bool
		name  string
		apply func()
	}{
		{fifoEnAccelBit, l.Accel, "accel", func() { m.settings.AccelFIFO = l.Accel }},
		{fifoEnXGBit, l.GyroX, "x gyro", func() { m.settings.GyroXFIFO = l.GyroX }},
		{fifoEnYGBit, l.GyroY, "y gyro", func() { m.settings.GyroYFIFO = l.GyroY }},
		{fifoEnZGBit, l.GyroZ, "z gyro", func() { m.settings.GyroZFIFO = l.GyroZ }},
	}
	for _, lane := range lanes {
		if err := m.dev.WriteBit(ctx, regFIFOEn, lane.bit, lane.on); err != nil {
			return fmt.Errorf("%s: set %s FIFO lane: %w", m.id, lane.name, err)
		}
		lane.apply()
	}
	return nil
}

func (m *MPU6050) SetSleep(ctx context.Context, on bool) error {
	return m.dev.WriteBit(ctx, regPwrMgmt1, pwr1SleepBit, on)
}

func (m *MPU6050) SetFIFOEnabled(ctx context.Context, on bool) error {
	return m.dev.WriteBit(ctx, regUserCtrl, userCtrlFIFOEnBit, on)
}

// Reset performs a device reset, clears the auxiliary registers, wakes the
// device with its FIFO enabled and restores the cache to power-on defaults.
// It returns ErrDisconnected if the device no longer identifies itself.
func (m *MPU6050) Reset(ctx context.Context) error {
	if err := m.dev.WriteBit(ctx, regPwrMgmt1, pwr1DeviceResetBit, true); err != nil {
		return fmt.Errorf("%s: device reset: %w", m.id, err)
	}
	m.settings = imu.PowerOnSettings()

	select {
	case <-time.After(ResetSettle):
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, reg := range zeroOnReset {
		if err := m.dev.WriteReg(reg, 0); err != nil {
			return fmt.Errorf("%s: clear register 0x%02X: %w", m.id, reg, err)
		}
	}
	if err := m.SetSleep(ctx, false); err != nil {
		return fmt.Errorf("%s: wake: %w", m.id, err)
	}
	if err := m.SetFIFOEnabled(ctx, true); err != nil {
		return fmt.Errorf("%s: enable FIFO: %w", m.id, err)
	}

	ok, err := m.TestConnection(ctx)
	if err != nil {
		return fmt.Errorf("%s: identity: %w", m.id, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", m.id, ErrDisconnected)
	}
	log.Infof("%s: reset", m.id)
	return nil
}

// TestConnection checks WHO_AM_I.
func (m *MPU6050) TestConnection(ctx context.Context) (bool, error) {
	id, err := m.dev.ReadBits(ctx, regWhoAmI, whoAmIBit, whoAmILength)
	if err != nil {
		return false, err
	}
	return id == whoAmIExpected, nil
}

// ResetFIFO discards everything queued in the FIFO.
func (m *MPU6050) ResetFIFO(ctx context.Context) error {
	if err := m.dev.WriteBit(ctx, regUserCtrl, userCtrlFIFOResetBit, true); err != nil {
		return fmt.Errorf("%s: reset FIFO: %w", m.id, err)
	}
	return nil
}

// ResetSignalPaths resets the accel, gyro and temperature signal paths and
// clears their output registers.
func (m *MPU6050) ResetSignalPaths(ctx context.Context) error {
	return m.dev.WriteBit(ctx, regUserCtrl, userCtrlSigCondResetBit, true)
}

// FIFOCount returns the number of queued bytes, 0 to FIFOCapacity.
func (m *MPU6050) FIFOCount(ctx context.Context) (int, error) {
	n, err := m.dev.ReadWord(ctx, regFIFOCountH)
	if err != nil {
		return 0, fmt.Errorf("%s: FIFO count: %w", m.id, err)
	}
	return int(n), nil
}

// ReadFIFO drains exactly n bytes from the FIFO. n must not exceed MaxBurst.
func (m *MPU6050) ReadFIFO(ctx context.Context, n int) ([]byte, error) {
	if n > MaxBurst {
		return nil, fmt.Errorf("%s: FIFO burst of %d bytes exceeds %d", m.id, n, MaxBurst)
	}
	b, err := m.dev.ReadRegs(ctx, regFIFORW, n)
	if err != nil {
		return nil, fmt.Errorf("%s: read FIFO: %w", m.id, err)
	}
	return b, nil
}

// Temperature reads the die temperature in °C.
func (m *MPU6050) Temperature(ctx context.Context) (float64, error) {
	raw, err := m.dev.ReadSignedWord(ctx, regTempOutH)
	if err != nil {
		return 0, fmt.Errorf("%s: temperature: %w", m.id, err)
	}
	return imu.TemperatureC(raw), nil
}

// ReadRaw reads accel, temperature and gyro in one burst.
func (m *MPU6050) ReadRaw(ctx context.Context) (imu.Raw, error) {
	b, err := m.dev.ReadRegs(ctx, regAccelXOutH, 14)
	if err != nil {
		return imu.Raw{}, fmt.Errorf("%s: motion: %w", m.id, err)
	}
	w := imu.Words(b)
	return imu.Raw{
		Source: m.id,
		Ax:     w[0],
		Ay:     w[1],
		Az:     w[2],
		Temp:   w[3],
		Gx:     w[4],
		Gy:     w[5],
		Gz:     w[6],
	}, nil
}

var (
	axisOutput = map[imu.Axis]byte{
		imu.AccelX: regAccelXOutH, imu.AccelY: regAccelYOutH, imu.AccelZ: regAccelZOutH,
		imu.GyroX: regGyroXOutH, imu.GyroY: regGyroYOutH, imu.GyroZ: regGyroZOutH,
	}
	axisOffset = map[imu.Axis]byte{
		imu.AccelX: regXAOffsH, imu.AccelY: regYAOffsH, imu.AccelZ: regZAOffsH,
		imu.GyroX: regXGOffsUsrH, imu.GyroY: regYGOffsUsrH, imu.GyroZ: regZGOffsUsrH,
	}
)

// ReadAxis reads the current output of one axis.
func (m *MPU6050) ReadAxis(ctx context.Context, a imu.Axis) (int16, error) {
	reg, ok := axisOutput[a]
	if !ok {
		return 0, fmt.Errorf("%s: unknown axis %d", m.id, a)
	}
	v, err := m.dev.ReadSignedWord(ctx, reg)
	if err != nil {
		return 0, fmt.Errorf("%s: read %s: %w", m.id, a, err)
	}
	return v, nil
}

// WriteOffset sets the hardware offset register of one axis.
func (m *MPU6050) WriteOffset(a imu.Axis, v int16) error {
	reg, ok := axisOffset[a]
	if !ok {
		return fmt.Errorf("%s: unknown axis %d", m.id, a)
	}
	if err := m.dev.WriteSignedWord(reg, v); err != nil {
		return fmt.Errorf("%s: write %s offset: %w", m.id, a, err)
	}
	return nil
}

// ReadOffset returns the hardware offset register of one axis.
func (m *MPU6050) ReadOffset(ctx context.Context, a imu.Axis) (int16, error) {
	reg, ok := axisOffset[a]
	if !ok {
		return 0, fmt.Errorf("%s: unknown axis %d", m.id, a)
	}
	return m.dev.ReadSignedWord(ctx, reg)
}

// OffsetFactor is the output LSB count per offset register LSB.
func OffsetFactor(a imu.Axis) float64 {
	if a.IsAccel() {
		return AccelOffsetFactor
	}
	return GyroOffsetFactor
}

// ReadRegister and WriteRegister give the debug tool direct access.
func (m *MPU6050) ReadRegister(ctx context.Context, reg byte) (byte, error) {
	return m.dev.ReadReg(ctx, reg)
}

func (m *MPU6050) WriteRegister(reg, value byte) error {
	return m.dev.WriteReg(reg, value)
}
