// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import "fmt"

// MPU6050 register addresses.
const (
	regXAOffsH     = 0x06
	regYAOffsH     = 0x08
	regZAOffsH     = 0x0A
	regXGOffsUsrH  = 0x13
	regYGOffsUsrH  = 0x15
	regZGOffsUsrH  = 0x17
	regSmplrtDiv   = 0x19
	regConfig      = 0x1A
	regGyroConfig  = 0x1B
	regAccelConfig = 0x1C
	regFFThr       = 0x1D
	regFFDur       = 0x1E
	regMotThr      = 0x1F
	regMotDur      = 0x20
	regZrmotThr    = 0x21
	regZrmotDur    = 0x22
	regFIFOEn      = 0x23
	regI2CMstCtrl  = 0x24
	regI2CSlv0Addr = 0x25
	regI2CSlv4Addr = 0x31
	regI2CSlv4Reg  = 0x32
	regI2CSlv4DO   = 0x33
	regI2CSlv4Ctrl = 0x34
	regI2CSlv4DI   = 0x35
	regIntEnable   = 0x38
	regAccelXOutH  = 0x3B
	regAccelYOutH  = 0x3D
	regAccelZOutH  = 0x3F
	regTempOutH    = 0x41
	regGyroXOutH   = 0x43
	regGyroYOutH   = 0x45
	regGyroZOutH   = 0x47
	regI2CSlv0DO   = 0x63
	regI2CMstDelay = 0x67
	regSignalReset = 0x68
	regMotDetCtrl  = 0x69
	regUserCtrl    = 0x6A
	regPwrMgmt1    = 0x6B
	regPwrMgmt2    = 0x6C
	regFIFOCountH  = 0x72
	regFIFORW      = 0x74
	regWhoAmI      = 0x75
)

// Bit fields, most significant bit first as the datasheet numbers them.
const (
	configDLPFBit    = 2
	configDLPFLength = 3

	gyroConfigFSBit     = 4
	gyroConfigFSLength  = 2
	accelConfigFSBit    = 4
	accelConfigFSLength = 2

	fifoEnTempBit  = 7
	fifoEnXGBit    = 6
	fifoEnYGBit    = 5
	fifoEnZGBit    = 4
	fifoEnAccelBit = 3

	userCtrlFIFOEnBit       = 6
	userCtrlFIFOResetBit    = 2
	userCtrlSigCondResetBit = 0

	pwr1DeviceResetBit = 7
	pwr1SleepBit       = 6
	pwr1ClkSelBit      = 2
	pwr1ClkSelLength   = 3

	whoAmIBit    = 6
	whoAmILength = 6
)

const whoAmIExpected byte = 0x34

const (
	// FIFOCapacity is the depth of the hardware queue in bytes.
	FIFOCapacity = 1024
	// MaxBurst is the largest single I2C block read the bus driver allows.
	MaxBurst = 32

	AccelOffsetFactor = 8
	GyroOffsetFactor  = 4
)

// zeroOnReset lists the auxiliary registers cleared after a device reset:
// motion detection, the I2C master and its slaves.
var zeroOnReset = func() []byte {
	regs := []byte{
		regFFThr, regFFDur, regMotThr, regMotDur, regZrmotThr, regZrmotDur,
		regI2CMstCtrl,
	}
	// SLV0..SLV3 ADDR, REG, CTRL
	for r := byte(regI2CSlv0Addr); r < regI2CSlv4Addr; r++ {
		regs = append(regs, r)
	}
	regs = append(regs, regI2CSlv4Addr, regI2CSlv4Reg, regI2CSlv4DO, regI2CSlv4Ctrl, regI2CSlv4DI)
	for r := byte(regI2CSlv0DO); r < regI2CMstDelay; r++ {
		regs = append(regs, r)
	}
	return append(regs, regI2CMstDelay, regSignalReset, regMotDetCtrl)
}()

// BitField describes one field of a register for the debug tool.
type BitField struct {
	Bits        string `json:"bits"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Values      string `json:"values,omitempty"`
}

// RegisterInfo is metadata for one register.
type RegisterInfo struct {
	Address     string     `json:"address"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Access      string     `json:"access"` // "R", "W", "RW"
	Default     string     `json:"default,omitempty"`
	BitFields   []BitField `json:"bit_fields,omitempty"`
}

func addr(r byte) string { return fmt.Sprintf("0x%02X", r) }

// RegisterMap returns metadata for the MPU6050 registers this project
// touches, for display by the register debug tool.
func RegisterMap() []RegisterInfo {
	offset := func(r byte, name string) RegisterInfo {
		return RegisterInfo{Address: addr(r), Name: name, Description: "User offset, high byte", Access: "RW",
			BitFields: []BitField{{Bits: "7:0", Name: name, Description: "Bias added to the sensor output before the FIFO"}}}
	}
	out := func(r byte, name string) RegisterInfo {
		return RegisterInfo{Address: addr(r), Name: name, Description: "Measurement, high byte", Access: "R"}
	}

	return []RegisterInfo{
		offset(regXAOffsH, "XA_OFFS_H"),
		offset(regYAOffsH, "YA_OFFS_H"),
		offset(regZAOffsH, "ZA_OFFS_H"),
		offset(regXGOffsUsrH, "XG_OFFS_USRH"),
		offset(regYGOffsUsrH, "YG_OFFS_USRH"),
		offset(regZGOffsUsrH, "ZG_OFFS_USRH"),

		// Configuration
		{Address: addr(regSmplrtDiv), Name: "SMPLRT_DIV", Description: "Sample Rate Divider", Access: "RW", Default: "0x00",
			BitFields: []BitField{
				{Bits: "7:0", Name: "SMPLRT_DIV", Description: "Sample Rate = Gyro_Output_Rate / (1 + SMPLRT_DIV)", Values: "0-255"},
			}},
		{Address: addr(regConfig), Name: "CONFIG", Description: "Configuration (DLPF)", Access: "RW", Default: "0x00",
			BitFields: []BitField{
				{Bits: "5:3", Name: "EXT_SYNC_SET", Description: "External FSYNC pin sampling", Values: "0=Disabled"},
				{Bits: "2:0", Name: "DLPF_CFG", Description: "Digital Low Pass Filter", Values: "0=256Hz (8kHz), 1=188Hz, 2=98Hz, 3=42Hz, 4=20Hz, 5=10Hz, 6=5Hz"},
			}},
		{Address: addr(regGyroConfig), Name: "GYRO_CONFIG", Description: "Gyroscope Configuration", Access: "RW", Default: "0x00",
			BitFields: []BitField{
				{Bits: "7:5", Name: "XG_ST..ZG_ST", Description: "Gyro self-test", Values: "0=Disabled, 1=Enabled"},
				{Bits: "4:3", Name: "FS_SEL", Description: "Gyro Full Scale Range", Values: "0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s"},
			}},
		{Address: addr(regAccelConfig), Name: "ACCEL_CONFIG", Description: "Accelerometer Configuration", Access: "RW", Default: "0x00",
			BitFields: []BitField{
				{Bits: "7:5", Name: "XA_ST..ZA_ST", Description: "Accel self-test", Values: "0=Disabled, 1=Enabled"},
				{Bits: "4:3", Name: "AFS_SEL", Description: "Accel Full Scale Range", Values: "0=±2g, 1=±4g, 2=±8g, 3=±16g"},
			}},
		{Address: addr(regFIFOEn), Name: "FIFO_EN", Description: "FIFO lane enable", Access: "RW", Default: "0x00",
			BitFields: []BitField{
				{Bits: "7", Name: "TEMP_FIFO_EN", Description: "Temperature to FIFO"},
				{Bits: "6", Name: "XG_FIFO_EN", Description: "Gyro X to FIFO"},
				{Bits: "5", Name: "YG_FIFO_EN", Description: "Gyro Y to FIFO"},
				{Bits: "4", Name: "ZG_FIFO_EN", Description: "Gyro Z to FIFO"},
				{Bits: "3", Name: "ACCEL_FIFO_EN", Description: "Accel X, Y, Z to FIFO"},
			}},
		{Address: addr(regIntEnable), Name: "INT_ENABLE", Description: "Interrupt Enable", Access: "RW", Default: "0x00",
			BitFields: []BitField{
				{Bits: "4", Name: "FIFO_OFLOW_EN", Description: "FIFO overflow interrupt", Values: "0=Disabled, 1=Enabled"},
				{Bits: "0", Name: "DATA_RDY_EN", Description: "Data ready interrupt", Values: "0=Disabled, 1=Enabled"},
			}},

		// Measurements
		out(regAccelXOutH, "ACCEL_XOUT_H"),
		out(regAccelYOutH, "ACCEL_YOUT_H"),
		out(regAccelZOutH, "ACCEL_ZOUT_H"),
		out(regTempOutH, "TEMP_OUT_H"),
		out(regGyroXOutH, "GYRO_XOUT_H"),
		out(regGyroYOutH, "GYRO_YOUT_H"),
		out(regGyroZOutH, "GYRO_ZOUT_H"),

		// Control
		{Address: addr(regSignalReset), Name: "SIGNAL_PATH_RESET", Description: "Signal path reset", Access: "W", Default: "0x00"},
		{Address: addr(regUserCtrl), Name: "USER_CTRL", Description: "User Control", Access: "RW", Default: "0x00",
			BitFields: []BitField{
				{Bits: "6", Name: "FIFO_EN", Description: "Enable FIFO", Values: "0=Disabled, 1=Enabled"},
				{Bits: "5", Name: "I2C_MST_EN", Description: "I2C master mode", Values: "0=Disabled, 1=Enabled"},
				{Bits: "2", Name: "FIFO_RESET", Description: "Reset FIFO (self clearing)"},
				{Bits: "0", Name: "SIG_COND_RESET", Description: "Reset signal paths and sensor registers"},
			}},
		{Address: addr(regPwrMgmt1), Name: "PWR_MGMT_1", Description: "Power Management 1", Access: "RW", Default: "0x40",
			BitFields: []BitField{
				{Bits: "7", Name: "DEVICE_RESET", Description: "Reset all registers to defaults (self clearing)"},
				{Bits: "6", Name: "SLEEP", Description: "Sleep mode", Values: "0=Awake, 1=Sleep"},
				{Bits: "3", Name: "TEMP_DIS", Description: "Disable temperature sensor"},
				{Bits: "2:0", Name: "CLKSEL", Description: "Clock source", Values: "0=Internal 8MHz, 1=PLL X gyro, 2=PLL Y gyro, 3=PLL Z gyro, 4=PLL ext 32kHz, 5=PLL ext 19MHz, 7=Stop"},
			}},
		{Address: addr(regPwrMgmt2), Name: "PWR_MGMT_2", Description: "Power Management 2", Access: "RW", Default: "0x00"},
		{Address: addr(regFIFOCountH), Name: "FIFO_COUNTH", Description: "FIFO byte count, high byte", Access: "R"},
		{Address: addr(regFIFORW), Name: "FIFO_R_W", Description: "FIFO read/write", Access: "RW"},
		{Address: addr(regWhoAmI), Name: "WHO_AM_I", Description: "Device identity", Access: "R", Default: "0x68",
			BitFields: []BitField{
				{Bits: "6:1", Name: "WHO_AM_I", Description: "Upper 6 bits of the I2C address", Values: "0x34"},
			}},
	}
}
