// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

// Raw is one direct register read of accel, temperature and gyro counts,
// outside the FIFO path.
type Raw struct {
	Source string `json:"source"` // sensor id

	Ax int16 `json:"ax"` // accel
	Ay int16 `json:"ay"`
	Az int16 `json:"az"`

	Temp int16 `json:"temp"`

	Gx int16 `json:"gx"` // gyro
	Gy int16 `json:"gy"`
	Gz int16 `json:"gz"`
}

// Scaled converts r to g, °C and °/s using s.
func (r Raw) Scaled(s Settings) Motion {
	af, gf := s.AccelFactor(), s.GyroFactor()
	return Motion{
		Source: r.Source,
		Accel:  [3]float64{float64(r.Ax) * af, float64(r.Ay) * af, float64(r.Az) * af},
		Gyro:   [3]float64{float64(r.Gx) * gf, float64(r.Gy) * gf, float64(r.Gz) * gf},
		TempC:  TemperatureC(r.Temp),
	}
}

// Motion is a scaled Raw.
type Motion struct {
	Source string     `json:"source"`
	Accel  [3]float64 `json:"accel_g"`
	Gyro   [3]float64 `json:"gyro_dps"`
	TempC  float64    `json:"temp_c"`
}

// TemperatureC converts a TEMP_OUT count to degrees Celsius.
func TemperatureC(raw int16) float64 {
	return float64(raw)/340.0 + 36.53
}
