// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import "github.com/relabs-tech/imu_capture/internal/cmd"

func main() {
	cmd.Execute(cmd.NewConsoleCmd())
}
