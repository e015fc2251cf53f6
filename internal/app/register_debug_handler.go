// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/imu_capture/internal/sensors"
)

// regFIFORW pops the FIFO when read, so bulk reads skip it.
const regFIFORW = 0x74

// RegisterCmd is a request from the register debug page.
type RegisterCmd struct {
	Action  string `json:"action"` // get_map, list, read, read_all, write, reset, export_config
	Sensor  string `json:"sensor,omitempty"`
	Address string `json:"addr,omitempty"`
	Value   string `json:"value,omitempty"`
}

// RegisterResponse is sent back for every command.
type RegisterResponse struct {
	Type        string                 `json:"type"` // "register_data", "register_map", "sensors", "status", "config", "error"
	Sensor      string                 `json:"sensor,omitempty"`
	Address     string                 `json:"addr,omitempty"`
	Value       string                 `json:"value,omitempty"`
	Registers   map[string]string      `json:"registers,omitempty"` // for bulk read
	Sensors     []string               `json:"sensors,omitempty"`
	Timestamp   string                 `json:"timestamp,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Status      string                 `json:"status,omitempty"`
	RegisterMap []sensors.RegisterInfo `json:"register_map,omitempty"`
	Config      *RegisterConfigFile    `json:"config,omitempty"`
}

// RegisterConfigFile is an exported register snapshot.
type RegisterConfigFile struct {
	Version   int               `json:"version"`
	Sensor    string            `json:"sensor"`
	Timestamp string            `json:"timestamp"`
	Registers map[string]string `json:"registers"` // hex address -> hex value
}

// RegisterDebugger serves a websocket for reading and writing single
// MPU6050 registers by sensor id. One command runs at a time across all
// connections.
type RegisterDebugger struct {
	set *sensors.Set
	mu  sync.Mutex
	// Timeout bounds each command.
	Timeout time.Duration
}

func NewRegisterDebugger(set *sensors.Set) *RegisterDebugger {
	return &RegisterDebugger{set: set, Timeout: 5 * time.Second}
}

func (d *RegisterDebugger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("register_debug: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if err := conn.WriteJSON(d.registerMap()); err != nil {
		log.Warnf("register_debug: error sending register map: %v", err)
		return
	}

	for {
		var cmd RegisterCmd
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("register_debug: websocket error: %v", err)
			}
			return
		}
		if err := conn.WriteJSON(d.Execute(r.Context(), cmd)); err != nil {
			log.Warnf("register_debug: write: %v", err)
			return
		}
	}
}

// Execute runs one command and builds its response.
func (d *RegisterDebugger) Execute(ctx context.Context, cmd RegisterCmd) RegisterResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	switch cmd.Action {
	case "get_map":
		return d.registerMap()
	case "list":
		return RegisterResponse{Type: "sensors", Sensors: d.set.IDs()}
	case "read", "read_all", "write", "reset", "export_config":
	default:
		return errorResponse(cmd.Sensor, "unknown action: %s", cmd.Action)
	}

	m, err := d.set.Get(cmd.Sensor)
	if err != nil {
		return errorResponse(cmd.Sensor, "%v", err)
	}
	switch cmd.Action {
	case "read":
		return d.read(ctx, m, cmd)
	case "read_all":
		regs, err := readAll(ctx, m)
		if err != nil {
			return errorResponse(m.ID(), "read all error: %v", err)
		}
		return RegisterResponse{Type: "register_data", Sensor: m.ID(), Registers: regs, Timestamp: now()}
	case "write":
		return d.write(m, cmd)
	case "reset":
		if err := m.Reset(ctx); err != nil {
			return errorResponse(m.ID(), "reset error: %v", err)
		}
		return RegisterResponse{Type: "status", Sensor: m.ID(), Status: "reset", Message: "sensor reset to power-on defaults"}
	default: // export_config
		regs, err := readAll(ctx, m)
		if err != nil {
			return errorResponse(m.ID(), "export error: %v", err)
		}
		cfg := &RegisterConfigFile{Version: 1, Sensor: m.ID(), Timestamp: now(), Registers: regs}
		return RegisterResponse{Type: "config", Sensor: m.ID(), Config: cfg}
	}
}

func (d *RegisterDebugger) registerMap() RegisterResponse {
	return RegisterResponse{Type: "register_map", Sensors: d.set.IDs(), RegisterMap: sensors.RegisterMap()}
}

func (d *RegisterDebugger) read(ctx context.Context, m *sensors.MPU6050, cmd RegisterCmd) RegisterResponse {
	reg, err := parseHex(cmd.Address)
	if err != nil {
		return errorResponse(m.ID(), "invalid address format: %s", cmd.Address)
	}
	v, err := m.ReadRegister(ctx, reg)
	if err != nil {
		return errorResponse(m.ID(), "read error: %v", err)
	}
	return RegisterResponse{Type: "register_data", Sensor: m.ID(), Address: hexByte(reg), Value: hexByte(v), Timestamp: now()}
}

func (d *RegisterDebugger) write(m *sensors.MPU6050, cmd RegisterCmd) RegisterResponse {
	reg, err := parseHex(cmd.Address)
	if err != nil {
		return errorResponse(m.ID(), "invalid address format: %s", cmd.Address)
	}
	v, err := parseHex(cmd.Value)
	if err != nil {
		return errorResponse(m.ID(), "invalid value format: %s", cmd.Value)
	}
	if !isRegisterWritable(reg) {
		return errorResponse(m.ID(), "register %s is not writable", hexByte(reg))
	}
	if err := m.WriteRegister(reg, v); err != nil {
		return errorResponse(m.ID(), "write error: %v", err)
	}
	log.Infof("register_debug: %s wrote %s = %s", m.ID(), hexByte(reg), hexByte(v))
	return RegisterResponse{Type: "register_data", Sensor: m.ID(), Address: hexByte(reg), Value: hexByte(v), Timestamp: now(), Message: "write successful"}
}

// readAll reads every mapped register except the FIFO port.
func readAll(ctx context.Context, m *sensors.MPU6050) (map[string]string, error) {
	regs := make(map[string]string)
	for _, info := range sensors.RegisterMap() {
		reg, err := parseHex(info.Address)
		if err != nil {
			return nil, err
		}
		if reg == regFIFORW || !strings.Contains(info.Access, "R") {
			continue
		}
		v, err := m.ReadRegister(ctx, reg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", info.Name, err)
		}
		regs[info.Address] = hexByte(v)
	}
	return regs, nil
}

// isRegisterWritable allows writes only to mapped registers marked W.
func isRegisterWritable(reg byte) bool {
	for _, info := range sensors.RegisterMap() {
		if r, err := parseHex(info.Address); err == nil && r == reg {
			return strings.Contains(info.Access, "W")
		}
	}
	return false
}

func parseHex(s string) (byte, error) {
	var b byte
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if s == "" {
		return 0, fmt.Errorf("empty hex value")
	}
	_, err := fmt.Sscanf(s, "%X", &b)
	return b, err
}

func hexByte(b byte) string { return fmt.Sprintf("0x%02X", b) }

func now() string { return time.Now().Format(time.RFC3339) }

func errorResponse(sensor, format string, args ...any) RegisterResponse {
	msg := fmt.Sprintf(format, args...)
	log.Debugf("register_debug: %s", msg)
	return RegisterResponse{Type: "error", Sensor: sensor, Message: msg}
}

// RunRegisterDebug serves the debug websocket on addr until ctx is done.
func RunRegisterDebug(ctx context.Context, set *sensors.Set, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", NewRegisterDebugger(set))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.Infof("register_debug: listening on %s (sensors %v)", addr, set.IDs())
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
