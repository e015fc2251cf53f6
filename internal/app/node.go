// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/imu_capture/internal/calibration"
	"github.com/relabs-tech/imu_capture/internal/command"
	"github.com/relabs-tech/imu_capture/internal/config"
	"github.com/relabs-tech/imu_capture/internal/env"
	"github.com/relabs-tech/imu_capture/internal/gps"
	"github.com/relabs-tech/imu_capture/internal/sensors"
	"github.com/relabs-tech/imu_capture/internal/session"
)

// AmbientReader samples the node's environment sensor.
type AmbientReader interface {
	Read() (env.Sample, error)
}

// Node executes control commands against the sensors of one controller.
// Commands run one at a time.
type Node struct {
	opt     *config.NodeOpt
	sensors *sensors.Set
	publish func(command.Reply)
	save    func() error

	// Ambient and GPS are optional context recorded with every session.
	Ambient AmbientReader
	GPS     *gps.Tracker
	// Uploader sends finished sessions to the collector. When nil sessions
	// stay on disk.
	Uploader *Uploader
	// Now is passed to every capture; nil means time.Now.
	Now func() time.Time

	mu sync.Mutex
}

// NewNode wires a node. publish sends replies to the info topic and save
// persists opt after a configure command; either may be nil.
func NewNode(opt *config.NodeOpt, set *sensors.Set, publish func(command.Reply), save func() error) *Node {
	return &Node{opt: opt, sensors: set, publish: publish, save: save}
}

func (n *Node) reply(t command.ReplyType, requestID, format string, args ...any) command.Reply {
	r := command.Reply{Type: t, DeviceID: n.opt.DeviceID, Msg: fmt.Sprintf(format, args...), RequestID: requestID}
	if n.publish != nil {
		n.publish(r)
	}
	return r
}

// Handle parses and runs one control message and returns the final reply
// it published. Failures are reported as error replies, never returned.
func (n *Node) Handle(ctx context.Context, payload []byte) command.Reply {
	n.mu.Lock()
	defer n.mu.Unlock()

	cmd, err := command.Parse(payload)
	if err != nil {
		log.Warnf("node: rejected command: %v", err)
		return n.reply(command.Error, "", "%v", err)
	}
	if cmd.RequestID == "" {
		cmd.RequestID = command.NewRequestID()
	}
	log.Infof("node: %s (sensor %s, request %s)", cmd.Name, cmd.SensorID, cmd.RequestID)

	msg, err := n.dispatch(ctx, cmd)
	if err != nil {
		log.Errorf("node: %s failed: %v", cmd.Name, err)
		return n.reply(command.Error, cmd.RequestID, "%s failed: %v", cmd.Name, err)
	}
	return n.reply(command.Success, cmd.RequestID, "%s", msg)
}

func (n *Node) dispatch(ctx context.Context, cmd *command.Command) (string, error) {
	switch cmd.Name {
	case command.PingSensors:
		return n.ping(ctx)
	case command.GetTemperatures:
		return n.temperatures(ctx)
	case command.Reset:
		return n.reset(ctx, cmd.SensorID)
	case command.Configure:
		return n.configure(ctx, cmd)
	case command.Calibrate:
		return n.calibrate(ctx, cmd)
	case command.StartSession:
		return n.startSession(ctx, cmd)
	}
	return "", fmt.Errorf("%w: %s", command.ErrUnknownCommand, cmd.Name)
}

func (n *Node) ping(ctx context.Context) (string, error) {
	var up, down []string
	for _, m := range n.sensors.All() {
		ok, err := m.TestConnection(ctx)
		if err != nil || !ok {
			log.Warnf("node: %s does not answer: %v", m.ID(), err)
			down = append(down, m.ID())
			continue
		}
		up = append(up, m.ID())
	}
	if len(up) == 0 {
		return "", fmt.Errorf("no sensor answers (%d configured)", n.sensors.Len())
	}
	msg := "Connected sensors: " + strings.Join(up, ", ")
	if len(down) > 0 {
		msg += "; not answering: " + strings.Join(down, ", ")
	}
	return msg, nil
}

func (n *Node) temperatures(ctx context.Context) (string, error) {
	parts := make([]string, 0, n.sensors.Len())
	for _, m := range n.sensors.All() {
		c, err := m.Temperature(ctx)
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("%s: %.2f °C", m.ID(), c))
	}
	return "Temperatures: " + strings.Join(parts, ", "), nil
}

func (n *Node) reset(ctx context.Context, id string) (string, error) {
	targets, err := n.sensors.Select(id)
	if err != nil {
		return "", err
	}
	for _, m := range targets {
		if err := m.Reset(ctx); err != nil {
			return "", err
		}
	}
	return "Reset " + idList(targets), nil
}

func (n *Node) configure(ctx context.Context, cmd *command.Command) (string, error) {
	targets, err := n.sensors.Select(cmd.SensorID)
	if err != nil {
		return "", err
	}
	for _, m := range targets {
		if err := m.Configure(ctx, cmd.Settings); err != nil {
			return "", err
		}
		if !n.opt.SetSensorSettings(m.ID(), cmd.Settings) {
			log.Warnf("node: %s is not in the config file, settings not persisted", m.ID())
		}
	}
	if n.save != nil {
		if err := n.save(); err != nil {
			return "", fmt.Errorf("persist settings: %w", err)
		}
	}
	s := cmd.Settings
	return fmt.Sprintf("Configured %s: %.1f Hz, %d byte packages", idList(targets), s.SampleRate(), s.PackageLength()), nil
}

func (n *Node) calibrate(ctx context.Context, cmd *command.Command) (string, error) {
	targets, err := n.sensors.Select(cmd.SensorID)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(targets))
	for _, m := range targets {
		n.reply(command.Info, cmd.RequestID, "Calibrating sensor %s", m.ID())
		results, err := calibration.Calibrate(ctx, m, calibration.DefaultAxes(), cmd.Calibration)
		if err != nil {
			return "", err
		}
		converged := 0
		for _, r := range results {
			if r.Converged {
				converged++
			}
		}
		parts = append(parts, fmt.Sprintf("%s %d/%d axes converged", m.ID(), converged, len(results)))
	}
	return "Calibrated " + strings.Join(parts, ", "), nil
}

func (n *Node) startSession(ctx context.Context, cmd *command.Command) (string, error) {
	dir := filepath.Join(n.opt.SessionsPath, cmd.Session)
	if _, err := os.Stat(dir); err == nil {
		return "", fmt.Errorf("%w: session %q already exists on this node", session.ErrInvalidSession, cmd.Session)
	}

	all := n.sensors.All()
	sources := make([]session.Source, 0, len(all))
	for _, m := range all {
		sources = append(sources, m)
	}
	c := &session.Capture{
		Name:         cmd.Session,
		ControllerID: n.opt.DeviceID,
		Dir:          dir,
		Duration:     cmd.Duration,
		Sources:      sources,
		Now:          n.Now,
	}
	if n.Ambient != nil {
		if s, err := n.Ambient.Read(); err != nil {
			log.Warnf("node: ambient reading skipped: %v", err)
		} else {
			c.Ambient = &s
		}
	}
	if n.GPS != nil {
		if fix, ok := n.GPS.Latest(); ok {
			c.Location = &fix
		}
	}

	n.reply(command.Info, cmd.RequestID, "Session %q started for %v", cmd.Session, cmd.Duration)
	frag, err := c.Run(ctx)
	if err != nil {
		return "", err
	}

	total := 0
	for _, p := range frag.NPackages {
		total += p
	}
	overflows := 0
	for _, o := range frag.Overflows {
		overflows += len(o)
	}
	msg := fmt.Sprintf("Session %q finished: %d packages from %d sensors", cmd.Session, total, len(frag.NPackages))
	if overflows > 0 {
		msg += fmt.Sprintf(", %d FIFO overflows", overflows)
	}

	if n.Uploader == nil {
		return msg, nil
	}
	if err := n.transfer(ctx, cmd.Session, dir); err != nil {
		return "", fmt.Errorf("session captured but not delivered: %w", err)
	}
	return msg + ", delivered", nil
}

// transfer zips the session, uploads it and removes the local copy.
func (n *Node) transfer(ctx context.Context, name, dir string) error {
	archive := filepath.Join(n.opt.SessionsPath, session.ArchiveName(name, n.opt.DeviceID))
	if err := session.Pack(dir, archive); err != nil {
		return err
	}
	if err := n.Uploader.Upload(ctx, archive, name); err != nil {
		return err
	}
	return errors.Join(os.Remove(archive), os.RemoveAll(dir))
}

func idList(ms []*sensors.MPU6050) string {
	ids := make([]string, len(ms))
	for i, m := range ms {
		ids[i] = m.ID()
	}
	sort.Strings(ids)
	if len(ids) == 1 {
		return "sensor " + ids[0]
	}
	return "sensors " + strings.Join(ids, ", ")
}

// RunNode opens the configured hardware and serves commands from the
// control topic until ctx is done.
func RunNode(ctx context.Context, desc *config.Desc[*config.NodeOpt]) error {
	opt := desc.Opt
	set, err := sensors.OpenSet(ctx, opt.Sensors, opt.ReadTimeout())
	if err != nil {
		return err
	}
	defer set.Close()

	node := NewNode(opt, set, nil, func() error { return desc.SaveConfig(config.DefaultNodeConfig) })
	node.Uploader = NewUploader(opt.Client.URL())

	if opt.Ambient.Bus != "" {
		a, err := sensors.OpenAmbient(opt.Ambient.Bus, opt.Ambient.Address)
		if err != nil {
			log.Warnf("node: ambient sensor disabled: %v", err)
		} else {
			defer a.Close()
			node.Ambient = a
		}
	}
	if opt.GPS.Port != "" {
		port, err := gps.OpenSerial(opt.GPS.Port, opt.GPS.Baud)
		if err != nil {
			log.Warnf("node: gps disabled: %v", err)
		} else {
			node.GPS = &gps.Tracker{}
			go func() {
				if err := node.GPS.Run(ctx, port); err != nil && !errors.Is(err, context.Canceled) {
					log.Errorf("node: gps reader stopped: %v", err)
				}
			}()
		}
	}

	// Commands are queued so a long session never blocks the paho router.
	queue := make(chan []byte, 16)
	clientID := opt.MQTT.ClientID
	if clientID == "" {
		clientID = config.AppName + "-" + opt.DeviceID
	}
	client, err := connectMQTT(ctx, opt.MQTT, clientID, func(c mqtt.Client) {
		err := subscribe(c, opt.MQTT.Topic.Control, func(_ mqtt.Client, msg mqtt.Message) {
			select {
			case queue <- msg.Payload():
			default:
				log.Warnf("node: command queue full, dropping %d bytes", len(msg.Payload()))
			}
		})
		if err != nil {
			log.Error(err)
		}
	})
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	node.publish = replyPublisher(client, opt.MQTT.Topic.Info)
	node.reply(command.Info, "", "Node %s online with %s", opt.DeviceID, idList(set.All()))

	for {
		select {
		case <-ctx.Done():
			log.Infof("node: shutting down")
			return nil
		case payload := <-queue:
			node.Handle(ctx, payload)
		}
	}
}
