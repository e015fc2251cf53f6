// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package config loads node and collector options from YAML with viper.
//
// A config file is looked up in this order:
//  1. the --config flag
//  2. the IMUCAP_CONFIG environment variable
//  3. config.yaml in $HOME/.config/imucap, /etc/imucap or the working directory
//
// Values are then overridden by IMUCAP_* environment variables and by
// command line flags.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/relabs-tech/imu_capture/internal/bus"
	"github.com/relabs-tech/imu_capture/internal/imu"
)

const (
	AppName           = "imucap"
	DefaultConfigName = "config"
	ConfigEnv         = "IMUCAP_CONFIG"

	DefaultMQTTIP       = "127.0.0.1"
	DefaultMQTTPort     = 1883
	DefaultControlTopic = "imucap/control"
	DefaultInfoTopic    = "imucap/info"

	DefaultCollectorInterface = "0.0.0.0"
	DefaultCollectorPort      = 8000
	DefaultSessionsPath       = "sessions"
	DefaultDeviceID           = "node_0"
	DefaultReadTimeoutMS      = 1000
)

var userHomeDir, _ = os.UserHomeDir()

var (
	DefaultNodeConfig      = filepath.Join(userHomeDir, ".config", AppName, "node.yaml")
	DefaultCollectorConfig = filepath.Join(userHomeDir, ".config", AppName, "collector.yaml")
	searchPaths            = []string{
		filepath.Join(userHomeDir, ".config", AppName),
		"/etc/" + AppName,
		"./",
	}
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// TopicOpt names the MQTT topics.
type TopicOpt struct {
	Control string `yaml:"control" mapstructure:"control"`
	Info    string `yaml:"info" mapstructure:"info"`
}

// MQTTOpt locates the broker.
type MQTTOpt struct {
	IP       string   `yaml:"ip" mapstructure:"ip"`
	Port     int      `yaml:"port" mapstructure:"port"`
	ClientID string   `yaml:"client_id,omitempty" mapstructure:"client_id"`
	Topic    TopicOpt `yaml:"topic" mapstructure:"topic"`
}

// Broker is the paho broker URL.
func (m MQTTOpt) Broker() string {
	return "tcp://" + net.JoinHostPort(m.IP, strconv.Itoa(m.Port))
}

// HostOpt is an address a node uploads to or a server listens on.
type HostOpt struct {
	IP   string `yaml:"ip" mapstructure:"ip"`
	Port int    `yaml:"port" mapstructure:"port"`
}

func (h HostOpt) Addr() string { return net.JoinHostPort(h.IP, strconv.Itoa(h.Port)) }

// URL is the http base URL of the host.
func (h HostOpt) URL() string { return "http://" + h.Addr() }

// AmbientOpt locates an optional BMx280 on the node. Empty Bus disables it.
type AmbientOpt struct {
	Bus     string `yaml:"bus" mapstructure:"bus"`
	Address uint16 `yaml:"address" mapstructure:"address"`
}

// GPSOpt locates an optional NMEA receiver. Empty Port disables it.
type GPSOpt struct {
	Port string `yaml:"port" mapstructure:"port"`
	Baud int    `yaml:"baud" mapstructure:"baud"`
}

// NodeOpt configures a capture node.
type NodeOpt struct {
	DeviceID      string             `yaml:"device_id" mapstructure:"device_id"`
	MQTT          MQTTOpt            `yaml:"mqtt" mapstructure:"mqtt"`
	Client        HostOpt            `yaml:"client" mapstructure:"client"`
	SessionsPath  string             `yaml:"sessions_path" mapstructure:"sessions_path"`
	ReadTimeoutMS int                `yaml:"read_timeout_ms" mapstructure:"read_timeout_ms"`
	Sensors       []imu.SensorConfig `yaml:"sensors" mapstructure:"sensors"`
	Ambient       AmbientOpt         `yaml:"ambient" mapstructure:"ambient"`
	GPS           GPSOpt             `yaml:"gps" mapstructure:"gps"`
	Debug         bool               `yaml:"debug" mapstructure:"debug"`
}

// NewNodeOpt returns a node with one sensor at the default address.
func NewNodeOpt() *NodeOpt {
	return &NodeOpt{
		DeviceID: DefaultDeviceID,
		MQTT: MQTTOpt{
			IP:    DefaultMQTTIP,
			Port:  DefaultMQTTPort,
			Topic: TopicOpt{Control: DefaultControlTopic, Info: DefaultInfoTopic},
		},
		Client:        HostOpt{IP: DefaultMQTTIP, Port: DefaultCollectorPort},
		SessionsPath:  DefaultSessionsPath,
		ReadTimeoutMS: DefaultReadTimeoutMS,
		Sensors: []imu.SensorConfig{
			{ID: "0", Bus: "1", Address: 0x68, Settings: imu.DefaultSettings()},
		},
		GPS: GPSOpt{Baud: 9600},
	}
}

// ReadTimeout is the bus read bound; zero or less falls back to the bus
// default.
func (o *NodeOpt) ReadTimeout() time.Duration {
	if o.ReadTimeoutMS <= 0 {
		return bus.DefaultReadTimeout
	}
	return time.Duration(o.ReadTimeoutMS) * time.Millisecond
}

// Validate checks ids and sensor settings.
func (o *NodeOpt) Validate() error {
	if o.DeviceID == "" {
		return fmt.Errorf("%w: device_id is required", ErrInvalid)
	}
	if strings.ContainsAny(o.DeviceID, `/\`) {
		return fmt.Errorf("%w: device_id %q contains a path separator", ErrInvalid, o.DeviceID)
	}
	if o.MQTT.Topic.Control == "" || o.MQTT.Topic.Info == "" {
		return fmt.Errorf("%w: mqtt.topic.control and mqtt.topic.info are required", ErrInvalid)
	}
	if o.SessionsPath == "" {
		return fmt.Errorf("%w: sessions_path is required", ErrInvalid)
	}
	seen := map[string]bool{}
	for i, s := range o.Sensors {
		if s.ID == "" {
			return fmt.Errorf("%w: sensors[%d] has no id", ErrInvalid, i)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: sensor id %q used twice", ErrInvalid, s.ID)
		}
		seen[s.ID] = true
		if err := s.Settings.Validate(); err != nil {
			return fmt.Errorf("%w: sensor %s: %w", ErrInvalid, s.ID, err)
		}
	}
	return nil
}

// SetSensorSettings replaces the persisted settings of one sensor.
func (o *NodeOpt) SetSensorSettings(id string, s imu.Settings) bool {
	for i := range o.Sensors {
		if o.Sensors[i].ID == id {
			o.Sensors[i].Settings = s
			return true
		}
	}
	return false
}

func (o *NodeOpt) debug() bool { return o.Debug }

func (o *NodeOpt) defaults(v *viper.Viper) {
	d := NewNodeOpt()
	v.SetDefault("device_id", d.DeviceID)
	v.SetDefault("mqtt.ip", d.MQTT.IP)
	v.SetDefault("mqtt.port", d.MQTT.Port)
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.topic.control", d.MQTT.Topic.Control)
	v.SetDefault("mqtt.topic.info", d.MQTT.Topic.Info)
	v.SetDefault("client.ip", d.Client.IP)
	v.SetDefault("client.port", d.Client.Port)
	v.SetDefault("sessions_path", d.SessionsPath)
	v.SetDefault("read_timeout_ms", d.ReadTimeoutMS)
	v.SetDefault("gps.baud", d.GPS.Baud)
	v.SetDefault("debug", false)
}

func (o *NodeOpt) flags() map[string]string {
	return map[string]string{
		"device_id":     "device-id",
		"sessions_path": "sessions",
		"debug":         "debug",
	}
}

// CollectorOpt configures the collector that receives session parts.
type CollectorOpt struct {
	Listen       HostOpt `yaml:"listen" mapstructure:"listen"`
	SessionsPath string  `yaml:"sessions_path" mapstructure:"sessions_path"`
	MQTT         MQTTOpt `yaml:"mqtt" mapstructure:"mqtt"`
	// Devices are the node ids every session must come from before a merge.
	Devices []string `yaml:"devices" mapstructure:"devices"`
	// AutoMerge merges and decodes as soon as every device has uploaded.
	AutoMerge bool `yaml:"auto_merge" mapstructure:"auto_merge"`
	Debug     bool `yaml:"debug" mapstructure:"debug"`
}

func NewCollectorOpt() *CollectorOpt {
	return &CollectorOpt{
		Listen:       HostOpt{IP: DefaultCollectorInterface, Port: DefaultCollectorPort},
		SessionsPath: DefaultSessionsPath,
		MQTT: MQTTOpt{
			IP:    DefaultMQTTIP,
			Port:  DefaultMQTTPort,
			Topic: TopicOpt{Control: DefaultControlTopic, Info: DefaultInfoTopic},
		},
	}
}

func (o *CollectorOpt) Validate() error {
	if o.Listen.Port <= 0 || o.Listen.Port > 65535 {
		return fmt.Errorf("%w: listen.port %d out of range", ErrInvalid, o.Listen.Port)
	}
	if o.SessionsPath == "" {
		return fmt.Errorf("%w: sessions_path is required", ErrInvalid)
	}
	return nil
}

func (o *CollectorOpt) debug() bool { return o.Debug }

func (o *CollectorOpt) defaults(v *viper.Viper) {
	d := NewCollectorOpt()
	v.SetDefault("listen.ip", d.Listen.IP)
	v.SetDefault("listen.port", d.Listen.Port)
	v.SetDefault("sessions_path", d.SessionsPath)
	v.SetDefault("mqtt.ip", d.MQTT.IP)
	v.SetDefault("mqtt.port", d.MQTT.Port)
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.topic.control", d.MQTT.Topic.Control)
	v.SetDefault("mqtt.topic.info", d.MQTT.Topic.Info)
	v.SetDefault("auto_merge", false)
	v.SetDefault("debug", false)
}

func (o *CollectorOpt) flags() map[string]string {
	return map[string]string{
		"listen.port":   "port",
		"listen.ip":     "interface",
		"sessions_path": "sessions",
		"debug":         "debug",
	}
}

// Options is implemented by *NodeOpt and *CollectorOpt.
type Options interface {
	Validate() error
	debug() bool
	defaults(v *viper.Viper)
	flags() map[string]string
}

// Desc couples parsed options with the viper instance that produced them.
type Desc[T Options] struct {
	Opt   T
	Viper *viper.Viper
}

func NewNodeDesc() *Desc[*NodeOpt]           { return &Desc[*NodeOpt]{Opt: NewNodeOpt()} }
func NewCollectorDesc() *Desc[*CollectorOpt] { return &Desc[*CollectorOpt]{Opt: NewCollectorOpt()} }

// Parse reads the config file, the environment and the flags of cmd.
// A missing config file is not an error; the defaults apply.
func (d *Desc[T]) Parse(cmd *cobra.Command) error {
	v := viper.New()
	d.Opt.defaults(v)

	if path, err := cmd.Flags().GetString("config"); err == nil && path != "" {
		v.SetConfigFile(path)
	} else if path := os.Getenv(ConfigEnv); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		for _, p := range searchPaths {
			v.AddConfigPath(p)
		}
	}

	v.SetEnvPrefix(AppName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, name := range d.Opt.flags() {
		if f := cmd.Flags().Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}

	if err := v.ReadInConfig(); err == nil {
		log.Debugln("config: using", v.ConfigFileUsed())
	} else {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
		log.Warnln("config: no config file found, using defaults")
	}

	if v.IsSet("sensors") {
		if n, ok := any(d.Opt).(*NodeOpt); ok {
			n.Sensors = nil
		}
	}
	if err := v.Unmarshal(d.Opt); err != nil {
		return fmt.Errorf("config: unmarshal: %w", err)
	}
	d.Viper = v
	return d.Opt.Validate()
}

// PostParse applies the log level.
func (d *Desc[T]) PostParse() {
	if d.Opt.debug() {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

// SaveConfig writes the current options back to the file they came from,
// or to fallback when none was read.
func (d *Desc[T]) SaveConfig(fallback string) error {
	path := fallback
	if d.Viper != nil && d.Viper.ConfigFileUsed() != "" {
		path = d.Viper.ConfigFileUsed()
	}
	if path == "" {
		return errors.New("config: no file to save to")
	}
	return writeFile(path, d.Opt, 0o644)
}
