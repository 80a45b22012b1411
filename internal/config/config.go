// Package config loads boneIO's YAML configuration file into the concrete
// struct tree every component needs, built on gopkg.in/yaml.v3. Schema
// validation beyond what yaml.v3 itself enforces is left to each
// component: a missing required field surfaces when that component is
// wired, not at load time.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"boneio/internal/boneerr"
)

// MQTT is the `mqtt:` section.
type MQTT struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	Username          string `yaml:"username"`
	Password          string `yaml:"password"`
	ClientID          string `yaml:"client_id"`
	TopicPrefix       string `yaml:"topic_prefix"`
	HADiscovery       bool   `yaml:"ha_discovery"`
	HADiscoveryPrefix string `yaml:"ha_discovery_prefix"`
}

// Input is one `input:` list entry.
type Input struct {
	ID            string            `yaml:"id"`
	Pin           string            `yaml:"pin"`
	GPIOMode      string            `yaml:"gpio_mode"` // gpio_pu, gpio_pd, gpio_input
	DetectionType string            `yaml:"detection_type"` // "new" or "old"
	BounceMS      int               `yaml:"bounce_time_ms"`
	Invert        bool              `yaml:"invert"`
	InitialSend   bool              `yaml:"initial_send"`
	ClearMessage  bool              `yaml:"clear_message"`
	Actions       map[string][]ActionCfg `yaml:"actions"` // click type -> action list
}

// ActionCfg mirrors dispatch.Action in the serialized form.
type ActionCfg struct {
	Action string `yaml:"action"` // output, cover, mqtt, output_over_mqtt, cover_over_mqtt
	Pin    string `yaml:"pin,omitempty"`
	Topic  string `yaml:"topic,omitempty"`
	Msg    string `yaml:"message,omitempty"`
	Op     string `yaml:"action_type,omitempty"` // on/off/toggle or open/close/stop/...
}

// Output is one `output:` list entry.
type Output struct {
	ID                string   `yaml:"id"`
	Pin               int      `yaml:"pin"`
	GPIO              string   `yaml:"gpio,omitempty"`
	ExpanderID        string   `yaml:"expander_id,omitempty"`
	OutputType        string   `yaml:"output_type"`
	RestoreState      bool     `yaml:"restore_state"`
	MomentaryTurnOnMS int      `yaml:"momentary_turn_on_ms"`
	MomentaryTurnOffMS int     `yaml:"momentary_turn_off_ms"`
	InterlockGroups   []string `yaml:"interlock_groups,omitempty"`
	VirtualPowerUsage *float64 `yaml:"virtual_power_usage,omitempty"`
	VirtualFlowRate   *float64 `yaml:"virtual_volume_flow_rate,omitempty"`
}

// OutputGroup is one `output_group:` entry.
type OutputGroup struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Outputs []string `yaml:"outputs"`
}

// Cover is one `cover:` entry.
type Cover struct {
	ID                         string `yaml:"id"`
	Kind                       string `yaml:"kind"` // previous, time, venetian
	OpenRelay                  string `yaml:"open_relay"`
	CloseRelay                 string `yaml:"close_relay"`
	OpenTimeMS                 int    `yaml:"open_time_ms"`
	CloseTimeMS                int    `yaml:"close_time_ms"`
	TiltDurationMS             int    `yaml:"tilt_duration_ms"`
	ActuatorActivationMS       int    `yaml:"actuator_activation_duration_ms"`
}

// ModbusUART is the `modbus_uart:` section.
type ModbusUART struct {
	Device   string `yaml:"device"`
	BaudRate int    `yaml:"baudrate"`
	Parity   string `yaml:"parity"`
	StopBits int    `yaml:"stopbits"`
	DataBits int    `yaml:"bytesize"`
}

// ModbusDevice is one `modbus_devices:` entry; register descriptors are
// not part of this file and come from a per-model JSON descriptor loaded
// separately by the manager.
type ModbusDevice struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	Address        int    `yaml:"address"`
	Model          string `yaml:"model"`
	UpdateInterval int    `yaml:"update_interval_s"`
}

// I2C is one `i2c:` bus entry.
type I2C struct {
	ID   string `yaml:"id"`
	Bus  string `yaml:"bus"`
}

// Expander is one `mcp23017:`/`pcf8575:`/`pca9685:` entry.
type Expander struct {
	ID            string `yaml:"id"`
	Kind          string `yaml:"kind"`
	I2CBus        string `yaml:"i2c_bus"`
	Address       int    `yaml:"address"`
	DirectionMask int    `yaml:"init_direction_mask,omitempty"`
	PullUpMask    int    `yaml:"init_pullup_mask,omitempty"`
}

// Config is the whole config file.
type Config struct {
	MQTT          MQTT           `yaml:"mqtt"`
	ConfigDir     string         `yaml:"-"` // derived from the loaded file's path
	Inputs        []Input        `yaml:"input"`
	Outputs       []Output       `yaml:"output"`
	OutputGroups  []OutputGroup  `yaml:"output_group"`
	Covers        []Cover        `yaml:"cover"`
	ModbusUART    ModbusUART     `yaml:"modbus_uart"`
	ModbusDevices []ModbusDevice `yaml:"modbus_devices"`
	I2CBuses      []I2C          `yaml:"i2c"`
	Expanders     []Expander     `yaml:"expanders"`
}

// Load reads and parses path. It does not validate beyond what yaml.v3
// itself enforces; callers are expected to fail fast on a missing required
// field when they try to wire the corresponding component.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read config %s: %v", boneerr.ErrConfiguration, path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config %s: %v", boneerr.ErrConfiguration, path, err)
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "boneio"
	}
	if cfg.MQTT.HADiscoveryPrefix == "" {
		cfg.MQTT.HADiscoveryPrefix = "homeassistant"
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	cfg.ConfigDir = filepath.Dir(abs)
	return &cfg, nil
}

func millis(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

// Duration helpers used by the manager while wiring covers/inputs, kept
// here so callers don't repeat the *time.Millisecond conversion.
func (c Cover) OpenDuration() time.Duration            { return millis(c.OpenTimeMS) }
func (c Cover) CloseDuration() time.Duration           { return millis(c.CloseTimeMS) }
func (c Cover) TiltDuration() time.Duration            { return millis(c.TiltDurationMS) }
func (c Cover) ActuatorActivationDuration() time.Duration { return millis(c.ActuatorActivationMS) }

func (i Input) BounceDuration() time.Duration { return millis(i.BounceMS) }

func (o Output) MomentaryTurnOnDuration() time.Duration  { return millis(o.MomentaryTurnOnMS) }
func (o Output) MomentaryTurnOffDuration() time.Duration { return millis(o.MomentaryTurnOffMS) }
