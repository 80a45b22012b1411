// Package discovery builds boneIO's Home Assistant auto-discovery payloads,
// reproducing the source's Pydantic `model_dump(exclude_none=True)`
// shape: every omitted optional field is absent from the JSON, not null.
package discovery

import (
	"encoding/json"
	"fmt"
)

// Version is the reported sw_version, analogous to boneio.version.__version__.
const Version = "1.0.0"

// Device is the shared `device` object every discovery payload embeds.
type Device struct {
	Identifiers      []string `json:"identifiers"`
	Manufacturer     string   `json:"manufacturer"`
	Model            string   `json:"model"`
	Name             string   `json:"name"`
	SWVersion        string   `json:"sw_version"`
	ConfigurationURL string   `json:"configuration_url,omitempty"`
}

// NewDevice builds the device block with boneIO's fixed manufacturer and
// version, per ha_discovery.py's HaDeviceInfo.
func NewDevice(identifier, model, name string) Device {
	return Device{
		Identifiers:  []string{identifier},
		Manufacturer: "boneIO",
		Model:        model,
		Name:         name,
		SWVersion:    Version,
	}
}

// availability is embedded by every payload.
type availability struct {
	Topic string `json:"topic"`
}

// base carries the fields common to every discovery message.
type base struct {
	Availability []availability `json:"availability"`
	Device       Device         `json:"device"`
	Name         string         `json:"name"`
	StateTopic   string         `json:"state_topic"`
	UniqueID     string         `json:"unique_id"`
	Optimistic   bool           `json:"optimistic,omitempty"`

	DeviceClass         string `json:"device_class,omitempty"`
	UnitOfMeasurement   string `json:"unit_of_measurement,omitempty"`
	StateClass          string `json:"state_class,omitempty"`
	StateValueTemplate  string `json:"state_value_template,omitempty"`
	EntityCategory      string `json:"entity_category,omitempty"`
}

func newBase(availabilityTopic string, dev Device, name, stateTopic, uniqueID string) base {
	return base{
		Availability: []availability{{Topic: availabilityTopic}},
		Device:       dev,
		Name:         name,
		StateTopic:   stateTopic,
		UniqueID:     uniqueID,
	}
}

// Switch is HaSwitchMessage.
type Switch struct {
	base
	CommandTopic  string `json:"command_topic"`
	PayloadOn     string `json:"payload_on"`
	PayloadOff    string `json:"payload_off"`
	ValueTemplate string `json:"value_template"`
}

func NewSwitch(availabilityTopic string, dev Device, name, stateTopic, uniqueID, commandTopic string) Switch {
	return Switch{
		base:          newBase(availabilityTopic, dev, name, stateTopic, uniqueID),
		CommandTopic:  commandTopic,
		PayloadOn:     "ON",
		PayloadOff:    "OFF",
		ValueTemplate: "{{ value_json.state }}",
	}
}

// Light is HaLightMessage.
type Light struct {
	base
	CommandTopic       string `json:"command_topic"`
	PayloadOn          string `json:"payload_on"`
	PayloadOff         string `json:"payload_off"`
	StateValueTemplate string `json:"state_value_template"`
}

func NewLight(availabilityTopic string, dev Device, name, stateTopic, uniqueID, commandTopic string) Light {
	b := newBase(availabilityTopic, dev, name, stateTopic, uniqueID)
	return Light{base: b, CommandTopic: commandTopic, PayloadOn: "ON", PayloadOff: "OFF", StateValueTemplate: "{{ value_json.state }}"}
}

// LED is HaLedMessage: a dimmable light with a brightness channel.
type LED struct {
	Light
	BrightnessStateTopic      string `json:"brightness_state_topic"`
	BrightnessCommandTopic    string `json:"brightness_command_topic"`
	BrightnessScale           int    `json:"brightness_scale"`
	BrightnessValueTemplate   string `json:"brightness_value_template"`
}

func NewLED(availabilityTopic string, dev Device, name, stateTopic, uniqueID, commandTopic, brightnessStateTopic, brightnessCommandTopic string) LED {
	return LED{
		Light:                   NewLight(availabilityTopic, dev, name, stateTopic, uniqueID, commandTopic),
		BrightnessStateTopic:    brightnessStateTopic,
		BrightnessCommandTopic:  brightnessCommandTopic,
		BrightnessScale:         65535,
		BrightnessValueTemplate: "{{ value_json.brightness }}",
	}
}

// Button is HaButtonMessage.
type Button struct {
	base
	CommandTopic string `json:"command_topic"`
	PayloadPress string `json:"payload_press"`
}

func NewButton(availabilityTopic string, dev Device, name, stateTopic, uniqueID, commandTopic, payloadPress string) Button {
	return Button{base: newBase(availabilityTopic, dev, name, stateTopic, uniqueID), CommandTopic: commandTopic, PayloadPress: payloadPress}
}

// Sensor is a plain HA sensor (covers modbus sensor/text kinds too).
type Sensor struct {
	base
}

func NewSensor(availabilityTopic string, dev Device, name, stateTopic, uniqueID, unit, deviceClass, stateClass string) Sensor {
	b := newBase(availabilityTopic, dev, name, stateTopic, uniqueID)
	b.UnitOfMeasurement = unit
	b.DeviceClass = deviceClass
	b.StateClass = stateClass
	return Sensor{base: b}
}

// BinarySensor is HaBinarySensorMessage.
type BinarySensor struct {
	base
	PayloadOn  string `json:"payload_on"`
	PayloadOff string `json:"payload_off"`
}

func NewBinarySensor(availabilityTopic string, dev Device, name, stateTopic, uniqueID, deviceClass string) BinarySensor {
	b := newBase(availabilityTopic, dev, name, stateTopic, uniqueID)
	b.DeviceClass = deviceClass
	return BinarySensor{base: b, PayloadOn: "ON", PayloadOff: "OFF"}
}

// Cover is HaCoverMessage, with optional tilt fields for venetian covers.
type Cover struct {
	base
	CommandTopic       string `json:"command_topic"`
	PositionTopic      string `json:"position_topic,omitempty"`
	SetPositionTopic   string `json:"set_position_topic,omitempty"`
	TiltStatusTopic    string `json:"tilt_status_topic,omitempty"`
	TiltCommandTopic   string `json:"tilt_command_topic,omitempty"`
}

func NewCover(availabilityTopic string, dev Device, name, stateTopic, uniqueID, commandTopic string) Cover {
	return Cover{base: newBase(availabilityTopic, dev, name, stateTopic, uniqueID), CommandTopic: commandTopic}
}

func (c Cover) WithPosition(positionTopic, setPositionTopic string) Cover {
	c.PositionTopic = positionTopic
	c.SetPositionTopic = setPositionTopic
	return c
}

func (c Cover) WithTilt(tiltStatusTopic, tiltCommandTopic string) Cover {
	c.TiltStatusTopic = tiltStatusTopic
	c.TiltCommandTopic = tiltCommandTopic
	return c
}

// Select is a Modbus-backed HA select entity (derived entities of kind
// "select").
type Select struct {
	base
	CommandTopic string   `json:"command_topic"`
	Options      []string `json:"options"`
}

func NewSelect(availabilityTopic string, dev Device, name, stateTopic, uniqueID, commandTopic string, options []string) Select {
	return Select{base: newBase(availabilityTopic, dev, name, stateTopic, uniqueID), CommandTopic: commandTopic, Options: options}
}

// Number is a Modbus-backed HA number entity, for writable numeric
// derived/primary entities.
type Number struct {
	base
	CommandTopic string  `json:"command_topic"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Step         float64 `json:"step"`
}

func NewNumber(availabilityTopic string, dev Device, name, stateTopic, uniqueID, commandTopic string, min, max, step float64) Number {
	return Number{base: newBase(availabilityTopic, dev, name, stateTopic, uniqueID), CommandTopic: commandTopic, Min: min, Max: max, Step: step}
}

// Topic builds a discovery config topic
// "<ha_prefix>/<ha_type>/<topic_prefix><id>/<object_id>/config".
func Topic(haPrefix, haType, topicPrefix, id, objectID string) string {
	return fmt.Sprintf("%s/%s/%s%s/%s/config", haPrefix, haType, topicPrefix, id, objectID)
}

// Marshal renders a payload the same way json.Marshal would but is kept as
// a named entry point so callers don't need to import encoding/json
// themselves, matching mqttbus.encode's "JSON unless already bytes/string"
// convention.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}
