package discovery

import (
	"encoding/json"
	"testing"
)

func TestSwitchPayloadOmitsAbsentOptionalFields(t *testing.T) {
	dev := NewDevice("boneio-01", "BeagleBone", "kitchen")
	sw := NewSwitch("boneio/availability", dev, "Kitchen Light", "boneio/relay/relay.one", "boneio-relay.one", "boneio/relay/relay.one/set")

	data, err := Marshal(sw)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, absent := range []string{"device_class", "unit_of_measurement", "state_class", "entity_category", "optimistic"} {
		if _, ok := raw[absent]; ok {
			t.Fatalf("expected %q to be omitted entirely, found %v", absent, raw[absent])
		}
	}
	if raw["command_topic"] != "boneio/relay/relay.one/set" {
		t.Fatalf("unexpected command_topic: %v", raw["command_topic"])
	}
	if raw["payload_on"] != "ON" || raw["payload_off"] != "OFF" {
		t.Fatalf("unexpected payload_on/off: %v / %v", raw["payload_on"], raw["payload_off"])
	}
}

func TestSensorPayloadIncludesProvidedOptionalFields(t *testing.T) {
	dev := NewDevice("boneio-01", "BeagleBone", "kitchen")
	s := NewSensor("boneio/availability", dev, "Voltage", "boneio/inverter/state", "boneio-voltage", "V", "voltage", "measurement")

	data, err := Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["unit_of_measurement"] != "V" || raw["device_class"] != "voltage" || raw["state_class"] != "measurement" {
		t.Fatalf("expected provided optional fields to be present, got %v", raw)
	}
}

func TestCoverPayloadOmitsTiltFieldsUnlessSet(t *testing.T) {
	dev := NewDevice("boneio-01", "BeagleBone", "kitchen")
	c := NewCover("boneio/availability", dev, "Blinds", "boneio/cover/cover.one/state", "boneio-cover.one", "boneio/cover/cover.one/set")

	data, err := Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, absent := range []string{"tilt_status_topic", "tilt_command_topic", "position_topic", "set_position_topic"} {
		if _, ok := raw[absent]; ok {
			t.Fatalf("expected %q to be omitted before WithTilt/WithPosition, got %v", absent, raw[absent])
		}
	}

	withTilt := c.WithTilt("boneio/cover/cover.one/tilt", "boneio/cover/cover.one/tilt/set")
	data, err = Marshal(withTilt)
	if err != nil {
		t.Fatal(err)
	}
	raw = map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["tilt_status_topic"] != "boneio/cover/cover.one/tilt" {
		t.Fatalf("expected tilt_status_topic to be present after WithTilt, got %v", raw["tilt_status_topic"])
	}
}

func TestTopicBuildsDiscoveryConfigPath(t *testing.T) {
	got := Topic("homeassistant", "switch", "boneio/", "relay.one", "state")
	want := "homeassistant/switch/boneio/relay.one/state/config"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
