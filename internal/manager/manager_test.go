package manager

import (
	"context"
	"testing"
	"time"

	"boneio/internal/bus"
	"boneio/internal/config"
	"boneio/internal/cover"
	"boneio/internal/modbuscoord"
	"boneio/internal/model"
	"boneio/internal/mqttbus"
	"boneio/internal/relay"
)

type fakeDriver struct{}

func (fakeDriver) Set(on bool) error { return nil }

func newTestManager(t *testing.T) (*Manager, *relay.Relay, *bus.Bus, mqttbus.MessageBus) {
	t.Helper()
	b := bus.New()
	go b.Run(context.Background())
	mb := mqttbus.NewLocalBus()

	r := relay.New(relay.Config{ID: "relay.one", OutputType: "switch"}, fakeDriver{}, b, mb, "boneio", nil, nil)

	m := &Manager{
		cfg:     &config.Config{MQTT: config.MQTT{TopicPrefix: "boneio"}},
		bus:     b,
		mqtt:    mb,
		outputs: map[string]*relay.Relay{"relay.one": r},
		groups:  map[string]*relay.Group{},
		covers:  map[string]cover.Cover{},
		modbus:  map[string]*modbuscoord.Coordinator{},
	}
	return m, r, b, mb
}

func TestHandleRelayCommandSet(t *testing.T) {
	m, r, _, _ := newTestManager(t)

	m.handleRelayCommand("relay.one", "set", "ON")
	time.Sleep(20 * time.Millisecond)
	if r.State() != model.StateON {
		t.Fatalf("expected ON, got %v", r.State())
	}

	m.handleRelayCommand("relay.one", "set", "OFF")
	time.Sleep(20 * time.Millisecond)
	if r.State() != model.StateOFF {
		t.Fatalf("expected OFF, got %v", r.State())
	}

	m.handleRelayCommand("relay.one", "set", "TOGGLE")
	time.Sleep(20 * time.Millisecond)
	if r.State() != model.StateON {
		t.Fatalf("expected toggled ON, got %v", r.State())
	}
}

func TestHandleRelayCommandUnknownIDIsIgnored(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	m.handleRelayCommand("relay.missing", "set", "ON")
}

func TestHandleCommandRoutesByTopicShape(t *testing.T) {
	m, r, _, _ := newTestManager(t)

	m.handleCommand("boneio/cmd/relay/relay.one/set", []byte("ON"))
	time.Sleep(20 * time.Millisecond)
	if r.State() != model.StateON {
		t.Fatalf("expected the command topic to route to relay.one, got %v", r.State())
	}
}

func TestHandleCommandIgnoresMalformedTopic(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	m.handleCommand("boneio/cmd/relay/relay.one", []byte("ON")) // missing the command segment
	m.handleCommand("some/other/prefix/relay/relay.one/set", []byte("ON"))
}

func TestHandleGroupCommandToggle(t *testing.T) {
	m, r, _, _ := newTestManager(t)
	g := relay.NewGroup("group.1", "group", []*relay.Relay{r})
	m.groups["group.1"] = g

	m.handleGroupCommand("group.1", "set", "ON")
	if g.State() != model.StateON {
		t.Fatalf("expected group ON, got %v", g.State())
	}
	m.handleGroupCommand("group.1", "set", "TOGGLE")
	if g.State() != model.StateOFF {
		t.Fatalf("expected group toggled OFF, got %v", g.State())
	}
}
