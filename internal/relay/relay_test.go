package relay

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"boneio/internal/bus"
	"boneio/internal/model"
	"boneio/internal/mqttbus"
	"boneio/internal/state"
)

type fakeDriver struct {
	mu    sync.Mutex
	calls []bool
}

func (d *fakeDriver) Set(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, on)
	return nil
}

func (d *fakeDriver) lastCall() (bool, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.calls) == 0 {
		return false, 0
	}
	return d.calls[len(d.calls)-1], len(d.calls)
}

func newTestBus() *bus.Bus {
	b := bus.New()
	go b.Run(context.Background())
	return b
}

func TestRelayTurnOnPublishesRetainedState(t *testing.T) {
	mb := mqttbus.NewLocalBus()
	driver := &fakeDriver{}
	r := New(Config{ID: "relay.one", Name: "one", OutputType: "switch"}, driver, newTestBus(), mb, "boneio", nil, nil)

	var got []byte
	done := make(chan struct{}, 1)
	mb.Subscribe("boneio/relay/relay.one", func(topic string, payload []byte) {
		got = payload
		select {
		case done <- struct{}{}:
		default:
		}
	})

	if err := r.TurnOn(); err != nil {
		t.Fatalf("TurnOn: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("never received a published state")
	}

	on, calls := driver.lastCall()
	if !on || calls != 1 {
		t.Fatalf("expected exactly one driver.Set(true), got %v calls=%d", on, calls)
	}

	var payload map[string]string
	if err := json.Unmarshal(got, &payload); err != nil {
		t.Fatalf("published payload is not json: %v", err)
	}
	if payload["state"] != "ON" {
		t.Fatalf("expected state=ON, got %v", payload)
	}
}

func TestRelayInterlockDenyPublishesOptimisticThenTrueState(t *testing.T) {
	mb := mqttbus.NewLocalBus()
	group := NewInterlocks()
	driverA := &fakeDriver{}
	driverB := &fakeDriver{}
	b := newTestBus()

	a := New(Config{ID: "relay.a", OutputType: "switch", InterlockGroups: []string{"g1"}}, driverA, b, mb, "boneio", group, nil)
	bRelay := New(Config{ID: "relay.b", OutputType: "switch", InterlockGroups: []string{"g1"}}, driverB, b, mb, "boneio", group, nil)

	if err := a.TurnOn(); err != nil {
		t.Fatalf("turning on the first relay of an empty group should succeed: %v", err)
	}

	var mu sync.Mutex
	var states []string
	settled := make(chan struct{})
	mb.Subscribe("boneio/relay/relay.b", func(topic string, payload []byte) {
		var p map[string]string
		_ = json.Unmarshal(payload, &p)
		mu.Lock()
		states = append(states, p["state"])
		if len(states) == 2 {
			close(settled)
		}
		mu.Unlock()
	})

	err := bRelay.TurnOn()
	if err == nil {
		t.Fatal("expected interlock denial error")
	}

	select {
	case <-settled:
	case <-time.After(time.Second):
		t.Fatal("expected two published states (optimistic ON, then true OFF)")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 || states[0] != "ON" || states[1] != "OFF" {
		t.Fatalf("expected [ON OFF], got %v", states)
	}

	on, calls := driverB.lastCall()
	if calls != 0 || on {
		t.Fatalf("hardware must never energize on interlock denial, got calls=%d on=%v", calls, on)
	}
}

func TestRelayMomentaryTurnOnSchedulesAutoOff(t *testing.T) {
	mb := mqttbus.NewLocalBus()
	driver := &fakeDriver{}
	r := New(Config{ID: "relay.one", OutputType: "switch", MomentaryTurnOn: 30 * time.Millisecond}, driver, newTestBus(), mb, "boneio", nil, nil)

	if err := r.TurnOn(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	if r.State() != model.StateOFF {
		t.Fatalf("expected the momentary timer to auto turn off, state is %v", r.State())
	}
}

func TestRelayPersistsStateWhenRestoreEnabled(t *testing.T) {
	mb := mqttbus.NewLocalBus()
	driver := &fakeDriver{}
	path := filepath.Join(t.TempDir(), "state.json")
	saver, err := state.Load(path)
	if err != nil {
		t.Fatal(err)
	}

	r := New(Config{ID: "relay.one", OutputType: "switch", RestoreEnabled: true}, driver, newTestBus(), mb, "boneio", nil, saver)
	if err := r.TurnOn(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if on, ok := saver.RelayState("relay.one"); ok && on {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected relay.one=true to be persisted into the state manager")
}

func TestRelayDoesNotPersistWhenRestoreDisabled(t *testing.T) {
	mb := mqttbus.NewLocalBus()
	driver := &fakeDriver{}
	path := filepath.Join(t.TempDir(), "state.json")
	saver, err := state.Load(path)
	if err != nil {
		t.Fatal(err)
	}

	r := New(Config{ID: "relay.one", OutputType: "switch"}, driver, newTestBus(), mb, "boneio", nil, saver)
	if err := r.TurnOn(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	if _, ok := saver.RelayState("relay.one"); ok {
		t.Fatal("expected no persisted state when RestoreEnabled is false")
	}
}

func TestVirtualEnergyPublishesPowerAndEnergyAsJSONNumbers(t *testing.T) {
	mb := mqttbus.NewLocalBus()
	power := 100.0
	r := New(Config{ID: "relay.one", OutputType: "switch", VirtualPowerUsage: &power}, &fakeDriver{}, newTestBus(), mb, "boneio", nil, nil)

	var got map[string]any
	done := make(chan struct{}, 1)
	mb.Subscribe("boneio/energy/relay.one", func(topic string, payload []byte) {
		_ = json.Unmarshal(payload, &got)
		select {
		case done <- struct{}{}:
		default:
		}
	})

	if err := r.TurnOn(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected a virtual energy publish on TurnOn")
	}
	if _, ok := got["power"].(float64); !ok {
		t.Fatalf("expected power to be a JSON number, got %#v", got["power"])
	}
	if got["power"].(float64) != power {
		t.Fatalf("expected power=%v while ON, got %v", power, got["power"])
	}
	if _, ok := got["energy"].(float64); !ok {
		t.Fatalf("expected energy to be a JSON number, got %#v", got["energy"])
	}

	if err := r.TurnOff(); err != nil {
		t.Fatal(err)
	}
	if got["power"].(float64) != 0 {
		t.Fatalf("expected power=0 once OFF, got %v", got["power"])
	}
}

func TestVirtualEnergyRestoresAndAddsToPriorTotal(t *testing.T) {
	mb := mqttbus.NewLocalBus()
	mb.Send("boneio/energy/relay.one", map[string]float64{"energy": 123.4}, true)

	power := 3600.0 // Wh/h = W, so 1s ON adds ~1 Wh
	r := New(Config{ID: "relay.one", OutputType: "switch", VirtualPowerUsage: &power}, &fakeDriver{}, newTestBus(), mb, "boneio", nil, nil)

	var mu sync.Mutex
	var last map[string]any
	mb.Subscribe("boneio/energy/relay.one", func(topic string, payload []byte) {
		mu.Lock()
		_ = json.Unmarshal(payload, &last)
		mu.Unlock()
	})

	if err := r.TurnOn(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := r.TurnOff(); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if last == nil {
		t.Fatal("expected a published virtual energy state")
	}
	energy, _ := last["energy"].(float64)
	if energy < 123.4 {
		t.Fatalf("expected the restored prior total to be preserved and added to, got %v", energy)
	}
}

func TestGroupStateIsOnIfAnyMemberOn(t *testing.T) {
	mb := mqttbus.NewLocalBus()
	b := newTestBus()
	a := New(Config{ID: "relay.a", OutputType: "switch"}, &fakeDriver{}, b, mb, "boneio", nil, nil)
	bb := New(Config{ID: "relay.b", OutputType: "switch"}, &fakeDriver{}, b, mb, "boneio", nil, nil)
	g := NewGroup("group.1", "group", []*Relay{a, bb})

	if g.State() != model.StateOFF {
		t.Fatalf("expected OFF with no members active, got %v", g.State())
	}
	if err := a.TurnOn(); err != nil {
		t.Fatal(err)
	}
	if g.State() != model.StateON {
		t.Fatalf("expected ON with one member active, got %v", g.State())
	}
}
