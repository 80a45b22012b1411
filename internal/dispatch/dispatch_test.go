package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"boneio/internal/bus"
	"boneio/internal/cover"
	"boneio/internal/model"
	"boneio/internal/mqttbus"
	"boneio/internal/relay"
)

type recordingBus struct {
	mu    sync.Mutex
	sends []sendCall
}

type sendCall struct {
	topic   string
	payload any
	retain  bool
}

func (r *recordingBus) Send(topic string, payload any, retain bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, sendCall{topic, payload, retain})
}
func (r *recordingBus) Subscribe(string, func(string, []byte))       {}
func (r *recordingBus) Unsubscribe(string)                           {}
func (r *recordingBus) SubscribeOnce(string, func([]byte))           {}
func (r *recordingBus) IsConnectionEstablished() bool                { return true }
func (r *recordingBus) AddAutodiscoveryMessage(mqttbus.AutoDiscoveryMessage) {}
func (r *recordingBus) Retire(string)                                {}
func (r *recordingBus) Close()                                       {}

func (r *recordingBus) snapshot() []sendCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sendCall, len(r.sends))
	copy(out, r.sends)
	return out
}

type fakeCover struct {
	mu   sync.Mutex
	last string
}

func (c *fakeCover) ID() string { return "cover.fake" }
func (c *fakeCover) call(name string) {
	c.mu.Lock()
	c.last = name
	c.mu.Unlock()
}
func (c *fakeCover) Open()               { c.call("open") }
func (c *fakeCover) Close()              { c.call("close") }
func (c *fakeCover) Stop()               { c.call("stop") }
func (c *fakeCover) Toggle()             { c.call("toggle") }
func (c *fakeCover) ToggleOpen()         { c.call("toggle_open") }
func (c *fakeCover) ToggleClose()        { c.call("toggle_close") }
func (c *fakeCover) SetPosition(int)     { c.call("set_position") }
func (c *fakeCover) OpenTilt()           { c.call("tilt_open") }
func (c *fakeCover) CloseTilt()          { c.call("tilt_close") }
func (c *fakeCover) StopTilt()           { c.call("stop_tilt") }
func (c *fakeCover) SetTilt(int)         { c.call("set_tilt") }

func (c *fakeCover) lastCall() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

type fakeDriver struct{}

func (fakeDriver) Set(on bool) error { return nil }

func TestDispatchRunsOutputAction(t *testing.T) {
	b := bus.New()
	go b.Run(context.Background())
	mb := mqttbus.NewLocalBus()
	r := relay.New(relay.Config{ID: "relay.one", OutputType: "switch"}, fakeDriver{}, b, mb, "boneio", nil, nil)

	d := New(Registries{Outputs: map[string]*relay.Relay{"relay.one": r}}, mb, "boneio")
	d.Configure("gpio1", model.ClickSingle, []Action{{Kind: ActionOutput, OutputTarget: "relay.one", OutputOp: "on"}}, false)

	d.Dispatch("gpio1", model.ClickSingle, nil)
	time.Sleep(50 * time.Millisecond)

	if r.State() != model.StateON {
		t.Fatalf("expected relay.one to be ON, got %v", r.State())
	}
}

func TestDispatchRunsCoverAction(t *testing.T) {
	rec := &recordingBus{}
	c := &fakeCover{}
	d := New(Registries{Covers: map[string]cover.Cover{"cover.one": c}}, rec, "boneio")
	d.Configure("gpio2", model.ClickSingle, []Action{{Kind: ActionCover, CoverTarget: "cover.one", CoverOp: "open"}}, false)

	d.Dispatch("gpio2", model.ClickSingle, nil)

	if got := c.lastCall(); got != "open" {
		t.Fatalf("expected the cover's Open to have run, got %q", got)
	}
}

func TestDispatchRunsTiltActionWhenCoverSupportsIt(t *testing.T) {
	rec := &recordingBus{}
	c := &fakeCover{}
	d := New(Registries{Covers: map[string]cover.Cover{"cover.one": c}}, rec, "boneio")
	d.Configure("gpio3", model.ClickDouble, []Action{{Kind: ActionCover, CoverTarget: "cover.one", CoverOp: "tilt_open"}}, false)

	d.Dispatch("gpio3", model.ClickDouble, nil)

	if got := c.lastCall(); got != "tilt_open" {
		t.Fatalf("expected the cover's OpenTilt to have run, got %q", got)
	}
}

func TestDispatchPublishesInputTopicWithClearMessage(t *testing.T) {
	rec := &recordingBus{}
	d := New(Registries{}, rec, "boneio")
	d.Configure("gpio1", model.ClickSingle, nil, true)

	d.Dispatch("gpio1", model.ClickSingle, nil)

	time.Sleep(250 * time.Millisecond)

	sends := rec.snapshot()
	if len(sends) != 2 {
		t.Fatalf("expected an initial publish plus a clear, got %d: %+v", len(sends), sends)
	}
	if sends[0].topic != "boneio/input/gpio1" {
		t.Fatalf("unexpected topic: %s", sends[0].topic)
	}
	if sends[1].payload != "" || !sends[1].retain {
		t.Fatalf("expected the clear message to be a retained empty payload, got %+v", sends[1])
	}
}

func TestDispatchPublishesDurationForLongPress(t *testing.T) {
	rec := &recordingBus{}
	d := New(Registries{}, rec, "boneio")

	duration := 0.75
	d.Dispatch("gpio1", model.ClickLong, &duration)

	sends := rec.snapshot()
	if len(sends) != 1 {
		t.Fatalf("expected one publish, got %d", len(sends))
	}
	body, ok := sends[0].payload.(map[string]any)
	if !ok {
		t.Fatalf("expected a structured payload for a non pressed/released click, got %T", sends[0].payload)
	}
	if body["event_type"] != "long" || body["duration"] != 0.75 {
		t.Fatalf("unexpected payload: %+v", body)
	}
}

func TestDispatchPublishesBarePressedReleasedString(t *testing.T) {
	rec := &recordingBus{}
	d := New(Registries{}, rec, "boneio")

	d.Dispatch("gpio1", model.ClickPressed, nil)

	sends := rec.snapshot()
	if len(sends) != 1 || sends[0].payload != "pressed" {
		t.Fatalf("expected a bare \"pressed\" payload, got %+v", sends)
	}
}
