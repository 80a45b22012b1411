// Package bus implements boneIO's typed event bus and the cooperative
// scheduler built on top of it. A single worker goroutine drains the
// event queue and calls listeners in the order their events were emitted;
// listener panics/errors are logged and never propagate, matching the
// source's single-consumer asyncio queue.
package bus

import (
	"context"
	"sync"
	"time"

	"boneio/internal/model"
	"boneio/internal/xlog"
)

var log = xlog.New("bus")

// EventType discriminates the event payload, matching the five variants in
// the DATA MODEL plus Host.
type EventType string

const (
	EventInput        EventType = "INPUT"
	EventOutput       EventType = "OUTPUT"
	EventCover        EventType = "COVER"
	EventSensor       EventType = "SENSOR"
	EventModbusDevice EventType = "MODBUS_DEVICE"
	EventHost         EventType = "HOST"
)

// Event is the envelope placed on the queue. Payload is one of the model
// package's *State structs, or nil for EventHost.
type Event struct {
	Type     EventType
	EntityID string
	Payload  any
}

// InputPayload, OutputPayload, CoverPayload and SensorPayload are small
// helpers for listeners that only care about one event shape.
func InputPayload(e Event) (model.InputState, bool) {
	s, ok := e.Payload.(model.InputState)
	return s, ok
}

func OutputPayload(e Event) (model.OutputState, bool) {
	s, ok := e.Payload.(model.OutputState)
	return s, ok
}

func CoverPayload(e Event) (model.CoverState, bool) {
	s, ok := e.Payload.(model.CoverState)
	return s, ok
}

func SensorPayload(e Event) (model.SensorState, bool) {
	s, ok := e.Payload.(model.SensorState)
	return s, ok
}

// Listener receives a dispatched event. It must not block for long: the bus
// has only one worker.
type Listener func(Event)

type listenerKey struct {
	evtType EventType
	entity  string
}

// Bus is the composition root's single event bus instance.
type Bus struct {
	mu            sync.Mutex
	listeners     map[EventType]map[string]map[string]Listener
	listenerIndex map[string][]listenerKey

	everySecondMu sync.Mutex
	everySecond   map[string]func()

	sigtermMu sync.Mutex
	sigterm   []func()

	haOnlineMu sync.Mutex
	haOnline   []func()

	queue chan Event
}

// New creates an empty bus. Call Run in a goroutine (or via an errgroup) to
// start the worker and the 1 Hz tick.
func New() *Bus {
	return &Bus{
		listeners: map[EventType]map[string]map[string]Listener{
			EventInput: {}, EventOutput: {}, EventCover: {},
			EventSensor: {}, EventModbusDevice: {}, EventHost: {},
		},
		listenerIndex: map[string][]listenerKey{},
		everySecond:   map[string]func(){},
		queue:         make(chan Event, 256),
	}
}

// Run drains the event queue and drives the 1 Hz tick until ctx is
// cancelled. It is meant to be run as one goroutine in the manager's
// errgroup.
func (b *Bus) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-b.queue:
			b.dispatch(evt)
		case <-ticker.C:
			b.runEverySecond()
		}
	}
}

// wildcardEntity is the empty entity id: listeners registered against it
// receive every event of that type, regardless of entity. The UI hub uses
// this to subscribe to the whole bus with one listener id per connection.
const wildcardEntity = ""

func (b *Bus) dispatch(evt Event) {
	b.mu.Lock()
	byEntity := b.listeners[evt.Type][evt.EntityID]
	cp := make([]Listener, 0, len(byEntity))
	for _, l := range byEntity {
		cp = append(cp, l)
	}
	if evt.EntityID != wildcardEntity {
		for _, l := range b.listeners[evt.Type][wildcardEntity] {
			cp = append(cp, l)
		}
	}
	// copy to avoid holding the lock during listener calls, and to avoid a
	// listener mutating the map mid-iteration (e.g. UI unsubscribe).
	b.mu.Unlock()

	for _, l := range cp {
		safeCall(l, evt)
	}
}

func safeCall(l Listener, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("listener panic for %s/%s: %v", evt.Type, evt.EntityID, r)
		}
	}()
	l(evt)
}

func (b *Bus) runEverySecond() {
	b.everySecondMu.Lock()
	cbs := make([]func(), 0, len(b.everySecond))
	for _, fn := range b.everySecond {
		cbs = append(cbs, fn)
	}
	b.everySecondMu.Unlock()
	for _, fn := range cbs {
		go safeCallVoid(fn)
	}
}

func safeCallVoid(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("every-second listener panic: %v", r)
		}
	}()
	fn()
}

// Trigger enqueues an event for asynchronous dispatch. Never blocks the
// caller beyond the channel send (the queue is generously buffered; a full
// queue indicates a stuck listener, which is a bug to fix, not paper over).
func (b *Bus) Trigger(evt Event) {
	select {
	case b.queue <- evt:
	default:
		log.Error("event queue full, dropping %s/%s", evt.Type, evt.EntityID)
	}
}

// AddEventListener registers target under (eventType, entityID, listenerID).
// listenerID is typically a group id or the UI connection id, letting all
// of one consumer's subscriptions be removed in one RemoveEventListener
// call.
func (b *Bus) AddEventListener(evtType EventType, entityID, listenerID string, target Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listeners[evtType][entityID] == nil {
		b.listeners[evtType][entityID] = map[string]Listener{}
	}
	b.listeners[evtType][entityID][listenerID] = target
	b.listenerIndex[listenerID] = append(b.listenerIndex[listenerID], listenerKey{evtType, entityID})
}

// RemoveEventListener removes registrations for listenerID, optionally
// filtered by eventType and entityID. With only listenerID set, every
// subscription the listener holds is removed (the UI-disconnect case).
func (b *Bus) RemoveEventListener(evtType *EventType, entityID *string, listenerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys, ok := b.listenerIndex[listenerID]
	if !ok {
		return
	}
	remaining := keys[:0]
	for _, k := range keys {
		if evtType != nil && k.evtType != *evtType {
			remaining = append(remaining, k)
			continue
		}
		if entityID != nil && k.entity != *entityID {
			remaining = append(remaining, k)
			continue
		}
		if m, ok := b.listeners[k.evtType][k.entity]; ok {
			delete(m, listenerID)
			if len(m) == 0 {
				delete(b.listeners[k.evtType], k.entity)
			}
		}
	}
	if len(remaining) == 0 {
		delete(b.listenerIndex, listenerID)
	} else {
		b.listenerIndex[listenerID] = remaining
	}
}

// AddEverySecondListener registers a named 1 Hz callback.
func (b *Bus) AddEverySecondListener(name string, target func()) {
	b.everySecondMu.Lock()
	defer b.everySecondMu.Unlock()
	b.everySecond[name] = target
}

func (b *Bus) RemoveEverySecondListener(name string) {
	b.everySecondMu.Lock()
	defer b.everySecondMu.Unlock()
	delete(b.everySecond, name)
}

// AddSigtermListener registers a shutdown hook, invoked in registration
// order by RunSigtermChain.
func (b *Bus) AddSigtermListener(target func()) {
	b.sigtermMu.Lock()
	defer b.sigtermMu.Unlock()
	b.sigterm = append(b.sigterm, target)
}

// RunSigtermChain invokes every registered shutdown hook, logging but not
// stopping on individual failures, then returns once all have run.
func (b *Bus) RunSigtermChain() {
	b.sigtermMu.Lock()
	targets := append([]func(){}, b.sigterm...)
	b.sigtermMu.Unlock()
	log.Info("running sigterm chain (%d listeners)", len(targets))
	for _, t := range targets {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("sigterm listener panic: %v", r)
				}
			}()
			t()
		}()
	}
}

// AddHAOnlineListener registers a callback invoked when
// homeassistant/status=online is observed.
func (b *Bus) AddHAOnlineListener(target func()) {
	b.haOnlineMu.Lock()
	defer b.haOnlineMu.Unlock()
	b.haOnline = append(b.haOnline, target)
}

func (b *Bus) SignalHAOnline() {
	b.haOnlineMu.Lock()
	targets := append([]func(){}, b.haOnline...)
	b.haOnlineMu.Unlock()
	for _, t := range targets {
		t()
	}
}

// RunPeriodic implements the periodic-refresh utility: it calls
// fn(now) on a period that starts at initial, sleeps until the next tick,
// and on repeated "not ok" results grows the interval by x1.5 (capped at
// 600s), invoking onOffline once the cap is reached. Returns when ctx is
// cancelled.
func RunPeriodic(ctx context.Context, initial time.Duration, fn func(now time.Time) bool, onOffline func()) {
	const cap_ = 600 * time.Second
	interval := initial
	offline := false
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-timer.C:
			ok := fn(now)
			if ok {
				interval = initial
				offline = false
			} else if interval < cap_ {
				interval = time.Duration(float64(interval) * 1.5)
				if interval > cap_ {
					interval = cap_
				}
			} else if !offline {
				offline = true
				if onOffline != nil {
					onOffline()
				}
			}
			timer.Reset(interval)
		}
	}
}
