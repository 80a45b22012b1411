// Package input implements boneIO's two input classifiers: the
// "new" single/double/long click state machine and the "old" plain
// pressed/released binary sensor, both fed by debounced GPIO edges from
// internal/gpioline.
package input

import (
	"sync"
	"time"

	"boneio/internal/bus"
	"boneio/internal/gpioline"
	"boneio/internal/model"
	"boneio/internal/xlog"
)

var log = xlog.New("input")

// Timings fixed by the source (DOUBLE_CLICK_DURATION_MS / LONG_PRESS_DURATION_MS).
const (
	DoubleClickWindow = 220 * time.Millisecond
	LongPressDuration = 400 * time.Millisecond
)

// PressHandler is invoked with the classified click. duration is non-nil
// for long presses (time held) and for "old" RELEASED events that follow an
// observed press.
type PressHandler func(click model.ClickType, duration *float64)

// NewClickInput implements the "new" classifier: a single press starts a
// double-click window; a second press inside it fires DOUBLE; if the
// window expires with exactly one press it fires SINGLE; holding past
// LongPressDuration fires LONG and cancels the pending single/double,
// mirroring GpioEventButtonNew.check_state in the source.
type NewClickInput struct {
	name    string
	line    *gpioline.Line
	bounce  time.Duration
	invert  bool
	onPress PressHandler

	mu               sync.Mutex
	pressed          bool
	lastEdge         time.Time
	pressedAt        time.Time
	doubleTimer      *time.Timer
	longTimer        *time.Timer
	doublePossible   bool
}

// NewClickInputConfig carries the per-pin settings from the config file.
type NewClickInputConfig struct {
	Name        string
	BounceTime  time.Duration
	Invert      bool // some boards wire the button normally-closed
}

func NewNewClickInput(line *gpioline.Line, cfg NewClickInputConfig, onPress PressHandler) *NewClickInput {
	in := &NewClickInput{
		name:    cfg.Name,
		line:    line,
		bounce:  cfg.BounceTime,
		invert:  cfg.Invert,
		onPress: onPress,
	}
	if in.bounce <= 0 {
		in.bounce = 50 * time.Millisecond
	}
	return in
}

// Start arms edge detection on the underlying line.
func (in *NewClickInput) Start() error {
	return in.line.RegisterEdgeCallback(gpioline.BothEdges, in.bounce, in.onEdge)
}

func (in *NewClickInput) isPressed(level bool) bool {
	if in.invert {
		return !level
	}
	return level
}

func (in *NewClickInput) onEdge(level bool, now time.Time) {
	in.mu.Lock()
	defer in.mu.Unlock()

	pressed := in.isPressed(level)
	in.pressed = pressed

	if pressed {
		in.pressedAt = now
		if in.doublePossible {
			in.fireDoubleLocked()
			return
		}
		in.doublePossible = true
		in.armLongLocked()
		in.armDoubleLocked()
		return
	}

	// released: cancel the long-press timer, the double-click window keeps
	// running so a second press can still land inside it.
	if in.longTimer != nil {
		in.longTimer.Stop()
	}
}

func (in *NewClickInput) armDoubleLocked() {
	if in.doubleTimer != nil {
		in.doubleTimer.Stop()
	}
	in.doubleTimer = time.AfterFunc(DoubleClickWindow, in.onDoubleWindowExpired)
}

func (in *NewClickInput) armLongLocked() {
	if in.longTimer != nil {
		in.longTimer.Stop()
	}
	pressedAt := in.pressedAt
	in.longTimer = time.AfterFunc(LongPressDuration, func() { in.onLongPress(pressedAt) })
}

func (in *NewClickInput) onDoubleWindowExpired() {
	in.mu.Lock()
	stillIdle := in.doublePossible && !in.pressed
	in.doublePossible = false
	in.mu.Unlock()
	if stillIdle {
		log.Debug("%s: single click", in.name)
		in.onPress(model.ClickSingle, nil)
	}
}

func (in *NewClickInput) fireDoubleLocked() {
	in.doublePossible = false
	if in.doubleTimer != nil {
		in.doubleTimer.Stop()
	}
	log.Debug("%s: double click", in.name)
	in.onPress(model.ClickDouble, nil)
}

func (in *NewClickInput) onLongPress(pressedAt time.Time) {
	in.mu.Lock()
	if !in.pressed {
		in.mu.Unlock()
		return
	}
	in.doublePossible = false
	if in.doubleTimer != nil {
		in.doubleTimer.Stop()
	}
	in.mu.Unlock()

	duration := time.Since(pressedAt).Seconds()
	log.Debug("%s: long press, duration %.3fs", in.name, duration)
	in.onPress(model.ClickLong, &duration)
}

// BinarySensorInput implements the "old" classifier: it reports PRESSED and
// RELEASED directly with no click windows, optionally sending an initial
// state at startup.
type BinarySensorInput struct {
	name        string
	line        *gpioline.Line
	bounce      time.Duration
	invert      bool
	onPress     PressHandler

	mu        sync.Mutex
	pressedAt time.Time
}

type BinarySensorConfig struct {
	Name         string
	BounceTime   time.Duration
	Invert       bool
	InitialSend  bool
}

func NewBinarySensorInput(line *gpioline.Line, cfg BinarySensorConfig, onPress PressHandler) *BinarySensorInput {
	in := &BinarySensorInput{name: cfg.Name, line: line, bounce: cfg.BounceTime, invert: cfg.Invert, onPress: onPress}
	if in.bounce <= 0 {
		in.bounce = 50 * time.Millisecond
	}
	if cfg.InitialSend {
		level := line.Read()
		in.report(in.isPressed(level), time.Now())
	}
	return in
}

func (in *BinarySensorInput) Start() error {
	return in.line.RegisterEdgeCallback(gpioline.BothEdges, in.bounce, in.onEdge)
}

func (in *BinarySensorInput) isPressed(level bool) bool {
	if in.invert {
		return !level
	}
	return level
}

func (in *BinarySensorInput) onEdge(level bool, now time.Time) {
	in.report(in.isPressed(level), now)
}

func (in *BinarySensorInput) report(pressed bool, now time.Time) {
	if pressed {
		in.mu.Lock()
		in.pressedAt = now
		in.mu.Unlock()
		in.onPress(model.ClickPressed, nil)
		return
	}
	in.mu.Lock()
	started := in.pressedAt
	in.mu.Unlock()
	var duration *float64
	if !started.IsZero() {
		d := now.Sub(started).Seconds()
		duration = &d
	}
	in.onPress(model.ClickReleased, duration)
}

// PublishState emits an InputState event on the bus, used by both
// classifiers' manager-level wiring.
func PublishState(b *bus.Bus, id, name string, state model.ClickType, duration *float64) {
	b.Trigger(bus.Event{
		Type:     bus.EventInput,
		EntityID: id,
		Payload: model.InputState{
			ID:        id,
			Name:      name,
			State:     string(state),
			Duration:  duration,
			Timestamp: float64(time.Now().UnixNano()) / 1e9,
		},
	})
}
