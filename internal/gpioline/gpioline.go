// Package gpioline implements boneIO's GPIO driver abstraction: line
// configuration, level reads and debounced edge callbacks, built on
// periph.io/x/conn/v3's gpio package and periph.io/x/host/v3's BeagleBone
// header registration (the same stack seedhammer-seedhammer uses for its
// button/joystick driver).
package gpioline

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"boneio/internal/boneerr"
	"boneio/internal/xlog"
)

var log = xlog.New("gpioline")

// Pull mirrors the configured pull direction from the config file
// ("gpio_pu", "gpio_pd", "gpio_input", ...).
type Pull int

const (
	PullUp Pull = iota
	PullDown
	PullNone
)

func (p Pull) toPeriph() gpio.Pull {
	switch p {
	case PullUp:
		return gpio.PullUp
	case PullDown:
		return gpio.PullDown
	default:
		return gpio.PullNoChange
	}
}

// Edges selects which transitions register_edge_callback watches.
type Edges int

const (
	RisingEdge Edges = iota
	FallingEdge
	BothEdges
)

func (e Edges) toPeriph() gpio.Edge {
	switch e {
	case RisingEdge:
		return gpio.RisingEdge
	case FallingEdge:
		return gpio.FallingEdge
	default:
		return gpio.BothEdges
	}
}

// EdgeHandler is invoked on the line's dedicated driver goroutine for each
// edge that passes the software debounce check. It must not block; long
// work belongs on the scheduler.
type EdgeHandler func(level bool, at time.Time)

// Driver owns the process-wide periph host initialization and resolves
// header pin names ("P8_11", "P9_12", ...) to gpio.PinIO handles.
type Driver struct {
	once sync.Once
	err  error
}

func NewDriver() *Driver { return &Driver{} }

func (d *Driver) ensureInit() error {
	d.once.Do(func() {
		if _, err := host.Init(); err != nil {
			d.err = fmt.Errorf("%w: periph host init: %v", boneerr.ErrGPIOInput, err)
		}
	})
	return d.err
}

// Line is one configured GPIO line.
type Line struct {
	name string
	pin  gpio.PinIO

	mu        sync.Mutex
	lastState bool
	lastEdge  time.Time
	stop      chan struct{}
}

// Configure resolves name (a BeagleBone header pin, e.g. "P8_11") and sets
// it as an input with the given pull. An unresolvable or unconfigurable pin
// returns ErrGPIOInput; the caller skips that input and continues.
func (d *Driver) Configure(name string, pull Pull) (*Line, error) {
	if err := d.ensureInit(); err != nil {
		return nil, err
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("%w: unknown gpio pin %q", boneerr.ErrGPIOInput, name)
	}
	if err := p.In(pull.toPeriph(), gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("%w: configure %q as input: %v", boneerr.ErrGPIOInput, name, err)
	}
	return &Line{name: name, pin: p}, nil
}

// ConfigureOutput resolves name and sets it as an output line, used by the
// relay engine for directly GPIO-backed relays.
func (d *Driver) ConfigureOutput(name string, initial bool) (*Line, error) {
	if err := d.ensureInit(); err != nil {
		return nil, err
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("%w: unknown gpio pin %q", boneerr.ErrGPIOInput, name)
	}
	if err := p.Out(gpio.Level(initial)); err != nil {
		return nil, fmt.Errorf("%w: configure %q as output: %v", boneerr.ErrGPIOInput, name, err)
	}
	return &Line{name: name, pin: p}, nil
}

// Read returns the current level.
func (l *Line) Read() bool {
	return bool(l.pin.Read())
}

// SetOutput drives an output-configured line.
func (l *Line) SetOutput(level bool) error {
	return l.pin.Out(gpio.Level(level))
}

// RegisterEdgeCallback starts a dedicated goroutine that blocks on
// WaitForEdge and invokes handler after each debounced transition, one
// dedicated driver thread per line. An edge arriving less than debounce
// after the last accepted edge is discarded.
func (l *Line) RegisterEdgeCallback(edges Edges, debounce time.Duration, handler EdgeHandler) error {
	if err := l.pin.In(gpio.PullNoChange, edges.toPeriph()); err != nil {
		return fmt.Errorf("%w: arm edge detection on %q: %v", boneerr.ErrGPIOInput, l.name, err)
	}
	l.stop = make(chan struct{})
	go l.edgeLoop(debounce, handler)
	return nil
}

func (l *Line) edgeLoop(debounce time.Duration, handler EdgeHandler) {
	for {
		select {
		case <-l.stop:
			return
		default:
		}
		if !l.pin.WaitForEdge(-1) {
			continue
		}
		now := time.Now()
		l.mu.Lock()
		if now.Sub(l.lastEdge) < debounce {
			l.mu.Unlock()
			continue
		}
		l.lastEdge = now
		level := bool(l.pin.Read())
		l.lastState = level
		l.mu.Unlock()
		handler(level, now)
	}
}

// Close stops the edge-detection goroutine, if one is running.
func (l *Line) Close() {
	if l.stop != nil {
		close(l.stop)
	}
	_ = l.pin.Halt()
}

var _ = log // keep xlog import even if unused by future trimming passes
