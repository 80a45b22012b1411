// Package relay implements boneIO's output engine: basic relays
// backed by GPIO or an I2C expander, interlock groups, momentary pulses,
// output groups and the virtual energy/water accumulators.
package relay

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"boneio/internal/boneerr"
	"boneio/internal/bus"
	"boneio/internal/gpioline"
	"boneio/internal/model"
	"boneio/internal/mqttbus"
	"boneio/internal/state"
	"boneio/internal/xlog"
)

var log = xlog.New("relay")

// Driver is the hardware-facing half of a relay: set/read a single line,
// whether it is a direct GPIO pin or an expander channel.
type Driver interface {
	Set(on bool) error
}

type gpioDriver struct{ line *gpioline.Line }

func NewGPIODriver(line *gpioline.Line) Driver { return gpioDriver{line} }
func (d gpioDriver) Set(on bool) error         { return d.line.SetOutput(on) }

type expanderDriver struct {
	write func(pin int, level bool) error
	pin   int
}

// NewExpanderDriver adapts any expander's Write(pin, level) method
// (MCP23017.Write / PCF8575.Write) into a relay Driver.
func NewExpanderDriver(write func(pin int, level bool) error, pin int) Driver {
	return expanderDriver{write: write, pin: pin}
}
func (d expanderDriver) Set(on bool) error { return d.write(d.pin, on) }

// Config is a single relay's static configuration.
type Config struct {
	ID                string
	Name              string
	OutputType        string // "switch", "light", "none", "valve", "cover" (cover relays skip momentary/MQTT state)
	Pin               int
	ExpanderID        string
	RestoreEnabled    bool // restore_state: true — persist every state change, not just read one at boot
	RestoredState     bool
	MomentaryTurnOn   time.Duration
	MomentaryTurnOff  time.Duration
	InterlockGroups   []string
	VirtualPowerUsage *float64 // watts while ON
	VirtualFlowRate   *float64 // liters/hour while ON
}

// Relay is one software-controlled output.
type Relay struct {
	cfg    Config
	driver Driver
	bus    *bus.Bus
	mqtt   mqttbus.MessageBus
	topic  string

	group *Interlocks
	saver *state.Manager

	mu            sync.Mutex
	state         model.OutputStateValue
	lastTimestamp float64
	momentaryStop func()

	energy *virtualEnergy
}

// New builds a relay. restoredState comes from the persisted state
// snapshot; cover-type relays never apply momentary actions
// (basic.py: "if output_type == COVER: momentary_* = None"). saver may be
// nil; when cfg.RestoreEnabled is set, every subsequent state change is
// mirrored into it.
func New(cfg Config, driver Driver, b *bus.Bus, mb mqttbus.MessageBus, topicPrefix string, group *Interlocks, saver *state.Manager) *Relay {
	if cfg.OutputType == "cover" {
		cfg.MomentaryTurnOn = 0
		cfg.MomentaryTurnOff = 0
	}
	st := model.StateOFF
	if cfg.RestoredState {
		st = model.StateON
	}
	r := &Relay{
		cfg:   cfg,
		driver: driver,
		bus:   b,
		mqtt:  mb,
		topic: fmt.Sprintf("%s/relay/%s", topicPrefix, cfg.ID),
		group: group,
		saver: saver,
		state: st,
	}
	if cfg.VirtualPowerUsage != nil || cfg.VirtualFlowRate != nil {
		r.energy = newVirtualEnergy(mb, topicPrefix, cfg.ID, cfg.VirtualPowerUsage, cfg.VirtualFlowRate)
		if st == model.StateON {
			r.energy.start()
		}
	}
	if group != nil {
		group.Register(r, cfg.InterlockGroups)
	}
	return r
}

func (r *Relay) ID() string                      { return r.cfg.ID }
func (r *Relay) OutputType() string              { return r.cfg.OutputType }
func (r *Relay) State() model.OutputStateValue   { return r.state }
func (r *Relay) IsActive() bool                  { return r.state == model.StateON }
func (r *Relay) Groups() []string                { return r.cfg.InterlockGroups }

// TurnOn activates the relay, denying the action if an interlock group
// peer is already ON ("all others OFF" gate).
func (r *Relay) TurnOn() error {
	if r.group != nil && !r.group.CanTurnOn(r, r.cfg.InterlockGroups) {
		log.Warn("interlock denied turn_on for %s", r.cfg.ID)
		// Hardware is never energized, but HA's state cache has already
		// optimistically flipped to ON on the command; publish that once,
		// then, after a short pause, correct it with the true (still OFF) state.
		r.publishOptimistic(model.StateON)
		go func() {
			time.Sleep(10 * time.Millisecond)
			r.publishState()
		}()
		return fmt.Errorf("%w: turn_on for %s", boneerr.ErrInterlockDenied, r.cfg.ID)
	}
	r.setRaw(true)
	r.applyMomentary(true)
	go r.publishState()
	return nil
}

// publishOptimistic sends a requested-but-not-applied state once, used only
// by the interlock-denial path to re-sync HA's state cache before the true
// state follows.
func (r *Relay) publishOptimistic(state model.OutputStateValue) {
	if r.cfg.OutputType != "none" && r.cfg.OutputType != "cover" {
		r.mqtt.Send(r.topic, map[string]string{"state": string(state)}, true)
	}
}

// TurnOff deactivates the relay.
func (r *Relay) TurnOff() error {
	r.setRaw(false)
	r.applyMomentary(false)
	go r.publishState()
	return nil
}

func (r *Relay) Toggle() error {
	if r.IsActive() {
		return r.TurnOff()
	}
	return r.TurnOn()
}

func (r *Relay) setRaw(on bool) {
	r.mu.Lock()
	if on {
		r.state = model.StateON
	} else {
		r.state = model.StateOFF
	}
	r.mu.Unlock()
	if err := r.driver.Set(on); err != nil {
		log.Error("relay %s: hardware write failed: %v", r.cfg.ID, err)
	}
	if r.saver != nil && r.cfg.RestoreEnabled {
		r.saver.SetRelayState(r.cfg.ID, on)
		r.saver.Save()
	}
	if r.energy != nil {
		if on {
			r.energy.start()
		} else {
			r.energy.stop()
		}
	}
}

// applyMomentary schedules the delayed opposite action, cancelling any
// pending one first, per _execute_momentary_turn in the source.
func (r *Relay) applyMomentary(turnedOn bool) {
	r.mu.Lock()
	if r.momentaryStop != nil {
		r.momentaryStop()
		r.momentaryStop = nil
	}
	delay := r.cfg.MomentaryTurnOff
	action := r.TurnOn
	if turnedOn {
		delay = r.cfg.MomentaryTurnOn
		action = r.TurnOff
	}
	if delay <= 0 {
		r.mu.Unlock()
		return
	}
	timer := time.AfterFunc(delay, func() {
		log.Info("momentary callback for %s", r.cfg.ID)
		_ = action()
	})
	r.momentaryStop = func() { timer.Stop() }
	r.mu.Unlock()
}

func (r *Relay) publishState() {
	r.mu.Lock()
	state := r.state
	r.lastTimestamp = float64(time.Now().UnixNano()) / 1e9
	ts := r.lastTimestamp
	r.mu.Unlock()

	if r.cfg.OutputType != "none" && r.cfg.OutputType != "cover" {
		r.mqtt.Send(r.topic, map[string]string{"state": string(state)}, true)
	}
	out := model.OutputState{
		ID:         r.cfg.ID,
		Name:       r.cfg.Name,
		State:      state,
		Type:       r.cfg.OutputType,
		Pin:        r.cfg.Pin,
		ExpanderID: r.cfg.ExpanderID,
		Timestamp:  ts,
	}
	r.bus.Trigger(bus.Event{Type: bus.EventOutput, EntityID: r.cfg.ID, Payload: out})
}

// Interlocks tracks which relays belong to which interlock groups and
// denies turn_on when a peer in any shared group is already active,
// grounded on SoftwareInterlockManager in the source.
type Interlocks struct {
	mu     sync.Mutex
	groups map[string]map[*Relay]struct{}
}

func NewInterlocks() *Interlocks {
	return &Interlocks{groups: map[string]map[*Relay]struct{}{}}
}

func (g *Interlocks) Register(r *Relay, groupNames []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, name := range groupNames {
		if g.groups[name] == nil {
			g.groups[name] = map[*Relay]struct{}{}
		}
		g.groups[name][r] = struct{}{}
	}
}

func (g *Interlocks) CanTurnOn(r *Relay, groupNames []string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, name := range groupNames {
		for peer := range g.groups[name] {
			if peer != r && peer.IsActive() {
				return false
			}
		}
	}
	return true
}

// virtualEnergy accumulates energy/water usage while the parent relay is
// ON and republishes it to MQTT every 30 seconds, restoring the prior
// total once from a retained message at startup.
type virtualEnergy struct {
	mqtt  mqttbus.MessageBus
	topic string

	powerW   *float64
	flowLph  *float64

	mu           sync.Mutex
	energyWh     float64
	volumeL      float64
	runningSince *time.Time
	stopCh       chan struct{}
}

func newVirtualEnergy(mb mqttbus.MessageBus, topicPrefix, id string, powerW, flowLph *float64) *virtualEnergy {
	v := &virtualEnergy{
		mqtt:    mb,
		topic:   fmt.Sprintf("%s/energy/%s", topicPrefix, id),
		powerW:  powerW,
		flowLph: flowLph,
	}
	mb.SubscribeOnce(v.topic, v.restore)
	return v
}

func (v *virtualEnergy) restore(payload []byte) {
	var snap struct {
		Energy *float64 `json:"energy"`
		Water  *float64 `json:"water"`
	}
	if err := json.Unmarshal(payload, &snap); err != nil {
		log.Debug("no valid retained virtual energy state: %v", err)
		return
	}
	v.mu.Lock()
	if snap.Energy != nil {
		v.energyWh = *snap.Energy
	}
	if snap.Water != nil {
		v.volumeL = *snap.Water
	}
	v.mu.Unlock()
}

func (v *virtualEnergy) start() {
	v.mu.Lock()
	if v.stopCh != nil {
		v.mu.Unlock()
		return
	}
	now := time.Now()
	v.runningSince = &now
	v.stopCh = make(chan struct{})
	stopCh := v.stopCh
	v.mu.Unlock()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				v.update()
				v.publish()
			}
		}
	}()
}

func (v *virtualEnergy) stop() {
	v.mu.Lock()
	if v.stopCh != nil {
		close(v.stopCh)
		v.stopCh = nil
	}
	v.runningSince = nil
	v.mu.Unlock()
	v.update()
	v.publish()
}

func (v *virtualEnergy) update() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.runningSince == nil {
		return
	}
	elapsed := time.Since(*v.runningSince).Seconds()
	if v.powerW != nil {
		v.energyWh += *v.powerW * elapsed / 3600.0
	}
	if v.flowLph != nil {
		v.volumeL += *v.flowLph * elapsed / 3600.0
	}
	now := time.Now()
	v.runningSince = &now
}

// publish sends the instantaneous power/flow (0 while the relay is OFF)
// alongside the accumulated energy/water totals, matching
// send_virtual_energy_state's payload shape exactly: only the fields for
// whichever of power/flow is configured are included.
func (v *virtualEnergy) publish() {
	v.mu.Lock()
	running := v.runningSince != nil
	energyWh := v.energyWh
	volumeL := v.volumeL
	v.mu.Unlock()

	payload := map[string]float64{}
	if v.powerW != nil {
		power := 0.0
		if running {
			power = *v.powerW
		}
		payload["power"] = power
		payload["energy"] = math.Round(energyWh*1000) / 1000
	}
	if v.flowLph != nil {
		flow := 0.0
		if running {
			flow = *v.flowLph
		}
		payload["volume_flow_rate"] = flow
		payload["water"] = math.Round(volumeL*1000) / 1000
	}
	v.mqtt.Send(v.topic, payload, true)
}

// Group aggregates the member relays' state, reporting ON if any member is
// ON.
type Group struct {
	id      string
	name    string
	members []*Relay
}

func NewGroup(id, name string, members []*Relay) *Group {
	return &Group{id: id, name: name, members: members}
}

func (g *Group) ID() string   { return g.id }
func (g *Group) Name() string { return g.name }

func (g *Group) State() model.OutputStateValue {
	for _, m := range g.members {
		if m.IsActive() {
			return model.StateON
		}
	}
	return model.StateOFF
}

func (g *Group) TurnOn() {
	for _, m := range g.members {
		_ = m.TurnOn()
	}
}

func (g *Group) TurnOff() {
	for _, m := range g.members {
		_ = m.TurnOff()
	}
}
