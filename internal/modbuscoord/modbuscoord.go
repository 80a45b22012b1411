// Package modbuscoord implements boneIO's Modbus-RTU coordinator:
// per-device periodic bank reads, typed decode, the filter pipeline,
// derived entities and writable entities, wired to a
// boneio/internal/modbustransport line and the event/message buses.
package modbuscoord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"boneio/internal/bus"
	"boneio/internal/model"
	"boneio/internal/modbustransport"
	"boneio/internal/mqttbus"
	"boneio/internal/xlog"
)

var log = xlog.New("modbuscoord")

// FilterOp is one step of the filter pipeline.
type FilterOp struct {
	Op    string // "offset", "round", "multiply", "filter_out", "filter_out_greater", "filter_out_lower"
	Value float64
}

// applyFilters runs the pipeline left-to-right; ok=false means the value was
// dropped and must not be published this cycle.
func applyFilters(x float64, filters []FilterOp) (float64, bool) {
	for _, f := range filters {
		switch f.Op {
		case "offset":
			x += f.Value
		case "round":
			mult := pow10(int(f.Value))
			x = roundTo(x, mult)
		case "multiply":
			x *= f.Value
		case "filter_out":
			if x == f.Value {
				return 0, false
			}
		case "filter_out_greater":
			if x > f.Value {
				return 0, false
			}
		case "filter_out_lower":
			if x < f.Value {
				return 0, false
			}
		}
	}
	return x, true
}

func pow10(n int) float64 {
	m := 1.0
	for i := 0; i < n; i++ {
		m *= 10
	}
	return m
}

func roundTo(x, mult float64) float64 {
	if mult <= 0 {
		return x
	}
	scaled := x * mult
	if scaled >= 0 {
		return float64(int64(scaled+0.5)) / mult
	}
	return float64(int64(scaled-0.5)) / mult
}

// RegisterDef describes one entity inside a register base.
type RegisterDef struct {
	Name         string
	Offset       int // register offset within the base, in 16-bit words
	ValueType    modbustransport.ValueType
	Words        int // how many 16-bit registers this value spans
	Unit         string
	DeviceClass  string
	Filters      []FilterOp
	WriteAddress *uint16
	WriteFilters []FilterOp
}

// RegisterBase is one contiguous read window.
type RegisterBase struct {
	Base     uint16
	Length   uint16
	Bank     modbustransport.RegisterBank
	Registers []RegisterDef
}

// DerivedKind selects how a derived entity's value is produced.
type DerivedKind string

const (
	DerivedNumeric DerivedKind = "numeric"
	DerivedText    DerivedKind = "text"
	DerivedSelect  DerivedKind = "select"
	DerivedSwitch  DerivedKind = "switch"
)

// Derived is an entity computed from another entity's decoded value, an
// additional_sensors entry.
type Derived struct {
	Name    string
	Source  string
	Kind    DerivedKind
	Formula func(x float64) (float64, error) // numeric
	Mapping map[float64]string               // text/select
	PayloadOn, PayloadOff string              // switch
}

// DeviceConfig is the static descriptor for one Modbus device, loaded from
// the per-model JSON descriptor.
type DeviceConfig struct {
	ID             string
	Name           string
	Unit           byte
	UpdateInterval time.Duration
	Bases          []RegisterBase
	Derived        []Derived
}

// Coordinator runs one device's refresh cycle.
type Coordinator struct {
	cfg       DeviceConfig
	transport *modbustransport.Transport
	bus       *bus.Bus
	mqtt      mqttbus.MessageBus
	topic     string

	mu              sync.Mutex
	lastValues      map[string]float64
	lastDiscovery   time.Time
	discoverySent   bool
	offline         bool
}

func New(cfg DeviceConfig, transport *modbustransport.Transport, b *bus.Bus, mb mqttbus.MessageBus, topicPrefix string) *Coordinator {
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = 60 * time.Second
	}
	return &Coordinator{
		cfg:        cfg,
		transport:  transport,
		bus:        b,
		mqtt:       mb,
		topic:      fmt.Sprintf("%s/%s/state", topicPrefix, cfg.ID),
		lastValues: map[string]float64{},
	}
}

// Run drives the refresh loop via bus.RunPeriodic, backing off ×1.5 to a
// 600s cap and declaring the device offline beyond that. Returns when ctx
// is cancelled.
func (c *Coordinator) Run(ctx context.Context, discoverFn func()) {
	bus.RunPeriodic(ctx, c.cfg.UpdateInterval, func(now time.Time) bool {
		return c.refresh(discoverFn)
	}, c.markOffline)
}

func (c *Coordinator) markOffline() {
	c.mu.Lock()
	c.offline = true
	c.discoverySent = false
	c.mu.Unlock()
	c.mqtt.Send(c.topic, "offline", true)
	log.Warn("modbus device %s marked offline", c.cfg.ID)
}

// refresh performs one cycle, returning true on success (resets the
// backoff) and false on failure (grows it).
func (c *Coordinator) refresh(discoverFn func()) bool {
	if len(c.cfg.Bases) == 0 {
		return false
	}

	c.mu.Lock()
	wasOffline := c.offline
	needDiscovery := !c.discoverySent || time.Since(c.lastDiscovery) > time.Hour
	c.mu.Unlock()

	results := map[string]float64{}
	anySuccess := false
	for _, base := range c.cfg.Bases {
		raw, err := c.transport.ReadRegisters(c.cfg.Unit, base.Bank, base.Base, base.Length)
		if err != nil {
			log.Warn("modbus device %s base 0x%x read failed: %v", c.cfg.ID, base.Base, err)
			continue
		}
		anySuccess = true
		for _, reg := range base.Registers {
			start := reg.Offset * 2
			end := start + reg.Words*2
			if end > len(raw) {
				continue
			}
			val, err := modbustransport.DecodeValue(raw[start:end], reg.ValueType)
			if err != nil {
				log.Warn("decode %s/%s failed: %v", c.cfg.ID, reg.Name, err)
				continue
			}
			val, ok := applyFilters(val, reg.Filters)
			if !ok {
				continue
			}
			results[reg.Name] = val
		}
	}

	if !anySuccess {
		_ = wasOffline
		return false
	}

	if needDiscovery && discoverFn != nil {
		if c.firstRegisterAvailable(c.cfg.Bases[0]) {
			discoverFn()
			c.mu.Lock()
			c.discoverySent = true
			c.lastDiscovery = time.Now()
			c.mu.Unlock()
			time.Sleep(2 * time.Second)
		} else {
			log.Warn("discovery for %s not sent: first register not available", c.cfg.ID)
		}
	}

	c.mu.Lock()
	for k, v := range results {
		c.lastValues[k] = v
	}
	c.offline = false
	c.mu.Unlock()

	for _, d := range c.cfg.Derived {
		src, ok := results[d.Source]
		if !ok {
			continue
		}
		c.evalDerived(d, src, results)
	}

	c.publish(results)
	return true
}

// firstRegisterAvailable probes the first register of base, tolerating one
// bad initial frame after power-on before declaring the device unavailable
// for discovery: it reads up to twice, returning as soon as one read
// succeeds.
func (c *Coordinator) firstRegisterAvailable(base RegisterBase) bool {
	if len(base.Registers) == 0 {
		return false
	}
	reg := base.Registers[0]
	words := reg.Words
	if words <= 0 {
		words = 1
	}
	for attempt := 0; attempt < 2; attempt++ {
		if _, err := c.transport.ReadRegisters(c.cfg.Unit, base.Bank, base.Base+uint16(reg.Offset), uint16(words)); err == nil {
			return true
		}
	}
	return false
}

func (c *Coordinator) evalDerived(d Derived, src float64, results map[string]float64) {
	switch d.Kind {
	case DerivedNumeric:
		if d.Formula == nil {
			return
		}
		v, err := d.Formula(src)
		if err != nil {
			log.Warn("derived %s formula error: %v", d.Name, err)
			return
		}
		results[d.Name] = v
	case DerivedText, DerivedSelect:
		if text, ok := d.Mapping[src]; ok {
			c.bus.Trigger(bus.Event{Type: bus.EventModbusDevice, EntityID: d.Name, Payload: model.SensorState{
				ID: d.Name, Name: d.Name, State: text, Timestamp: nowSeconds(),
			}})
		}
	case DerivedSwitch:
		state := d.PayloadOff
		if src != 0 {
			state = d.PayloadOn
		}
		c.bus.Trigger(bus.Event{Type: bus.EventModbusDevice, EntityID: d.Name, Payload: model.SensorState{
			ID: d.Name, Name: d.Name, State: state, Timestamp: nowSeconds(),
		}})
	}
}

func (c *Coordinator) publish(results map[string]float64) {
	c.mqtt.Send(c.topic, "online", true)
	for base, r := range groupByBase(c.cfg.Bases, results) {
		c.mqtt.Send(fmt.Sprintf("%s/sensor/%s/%d", topicPrefixOf(c.topic), c.cfg.ID, base), r, false)
	}
	for name, v := range results {
		c.bus.Trigger(bus.Event{Type: bus.EventModbusDevice, EntityID: name, Payload: model.SensorState{
			ID: name, Name: name, State: v, Timestamp: nowSeconds(),
		}})
	}
}

func groupByBase(bases []RegisterBase, results map[string]float64) map[uint16]map[string]float64 {
	out := map[uint16]map[string]float64{}
	for _, base := range bases {
		m := map[string]float64{}
		for _, reg := range base.Registers {
			if v, ok := results[reg.Name]; ok {
				m[reg.Name] = v
			}
		}
		if len(m) > 0 {
			out[base.Base] = m
		}
	}
	return out
}

func topicPrefixOf(stateTopic string) string {
	// stateTopic is "<prefix>/<id>/state"; strip the last two segments.
	n := len(stateTopic)
	cut := n
	seen := 0
	for i := n - 1; i >= 0; i-- {
		if stateTopic[i] == '/' {
			seen++
			if seen == 2 {
				cut = i
				break
			}
		}
	}
	return stateTopic[:cut]
}

func nowSeconds() float64 { return float64(time.Now().UnixNano()) / 1e9 }

// WriteValue implements the write path: a writable primary entity runs
// value through its WriteFilters and writes the result to its write
// address. For a derived entity, value is written unchanged (as a uint16)
// to the source register's write address and recorded as the source's last
// value; it is not reverse-mapped to a raw value, and the derived state is
// not re-evaluated or published.
func (c *Coordinator) WriteValue(decodedName string, value float64) error {
	for _, base := range c.cfg.Bases {
		for _, reg := range base.Registers {
			if reg.Name != decodedName || reg.WriteAddress == nil {
				continue
			}
			encoded := value
			for _, f := range reg.WriteFilters {
				encoded, _ = applyFilters(encoded, []FilterOp{f})
			}
			return c.transport.WriteSingleRegister(c.cfg.Unit, *reg.WriteAddress, uint16(encoded))
		}
	}
	for _, d := range c.cfg.Derived {
		if d.Name != decodedName {
			continue
		}
		for _, base := range c.cfg.Bases {
			for _, reg := range base.Registers {
				if reg.Name != d.Source || reg.WriteAddress == nil {
					continue
				}
				if err := c.transport.WriteSingleRegister(c.cfg.Unit, *reg.WriteAddress, uint16(value)); err != nil {
					return err
				}
				c.mu.Lock()
				c.lastValues[d.Source] = value
				c.mu.Unlock()
				return nil
			}
		}
	}
	return fmt.Errorf("modbus device %s: no writable entity %q", c.cfg.ID, decodedName)
}
