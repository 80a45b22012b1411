// Package manager is boneIO's composition root: it wires the GPIO, I2C,
// Modbus and message-bus layers into the engines (input, relay, cover,
// Modbus coordinator), owns every entity registry, publishes the Home
// Assistant discovery catalogue, and routes incoming MQTT commands to the
// right entity. Concurrency is supervised with golang.org/x/sync/errgroup
// so a cancelled context unwinds every goroutine cleanly.
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"boneio/internal/bus"
	"boneio/internal/config"
	"boneio/internal/cover"
	"boneio/internal/discovery"
	"boneio/internal/dispatch"
	"boneio/internal/expander"
	"boneio/internal/gpioline"
	"boneio/internal/input"
	"boneio/internal/modbuscoord"
	"boneio/internal/modbustransport"
	"boneio/internal/model"
	"boneio/internal/mqttbus"
	"boneio/internal/relay"
	"boneio/internal/state"
	"boneio/internal/xlog"
)

var log = xlog.New("manager")

// Manager owns every entity registry and dispatches incoming commands.
type Manager struct {
	cfg   *config.Config
	bus   *bus.Bus
	mqtt  mqttbus.MessageBus
	state *state.Manager

	gpioDriver *gpioline.Driver
	i2cBuses   map[string]*expander.Bus
	mcp        map[string]*expander.MCP23017
	pcf        map[string]*expander.PCF8575
	pca        map[string]*expander.PCA9685

	interlocks *relay.Interlocks
	outputs    map[string]*relay.Relay
	groups     map[string]*relay.Group
	covers     map[string]cover.Cover
	modbus     map[string]*modbuscoord.Coordinator
	transport  *modbustransport.Transport

	dispatcher *dispatch.Dispatcher
	device     discovery.Device
}

// New builds the manager shell. Call Wire to populate registries from cfg
// and Run to start every supervised goroutine.
func New(cfg *config.Config, b *bus.Bus, mb mqttbus.MessageBus, st *state.Manager) *Manager {
	return &Manager{
		cfg:        cfg,
		bus:        b,
		mqtt:       mb,
		state:      st,
		gpioDriver: gpioline.NewDriver(),
		i2cBuses:   map[string]*expander.Bus{},
		mcp:        map[string]*expander.MCP23017{},
		pcf:        map[string]*expander.PCF8575{},
		pca:        map[string]*expander.PCA9685{},
		interlocks: relay.NewInterlocks(),
		outputs:    map[string]*relay.Relay{},
		groups:     map[string]*relay.Group{},
		covers:     map[string]cover.Cover{},
		modbus:     map[string]*modbuscoord.Coordinator{},
		device:     discovery.NewDevice("boneio", "BeagleBone", "boneIO"),
	}
}

// Wire builds every registry from the loaded config: I2C buses, expanders,
// outputs, output groups, covers, inputs (with their dispatcher action
// lists) and Modbus devices. Hardware errors degrade gracefully: the
// affected entity is skipped and logged, never fatal.
func (m *Manager) Wire() error {
	for _, busCfg := range m.cfg.I2CBuses {
		ibus, err := expander.OpenBus(busCfg.Bus)
		if err != nil {
			log.Error("i2c bus %s unavailable: %v", busCfg.ID, err)
			continue
		}
		m.i2cBuses[busCfg.ID] = ibus
	}

	for _, exCfg := range m.cfg.Expanders {
		ibus, ok := m.i2cBuses[exCfg.I2CBus]
		if !ok {
			log.Error("expander %s references unknown i2c bus %s", exCfg.ID, exCfg.I2CBus)
			continue
		}
		addr := uint16(exCfg.Address)
		var err error
		switch exCfg.Kind {
		case string(expander.KindMCP23017):
			m.mcp[exCfg.ID], err = expander.NewMCP23017(ibus, addr, uint16(exCfg.DirectionMask), uint16(exCfg.PullUpMask))
		case string(expander.KindPCF8575):
			m.pcf[exCfg.ID], err = expander.NewPCF8575(ibus, addr)
		case string(expander.KindPCA9685):
			m.pca[exCfg.ID], err = expander.NewPCA9685(ibus, addr)
		default:
			log.Error("expander %s: unknown kind %q", exCfg.ID, exCfg.Kind)
			continue
		}
		if err != nil {
			log.Error("expander %s init failed: %v", exCfg.ID, err)
		}
	}

	for _, outCfg := range m.cfg.Outputs {
		r, err := m.buildOutput(outCfg)
		if err != nil {
			log.Error("output %s not registered: %v", outCfg.ID, err)
			continue
		}
		m.outputs[outCfg.ID] = r
	}

	for _, grpCfg := range m.cfg.OutputGroups {
		members := make([]*relay.Relay, 0, len(grpCfg.Outputs))
		for _, id := range grpCfg.Outputs {
			if r, ok := m.outputs[id]; ok {
				members = append(members, r)
			}
		}
		m.groups[grpCfg.ID] = relay.NewGroup(grpCfg.ID, grpCfg.Name, members)
	}

	for _, covCfg := range m.cfg.Covers {
		c, err := m.buildCover(covCfg)
		if err != nil {
			log.Error("cover %s not registered: %v", covCfg.ID, err)
			continue
		}
		m.covers[covCfg.ID] = c
	}

	reg := dispatch.Registries{Outputs: m.outputs, OutputGroups: m.groups, Covers: m.covers}
	m.dispatcher = dispatch.New(reg, m.mqtt, m.cfg.MQTT.TopicPrefix)
	for _, inCfg := range m.cfg.Inputs {
		if err := m.buildInput(inCfg); err != nil {
			log.Error("input %s not registered: %v", inCfg.ID, err)
		}
	}

	if len(m.cfg.ModbusDevices) > 0 {
		transport, err := modbustransport.Open(modbustransport.Config{
			Device:   m.cfg.ModbusUART.Device,
			BaudRate: m.cfg.ModbusUART.BaudRate,
			DataBits: m.cfg.ModbusUART.DataBits,
			Parity:   m.cfg.ModbusUART.Parity,
			StopBits: m.cfg.ModbusUART.StopBits,
			Timeout:  time.Second,
		})
		if err != nil {
			log.Error("modbus uart unavailable, no modbus devices will run: %v", err)
		} else {
			m.transport = transport
			for _, devCfg := range m.cfg.ModbusDevices {
				if err := m.buildModbusDevice(devCfg); err != nil {
					log.Error("modbus device %s not registered: %v", devCfg.ID, err)
				}
			}
		}
	}

	m.bus.AddHAOnlineListener(m.replayDiscoveryCatalogue)

	if m.cfg.MQTT.HADiscovery {
		m.publishDiscovery()
	}
	return nil
}

func (m *Manager) buildOutput(cfg config.Output) (*relay.Relay, error) {
	var driver relay.Driver
	if cfg.ExpanderID != "" {
		if d, ok := m.mcp[cfg.ExpanderID]; ok {
			driver = relay.NewExpanderDriver(d.Write, cfg.Pin)
		} else if d, ok := m.pcf[cfg.ExpanderID]; ok {
			driver = relay.NewExpanderDriver(d.Write, cfg.Pin)
		} else {
			return nil, fmt.Errorf("expander %q is not a digital-output expander", cfg.ExpanderID)
		}
	} else {
		line, err := m.gpioDriver.ConfigureOutput(cfg.GPIO, false)
		if err != nil {
			return nil, err
		}
		driver = relay.NewGPIODriver(line)
	}

	restored, present := m.state.RelayState(cfg.ID)
	restoredState := cfg.RestoreState && present && restored

	relayCfg := relay.Config{
		ID: cfg.ID, Name: cfg.ID, OutputType: cfg.OutputType, Pin: cfg.Pin, ExpanderID: cfg.ExpanderID,
		RestoreEnabled:    cfg.RestoreState,
		RestoredState:     restoredState,
		MomentaryTurnOn:   cfg.MomentaryTurnOnDuration(),
		MomentaryTurnOff:  cfg.MomentaryTurnOffDuration(),
		InterlockGroups:   cfg.InterlockGroups,
		VirtualPowerUsage: cfg.VirtualPowerUsage,
		VirtualFlowRate:   cfg.VirtualFlowRate,
	}
	r := relay.New(relayCfg, driver, m.bus, m.mqtt, m.cfg.MQTT.TopicPrefix, m.interlocks, m.state)

	if restoredState && !m.interlocks.CanTurnOn(r, cfg.InterlockGroups) {
		log.Warn("output %s: restored ON denied by interlock, forcing OFF", cfg.ID)
		_ = r.TurnOff()
		m.state.RemoveRelayState(cfg.ID)
	}
	return r, nil
}

func (m *Manager) buildCover(cfg config.Cover) (cover.Cover, error) {
	open, ok := m.outputs[cfg.OpenRelay]
	if !ok {
		return nil, fmt.Errorf("unknown open relay %q", cfg.OpenRelay)
	}
	closeR, ok := m.outputs[cfg.CloseRelay]
	if !ok {
		return nil, fmt.Errorf("unknown close relay %q", cfg.CloseRelay)
	}
	snap, present := m.state.CoverState(cfg.ID)
	position := snap.Position
	if !present {
		position = 100
	}

	switch cfg.Kind {
	case string(cover.KindPrevious):
		return cover.NewPreviousCover(cfg.ID, cfg.ID, open, closeR, cfg.OpenDuration(), cfg.CloseDuration(),
			position, m.bus, m.mqtt, m.state, m.cfg.MQTT.TopicPrefix), nil
	case string(cover.KindVenetian):
		if cfg.TiltDurationMS == 0 {
			return nil, fmt.Errorf("venetian cover requires tilt_duration_ms")
		}
		tilt := 100
		if snap.Tilt != nil {
			tilt = *snap.Tilt
		}
		return cover.NewVenetianCover(cfg.ID, cfg.ID, open, closeR, cfg.OpenDuration(), cfg.CloseDuration(),
			cfg.TiltDuration(), cfg.ActuatorActivationDuration(), position, tilt, m.bus, m.mqtt, m.state, m.cfg.MQTT.TopicPrefix), nil
	default:
		return cover.NewTimeBasedCover(cfg.ID, cfg.ID, open, closeR, cfg.OpenDuration(), cfg.CloseDuration(),
			position, m.bus, m.mqtt, m.state, m.cfg.MQTT.TopicPrefix), nil
	}
}

func (m *Manager) buildInput(cfg config.Input) error {
	line, err := m.gpioDriver.Configure(cfg.Pin, pullFromMode(cfg.GPIOMode))
	if err != nil {
		return err
	}

	for clickType, actions := range cfg.Actions {
		acts := make([]dispatch.Action, 0, len(actions))
		for _, a := range actions {
			acts = append(acts, toAction(a))
		}
		m.dispatcher.Configure(cfg.Pin, model.ClickType(clickType), acts, cfg.ClearMessage)
	}

	onPress := func(click model.ClickType, duration *float64) {
		input.PublishState(m.bus, cfg.ID, cfg.ID, click, duration)
		m.dispatcher.Dispatch(cfg.Pin, click, duration)
	}

	if cfg.DetectionType == "old" {
		in := input.NewBinarySensorInput(line, input.BinarySensorConfig{
			Name: cfg.ID, BounceTime: cfg.BounceDuration(), Invert: cfg.Invert, InitialSend: cfg.InitialSend,
		}, onPress)
		return in.Start()
	}
	in := input.NewNewClickInput(line, input.NewClickInputConfig{
		Name: cfg.ID, BounceTime: cfg.BounceDuration(), Invert: cfg.Invert,
	}, onPress)
	return in.Start()
}

func pullFromMode(mode string) gpioline.Pull {
	switch mode {
	case "gpio_pu":
		return gpioline.PullUp
	case "gpio_pd":
		return gpioline.PullDown
	default:
		return gpioline.PullNone
	}
}

func toAction(a config.ActionCfg) dispatch.Action {
	switch a.Action {
	case "mqtt":
		return dispatch.Action{Kind: dispatch.ActionMQTT, Topic: a.Topic, Payload: a.Msg}
	case "output_over_mqtt":
		return dispatch.Action{Kind: dispatch.ActionOutputOverMQTT, OutputTarget: a.Pin, OutputOp: a.Op}
	case "cover_over_mqtt":
		return dispatch.Action{Kind: dispatch.ActionCoverOverMQTT, CoverTarget: a.Pin, CoverOp: a.Op}
	case "cover":
		return dispatch.Action{Kind: dispatch.ActionCover, CoverTarget: a.Pin, CoverOp: a.Op}
	default:
		return dispatch.Action{Kind: dispatch.ActionOutput, OutputTarget: a.Pin, OutputOp: a.Op}
	}
}

// modbusDescriptor is the on-disk shape of a per-model register descriptor,
// loaded from <config_dir>/modbus/<model>.json. It covers primary register
// banks only; derived entities computed from a formula (rather than a
// plain value-to-text mapping) aren't representable in JSON and are left
// for a Go-native descriptor when a device needs one.
type modbusDescriptor struct {
	Bases []struct {
		Base      uint16 `json:"base"`
		Length    uint16 `json:"length"`
		Bank      string `json:"bank"`
		Registers []struct {
			Name         string  `json:"name"`
			Offset       int     `json:"offset"`
			ValueType    string  `json:"value_type"`
			Words        int     `json:"words"`
			Unit         string  `json:"unit"`
			DeviceClass  string  `json:"device_class"`
			WriteAddress *uint16 `json:"write_address"`
			Filters      []struct {
				Op    string  `json:"op"`
				Value float64 `json:"value"`
			} `json:"filters"`
		} `json:"registers"`
	} `json:"bases"`
}

func bankFromString(s string) modbustransport.RegisterBank {
	switch s {
	case "input":
		return modbustransport.BankInput
	case "coil":
		return modbustransport.BankCoil
	default:
		return modbustransport.BankHolding
	}
}

func loadModbusDescriptor(path string) ([]modbuscoord.RegisterBase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var desc modbusDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, err
	}
	bases := make([]modbuscoord.RegisterBase, 0, len(desc.Bases))
	for _, b := range desc.Bases {
		base := modbuscoord.RegisterBase{Base: b.Base, Length: b.Length, Bank: bankFromString(b.Bank)}
		for _, r := range b.Registers {
			filters := make([]modbuscoord.FilterOp, 0, len(r.Filters))
			for _, f := range r.Filters {
				filters = append(filters, modbuscoord.FilterOp{Op: f.Op, Value: f.Value})
			}
			base.Registers = append(base.Registers, modbuscoord.RegisterDef{
				Name: r.Name, Offset: r.Offset, ValueType: modbustransport.ValueType(r.ValueType),
				Words: r.Words, Unit: r.Unit, DeviceClass: r.DeviceClass,
				Filters: filters, WriteAddress: r.WriteAddress,
			})
		}
		bases = append(bases, base)
	}
	return bases, nil
}

func (m *Manager) buildModbusDevice(cfg config.ModbusDevice) error {
	bases, err := loadModbusDescriptor(filepath.Join(m.cfg.ConfigDir, "modbus", cfg.Model+".json"))
	if err != nil {
		return fmt.Errorf("load descriptor for model %q: %w", cfg.Model, err)
	}
	devCfg := modbuscoord.DeviceConfig{
		ID: cfg.ID, Name: cfg.Name, Unit: byte(cfg.Address),
		UpdateInterval: time.Duration(cfg.UpdateInterval) * time.Second,
		Bases:          bases,
	}
	m.modbus[cfg.ID] = modbuscoord.New(devCfg, m.transport, m.bus, m.mqtt, m.cfg.MQTT.TopicPrefix)
	return nil
}

// Run starts the event bus, every Modbus coordinator, and the MQTT command
// subscription, all supervised by an errgroup so ctx cancellation unwinds
// every goroutine.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return m.bus.Run(ctx) })

	m.mqtt.Subscribe(m.cfg.MQTT.TopicPrefix+"/cmd/+/+/#", m.handleCommand)
	m.mqtt.Subscribe("homeassistant/status", m.handleHAStatus)

	for id, coord := range m.modbus {
		coord := coord
		id := id
		g.Go(func() error {
			coord.Run(ctx, func() { m.discoverModbusDevice(id) })
			return nil
		})
	}

	m.bus.AddSigtermListener(func() {
		for _, c := range m.covers {
			c.Stop()
		}
		m.mqtt.Send(m.cfg.MQTT.TopicPrefix+"/state", "offline", true)
	})

	<-ctx.Done()
	m.bus.RunSigtermChain()
	return g.Wait()
}

func (m *Manager) handleHAStatus(topic string, payload []byte) {
	if string(payload) != "online" {
		return
	}
	m.replayDiscoveryCatalogue()
	m.bus.SignalHAOnline()
}

// handleCommand parses `<prefix>/cmd/<type>/<id>/<command>` and dispatches
// to the right registry.
func (m *Manager) handleCommand(topic string, payload []byte) {
	prefix := m.cfg.MQTT.TopicPrefix + "/cmd/"
	if !strings.HasPrefix(topic, prefix) {
		return
	}
	parts := strings.Split(strings.TrimPrefix(topic, prefix), "/")
	if len(parts) != 3 {
		log.Warn("malformed command topic %s", topic)
		return
	}
	kind, id, command := parts[0], parts[1], parts[2]
	message := string(payload)

	switch kind {
	case "relay":
		m.handleRelayCommand(id, command, message)
	case "cover":
		m.handleCoverCommand(id, command, message)
	case "group":
		m.handleGroupCommand(id, command, message)
	case "button":
		m.handleButtonCommand(id, message)
	case "modbus":
		m.handleModbusCommand(id, message)
	default:
		log.Warn("unknown command kind %q", kind)
	}
}

func (m *Manager) handleRelayCommand(id, command, message string) {
	r, ok := m.outputs[id]
	if !ok {
		log.Warn("relay %s doesn't exist", id)
		return
	}
	switch command {
	case "set":
		switch message {
		case "ON":
			_ = r.TurnOn()
		case "OFF":
			_ = r.TurnOff()
		case "TOGGLE":
			_ = r.Toggle()
		}
	case "set_brightness":
		if pca, ok := m.pca[id]; ok {
			if v, err := strconv.Atoi(message); err == nil {
				duty := uint16(v * 4095 / 65535)
				_ = pca.SetDuty(0, duty)
			}
		} else {
			log.Debug("set_brightness not supported on relay %s", id)
		}
	}
}

func (m *Manager) handleCoverCommand(id, command, message string) {
	c, ok := m.covers[id]
	if !ok {
		log.Warn("cover %s doesn't exist", id)
		return
	}
	switch command {
	case "set":
		switch message {
		case "open":
			c.Open()
		case "close":
			c.Close()
		case "stop":
			c.Stop()
		case "toggle":
			c.Toggle()
		case "toggle_open":
			c.ToggleOpen()
		case "toggle_close":
			c.ToggleClose()
		}
	case "pos":
		if pos, err := strconv.Atoi(message); err == nil {
			c.SetPosition(pos)
		}
	case "tilt":
		tc, ok := c.(cover.TiltCover)
		if !ok {
			return
		}
		if message == "stop" {
			tc.StopTilt()
			return
		}
		if tilt, err := strconv.Atoi(message); err == nil {
			tc.SetTilt(tilt)
		}
	}
}

func (m *Manager) handleGroupCommand(id, command, message string) {
	g, ok := m.groups[id]
	if !ok || command != "set" {
		return
	}
	switch message {
	case "ON":
		g.TurnOn()
	case "OFF":
		g.TurnOff()
	case "TOGGLE":
		if g.State() == model.StateON {
			g.TurnOff()
		} else {
			g.TurnOn()
		}
	}
}

func (m *Manager) handleButtonCommand(id, message string) {
	switch id {
	case "restart":
		log.Info("restart requested via button command")
		os.Exit(0)
	case "logger":
		log.Info("logger level change requested: %s", message)
	case "inputs_reload", "cover_reload":
		log.Info("%s requested; reload is out of scope for the running process", id)
	}
}

func (m *Manager) handleModbusCommand(deviceID, message string) {
	coord, ok := m.modbus[deviceID]
	if !ok {
		log.Warn("modbus device %s doesn't exist", deviceID)
		return
	}
	var cmd struct {
		Device string  `json:"device"`
		Value  float64 `json:"value"`
	}
	if err := json.Unmarshal([]byte(message), &cmd); err != nil {
		log.Warn("modbus command for %s: invalid payload: %v", deviceID, err)
		return
	}
	if err := coord.WriteValue(cmd.Device, cmd.Value); err != nil {
		log.Warn("modbus write for %s/%s failed: %v", deviceID, cmd.Device, err)
	}
}

// publishDiscovery sends one retained discovery config message per entity
// and remembers each in the message bus's catalogue, so a later
// homeassistant/status=online flip can replay the whole set.
func (m *Manager) publishDiscovery() {
	availability := m.cfg.MQTT.TopicPrefix + "/state"
	haPrefix := m.cfg.MQTT.HADiscoveryPrefix
	prefix := m.cfg.MQTT.TopicPrefix

	for id, r := range m.outputs {
		switch r.OutputType() {
		case "switch", "valve", "none":
			payload := discovery.NewSwitch(availability, m.device, id,
				fmt.Sprintf("%s/relay/%s", prefix, id), "boneio_"+id,
				fmt.Sprintf("%s/cmd/relay/%s/set", prefix, id))
			m.sendDiscovery(mqttbus.DiscoverySwitch, discovery.Topic(haPrefix, "switch", prefix, id, "switch"), payload)
		case "light":
			payload := discovery.NewLight(availability, m.device, id,
				fmt.Sprintf("%s/relay/%s", prefix, id), "boneio_"+id,
				fmt.Sprintf("%s/cmd/relay/%s/set", prefix, id))
			m.sendDiscovery(mqttbus.DiscoveryLight, discovery.Topic(haPrefix, "light", prefix, id, "light"), payload)
		case "led":
			payload := discovery.NewLED(availability, m.device, id,
				fmt.Sprintf("%s/relay/%s", prefix, id), "boneio_"+id,
				fmt.Sprintf("%s/cmd/relay/%s/set", prefix, id),
				fmt.Sprintf("%s/relay/%s", prefix, id),
				fmt.Sprintf("%s/cmd/relay/%s/set_brightness", prefix, id))
			m.sendDiscovery(mqttbus.DiscoveryLED, discovery.Topic(haPrefix, "light", prefix, id, "led"), payload)
		}
	}

	for id, g := range m.groups {
		payload := discovery.NewSwitch(availability, m.device, g.Name(),
			fmt.Sprintf("%s/group/%s", prefix, id), "boneio_group_"+id,
			fmt.Sprintf("%s/cmd/group/%s/set", prefix, id))
		m.sendDiscovery(mqttbus.DiscoverySwitch, discovery.Topic(haPrefix, "switch", prefix, id, "group"), payload)
	}

	for id, c := range m.covers {
		payload := discovery.NewCover(availability, m.device, id,
			fmt.Sprintf("%s/cover/%s/state", prefix, id), "boneio_"+id,
			fmt.Sprintf("%s/cmd/cover/%s/set", prefix, id))
		payload = payload.WithPosition(
			fmt.Sprintf("%s/cover/%s/pos", prefix, id),
			fmt.Sprintf("%s/cmd/cover/%s/pos", prefix, id))
		if _, ok := c.(cover.TiltCover); ok {
			payload = payload.WithTilt(
				fmt.Sprintf("%s/cover/%s/tilt", prefix, id),
				fmt.Sprintf("%s/cmd/cover/%s/tilt", prefix, id))
		}
		m.sendDiscovery(mqttbus.DiscoveryCover, discovery.Topic(haPrefix, "cover", prefix, id, "cover"), payload)
	}
}

func (m *Manager) sendDiscovery(kind mqttbus.AutoDiscoveryType, topic string, payload any) {
	data, err := discovery.Marshal(payload)
	if err != nil {
		log.Error("discovery: marshal failed for %s: %v", topic, err)
		return
	}
	var decoded map[string]any
	_ = json.Unmarshal(data, &decoded)
	m.mqtt.Send(topic, decoded, true)
	m.mqtt.AddAutodiscoveryMessage(mqttbus.AutoDiscoveryMessage{Type: kind, Topic: topic, Payload: decoded})
}

func (m *Manager) replayDiscoveryCatalogue() {
	log.Info("homeassistant back online, replaying discovery catalogue")
	if m.cfg.MQTT.HADiscovery {
		m.publishDiscovery()
	}
}

func (m *Manager) discoverModbusDevice(id string) {
	log.Debug("modbus device %s: first register available; no Home Assistant discovery is published for Modbus entities", id)
}
