package mqttbus

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// MqttConfig is the slice of the global config the bus needs. Config loading
// itself lives in internal/config.
type MqttConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	ClientID          string
	TopicPrefix       string
	HADiscoveryPrefix string
}

// MqttBus is boneIO's MQTT message bus, built on paho.mqtt.golang the way
// the teacher builds its single SMA controller client: clean session,
// retained birth/LWT availability messages on "<prefix>/state", and
// exponential-backoff auto-reconnect.
type MqttBus struct {
	cfg    MqttConfig
	client paho.Client
	cat    *catalogue

	mu          sync.Mutex
	subscribers map[string][]func(topic string, payload []byte)
	onceFired   map[string]bool
	onHAOnline  func()
}

// NewMqttBus connects and installs the availability LWT/birth messages and
// the static subscription set. It blocks until the initial
// connection attempt resolves (matching the teacher's
// `token.Wait(); token.Error()` startup check), but reconnects transparently
// afterward.
func NewMqttBus(cfg MqttConfig) (*MqttBus, error) {
	bus := &MqttBus{
		cfg:         cfg,
		cat:         newCatalogue(),
		subscribers: map[string][]func(string, []byte){},
		onceFired:   map[string]bool{},
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(brokerURL(cfg))
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(1 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	stateTopic := cfg.TopicPrefix + "/state"
	opts.SetWill(stateTopic, "offline", 0, true)
	opts.SetOnConnectHandler(func(c paho.Client) {
		log.Info("mqtt connected, publishing online availability")
		c.Publish(stateTopic, 0, true, "online")
		bus.resubscribeAll()
	})
	opts.SetConnectionLostHandler(func(c paho.Client, err error) {
		log.Warn("mqtt connection lost: %v", err)
	})

	bus.client = paho.NewClient(opts)
	token := bus.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	bus.Subscribe(cfg.TopicPrefix+"/cmd/+/+/#", func(string, []byte) {})
	bus.Subscribe(cfg.HADiscoveryPrefix+"/status", bus.handleHAStatus)
	bus.Subscribe(cfg.TopicPrefix+"/energy/#", func(string, []byte) {})
	return bus, nil
}

func brokerURL(cfg MqttConfig) string {
	host := cfg.Host
	port := cfg.Port
	if port == 0 {
		port = 1883
	}
	return "tcp://" + host + ":" + itoa(port)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (b *MqttBus) Send(topic string, payload any, retain bool) {
	data := encode(payload)
	token := b.client.Publish(topic, 0, retain, data)
	go func() {
		if !token.WaitTimeout(10 * time.Second) {
			log.Error("publish to %s timed out", topic)
			return
		}
		if err := token.Error(); err != nil {
			log.Error("publish to %s failed: %v", topic, err)
		}
	}()
}

func (b *MqttBus) Subscribe(pattern string, cb func(topic string, payload []byte)) {
	b.mu.Lock()
	b.subscribers[pattern] = append(b.subscribers[pattern], cb)
	b.mu.Unlock()
	token := b.client.Subscribe(pattern, 0, func(c paho.Client, m paho.Message) {
		cb(m.Topic(), m.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		log.Error("subscribe to %s failed: %v", pattern, err)
	}
}

func (b *MqttBus) Unsubscribe(pattern string) {
	b.mu.Lock()
	delete(b.subscribers, pattern)
	b.mu.Unlock()
	b.client.Unsubscribe(pattern)
}

// SubscribeOnce subscribes, applies the first payload received, then
// unsubscribes, the virtual-energy restore path.
func (b *MqttBus) SubscribeOnce(topic string, cb func(payload []byte)) {
	b.mu.Lock()
	if b.onceFired[topic] {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	var once sync.Once
	token := b.client.Subscribe(topic, 0, func(c paho.Client, m paho.Message) {
		once.Do(func() {
			cb(m.Payload())
			b.mu.Lock()
			b.onceFired[topic] = true
			b.mu.Unlock()
			b.client.Unsubscribe(topic)
		})
	})
	token.Wait()
}

func (b *MqttBus) IsConnectionEstablished() bool {
	return b.client.IsConnectionOpen()
}

func (b *MqttBus) AddAutodiscoveryMessage(msg AutoDiscoveryMessage) {
	b.cat.add(msg)
	b.Send(msg.Topic, msg.Payload, true)
}

func (b *MqttBus) Retire(topic string) {
	b.Send(topic, "", true)
}

func (b *MqttBus) Close() {
	stateTopic := b.cfg.TopicPrefix + "/state"
	token := b.client.Publish(stateTopic, 0, true, "offline")
	token.WaitTimeout(5 * time.Second)
	b.client.Disconnect(250)
}

func (b *MqttBus) handleHAStatus(topic string, payload []byte) {
	if string(payload) != "online" {
		return
	}
	log.Info("homeassistant came online, replaying discovery catalogue")
	for _, msg := range b.cat.all() {
		b.Send(msg.Topic, msg.Payload, true)
	}
	b.haOnline()
}

// haOnline runs the callback installed with SetHAOnlineCallback (cmd/boneio
// installs the event bus's SignalHAOnline), so this package stays
// independent of the event bus package.
func (b *MqttBus) haOnline() {
	if b.onHAOnline != nil {
		b.onHAOnline()
	}
}

// SetHAOnlineCallback installs the function run after a
// homeassistant/status=online replay; cmd/boneio passes the event bus's
// SignalHAOnline, without mqttbus importing the bus package.
func (b *MqttBus) SetHAOnlineCallback(fn func()) {
	b.onHAOnline = fn
}

func (b *MqttBus) resubscribeAll() {
	b.mu.Lock()
	patterns := make([]string, 0, len(b.subscribers))
	for p := range b.subscribers {
		patterns = append(patterns, p)
	}
	b.mu.Unlock()
	for _, p := range patterns {
		cbs := b.subscribers[p]
		for _, cb := range cbs {
			cb := cb
			b.client.Subscribe(p, 0, func(c paho.Client, m paho.Message) {
				cb(m.Topic(), m.Payload())
			})
		}
	}
}
