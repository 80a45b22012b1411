// Package mqttbus implements boneIO's message bus contract behind a
// shared interface, with two implementations: an MQTT client built on
// github.com/eclipse/paho.mqtt.golang (as the teacher does), and an
// in-process LocalBus for the --dry / no-broker case.
package mqttbus

import (
	"encoding/json"
	"strings"
	"sync"

	"boneio/internal/xlog"
)

var log = xlog.New("mqttbus")

// AutoDiscoveryType enumerates the Home Assistant discovery component
// kinds boneIO publishes under.
type AutoDiscoveryType string

const (
	DiscoveryLight         AutoDiscoveryType = "light"
	DiscoveryLED           AutoDiscoveryType = "light" // dimmable light, same HA component
	DiscoveryButton        AutoDiscoveryType = "button"
	DiscoverySwitch        AutoDiscoveryType = "switch"
	DiscoveryValve         AutoDiscoveryType = "valve"
	DiscoveryEvent         AutoDiscoveryType = "event"
	DiscoverySensor        AutoDiscoveryType = "sensor"
	DiscoveryBinarySensor  AutoDiscoveryType = "binary_sensor"
	DiscoveryCover         AutoDiscoveryType = "cover"
	DiscoveryModbusSensor  AutoDiscoveryType = "sensor"
	DiscoveryModbusSelect  AutoDiscoveryType = "select"
	DiscoveryModbusNumber  AutoDiscoveryType = "number"
	DiscoveryModbusText    AutoDiscoveryType = "sensor"
	DiscoveryModbusSwitch  AutoDiscoveryType = "switch"
)

// AutoDiscoveryMessage is remembered by the bus so the full catalogue can be
// re-emitted when homeassistant/status flips to online.
type AutoDiscoveryMessage struct {
	Type    AutoDiscoveryType
	Topic   string
	Payload any
}

// MessageBus is the contract every component depends on: publish, subscribe,
// retained messages, an availability LWT, and a remembered discovery
// catalogue.
type MessageBus interface {
	Send(topic string, payload any, retain bool)
	Subscribe(pattern string, cb func(topic string, payload []byte))
	Unsubscribe(pattern string)
	SubscribeOnce(topic string, cb func(payload []byte))
	IsConnectionEstablished() bool
	AddAutodiscoveryMessage(msg AutoDiscoveryMessage)
	Retire(topic string)
	Close()
}

// encode marshals payload the way the teacher does: strings pass through
// unencoded, everything else becomes JSON. This matches the source's
// send_message(topic, payload: str|dict) duck typing.
func encode(payload any) []byte {
	switch v := payload.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	case nil:
		return nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			log.Error("failed to marshal payload for publish: %v", err)
			return nil
		}
		return b
	}
}

// catalogue is the shared autodiscovery bookkeeping used by both
// implementations.
type catalogue struct {
	mu       sync.Mutex
	messages map[AutoDiscoveryType][]AutoDiscoveryMessage
}

func newCatalogue() *catalogue {
	return &catalogue{messages: map[AutoDiscoveryType][]AutoDiscoveryMessage{}}
}

func (c *catalogue) add(msg AutoDiscoveryMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[msg.Type] = append(c.messages[msg.Type], msg)
}

func (c *catalogue) all() []AutoDiscoveryMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []AutoDiscoveryMessage
	for _, msgs := range c.messages {
		out = append(out, msgs...)
	}
	return out
}

// topicMatches implements MQTT wildcard matching (+ single level, # trailing
// multi-level) for the LocalBus, which has no broker to do it for us.
func topicMatches(pattern, topic string) bool {
	pSegs := strings.Split(pattern, "/")
	tSegs := strings.Split(topic, "/")
	for i, p := range pSegs {
		if p == "#" {
			return true
		}
		if i >= len(tSegs) {
			return false
		}
		if p == "+" {
			continue
		}
		if p != tSegs[i] {
			return false
		}
	}
	return len(pSegs) == len(tSegs)
}
