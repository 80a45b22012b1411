// Package dispatch implements boneIO's action dispatcher: fans out
// a classified click to output/cover/mqtt actions, then publishes the
// input topic (with an optional one-shot clear_message).
package dispatch

import (
	"fmt"
	"time"

	"boneio/internal/cover"
	"boneio/internal/model"
	"boneio/internal/mqttbus"
	"boneio/internal/relay"
	"boneio/internal/xlog"
)

var log = xlog.New("dispatch")

// ActionKind discriminates one action list entry.
type ActionKind string

const (
	ActionMQTT            ActionKind = "mqtt"
	ActionOutput          ActionKind = "output"
	ActionCover           ActionKind = "cover"
	ActionOutputOverMQTT  ActionKind = "output_over_mqtt"
	ActionCoverOverMQTT   ActionKind = "cover_over_mqtt"
)

// Action is one configured reaction to a (pin, click_type) pair.
type Action struct {
	Kind ActionKind

	// mqtt
	Topic   string
	Payload string

	// output / output_over_mqtt
	OutputTarget string
	OutputOp     string // "toggle", "on", "off"

	// cover / cover_over_mqtt
	CoverTarget string
	CoverOp     string // open/close/stop/toggle/toggle_open/toggle_close/tilt_open/tilt_close
}

// Registries is the subset of the manager's entity maps the dispatcher
// needs to resolve action targets.
type Registries struct {
	Outputs      map[string]*relay.Relay
	OutputGroups map[string]*relay.Group
	Covers       map[string]cover.Cover
}

// Dispatcher executes configured action lists and publishes the input
// topic.
type Dispatcher struct {
	reg         Registries
	mqtt        mqttbus.MessageBus
	topicPrefix string

	// actions is keyed by "<pin>|<click_type>".
	actions map[string][]Action

	// clearMessage marks pins whose input topic should be cleared 200ms
	// after publish.
	clearMessage map[string]bool
}

func New(reg Registries, mb mqttbus.MessageBus, topicPrefix string) *Dispatcher {
	return &Dispatcher{
		reg:          reg,
		mqtt:         mb,
		topicPrefix:  topicPrefix,
		actions:      map[string][]Action{},
		clearMessage: map[string]bool{},
	}
}

func key(pin string, click model.ClickType) string {
	return pin + "|" + string(click)
}

// Configure registers the action list for (pin, clickType) and whether its
// input topic should self-clear.
func (d *Dispatcher) Configure(pin string, clickType model.ClickType, actions []Action, clearMessage bool) {
	d.actions[key(pin, clickType)] = actions
	if clearMessage {
		d.clearMessage[pin] = true
	}
}

// Dispatch runs the configured action list for (pin, clickType) and
// publishes the input topic.
func (d *Dispatcher) Dispatch(pin string, clickType model.ClickType, duration *float64) {
	for _, action := range d.actions[key(pin, clickType)] {
		d.execute(action)
	}
	d.publishInput(pin, clickType, duration)
}

func (d *Dispatcher) execute(a Action) {
	switch a.Kind {
	case ActionMQTT:
		d.mqtt.Send(a.Topic, a.Payload, false)

	case ActionOutput:
		if out, ok := d.reg.Outputs[a.OutputTarget]; ok {
			d.runOutputOp(out, a.OutputOp)
		} else if grp, ok := d.reg.OutputGroups[a.OutputTarget]; ok {
			d.runGroupOp(grp, a.OutputOp)
		} else {
			log.Warn("dispatch: unknown output target %q", a.OutputTarget)
		}

	case ActionCover:
		if c, ok := d.reg.Covers[a.CoverTarget]; ok {
			d.runCoverOp(c, a.CoverOp)
		} else {
			log.Warn("dispatch: unknown cover target %q", a.CoverTarget)
		}

	case ActionOutputOverMQTT:
		topic := fmt.Sprintf("%s/cmd/relay/%s/set", d.topicPrefix, a.OutputTarget)
		d.mqtt.Send(topic, a.OutputOp, false)

	case ActionCoverOverMQTT:
		topic := fmt.Sprintf("%s/cmd/cover/%s/set", d.topicPrefix, a.CoverTarget)
		d.mqtt.Send(topic, a.CoverOp, false)
	}
}

func (d *Dispatcher) runOutputOp(r *relay.Relay, op string) {
	var err error
	switch op {
	case "on":
		err = r.TurnOn()
	case "off":
		err = r.TurnOff()
	default:
		err = r.Toggle()
	}
	if err != nil {
		log.Warn("output action failed: %v", err)
	}
}

func (d *Dispatcher) runGroupOp(g *relay.Group, op string) {
	switch op {
	case "on":
		g.TurnOn()
	case "off":
		g.TurnOff()
	default:
		if g.State() == model.StateON {
			g.TurnOff()
		} else {
			g.TurnOn()
		}
	}
}

func (d *Dispatcher) runCoverOp(c cover.Cover, op string) {
	switch op {
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
	case "tilt_open":
		if tc, ok := c.(cover.TiltCover); ok {
			tc.OpenTilt()
		}
	case "tilt_close":
		if tc, ok := c.(cover.TiltCover); ok {
			tc.CloseTilt()
		}
	}
}

func (d *Dispatcher) publishInput(pin string, clickType model.ClickType, duration *float64) {
	topic := fmt.Sprintf("%s/input/%s", d.topicPrefix, pin)
	var payload any
	switch clickType {
	case model.ClickPressed, model.ClickReleased:
		payload = string(clickType)
	default:
		body := map[string]any{"event_type": string(clickType)}
		if duration != nil {
			body["duration"] = *duration
		}
		payload = body
	}
	d.mqtt.Send(topic, payload, false)

	if d.clearMessage[pin] {
		go func() {
			time.Sleep(200 * time.Millisecond)
			d.mqtt.Send(topic, "", true)
		}()
	}
}
