// Package cover implements boneIO's cover engine: three motion
// algorithms sharing one control surface (open/close/stop/toggle/
// set_cover_position, plus tilt operations for venetian covers). The
// time-based and venetian position axes are recomputed on a 50ms loop,
// venetian tilt on a 10ms loop, and the previous cover steps its position
// on the event bus's 1 Hz tick.
package cover

import (
	"fmt"
	"math"
	"sync"
	"time"

	"boneio/internal/bus"
	"boneio/internal/model"
	"boneio/internal/mqttbus"
	"boneio/internal/relay"
	"boneio/internal/state"
	"boneio/internal/xlog"
)

var log = xlog.New("cover")

const moveUpdateInterval = 50 * time.Millisecond
const tiltUpdateInterval = 10 * time.Millisecond

// Kind names the three cover algorithms.
type Kind string

const (
	KindPrevious Kind = "previous" // position stepped on a 1 Hz tick, rounded to the nearest 10 while driving to a target
	KindTime     Kind = "time"
	KindVenetian Kind = "venetian"
)

// Cover is the common control surface every variant implements.
type Cover interface {
	ID() string
	Open()
	Close()
	Stop()
	Toggle()
	ToggleOpen()
	ToggleClose()
	SetPosition(position int)
}

// TiltCover extends Cover with venetian tilt operations.
type TiltCover interface {
	Cover
	OpenTilt()
	CloseTilt()
	StopTilt()
	SetTilt(tilt int)
}

type publisher struct {
	id    string
	name  string
	b     *bus.Bus
	mqtt  mqttbus.MessageBus
	topic string
}

func (p *publisher) publish(st model.CoverStateValue, op model.CoverOperation, position int, tilt *int) {
	now := float64(time.Now().UnixNano()) / 1e9
	p.mqtt.Send(p.topic+"/state", string(st), true)
	p.mqtt.Send(p.topic+"/pos", map[string]int{"position": position}, true)
	if tilt != nil {
		p.mqtt.Send(p.topic+"/tilt", map[string]int{"tilt": *tilt}, true)
	}
	p.b.Trigger(bus.Event{
		Type:     bus.EventCover,
		EntityID: p.id,
		Payload: model.CoverState{
			ID: p.id, Name: p.name, State: st, CurrentOperation: op,
			Position: position, Tilt: tilt, Timestamp: now,
		},
	})
}

func stateFor(position int) model.CoverStateValue {
	if position <= 0 {
		return model.CoverClosed
	}
	return model.CoverOpen
}

// PreviousCover estimates position from a fixed steps-per-second rate
// applied on the event bus's 1 Hz tick, rather than time_based.py's
// continuous elapsed-time formula — the "simple" variant kept for
// backward compatibility with relay-pair setups that predate position
// tracking. Grounded on previous.py's listen_cover/run_cover/
// set_cover_position.
type PreviousCover struct {
	publisher
	openRelay, closeRelay *relay.Relay
	saver                 *state.Manager
	openStep              float64 // 100 / open_time_s, applied once per tick
	closeStep             float64

	mu               sync.Mutex
	position         float64
	operation        model.CoverOperation
	requestedClosing bool
	setPosition      *int // non-nil while driving toward an absolute SetPosition target
}

func NewPreviousCover(id, name string, openRelay, closeRelay *relay.Relay, openDuration, closeDuration time.Duration, restoredPosition int, b *bus.Bus, mb mqttbus.MessageBus, saver *state.Manager, topicPrefix string) *PreviousCover {
	return &PreviousCover{
		publisher:  publisher{id: id, name: name, b: b, mqtt: mb, topic: fmt.Sprintf("%s/cover/%s", topicPrefix, id)},
		openRelay:  openRelay,
		closeRelay: closeRelay,
		saver:      saver,
		openStep:   100 / openDuration.Seconds(),
		closeStep:  100 / closeDuration.Seconds(),
		position:   float64(restoredPosition),
		operation:  model.OperationIdle,
	}
}

func (c *PreviousCover) ID() string { return c.publisher.id }

func (c *PreviousCover) tickerName() string { return "cover" + c.publisher.id }

// run stops any motion already in progress, then drives the relay for the
// requested direction and arms the 1 Hz stepping tick, per run_cover.
func (c *PreviousCover) run(op model.CoverOperation, closing bool) {
	c.mu.Lock()
	wasRunning := c.operation != model.OperationIdle
	c.mu.Unlock()
	if wasRunning {
		c.stopMotion(false)
	}
	c.mu.Lock()
	c.operation = op
	c.requestedClosing = closing
	c.mu.Unlock()

	moveRelay, otherRelay := c.openRelay, c.closeRelay
	if closing {
		moveRelay, otherRelay = c.closeRelay, c.openRelay
	}
	if otherRelay.IsActive() {
		_ = otherRelay.TurnOff()
	}
	c.b.AddEverySecondListener(c.tickerName(), c.tick)
	_ = moveRelay.TurnOn()
}

func (c *PreviousCover) Open() {
	c.mu.Lock()
	atLimit := c.position >= 100
	pos := int(c.position + 0.5)
	c.mu.Unlock()
	if atLimit {
		return
	}
	c.publish(model.CoverOpening, model.OperationOpening, pos, nil)
	c.run(model.OperationOpening, false)
}

func (c *PreviousCover) Close() {
	c.mu.Lock()
	atLimit := c.position <= 0
	pos := int(c.position + 0.5)
	c.mu.Unlock()
	if atLimit {
		return
	}
	c.publish(model.CoverClosing, model.OperationClosing, pos, nil)
	c.run(model.OperationClosing, true)
}

func (c *PreviousCover) Stop() {
	c.stopMotion(true)
}

func (c *PreviousCover) Toggle() {
	c.mu.Lock()
	op := c.operation
	c.mu.Unlock()
	if op == model.OperationIdle {
		c.Open()
	} else {
		c.Stop()
	}
}

func (c *PreviousCover) ToggleOpen() { c.Open() }
func (c *PreviousCover) ToggleClose() { c.Close() }

// SetPosition drives toward position, rounded to the nearest 10% (the
// variant's tick only resolves position in 10% steps once under way), per
// set_cover_position.
func (c *PreviousCover) SetPosition(position int) {
	target := roundToNearestTen(position)
	c.mu.Lock()
	current := int(c.position + 0.5)
	samePosition := current == target
	sameTarget := c.setPosition != nil && *c.setPosition == target
	hadTarget := c.setPosition != nil
	closing := target < current
	c.mu.Unlock()
	if samePosition || sameTarget {
		return
	}
	if hadTarget {
		c.stopMotion(false)
	}

	c.mu.Lock()
	c.setPosition = &target
	c.mu.Unlock()

	op := model.OperationOpening
	st := model.CoverOpening
	if closing {
		op = model.OperationClosing
		st = model.CoverClosing
	}
	c.publish(st, op, current, nil)
	c.run(op, closing)
}

// tick runs once per second while moving, stepping position by the
// configured rate and rounding per listen_cover: plain nearest-integer
// while free-running to/from the extremes, but snapped to the nearest 10%
// once a SetPosition target is active — except right at the start or end
// of travel, where the finer-grained nearest-integer rounding is kept so
// short moves can still register and the cover can still reach 0/100.
func (c *PreviousCover) tick() {
	c.mu.Lock()
	if c.operation == model.OperationIdle {
		c.mu.Unlock()
		return
	}
	step := c.openStep
	closing := c.requestedClosing
	if closing {
		step = -c.closeStep
	}
	c.position += step

	rounded := int(math.Round(c.position))
	target := c.setPosition
	if target != nil {
		if rounded > 5 && rounded < 95 {
			rounded = roundFloatToNearestTen(c.position)
		}
	} else if rounded > 100 {
		rounded = 100
	} else if rounded < 0 {
		rounded = 0
	}

	reached := (target != nil && rounded == *target) || (target == nil && (rounded >= 100 || rounded <= 0))
	if reached {
		c.position = float64(rounded)
	}
	op := c.operation
	c.mu.Unlock()

	c.publish(stateFor(rounded), op, rounded, nil)
	if reached {
		c.stopMotion(true)
	}
}

// stopMotion turns off both relays and disarms the tick. publish controls
// whether the settled state is sent and persisted — on_exit paths in the
// source skip this when a new move immediately supersedes the old one.
func (c *PreviousCover) stopMotion(publish bool) {
	c.b.RemoveEverySecondListener(c.tickerName())
	_ = c.openRelay.TurnOff()
	_ = c.closeRelay.TurnOff()
	c.mu.Lock()
	c.operation = model.OperationIdle
	c.setPosition = nil
	pos := int(c.position + 0.5)
	c.mu.Unlock()
	if !publish {
		return
	}
	c.publish(stateFor(pos), model.OperationIdle, pos, nil)
	if c.saver != nil {
		c.saver.SetCoverState(c.publisher.id, pos, nil)
		c.saver.Save()
	}
}

func roundToNearestTen(n int) int {
	return int(math.Round(float64(n)/10.0)) * 10
}

func roundFloatToNearestTen(x float64) int {
	return int(math.Round(x/10.0)) * 10
}

// TimeBasedCover estimates position from elapsed motor run time, per
// time_based.py.
type TimeBasedCover struct {
	publisher
	openRelay, closeRelay *relay.Relay
	saver                 *state.Manager
	openDuration          time.Duration
	closeDuration         time.Duration

	mu              sync.Mutex
	position        float64
	operation       model.CoverOperation
	targetPosition  *float64
	startTime       time.Time
	startPosition   float64
	lastUpdate      time.Time
	stopCh          chan struct{}
}

func NewTimeBasedCover(id, name string, openRelay, closeRelay *relay.Relay, openDuration, closeDuration time.Duration, restoredPosition int, b *bus.Bus, mb mqttbus.MessageBus, saver *state.Manager, topicPrefix string) *TimeBasedCover {
	return &TimeBasedCover{
		publisher:     publisher{id: id, name: name, b: b, mqtt: mb, topic: fmt.Sprintf("%s/cover/%s", topicPrefix, id)},
		openRelay:     openRelay,
		closeRelay:    closeRelay,
		saver:         saver,
		openDuration:  openDuration,
		closeDuration: closeDuration,
		position:      float64(restoredPosition),
		operation:     model.OperationIdle,
	}
}

func (c *TimeBasedCover) ID() string { return c.publisher.id }

func (c *TimeBasedCover) Open() {
	c.mu.Lock()
	if c.position >= 100 {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.run(model.OperationOpening, nil)
}

func (c *TimeBasedCover) Close() {
	c.mu.Lock()
	if c.position <= 0 {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.run(model.OperationClosing, nil)
}

func (c *TimeBasedCover) Toggle() {
	c.mu.Lock()
	op := c.operation
	c.mu.Unlock()
	if op != model.OperationIdle {
		c.Stop()
		return
	}
	c.Open()
}

func (c *TimeBasedCover) ToggleOpen() {
	c.mu.Lock()
	op := c.operation
	c.mu.Unlock()
	if op == model.OperationOpening {
		c.Stop()
		return
	}
	c.Open()
}

func (c *TimeBasedCover) ToggleClose() {
	c.mu.Lock()
	op := c.operation
	c.mu.Unlock()
	if op == model.OperationClosing {
		c.Stop()
		return
	}
	c.Close()
}

// SetPosition drives toward an absolute target, stopping any motion in
// progress first, per set_cover_position in the source.
func (c *TimeBasedCover) SetPosition(position int) {
	target := float64(position)
	c.mu.Lock()
	if c.position == target {
		c.mu.Unlock()
		return
	}
	if c.targetPosition != nil {
		c.mu.Unlock()
		c.stopMotion()
		c.mu.Lock()
	}
	direction := model.OperationOpening
	if target < c.position {
		direction = model.OperationClosing
	}
	c.mu.Unlock()
	c.run(direction, &target)
}

func (c *TimeBasedCover) run(op model.CoverOperation, target *float64) {
	c.stopMotion()
	c.mu.Lock()
	c.operation = op
	c.targetPosition = target
	c.startTime = time.Now()
	c.startPosition = c.position
	c.stopCh = make(chan struct{})
	stopCh := c.stopCh
	c.mu.Unlock()

	moveRelay, otherRelay := c.openRelay, c.closeRelay
	if op == model.OperationClosing {
		moveRelay, otherRelay = c.closeRelay, c.openRelay
	}
	if otherRelay.IsActive() {
		_ = otherRelay.TurnOff()
	}
	_ = moveRelay.TurnOn()

	go c.motionLoop(stopCh)
}

func (c *TimeBasedCover) motionLoop(stopCh chan struct{}) {
	ticker := time.NewTicker(moveUpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if c.tick() {
				c.stopMotion()
				return
			}
		}
	}
}

// tick recomputes position and publishes on target-reach or >=1s since the
// last publish, returning true when the target has been reached.
func (c *TimeBasedCover) tick() bool {
	c.mu.Lock()
	if c.operation == model.OperationIdle {
		c.mu.Unlock()
		return false
	}
	elapsedMs := float64(time.Since(c.startTime).Milliseconds())
	duration := c.openDuration.Milliseconds()
	if c.operation == model.OperationClosing {
		duration = c.closeDuration.Milliseconds()
	}
	delta := elapsedMs / float64(duration) * 100.0
	var newPos float64
	if c.operation == model.OperationOpening {
		newPos = c.startPosition + delta
	} else {
		newPos = c.startPosition - delta
	}
	if newPos < 0 {
		newPos = 0
	}
	if newPos > 100 {
		newPos = 100
	}
	c.position = newPos
	rounded := int(newPos + 0.5)

	isTarget := c.targetPosition == nil && (rounded >= 100 || rounded <= 0)
	if target := c.targetPosition; target != nil {
		isTarget = (c.operation == model.OperationOpening && newPos >= *target) ||
			(c.operation == model.OperationClosing && newPos <= *target)
	}
	shouldPublish := time.Since(c.lastUpdate) >= time.Second || isTarget
	op := c.operation
	pos := rounded
	c.mu.Unlock()

	if shouldPublish {
		c.publish(stateFor(pos), op, pos, nil)
		c.mu.Lock()
		c.lastUpdate = time.Now()
		c.mu.Unlock()
	}
	return isTarget
}

func (c *TimeBasedCover) Stop() {
	c.stopMotion()
	c.mu.Lock()
	pos := int(c.position + 0.5)
	c.mu.Unlock()
	c.publish(stateFor(pos), model.OperationIdle, pos, nil)
	if c.saver != nil {
		c.saver.SetCoverState(c.publisher.id, pos, nil)
		c.saver.Save()
	}
}

func (c *TimeBasedCover) stopMotion() {
	c.mu.Lock()
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
	c.operation = model.OperationIdle
	c.targetPosition = nil
	c.mu.Unlock()
	_ = c.openRelay.TurnOff()
	_ = c.closeRelay.TurnOff()
}

// VenetianCover adds slat tilt to the time-based algorithm. Tilt runs on
// its own 10ms loop: after the actuator dead time it moves linearly over
// tiltDuration toward an extreme or a SetTilt target. Position motion is
// the embedded TimeBasedCover's loop unchanged: it does not wait out the
// actuator dead time and does not move the tilt.
type VenetianCover struct {
	*TimeBasedCover

	tiltDuration     time.Duration
	actuatorDeadTime time.Duration

	mu            sync.Mutex
	tilt          float64
	tiltOperation model.CoverOperation
	tiltStartTime time.Time
	tiltStart     float64
	tiltStopCh    chan struct{}
	targetTilt    *int // non-nil while SetTilt is driving toward a specific value
}

func NewVenetianCover(id, name string, openRelay, closeRelay *relay.Relay, openDuration, closeDuration, tiltDuration, actuatorDeadTime time.Duration, restoredPosition, restoredTilt int, b *bus.Bus, mb mqttbus.MessageBus, saver *state.Manager, topicPrefix string) *VenetianCover {
	return &VenetianCover{
		TimeBasedCover:   NewTimeBasedCover(id, name, openRelay, closeRelay, openDuration, closeDuration, restoredPosition, b, mb, saver, topicPrefix),
		tiltDuration:     tiltDuration,
		actuatorDeadTime: actuatorDeadTime,
		tilt:             float64(restoredTilt),
		tiltOperation:    model.OperationIdle,
	}
}

func (c *VenetianCover) OpenTilt()  { c.runTilt(model.OperationOpening, nil) }
func (c *VenetianCover) CloseTilt() { c.runTilt(model.OperationClosing, nil) }

// runTilt starts tilt motion toward the extreme (target nil) or toward a
// specific target value set by SetTilt.
func (c *VenetianCover) runTilt(op model.CoverOperation, target *int) {
	c.stopTiltMotion()
	moveRelay, otherRelay := c.openRelay, c.closeRelay
	if op == model.OperationClosing {
		moveRelay, otherRelay = c.closeRelay, c.openRelay
	}
	if otherRelay.IsActive() {
		_ = otherRelay.TurnOff()
	}
	_ = moveRelay.TurnOn()

	c.mu.Lock()
	c.tiltOperation = op
	c.tiltStartTime = time.Now()
	c.tiltStart = c.tilt
	c.targetTilt = target
	c.tiltStopCh = make(chan struct{})
	stopCh := c.tiltStopCh
	c.mu.Unlock()

	go c.tiltLoop(stopCh)
}

func (c *VenetianCover) tiltLoop(stopCh chan struct{}) {
	ticker := time.NewTicker(tiltUpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if c.tickTilt() {
				c.stopTiltMotion()
				return
			}
		}
	}
}

func (c *VenetianCover) tickTilt() bool {
	c.mu.Lock()
	if c.tiltOperation == model.OperationIdle {
		c.mu.Unlock()
		return false
	}
	elapsedMs := float64(time.Since(c.tiltStartTime).Milliseconds())
	if elapsedMs < float64(c.actuatorDeadTime.Milliseconds()) {
		c.mu.Unlock()
		return false
	}
	elapsedMs -= float64(c.actuatorDeadTime.Milliseconds())
	progress := elapsedMs / float64(c.tiltDuration.Milliseconds())
	var newTilt float64
	saturated := progress >= 1.0
	if c.tiltOperation == model.OperationOpening {
		newTilt = c.tiltStart + (100.0-c.tiltStart)*progress
		if newTilt > 100 {
			newTilt = 100
		}
	} else {
		newTilt = c.tiltStart - c.tiltStart*progress
		if newTilt < 0 {
			newTilt = 0
		}
	}

	reached := saturated
	if c.targetTilt != nil {
		target := float64(*c.targetTilt)
		reached = (c.tiltOperation == model.OperationOpening && newTilt >= target) ||
			(c.tiltOperation == model.OperationClosing && newTilt <= target)
		if reached {
			newTilt = target
		}
	}
	c.tilt = newTilt
	tiltInt := int(newTilt + 0.5)
	pos := int(c.position + 0.5)
	op := c.operation
	c.mu.Unlock()

	c.publish(stateFor(pos), op, pos, &tiltInt)
	return reached
}

func (c *VenetianCover) StopTilt() {
	c.stopTiltMotion()
	c.mu.Lock()
	tiltInt := int(c.tilt + 0.5)
	pos := int(c.position + 0.5)
	c.mu.Unlock()
	c.publish(stateFor(pos), model.OperationIdle, pos, &tiltInt)
	if c.saver != nil {
		c.saver.SetCoverState(c.publisher.id, pos, &tiltInt)
		c.saver.Save()
	}
}

func (c *VenetianCover) stopTiltMotion() {
	c.mu.Lock()
	if c.tiltStopCh != nil {
		close(c.tiltStopCh)
		c.tiltStopCh = nil
	}
	c.tiltOperation = model.OperationIdle
	c.targetTilt = nil
	c.mu.Unlock()
}

// SetTilt drives toward an absolute tilt value, stopping once tilt reaches
// (or crosses, on the last tick) target, rather than running all the way
// to an extreme — per venetian.py's set_tilt/target_tilt_position.
func (c *VenetianCover) SetTilt(tilt int) {
	target := float64(tilt)
	c.mu.Lock()
	current := c.tilt
	c.mu.Unlock()
	if current == target {
		return
	}
	op := model.OperationOpening
	if target < current {
		op = model.OperationClosing
	}
	c.runTilt(op, &tilt)
}

// Stop overrides TimeBasedCover.Stop to also cancel tilt motion, per
// venetian.py's stop() stopping both axes.
func (c *VenetianCover) Stop() {
	c.stopTiltMotion()
	c.TimeBasedCover.Stop()
}
