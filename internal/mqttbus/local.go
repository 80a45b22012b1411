package mqttbus

import "sync"

// LocalBus is the in-process message bus used for --dry runs and tests: the
// same contract as MqttBus, with retained-value replay on subscribe instead
// of a broker.
type LocalBus struct {
	mu          sync.Mutex
	subscribers map[string][]func(topic string, payload []byte)
	retained    map[string][]byte
	cat         *catalogue
	onceFired   map[string]bool
}

func NewLocalBus() *LocalBus {
	return &LocalBus{
		subscribers: map[string][]func(string, []byte){},
		retained:    map[string][]byte{},
		cat:         newCatalogue(),
		onceFired:   map[string]bool{},
	}
}

func (b *LocalBus) Send(topic string, payload any, retain bool) {
	data := encode(payload)
	b.mu.Lock()
	if retain {
		b.retained[topic] = data
	}
	var matched []func(string, []byte)
	for pattern, cbs := range b.subscribers {
		if topicMatches(pattern, topic) {
			matched = append(matched, cbs...)
		}
	}
	b.mu.Unlock()
	for _, cb := range matched {
		go cb(topic, data)
	}
}

func (b *LocalBus) Subscribe(pattern string, cb func(topic string, payload []byte)) {
	b.mu.Lock()
	b.subscribers[pattern] = append(b.subscribers[pattern], cb)
	var replay [][2]any
	for topic, payload := range b.retained {
		if topicMatches(pattern, topic) {
			replay = append(replay, [2]any{topic, payload})
		}
	}
	b.mu.Unlock()
	for _, r := range replay {
		go cb(r[0].(string), r[1].([]byte))
	}
}

func (b *LocalBus) Unsubscribe(pattern string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, pattern)
}

func (b *LocalBus) SubscribeOnce(topic string, cb func(payload []byte)) {
	b.mu.Lock()
	if b.onceFired[topic] {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	var once sync.Once
	b.Subscribe(topic, func(t string, payload []byte) {
		once.Do(func() {
			cb(payload)
			b.mu.Lock()
			b.onceFired[topic] = true
			b.mu.Unlock()
			b.Unsubscribe(topic)
		})
	})
}

func (b *LocalBus) IsConnectionEstablished() bool { return true }

func (b *LocalBus) AddAutodiscoveryMessage(msg AutoDiscoveryMessage) {
	b.cat.add(msg)
	b.Send(msg.Topic, msg.Payload, true)
}

func (b *LocalBus) Retire(topic string) {
	b.Send(topic, "", true)
}

func (b *LocalBus) Close() {}
