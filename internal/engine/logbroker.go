package engine

import (
	"sync"
	"time"
)

// subscriberBufferSize is the channel buffer for each log subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// LogEvent is a log record as delivered to live subscribers.
type LogEvent struct {
	Time      time.Time `json:"time"`
	Level     int       `json:"level"`
	LevelName string    `json:"level_name"`
	Message   string    `json:"message"`
}

// LogBroker fans log events out to subscribers by topic. A topic is usually
// the name of a loaded cache. It is safe for concurrent use.
//
// Closed topics are retained as markers so that late subscribers receive a
// closed channel instead of blocking forever.
type LogBroker struct {
	mu     sync.Mutex
	topics map[string]*logTopic
}

type logTopic struct {
	subs   map[int]chan LogEvent
	nextID int
	closed bool
}

// NewLogBroker creates a new log broker.
func NewLogBroker() *LogBroker {
	return &LogBroker{
		topics: make(map[string]*logTopic),
	}
}

// Subscribe returns a channel that receives events for topic and an
// unsubscribe function. If the topic has been closed, the returned channel
// is already closed.
func (b *LogBroker) Subscribe(topic string) (<-chan LogEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topic]
	if !ok {
		t = &logTopic{subs: make(map[int]chan LogEvent)}
		b.topics[topic] = t
	}

	ch := make(chan LogEvent, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends ev to all subscribers of topic. Events are dropped for
// subscribers whose buffers are full.
func (b *LogBroker) Publish(topic string, ev LogEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topic]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			// Never block the loop on a slow subscriber.
		}
	}
}

// Close signals that no more events will be published for topic.
func (b *LogBroker) Close(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topic]
	if !ok {
		b.topics[topic] = &logTopic{subs: make(map[int]chan LogEvent), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
