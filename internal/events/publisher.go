package events

import "sync"

// GlobalTaskID subscribes to every task's events instead of a single one.
const GlobalTaskID = "*"

// Publisher fans task events out to subscribers.
//
// Delivery is best effort: a subscriber that stops draining its channel
// misses events rather than blocking publishers.
type Publisher interface {
	Publish(event Event)
	// Subscribe returns a channel of events for taskID; pass GlobalTaskID
	// to observe all tasks.
	Subscribe(taskID string) <-chan Event
	// Unsubscribe detaches and closes a channel returned by Subscribe.
	Unsubscribe(taskID string, ch <-chan Event)
	Close()
}

// MemoryPublisher is the in-process Publisher used by the server. Channels
// are buffered; sends never block.
type MemoryPublisher struct {
	mu         sync.RWMutex
	subs       map[string][]chan Event
	bufferSize int
	closed     bool
}

// PublisherOption configures a MemoryPublisher.
type PublisherOption func(*MemoryPublisher)

// WithBufferSize overrides the per-subscriber channel buffer (default 100).
func WithBufferSize(size int) PublisherOption {
	return func(p *MemoryPublisher) {
		p.bufferSize = size
	}
}

func NewMemoryPublisher(opts ...PublisherOption) *MemoryPublisher {
	p := &MemoryPublisher{
		subs:       make(map[string][]chan Event),
		bufferSize: 100,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish delivers event to the task's subscribers and to global
// subscribers. Full channels are skipped.
func (p *MemoryPublisher) Publish(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return
	}

	p.send(event.TaskID, event)
	if event.TaskID != GlobalTaskID {
		p.send(GlobalTaskID, event)
	}
}

// send requires p.mu held for reading.
func (p *MemoryPublisher) send(key string, event Event) {
	for _, ch := range p.subs[key] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers a new channel for taskID. After Close it returns an
// already-closed channel, so range loops over it terminate.
func (p *MemoryPublisher) Subscribe(taskID string) <-chan Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, p.bufferSize)
	p.subs[taskID] = append(p.subs[taskID], ch)
	return ch
}

// Unsubscribe detaches ch from taskID and closes it. Unknown channels are
// ignored.
func (p *MemoryPublisher) Unsubscribe(taskID string, ch <-chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	subs := p.subs[taskID]
	for i, sub := range subs {
		if sub == ch {
			p.subs[taskID] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}

	if len(p.subs[taskID]) == 0 {
		delete(p.subs, taskID)
	}
}

// Close closes every subscriber channel. Later Publish calls are dropped.
func (p *MemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	for taskID, subs := range p.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(p.subs, taskID)
	}
}

// SubscriberCount reports how many channels are registered for taskID.
func (p *MemoryPublisher) SubscriberCount(taskID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs[taskID])
}

// NopPublisher discards all events; Subscribe hands back a closed channel.
// It stands in for the bus in tests and when streaming is disabled.
type NopPublisher struct{}

func NewNopPublisher() *NopPublisher {
	return &NopPublisher{}
}

func (p *NopPublisher) Publish(event Event) {}

func (p *NopPublisher) Subscribe(taskID string) <-chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}

func (p *NopPublisher) Unsubscribe(taskID string, ch <-chan Event) {}

func (p *NopPublisher) Close() {}
