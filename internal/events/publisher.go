package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// GlobalRunID subscribes to the events of every run.
const GlobalRunID = "*"

// Publisher fans engine events out to subscribers keyed by run id.
type Publisher interface {
	Publish(event Event)
	// Subscribe returns a buffered channel for runID, or for every run when
	// runID is GlobalRunID.
	Subscribe(runID string) <-chan Event
	Unsubscribe(runID string, ch <-chan Event)
	Close()
}

// MemoryPublisher delivers events in process. Publish never blocks: an
// event is dropped for a subscriber whose buffer is full.
type MemoryPublisher struct {
	mu         sync.RWMutex
	subs       map[string][]chan Event
	bufferSize int
	closed     bool
	dropped    atomic.Int64
	logger     *slog.Logger
}

// PublisherOption configures a MemoryPublisher.
type PublisherOption func(*MemoryPublisher)

// WithBufferSize sets the per-subscriber channel capacity.
func WithBufferSize(size int) PublisherOption {
	return func(p *MemoryPublisher) { p.bufferSize = size }
}

// WithPublisherLogger logs dropped events at debug level.
func WithPublisherLogger(l *slog.Logger) PublisherOption {
	return func(p *MemoryPublisher) { p.logger = l }
}

func NewMemoryPublisher(opts ...PublisherOption) *MemoryPublisher {
	p := &MemoryPublisher{subs: map[string][]chan Event{}, bufferSize: 100}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

func (p *MemoryPublisher) Publish(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	p.deliver(p.subs[event.RunID], event)
	if event.RunID != GlobalRunID {
		p.deliver(p.subs[GlobalRunID], event)
	}
}

func (p *MemoryPublisher) deliver(chans []chan Event, event Event) {
	for _, ch := range chans {
		select {
		case ch <- event:
		default:
			p.dropped.Add(1)
			p.logger.Debug("event dropped, subscriber buffer full", "type", event.Type, "run_id", event.RunID)
		}
	}
}

func (p *MemoryPublisher) Subscribe(runID string) <-chan Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return closedChan()
	}
	ch := make(chan Event, p.bufferSize)
	p.subs[runID] = append(p.subs[runID], ch)
	return ch
}

// Unsubscribe closes ch and forgets it. Unknown channels are ignored.
func (p *MemoryPublisher) Unsubscribe(runID string, ch <-chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	subs := p.subs[runID]
	for i, sub := range subs {
		if sub != ch {
			continue
		}
		close(sub)
		subs = append(subs[:i], subs[i+1:]...)
		break
	}
	if len(subs) == 0 {
		delete(p.subs, runID)
		return
	}
	p.subs[runID] = subs
}

// Close closes every subscription. Later subscribers get a closed channel.
func (p *MemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, subs := range p.subs {
		for _, ch := range subs {
			close(ch)
		}
	}
	p.subs = map[string][]chan Event{}
}

// SubscriberCount returns the live subscriptions for runID.
func (p *MemoryPublisher) SubscriberCount(runID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs[runID])
}

// Dropped returns how many deliveries were skipped on full buffers.
func (p *MemoryPublisher) Dropped() int64 { return p.dropped.Load() }

// NopPublisher discards events. Used when no stream is configured.
type NopPublisher struct{}

func NewNopPublisher() *NopPublisher { return &NopPublisher{} }

func (NopPublisher) Publish(Event) {}

func (NopPublisher) Subscribe(string) <-chan Event { return closedChan() }

func (NopPublisher) Unsubscribe(string, <-chan Event) {}

func (NopPublisher) Close() {}

func closedChan() <-chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}
