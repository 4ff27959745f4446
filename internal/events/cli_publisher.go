package events

import (
	"fmt"
	"io"
	"sync"
)

// CLIPublisher writes a progress line per event to an io.Writer
// (typically stderr). It wraps another publisher to also fan out events.
type CLIPublisher struct {
	inner      Publisher
	out        io.Writer
	mu         sync.Mutex
	streamMode bool // If false, only run-level events are printed
}

// CLIPublisherOption configures a CLIPublisher.
type CLIPublisherOption func(*CLIPublisher)

// WithInnerPublisher sets an inner publisher to fan out events to.
func WithInnerPublisher(p Publisher) CLIPublisherOption {
	return func(c *CLIPublisher) {
		c.inner = p
	}
}

// WithStreamMode enables per-stage progress lines.
func WithStreamMode(enabled bool) CLIPublisherOption {
	return func(c *CLIPublisher) {
		c.streamMode = enabled
	}
}

// NewCLIPublisher creates a publisher that writes events to the given writer.
func NewCLIPublisher(out io.Writer, opts ...CLIPublisherOption) *CLIPublisher {
	p := &CLIPublisher{
		out:        out,
		streamMode: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish writes the event and fans out to the inner publisher.
func (p *CLIPublisher) Publish(event Event) {
	if p.inner != nil {
		p.inner.Publish(event)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch data := event.Data.(type) {
	case StageUpdate:
		if !p.streamMode {
			return
		}
		fmt.Fprintf(p.out, "[%s] %2d %-16s -> %s\n", event.RunID, data.Step, data.Stage, data.Status)
	case RunUpdate:
		switch event.Type {
		case EventRunStarted:
			verb := "started"
			if data.Resumed {
				verb = "resumed"
			}
			fmt.Fprintf(p.out, "[%s] %s at %s\n", event.RunID, verb, data.Stage)
		case EventRunPaused:
			fmt.Fprintf(p.out, "[%s] paused for review (checkpoint %s)\n", event.RunID, data.CheckpointID)
		case EventRunCompleted:
			fmt.Fprintf(p.out, "[%s] finished with status %s\n", event.RunID, data.Status)
		}
	case FailureUpdate:
		fmt.Fprintf(p.out, "[%s] failed at %s: %s\n", event.RunID, data.Stage, data.Error)
	case DecisionUpdate:
		fmt.Fprintf(p.out, "[%s] %s by %s on %s\n", event.RunID, data.Decision, data.ReviewerID, data.CheckpointID)
	}
}

// Subscribe delegates to inner publisher or returns closed channel.
func (p *CLIPublisher) Subscribe(runID string) <-chan Event {
	if p.inner != nil {
		return p.inner.Subscribe(runID)
	}
	ch := make(chan Event)
	close(ch)
	return ch
}

// Unsubscribe delegates to inner publisher.
func (p *CLIPublisher) Unsubscribe(runID string, ch <-chan Event) {
	if p.inner != nil {
		p.inner.Unsubscribe(runID, ch)
	}
}

// Close delegates to inner publisher.
func (p *CLIPublisher) Close() {
	if p.inner != nil {
		p.inner.Close()
	}
}
