package audit

import (
	"context"
	"log/slog"
	"sync"

	"tagconsent/pkg/requestcontext"
)

// Publisher captures structured audit events. It is append-only and uses the
// storage layer for persistence so tests can swap sinks easily.
type Publisher struct {
	store  Store
	events chan Event
	wg     sync.WaitGroup
	logger *slog.Logger
	async  bool

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// PublisherOption configures the Publisher.
type PublisherOption func(*Publisher)

// WithAsyncBuffer queues events and persists them in a background goroutine.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.events = make(chan Event, size)
			p.async = true
		}
	}
}

// WithPublisherLogger sets a logger for async error reporting.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.async {
		p.wg.Add(1)
		go p.processEvents()
	}
	return p
}

func (p *Publisher) processEvents() {
	defer p.wg.Done()
	for event := range p.events {
		if err := p.store.Append(context.Background(), event); err != nil && p.logger != nil {
			p.logger.Error("failed to persist audit event",
				"error", err,
				"action", event.Action,
				"visitor_id", event.VisitorID,
			)
		}
	}
}

// Close drains pending async events. Emit after Close is a no-op.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		if p.async {
			close(p.events)
			p.wg.Wait()
		}
	})
}

// Emit records an event, filling the timestamp, request ID and client
// description from ctx when the caller left them empty.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.Browser == "" {
		event.Browser, event.Platform = DescribeUserAgent(requestcontext.UserAgent(ctx))
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil
	}
	if p.async {
		// Drop rather than block the request path when the buffer is full.
		select {
		case p.events <- event:
		default:
			if p.logger != nil {
				p.logger.Warn("audit buffer full, event dropped",
					"action", event.Action,
					"visitor_id", event.VisitorID,
				)
			}
		}
		return nil
	}
	return p.store.Append(ctx, event)
}

func (p *Publisher) List(ctx context.Context, visitorID string) ([]Event, error) {
	return p.store.ListByVisitor(ctx, visitorID)
}

