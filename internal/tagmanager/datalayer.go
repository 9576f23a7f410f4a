package tagmanager

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"tagconsent/internal/consent/models"
)

const (
	defaultQueueLimit  = 32
	defaultMaxVisitors = 10000
	defaultQueueTTL    = 15 * time.Minute
)

// Command is one dataLayer entry in the gtag calling convention:
// ["consent", "update", {key: value, ...}].
type Command struct {
	Signal models.Signal
}

// MarshalJSON renders the command as the three-element array the page
// replays into its tag runtime.
func (c Command) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{"consent", "update", c.Signal})
}

// DataLayer queues consent commands per visitor until the visitor's page
// drains them.
//
// Invariants:
//   - a visitor's queue never exceeds the queue limit; the oldest commands
//     are discarded first
//   - at most maxVisitors queues are held; queues idle longer than ttl are
//     evicted first, then the least recently updated one
type DataLayer struct {
	mu          sync.Mutex
	queues      map[string]*visitorQueue
	limit       int
	maxVisitors int
	ttl         time.Duration
	now         func() time.Time
}

type visitorQueue struct {
	commands []Command
	updated  time.Time
}

// DataLayerOption configures a DataLayer.
type DataLayerOption func(*DataLayer)

// WithQueueLimit bounds the commands kept per visitor.
func WithQueueLimit(n int) DataLayerOption {
	return func(d *DataLayer) {
		if n > 0 {
			d.limit = n
		}
	}
}

// WithMaxVisitors bounds how many visitors can have undrained commands.
func WithMaxVisitors(n int) DataLayerOption {
	return func(d *DataLayer) {
		if n > 0 {
			d.maxVisitors = n
		}
	}
}

// WithQueueTTL sets how long an undrained queue is kept once the visitor
// limit is reached.
func WithQueueTTL(ttl time.Duration) DataLayerOption {
	return func(d *DataLayer) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// WithDataLayerClock overrides the clock used for queue ages.
func WithDataLayerClock(now func() time.Time) DataLayerOption {
	return func(d *DataLayer) {
		if now != nil {
			d.now = now
		}
	}
}

func NewDataLayer(opts ...DataLayerOption) *DataLayer {
	d := &DataLayer{
		queues:      make(map[string]*visitorQueue),
		limit:       defaultQueueLimit,
		maxVisitors: defaultMaxVisitors,
		ttl:         defaultQueueTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// UpdateConsent implements Runtime.
func (d *DataLayer) UpdateConsent(_ context.Context, visitorID string, signal models.Signal) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	q, ok := d.queues[visitorID]
	if !ok {
		if len(d.queues) >= d.maxVisitors {
			d.evictLocked(now)
		}
		q = &visitorQueue{}
		d.queues[visitorID] = q
	}
	q.commands = append(q.commands, Command{Signal: signal})
	if len(q.commands) > d.limit {
		q.commands = q.commands[len(q.commands)-d.limit:]
	}
	q.updated = now
	return nil
}

// Drain returns and clears the visitor's queued commands in push order.
func (d *DataLayer) Drain(visitorID string) []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.queues[visitorID]
	if !ok {
		return nil
	}
	delete(d.queues, visitorID)
	return q.commands
}

// Pending reports how many commands are waiting for the visitor.
func (d *DataLayer) Pending(visitorID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if q, ok := d.queues[visitorID]; ok {
		return len(q.commands)
	}
	return 0
}

// Visitors reports how many visitors have undrained commands.
func (d *DataLayer) Visitors() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// evictLocked drops expired queues, or the least recently updated one when
// none has expired. Called only at the visitor limit.
func (d *DataLayer) evictLocked(now time.Time) {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, q := range d.queues {
		if now.Sub(q.updated) > d.ttl {
			delete(d.queues, id)
			continue
		}
		if oldestID == "" || q.updated.Before(oldest) {
			oldestID, oldest = id, q.updated
		}
	}
	if len(d.queues) >= d.maxVisitors && oldestID != "" {
		delete(d.queues, oldestID)
	}
}
