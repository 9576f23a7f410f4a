package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"tagconsent/internal/consent/models"
	"tagconsent/pkg/platform/sentinel"
)

// TestVisitors provides deterministic visitor IDs for tests.
var TestVisitors = struct {
	First  string
	Second string
}{
	First:  "11111111-1111-1111-1111-111111111111",
	Second: "22222222-2222-2222-2222-222222222222",
}

// ErrBackendDown is returned by FlakyBackend while it is failing.
var ErrBackendDown = errors.New("backend down")

// Clock is a settable clock for deterministic tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// FlakyBackend is a consent backend whose reads and writes can be switched
// to fail. It stores records without expiry.
type FlakyBackend struct {
	mu         sync.Mutex
	records    map[string][]byte
	FailReads  bool
	FailWrites bool
	Writes     int
}

// NewFlakyBackend constructs an empty FlakyBackend.
func NewFlakyBackend() *FlakyBackend {
	return &FlakyBackend{records: make(map[string][]byte)}
}

// Seed stores a raw payload directly, bypassing failure switches.
func (b *FlakyBackend) Seed(visitorID string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[visitorID] = payload
}

// Raw returns the stored payload for visitorID, or nil.
func (b *FlakyBackend) Raw(visitorID string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.records[visitorID]
}

func (b *FlakyBackend) Get(_ context.Context, visitorID string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailReads {
		return nil, ErrBackendDown
	}
	payload, ok := b.records[visitorID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return payload, nil
}

func (b *FlakyBackend) Put(_ context.Context, visitorID string, payload []byte, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailWrites {
		return ErrBackendDown
	}
	b.Writes++
	b.records[visitorID] = payload
	return nil
}

func (b *FlakyBackend) Delete(_ context.Context, visitorID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailWrites {
		return ErrBackendDown
	}
	delete(b.records, visitorID)
	return nil
}

// SetFailing toggles both read and write failures.
func (b *FlakyBackend) SetFailing(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.FailReads = fail
	b.FailWrites = fail
}

// PreferencesOf builds preferences from a list of granted categories.
func PreferencesOf(granted ...models.Category) models.Preferences {
	sel := make(map[models.Category]bool, len(granted))
	for _, c := range granted {
		sel[c] = true
	}
	return models.FromSelection(sel)
}
