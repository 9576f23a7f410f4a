// Package tagmanager adapts the consent signal to the tag-management runtimes
// a page can host, and tracks whether such a runtime is ready to receive it.
package tagmanager

import (
	"context"

	"tagconsent/internal/consent/models"
)

//go:generate mockgen -source=runtime.go -destination=mocks/mocks.go -package=mocks Runtime

// Runtime receives consent-update signals. Implementations must carry all
// seven signal keys in a single update.
type Runtime interface {
	UpdateConsent(ctx context.Context, visitorID string, signal models.Signal) error
}

// Noop is the runtime used when no tag manager is configured. Every update
// is accepted and discarded.
type Noop struct{}

// UpdateConsent implements Runtime.
func (Noop) UpdateConsent(context.Context, string, models.Signal) error {
	return nil
}
