package tagmanager

import (
	"context"
	"log/slog"

	"tagconsent/internal/consent/models"
	"tagconsent/pkg/platform/circuit"
)

// Fallback delivers through a primary runtime and degrades to a secondary
// one while the primary keeps failing.
//
// Every update attempts the primary so the breaker can observe recovery.
// Once the breaker is open a failed primary update is delivered through the
// fallback instead and reported as success.
type Fallback struct {
	primary  Runtime
	fallback Runtime
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

func NewFallback(primary, fallback Runtime, breaker *circuit.Breaker, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{
		primary:  primary,
		fallback: fallback,
		breaker:  breaker,
		logger:   logger,
	}
}

// UpdateConsent implements Runtime.
func (f *Fallback) UpdateConsent(ctx context.Context, visitorID string, signal models.Signal) error {
	err := f.primary.UpdateConsent(ctx, visitorID, signal)
	if err == nil {
		if _, change := f.breaker.RecordSuccess(); change.Closed {
			f.logger.InfoContext(ctx, "tag runtime recovered, leaving fallback", "circuit", f.breaker.Name())
		}
		return nil
	}

	useFallback, change := f.breaker.RecordFailure()
	if change.Opened {
		f.logger.WarnContext(ctx, "tag runtime failing, switching to fallback",
			"circuit", f.breaker.Name(),
			"error", err,
		)
	}
	if !useFallback {
		return err
	}
	return f.fallback.UpdateConsent(ctx, visitorID, signal)
}
