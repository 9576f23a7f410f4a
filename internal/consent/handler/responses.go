package handler

import (
	"time"

	"tagconsent/internal/consent/models"
	"tagconsent/internal/consent/session"
	"tagconsent/internal/tagmanager"
)

// DecisionResponse is a recorded decision in HTTP responses.
type DecisionResponse struct {
	Preferences map[string]bool `json:"preferences"`
	RecordedAt  time.Time       `json:"recorded_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
	Version     int             `json:"version"`
	Source      string          `json:"source"`
}

// StateResponse describes the visitor's consent state.
type StateResponse struct {
	HasDecision bool              `json:"has_decision"`
	Decision    *DecisionResponse `json:"decision,omitempty"`
	Signal      *models.Signal    `json:"signal,omitempty"`
	Outdated    bool              `json:"outdated"`
	Draft       map[string]bool   `json:"draft"`
	Sync        string            `json:"sync,omitempty"`
}

// ActionResponse is returned by the committing actions. The decision always
// governs the visitor, even when persisted is false.
type ActionResponse struct {
	Decision  DecisionResponse `json:"decision"`
	Signal    models.Signal    `json:"signal"`
	Persisted bool             `json:"persisted"`
	Sync      string           `json:"sync"`
}

// DraftResponse carries the unsaved toggle state.
type DraftResponse struct {
	Draft map[string]bool `json:"draft"`
}

// CategoryResponse describes one consent category.
type CategoryResponse struct {
	Name         string `json:"name"`
	UserSettable bool   `json:"user_settable"`
}

// CategoriesResponse lists categories in display order.
type CategoriesResponse struct {
	Categories []CategoryResponse `json:"categories"`
}

// DataLayerResponse carries queued dataLayer commands for the page to replay.
type DataLayerResponse struct {
	Commands []tagmanager.Command `json:"commands"`
}

func toDecisionResponse(d models.Decision) DecisionResponse {
	return DecisionResponse{
		Preferences: toSelection(d.Preferences),
		RecordedAt:  d.RecordedAt,
		ExpiresAt:   d.ExpiresAt(),
		Version:     d.Version,
		Source:      string(d.Source),
	}
}

func toStateResponse(s *session.Session, sync session.SyncStatus) StateResponse {
	res := StateResponse{
		Draft: toSelection(s.Draft()),
	}
	if sync != "" {
		res.Sync = string(sync)
	}
	if d := s.CurrentDecision(); d != nil {
		decision := toDecisionResponse(*d)
		signal := models.DeriveSignal(d.Preferences)
		res.HasDecision = true
		res.Decision = &decision
		res.Signal = &signal
		res.Outdated = d.Outdated()
	}
	return res
}

func toActionResponse(out session.Outcome) ActionResponse {
	return ActionResponse{
		Decision:  toDecisionResponse(out.Decision),
		Signal:    models.DeriveSignal(out.Decision.Preferences),
		Persisted: out.Persisted,
		Sync:      string(out.Sync),
	}
}

func toSelection(p models.Preferences) map[string]bool {
	out := make(map[string]bool, len(models.Categories()))
	for c, granted := range p.Map() {
		out[c.String()] = granted
	}
	return out
}

func toCategoriesResponse() CategoriesResponse {
	categories := models.Categories()
	res := CategoriesResponse{Categories: make([]CategoryResponse, 0, len(categories))}
	for _, c := range categories {
		res.Categories = append(res.Categories, CategoryResponse{
			Name:         c.String(),
			UserSettable: c.UserSettable(),
		})
	}
	return res
}
