package models

import "time"

// CurrentSchemaVersion tags decisions written with the five-category layout.
// Bump it when the category set changes so stale decisions can be detected.
const CurrentSchemaVersion = 1

// RetentionPeriod is how long a persisted decision stays valid after the
// write that created it.
const RetentionPeriod = 365 * 24 * time.Hour

// Source records which visitor action produced a decision.
type Source string

const (
	SourceAcceptAll Source = "accept_all"
	SourceRejectAll Source = "reject_all"
	SourceCustom    Source = "custom"
	SourceLegacy    Source = "legacy" // upgraded from the two-valued scalar record
)

// Decision is a recorded, timestamped set of grants for all categories.
// It is never edited: a new action produces a new Decision.
type Decision struct {
	Preferences Preferences
	RecordedAt  time.Time
	Version     int
	Source      Source
}

// NewDecision stamps preferences with the current schema version.
func NewDecision(prefs Preferences, source Source, recordedAt time.Time) Decision {
	return Decision{
		Preferences: prefs.normalized(),
		RecordedAt:  recordedAt,
		Version:     CurrentSchemaVersion,
		Source:      source,
	}
}

// Outdated reports whether the decision was written under an older schema.
func (d Decision) Outdated() bool {
	return d.Version < CurrentSchemaVersion
}

// ExpiresAt is the end of the retention window.
func (d Decision) ExpiresAt() time.Time {
	return d.RecordedAt.Add(RetentionPeriod)
}
