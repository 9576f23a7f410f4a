package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"tagconsent/internal/consent/models"
	"tagconsent/pkg/platform/sentinel"
)

// Legacy scalar values written before per-category consent existed.
const (
	LegacyAccepted = "accepted"
	LegacyRejected = "rejected"
)

const (
	fieldVersion    = "version"
	fieldRecordedAt = "recorded_at"
	fieldSource     = "source"
)

// aliases maps the key names of the first cookie layout onto categories.
var aliases = map[string]models.Category{
	"ads":          models.CategoryAdvertising,
	"personalized": models.CategoryPersonalization,
	"security":     models.CategoryNecessary,
}

// Encode renders a decision in the current persisted layout: one boolean per
// category plus version, recorded_at and source metadata.
func Encode(d models.Decision) ([]byte, error) {
	doc := make(map[string]any, len(models.Categories())+3)
	for c, granted := range d.Preferences.Map() {
		doc[string(c)] = granted
	}
	doc[fieldVersion] = d.Version
	doc[fieldRecordedAt] = d.RecordedAt.UTC().Format(time.RFC3339Nano)
	doc[fieldSource] = string(d.Source)

	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode consent record: %w", err)
	}
	return payload, nil
}

// Decode parses any layout this service has ever written.
//
// The legacy scalar ("accepted"/"rejected", bare or JSON-quoted) upgrades to
// AcceptAll/RejectAll with Source=legacy and Version=0. Maps without a
// version load with Version=0. Everything else that does not parse cleanly
// is rejected with sentinel.ErrMalformed so callers can fall back to the
// first-visit state.
func Decode(payload []byte) (models.Decision, error) {
	raw := bytes.TrimSpace(payload)
	if len(raw) == 0 {
		return models.Decision{}, malformed("empty record")
	}

	if d, ok := decodeLegacy(raw); ok {
		return d, nil
	}
	if raw[0] != '{' {
		return models.Decision{}, malformed("unrecognized scalar")
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return models.Decision{}, malformed("invalid json object")
	}

	selection := make(map[models.Category]bool, len(doc))
	d := models.Decision{}
	var hasSource bool
	for key, value := range doc {
		switch key {
		case fieldVersion:
			if err := json.Unmarshal(value, &d.Version); err != nil {
				return models.Decision{}, malformed("version is not an integer")
			}
			continue
		case fieldRecordedAt:
			var ts string
			if err := json.Unmarshal(value, &ts); err != nil {
				return models.Decision{}, malformed("recorded_at is not a string")
			}
			at, err := time.Parse(time.RFC3339Nano, ts)
			if err != nil {
				return models.Decision{}, malformed("recorded_at is not a timestamp")
			}
			d.RecordedAt = at
			continue
		case fieldSource:
			var src string
			if err := json.Unmarshal(value, &src); err != nil || !knownSource(models.Source(src)) {
				return models.Decision{}, malformed("unknown source")
			}
			d.Source = models.Source(src)
			hasSource = true
			continue
		}

		c, ok := categoryForKey(key)
		if !ok {
			return models.Decision{}, malformed(fmt.Sprintf("unknown key %q", key))
		}
		var granted bool
		if err := json.Unmarshal(value, &granted); err != nil || !isJSONBool(value) {
			return models.Decision{}, malformed(fmt.Sprintf("value for %q is not a boolean", key))
		}
		if prev, seen := selection[c]; seen && prev != granted {
			return models.Decision{}, malformed(fmt.Sprintf("conflicting values for %q", c))
		}
		selection[c] = granted
	}

	if len(selection) == 0 {
		return models.Decision{}, malformed("no category keys")
	}
	if d.Version < 0 || d.Version > models.CurrentSchemaVersion {
		return models.Decision{}, malformed(fmt.Sprintf("unsupported version %d", d.Version))
	}
	if !hasSource {
		d.Source = models.SourceCustom
		if d.Version == 0 {
			d.Source = models.SourceLegacy
		}
	}
	d.Preferences = models.FromSelection(selection)
	return d, nil
}

func decodeLegacy(raw []byte) (models.Decision, bool) {
	value := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &value); err != nil {
			return models.Decision{}, false
		}
	}
	switch value {
	case LegacyAccepted:
		return models.Decision{Preferences: models.AcceptAll(), Source: models.SourceLegacy}, true
	case LegacyRejected:
		return models.Decision{Preferences: models.RejectAll(), Source: models.SourceLegacy}, true
	default:
		return models.Decision{}, false
	}
}

func categoryForKey(key string) (models.Category, bool) {
	if c, err := models.ParseCategory(key); err == nil {
		return c, true
	}
	c, ok := aliases[key]
	return c, ok
}

func knownSource(s models.Source) bool {
	switch s {
	case models.SourceAcceptAll, models.SourceRejectAll, models.SourceCustom, models.SourceLegacy:
		return true
	default:
		return false
	}
}

func isJSONBool(value json.RawMessage) bool {
	v := string(bytes.TrimSpace(value))
	return v == "true" || v == "false"
}

func malformed(reason string) error {
	return fmt.Errorf("decode consent record: %s: %w", reason, sentinel.ErrMalformed)
}
