package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagconsent/pkg/platform/sentinel"
)

func TestCategories(t *testing.T) {
	t.Run("ordered closed set", func(t *testing.T) {
		assert.Equal(t, []Category{
			CategoryNecessary, CategoryAdvertising, CategoryAnalytics,
			CategoryFunctional, CategoryPersonalization,
		}, Categories())
	})

	t.Run("returned slice is a copy", func(t *testing.T) {
		got := Categories()
		got[0] = "tampered"
		assert.Equal(t, CategoryNecessary, Categories()[0])
	})

	t.Run("parse rejects unknown names", func(t *testing.T) {
		_, err := ParseCategory("marketing")
		require.Error(t, err)
		assert.True(t, errors.Is(err, sentinel.ErrInvalidInput))

		c, err := ParseCategory("analytics")
		require.NoError(t, err)
		assert.Equal(t, CategoryAnalytics, c)
	})

	t.Run("necessary is not user settable", func(t *testing.T) {
		assert.False(t, CategoryNecessary.UserSettable())
		assert.True(t, CategoryAdvertising.UserSettable())
		assert.False(t, Category("bogus").UserSettable())
	})
}

func TestPreferences(t *testing.T) {
	t.Run("accept all grants everything", func(t *testing.T) {
		p := AcceptAll()
		for _, c := range Categories() {
			assert.True(t, p.Granted(c), c)
		}
		assert.True(t, p.AllGranted())
	})

	t.Run("reject all keeps only necessary", func(t *testing.T) {
		p := RejectAll()
		assert.True(t, p.Granted(CategoryNecessary))
		for _, c := range Categories()[1:] {
			assert.False(t, p.Granted(c), c)
		}
	})

	// Invariant: necessary is always granted.
	t.Run("necessary cannot be cleared", func(t *testing.T) {
		p := AcceptAll().With(CategoryNecessary, false)
		assert.True(t, p.Granted(CategoryNecessary))

		p = FromSelection(map[Category]bool{CategoryNecessary: false})
		assert.True(t, p.Granted(CategoryNecessary))
	})

	t.Run("with returns a new value", func(t *testing.T) {
		base := RejectAll()
		next := base.With(CategoryAnalytics, true)
		assert.False(t, base.Granted(CategoryAnalytics))
		assert.True(t, next.Granted(CategoryAnalytics))
	})

	t.Run("from selection merges over reject all", func(t *testing.T) {
		p := FromSelection(map[Category]bool{CategoryAnalytics: true, "bogus": true})
		assert.Equal(t, map[Category]bool{
			CategoryNecessary:       true,
			CategoryAdvertising:     false,
			CategoryAnalytics:       true,
			CategoryFunctional:      false,
			CategoryPersonalization: false,
		}, p.Map())
	})

	t.Run("zero value reads necessary as granted", func(t *testing.T) {
		var p Preferences
		assert.True(t, p.Granted(CategoryNecessary))
		assert.True(t, p.Equal(RejectAll()))
	})

	t.Run("map is a fresh copy", func(t *testing.T) {
		p := RejectAll()
		m := p.Map()
		m[CategoryAdvertising] = true
		assert.False(t, p.Granted(CategoryAdvertising))
	})
}

func TestDeriveSignal(t *testing.T) {
	t.Run("reject all denies everything except security", func(t *testing.T) {
		want := map[SignalKey]SignalValue{
			SignalAdStorage:              SignalDenied,
			SignalAdUserData:             SignalDenied,
			SignalAdPersonalization:      SignalDenied,
			SignalAnalyticsStorage:       SignalDenied,
			SignalFunctionalityStorage:   SignalDenied,
			SignalPersonalizationStorage: SignalDenied,
			SignalSecurityStorage:        SignalGranted,
		}
		if diff := cmp.Diff(want, DeriveSignal(RejectAll()).Map()); diff != "" {
			t.Errorf("signal mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("advertising drives three keys", func(t *testing.T) {
		s := DeriveSignal(RejectAll().With(CategoryAdvertising, true))
		assert.Equal(t, SignalGranted, s.Value(SignalAdStorage))
		assert.Equal(t, SignalGranted, s.Value(SignalAdUserData))
		assert.Equal(t, SignalGranted, s.Value(SignalAdPersonalization))
		assert.Equal(t, SignalDenied, s.Value(SignalAnalyticsStorage))
	})

	// Invariant: every signal carries all seven keys.
	t.Run("always complete", func(t *testing.T) {
		for _, p := range []Preferences{AcceptAll(), RejectAll(), {}} {
			m := DeriveSignal(p).Map()
			assert.Len(t, m, 7)
			for _, k := range SignalKeys() {
				assert.Contains(t, []SignalValue{SignalGranted, SignalDenied}, m[k])
			}
		}
	})

	t.Run("json uses gtag keys", func(t *testing.T) {
		raw, err := json.Marshal(DeriveSignal(AcceptAll()))
		require.NoError(t, err)
		var decoded map[string]string
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Equal(t, "granted", decoded["analytics_storage"])
		assert.Len(t, decoded, 7)
	})
}

func TestDecision(t *testing.T) {
	d := NewDecision(AcceptAll(), SourceAcceptAll, fixedTime)
	assert.Equal(t, CurrentSchemaVersion, d.Version)
	assert.False(t, d.Outdated())
	assert.Equal(t, fixedTime.Add(RetentionPeriod), d.ExpiresAt())

	d.Version = 0
	assert.True(t, d.Outdated())
}

func TestRequests(t *testing.T) {
	t.Run("custom request rejects unknown category", func(t *testing.T) {
		req := &CustomRequest{Preferences: Selection{"Marketing": true}}
		req.Normalize()
		assert.ErrorIs(t, req.Validate(), sentinel.ErrInvalidInput)
	})

	t.Run("custom request normalizes case", func(t *testing.T) {
		req := &CustomRequest{Preferences: Selection{" Analytics ": true}}
		req.Normalize()
		require.NoError(t, req.Validate())
		sel, err := req.Preferences.Categories()
		require.NoError(t, err)
		assert.True(t, sel[CategoryAnalytics])
	})

	t.Run("custom request requires preferences", func(t *testing.T) {
		assert.Error(t, (&CustomRequest{}).Validate())
	})

	t.Run("draft request validates toggled category", func(t *testing.T) {
		req := &DraftRequest{Category: "FUNCTIONAL", Value: true}
		req.Normalize()
		require.NoError(t, req.Validate())
		assert.Equal(t, "functional", req.Category)

		bad := &DraftRequest{Category: "ads"}
		assert.Error(t, bad.Validate())
	})
}
