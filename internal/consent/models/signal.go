package models

import "encoding/json"

// SignalKey is a storage/use permission in the tag runtime's own vocabulary.
type SignalKey string

const (
	SignalAdStorage              SignalKey = "ad_storage"
	SignalAdUserData             SignalKey = "ad_user_data"
	SignalAdPersonalization      SignalKey = "ad_personalization"
	SignalAnalyticsStorage       SignalKey = "analytics_storage"
	SignalFunctionalityStorage   SignalKey = "functionality_storage"
	SignalPersonalizationStorage SignalKey = "personalization_storage"
	SignalSecurityStorage        SignalKey = "security_storage"
)

// SignalValue is the two-valued token the runtime expects per key.
type SignalValue string

const (
	SignalGranted SignalValue = "granted"
	SignalDenied  SignalValue = "denied"
)

// signalSources fixes which category drives each signal key. Order is the
// wire order used by Keys and MarshalJSON.
var signalSources = [...]struct {
	key      SignalKey
	category Category
}{
	{SignalAdStorage, CategoryAdvertising},
	{SignalAdUserData, CategoryAdvertising},
	{SignalAdPersonalization, CategoryAdvertising},
	{SignalAnalyticsStorage, CategoryAnalytics},
	{SignalFunctionalityStorage, CategoryFunctional},
	{SignalPersonalizationStorage, CategoryPersonalization},
	{SignalSecurityStorage, CategoryNecessary},
}

// Signal is the complete seven-key consent update sent to the tag runtime.
// It is always complete: there is no way to build a partial Signal.
type Signal struct {
	values [len(signalSources)]SignalValue
}

// DeriveSignal maps preferences onto the runtime vocabulary. It is pure.
func DeriveSignal(p Preferences) Signal {
	var s Signal
	for i, src := range signalSources {
		if p.Granted(src.category) {
			s.values[i] = SignalGranted
		} else {
			s.values[i] = SignalDenied
		}
	}
	return s
}

// SignalKeys lists every key in wire order.
func SignalKeys() []SignalKey {
	keys := make([]SignalKey, len(signalSources))
	for i, src := range signalSources {
		keys[i] = src.key
	}
	return keys
}

// Value returns the token for key, or "" for an unknown key.
func (s Signal) Value(key SignalKey) SignalValue {
	for i, src := range signalSources {
		if src.key == key {
			return s.values[i]
		}
	}
	return ""
}

// Map returns a fresh map with all seven keys.
func (s Signal) Map() map[SignalKey]SignalValue {
	out := make(map[SignalKey]SignalValue, len(signalSources))
	for i, src := range signalSources {
		out[src.key] = s.values[i]
	}
	return out
}

// MarshalJSON emits the gtag consent object, e.g. {"ad_storage":"denied",...}.
func (s Signal) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Map())
}
