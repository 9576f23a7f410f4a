package models

// Preferences maps every Category to a grant flag.
//
// Invariants:
//   - all five categories are always present (the backing array is fixed size)
//   - necessary is always granted; attempts to clear it are ignored
//   - values are immutable: transitions return a new Preferences
//
// The zero value is not a valid Preferences; use RejectAll, AcceptAll or
// FromSelection.
type Preferences struct {
	grants [categoryCount]bool
}

// AcceptAll grants every category.
func AcceptAll() Preferences {
	var p Preferences
	for i := range p.grants {
		p.grants[i] = true
	}
	return p
}

// RejectAll denies every category except necessary.
func RejectAll() Preferences {
	var p Preferences
	p.grants[CategoryNecessary.index()] = true
	return p
}

// FromSelection merges selection over RejectAll. Unknown categories are
// ignored and necessary stays granted whatever the selection says.
func FromSelection(selection map[Category]bool) Preferences {
	p := RejectAll()
	for c, granted := range selection {
		p = p.With(c, granted)
	}
	return p
}

// With returns a copy of p with category c set to granted. Setting necessary
// or an unknown category returns p unchanged.
func (p Preferences) With(c Category, granted bool) Preferences {
	if !c.UserSettable() {
		return p.normalized()
	}
	next := p.normalized()
	next.grants[c.index()] = granted
	return next
}

// Granted reports the flag for c. Unknown categories are never granted.
func (p Preferences) Granted(c Category) bool {
	if c == CategoryNecessary {
		return true
	}
	i := c.index()
	if i < 0 {
		return false
	}
	return p.grants[i]
}

// Map returns a fresh map holding all five categories.
func (p Preferences) Map() map[Category]bool {
	out := make(map[Category]bool, categoryCount)
	for _, c := range categories {
		out[c] = p.Granted(c)
	}
	return out
}

// Equal reports whether both values grant the same categories.
func (p Preferences) Equal(other Preferences) bool {
	return p.normalized().grants == other.normalized().grants
}

// AllGranted reports whether every category is granted.
func (p Preferences) AllGranted() bool {
	for _, c := range categories {
		if !p.Granted(c) {
			return false
		}
	}
	return true
}

func (p Preferences) normalized() Preferences {
	p.grants[CategoryNecessary.index()] = true
	return p
}
