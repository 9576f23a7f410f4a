package models

import (
	"fmt"

	"tagconsent/pkg/platform/sentinel"
)

// Category labels a class of data use the visitor can grant or deny.
//
// Invariant: the value is one of the constants below. Construct from external
// input with ParseCategory; direct casting bypasses validation.
type Category string

const (
	CategoryNecessary       Category = "necessary"
	CategoryAdvertising     Category = "advertising"
	CategoryAnalytics       Category = "analytics"
	CategoryFunctional      Category = "functional"
	CategoryPersonalization Category = "personalization"
)

// categories is the single ordered source of truth for the category set.
// Preferences index into it, the codec and handlers iterate it, and any
// renderer should list options in this order.
var categories = [...]Category{
	CategoryNecessary,
	CategoryAdvertising,
	CategoryAnalytics,
	CategoryFunctional,
	CategoryPersonalization,
}

const categoryCount = len(categories)

// Categories returns the closed category set in display order.
func Categories() []Category {
	out := make([]Category, categoryCount)
	copy(out, categories[:])
	return out
}

// ParseCategory constructs a Category from external input.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.IsValid() {
		return "", fmt.Errorf("unknown consent category %q: %w", s, sentinel.ErrInvalidInput)
	}
	return c, nil
}

// IsValid checks if the category is one of the supported enum values.
func (c Category) IsValid() bool {
	return c.index() >= 0
}

// UserSettable reports whether a visitor may change the grant for c.
// Necessary storage is always granted.
func (c Category) UserSettable() bool {
	return c.IsValid() && c != CategoryNecessary
}

func (c Category) String() string {
	return string(c)
}

func (c Category) index() int {
	for i, known := range categories {
		if known == c {
			return i
		}
	}
	return -1
}
