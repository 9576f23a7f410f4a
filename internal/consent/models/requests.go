package models

import (
	"fmt"
	"strings"

	"tagconsent/pkg/platform/sentinel"
)

// Selection is a category→grant map as sent by clients.
type Selection map[string]bool

// Categories converts the selection, rejecting unknown category names.
func (s Selection) Categories() (map[Category]bool, error) {
	out := make(map[Category]bool, len(s))
	for name, granted := range s {
		c, err := ParseCategory(name)
		if err != nil {
			return nil, err
		}
		out[c] = granted
	}
	return out, nil
}

// CustomRequest records a custom decision from the visitor's selection.
type CustomRequest struct {
	Preferences Selection `json:"preferences" validate:"required"`
}

// Normalize lowercases category names.
func (r *CustomRequest) Normalize() {
	if r == nil {
		return
	}
	r.Preferences = normalizeSelection(r.Preferences)
}

// Validate checks that every named category exists.
func (r *CustomRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("request is required: %w", sentinel.ErrInvalidInput)
	}
	if r.Preferences == nil {
		return fmt.Errorf("preferences are required: %w", sentinel.ErrInvalidInput)
	}
	_, err := r.Preferences.Categories()
	return err
}

// DraftRequest applies one toggle to a draft without persisting anything.
type DraftRequest struct {
	Draft    Selection `json:"draft"`
	Category string    `json:"category" validate:"required,notblank"`
	Value    bool      `json:"value"`
}

// Normalize lowercases category names.
func (r *DraftRequest) Normalize() {
	if r == nil {
		return
	}
	r.Draft = normalizeSelection(r.Draft)
	r.Category = strings.ToLower(strings.TrimSpace(r.Category))
}

// Validate checks the toggled category and the draft keys.
func (r *DraftRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("request is required: %w", sentinel.ErrInvalidInput)
	}
	if _, err := ParseCategory(r.Category); err != nil {
		return err
	}
	_, err := r.Draft.Categories()
	return err
}

func normalizeSelection(s Selection) Selection {
	if s == nil {
		return nil
	}
	out := make(Selection, len(s))
	for name, granted := range s {
		out[strings.ToLower(strings.TrimSpace(name))] = granted
	}
	return out
}
