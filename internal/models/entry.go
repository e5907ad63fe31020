// Package models defines the credential record stored in a vault.
package models

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/google/uuid"
)

// DefaultCategory is assigned to entries created without a category.
const DefaultCategory = "general"

// PasswordEntry is a single credential record.
//
// Optional string fields use the empty string for "absent". CreatedAt never
// changes after creation; UpdatedAt is refreshed on every mutation and never
// precedes CreatedAt.
type PasswordEntry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Username  string    `json:"username,omitempty"`
	Password  string    `json:"password"`
	URL       string    `json:"url,omitempty"`
	Category  string    `json:"category"`
	Notes     string    `json:"notes,omitempty"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewID returns a fresh random entry identifier.
func NewID() string {
	return uuid.NewString()
}

// Validate checks the required fields.
func (e PasswordEntry) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("%w: title is required", common.ErrValidation)
	}
	if e.Password == "" {
		return fmt.Errorf("%w: password is required", common.ErrValidation)
	}
	return nil
}

// Normalize fills defaults: the category falls back to DefaultCategory and a
// nil tag list becomes empty so it serializes as [].
func (e *PasswordEntry) Normalize() {
	if strings.TrimSpace(e.Category) == "" {
		e.Category = DefaultCategory
	}
	if e.Tags == nil {
		e.Tags = []string{}
	}
}

// Touch stamps UpdatedAt with now, forcing it strictly past the previous
// value so consecutive updates are always ordered.
func (e *PasswordEntry) Touch(now time.Time) {
	now = now.UTC()
	if !now.After(e.UpdatedAt) {
		now = e.UpdatedAt.Add(time.Nanosecond)
	}
	e.UpdatedAt = now
}

// MatchesSearch reports whether query is a case-insensitive substring of the
// title, username, url, notes, category or any tag. An empty query matches.
func (e PasswordEntry) MatchesSearch(query string) bool {
	q := strings.ToLower(query)
	fields := []string{e.Title, e.Username, e.URL, e.Notes, e.Category, strings.Join(e.Tags, " ")}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of e.
func (e PasswordEntry) Clone() PasswordEntry {
	c := e
	c.Tags = slices.Clone(e.Tags)
	if c.Tags == nil {
		c.Tags = []string{}
	}
	return c
}

// Less orders entries by case-insensitive title, then by id.
func Less(a, b PasswordEntry) int {
	if c := strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title)); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}
