package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/models"
)

// ExportWarning labels every export document.
const ExportWarning = "UNENCRYPTED EXPORT: this file contains every password in clear text. Store it securely and delete it after use."

type exportDocument struct {
	Warning    string                 `json:"warning"`
	ExportedAt time.Time              `json:"exported_at"`
	Entries    []models.PasswordEntry `json:"entries"`
}

// ExportData returns all entries as an indented, unencrypted JSON document.
func (s *Storage) ExportData() ([]byte, error) {
	if !s.IsOpen() {
		return nil, ErrNotOpen
	}
	doc := exportDocument{
		Warning:    ExportWarning,
		ExportedAt: s.now().UTC(),
		Entries:    s.ListEntries(),
	}
	return json.MarshalIndent(doc, "", "  ")
}

// ImportData merges entries from an export document or a bare JSON array of
// entries. Every imported entry gets a fresh id. Timestamps are kept when
// present and ordered, otherwise set to now. The import is all-or-nothing:
// one invalid entry rejects the whole batch, and the vault is saved once.
func (s *Storage) ImportData(ctx context.Context, data []byte) (int, error) {
	if !s.IsOpen() {
		return 0, ErrNotOpen
	}

	in, err := parseImport(data)
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	batch := make([]models.PasswordEntry, 0, len(in))
	for i, e := range in {
		if err := e.Validate(); err != nil {
			return 0, fmt.Errorf("entry %d: %w", i, err)
		}
		e = e.Clone()
		e.ID = models.NewID()
		if e.CreatedAt.IsZero() || e.UpdatedAt.IsZero() || e.UpdatedAt.Before(e.CreatedAt) {
			e.CreatedAt, e.UpdatedAt = now, now
		}
		e.CreatedAt, e.UpdatedAt = e.CreatedAt.UTC(), e.UpdatedAt.UTC()
		e.Normalize()
		batch = append(batch, e)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	for _, e := range batch {
		s.entries[e.ID] = e
	}
	if err := s.save(); err != nil {
		for _, e := range batch {
			delete(s.entries, e.ID)
		}
		return 0, fmt.Errorf("save vault: %w", err)
	}

	s.log.Info(ctx, "entries imported", "count", len(batch))
	return len(batch), nil
}

func parseImport(data []byte) ([]models.PasswordEntry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty import", common.ErrValidation)
	}

	var entries []models.PasswordEntry
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrValidation, err)
		}
	case '{':
		var doc exportDocument
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrValidation, err)
		}
		entries = doc.Entries
	default:
		return nil, fmt.Errorf("%w: import must be a JSON array or export document", common.ErrValidation)
	}
	return entries, nil
}
