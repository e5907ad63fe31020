package vault

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/cryptox"
	"github.com/dmitrijs2005/vaultkeeper/internal/filex"
	"github.com/dmitrijs2005/vaultkeeper/internal/logging"
	"github.com/dmitrijs2005/vaultkeeper/internal/models"
)

// ErrNotOpen is returned by operations that need an initialized vault.
var ErrNotOpen = errors.New("vault is not open")

// Option configures a Storage.
type Option func(*Storage)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l logging.Logger) Option {
	return func(s *Storage) { s.log = l }
}

// WithKDFParams sets the argon2id parameters used for new vaults and on
// passphrase change. Existing vaults are opened with the parameters recorded
// in their header.
func WithKDFParams(p cryptox.KDFParams) Option {
	return func(s *Storage) { s.params = p }
}

// WithClock overrides the time source used for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Storage) { s.now = now }
}

// Storage is the vault storage engine.
type Storage struct {
	path   string
	log    logging.Logger
	params cryptox.KDFParams
	now    func() time.Time

	engine  *cryptox.Engine
	entries map[string]models.PasswordEntry
}

// NewStorage returns a Storage for the vault file at path. Nothing is read
// until Initialize.
func NewStorage(path string, opts ...Option) *Storage {
	s := &Storage{
		path:   path,
		log:    logging.NewNopLogger(),
		params: cryptox.DefaultKDFParams(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Path returns the vault file path.
func (s *Storage) Path() string { return s.path }

// Exists reports whether the vault file is present.
func (s *Storage) Exists() bool {
	return filex.Exists(s.path)
}

// IsOpen reports whether the vault has been successfully initialized.
func (s *Storage) IsOpen() bool { return s.engine != nil }

// Engine returns the crypto engine holding the vault key, or nil when the
// vault is not open.
func (s *Storage) Engine() *cryptox.Engine { return s.engine }

// Initialize creates the vault file if it does not exist, otherwise opens it
// with passphrase. Any previously open state is discarded first, so a failed
// open leaves the Storage uninitialized. A wrong passphrase and a damaged
// file both return common.ErrAuthentication.
func (s *Storage) Initialize(ctx context.Context, passphrase []byte) error {
	s.Clear()

	if !s.Exists() {
		return s.create(ctx, passphrase)
	}
	return s.open(ctx, passphrase)
}

func (s *Storage) create(ctx context.Context, passphrase []byte) error {
	engine := cryptox.NewEngine(s.params)
	if err := engine.Params().Validate(); err != nil {
		return err
	}
	key, _, err := engine.DeriveKey(passphrase, nil)
	if err != nil {
		return err
	}
	common.WipeByteArray(key)

	s.engine = engine
	s.entries = make(map[string]models.PasswordEntry)

	if err := s.save(); err != nil {
		s.Clear()
		return fmt.Errorf("create vault: %w", err)
	}

	s.log.Info(ctx, "vault created", "path", s.path)
	return nil
}

func (s *Storage) open(ctx context.Context, passphrase []byte) error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read vault: %w", err)
	}

	var f vaultFile
	if err := json.Unmarshal(b, &f); err != nil {
		s.log.Warn(ctx, "vault file is not valid JSON", "path", s.path)
		return common.ErrAuthentication
	}
	d, err := decode(f)
	if err != nil {
		return err
	}

	engine := cryptox.NewEngine(d.kdf.params())
	key, _, err := engine.DeriveKey(passphrase, d.salt)
	if err != nil {
		return err
	}
	common.WipeByteArray(key)

	plaintext, err := engine.DecryptWithAD(d.ciphertext, d.nonce, additionalData(d.version, d.kdf, d.salt))
	if err != nil {
		engine.Clear()
		s.log.Warn(ctx, "vault unlock failed", "path", s.path)
		return common.ErrAuthentication
	}
	defer common.WipeByteArray(plaintext)

	entries := make(map[string]models.PasswordEntry)
	if err := json.Unmarshal(plaintext, &entries); err != nil {
		engine.Clear()
		return common.ErrAuthentication
	}
	for id, e := range entries {
		e.ID = id
		e.Normalize()
		entries[id] = e
	}

	s.engine = engine
	s.entries = entries
	s.log.Info(ctx, "vault opened", "path", s.path, "entries", len(entries))
	return nil
}

// save serializes the whole collection, encrypts it under a fresh nonce and
// atomically replaces the vault file.
func (s *Storage) save() error {
	plaintext, err := json.Marshal(s.entries)
	if err != nil {
		return fmt.Errorf("encode entries: %w", err)
	}
	defer common.WipeByteArray(plaintext)

	salt := s.engine.Salt()
	kdf := headerFor(s.engine.Params())

	ct, nonce, err := s.engine.EncryptWithAD(plaintext, additionalData(formatVersion, kdf, salt))
	if err != nil {
		return err
	}

	f := vaultFile{
		Version:    formatVersion,
		KDF:        kdf,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
	}
	return filex.WriteJSONAtomic(s.path, f, filex.PrivateFileMode)
}

// AddEntry validates entry, assigns an id when it has none, stamps both
// timestamps with the current time and persists the vault. A supplied id
// that already exists is rejected with common.ErrValidation.
func (s *Storage) AddEntry(ctx context.Context, entry models.PasswordEntry) (string, error) {
	if !s.IsOpen() {
		return "", ErrNotOpen
	}
	if err := entry.Validate(); err != nil {
		return "", err
	}

	e := entry.Clone()
	if e.ID == "" {
		e.ID = models.NewID()
	}
	if _, ok := s.entries[e.ID]; ok {
		return "", fmt.Errorf("%w: duplicate id %s", common.ErrValidation, e.ID)
	}
	now := s.now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	e.Normalize()

	s.entries[e.ID] = e
	if err := s.save(); err != nil {
		delete(s.entries, e.ID)
		return "", fmt.Errorf("save vault: %w", err)
	}

	s.log.Info(ctx, "entry added", "id", e.ID)
	return e.ID, nil
}

// GetEntry returns a copy of the entry with id.
func (s *Storage) GetEntry(id string) (models.PasswordEntry, error) {
	if !s.IsOpen() {
		return models.PasswordEntry{}, ErrNotOpen
	}
	e, ok := s.entries[id]
	if !ok {
		return models.PasswordEntry{}, common.ErrNotFound
	}
	return e.Clone(), nil
}

// ListEntries returns copies of all entries ordered by title, then id.
func (s *Storage) ListEntries() []models.PasswordEntry {
	return s.collect(func(models.PasswordEntry) bool { return true })
}

// SearchEntries returns copies of the entries matching query, ordered like
// ListEntries. No match yields an empty, non-nil slice.
func (s *Storage) SearchEntries(query string) []models.PasswordEntry {
	return s.collect(func(e models.PasswordEntry) bool { return e.MatchesSearch(query) })
}

func (s *Storage) collect(keep func(models.PasswordEntry) bool) []models.PasswordEntry {
	out := make([]models.PasswordEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if keep(e) {
			out = append(out, e.Clone())
		}
	}
	slices.SortFunc(out, models.Less)
	return out
}

// UpdateEntry replaces every field of the entry with id by those of entry,
// except the id and creation time. UpdatedAt strictly advances.
func (s *Storage) UpdateEntry(ctx context.Context, id string, entry models.PasswordEntry) error {
	if !s.IsOpen() {
		return ErrNotOpen
	}
	prev, ok := s.entries[id]
	if !ok {
		return common.ErrNotFound
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	e := entry.Clone()
	e.ID = id
	e.CreatedAt = prev.CreatedAt
	e.UpdatedAt = prev.UpdatedAt
	e.Touch(s.now())
	e.Normalize()

	s.entries[id] = e
	if err := s.save(); err != nil {
		s.entries[id] = prev
		return fmt.Errorf("save vault: %w", err)
	}

	s.log.Info(ctx, "entry updated", "id", id)
	return nil
}

// DeleteEntry removes the entry with id. It returns false, without touching
// the file, when no such entry exists.
func (s *Storage) DeleteEntry(ctx context.Context, id string) (bool, error) {
	if !s.IsOpen() {
		return false, ErrNotOpen
	}
	prev, ok := s.entries[id]
	if !ok {
		return false, nil
	}

	delete(s.entries, id)
	if err := s.save(); err != nil {
		s.entries[id] = prev
		return false, fmt.Errorf("save vault: %w", err)
	}

	s.log.Info(ctx, "entry deleted", "id", id)
	return true, nil
}

// RekeyFunc is run by ChangePassphrase with the new engine after the old
// passphrase has been checked and before the vault file is replaced. It is
// where data sealed under the vault key gets re-sealed.
type RekeyFunc func(next *cryptox.Engine) error

// ChangePassphrase re-keys the vault under newPassphrase with a fresh salt
// and the configured KDF parameters. oldPassphrase must match the current
// key, otherwise common.ErrAuthentication is returned and nothing changes.
// When prepare is non-nil and fails, the vault file is not written.
func (s *Storage) ChangePassphrase(ctx context.Context, oldPassphrase, newPassphrase []byte, prepare RekeyFunc) error {
	if !s.IsOpen() {
		return ErrNotOpen
	}
	if err := cryptox.NewEngine(s.params).Params().Validate(); err != nil {
		return err
	}

	check := cryptox.NewEngine(s.engine.Params())
	key, _, err := check.DeriveKey(oldPassphrase, s.engine.Salt())
	if err != nil {
		return err
	}
	common.WipeByteArray(key)
	sample, nonce, err := check.Encrypt([]byte("vaultkeeper"))
	check.Clear()
	if err != nil {
		return err
	}
	if _, err := s.engine.Decrypt(sample, nonce); err != nil {
		return common.ErrAuthentication
	}

	next := cryptox.NewEngine(s.params)
	key, _, err = next.DeriveKey(newPassphrase, nil)
	if err != nil {
		return err
	}
	common.WipeByteArray(key)

	if prepare != nil {
		if err := prepare(next); err != nil {
			next.Clear()
			return err
		}
	}

	prev := s.engine
	s.engine = next
	if err := s.save(); err != nil {
		s.engine = prev
		next.Clear()
		return fmt.Errorf("save vault: %w", err)
	}
	prev.Clear()

	s.log.Info(ctx, "vault passphrase changed", "path", s.path)
	return nil
}

// Clear drops the decrypted entries and the key. Subsequent operations
// require Initialize.
func (s *Storage) Clear() {
	if s.engine != nil {
		s.engine.Clear()
	}
	s.engine = nil
	clear(s.entries)
	s.entries = nil
}
