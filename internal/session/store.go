package session

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/cryptox"
	"github.com/dmitrijs2005/vaultkeeper/internal/filex"
	"github.com/dmitrijs2005/vaultkeeper/internal/logging"
	"github.com/dmitrijs2005/vaultkeeper/internal/timex"
)

// TOTPValidity is how long a TOTP verification recorded in a session keeps
// satisfying the second factor.
const TOTPValidity = 24 * time.Hour

const storeSaltSize = 16

// ErrNoSession is returned by Store.Load when there is no usable session:
// the file is missing, expired, or cannot be decrypted with the passphrase.
var ErrNoSession = errors.New("no active session")

// StoreKDFParams are the argon2id parameters for session keys. They are
// lighter than the vault's since a session only spares re-prompting for the
// second factor between CLI invocations.
func StoreKDFParams() cryptox.KDFParams {
	return cryptox.KDFParams{Time: 1, Memory: 16 * 1024, Threads: 2}
}

// Record is the decrypted content of a session file.
type Record struct {
	PassphraseVerifier string         `json:"passphrase_verifier"`
	TOTPVerifiedAt     *time.Time     `json:"totp_verified_at,omitempty"`
	LastActivity       time.Time      `json:"last_activity"`
	AutoLockTimeout    timex.Duration `json:"auto_lock_timeout"`
	VaultPath          string         `json:"vault_path"`
	CreatedAt          time.Time      `json:"created_at"`
}

type storeFile struct {
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreClock overrides the time source of a Store.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithStoreKDFParams overrides StoreKDFParams.
func WithStoreKDFParams(p cryptox.KDFParams) StoreOption {
	return func(s *Store) { s.params = p }
}

// WithStoreLogger sets the logger.
func WithStoreLogger(l logging.Logger) StoreOption {
	return func(s *Store) { s.log = l }
}

// Store persists an encrypted session record so that consecutive CLI
// invocations can share one unlock. The record is sealed under a key derived
// from the master passphrase with a per-save salt; it never contains the
// passphrase or the vault key.
type Store struct {
	mu     sync.Mutex
	path   string
	params cryptox.KDFParams
	now    func() time.Time
	log    logging.Logger
}

// NewStore returns a Store for the session file at path.
func NewStore(path string, opts ...StoreOption) *Store {
	s := &Store{
		path:   path,
		params: StoreKDFParams(),
		now:    time.Now,
		log:    logging.NewNopLogger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Exists reports whether a session file is present.
func (s *Store) Exists() bool {
	return filex.Exists(s.path)
}

// Save writes rec under passphrase. The verifier and last activity are set
// by Save; CreatedAt defaults to now.
func (s *Store) Save(ctx context.Context, passphrase []byte, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx, passphrase, rec)
}

func (s *Store) saveLocked(ctx context.Context, passphrase []byte, rec Record) error {
	now := s.now().UTC()
	salt := common.GenerateRandByteArray(storeSaltSize)
	key := cryptox.DeriveMasterKey(passphrase, salt, s.params)
	defer common.WipeByteArray(key)

	rec.PassphraseVerifier = hex.EncodeToString(cryptox.MakeVerifier(key))
	rec.LastActivity = now
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	ct, nonce, err := cryptox.SealJSON(rec, key)
	if err != nil {
		return fmt.Errorf("encrypt session: %w", err)
	}

	f := storeFile{
		Salt:       hex.EncodeToString(salt),
		Nonce:      hex.EncodeToString(nonce),
		Ciphertext: hex.EncodeToString(ct),
	}
	if err := filex.WriteJSONAtomic(s.path, f, filex.PrivateFileMode); err != nil {
		return fmt.Errorf("write session: %w", err)
	}

	s.log.Debug(ctx, "session saved", "path", s.path)
	return nil
}

// Load decrypts the session with passphrase. Any failure, including an
// elapsed auto-lock timeout, removes the file and returns ErrNoSession.
func (s *Store) Load(ctx context.Context, passphrase []byte) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx, passphrase)
}

func (s *Store) loadLocked(ctx context.Context, passphrase []byte) (*Record, error) {
	var f storeFile
	found, err := filex.ReadJSON(s.path, &f)
	if !found && err == nil {
		return nil, ErrNoSession
	}

	rec, err := s.decrypt(f, passphrase, err)
	if err != nil {
		s.log.Debug(ctx, "discarding session", "path", s.path, "reason", err.Error())
		_ = filex.RemoveIfExists(s.path)
		return nil, ErrNoSession
	}
	return rec, nil
}

func (s *Store) decrypt(f storeFile, passphrase []byte, readErr error) (*Record, error) {
	if readErr != nil {
		return nil, readErr
	}
	salt, err1 := hex.DecodeString(f.Salt)
	nonce, err2 := hex.DecodeString(f.Nonce)
	ct, err3 := hex.DecodeString(f.Ciphertext)
	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, fmt.Errorf("malformed session file: %w", err)
	}

	key := cryptox.DeriveMasterKey(passphrase, salt, s.params)
	defer common.WipeByteArray(key)

	var rec Record
	if err := cryptox.OpenJSON(ct, nonce, key, &rec); err != nil {
		return nil, err
	}

	want := hex.EncodeToString(cryptox.MakeVerifier(key))
	if subtle.ConstantTimeCompare([]byte(want), []byte(rec.PassphraseVerifier)) != 1 {
		return nil, common.ErrAuthentication
	}

	if t := rec.AutoLockTimeout.Duration; t > 0 && s.now().Sub(rec.LastActivity) > t {
		return nil, errors.New("session expired")
	}
	return &rec, nil
}

// Touch refreshes the last activity of the stored session.
func (s *Store) Touch(ctx context.Context, passphrase []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.loadLocked(ctx, passphrase)
	if err != nil {
		return err
	}
	return s.saveLocked(ctx, passphrase, *rec)
}

// Clear deletes the session file. A missing file is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filex.RemoveIfExists(s.path)
}

// TOTPStillValid reports whether rec carries a TOTP verification younger
// than TOTPValidity at now. A record without a verification time is not
// valid.
func TOTPStillValid(rec *Record, now time.Time) bool {
	if rec == nil || rec.TOTPVerifiedAt == nil {
		return false
	}
	return now.Sub(*rec.TOTPVerifiedAt) < TOTPValidity
}
