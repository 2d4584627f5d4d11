// Package vault stores the user's private messaging key at rest on a single
// device, encrypted under a wrapping secret derived from an environment
// fingerprint. It deliberately provides obfuscation rather than real secrecy:
// there is no user passphrase, so anyone who can both read local storage and
// reproduce the fingerprint can unwrap the key. See Fingerprint for the
// threat model.
package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/moonpup/dmcrypt-go/internal/crypto"
)

// Storage keys. Fixed names; one record of each per device profile.
const (
	wrappedKeyStorageKey = "dmcrypt.wrapped_key"
	saltStorageKey       = "dmcrypt.wrap_salt"
	legacyKeyStorageKey  = "dmcrypt.private_key"
)

const (
	// SaltSize is the size of the persisted wrapping salt in bytes.
	SaltSize = 16
	// Iterations is the PBKDF2 iteration count for the wrapping secret.
	Iterations = 100000
)

// ErrMalformedSalt is returned when the persisted salt record cannot be
// decoded or has the wrong length. Unlike a missing or undecryptable wrapped
// key, a malformed salt is a contract violation and is surfaced as an error.
var ErrMalformedSalt = errors.New("malformed wrapping salt")

// Vault wraps and unwraps the private messaging key for local persistence.
//
// A Vault instance owns the session-scoped plaintext key cache; construct
// one per session and share it, rather than using globals, so independent
// instances can coexist in tests. All methods are safe for concurrent use;
// the cache is written at most once per session, so a bootstrap that
// accidentally runs twice performs at most one derivation and decrypt.
type Vault struct {
	storage Storage
	fp      Fingerprint

	mu     sync.Mutex
	cached []byte
}

// New creates a Vault over the given storage using fp as the
// wrapping-secret derivation input.
func New(storage Storage, fp Fingerprint) *Vault {
	return &Vault{storage: storage, fp: fp}
}

// GetOrCreateSalt reads the persisted wrapping salt, generating and
// persisting a fresh random one on first use. Idempotent after the first
// call: every subsequent call returns the same salt.
func (v *Vault) GetOrCreateSalt() ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.getOrCreateSaltLocked()
}

func (v *Vault) getOrCreateSaltLocked() ([]byte, error) {
	encoded, err := v.storage.Get(saltStorageKey)
	if err == nil {
		salt, err := crypto.FromBase64URL(encoded)
		if err != nil || len(salt) != SaltSize {
			return nil, ErrMalformedSalt
		}
		return salt, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return nil, fmt.Errorf("read salt: %w", err)
	}

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	if err := v.storage.Set(saltStorageKey, crypto.ToBase64URL(salt)); err != nil {
		return nil, fmt.Errorf("persist salt: %w", err)
	}
	return salt, nil
}

// wrappingSecret derives the AES-256 wrapping key from the environment
// fingerprint and the salt via PBKDF2-HMAC-SHA256. Pure function of
// (fingerprint, salt); the result is never persisted.
func (v *Vault) wrappingSecret(salt []byte) []byte {
	return pbkdf2.Key(v.fp.derivationInput(), salt, Iterations, crypto.AESKeySize, sha256.New)
}

// Wrap encrypts privateKey under the derived wrapping secret with a fresh
// IV, persists the transport-encoded iv||ciphertext record, caches the
// plaintext key for the remainder of the session, and returns the encoded
// record. Persistence failures are returned to the caller; they are never
// silently dropped.
func (v *Vault) Wrap(privateKey []byte) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.wrapLocked(privateKey)
}

func (v *Vault) wrapLocked(privateKey []byte) (string, error) {
	salt, err := v.getOrCreateSaltLocked()
	if err != nil {
		return "", err
	}

	secret := v.wrappingSecret(salt)
	defer zeroBytes(secret)

	record, err := crypto.EncryptAES(secret, privateKey)
	if err != nil {
		return "", fmt.Errorf("wrap private key: %w", err)
	}

	encoded := crypto.ToBase64URL(record)
	if err := v.storage.Set(wrappedKeyStorageKey, encoded); err != nil {
		return "", fmt.Errorf("persist wrapped key: %w", err)
	}

	v.cached = append([]byte(nil), privateKey...)
	return encoded, nil
}

// Unwrap reads the persisted wrapped record and decrypts it. It returns
// (nil, false) for every routine failure: no record, undecodable record,
// wrong device fingerprint, or tampering. Callers treat false as "no usable
// key", not as a fatal error.
func (v *Vault) Unwrap() ([]byte, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.unwrapLocked()
}

func (v *Vault) unwrapLocked() ([]byte, bool) {
	encoded, err := v.storage.Get(wrappedKeyStorageKey)
	if err != nil {
		return nil, false
	}

	record, err := crypto.FromBase64URL(encoded)
	if err != nil || len(record) < crypto.AESNonceSize+crypto.AESTagSize {
		return nil, false
	}

	// The salt must already exist if a wrapped record does; a missing or
	// malformed salt makes the record undecryptable.
	saltEncoded, err := v.storage.Get(saltStorageKey)
	if err != nil {
		return nil, false
	}
	salt, err := crypto.FromBase64URL(saltEncoded)
	if err != nil || len(salt) != SaltSize {
		return nil, false
	}

	secret := v.wrappingSecret(salt)
	defer zeroBytes(secret)

	privateKey, err := crypto.DecryptAES(secret, record)
	if err != nil {
		return nil, false
	}
	return privateKey, true
}

// Initialize is the session-start entry point. It returns the cached key if
// one exists, migrates a legacy unencrypted key record into wrapped form if
// one is found (deleting the legacy record), and otherwise attempts to
// unwrap the persisted record. ok is false when no usable key exists on
// this device. The returned error is non-nil only for persistence failures
// during migration; absence and undecryptable records are not errors.
func (v *Vault) Initialize() (key []byte, ok bool, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.cached != nil {
		return append([]byte(nil), v.cached...), true, nil
	}

	legacy, err := v.storage.Get(legacyKeyStorageKey)
	if err == nil {
		migrated, ok, err := v.migrateLegacyLocked(legacy)
		if err != nil || ok {
			return migrated, ok, err
		}
		// Unusable legacy record: fall through to the wrapped record.
	}

	key, ok = v.unwrapLocked()
	if !ok {
		return nil, false, nil
	}
	v.cached = key
	return append([]byte(nil), key...), true, nil
}

// migrateLegacyLocked wraps a legacy plaintext key record into the encrypted
// format and removes the legacy record. The legacy record's existence is
// re-checked immediately before deletion so that two racing initializations
// converge on the same outcome instead of double-deleting.
func (v *Vault) migrateLegacyLocked(legacy string) ([]byte, bool, error) {
	privateKey, err := crypto.FromBase64URL(legacy)
	if err != nil || len(privateKey) != crypto.KeySize {
		// Corrupt legacy record: drop it so migration runs at most once.
		_ = v.storage.Delete(legacyKeyStorageKey)
		return nil, false, nil
	}

	if _, err := v.wrapLocked(privateKey); err != nil {
		return nil, false, fmt.Errorf("migrate legacy key: %w", err)
	}

	if _, err := v.storage.Get(legacyKeyStorageKey); err == nil {
		if err := v.storage.Delete(legacyKeyStorageKey); err != nil {
			return nil, false, fmt.Errorf("delete legacy key record: %w", err)
		}
	}

	return append([]byte(nil), privateKey...), true, nil
}

// Clear deletes the wrapped-key record, the salt record, and any legacy
// record, and drops the in-memory cache. Used on explicit logout/key reset.
func (v *Vault) Clear() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	zeroBytes(v.cached)
	v.cached = nil

	var firstErr error
	for _, key := range []string{wrappedKeyStorageKey, saltStorageKey, legacyKeyStorageKey} {
		if err := v.storage.Delete(key); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("clear %s: %w", key, err)
		}
	}
	return firstErr
}

// SeedLegacyKey persists a key in the legacy unencrypted format. It exists
// for migration tests and tooling that reproduces the pre-wrap storage
// layout; new code must use Wrap.
func SeedLegacyKey(storage Storage, privateKey []byte) error {
	return storage.Set(legacyKeyStorageKey, crypto.ToBase64URL(privateKey))
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
