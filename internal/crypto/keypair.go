package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/cloudflare/circl/dh/x25519"
	"github.com/mr-tron/base58"
)

// randReader is the random source used for key and nonce generation.
// It defaults to nil (which uses crypto/rand) but can be overridden for testing.
var randReader io.Reader

func randSource() io.Reader {
	if randReader != nil {
		return randReader
	}
	return rand.Reader
}

// Keypair represents an X25519 keypair for message encryption.
type Keypair struct {
	// PublicKey is the raw X25519 public key bytes.
	PublicKey []byte
	// SecretKey is the raw X25519 secret key bytes.
	SecretKey []byte
	// PublicKeyB64 is the public key encoded as URL-safe base64.
	PublicKeyB64 string
}

// GenerateKeypair creates a new X25519 keypair from the secure random source.
func GenerateKeypair() (*Keypair, error) {
	var secret, public x25519.Key
	if _, err := io.ReadFull(randSource(), secret[:]); err != nil {
		return nil, err
	}
	x25519.KeyGen(&public, &secret)

	return &Keypair{
		PublicKey:    append([]byte(nil), public[:]...),
		SecretKey:    append([]byte(nil), secret[:]...),
		PublicKeyB64: ToBase64URL(public[:]),
	}, nil
}

// KeypairFromSecretKey reconstructs a keypair from the secret key.
// The public key is recomputed; for a secret key produced by
// [GenerateKeypair] the result is identical to the original keypair.
func KeypairFromSecretKey(secretKey []byte) (*Keypair, error) {
	publicKey, err := DerivePublicKeyFromSecret(secretKey)
	if err != nil {
		return nil, err
	}

	return &Keypair{
		PublicKey:    publicKey,
		SecretKey:    append([]byte(nil), secretKey...),
		PublicKeyB64: ToBase64URL(publicKey),
	}, nil
}

// DerivePublicKeyFromSecret recomputes the public key from a secret key.
// The derivation is deterministic. Returns an error if the secret key has
// an invalid size.
func DerivePublicKeyFromSecret(secretKey []byte) ([]byte, error) {
	if len(secretKey) != KeySize {
		return nil, ErrInvalidSecretKeySize
	}

	var secret, public x25519.Key
	copy(secret[:], secretKey)
	x25519.KeyGen(&public, &secret)

	return append([]byte(nil), public[:]...), nil
}

// ValidateKeypair validates that a keypair has the correct structure and sizes
// and that its encoded public key matches the raw bytes.
// Returns true if all validations pass, false otherwise.
func ValidateKeypair(keypair *Keypair) bool {
	if keypair == nil {
		return false
	}

	if keypair.PublicKey == nil || keypair.SecretKey == nil || keypair.PublicKeyB64 == "" {
		return false
	}

	if len(keypair.PublicKey) != KeySize || len(keypair.SecretKey) != KeySize {
		return false
	}

	decoded, err := FromBase64URL(keypair.PublicKeyB64)
	if err != nil {
		return false
	}

	if len(decoded) != len(keypair.PublicKey) {
		return false
	}

	for i := range decoded {
		if decoded[i] != keypair.PublicKey[i] {
			return false
		}
	}

	return true
}

// Fingerprint returns a short human-comparable fingerprint of a public key:
// the base58 encoding of its SHA-256 hash. Fingerprints support out-of-band
// key comparison between users; they carry no secret material.
func Fingerprint(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return base58.Encode(sum[:])
}
