package crypto

import "errors"

var (
	// ErrInvalidSecretKeySize is returned when the secret key size is invalid.
	ErrInvalidSecretKeySize = errors.New("invalid secret key size")

	// ErrInvalidPublicKeySize is returned when the public key size is invalid.
	ErrInvalidPublicKeySize = errors.New("invalid public key size")

	// ErrInvalidNonceSize is returned when a nonce has the wrong size.
	ErrInvalidNonceSize = errors.New("invalid nonce size")

	// ErrInvalidKeySize is returned when the AES key size is invalid.
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrDecryptionFailed is returned when authenticated decryption fails.
	// This is an expected outcome for tampered ciphertext, a wrong key, or
	// a stale key epoch, and must never be treated as a fatal condition.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrInvalidCiphertext is returned when a ciphertext is malformed,
	// including truncation below the minimum authenticated length.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)
