package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
)

// EncryptAES encrypts data using AES-256-GCM under a freshly generated
// 12-byte IV and returns: iv (12 bytes) || ciphertext || tag (16 bytes).
// The IV is regenerated on every call and never reused.
func EncryptAES(key, plaintext []byte) ([]byte, error) {
	if len(key) != AESKeySize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidKeySize, len(key), AESKeySize)
	}

	iv := make([]byte, AESNonceSize)
	if _, err := io.ReadFull(randSource(), iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	ciphertext := gcm.Seal(nil, iv, plaintext, nil)
	return append(iv, ciphertext...), nil
}

// DecryptAES decrypts data produced by [EncryptAES].
// The input format is: iv (12 bytes) || ciphertext || tag (16 bytes).
func DecryptAES(key, data []byte) ([]byte, error) {
	if len(key) != AESKeySize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidKeySize, len(key), AESKeySize)
	}

	if len(data) < AESNonceSize+AESTagSize {
		return nil, ErrInvalidCiphertext
	}

	iv := data[:AESNonceSize]
	ciphertextWithTag := data[AESNonceSize:]

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, iv, ciphertextWithTag, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}
