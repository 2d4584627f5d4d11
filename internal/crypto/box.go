package crypto

import (
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"
)

// EncryptedMessage is the wire form of one encrypted direct message.
// Both fields are URL-safe base64 without padding.
type EncryptedMessage struct {
	// Ciphertext is the XSalsa20-Poly1305 sealed message content.
	Ciphertext string `json:"ciphertext"`
	// Nonce is the 24-byte nonce generated for this message.
	Nonce string `json:"nonce"`
}

// SealMessage encrypts plaintext to the recipient's public key, authenticated
// by the sender's secret key (NaCl crypto_box construction).
//
// A fresh random nonce is generated on every call; callers cannot supply
// their own. Two calls with identical inputs produce different nonces and
// different ciphertexts.
func SealMessage(plaintext, recipientPublicKey, senderSecretKey []byte) (*EncryptedMessage, error) {
	if len(recipientPublicKey) != KeySize {
		return nil, ErrInvalidPublicKeySize
	}
	if len(senderSecretKey) != KeySize {
		return nil, ErrInvalidSecretKeySize
	}

	var nonce [BoxNonceSize]byte
	if _, err := io.ReadFull(randSource(), nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	var peerPub, ownSec [KeySize]byte
	copy(peerPub[:], recipientPublicKey)
	copy(ownSec[:], senderSecretKey)

	sealed := box.Seal(nil, plaintext, &nonce, &peerPub, &ownSec)

	return &EncryptedMessage{
		Ciphertext: ToBase64URL(sealed),
		Nonce:      ToBase64URL(nonce[:]),
	}, nil
}

// OpenMessage decrypts an encrypted message given the sender's public key and
// the recipient's secret key.
//
// Authentication failure, malformed encoding, and wrong keys all return
// [ErrDecryptionFailed] (or a decode error wrapping it); OpenMessage never
// panics. A successful decryption of an empty message returns an empty,
// non-nil byte slice, distinguishable from the error case.
func OpenMessage(msg *EncryptedMessage, senderPublicKey, recipientSecretKey []byte) ([]byte, error) {
	if msg == nil {
		return nil, ErrInvalidCiphertext
	}
	if len(senderPublicKey) != KeySize {
		return nil, ErrInvalidPublicKeySize
	}
	if len(recipientSecretKey) != KeySize {
		return nil, ErrInvalidSecretKeySize
	}

	sealed, err := FromBase64URL(msg.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: decode ciphertext: %v", ErrInvalidCiphertext, err)
	}
	if len(sealed) < BoxOverhead {
		return nil, ErrInvalidCiphertext
	}

	nonceBytes, err := FromBase64URL(msg.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: decode nonce: %v", ErrInvalidNonceSize, err)
	}
	if len(nonceBytes) != BoxNonceSize {
		return nil, ErrInvalidNonceSize
	}

	var nonce [BoxNonceSize]byte
	copy(nonce[:], nonceBytes)

	var peerPub, ownSec [KeySize]byte
	copy(peerPub[:], senderPublicKey)
	copy(ownSec[:], recipientSecretKey)

	plaintext, ok := box.Open(nil, sealed, &nonce, &peerPub, &ownSec)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	if plaintext == nil {
		plaintext = []byte{}
	}

	return plaintext, nil
}
