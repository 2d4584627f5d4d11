package dmcrypt

import (
	"context"

	"github.com/moonpup/dmcrypt-go/internal/crypto"
)

// UserIdentity describes the local user's current key material.
type UserIdentity struct {
	UserID string
	// PublicKey is the X25519 public key, base64url without padding.
	PublicKey string
	// Fingerprint is a short base58 digest of the public key, suitable for
	// out-of-band verification between users.
	Fingerprint string
	// KeyVersion is the directory's version counter for this key, or 0 when
	// the key has not been confirmed by the directory this session.
	KeyVersion int
}

// Identity returns the current user's identity and key material.
func (c *Client) Identity() (*UserIdentity, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}

	keypair, keyVersion, err := c.currentKeypair()
	if err != nil {
		return nil, err
	}

	return &UserIdentity{
		UserID:      c.userID,
		PublicKey:   keypair.PublicKeyB64,
		Fingerprint: crypto.Fingerprint(keypair.PublicKey),
		KeyVersion:  keyVersion,
	}, nil
}

// PeerIdentity resolves another user's published key and fingerprint from
// the directory. Returns ErrRecipientKeyNotFound when the user has no
// published key.
func (c *Client) PeerIdentity(ctx context.Context, userID string) (*UserIdentity, error) {
	if err := c.checkReady(); err != nil {
		return nil, err
	}

	entry, err := c.recipientKey(ctx, userID)
	if err != nil {
		return nil, err
	}

	pub, err := crypto.FromBase64URL(entry.PublicKey)
	if err != nil {
		return nil, &DecryptionError{Stage: "decode", Message: "peer public key is not valid base64url", Err: err}
	}

	return &UserIdentity{
		UserID:      entry.UserID,
		PublicKey:   entry.PublicKey,
		Fingerprint: crypto.Fingerprint(pub),
		KeyVersion:  entry.KeyVersion,
	}, nil
}

// RotateKey discards the current keypair, generates and publishes a fresh
// one, and emits a key rotation notice. Messages encrypted to the old key
// become permanently unreadable on this device.
func (c *Client) RotateKey(ctx context.Context) error {
	if err := c.checkReady(); err != nil {
		return err
	}

	oldKey := ""
	if keypair, _, err := c.currentKeypair(); err == nil {
		oldKey = keypair.PublicKeyB64
	}

	if err := c.rotateKey(ctx, RotationExplicit, oldKey); err != nil {
		return wrapError(err)
	}
	c.finishBootstrap()
	return nil
}

// ClearLocalKeys erases all key material from the local vault. The directory
// entry is left in place; the next session regenerates and overwrites it,
// producing a rotation notice. Intended for sign-out on shared devices.
func (c *Client) ClearLocalKeys() error {
	if err := c.checkClosed(); err != nil {
		return err
	}

	if err := c.vault.Clear(); err != nil {
		return err
	}

	c.mu.Lock()
	c.keypair = nil
	c.keyVersion = 0
	c.state = StateUninitialized
	c.mu.Unlock()
	return nil
}
