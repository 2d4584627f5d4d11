package dmcrypt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/moonpup/dmcrypt-go/internal/crypto"
)

// ExportVersion is the current export format version.
const ExportVersion = 1

// ExportedIdentity contains everything needed to restore the user's
// messaging key on another device.
// WARNING: this contains private key material - handle securely.
//
// The public key is NOT included as it is derived from the secret key.
type ExportedIdentity struct {
	// Version is the export format version. MUST be 1.
	Version int `json:"version"`
	// UserID is the user the key belongs to. Non-empty.
	UserID string `json:"userId"`
	// SecretKey is the X25519 secret key (base64url, 32 bytes decoded).
	SecretKey string `json:"secretKey"`
	// KeyVersion is the directory version at export time. Informational only.
	KeyVersion int `json:"keyVersion"`
	// ExportedAt is the export timestamp. Informational only.
	ExportedAt time.Time `json:"exportedAt"`
}

// Validate checks that the exported data can be imported.
func (e *ExportedIdentity) Validate() error {
	if e.Version != ExportVersion {
		return fmt.Errorf("%w: unsupported version %d, expected %d", ErrInvalidImportData, e.Version, ExportVersion)
	}

	if e.UserID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidImportData)
	}

	if e.SecretKey == "" {
		return fmt.Errorf("%w: secretKey is required", ErrInvalidImportData)
	}
	secretKey, err := crypto.FromBase64URL(e.SecretKey)
	if err != nil {
		return fmt.Errorf("%w: invalid secretKey encoding", ErrInvalidImportData)
	}
	if len(secretKey) != crypto.KeySize {
		return fmt.Errorf("%w: secretKey size %d, expected %d", ErrInvalidImportData, len(secretKey), crypto.KeySize)
	}

	return nil
}

// ExportIdentity exports the current keypair for transfer to another device.
func (c *Client) ExportIdentity() (*ExportedIdentity, error) {
	if err := c.checkReady(); err != nil {
		return nil, err
	}

	keypair, keyVersion, err := c.currentKeypair()
	if err != nil {
		return nil, err
	}

	return &ExportedIdentity{
		Version:    ExportVersion,
		UserID:     c.userID,
		SecretKey:  crypto.ToBase64URL(keypair.SecretKey),
		KeyVersion: keyVersion,
		ExportedAt: time.Now().UTC(),
	}, nil
}

// ExportIdentityToFile writes the exported identity as JSON with 0600
// permissions.
func (c *Client) ExportIdentityToFile(path string) error {
	exported, err := c.ExportIdentity()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(exported, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal export: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write export file: %w", err)
	}
	return nil
}

// ImportIdentity installs an exported keypair into the local vault and
// republishes its public half so the directory matches this device again.
// The import must belong to the client's user.
func (c *Client) ImportIdentity(ctx context.Context, exported *ExportedIdentity) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if err := exported.Validate(); err != nil {
		return err
	}
	if exported.UserID != c.userID {
		return fmt.Errorf("%w: export belongs to user %q, client is %q", ErrInvalidImportData, exported.UserID, c.userID)
	}

	secretKey, err := crypto.FromBase64URL(exported.SecretKey)
	if err != nil {
		return fmt.Errorf("%w: invalid secretKey encoding", ErrInvalidImportData)
	}

	keypair, err := crypto.KeypairFromSecretKey(secretKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImportData, err)
	}

	if _, err := c.vault.Wrap(keypair.SecretKey); err != nil {
		return err
	}
	c.setKeypair(keypair, 0)

	resp, err := c.apiClient.PublishKey(ctx, keypair.PublicKeyB64)
	if err != nil {
		c.setState(StateReadyWithWarning)
		return nil
	}
	c.setKeypair(keypair, resp.KeyVersion)
	c.setState(StateReady)
	return nil
}

// ImportIdentityFromFile reads an exported identity from a JSON file and
// imports it.
func (c *Client) ImportIdentityFromFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read export file: %w", err)
	}

	var exported ExportedIdentity
	if err := json.Unmarshal(data, &exported); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImportData, err)
	}

	return c.ImportIdentity(ctx, &exported)
}
