package dmcrypt

import (
	"context"
	"fmt"
	"time"

	"github.com/moonpup/dmcrypt-go/internal/api"
	"github.com/moonpup/dmcrypt-go/internal/crypto"
)

// BootstrapState is one state of the session bootstrap protocol that
// reconciles local key material with the server-held public-key directory.
//
// The machine runs once per authenticated session:
//
//	Uninitialized → CheckingLocal → {NoLocalKey, LocalKeyFound} →
//	Reconciling → {Published, UpToDate} → Ready
//
// Ready is the terminal state; ReadyWithWarning is reached instead when
// republishing fails transiently (local encrypt/decrypt still works, the
// publish is retried on the next session).
type BootstrapState int

const (
	// StateUninitialized is the state before bootstrap begins.
	StateUninitialized BootstrapState = iota
	// StateCheckingLocal means the local key vault is being read.
	StateCheckingLocal
	// StateNoLocalKey means no usable private key exists on this device.
	StateNoLocalKey
	// StateLocalKeyFound means a usable private key was unwrapped locally.
	StateLocalKeyFound
	// StateReconciling means the local key is being compared against the
	// server directory entry.
	StateReconciling
	// StatePublished means a public key was (re)published to the directory.
	StatePublished
	// StateUpToDate means the directory entry already matches the local key;
	// no network write was performed.
	StateUpToDate
	// StateReady is the terminal state: encrypt/decrypt operations are allowed.
	StateReady
	// StateReadyWithWarning is terminal like StateReady, but a directory
	// read or publish failed transiently; cross-device and new-recipient
	// operation is degraded until the next session retries.
	StateReadyWithWarning
)

func (s BootstrapState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCheckingLocal:
		return "checking_local"
	case StateNoLocalKey:
		return "no_local_key"
	case StateLocalKeyFound:
		return "local_key_found"
	case StateReconciling:
		return "reconciling"
	case StatePublished:
		return "published"
	case StateUpToDate:
		return "up_to_date"
	case StateReady:
		return "ready"
	case StateReadyWithWarning:
		return "ready_with_warning"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// IsReady reports whether the state allows encrypt/decrypt operations.
func (s BootstrapState) IsReady() bool {
	return s == StateReady || s == StateReadyWithWarning
}

// RotationReason explains why bootstrap replaced the keypair.
type RotationReason string

const (
	// RotationDivergence means the local public key no longer matched the
	// directory entry (stale publish from another device, or corruption).
	RotationDivergence RotationReason = "divergence"
	// RotationMissingLocal means a directory entry existed but this device
	// had no private key for it (cleared storage or new device).
	RotationMissingLocal RotationReason = "missing_local_key"
	// RotationExplicit means the host application requested rotation.
	RotationExplicit RotationReason = "explicit"
)

// KeyRotationNotice is the mandatory user-visible notice produced when the
// keypair is replaced. Messages encrypted to the previous public key are
// permanently unreadable on this device; key recovery is not
// cryptographically possible, so the SDK regenerates and warns instead.
type KeyRotationNotice struct {
	Reason RotationReason
	// OldPublicKey is the superseded key (base64url); empty when unknown.
	OldPublicKey string
	// NewPublicKey is the freshly published key (base64url).
	NewPublicKey string
	OccurredAt   time.Time
}

func (n *KeyRotationNotice) String() string {
	return fmt.Sprintf("messaging key replaced (%s): previously received encrypted messages may become unreadable", n.Reason)
}

// bootstrap runs the session bootstrap protocol. It is called exactly once,
// from New, before the client is handed to the caller; this serializes
// bootstrap ahead of any encrypt/decrypt call for the session.
func (c *Client) bootstrap(ctx context.Context) error {
	c.setState(StateCheckingLocal)

	localKey, hasLocal, err := c.vault.Initialize()
	if err != nil {
		return err
	}

	if hasLocal {
		c.setState(StateLocalKeyFound)
	} else {
		c.setState(StateNoLocalKey)
	}

	c.setState(StateReconciling)

	// One directory fetch per bootstrap. A read failure is non-fatal:
	// local crypto still works with whatever key material we have.
	entry, dirErr := c.apiClient.GetOwnKey(ctx)

	if hasLocal {
		keypair, kerr := crypto.KeypairFromSecretKey(localKey)
		if kerr != nil {
			// The vault returned something that is not a usable key.
			// Treat as absent and regenerate below.
			hasLocal = false
		} else {
			return c.reconcileLocalKey(ctx, keypair, entry, dirErr)
		}
	}

	if !hasLocal {
		return c.establishNewKey(ctx, entry, dirErr)
	}

	return nil
}

// reconcileLocalKey handles the LOCAL_KEY_FOUND branches of the protocol.
func (c *Client) reconcileLocalKey(ctx context.Context, keypair *crypto.Keypair, entry *api.DirectoryEntry, dirErr error) error {
	c.setKeypair(keypair, 0)

	if dirErr != nil {
		// Directory unreachable: treat as unchanged, keep the local key,
		// and let the next session reconcile.
		c.setState(StateReadyWithWarning)
		return nil
	}

	switch {
	case entry == nil:
		// Key exists locally but was never published (or the directory
		// record was removed). Publish the local public half.
		resp, err := c.apiClient.PublishKey(ctx, keypair.PublicKeyB64)
		if err != nil {
			c.setState(StateReadyWithWarning)
			return nil
		}
		c.setKeypair(keypair, resp.KeyVersion)
		c.setState(StatePublished)

	case entry.PublicKey == keypair.PublicKeyB64:
		c.setKeypair(keypair, entry.KeyVersion)
		c.setState(StateUpToDate)

	default:
		// Divergence: the directory holds a different key. Private keys
		// cannot be reconciled, so regenerate and republish.
		if err := c.rotateKey(ctx, RotationDivergence, entry.PublicKey); err != nil {
			return err
		}
	}

	c.finishBootstrap()
	return nil
}

// establishNewKey handles the NO_LOCAL_KEY branches of the protocol.
func (c *Client) establishNewKey(ctx context.Context, entry *api.DirectoryEntry, dirErr error) error {
	reason := RotationReason("")
	oldKey := ""
	if dirErr == nil && entry != nil {
		// A directory entry exists but this device never had (or lost) the
		// private half. The old entry is overwritten; messages addressed to
		// it become permanently undecryptable here. Accepted data loss,
		// surfaced via the rotation notice rather than silently masked.
		reason = RotationMissingLocal
		oldKey = entry.PublicKey
	}

	keypair, err := crypto.GenerateKeypair()
	if err != nil {
		return fmt.Errorf("generate keypair: %w", err)
	}

	if _, err := c.vault.Wrap(keypair.SecretKey); err != nil {
		return err
	}
	c.setKeypair(keypair, 0)

	resp, err := c.apiClient.PublishKey(ctx, keypair.PublicKeyB64)
	if err != nil {
		c.setState(StateReadyWithWarning)
		if reason != "" {
			c.emitNotice(reason, oldKey, keypair.PublicKeyB64)
		}
		return nil
	}
	c.setKeypair(keypair, resp.KeyVersion)
	c.setState(StatePublished)

	if reason != "" {
		c.emitNotice(reason, oldKey, keypair.PublicKeyB64)
	}

	c.finishBootstrap()
	return nil
}

// rotateKey generates a fresh keypair, wraps and persists it,
// publishes the public half, and emits the mandatory rotation notice.
// Wrap failures are surfaced: a key that cannot be persisted must not
// become the session key.
func (c *Client) rotateKey(ctx context.Context, reason RotationReason, oldPublicKey string) error {
	keypair, err := crypto.GenerateKeypair()
	if err != nil {
		return fmt.Errorf("generate keypair: %w", err)
	}

	if _, err := c.vault.Wrap(keypair.SecretKey); err != nil {
		return err
	}
	c.setKeypair(keypair, 0)

	resp, err := c.apiClient.PublishKey(ctx, keypair.PublicKeyB64)
	if err != nil {
		c.setState(StateReadyWithWarning)
		c.emitNotice(reason, oldPublicKey, keypair.PublicKeyB64)
		return nil
	}
	c.setKeypair(keypair, resp.KeyVersion)
	c.setState(StatePublished)
	c.emitNotice(reason, oldPublicKey, keypair.PublicKeyB64)

	return nil
}

// finishBootstrap advances a stable intermediate state to Ready.
func (c *Client) finishBootstrap() {
	c.mu.Lock()
	if c.state == StatePublished || c.state == StateUpToDate {
		c.state = StateReady
	}
	c.mu.Unlock()
}

func (c *Client) setState(s BootstrapState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) setKeypair(keypair *crypto.Keypair, keyVersion int) {
	c.mu.Lock()
	c.keypair = keypair
	if keyVersion != 0 {
		c.keyVersion = keyVersion
	}
	c.mu.Unlock()
}

func (c *Client) emitNotice(reason RotationReason, oldKey, newKey string) {
	notice := &KeyRotationNotice{
		Reason:       reason,
		OldPublicKey: oldKey,
		NewPublicKey: newKey,
		OccurredAt:   time.Now().UTC(),
	}

	c.mu.Lock()
	c.notice = notice
	fn := c.onKeyRotation
	c.mu.Unlock()

	if fn != nil {
		fn(notice)
	}
}
