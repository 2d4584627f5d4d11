package dmcrypt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/moonpup/dmcrypt-go/internal/api"
	"github.com/moonpup/dmcrypt-go/internal/crypto"
	"github.com/moonpup/dmcrypt-go/internal/vault"
)

// Client is the entry point for the DMCrypt SDK. It manages the local key
// vault, runs the session bootstrap protocol against the relay's public-key
// directory, and encrypts and decrypts direct messages end to end.
//
// A Client is safe for concurrent use. Create one per authenticated user
// session with New; the returned client has already completed bootstrap and
// is ready for SendMessage and Messages calls.
type Client struct {
	apiClient *api.Client
	vault     *vault.Vault
	userID    string

	mu         sync.RWMutex
	state      BootstrapState
	keypair    *crypto.Keypair
	keyVersion int
	notice     *KeyRotationNotice
	closed     bool

	// recipientKeys caches directory lookups for the session. Stale entries
	// surface as decryption failures on the recipient side and are refreshed
	// on the next session, matching the directory's last-write-wins model.
	recipientKeys map[string]*api.DirectoryEntry

	onKeyRotation func(*KeyRotationNotice)
	onSyncError   func(error)

	watchConfig watchConfig
	subs        *subscriptionManager
	watchers    map[string]struct{}
	watchWG     sync.WaitGroup
	watchCtx    context.Context
	watchCancel context.CancelFunc
}

// New creates a Client for the given user and session token, opens (or
// creates) the local key vault, and runs the session bootstrap protocol.
// It returns only after bootstrap has reached a terminal state, so the
// client is immediately usable for encryption and decryption.
//
// By default key material is persisted under the user config directory
// (os.UserConfigDir) in a file scoped to userID. Use WithStorage to supply
// a different backend.
func New(userID, sessionToken string, opts ...Option) (*Client, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	if sessionToken == "" {
		return nil, ErrMissingSessionToken
	}

	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if err := vault.CheckEnvironment(); err != nil {
		return nil, wrapError(err)
	}

	storage := cfg.storage
	if storage == nil {
		fs, err := defaultFileStorage(userID)
		if err != nil {
			return nil, err
		}
		storage = fs
	}

	fp := vault.DefaultFingerprint()
	if cfg.fingerprint != nil {
		fp = *cfg.fingerprint
	}

	apiOpts := []api.Option{
		api.WithBaseURL(cfg.baseURL),
		api.WithTimeout(cfg.timeout),
	}
	if cfg.retries >= 0 {
		apiOpts = append(apiOpts, api.WithRetries(cfg.retries))
	}
	if len(cfg.retryOn) > 0 {
		apiOpts = append(apiOpts, api.WithRetryOn(cfg.retryOn))
	}

	apiClient, err := api.New(sessionToken, apiOpts...)
	if err != nil {
		return nil, err
	}
	if cfg.httpClient != nil {
		apiClient.SetHTTPClient(cfg.httpClient)
	}

	c := &Client{
		apiClient:     apiClient,
		vault:         vault.New(storage, fp),
		userID:        userID,
		state:         StateUninitialized,
		recipientKeys: make(map[string]*api.DirectoryEntry),
		onKeyRotation: cfg.onKeyRotation,
		onSyncError:   cfg.onSyncError,
		watchConfig: watchConfig{
			initialInterval:   cfg.watchInitialInterval,
			maxBackoff:        cfg.watchMaxBackoff,
			backoffMultiplier: cfg.watchBackoffMultiplier,
			jitterFactor:      cfg.watchJitterFactor,
		},
	}
	c.subs = newSubscriptionManager()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	if err := apiClient.CheckToken(ctx); err != nil {
		return nil, wrapError(err)
	}

	if err := c.bootstrap(ctx); err != nil {
		return nil, wrapError(err)
	}

	return c, nil
}

// defaultFileStorage builds the per-user vault file under the OS config dir.
func defaultFileStorage(userID string) (*vault.FileStorage, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("resolve config dir: %w", err)
	}
	dir := filepath.Join(base, "dmcrypt")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	name := fmt.Sprintf("vault-%s.json", crypto.ToBase64URL([]byte(userID)))
	return vault.NewFileStorage(filepath.Join(dir, name))
}

// State returns the current bootstrap state. After New returns successfully
// this is StateReady or StateReadyWithWarning.
func (c *Client) State() BootstrapState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Notice returns the key rotation notice produced during this session, or
// nil when the key did not change. Hosts must surface a non-nil notice to
// the user: messages encrypted to the previous key are unreadable.
func (c *Client) Notice() *KeyRotationNotice {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.notice
}

// UserID returns the authenticated user this client was created for.
func (c *Client) UserID() string {
	return c.userID
}

// Close releases the client. Any active conversation watchers are stopped
// and their channels closed. Further calls return ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.watchCancel
	c.watchCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.watchWG.Wait()
	c.subs.closeAll()
	return nil
}

func (c *Client) checkClosed() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

// checkReady guards encrypt/decrypt entry points.
func (c *Client) checkReady() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	if !c.state.IsReady() {
		return ErrNotReady
	}
	return nil
}

// currentKeypair returns the session keypair under the read lock.
func (c *Client) currentKeypair() (*crypto.Keypair, int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.keypair == nil {
		return nil, 0, ErrNotReady
	}
	return c.keypair, c.keyVersion, nil
}

// recipientKey resolves and caches the recipient's directory entry.
func (c *Client) recipientKey(ctx context.Context, userID string) (*api.DirectoryEntry, error) {
	c.mu.RLock()
	entry, ok := c.recipientKeys[userID]
	c.mu.RUnlock()
	if ok {
		return entry, nil
	}

	entry, err := c.apiClient.GetRecipientKey(ctx, userID)
	if err != nil {
		return nil, wrapError(err)
	}
	if entry == nil {
		return nil, fmt.Errorf("recipient %q: %w", userID, ErrRecipientKeyNotFound)
	}

	c.mu.Lock()
	c.recipientKeys[userID] = entry
	c.mu.Unlock()
	return entry, nil
}
