package dmcrypt

import (
	"net/http"
	"time"

	"github.com/moonpup/dmcrypt-go/internal/vault"
)

const (
	defaultBaseURL = "https://api.moonpup.app"
	defaultTimeout = 30 * time.Second
)

// Default watch polling configuration values.
const (
	DefaultWatchInitialInterval   = 2 * time.Second
	DefaultWatchMaxBackoff        = 30 * time.Second
	DefaultWatchBackoffMultiplier = 1.5
	DefaultWatchJitterFactor      = 0.3
)

// clientConfig holds configuration for the client.
type clientConfig struct {
	baseURL     string
	httpClient  *http.Client
	timeout     time.Duration
	retries     int
	retryOn     []int
	storage     vault.Storage
	fingerprint *vault.Fingerprint

	onKeyRotation func(*KeyRotationNotice)
	onSyncError   func(error)

	// Watch polling configuration
	watchInitialInterval   time.Duration
	watchMaxBackoff        time.Duration
	watchBackoffMultiplier float64
	watchJitterFactor      float64
}

func defaultClientConfig() *clientConfig {
	return &clientConfig{
		baseURL:                defaultBaseURL,
		timeout:                defaultTimeout,
		retries:                -1,
		watchInitialInterval:   DefaultWatchInitialInterval,
		watchMaxBackoff:        DefaultWatchMaxBackoff,
		watchBackoffMultiplier: DefaultWatchBackoffMultiplier,
		watchJitterFactor:      DefaultWatchJitterFactor,
	}
}

// Option configures the client.
type Option func(*clientConfig)

// WithBaseURL sets the API base URL.
func WithBaseURL(url string) Option {
	return func(c *clientConfig) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = client
	}
}

// WithTimeout sets the default timeout for client construction and
// session bootstrap.
func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithRetries sets the number of retries for API calls.
func WithRetries(count int) Option {
	return func(c *clientConfig) {
		c.retries = count
	}
}

// WithRetryOn sets the HTTP status codes that trigger a retry.
// Default: [408, 429, 500, 502, 503, 504]
func WithRetryOn(statusCodes []int) Option {
	return func(c *clientConfig) {
		c.retryOn = statusCodes
	}
}

// Storage is the persistent key-value store backing the local key vault.
// Get must report a "not found" error for absent keys; Delete of an absent
// key is not an error.
type Storage = vault.Storage

// NewMemoryStorage returns a non-persistent Storage. Keys wrapped into it
// are lost when the process exits, so every session bootstraps fresh.
func NewMemoryStorage() Storage {
	return vault.NewMemoryStorage()
}

// WithStorage sets the persistent local store for the wrapped private key,
// its salt, and any legacy key record. Defaults to a 0600 JSON file under
// the user's config directory.
func WithStorage(storage Storage) Option {
	return func(c *clientConfig) {
		c.storage = storage
	}
}

// WithFingerprint overrides the environment fingerprint used to derive the
// key-wrapping secret. The fingerprint must be stable across runs on the
// same device/profile; changing it makes previously wrapped keys unreadable
// (treated as "no local key", triggering regeneration on bootstrap).
func WithFingerprint(origin, agent string) Option {
	return func(c *clientConfig) {
		c.fingerprint = &vault.Fingerprint{Origin: origin, Agent: agent}
	}
}

// WithKeyRotationNotice registers a callback invoked when bootstrap replaces
// the keypair because of key divergence or a missing local key. Hosts must
// surface this notice to the user: messages encrypted to the previous key
// become permanently unreadable on this device.
func WithKeyRotationNotice(fn func(*KeyRotationNotice)) Option {
	return func(c *clientConfig) {
		c.onKeyRotation = fn
	}
}

// WithSyncErrorHandler registers a callback for background watch/sync
// failures, which are otherwise swallowed (the watcher retries on its next
// cycle).
func WithSyncErrorHandler(fn func(error)) Option {
	return func(c *clientConfig) {
		c.onSyncError = fn
	}
}

// WithWatchInitialInterval sets the initial poll interval for conversation
// watching. This is the interval used while messages are actively arriving.
// Default: 2 seconds
func WithWatchInitialInterval(interval time.Duration) Option {
	return func(c *clientConfig) {
		c.watchInitialInterval = interval
	}
}

// WithWatchMaxBackoff sets the maximum poll interval for conversation
// watching. When no new messages arrive, the interval increases up to
// this maximum.
// Default: 30 seconds
func WithWatchMaxBackoff(maxBackoff time.Duration) Option {
	return func(c *clientConfig) {
		c.watchMaxBackoff = maxBackoff
	}
}

// WithWatchBackoffMultiplier sets the backoff multiplier for watch polling.
// After each poll with no changes, the interval is multiplied by this factor.
// Default: 1.5
func WithWatchBackoffMultiplier(multiplier float64) Option {
	return func(c *clientConfig) {
		c.watchBackoffMultiplier = multiplier
	}
}

// WithWatchJitterFactor sets the jitter factor for watch poll intervals.
// Random jitter up to this fraction of the interval is added to prevent
// synchronized polling across multiple clients.
// Default: 0.3 (30%)
func WithWatchJitterFactor(factor float64) Option {
	return func(c *clientConfig) {
		c.watchJitterFactor = factor
	}
}
