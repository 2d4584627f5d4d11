package dmcrypt

import (
	"errors"
	"fmt"

	"github.com/moonpup/dmcrypt-go/internal/apierrors"
	"github.com/moonpup/dmcrypt-go/internal/crypto"
	"github.com/moonpup/dmcrypt-go/internal/vault"
)

// Sentinel errors for errors.Is() checks
var (
	// ErrMissingUserID is returned when no user ID is provided.
	ErrMissingUserID = errors.New("user ID is required")

	// ErrMissingSessionToken is returned when no session token is provided.
	ErrMissingSessionToken = errors.New("session token is required")

	// ErrClientClosed is returned when operations are attempted on a closed client.
	ErrClientClosed = errors.New("client has been closed")

	// ErrNotReady is returned when encrypt/decrypt operations are attempted
	// before the session bootstrap has reached a stable state.
	ErrNotReady = errors.New("session bootstrap has not completed")

	// ErrUnauthorized is returned when the session token is invalid or expired.
	ErrUnauthorized = errors.New("invalid or expired session token")

	// ErrRecipientKeyNotFound is returned when the recipient has no
	// published public key in the directory.
	ErrRecipientKeyNotFound = errors.New("recipient public key not found")

	// ErrMessageNotFound is returned when a relayed message is not found.
	ErrMessageNotFound = errors.New("message not found")

	// ErrRateLimited is returned when the API rate limit is exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrDecryptionFailed is returned when message decryption fails.
	// This is an expected outcome for stale key epochs or tampered
	// ciphertext, distinguishable from a successful empty plaintext.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrInvalidImportData is returned when imported identity data is invalid.
	ErrInvalidImportData = errors.New("invalid import data")

	// ErrUnsupportedEnvironment is returned when the host lacks a usable
	// secure random source.
	ErrUnsupportedEnvironment = errors.New("unsupported environment")
)

// DMCryptError is implemented by all SDK errors.
type DMCryptError interface {
	error
	DMCryptError() // marker method
}

// APIError represents an HTTP error from the dmcrypt server API.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string // if returned by server

	resource apierrors.ResourceType
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		if e.Message != "" {
			return fmt.Sprintf("API error %d: %s (request_id: %s)", e.StatusCode, e.Message, e.RequestID)
		}
		return fmt.Sprintf("API error %d (request_id: %s)", e.StatusCode, e.RequestID)
	}
	if e.Message != "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error %d", e.StatusCode)
}

// DMCryptError implements the DMCryptError interface.
func (e *APIError) DMCryptError() {}

// Is implements errors.Is for sentinel error matching.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case 401:
		return target == ErrUnauthorized
	case 404:
		switch e.resource {
		case apierrors.ResourceKey:
			return target == ErrRecipientKeyNotFound
		case apierrors.ResourceMessage:
			return target == ErrMessageNotFound
		default:
			return target == ErrRecipientKeyNotFound || target == ErrMessageNotFound
		}
	case 429:
		return target == ErrRateLimited
	}
	return false
}

// NetworkError represents a network-level failure.
type NetworkError struct {
	Err     error
	URL     string
	Attempt int
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// DMCryptError implements the DMCryptError interface.
func (e *NetworkError) DMCryptError() {}

// DecryptionError represents a failure to decrypt a message or unwrap a key.
type DecryptionError struct {
	Stage   string // "box", "unwrap", "decode"
	Message string
	Err     error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decryption failed at %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("decryption failed at %s: %s", e.Stage, e.Message)
}

// Unwrap returns the underlying error.
func (e *DecryptionError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *DecryptionError) Is(target error) bool {
	return target == ErrDecryptionFailed
}

// DMCryptError implements the DMCryptError interface.
func (e *DecryptionError) DMCryptError() {}

// ValidationError contains multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %v", e.Errors)
}

// DMCryptError implements the DMCryptError interface.
func (e *ValidationError) DMCryptError() {}

// wrapError converts internal errors to public errors.
// This ensures that errors.Is() checks work with public sentinel errors.
func wrapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *apierrors.APIError
	if errors.As(err, &apiErr) {
		return &APIError{
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Message,
			RequestID:  apiErr.RequestID,
			resource:   apiErr.ResourceType,
		}
	}

	var netErr *apierrors.NetworkError
	if errors.As(err, &netErr) {
		return &NetworkError{
			Err:     netErr.Err,
			URL:     netErr.URL,
			Attempt: netErr.Attempt,
		}
	}

	if errors.Is(err, crypto.ErrDecryptionFailed) {
		return &DecryptionError{Stage: "box", Err: err}
	}

	if errors.Is(err, vault.ErrUnsupportedEnvironment) {
		return fmt.Errorf("%w: %v", ErrUnsupportedEnvironment, err)
	}

	return err
}
