package vault

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
)

// ErrUnsupportedEnvironment is returned by CheckEnvironment when the host
// lacks a usable secure random source.
var ErrUnsupportedEnvironment = errors.New("unsupported environment: secure random source unavailable")

// Fingerprint is the environment-derived input to the wrapping-secret
// derivation: an origin identifier plus a user-agent identifier.
//
// This is NOT a secret. The same fingerprint is recomputed on every run of
// the same device/profile, which is what makes the wrapped key decryptable
// without a user passphrase. It protects stored key material against casual
// inspection of local storage only, not against an attacker who controls
// the device. A wrapped key created under one fingerprint cannot be
// unwrapped under another; callers treat that as "no local key", not as
// corruption.
type Fingerprint struct {
	// Origin identifies the application origin (e.g. the app's URL or
	// bundle identifier).
	Origin string
	// Agent identifies the host profile (e.g. a user-agent string or
	// hostname/platform tuple).
	Agent string
}

// derivationInput is the stable byte string fed into PBKDF2 as the password.
func (f Fingerprint) derivationInput() []byte {
	return []byte(f.Origin + "|" + f.Agent)
}

// DefaultFingerprint builds a fingerprint from the host environment:
// the process hostname as origin and the platform tuple as agent.
func DefaultFingerprint() Fingerprint {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	return Fingerprint{
		Origin: hostname,
		Agent:  fmt.Sprintf("go/%s-%s", runtime.GOOS, runtime.GOARCH),
	}
}

// CheckEnvironment probes the capabilities the vault depends on. It returns
// ErrUnsupportedEnvironment if the secure random source cannot produce
// bytes, and nil otherwise.
func CheckEnvironment() error {
	var probe [1]byte
	if _, err := io.ReadFull(rand.Reader, probe[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedEnvironment, err)
	}
	return nil
}
