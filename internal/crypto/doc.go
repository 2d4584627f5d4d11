// Package crypto provides the cryptographic primitives for the dmcrypt
// direct-messaging protocol: public-key authenticated encryption of
// messages, X25519 keypair management, and the AEAD used to wrap the
// private key for local storage.
//
// # Algorithm Suite
//
// The package uses the following cryptographic algorithms:
//
//   - X25519 (RFC 7748): Diffie-Hellman key agreement over Curve25519.
//     Every user holds one X25519 keypair per key epoch; the public half
//     is published to the server directory.
//
//   - XSalsa20-Poly1305 (NaCl crypto_box): Public-key authenticated
//     encryption for message content. Each message uses a fresh random
//     24-byte nonce.
//
//   - AES-256-GCM: Authenticated encryption for wrapping the private key
//     before it is persisted to local storage (12-byte IV, 16-byte tag).
//
// The PBKDF2 derivation of the wrapping key lives in the vault package;
// this package only supplies the AEAD it feeds into.
//
// # Critical Security Notes
//
// Nonces MUST be unique per encryption under a given key agreement pair.
// Nonce reuse with XSalsa20-Poly1305 breaks confidentiality and allows
// forgery. For this reason [SealMessage] always generates its own nonce
// and never accepts a caller-supplied one.
//
// Decryption failure is an expected outcome (stale key epoch, tampered
// ciphertext, wrong keys) and is reported as [ErrDecryptionFailed], which
// callers must distinguish from a successful decryption to an empty
// plaintext.
//
// # Key Management
//
// Use [GenerateKeypair] to create a new X25519 keypair. The public key is
// a pure function of the secret key and can be recomputed at any time with
// [DerivePublicKeyFromSecret]; exported or stored key material therefore
// only needs to carry the secret half.
//
// Keep secret keys secure. They should never be logged, transmitted in
// plaintext, or stored in version control.
//
// # Base64 Encoding
//
// All protocol values (keys, nonces, ciphertexts) travel as URL-safe
// base64 without padding (RFC 4648 §5) via [ToBase64URL]/[FromBase64URL].
// Standard padded base64 helpers are provided for non-protocol contexts.
package crypto
