package crypto

const (
	// KeySize is the size of an X25519 public or secret key in bytes.
	KeySize = 32

	// BoxNonceSize is the size of a crypto_box (XSalsa20-Poly1305) nonce in bytes.
	BoxNonceSize = 24
	// BoxOverhead is the size of the Poly1305 authentication tag in bytes.
	BoxOverhead = 16

	// AESKeySize is the size of an AES-256 key in bytes.
	AESKeySize = 32
	// AESNonceSize is the size of an AES-GCM nonce in bytes.
	AESNonceSize = 12
	// AESTagSize is the size of an AES-GCM authentication tag in bytes.
	AESTagSize = 16
)

// AlgsCiphersuite is the canonical string representation of the algorithm suite.
var AlgsCiphersuite = "X25519:XSALSA20-POLY1305:AES-256-GCM:PBKDF2-HMAC-SHA256"
