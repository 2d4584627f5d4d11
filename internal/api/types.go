package api

import "time"

// DirectoryEntry is the server-held public-key directory record for a user.
// The server owns this entity's lifecycle; the client only reads and
// republishes it.
type DirectoryEntry struct {
	UserID     string    `json:"userId"`
	PublicKey  string    `json:"publicKey"`
	KeyVersion int       `json:"keyVersion"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// PublishKeyRequest is the PUT /api/keys/me request body.
type PublishKeyRequest struct {
	PublicKey string `json:"publicKey"`
}

// PublishKeyResponse is the PUT /api/keys/me response.
type PublishKeyResponse struct {
	KeyVersion int       `json:"keyVersion"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// RelayMessage is one opaque encrypted message blob held by the relay.
// The relay never sees plaintext or private keys; ciphertext and nonce are
// URL-safe base64 without padding.
type RelayMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	RecipientID    string    `json:"recipientId"`
	Ciphertext     string    `json:"ciphertext"`
	Nonce          string    `json:"nonce"`
	SentAt         time.Time `json:"sentAt"`
}

// SendMessageRequest is the POST /api/messages request body.
type SendMessageRequest struct {
	ConversationID string `json:"conversationId"`
	RecipientID    string `json:"recipientId"`
	Ciphertext     string `json:"ciphertext"`
	Nonce          string `json:"nonce"`
}

// SendMessageResponse is the POST /api/messages response.
type SendMessageResponse struct {
	ID     string    `json:"id"`
	SentAt time.Time `json:"sentAt"`
}

// SyncStatus is the lightweight conversation sync response used by the
// message watcher to detect changes without fetching message bodies.
type SyncStatus struct {
	MessageCount int    `json:"messageCount"`
	MessagesHash string `json:"messagesHash"`
}
