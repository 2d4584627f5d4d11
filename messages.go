package dmcrypt

import (
	"context"
	"time"

	"github.com/moonpup/dmcrypt-go/internal/api"
	"github.com/moonpup/dmcrypt-go/internal/crypto"
)

// Message is a decrypted direct message.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	RecipientID    string
	// Text is the decrypted plaintext. Empty when Unavailable is true.
	Text   string
	SentAt time.Time
	// Unavailable marks a message that could not be decrypted, typically
	// because it was encrypted to a key this device no longer holds. The
	// envelope fields above are still populated from the relay record.
	Unavailable bool
}

// SendMessage encrypts text for recipientID and submits it to the relay.
// The recipient's public key is resolved from the directory once per
// session and cached. Returns the stored message with plaintext echoed
// back, so callers can append it to their local view without a refetch.
func (c *Client) SendMessage(ctx context.Context, conversationID, recipientID, text string) (*Message, error) {
	if err := c.checkReady(); err != nil {
		return nil, err
	}
	if conversationID == "" {
		return nil, &ValidationError{Errors: []string{"conversationID must not be empty"}}
	}
	if recipientID == "" {
		return nil, &ValidationError{Errors: []string{"recipientID must not be empty"}}
	}

	keypair, _, err := c.currentKeypair()
	if err != nil {
		return nil, err
	}

	entry, err := c.recipientKey(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	recipientPub, err := crypto.FromBase64URL(entry.PublicKey)
	if err != nil {
		return nil, &DecryptionError{Stage: "decode", Message: "recipient public key is not valid base64url", Err: err}
	}

	sealed, err := crypto.SealMessage([]byte(text), recipientPub, keypair.SecretKey)
	if err != nil {
		return nil, wrapError(err)
	}

	resp, err := c.apiClient.PostMessage(ctx, &api.SendMessageRequest{
		ConversationID: conversationID,
		RecipientID:    recipientID,
		Ciphertext:     sealed.Ciphertext,
		Nonce:          sealed.Nonce,
	})
	if err != nil {
		return nil, wrapError(err)
	}

	return &Message{
		ID:             resp.ID,
		ConversationID: conversationID,
		SenderID:       c.userID,
		RecipientID:    recipientID,
		Text:           text,
		SentAt:         resp.SentAt,
	}, nil
}

// Messages fetches and decrypts all messages in a conversation, oldest
// first as returned by the relay. Messages that fail to decrypt are
// returned with Unavailable set rather than aborting the whole fetch.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]*Message, error) {
	if err := c.checkReady(); err != nil {
		return nil, err
	}
	if conversationID == "" {
		return nil, &ValidationError{Errors: []string{"conversationID must not be empty"}}
	}

	relay, err := c.apiClient.GetMessages(ctx, conversationID, "")
	if err != nil {
		return nil, wrapError(err)
	}

	messages := make([]*Message, 0, len(relay))
	for i := range relay {
		messages = append(messages, c.decryptRelayMessage(ctx, &relay[i]))
	}
	return messages, nil
}

// decryptRelayMessage decrypts one relay record into a Message. The
// crypto_box construction is symmetric in the key exchange, so messages
// this user sent are opened with the recipient's public key and our secret
// key; received messages use the sender's public key. Any failure along
// the way (missing peer key, malformed encoding, authentication failure)
// yields an Unavailable message, never an error: undecryptable history is
// an expected consequence of key rotation.
func (c *Client) decryptRelayMessage(ctx context.Context, rm *api.RelayMessage) *Message {
	msg := &Message{
		ID:             rm.ID,
		ConversationID: rm.ConversationID,
		SenderID:       rm.SenderID,
		RecipientID:    rm.RecipientID,
		SentAt:         rm.SentAt,
	}

	keypair, _, err := c.currentKeypair()
	if err != nil {
		msg.Unavailable = true
		return msg
	}

	peerID := rm.SenderID
	if rm.SenderID == c.userID {
		peerID = rm.RecipientID
	}

	entry, err := c.recipientKey(ctx, peerID)
	if err != nil {
		msg.Unavailable = true
		return msg
	}

	peerPub, err := crypto.FromBase64URL(entry.PublicKey)
	if err != nil {
		msg.Unavailable = true
		return msg
	}

	plaintext, err := crypto.OpenMessage(&crypto.EncryptedMessage{
		Ciphertext: rm.Ciphertext,
		Nonce:      rm.Nonce,
	}, peerPub, keypair.SecretKey)
	if err != nil {
		msg.Unavailable = true
		return msg
	}

	msg.Text = string(plaintext)
	return msg
}
