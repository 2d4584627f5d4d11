package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/moonpup/dmcrypt-go/internal/apierrors"
)

// CheckToken validates the session token.
func (c *Client) CheckToken(ctx context.Context) error {
	var result struct {
		OK bool `json:"ok"`
	}
	if err := c.Do(ctx, "GET", "/api/check-token", nil, &result); err != nil {
		return err
	}
	if !result.OK {
		return apierrors.ErrUnauthorized
	}
	return nil
}

// GetOwnKey fetches the current user's public-key directory entry.
// A missing entry is an expected steady state, not an error: it returns
// (nil, nil) when the directory holds no entry for this user.
func (c *Client) GetOwnKey(ctx context.Context) (*DirectoryEntry, error) {
	var result DirectoryEntry
	err := c.Do(ctx, "GET", "/api/keys/me", nil, &result)
	if err != nil {
		err = apierrors.WithResourceType(err, apierrors.ResourceKey)
		if errors.Is(err, apierrors.ErrDirectoryEntryNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

// PublishKey uploads the current user's public key to the directory,
// creating or overwriting the entry.
func (c *Client) PublishKey(ctx context.Context, publicKey string) (*PublishKeyResponse, error) {
	req := PublishKeyRequest{PublicKey: publicKey}
	var result PublishKeyResponse
	if err := c.Do(ctx, "PUT", "/api/keys/me", req, &result); err != nil {
		return nil, apierrors.WithResourceType(err, apierrors.ResourceKey)
	}
	return &result, nil
}

// GetRecipientKey fetches another user's public-key directory entry.
// Returns (nil, nil) when the user has no published key.
func (c *Client) GetRecipientKey(ctx context.Context, userID string) (*DirectoryEntry, error) {
	path := fmt.Sprintf("/api/keys/%s", url.PathEscape(userID))
	var result DirectoryEntry
	err := c.Do(ctx, "GET", path, nil, &result)
	if err != nil {
		err = apierrors.WithResourceType(err, apierrors.ResourceKey)
		if errors.Is(err, apierrors.ErrDirectoryEntryNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

// PostMessage submits an encrypted message blob to the relay.
func (c *Client) PostMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResponse, error) {
	var result SendMessageResponse
	if err := c.Do(ctx, "POST", "/api/messages", req, &result); err != nil {
		return nil, apierrors.WithResourceType(err, apierrors.ResourceMessage)
	}
	return &result, nil
}

// GetMessages lists encrypted message blobs for a conversation, optionally
// only those after sinceID.
func (c *Client) GetMessages(ctx context.Context, conversationID, sinceID string) ([]RelayMessage, error) {
	path := fmt.Sprintf("/api/conversations/%s/messages", url.PathEscape(conversationID))
	if sinceID != "" {
		path += "?since=" + url.QueryEscape(sinceID)
	}
	var result []RelayMessage
	if err := c.Do(ctx, "GET", path, nil, &result); err != nil {
		return nil, apierrors.WithResourceType(err, apierrors.ResourceMessage)
	}
	return result, nil
}

// GetConversationSync returns the lightweight sync status for a conversation.
func (c *Client) GetConversationSync(ctx context.Context, conversationID string) (*SyncStatus, error) {
	path := fmt.Sprintf("/api/conversations/%s/sync", url.PathEscape(conversationID))
	var result SyncStatus
	if err := c.Do(ctx, "GET", path, nil, &result); err != nil {
		return nil, apierrors.WithResourceType(err, apierrors.ResourceMessage)
	}
	return &result, nil
}
