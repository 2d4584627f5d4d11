package dmcrypt

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/moonpup/dmcrypt-go/internal/api"
	"github.com/moonpup/dmcrypt-go/internal/vault"
)

// fakeRelay is an in-memory stand-in for the key directory and message
// relay. Tokens are mapped to user IDs with registerToken; everything else
// follows the production API shapes.
type fakeRelay struct {
	mu       sync.Mutex
	tokens   map[string]string // session token -> userID
	keys     map[string]*api.DirectoryEntry
	messages map[string][]api.RelayMessage // conversationID -> messages
	nextMsg  int

	publishCalls int

	// failOwnKey makes GET /api/keys/me return a 500 to simulate a
	// directory outage during bootstrap.
	failOwnKey bool
	// failPublish makes PUT /api/keys/me return a 500.
	failPublish bool

	server *httptest.Server
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	r := &fakeRelay{
		tokens:   make(map[string]string),
		keys:     make(map[string]*api.DirectoryEntry),
		messages: make(map[string][]api.RelayMessage),
	}
	r.server = httptest.NewServer(r)
	t.Cleanup(r.server.Close)
	return r
}

func (r *fakeRelay) registerToken(token, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[token] = userID
}

// setDirectoryKey seeds a directory entry out of band, as another device
// would have.
func (r *fakeRelay) setDirectoryKey(userID, publicKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	version := 1
	if existing := r.keys[userID]; existing != nil {
		version = existing.KeyVersion + 1
	}
	r.keys[userID] = &api.DirectoryEntry{
		UserID:     userID,
		PublicKey:  publicKey,
		KeyVersion: version,
		UpdatedAt:  time.Now().UTC(),
	}
}

func (r *fakeRelay) directoryKey(userID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry := r.keys[userID]; entry != nil {
		return entry.PublicKey
	}
	return ""
}

func (r *fakeRelay) publishCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.publishCalls
}

func (r *fakeRelay) storedMessages(conversationID string) []api.RelayMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]api.RelayMessage(nil), r.messages[conversationID]...)
}

func (r *fakeRelay) caller(req *http.Request) (string, bool) {
	token := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
	r.mu.Lock()
	defer r.mu.Unlock()
	userID, ok := r.tokens[token]
	return userID, ok
}

func (r *fakeRelay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	userID, ok := r.caller(req)
	if !ok {
		writeJSON(w, 401, map[string]string{"error": "bad token"})
		return
	}

	path := req.URL.Path
	switch {
	case path == "/api/check-token":
		writeJSON(w, 200, map[string]bool{"ok": true})

	case path == "/api/keys/me" && req.Method == "GET":
		r.mu.Lock()
		failing := r.failOwnKey
		entry := r.keys[userID]
		r.mu.Unlock()
		if failing {
			writeJSON(w, 500, map[string]string{"error": "directory unavailable"})
			return
		}
		if entry == nil {
			writeJSON(w, 404, map[string]string{"error": "no key published"})
			return
		}
		writeJSON(w, 200, entry)

	case path == "/api/keys/me" && req.Method == "PUT":
		var body api.PublishKeyRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.PublicKey == "" {
			writeJSON(w, 400, map[string]string{"error": "publicKey required"})
			return
		}
		r.mu.Lock()
		r.publishCalls++
		if r.failPublish {
			r.mu.Unlock()
			writeJSON(w, 500, map[string]string{"error": "directory unavailable"})
			return
		}
		version := 1
		if existing := r.keys[userID]; existing != nil {
			version = existing.KeyVersion + 1
		}
		r.keys[userID] = &api.DirectoryEntry{
			UserID:     userID,
			PublicKey:  body.PublicKey,
			KeyVersion: version,
			UpdatedAt:  time.Now().UTC(),
		}
		r.mu.Unlock()
		writeJSON(w, 200, api.PublishKeyResponse{KeyVersion: version, UpdatedAt: time.Now().UTC()})

	case strings.HasPrefix(path, "/api/keys/") && req.Method == "GET":
		target := strings.TrimPrefix(path, "/api/keys/")
		r.mu.Lock()
		entry := r.keys[target]
		r.mu.Unlock()
		if entry == nil {
			writeJSON(w, 404, map[string]string{"error": "no key published"})
			return
		}
		writeJSON(w, 200, entry)

	case path == "/api/messages" && req.Method == "POST":
		var body api.SendMessageRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, 400, map[string]string{"error": "bad body"})
			return
		}
		r.mu.Lock()
		r.nextMsg++
		msg := api.RelayMessage{
			ID:             fmt.Sprintf("msg-%d", r.nextMsg),
			ConversationID: body.ConversationID,
			SenderID:       userID,
			RecipientID:    body.RecipientID,
			Ciphertext:     body.Ciphertext,
			Nonce:          body.Nonce,
			SentAt:         time.Now().UTC(),
		}
		r.messages[body.ConversationID] = append(r.messages[body.ConversationID], msg)
		r.mu.Unlock()
		writeJSON(w, 200, api.SendMessageResponse{ID: msg.ID, SentAt: msg.SentAt})

	case strings.HasPrefix(path, "/api/conversations/") && strings.HasSuffix(path, "/sync"):
		conv := strings.TrimSuffix(strings.TrimPrefix(path, "/api/conversations/"), "/sync")
		r.mu.Lock()
		msgs := r.messages[conv]
		ids := make([]string, 0, len(msgs))
		for _, m := range msgs {
			ids = append(ids, m.ID)
		}
		r.mu.Unlock()
		sort.Strings(ids)
		sum := sha256.Sum256([]byte(strings.Join(ids, ",")))
		writeJSON(w, 200, api.SyncStatus{
			MessageCount: len(ids),
			MessagesHash: base64.RawURLEncoding.EncodeToString(sum[:]),
		})

	case strings.HasPrefix(path, "/api/conversations/") && strings.HasSuffix(path, "/messages"):
		conv := strings.TrimSuffix(strings.TrimPrefix(path, "/api/conversations/"), "/messages")
		since := req.URL.Query().Get("since")
		r.mu.Lock()
		all := r.messages[conv]
		out := make([]api.RelayMessage, 0, len(all))
		seen := since == ""
		for _, m := range all {
			if seen {
				out = append(out, m)
			}
			if m.ID == since {
				seen = true
			}
		}
		r.mu.Unlock()
		writeJSON(w, 200, out)

	default:
		writeJSON(w, 404, map[string]string{"error": "no such route"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// testOptions returns the baseline options a test client needs against the
// fake relay: isolated in-memory storage and a stable fingerprint.
func testOptions(r *fakeRelay, storage vault.Storage, extra ...Option) []Option {
	opts := []Option{
		WithBaseURL(r.server.URL),
		WithStorage(storage),
		WithFingerprint("https://test.example", "go-test/1.0"),
		WithRetries(0),
	}
	return append(opts, extra...)
}

// newTestClient creates a client for userID against the relay, registering
// a token on the fly.
func newTestClient(t *testing.T, r *fakeRelay, userID string, storage vault.Storage, extra ...Option) *Client {
	t.Helper()
	token := "token-" + userID
	r.registerToken(token, userID)

	client, err := New(userID, token, testOptions(r, storage, extra...)...)
	if err != nil {
		t.Fatalf("New(%s) error = %v", userID, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}
