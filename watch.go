package dmcrypt

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// watchConfig holds the adaptive polling parameters for conversation
// watchers.
type watchConfig struct {
	initialInterval   time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	jitterFactor      float64
}

// subscription is one active conversation watch.
type subscription struct {
	id             string
	conversationID string
	ch             chan *Message
}

// subscriptionManager handles conversation subscriptions with safe lifecycle
// management. Subscriber channels are only ever closed under the write lock,
// and notify sends under the read lock, so no send can race a close.
type subscriptionManager struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*subscription // conversationID -> subID -> subscription
	nextID atomic.Uint64
}

func newSubscriptionManager() *subscriptionManager {
	return &subscriptionManager{
		subs: make(map[string]map[string]*subscription),
	}
}

// subscribe registers a channel for messages arriving in the given
// conversation. Returns the subscription and an unsubscribe function.
func (m *subscriptionManager) subscribe(conversationID string) (*subscription, func()) {
	id := strconv.FormatUint(m.nextID.Add(1), 10)

	sub := &subscription{
		id:             id,
		conversationID: conversationID,
		ch:             make(chan *Message, 16),
	}

	m.mu.Lock()
	if m.subs[conversationID] == nil {
		m.subs[conversationID] = make(map[string]*subscription)
	}
	m.subs[conversationID][id] = sub
	m.mu.Unlock()

	return sub, func() {
		m.unsubscribe(conversationID, id)
	}
}

// unsubscribe removes a subscription and closes its channel.
// Safe to call multiple times.
func (m *subscriptionManager) unsubscribe(conversationID, subID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if convSubs, ok := m.subs[conversationID]; ok {
		if sub, ok := convSubs[subID]; ok {
			close(sub.ch)
			delete(convSubs, subID)
			if len(convSubs) == 0 {
				delete(m.subs, conversationID)
			}
		}
	}
}

// count returns the number of active subscriptions for a conversation.
func (m *subscriptionManager) count(conversationID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[conversationID])
}

// notify delivers a message to every subscriber of the conversation. The
// sends happen under the read lock: closers take the write lock first, so a
// channel present in the map cannot be closed mid-send. The sends are
// non-blocking, which keeps unsubscribe from ever waiting on this lock
// behind a stalled subscriber.
func (m *subscriptionManager) notify(conversationID string, msg *Message) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subs[conversationID] {
		// Drop rather than block when a subscriber stops draining.
		select {
		case sub.ch <- msg:
		default:
		}
	}
}

// closeAll tears down every subscription. Called during Client.Close.
func (m *subscriptionManager) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, convSubs := range m.subs {
		for _, sub := range convSubs {
			close(sub.ch)
		}
	}
	m.subs = make(map[string]map[string]*subscription)
}

// syncState tracks which relay message IDs have been delivered for one
// watched conversation, to compare against the server's sync hash.
type syncState struct {
	seen   map[string]struct{}
	lastID string
}

// computeMessagesHash hashes the set of delivered message IDs the same way
// the relay does: sort IDs, join with comma, SHA-256, base64url without
// padding. The empty set hashes the empty string.
func (s *syncState) computeMessagesHash() string {
	if len(s.seen) == 0 {
		hash := sha256.Sum256([]byte(""))
		return base64.RawURLEncoding.EncodeToString(hash[:])
	}

	ids := make([]string, 0, len(s.seen))
	for id := range s.seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	hash := sha256.Sum256([]byte(strings.Join(ids, ",")))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// WatchConversation polls the relay for new messages in the conversation
// and delivers each decrypted message on the returned channel. Polling uses
// the lightweight sync endpoint with adaptive backoff: the interval grows
// while the conversation is quiet and snaps back when a message arrives.
//
// The returned stop function ends this subscription and closes the channel.
// Closing the client stops all watchers. Messages that fail to decrypt are
// delivered with Unavailable set, same as Messages.
func (c *Client) WatchConversation(ctx context.Context, conversationID string) (<-chan *Message, func(), error) {
	if err := c.checkReady(); err != nil {
		return nil, nil, err
	}
	if conversationID == "" {
		return nil, nil, &ValidationError{Errors: []string{"conversationID must not be empty"}}
	}

	sub, unsubscribe := c.subs.subscribe(conversationID)

	watchCtx := c.watchContext()
	c.startWatcherIfNeeded(watchCtx, conversationID)

	stop := func() {
		unsubscribe()
	}

	// Bind the subscription to the caller's context as well.
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-watchCtx.Done():
		}
	}()

	return sub.ch, stop, nil
}

// watchContext lazily creates the client-wide context that stops all
// watcher goroutines on Close.
func (c *Client) watchContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchCtx == nil {
		c.watchCtx, c.watchCancel = context.WithCancel(context.Background())
	}
	return c.watchCtx
}

// startWatcherIfNeeded launches the polling goroutine for a conversation if
// one is not already running.
func (c *Client) startWatcherIfNeeded(ctx context.Context, conversationID string) {
	c.mu.Lock()
	if c.watchers == nil {
		c.watchers = make(map[string]struct{})
	}
	if _, running := c.watchers[conversationID]; running {
		c.mu.Unlock()
		return
	}
	c.watchers[conversationID] = struct{}{}
	c.mu.Unlock()

	// Seed the seen set with the existing history before the loop starts,
	// so a message sent right after subscribing cannot be misfiled as old.
	state := &syncState{seen: make(map[string]struct{})}
	if existing, err := c.apiClient.GetMessages(ctx, conversationID, ""); err == nil {
		for i := range existing {
			state.seen[existing[i].ID] = struct{}{}
			state.lastID = existing[i].ID
		}
	}

	c.watchWG.Add(1)
	go func() {
		defer c.watchWG.Done()
		c.watchConversationLoop(ctx, conversationID, state)
	}()
}

// stopWatcherIfIdle removes the conversation's watcher entry when its last
// subscriber is gone. The count check and the removal happen under the same
// lock startWatcherIfNeeded takes, so a WatchConversation call racing this
// either finds the entry still present (and reuses the running loop, which
// then sees the new subscription) or finds it gone and starts a fresh loop.
// A subscriber can never be left without a poller.
func (c *Client) stopWatcherIfIdle(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs.count(conversationID) > 0 {
		return false
	}
	delete(c.watchers, conversationID)
	return true
}

func (c *Client) removeWatcher(conversationID string) {
	c.mu.Lock()
	delete(c.watchers, conversationID)
	c.mu.Unlock()
}

// watchConversationLoop is the per-conversation polling loop. It exits when
// the context is cancelled or the last subscriber unsubscribes.
func (c *Client) watchConversationLoop(ctx context.Context, conversationID string, state *syncState) {
	interval := c.watchConfig.initialInterval

	for {
		if c.stopWatcherIfIdle(conversationID) {
			return
		}

		changed, err := c.pollConversation(ctx, conversationID, state)
		if err != nil {
			c.reportSyncError(err)
		}

		if changed {
			interval = c.watchConfig.initialInterval
		} else {
			interval = time.Duration(float64(interval) * c.watchConfig.backoffMultiplier)
			if interval > c.watchConfig.maxBackoff {
				interval = c.watchConfig.maxBackoff
			}
		}

		jitter := time.Duration(rand.Float64() * c.watchConfig.jitterFactor * float64(interval))
		select {
		case <-ctx.Done():
			// Context cancellation means the client is closing; no new
			// loop can be racing for this entry.
			c.removeWatcher(conversationID)
			return
		case <-time.After(interval + jitter):
		}
	}
}

// pollConversation performs one sync-check-then-fetch cycle. It reports
// whether new messages were delivered.
func (c *Client) pollConversation(ctx context.Context, conversationID string, state *syncState) (bool, error) {
	status, err := c.apiClient.GetConversationSync(ctx, conversationID)
	if err != nil {
		return false, wrapError(err)
	}

	if status.MessagesHash == state.computeMessagesHash() {
		return false, nil
	}

	relay, err := c.apiClient.GetMessages(ctx, conversationID, state.lastID)
	if err != nil {
		return false, wrapError(err)
	}

	delivered := false
	for i := range relay {
		rm := &relay[i]
		if _, seen := state.seen[rm.ID]; seen {
			continue
		}
		state.seen[rm.ID] = struct{}{}
		state.lastID = rm.ID

		msg := c.decryptRelayMessage(ctx, rm)
		c.subs.notify(conversationID, msg)
		delivered = true
	}
	return delivered, nil
}

func (c *Client) reportSyncError(err error) {
	c.mu.RLock()
	fn := c.onSyncError
	c.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}
