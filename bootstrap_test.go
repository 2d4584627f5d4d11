package dmcrypt

import (
	"testing"

	"github.com/moonpup/dmcrypt-go/internal/vault"
)

func TestBootstrap_FreshUserPublishesKey(t *testing.T) {
	relay := newFakeRelay(t)
	storage := vault.NewMemoryStorage()

	client := newTestClient(t, relay, "alice", storage)

	if got := client.State(); got != StateReady {
		t.Errorf("State() = %v, want %v", got, StateReady)
	}
	if client.Notice() != nil {
		t.Errorf("Notice() = %v, want nil for fresh user", client.Notice())
	}

	identity, err := client.Identity()
	if err != nil {
		t.Fatal(err)
	}
	if relay.directoryKey("alice") != identity.PublicKey {
		t.Error("directory entry does not match local public key")
	}
	if identity.KeyVersion != 1 {
		t.Errorf("KeyVersion = %d, want 1", identity.KeyVersion)
	}

	// The private key must be persisted wrapped, ready for the next session.
	v := vault.New(storage, vault.Fingerprint{Origin: "https://test.example", Agent: "go-test/1.0"})
	if _, ok := v.Unwrap(); !ok {
		t.Error("vault holds no unwrappable key after bootstrap")
	}
}

func TestBootstrap_ReturningUserIsUpToDate(t *testing.T) {
	relay := newFakeRelay(t)
	storage := vault.NewMemoryStorage()

	first := newTestClient(t, relay, "alice", storage)
	firstIdentity, err := first.Identity()
	if err != nil {
		t.Fatal(err)
	}
	first.Close()

	second := newTestClient(t, relay, "alice", storage)

	if got := second.State(); got != StateReady {
		t.Errorf("State() = %v, want %v", got, StateReady)
	}
	if second.Notice() != nil {
		t.Error("returning user got a rotation notice")
	}

	secondIdentity, err := second.Identity()
	if err != nil {
		t.Fatal(err)
	}
	if secondIdentity.PublicKey != firstIdentity.PublicKey {
		t.Error("key changed across sessions")
	}
	// The matching entry must not be republished.
	if got := relay.publishCount(); got != 1 {
		t.Errorf("publish calls = %d, want 1", got)
	}
}

func TestBootstrap_LocalKeyWithoutDirectoryEntryIsPublished(t *testing.T) {
	relay := newFakeRelay(t)
	storage := vault.NewMemoryStorage()

	first := newTestClient(t, relay, "alice", storage)
	identity, err := first.Identity()
	if err != nil {
		t.Fatal(err)
	}
	first.Close()

	// Simulate directory loss: the entry disappears, local key survives.
	relay.mu.Lock()
	delete(relay.keys, "alice")
	relay.mu.Unlock()

	second := newTestClient(t, relay, "alice", storage)

	if second.Notice() != nil {
		t.Error("republish of an existing local key produced a rotation notice")
	}
	if relay.directoryKey("alice") != identity.PublicKey {
		t.Error("local key was not republished")
	}

	secondIdentity, _ := second.Identity()
	if secondIdentity.PublicKey != identity.PublicKey {
		t.Error("local key changed on republish")
	}
}

func TestBootstrap_NewDeviceOverwritesEntryWithNotice(t *testing.T) {
	relay := newFakeRelay(t)

	// The user's previous device published a key this device does not have.
	relay.setDirectoryKey("alice", "c3RhbGUta2V5LWZyb20tb2xkLWRldmljZQ")

	var notices []*KeyRotationNotice
	client := newTestClient(t, relay, "alice", vault.NewMemoryStorage(),
		WithKeyRotationNotice(func(n *KeyRotationNotice) { notices = append(notices, n) }))

	notice := client.Notice()
	if notice == nil {
		t.Fatal("Notice() = nil, want rotation notice")
	}
	if notice.Reason != RotationMissingLocal {
		t.Errorf("Reason = %q, want %q", notice.Reason, RotationMissingLocal)
	}
	if notice.OldPublicKey != "c3RhbGUta2V5LWZyb20tb2xkLWRldmljZQ" {
		t.Errorf("OldPublicKey = %q", notice.OldPublicKey)
	}

	identity, _ := client.Identity()
	if notice.NewPublicKey != identity.PublicKey {
		t.Error("notice NewPublicKey does not match current key")
	}
	if relay.directoryKey("alice") != identity.PublicKey {
		t.Error("directory entry was not overwritten")
	}
	if len(notices) != 1 {
		t.Errorf("rotation callback fired %d times, want 1", len(notices))
	}
}

func TestBootstrap_DivergenceRegeneratesWithNotice(t *testing.T) {
	relay := newFakeRelay(t)
	storage := vault.NewMemoryStorage()

	first := newTestClient(t, relay, "alice", storage)
	oldIdentity, err := first.Identity()
	if err != nil {
		t.Fatal(err)
	}
	first.Close()

	// Another device overwrote the entry since this device's last session.
	relay.setDirectoryKey("alice", "b3RoZXItZGV2aWNlLWtleQ")

	second := newTestClient(t, relay, "alice", storage)

	notice := second.Notice()
	if notice == nil {
		t.Fatal("Notice() = nil, want divergence notice")
	}
	if notice.Reason != RotationDivergence {
		t.Errorf("Reason = %q, want %q", notice.Reason, RotationDivergence)
	}
	if notice.OldPublicKey != "b3RoZXItZGV2aWNlLWtleQ" {
		t.Errorf("OldPublicKey = %q, want the diverged directory key", notice.OldPublicKey)
	}

	identity, _ := second.Identity()
	if identity.PublicKey == oldIdentity.PublicKey {
		t.Error("key was not regenerated on divergence")
	}
	if relay.directoryKey("alice") != identity.PublicKey {
		t.Error("regenerated key was not published")
	}

	// The new key must be the one persisted locally for the next session.
	second.Close()
	third := newTestClient(t, relay, "alice", storage)
	if third.Notice() != nil {
		t.Error("session after divergence recovery got another notice")
	}
	thirdIdentity, _ := third.Identity()
	if thirdIdentity.PublicKey != identity.PublicKey {
		t.Error("regenerated key not stable across sessions")
	}
}

func TestBootstrap_DirectoryOutageKeepsLocalKey(t *testing.T) {
	relay := newFakeRelay(t)
	storage := vault.NewMemoryStorage()

	first := newTestClient(t, relay, "alice", storage)
	identity, err := first.Identity()
	if err != nil {
		t.Fatal(err)
	}
	first.Close()

	relay.mu.Lock()
	relay.failOwnKey = true
	relay.mu.Unlock()

	second := newTestClient(t, relay, "alice", storage)

	if got := second.State(); got != StateReadyWithWarning {
		t.Errorf("State() = %v, want %v", got, StateReadyWithWarning)
	}
	if !second.State().IsReady() {
		t.Error("degraded state must still allow crypto operations")
	}
	if second.Notice() != nil {
		t.Error("outage produced a rotation notice")
	}

	secondIdentity, err := second.Identity()
	if err != nil {
		t.Fatal(err)
	}
	if secondIdentity.PublicKey != identity.PublicKey {
		t.Error("local key changed during directory outage")
	}
}

func TestBootstrap_PublishFailureIsNonFatal(t *testing.T) {
	relay := newFakeRelay(t)
	relay.mu.Lock()
	relay.failPublish = true
	relay.mu.Unlock()

	client := newTestClient(t, relay, "alice", vault.NewMemoryStorage())

	if got := client.State(); got != StateReadyWithWarning {
		t.Errorf("State() = %v, want %v", got, StateReadyWithWarning)
	}

	// The generated key must still be persisted so the next session can
	// retry the publish instead of generating yet another key.
	identity, err := client.Identity()
	if err != nil {
		t.Fatal(err)
	}
	if identity.PublicKey == "" {
		t.Error("no local key after failed publish")
	}
}

func TestBootstrapState_String(t *testing.T) {
	tests := []struct {
		state BootstrapState
		want  string
	}{
		{StateUninitialized, "uninitialized"},
		{StateCheckingLocal, "checking_local"},
		{StateNoLocalKey, "no_local_key"},
		{StateLocalKeyFound, "local_key_found"},
		{StateReconciling, "reconciling"},
		{StatePublished, "published"},
		{StateUpToDate, "up_to_date"},
		{StateReady, "ready"},
		{StateReadyWithWarning, "ready_with_warning"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestBootstrapState_IsReady(t *testing.T) {
	if !StateReady.IsReady() || !StateReadyWithWarning.IsReady() {
		t.Error("terminal states must report ready")
	}
	for _, s := range []BootstrapState{StateUninitialized, StateCheckingLocal, StateReconciling, StatePublished, StateUpToDate} {
		if s.IsReady() {
			t.Errorf("%v.IsReady() = true", s)
		}
	}
}
