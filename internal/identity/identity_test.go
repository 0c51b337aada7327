package identity

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/christian-oudard/signal-cli/internal/bus"
	"github.com/christian-oudard/signal-cli/internal/config"
	"github.com/christian-oudard/signal-cli/internal/store"
)

func testStore(t *testing.T, policy config.TrustNewIdentity) (*Store, store.RecipientID, *bus.Bus) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	id, err := db.InsertRecipient("+14155550101", "")
	if err != nil {
		t.Fatal(err)
	}
	b := bus.New()
	return NewStore(db, policy, b, zap.NewNop()), id, b
}

func TestTrustLevelNoIdentityRecorded(t *testing.T) {
	s, id, _ := testStore(t, config.TrustOnFirstUse)

	level, err := s.GetTrustLevel(id)
	if err != nil {
		t.Fatal(err)
	}
	if !level.Trusted() {
		t.Errorf("level = %s, want trusted before any key is seen", level)
	}
}

func TestRecordIdentityOnFirstUse(t *testing.T) {
	s, id, _ := testStore(t, config.TrustOnFirstUse)

	ident, changed, err := s.RecordIdentity(id, []byte("key-1"))
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("first key reported as change")
	}
	if TrustLevel(ident.TrustLevel) != TrustedUnverified {
		t.Errorf("first key level = %s, want trusted-unverified", ident.TrustLevel)
	}

	// A replacing key stays untrusted until verified.
	ident, changed, err = s.RecordIdentity(id, []byte("key-2"))
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Error("replacing key not reported as change")
	}
	if TrustLevel(ident.TrustLevel) != Untrusted {
		t.Errorf("replacing key level = %s, want untrusted", ident.TrustLevel)
	}

	level, err := s.GetTrustLevel(id)
	if err != nil {
		t.Fatal(err)
	}
	if level.Trusted() {
		t.Error("recipient still trusted after key change")
	}
}

func TestRecordIdentitySameKeyNoOp(t *testing.T) {
	s, id, b := testStore(t, config.TrustOnFirstUse)

	if _, _, err := s.RecordIdentity(id, []byte("key-1")); err != nil {
		t.Fatal(err)
	}
	ch, unsub := b.Subscribe("identity.", 10)
	defer unsub()

	_, changed, err := s.RecordIdentity(id, []byte("key-1"))
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("same key reported as change")
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected event %q for unchanged key", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRecordIdentityPolicies(t *testing.T) {
	tests := []struct {
		policy config.TrustNewIdentity
		want   TrustLevel
	}{
		{config.TrustAlways, TrustedUnverified},
		{config.TrustNever, Untrusted},
	}
	for _, tt := range tests {
		s, id, _ := testStore(t, tt.policy)
		ident, _, err := s.RecordIdentity(id, []byte("key-1"))
		if err != nil {
			t.Fatal(err)
		}
		if TrustLevel(ident.TrustLevel) != tt.want {
			t.Errorf("policy %s: level = %s, want %s", tt.policy, ident.TrustLevel, tt.want)
		}
	}
}

func TestTrustAlwaysAcceptsReplacingKey(t *testing.T) {
	s, id, _ := testStore(t, config.TrustAlways)

	if _, _, err := s.RecordIdentity(id, []byte("key-1")); err != nil {
		t.Fatal(err)
	}
	ident, _, err := s.RecordIdentity(id, []byte("key-2"))
	if err != nil {
		t.Fatal(err)
	}
	if TrustLevel(ident.TrustLevel) != TrustedUnverified {
		t.Errorf("replacing key level = %s, want trusted-unverified under always", ident.TrustLevel)
	}
}

func TestTrustVerifiedMatchingFingerprint(t *testing.T) {
	s, id, b := testStore(t, config.TrustOnFirstUse)

	if _, _, err := s.RecordIdentity(id, []byte("key-1")); err != nil {
		t.Fatal(err)
	}
	ch, unsub := b.Subscribe("identity.changed", 10)
	defer unsub()

	if err := s.TrustVerified(id, []byte("key-1")); err != nil {
		t.Fatal(err)
	}
	level, err := s.GetTrustLevel(id)
	if err != nil {
		t.Fatal(err)
	}
	if level != TrustedVerified {
		t.Errorf("level = %s, want trusted-verified", level)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for identity.changed event")
	}
}

func TestTrustVerifiedMismatchLeavesTrustUnchanged(t *testing.T) {
	s, id, _ := testStore(t, config.TrustOnFirstUse)

	if _, _, err := s.RecordIdentity(id, []byte("key-1")); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.RecordIdentity(id, []byte("key-2")); err != nil {
		t.Fatal(err)
	}

	err := s.TrustVerified(id, []byte("key-1"))
	var mismatch *IdentityMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("err = %v, want IdentityMismatchError", err)
	}
	level, err := s.GetTrustLevel(id)
	if err != nil {
		t.Fatal(err)
	}
	if level.Trusted() {
		t.Errorf("level = %s, mismatch must not change trust", level)
	}
}

func TestTrustAll(t *testing.T) {
	s, id, _ := testStore(t, config.TrustNever)

	if _, _, err := s.RecordIdentity(id, []byte("key-1")); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.RecordIdentity(id, []byte("key-2")); err != nil {
		t.Fatal(err)
	}
	if err := s.TrustAll(id); err != nil {
		t.Fatal(err)
	}

	idents, err := s.ListFor(id)
	if err != nil {
		t.Fatal(err)
	}
	for _, ident := range idents {
		if !TrustLevel(ident.TrustLevel).Trusted() {
			t.Errorf("identity %d level = %s, want trusted", ident.ID, ident.TrustLevel)
		}
	}
}
