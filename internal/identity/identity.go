package identity

import (
	"bytes"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/christian-oudard/signal-cli/internal/bus"
	"github.com/christian-oudard/signal-cli/internal/config"
	"github.com/christian-oudard/signal-cli/internal/store"
)

// TrustLevel classifies whether a recipient's currently stored public key is
// acceptable for encryption.
type TrustLevel string

const (
	Untrusted         TrustLevel = "untrusted"
	TrustedUnverified TrustLevel = "trusted-unverified"
	TrustedVerified   TrustLevel = "trusted-verified"
)

// Trusted reports whether the level permits encryption.
func (t TrustLevel) Trusted() bool {
	return t == TrustedUnverified || t == TrustedVerified
}

// IdentityMismatchError is returned when a supplied fingerprint or safety
// number does not match the stored current identity key.
type IdentityMismatchError struct {
	RecipientID store.RecipientID
}

func (e *IdentityMismatchError) Error() string {
	return fmt.Sprintf("fingerprint does not match the current identity of recipient %d", e.RecipientID)
}

// Store tracks per-recipient identity keys and trust decisions. It gates
// whether a message may be encrypted to a recipient; safety-number
// derivation belongs to the protocol engine.
type Store struct {
	db     *store.DB
	policy config.TrustNewIdentity
	bus    *bus.Bus
	logger *zap.Logger
}

// NewStore creates an identity store applying the given trust-new-identity
// policy.
func NewStore(db *store.DB, policy config.TrustNewIdentity, b *bus.Bus, logger *zap.Logger) *Store {
	return &Store{db: db, policy: policy, bus: b, logger: logger}
}

// Current returns the recipient's current identity record, or nil when no
// key was ever seen.
func (s *Store) Current(id store.RecipientID) (*store.Identity, error) {
	return s.db.CurrentIdentity(id)
}

// GetTrustLevel returns the trust level of the recipient's current identity.
// A recipient with no recorded identity is trusted; the first send records
// the key under the configured policy.
func (s *Store) GetTrustLevel(id store.RecipientID) (TrustLevel, error) {
	ident, err := s.db.CurrentIdentity(id)
	if err != nil {
		return Untrusted, err
	}
	if ident == nil {
		return TrustedUnverified, nil
	}
	return TrustLevel(ident.TrustLevel), nil
}

// RecordIdentity inserts a new identity record for the key, defaulting trust
// per the policy. A key replacing a previously seen one stays untrusted
// under on-first-use. Returns the record and whether it superseded a
// different key.
func (s *Store) RecordIdentity(id store.RecipientID, key []byte) (*store.Identity, bool, error) {
	current, err := s.db.CurrentIdentity(id)
	if err != nil {
		return nil, false, err
	}
	if current != nil && bytes.Equal(current.Key, key) {
		return current, false, nil
	}

	level := Untrusted
	switch s.policy {
	case config.TrustAlways:
		level = TrustedUnverified
	case config.TrustOnFirstUse:
		if current == nil {
			level = TrustedUnverified
		}
	case config.TrustNever:
		level = Untrusted
	}

	ident, err := s.db.InsertIdentity(id, key, string(level))
	if err != nil {
		return nil, false, err
	}
	changed := current != nil
	if changed {
		s.logger.Warn("identity key changed",
			zap.Int64("recipient", int64(id)),
			zap.String("trust_level", string(level)))
	}
	if s.bus != nil {
		s.bus.Publish(bus.Event{
			Kind:      "identity.changed",
			Timestamp: time.Now(),
			Payload:   ident,
		})
	}
	return ident, changed, nil
}

// TrustVerified transitions the current identity to trusted-verified if the
// supplied fingerprint matches the stored key material byte-for-byte.
// A mismatch fails with IdentityMismatchError and leaves trust unchanged.
func (s *Store) TrustVerified(id store.RecipientID, fingerprint []byte) error {
	ident, err := s.db.CurrentIdentity(id)
	if err != nil {
		return err
	}
	if ident == nil {
		return fmt.Errorf("no identity recorded for recipient %d", id)
	}
	if !bytes.Equal(ident.Key, fingerprint) {
		return &IdentityMismatchError{RecipientID: id}
	}
	return s.setTrust(ident, TrustedVerified)
}

// TrustVerifiedWith verifies the current identity against an arbitrary
// representation (safety-number string or scannable bytes), using compute to
// derive that representation from the stored key.
func (s *Store) TrustVerifiedWith(id store.RecipientID, supplied []byte, compute func(storedKey []byte) ([]byte, error)) error {
	ident, err := s.db.CurrentIdentity(id)
	if err != nil {
		return err
	}
	if ident == nil {
		return fmt.Errorf("no identity recorded for recipient %d", id)
	}
	derived, err := compute(ident.Key)
	if err != nil {
		return err
	}
	if !bytes.Equal(derived, supplied) {
		return &IdentityMismatchError{RecipientID: id}
	}
	return s.setTrust(ident, TrustedVerified)
}

// TrustAll unconditionally trusts every identity key recorded for the
// recipient. Used for lower-assurance flows; the result is
// trusted-unverified, not verified.
func (s *Store) TrustAll(id store.RecipientID) error {
	idents, err := s.db.ListIdentitiesFor(id)
	if err != nil {
		return err
	}
	if len(idents) == 0 {
		return fmt.Errorf("no identity recorded for recipient %d", id)
	}
	for i := range idents {
		ident := idents[i]
		if TrustLevel(ident.TrustLevel) == TrustedVerified {
			continue
		}
		if err := s.setTrust(&ident, TrustedUnverified); err != nil {
			return err
		}
	}
	return nil
}

// List returns all identity records, newest first.
func (s *Store) List() ([]store.Identity, error) {
	return s.db.ListIdentities()
}

// ListFor returns all identity records of one recipient, newest first.
func (s *Store) ListFor(id store.RecipientID) ([]store.Identity, error) {
	return s.db.ListIdentitiesFor(id)
}

func (s *Store) setTrust(ident *store.Identity, level TrustLevel) error {
	if err := s.db.SetIdentityTrust(ident.ID, string(level)); err != nil {
		return err
	}
	s.logger.Info("identity trust updated",
		zap.Int64("recipient", int64(ident.RecipientID)),
		zap.String("trust_level", string(level)))
	if s.bus != nil {
		updated := *ident
		updated.TrustLevel = string(level)
		s.bus.Publish(bus.Event{
			Kind:      "identity.changed",
			Timestamp: time.Now(),
			Payload:   &updated,
		})
	}
	return nil
}
