package recipient

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/christian-oudard/signal-cli/internal/protocol"
	"github.com/christian-oudard/signal-cli/internal/store"
)

// AmbiguousIdentifierError is returned when an identifier cannot be
// normalized to a number or account UUID.
type AmbiguousIdentifierError struct {
	Identifier string
}

func (e *AmbiguousIdentifierError) Error() string {
	return fmt.Sprintf("identifier %q is neither a valid number nor an account UUID", e.Identifier)
}

var numberRegexp = regexp.MustCompile(`^\+[1-9][0-9]{5,14}$`)

// Resolver maps external identifiers (E.164 numbers, account UUIDs, wire
// addresses) to stable local recipient handles, creating handles on first
// sight and merging duplicates once an inbound message proves two handles
// denote the same account.
type Resolver struct {
	db     *store.DB
	logger *zap.Logger
}

// NewResolver creates a resolver over the account database.
func NewResolver(db *store.DB, logger *zap.Logger) *Resolver {
	return &Resolver{db: db, logger: logger}
}

// Resolve normalizes an identifier and returns its recipient handle,
// creating one on first sight. Idempotent for the same normalized
// identifier. Fails with AmbiguousIdentifierError on malformed input.
func (r *Resolver) Resolve(identifier string) (store.RecipientID, error) {
	if id, err := uuid.Parse(identifier); err == nil {
		return r.ResolveAddress(protocol.Address{ACI: id.String()})
	}
	if numberRegexp.MatchString(identifier) {
		return r.ResolveAddress(protocol.Address{Number: identifier})
	}
	return 0, &AmbiguousIdentifierError{Identifier: identifier}
}

// ResolveAddress returns the handle for a wire address, creating or merging
// handles as needed. A UUID seen for a previously number-only handle (or
// vice versa) is recorded; two existing handles proven equal are merged.
func (r *Resolver) ResolveAddress(addr protocol.Address) (store.RecipientID, error) {
	if addr.ACI == "" && addr.Number == "" {
		return 0, &AmbiguousIdentifierError{Identifier: ""}
	}

	var byACI, byNumber *store.Recipient
	var err error
	if addr.ACI != "" {
		if byACI, err = r.db.FindRecipientByACI(addr.ACI); err != nil {
			return 0, err
		}
	}
	if addr.Number != "" {
		if byNumber, err = r.db.FindRecipientByNumber(addr.Number); err != nil {
			return 0, err
		}
	}

	switch {
	case byACI != nil && byNumber != nil:
		if byACI.ID == byNumber.ID {
			return byACI.ID, nil
		}
		// Two handles for one account: the UUID handle survives.
		return r.Merge(byACI.ID, byNumber.ID)

	case byACI != nil:
		if addr.Number != "" && byACI.Number == "" {
			if err := r.db.SetRecipientNumber(byACI.ID, addr.Number); err != nil {
				return 0, err
			}
		}
		return byACI.ID, nil

	case byNumber != nil:
		if addr.ACI != "" {
			if byNumber.ACI == "" {
				if err := r.db.SetRecipientACI(byNumber.ID, addr.ACI); err != nil {
					return 0, err
				}
			} else if byNumber.ACI != addr.ACI {
				// The number moved to a different account. It now
				// belongs to a fresh handle; the old one keeps its
				// UUID and history.
				if err := r.db.SetRecipientNumber(byNumber.ID, ""); err != nil {
					return 0, err
				}
				return r.insert(addr)
			}
		}
		return byNumber.ID, nil
	}

	return r.insert(addr)
}

// Address returns the wire address of a recipient handle.
func (r *Resolver) Address(id store.RecipientID) (protocol.Address, error) {
	rec, err := r.db.GetRecipient(id)
	if err != nil {
		return protocol.Address{}, err
	}
	if rec == nil {
		return protocol.Address{}, fmt.Errorf("recipient %d not found", id)
	}
	return protocol.Address{ACI: rec.ACI, Number: rec.Number}, nil
}

// Merge unifies two handles that denote the same account, re-pointing all
// contact, identity and group-membership references to the survivor. The
// handle that already carries a UUID survives; given two, a survives.
func (r *Resolver) Merge(a, b store.RecipientID) (store.RecipientID, error) {
	if a == b {
		return a, nil
	}
	recA, err := r.db.GetRecipient(a)
	if err != nil {
		return 0, err
	}
	recB, err := r.db.GetRecipient(b)
	if err != nil {
		return 0, err
	}
	if recA == nil || recB == nil {
		return 0, fmt.Errorf("cannot merge: recipient not found")
	}

	survivor, loser := a, b
	if recA.ACI == "" && recB.ACI != "" {
		survivor, loser = b, a
	}
	if err := r.db.MergeRecipients(survivor, loser); err != nil {
		return 0, fmt.Errorf("merge recipients: %w", err)
	}
	// The member sets of the survivor's groups just collapsed two handles
	// into one, so their sender-key distributions are stale.
	groups, err := r.db.GroupsForRecipient(survivor)
	if err != nil {
		return 0, err
	}
	for _, gid := range groups {
		if err := r.db.SetGroupDistributionID(gid, uuid.NewString()); err != nil {
			return 0, err
		}
	}
	r.logger.Info("merged recipients",
		zap.Int64("survivor", int64(survivor)),
		zap.Int64("merged", int64(loser)),
		zap.Int("groups_rotated", len(groups)))
	return survivor, nil
}

func (r *Resolver) insert(addr protocol.Address) (store.RecipientID, error) {
	id, err := r.db.InsertRecipient(addr.Number, addr.ACI)
	if err != nil {
		return 0, err
	}
	// Every resolved recipient gets an address-book row.
	if err := r.db.EnsureContact(id); err != nil {
		return 0, err
	}
	return id, nil
}
