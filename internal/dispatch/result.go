package dispatch

import (
	"github.com/christian-oudard/signal-cli/internal/store"
)

// ResultType tags the outcome of one per-recipient send.
type ResultType string

const (
	// Success carries the server acknowledgement timestamp.
	Success ResultType = "success"
	// NetworkFailure is transient; the caller may retry this recipient.
	NetworkFailure ResultType = "network-failure"
	// IdentityFailure means the recipient's current key needs a trust
	// decision; it carries the newly recorded identity.
	IdentityFailure ResultType = "identity-failure"
	// UnregisteredFailure means the recipient has no account.
	UnregisteredFailure ResultType = "unregistered-failure"
	// ProofRequiredFailure means the service demanded a rate-limit
	// challenge before accepting more sends.
	ProofRequiredFailure ResultType = "proof-required-failure"
)

// Result is the outcome of one per-recipient send. Failures are data, not
// control flow: one recipient's failure never aborts the others.
type Result struct {
	Recipient store.RecipientID
	Type      ResultType
	Timestamp int64           // server ack, set on Success
	Identity  *store.Identity // set on IdentityFailure
	Err       error           // underlying cause, set on failures
}

// Results aggregates the per-recipient outcomes of one logical send.
type Results struct {
	Timestamp int64 // sender-assigned message timestamp
	Entries   []Result
}

// AllSucceeded reports whether every entry succeeded.
func (r *Results) AllSucceeded() bool {
	for _, e := range r.Entries {
		if e.Type != Success {
			return false
		}
	}
	return true
}

// Failed returns the entries that did not succeed.
func (r *Results) Failed() []Result {
	var failed []Result
	for _, e := range r.Entries {
		if e.Type != Success {
			failed = append(failed, e)
		}
	}
	return failed
}

// Target is a polymorphic send target: an individual recipient or a group.
type Target struct {
	recipient store.RecipientID
	group     store.GroupID
	isGroup   bool
}

// ToRecipient targets an individual recipient.
func ToRecipient(id store.RecipientID) Target {
	return Target{recipient: id}
}

// ToGroup targets all current members of a group.
func ToGroup(id store.GroupID) Target {
	return Target{group: id, isGroup: true}
}
