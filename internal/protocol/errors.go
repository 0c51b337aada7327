package protocol

import (
	"errors"
	"fmt"
)

// ErrPullTimeout is returned by Transport.Pull when the timeout elapsed with
// no envelope available.
var ErrPullTimeout = errors.New("pull timed out")

// ErrCaughtUp is returned by Transport.Pull exactly once, when the queued
// backlog has been drained and subsequent envelopes will be live.
var ErrCaughtUp = errors.New("caught up with server backlog")

// ErrLinkInactive is returned by Transport.GroupByLink when the invite link
// password no longer matches (the link was revoked or rotated).
var ErrLinkInactive = errors.New("group invite link not active")

// UntrustedIdentityError is returned by Engine.Encrypt when the recipient's
// current identity key is not trusted for sending, and by Engine.Decrypt
// when an envelope announces a new identity key.
type UntrustedIdentityError struct {
	Address     Address
	IdentityKey []byte
}

func (e *UntrustedIdentityError) Error() string {
	return fmt.Sprintf("untrusted identity for %s", e.Address.Key())
}

// NetworkError is a transient transport failure; the send may be retried.
type NetworkError struct {
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure: %v", e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// UnregisteredError means the target account does not exist on the service.
type UnregisteredError struct {
	Address Address
}

func (e *UnregisteredError) Error() string {
	return fmt.Sprintf("recipient %s is not registered", e.Address.Key())
}

// ProofRequiredError means the service rate-limited the send and demands a
// human challenge before further messages are accepted.
type ProofRequiredError struct {
	Token   string
	Options []string
}

func (e *ProofRequiredError) Error() string {
	return "proof of humanity required before sending"
}

// AuthorizationFailedError means the account credentials were revoked. This
// is fatal for the session; the caller must re-register or re-link.
type AuthorizationFailedError struct {
	Cause error
}

func (e *AuthorizationFailedError) Error() string {
	return fmt.Sprintf("account authorization failed: %v", e.Cause)
}

func (e *AuthorizationFailedError) Unwrap() error { return e.Cause }
