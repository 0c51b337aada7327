package protocol

import (
	"context"
	"io"
	"time"
)

// Engine is the end-to-end cryptographic protocol engine. Key agreement,
// ratchet state and envelope formats are its business; this layer only
// chooses who to encrypt to and what to do with decrypted content.
type Engine interface {
	// Encrypt builds one encrypted envelope payload for the target.
	// Fails with *UntrustedIdentityError when the target's current key
	// requires a trust decision.
	Encrypt(ctx context.Context, target Address, content *Content) ([]byte, error)

	// Decrypt opens one received envelope. Fails with
	// *UntrustedIdentityError when the envelope announces a changed
	// identity key.
	Decrypt(ctx context.Context, env *Envelope) (*Content, error)

	// ComputeSafetyNumber derives the human-comparable fingerprint of the
	// two parties' identity keys.
	ComputeSafetyNumber(local Address, localKey []byte, remote Address, remoteKey []byte) (string, error)

	// ComputeSafetyNumberBytes derives the scannable form of the safety
	// number.
	ComputeSafetyNumberBytes(local Address, localKey []byte, remote Address, remoteKey []byte) ([]byte, error)
}

// Transport is the wire connection to the messaging service.
type Transport interface {
	// Send delivers one ciphertext. Fails with *NetworkError,
	// *UnregisteredError or *ProofRequiredError.
	Send(ctx context.Context, target Address, ciphertext []byte) (*SendAck, error)

	// Pull blocks until the next envelope arrives or timeout elapses
	// (ErrPullTimeout). Returns ErrCaughtUp once when the queued backlog
	// is drained.
	Pull(ctx context.Context, timeout time.Duration) (*Envelope, error)

	// IsRegistered resolves which of the given numbers have accounts,
	// mapping number to full address.
	IsRegistered(ctx context.Context, numbers []string) (map[string]Address, error)

	// GroupByLink fetches current group state for an invite link from the
	// group's admins. Fails with ErrLinkInactive when revoked.
	GroupByLink(ctx context.Context, masterKey, linkPassword []byte) (*GroupJoinInfo, error)
}

// AccountService covers account-level service operations outside the message
// path.
type AccountService interface {
	UpdateAccountAttributes(ctx context.Context, deviceName string) error
	SetProfile(ctx context.Context, profile Profile) error
	ListDevices(ctx context.Context) ([]DeviceInfo, error)
	AddDevice(ctx context.Context, linkURI string) error
	RemoveDevice(ctx context.Context, deviceID int) error
	SubmitRateLimitChallenge(ctx context.Context, challenge, captcha string) error
	Unregister(ctx context.Context) error
	DeleteAccount(ctx context.Context) error
}

// AttachmentStreamer provides attachment byte-stream I/O and upload
// negotiation.
type AttachmentStreamer interface {
	// OpenStream opens a local path or URI, returning the stream, the
	// detected content type and the length.
	OpenStream(pathOrURI string) (io.ReadCloser, string, int64, error)

	// NegotiateUploadSpec reserves a resumable upload location.
	NegotiateUploadSpec(ctx context.Context) (*UploadSpec, error)

	// Upload streams one attachment to the negotiated location and
	// returns the pointer to embed in the message.
	Upload(ctx context.Context, spec *UploadSpec, r io.Reader, contentType string, size int64) (*AttachmentPointer, error)
}
