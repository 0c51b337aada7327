package protocol

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryEngine is an in-process Engine for tests and the daemon's loopback
// mode. Ciphertext is the JSON encoding of the content; no actual
// cryptography happens here.
type MemoryEngine struct {
	mu          sync.Mutex
	untrusted   map[string][]byte // address key -> announced identity key
	decryptFail map[int64]error   // envelope timestamp -> forced error
}

// NewMemoryEngine creates an engine with no failure injection.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		untrusted:   make(map[string][]byte),
		decryptFail: make(map[int64]error),
	}
}

// FailUntrusted makes Encrypt to addr fail with UntrustedIdentityError
// announcing the given key. A nil key clears the injection.
func (e *MemoryEngine) FailUntrusted(addr Address, key []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if key == nil {
		delete(e.untrusted, addr.Key())
		return
	}
	e.untrusted[addr.Key()] = key
}

// FailDecrypt makes Decrypt of the envelope with the given timestamp fail.
func (e *MemoryEngine) FailDecrypt(timestamp int64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decryptFail[timestamp] = err
}

func (e *MemoryEngine) Encrypt(_ context.Context, target Address, content *Content) ([]byte, error) {
	e.mu.Lock()
	key, bad := e.untrusted[target.Key()]
	e.mu.Unlock()
	if bad {
		return nil, &UntrustedIdentityError{Address: target, IdentityKey: key}
	}
	return json.Marshal(content)
}

func (e *MemoryEngine) Decrypt(_ context.Context, env *Envelope) (*Content, error) {
	e.mu.Lock()
	err, forced := e.decryptFail[env.Timestamp]
	e.mu.Unlock()
	if forced {
		return nil, err
	}
	var content Content
	if err := json.Unmarshal(env.Ciphertext, &content); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &content, nil
}

// ComputeSafetyNumber derives a deterministic 60-digit number from both
// parties' addresses and identity keys, ordered so both sides agree.
func (e *MemoryEngine) ComputeSafetyNumber(local Address, localKey []byte, remote Address, remoteKey []byte) (string, error) {
	digest, err := e.ComputeSafetyNumberBytes(local, localKey, remote, remoteKey)
	if err != nil {
		return "", err
	}
	out := make([]byte, 0, 60)
	for i := 0; len(out) < 60; i += 4 {
		n := binary.BigEndian.Uint32(digest[i%28 : i%28+4])
		out = fmt.Appendf(out, "%05d", n%100000)
	}
	return string(out), nil
}

func (e *MemoryEngine) ComputeSafetyNumberBytes(local Address, localKey []byte, remote Address, remoteKey []byte) ([]byte, error) {
	if len(localKey) == 0 || len(remoteKey) == 0 {
		return nil, fmt.Errorf("missing identity key material")
	}
	a := append([]byte(local.Key()), localKey...)
	b := append([]byte(remote.Key()), remoteKey...)
	// Order the halves so both parties compute the same digest.
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}
	sum := sha256.Sum256(append(a, b...))
	return sum[:], nil
}

// MemoryTransport is an in-process Transport with failure injection and a
// seedable envelope backlog.
type MemoryTransport struct {
	mu           sync.Mutex
	ch           chan *Envelope
	backlog      int
	caughtUp     bool
	unregistered map[string]bool
	netFail      map[string]bool
	proofReq     map[string]bool
	registered   map[string]Address // number -> address
	groups       map[string]*memoryGroupLink
	sent         map[string][][]byte
}

type memoryGroupLink struct {
	info     GroupJoinInfo
	password []byte
}

// NewMemoryTransport creates an empty transport; the first Pull reports
// ErrCaughtUp immediately unless a backlog was seeded.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		ch:           make(chan *Envelope, 256),
		unregistered: make(map[string]bool),
		netFail:      make(map[string]bool),
		proofReq:     make(map[string]bool),
		registered:   make(map[string]Address),
		groups:       make(map[string]*memoryGroupLink),
		sent:         make(map[string][][]byte),
	}
}

// SeedBacklog enqueues envelopes counted as queued history; ErrCaughtUp is
// reported only after all of them have been pulled.
func (t *MemoryTransport) SeedBacklog(envs ...*Envelope) {
	t.mu.Lock()
	t.backlog += len(envs)
	t.mu.Unlock()
	for _, env := range envs {
		t.ch <- env
	}
}

// Deliver enqueues a live envelope.
func (t *MemoryTransport) Deliver(env *Envelope) {
	t.ch <- env
}

// SetUnregistered marks an address as having no account.
func (t *MemoryTransport) SetUnregistered(addr Address, unregistered bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unregistered[addr.Key()] = unregistered
}

// SetNetworkFailure makes sends to addr fail with NetworkError.
func (t *MemoryTransport) SetNetworkFailure(addr Address, fail bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.netFail[addr.Key()] = fail
}

// SetProofRequired makes sends to addr fail with ProofRequiredError.
func (t *MemoryTransport) SetProofRequired(addr Address, required bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.proofReq[addr.Key()] = required
}

// Register records a number as having an account with the given address.
func (t *MemoryTransport) Register(number string, addr Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registered[number] = addr
}

// AddGroupLink makes an invite link resolvable via GroupByLink.
func (t *MemoryTransport) AddGroupLink(masterKey, password []byte, info GroupJoinInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.groups[hex.EncodeToString(masterKey)] = &memoryGroupLink{info: info, password: password}
}

// Sent returns all ciphertexts delivered to addr, in order.
func (t *MemoryTransport) Sent(addr Address) [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent[addr.Key()]
}

func (t *MemoryTransport) Send(_ context.Context, target Address, ciphertext []byte) (*SendAck, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := target.Key()
	switch {
	case t.unregistered[key]:
		return nil, &UnregisteredError{Address: target}
	case t.netFail[key]:
		return nil, &NetworkError{Cause: fmt.Errorf("connection reset")}
	case t.proofReq[key]:
		return nil, &ProofRequiredError{Token: "push-challenge"}
	}
	t.sent[key] = append(t.sent[key], ciphertext)
	return &SendAck{Timestamp: time.Now().UnixMilli()}, nil
}

func (t *MemoryTransport) Pull(ctx context.Context, timeout time.Duration) (*Envelope, error) {
	t.mu.Lock()
	if t.backlog == 0 && !t.caughtUp {
		t.caughtUp = true
		t.mu.Unlock()
		return nil, ErrCaughtUp
	}
	t.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case env := <-t.ch:
		t.mu.Lock()
		if t.backlog > 0 {
			t.backlog--
		}
		t.mu.Unlock()
		return env, nil
	case <-timer.C:
		return nil, ErrPullTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *MemoryTransport) IsRegistered(_ context.Context, numbers []string) (map[string]Address, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Address, len(numbers))
	for _, n := range numbers {
		if addr, ok := t.registered[n]; ok {
			out[n] = addr
		}
	}
	return out, nil
}

func (t *MemoryTransport) GroupByLink(_ context.Context, masterKey, linkPassword []byte) (*GroupJoinInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	link, ok := t.groups[hex.EncodeToString(masterKey)]
	if !ok || !bytes.Equal(link.password, linkPassword) {
		return nil, ErrLinkInactive
	}
	info := link.info
	return &info, nil
}

// MemoryAccountService is an in-process AccountService.
type MemoryAccountService struct {
	mu         sync.Mutex
	profile    Profile
	devices    []DeviceInfo
	nextDevice int
	Registered bool
}

// NewMemoryAccountService creates a registered account with one device.
func NewMemoryAccountService() *MemoryAccountService {
	return &MemoryAccountService{
		devices:    []DeviceInfo{{ID: 1, Name: "primary", Created: time.Now().UnixMilli()}},
		nextDevice: 2,
		Registered: true,
	}
}

func (s *MemoryAccountService) UpdateAccountAttributes(_ context.Context, _ string) error {
	return nil
}

func (s *MemoryAccountService) SetProfile(_ context.Context, profile Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = profile
	return nil
}

// Profile returns the last uploaded profile.
func (s *MemoryAccountService) Profile() Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

func (s *MemoryAccountService) ListDevices(_ context.Context) ([]DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeviceInfo, len(s.devices))
	copy(out, s.devices)
	return out, nil
}

func (s *MemoryAccountService) AddDevice(_ context.Context, linkURI string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = append(s.devices, DeviceInfo{
		ID:      s.nextDevice,
		Name:    linkURI,
		Created: time.Now().UnixMilli(),
	})
	s.nextDevice++
	return nil
}

func (s *MemoryAccountService) RemoveDevice(_ context.Context, deviceID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range s.devices {
		if d.ID == deviceID {
			s.devices = append(s.devices[:i], s.devices[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("device %d not found", deviceID)
}

func (s *MemoryAccountService) SubmitRateLimitChallenge(_ context.Context, _, _ string) error {
	return nil
}

func (s *MemoryAccountService) Unregister(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Registered = false
	return nil
}

func (s *MemoryAccountService) DeleteAccount(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Registered = false
	return nil
}

// MemoryAttachmentStreamer reads local files and stores uploads in memory.
type MemoryAttachmentStreamer struct {
	mu      sync.Mutex
	uploads map[string][]byte
}

// NewMemoryAttachmentStreamer creates an empty streamer.
func NewMemoryAttachmentStreamer() *MemoryAttachmentStreamer {
	return &MemoryAttachmentStreamer{uploads: make(map[string][]byte)}
}

func (s *MemoryAttachmentStreamer) OpenStream(pathOrURI string) (io.ReadCloser, string, int64, error) {
	f, err := os.Open(pathOrURI)
	if err != nil {
		return nil, "", 0, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, "", 0, err
	}
	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		_ = f.Close()
		return nil, "", 0, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, "", 0, err
	}
	return f, http.DetectContentType(head[:n]), info.Size(), nil
}

func (s *MemoryAttachmentStreamer) NegotiateUploadSpec(_ context.Context) (*UploadSpec, error) {
	return &UploadSpec{CDNNumber: 2, ResumableURI: "mem://upload/" + uuid.NewString()}, nil
}

func (s *MemoryAttachmentStreamer) Upload(_ context.Context, spec *UploadSpec, r io.Reader, contentType string, size int64) (*AttachmentPointer, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.uploads[id] = data
	s.mu.Unlock()
	return &AttachmentPointer{
		ID:          id,
		ContentType: contentType,
		Size:        size,
	}, nil
}

// Uploaded returns the stored bytes for an attachment ID.
func (s *MemoryAttachmentStreamer) Uploaded(id string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads[id]
}
