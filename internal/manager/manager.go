package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/christian-oudard/signal-cli/internal/bus"
	"github.com/christian-oudard/signal-cli/internal/config"
	"github.com/christian-oudard/signal-cli/internal/dispatch"
	"github.com/christian-oudard/signal-cli/internal/group"
	"github.com/christian-oudard/signal-cli/internal/identity"
	"github.com/christian-oudard/signal-cli/internal/protocol"
	"github.com/christian-oudard/signal-cli/internal/provision"
	"github.com/christian-oudard/signal-cli/internal/receive"
	"github.com/christian-oudard/signal-cli/internal/recipient"
	"github.com/christian-oudard/signal-cli/internal/status"
	"github.com/christian-oudard/signal-cli/internal/store"
)

// NotRegisteredError is returned when the account directory holds no
// registered account.
type NotRegisteredError struct {
	Account string
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("account %s is not registered", e.Account)
}

// Params carries the account-scoped components a Manager composes.
type Params struct {
	Account        string
	DB             *store.DB
	Bus            *bus.Bus
	State          *status.Machine
	Config         *config.Config
	Engine         protocol.Engine
	Transport      protocol.Transport
	AccountService protocol.AccountService
	Streamer       protocol.AttachmentStreamer
	Logger         *zap.Logger
}

// Manager is the facade over one registered account: resolving recipients,
// trust decisions, group state, sending and receiving. Foreground mutations
// serialize on the account-level mutex; the receive loop's side effects
// serialize with them on the group store's per-group locks and the
// database. When both locks are held, the account lock is acquired first.
type Manager struct {
	account    string
	db         *store.DB
	bus        *bus.Bus
	state      *status.Machine
	engine     protocol.Engine
	transport  protocol.Transport
	accountSvc protocol.AccountService
	logger     *zap.Logger

	resolver   *recipient.Resolver
	identities *identity.Store
	groups     *group.Store
	dispatcher *dispatch.Dispatcher
	loop       *receive.Loop

	mu       sync.Mutex
	acct     store.Account
	self     store.RecipientID
	selfAddr protocol.Address
}

// New opens the account and wires the per-account components. Fails with
// NotRegisteredError when no registered account row exists.
func New(p Params) (*Manager, error) {
	acct, err := p.DB.LoadAccount()
	if err != nil {
		_ = p.State.Transition(status.Failed)
		return nil, fmt.Errorf("load account: %w", err)
	}
	if acct == nil || !acct.Registered {
		_ = p.State.Transition(status.Failed)
		return nil, &NotRegisteredError{Account: p.Account}
	}

	resolver := recipient.NewResolver(p.DB, p.Logger)
	selfAddr := protocol.Address{ACI: acct.ACI, Number: acct.Number}
	self, err := resolver.ResolveAddress(selfAddr)
	if err != nil {
		_ = p.State.Transition(status.Failed)
		return nil, fmt.Errorf("resolve own account: %w", err)
	}

	identities := identity.NewStore(p.DB, p.Config.TrustNewIdentity, p.Bus, p.Logger)
	groups := group.NewStore(p.DB, p.Bus, p.Logger)
	dispatcher := dispatch.New(p.DB, resolver, identities, groups,
		p.Engine, p.Transport, p.Streamer, self, p.Logger)
	loop := receive.NewLoop(p.Transport, p.Engine, resolver, identities, groups,
		p.DB, p.Bus, p.State, self, p.Logger)

	if err := p.State.Transition(status.Ready); err != nil {
		return nil, err
	}
	p.Logger.Info("account loaded",
		zap.String("number", acct.Number),
		zap.Int("device_id", acct.DeviceID))

	return &Manager{
		account:    p.Account,
		db:         p.DB,
		bus:        p.Bus,
		state:      p.State,
		engine:     p.Engine,
		transport:  p.Transport,
		accountSvc: p.AccountService,
		logger:     p.Logger,
		resolver:   resolver,
		identities: identities,
		groups:     groups,
		dispatcher: dispatcher,
		loop:       loop,
		acct:       *acct,
		self:       self,
		selfAddr:   selfAddr,
	}, nil
}

// Register writes a registered account row. Used when registration or device
// linking completes.
func Register(db *store.DB, number, aci string, deviceID int, deviceName string) error {
	return db.SaveAccount(&store.Account{
		Number:     number,
		ACI:        aci,
		DeviceID:   deviceID,
		DeviceName: deviceName,
		Registered: true,
	})
}

// Username returns the account's E.164 number.
func (m *Manager) Username() string { return m.acct.Number }

// SelfRecipientID returns the local handle of the account itself.
func (m *Manager) SelfRecipientID() store.RecipientID { return m.self }

// DeviceID returns the local device's ID within the account.
func (m *Manager) DeviceID() int { return m.acct.DeviceID }

// Account returns a copy of the local account row.
func (m *Manager) Account() store.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acct
}

// CheckAccountState verifies against the service that the account is still
// registered, updating the local row when it is not.
func (m *Manager) CheckAccountState(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	registered, err := m.transport.IsRegistered(ctx, []string{m.acct.Number})
	if err != nil {
		return err
	}
	if _, ok := registered[m.acct.Number]; !ok {
		m.acct.Registered = false
		if err := m.db.SaveAccount(&m.acct); err != nil {
			return err
		}
		return &NotRegisteredError{Account: m.account}
	}
	return nil
}

// AreUsersRegistered resolves which of the given numbers have service
// accounts. Registered numbers get their full address recorded locally.
func (m *Manager) AreUsersRegistered(ctx context.Context, numbers []string) (map[string]bool, error) {
	found, err := m.transport.IsRegistered(ctx, numbers)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(numbers))
	for _, n := range numbers {
		addr, ok := found[n]
		out[n] = ok
		if ok {
			if _, err := m.resolver.ResolveAddress(addr); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// UpdateAccountAttributes pushes the device name to the service.
func (m *Manager) UpdateAccountAttributes(ctx context.Context, deviceName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.accountSvc.UpdateAccountAttributes(ctx, deviceName); err != nil {
		return err
	}
	m.acct.DeviceName = deviceName
	return m.db.SaveAccount(&m.acct)
}

// SetProfile uploads the public profile and records it locally.
func (m *Manager) SetProfile(ctx context.Context, p protocol.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.accountSvc.SetProfile(ctx, p); err != nil {
		return err
	}
	m.acct.ProfileGivenName = p.GivenName
	m.acct.ProfileFamilyName = p.FamilyName
	m.acct.ProfileAbout = p.About
	m.acct.ProfileAboutEmoji = p.AboutEmoji
	m.acct.ProfileAvatarPath = p.AvatarPath
	return m.db.SaveAccount(&m.acct)
}

// Unregister disables the account on the service, keeping local data.
func (m *Manager) Unregister(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.accountSvc.Unregister(ctx); err != nil {
		return err
	}
	m.acct.Registered = false
	return m.db.SaveAccount(&m.acct)
}

// DeleteAccount deletes the account from the service. Local data stays on
// disk until the account directory is removed.
func (m *Manager) DeleteAccount(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.accountSvc.DeleteAccount(ctx); err != nil {
		return err
	}
	m.acct.Registered = false
	return m.db.SaveAccount(&m.acct)
}

// ListDevices lists the account's linked devices.
func (m *Manager) ListDevices(ctx context.Context) ([]protocol.DeviceInfo, error) {
	return m.accountSvc.ListDevices(ctx)
}

// AddDevice links a new device from its device-link URI.
func (m *Manager) AddDevice(ctx context.Context, linkURI string) error {
	if _, err := provision.ParseURI(linkURI); err != nil {
		return err
	}
	return m.accountSvc.AddDevice(ctx, linkURI)
}

// RemoveDevice unlinks a device by ID.
func (m *Manager) RemoveDevice(ctx context.Context, deviceID int) error {
	return m.accountSvc.RemoveDevice(ctx, deviceID)
}

// SubmitRateLimitChallenge answers a proof-required challenge so sending can
// resume.
func (m *Manager) SubmitRateLimitChallenge(ctx context.Context, challenge, captcha string) error {
	return m.accountSvc.SubmitRateLimitChallenge(ctx, challenge, captcha)
}

// Resolve normalizes an identifier (number or account UUID) to its local
// recipient handle.
func (m *Manager) Resolve(identifier string) (store.RecipientID, error) {
	return m.resolver.Resolve(identifier)
}

// RecipientAddress returns the wire address of a recipient handle.
func (m *Manager) RecipientAddress(id store.RecipientID) (protocol.Address, error) {
	return m.resolver.Address(id)
}

// CreateGroup creates a group with the given member identifiers, the account
// as sole admin, and fans the initial state out to the members.
func (m *Manager) CreateGroup(ctx context.Context, title string, memberIdentifiers []string, avatarPath string) (*group.Snapshot, *dispatch.Results, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, err := m.resolveAll(memberIdentifiers)
	if err != nil {
		return nil, nil, err
	}
	snap, err := m.groups.Create(m.self, title, members, avatarPath)
	if err != nil {
		return nil, nil, err
	}
	change, err := m.wireChange(&group.UpdateRequest{Title: &snap.Group.Title, AddMembers: snap.MemberIDs()})
	if err != nil {
		return nil, nil, err
	}
	results, err := m.dispatcher.SendGroupState(ctx, snap, change)
	return snap, results, err
}

// UpdateGroup applies a membership/settings diff and fans the delta out to
// the post-update member set.
func (m *Manager) UpdateGroup(ctx context.Context, id store.GroupID, req *group.UpdateRequest) (*group.Snapshot, *dispatch.Results, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, changed, err := m.groups.Update(m.self, id, req)
	if err != nil {
		return nil, nil, err
	}
	if !changed {
		// No-op diff: nothing to announce.
		return snap, &dispatch.Results{Timestamp: time.Now().UnixMilli()}, nil
	}
	change, err := m.wireChange(req)
	if err != nil {
		return nil, nil, err
	}
	results, err := m.dispatcher.SendGroupState(ctx, snap, change)
	return snap, results, err
}

// QuitGroup leaves the group, promoting newAdmins in the same operation when
// the caller is the last admin, and announces the departure to the remaining
// members.
func (m *Manager) QuitGroup(ctx context.Context, id store.GroupID, newAdminIdentifiers []string) (*dispatch.Results, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	newAdmins, err := m.resolveAll(newAdminIdentifiers)
	if err != nil {
		return nil, err
	}
	snap, err := m.groups.Quit(m.self, id, newAdmins)
	if err != nil {
		return nil, err
	}
	change, err := m.wireChange(&group.UpdateRequest{
		RemoveMembers: []store.RecipientID{m.self},
		PromoteAdmins: newAdmins,
	})
	if err != nil {
		return nil, err
	}
	return m.dispatcher.SendGroupState(ctx, snap, change)
}

// JoinGroup joins a group via its invite link, possibly entering the
// pending-approval state.
func (m *Manager) JoinGroup(ctx context.Context, link string) (*group.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groups.Join(ctx, m.transport, m.self, link)
}

// GetGroup returns a group's current snapshot.
func (m *Manager) GetGroup(id store.GroupID) (*group.Snapshot, error) {
	return m.groups.Get(id)
}

// ListGroups returns all known groups.
func (m *Manager) ListGroups() ([]store.Group, error) {
	return m.groups.List()
}

// DeleteGroup removes a group locally.
func (m *Manager) DeleteGroup(id store.GroupID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groups.Delete(id)
}

// SetGroupBlocked updates a group's blocked flag.
func (m *Manager) SetGroupBlocked(id store.GroupID, blocked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groups.SetBlocked(id, blocked)
}

// GroupInviteLink returns the group's shareable invite link. Fails when the
// link is disabled.
func (m *Manager) GroupInviteLink(id store.GroupID) (string, error) {
	snap, err := m.groups.Get(id)
	if err != nil {
		return "", err
	}
	if snap.Group.InviteLinkState == string(group.LinkDisabled) || len(snap.Group.InviteLinkPassword) == 0 {
		return "", &group.GroupLinkNotActiveError{}
	}
	return group.InviteLink(snap.Group.MasterKey, snap.Group.InviteLinkPassword), nil
}

// SendMessage sends a text message with optional attachments to the given
// recipient identifiers and groups.
func (m *Manager) SendMessage(ctx context.Context, msg *dispatch.Message, recipients []string, groups []store.GroupID) (*dispatch.Results, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids, err := m.resolveAll(recipients)
	if err != nil {
		return nil, err
	}
	targets := make([]dispatch.Target, 0, len(ids)+len(groups))
	for _, id := range ids {
		targets = append(targets, dispatch.ToRecipient(id))
	}
	for _, g := range groups {
		targets = append(targets, dispatch.ToGroup(g))
	}
	results, err := m.dispatcher.SendMessage(ctx, msg, targets)
	if err != nil {
		return nil, err
	}
	// Messaging a recipient directly shares our profile with them from
	// then on.
	for _, id := range ids {
		if perr := m.db.SetContactProfileSharing(id, true); perr != nil {
			m.logger.Warn("failed to record profile sharing",
				zap.Int64("recipient", int64(id)), zap.Error(perr))
		}
	}
	return results, nil
}

// SendTyping sends a typing indicator to the given recipients and groups.
func (m *Manager) SendTyping(ctx context.Context, action protocol.TypingAction, recipients []string, groups []store.GroupID) (*dispatch.Results, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	targets, err := m.resolveTargets(recipients, groups)
	if err != nil {
		return nil, err
	}
	return m.dispatcher.SendTyping(ctx, action, targets)
}

// SendReceipt sends a receipt for the given message timestamps to their
// sender.
func (m *Manager) SendReceipt(ctx context.Context, sender string, receiptType protocol.ReceiptType, timestamps []int64) (*dispatch.Results, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	to, err := m.resolver.Resolve(sender)
	if err != nil {
		return nil, err
	}
	return m.dispatcher.SendReceipt(ctx, to, receiptType, timestamps)
}

// SendReaction sends an emoji reaction to the given recipients and groups.
func (m *Manager) SendReaction(ctx context.Context, emoji string, remove bool, targetAuthor string, targetTimestamp int64, recipients []string, groups []store.GroupID) (*dispatch.Results, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	author, err := m.resolver.Resolve(targetAuthor)
	if err != nil {
		return nil, err
	}
	targets, err := m.resolveTargets(recipients, groups)
	if err != nil {
		return nil, err
	}
	return m.dispatcher.SendReaction(ctx, emoji, remove, author, targetTimestamp, targets)
}

// SendRemoteDelete asks the targets to delete a previously sent message.
func (m *Manager) SendRemoteDelete(ctx context.Context, targetTimestamp int64, recipients []string, groups []store.GroupID) (*dispatch.Results, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	targets, err := m.resolveTargets(recipients, groups)
	if err != nil {
		return nil, err
	}
	return m.dispatcher.SendRemoteDelete(ctx, targetTimestamp, targets)
}

// SendEndSession asks the recipients to discard the current session state.
func (m *Manager) SendEndSession(ctx context.Context, recipients []string) (*dispatch.Results, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids, err := m.resolveAll(recipients)
	if err != nil {
		return nil, err
	}
	return m.dispatcher.SendEndSession(ctx, ids)
}

// SendContacts syncs the local address book to the account's other devices.
func (m *Manager) SendContacts(ctx context.Context) (*dispatch.Results, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	contacts, err := m.db.ListContacts()
	if err != nil {
		return nil, err
	}
	payload := &protocol.SyncMessage{}
	for _, c := range contacts {
		addr, err := m.resolver.Address(c.RecipientID)
		if err != nil {
			return nil, err
		}
		payload.Contacts = append(payload.Contacts, protocol.ContactRecord{
			Address:        addr,
			Name:           c.Name,
			Blocked:        c.Blocked,
			ExpireTimer:    c.ExpirationTimer,
			ProfileSharing: c.ProfileSharing,
		})
		if c.Blocked {
			payload.Blocked = append(payload.Blocked, addr)
		}
	}
	return m.dispatcher.SendSync(ctx, payload)
}

// GetContact returns the address-book entry for an identifier, or nil.
func (m *Manager) GetContact(identifier string) (*store.Contact, error) {
	id, err := m.resolver.Resolve(identifier)
	if err != nil {
		return nil, err
	}
	return m.db.GetContact(id)
}

// ListContacts returns the full local address book.
func (m *Manager) ListContacts() ([]store.Contact, error) {
	return m.db.ListContacts()
}

// SetContactName updates a contact's display name.
func (m *Manager) SetContactName(identifier, name string) error {
	return m.setContact(identifier, func(id store.RecipientID) error {
		return m.db.SetContactName(id, name)
	})
}

// SetContactBlocked updates a contact's blocked flag. Blocked contacts are
// excluded from group message fan-out.
func (m *Manager) SetContactBlocked(identifier string, blocked bool) error {
	return m.setContact(identifier, func(id store.RecipientID) error {
		return m.db.SetContactBlocked(id, blocked)
	})
}

// SetExpirationTimer updates the 1:1 disappearing-message timer for a
// contact.
func (m *Manager) SetExpirationTimer(identifier string, seconds int) error {
	return m.setContact(identifier, func(id store.RecipientID) error {
		return m.db.SetContactExpirationTimer(id, seconds)
	})
}

func (m *Manager) setContact(identifier string, apply func(store.RecipientID) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := m.resolver.Resolve(identifier)
	if err != nil {
		return err
	}
	if err := apply(id); err != nil {
		return err
	}
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "contact.updated",
			Timestamp: time.Now(),
			Payload:   id,
		})
	}
	return nil
}

// ListIdentities returns all recorded identity keys, newest first.
func (m *Manager) ListIdentities() ([]store.Identity, error) {
	return m.identities.List()
}

// ListIdentitiesFor returns the identity keys recorded for one identifier.
func (m *Manager) ListIdentitiesFor(identifier string) ([]store.Identity, error) {
	id, err := m.resolver.Resolve(identifier)
	if err != nil {
		return nil, err
	}
	return m.identities.ListFor(id)
}

// TrustIdentityVerified marks the contact's current identity as verified if
// the supplied fingerprint matches the stored key.
func (m *Manager) TrustIdentityVerified(identifier string, fingerprint []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := m.resolver.Resolve(identifier)
	if err != nil {
		return err
	}
	return m.identities.TrustVerified(id, fingerprint)
}

// TrustIdentityVerifiedSafetyNumber verifies using the human-readable safety
// number form.
func (m *Manager) TrustIdentityVerifiedSafetyNumber(identifier, safetyNumber string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := m.resolver.Resolve(identifier)
	if err != nil {
		return err
	}
	addr, err := m.resolver.Address(id)
	if err != nil {
		return err
	}
	localKey, err := m.selfIdentityKey()
	if err != nil {
		return err
	}
	return m.identities.TrustVerifiedWith(id, []byte(safetyNumber), func(storedKey []byte) ([]byte, error) {
		sn, err := m.engine.ComputeSafetyNumber(m.selfAddr, localKey, addr, storedKey)
		if err != nil {
			return nil, err
		}
		return []byte(sn), nil
	})
}

// TrustIdentityVerifiedScannable verifies using the scannable safety-number
// form.
func (m *Manager) TrustIdentityVerifiedScannable(identifier string, scannable []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := m.resolver.Resolve(identifier)
	if err != nil {
		return err
	}
	addr, err := m.resolver.Address(id)
	if err != nil {
		return err
	}
	localKey, err := m.selfIdentityKey()
	if err != nil {
		return err
	}
	return m.identities.TrustVerifiedWith(id, scannable, func(storedKey []byte) ([]byte, error) {
		return m.engine.ComputeSafetyNumberBytes(m.selfAddr, localKey, addr, storedKey)
	})
}

// TrustIdentityAllKeys trusts all recorded identity keys of a contact
// without verification.
func (m *Manager) TrustIdentityAllKeys(identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := m.resolver.Resolve(identifier)
	if err != nil {
		return err
	}
	return m.identities.TrustAll(id)
}

// ComputeSafetyNumber derives the human-comparable safety number for a
// contact's current identity.
func (m *Manager) ComputeSafetyNumber(identifier string) (string, error) {
	addr, remoteKey, err := m.remoteIdentity(identifier)
	if err != nil {
		return "", err
	}
	localKey, err := m.selfIdentityKey()
	if err != nil {
		return "", err
	}
	return m.engine.ComputeSafetyNumber(m.selfAddr, localKey, addr, remoteKey)
}

// ComputeSafetyNumberScannable derives the scannable safety-number form for
// a contact's current identity.
func (m *Manager) ComputeSafetyNumberScannable(identifier string) ([]byte, error) {
	addr, remoteKey, err := m.remoteIdentity(identifier)
	if err != nil {
		return nil, err
	}
	localKey, err := m.selfIdentityKey()
	if err != nil {
		return nil, err
	}
	return m.engine.ComputeSafetyNumberBytes(m.selfAddr, localKey, addr, remoteKey)
}

// ReceiveMessages runs the receive loop, handing every pulled envelope to
// the handler exactly once.
func (m *Manager) ReceiveMessages(ctx context.Context, opts receive.Options, handler receive.Handler) error {
	return m.loop.Run(ctx, opts, handler)
}

// HasCaughtUpWithOldMessages reports whether the receive loop drained the
// queued server backlog at least once.
func (m *Manager) HasCaughtUpWithOldMessages() bool {
	return m.loop.HasCaughtUp()
}

// Close releases the account's runtime state. The database and lock are
// owned by the caller that opened them.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Current() == status.Closed {
		return nil
	}
	if err := m.state.Transition(status.Closed); err != nil {
		return err
	}
	m.logger.Info("account closed", zap.String("number", m.acct.Number))
	return nil
}

func (m *Manager) resolveAll(identifiers []string) ([]store.RecipientID, error) {
	ids := make([]store.RecipientID, 0, len(identifiers))
	for _, ident := range identifiers {
		id, err := m.resolver.Resolve(ident)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *Manager) resolveTargets(recipients []string, groups []store.GroupID) ([]dispatch.Target, error) {
	targets := make([]dispatch.Target, 0, len(recipients)+len(groups))
	for _, ident := range recipients {
		id, err := m.resolver.Resolve(ident)
		if err != nil {
			return nil, err
		}
		targets = append(targets, dispatch.ToRecipient(id))
	}
	for _, g := range groups {
		targets = append(targets, dispatch.ToGroup(g))
	}
	return targets, nil
}

// wireChange converts a local update request to its wire form, mapping
// recipient handles back to addresses.
func (m *Manager) wireChange(req *group.UpdateRequest) (*protocol.GroupChange, error) {
	addressAll := func(ids []store.RecipientID) ([]protocol.Address, error) {
		addrs := make([]protocol.Address, 0, len(ids))
		for _, id := range ids {
			a, err := m.resolver.Address(id)
			if err != nil {
				return nil, err
			}
			addrs = append(addrs, a)
		}
		return addrs, nil
	}

	change := &protocol.GroupChange{
		Title:             req.Title,
		Description:       req.Description,
		ExpireTimer:       req.ExpirationTimer,
		AnnouncementsOnly: req.AnnouncementOnly,
	}
	var err error
	if change.AddMembers, err = addressAll(req.AddMembers); err != nil {
		return nil, err
	}
	if change.RemoveMembers, err = addressAll(req.RemoveMembers); err != nil {
		return nil, err
	}
	if change.PromoteAdmins, err = addressAll(req.PromoteAdmins); err != nil {
		return nil, err
	}
	if change.DemoteAdmins, err = addressAll(req.DemoteAdmins); err != nil {
		return nil, err
	}
	return change, nil
}

// selfIdentityKey returns the account's own current identity key, recorded
// under its own recipient handle.
func (m *Manager) selfIdentityKey() ([]byte, error) {
	ident, err := m.identities.Current(m.self)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return nil, fmt.Errorf("no identity key recorded for own account")
	}
	return ident.Key, nil
}

func (m *Manager) remoteIdentity(identifier string) (protocol.Address, []byte, error) {
	id, err := m.resolver.Resolve(identifier)
	if err != nil {
		return protocol.Address{}, nil, err
	}
	addr, err := m.resolver.Address(id)
	if err != nil {
		return protocol.Address{}, nil, err
	}
	ident, err := m.identities.Current(id)
	if err != nil {
		return protocol.Address{}, nil, err
	}
	if ident == nil {
		return protocol.Address{}, nil, fmt.Errorf("no identity key recorded for %s", identifier)
	}
	return addr, ident.Key, nil
}
