package group

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/christian-oudard/signal-cli/internal/bus"
	"github.com/christian-oudard/signal-cli/internal/protocol"
	"github.com/christian-oudard/signal-cli/internal/recipient"
	"github.com/christian-oudard/signal-cli/internal/store"
)

// Store holds group metadata and membership and applies membership-change
// operations with conflict and authorization checks. All mutations, local
// and remote, serialize on a per-group lock. Foreground callers additionally
// hold the account-level lock; when both are held, the account lock is
// acquired first.
type Store struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	mu    sync.Mutex
	locks map[store.GroupID]*sync.Mutex
}

// NewStore creates a group store over the account database.
func NewStore(db *store.DB, b *bus.Bus, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		bus:    b,
		logger: logger,
		locks:  make(map[store.GroupID]*sync.Mutex),
	}
}

// Get returns a group's current snapshot.
func (s *Store) Get(id store.GroupID) (*Snapshot, error) {
	g, err := s.db.GetGroup(id)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, &GroupNotFoundError{GroupID: id}
	}
	members, err := s.db.ListGroupMembers(id)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Group: *g, Members: members}, nil
}

// List returns all known groups.
func (s *Store) List() ([]store.Group, error) {
	return s.db.ListGroups()
}

// Create allocates a new group with the caller as sole admin. Returns the
// post-creation snapshot for the initial group-state fan-out.
func (s *Store) Create(self store.RecipientID, title string, memberIDs []store.RecipientID, avatarPath string) (*Snapshot, error) {
	masterKey, err := NewMasterKey()
	if err != nil {
		return nil, err
	}
	id, err := DeriveID(masterKey)
	if err != nil {
		return nil, err
	}

	members := []store.GroupMember{{GroupID: id, RecipientID: self, Role: string(RoleAdmin)}}
	for _, m := range memberIDs {
		if m == self || snapshotHas(members, m) {
			continue
		}
		members = append(members, store.GroupMember{GroupID: id, RecipientID: m, Role: string(RoleMember)})
	}

	g := store.Group{
		ID:                    id,
		MasterKey:             masterKey,
		Title:                 title,
		Revision:              0,
		InviteLinkState:       string(LinkDisabled),
		AddMemberPermission:   string(PermissionEveryMember),
		EditDetailsPermission: string(PermissionEveryMember),
		AvatarPath:            avatarPath,
		Member:                true,
		DistributionID:        uuid.NewString(),
	}
	if err := s.db.SaveGroupWithMembers(&g, members); err != nil {
		return nil, err
	}
	s.logger.Info("group created",
		zap.String("group_id", string(id)),
		zap.Int("members", len(members)))
	s.publish(id)
	return &Snapshot{Group: g, Members: members}, nil
}

// Update applies a diff as one atomic local state transition and returns the
// post-update snapshot for the state-delta fan-out. Re-applying the same
// diff is a no-op that does not advance the revision; the second return
// value reports whether anything changed, decided inside the group lock so
// a concurrent remote change cannot make a no-op look like a change.
func (s *Store) Update(self store.RecipientID, id store.GroupID, req *UpdateRequest) (*Snapshot, bool, error) {
	unlock := s.lockGroup(id)
	defer unlock()

	g, members, err := s.loadForMutation(id, self)
	if err != nil {
		return nil, false, err
	}
	selfAdmin := roleOf(members, self) == string(RoleAdmin)

	if err := s.authorize(g, id, req, selfAdmin); err != nil {
		return nil, false, err
	}

	newMembers := applyMembershipDiff(members, id, req)
	if len(newMembers) > 0 && adminCount(newMembers) == 0 {
		return nil, false, &LastGroupAdminError{GroupID: id}
	}

	updated := *g
	settingsChanged, err := applySettings(&updated, req)
	if err != nil {
		return nil, false, err
	}
	membershipChanged := !sameMembers(members, newMembers)
	if !settingsChanged && !membershipChanged {
		return &Snapshot{Group: *g, Members: members}, false, nil
	}

	updated.Revision++
	if membershipChanged {
		// New membership means a new sender-key distribution, so a
		// stale member set can never be encrypted to.
		updated.DistributionID = uuid.NewString()
	}
	if !snapshotHas(newMembers, self) {
		updated.Member = false
	}
	if membershipChanged {
		err = s.db.SaveGroupWithMembers(&updated, newMembers)
	} else {
		// Settings-only change: the membership rows stay untouched.
		err = s.db.UpsertGroup(&updated)
	}
	if err != nil {
		return nil, false, err
	}
	s.logger.Info("group updated",
		zap.String("group_id", string(id)),
		zap.Int("revision", updated.Revision),
		zap.Bool("membership_changed", membershipChanged))
	s.publish(id)
	return &Snapshot{Group: updated, Members: newMembers}, true, nil
}

// Quit removes the local account from the group. When the caller is the sole
// admin and other members remain, newAdmins must name at least one remaining
// member to promote in the same operation; otherwise LastGroupAdminError.
// Returns the snapshot of the remaining members for the quit fan-out.
func (s *Store) Quit(self store.RecipientID, id store.GroupID, newAdmins []store.RecipientID) (*Snapshot, error) {
	unlock := s.lockGroup(id)
	defer unlock()

	g, members, err := s.loadForMutation(id, self)
	if err != nil {
		return nil, err
	}

	remaining := make([]store.GroupMember, 0, len(members))
	for _, m := range members {
		if m.RecipientID != self {
			remaining = append(remaining, m)
		}
	}
	for _, a := range newAdmins {
		for i := range remaining {
			if remaining[i].RecipientID == a {
				remaining[i].Role = string(RoleAdmin)
			}
		}
	}
	if len(remaining) > 0 && adminCount(remaining) == 0 {
		return nil, &LastGroupAdminError{GroupID: id}
	}

	updated := *g
	updated.Member = false
	updated.Revision++
	updated.DistributionID = uuid.NewString()
	if err := s.db.SaveGroupWithMembers(&updated, remaining); err != nil {
		return nil, err
	}
	s.logger.Info("left group", zap.String("group_id", string(id)))
	s.publish(id)
	return &Snapshot{Group: updated, Members: remaining}, nil
}

// Join resolves an invite link, fetches the group's current state from its
// admins via the transport, and either joins directly or enters the
// pending-approval state depending on the link mode.
func (s *Store) Join(ctx context.Context, transport protocol.Transport, self store.RecipientID, link string) (*Snapshot, error) {
	masterKey, password, err := ParseInviteLink(link)
	if err != nil {
		return nil, &recipient.AmbiguousIdentifierError{Identifier: link}
	}
	info, err := transport.GroupByLink(ctx, masterKey, password)
	if err != nil {
		if errors.Is(err, protocol.ErrLinkInactive) {
			return nil, &GroupLinkNotActiveError{}
		}
		return nil, err
	}
	id, err := DeriveID(masterKey)
	if err != nil {
		return nil, err
	}

	unlock := s.lockGroup(id)
	defer unlock()

	linkState := LinkEnabled
	if info.RequiresApproval {
		linkState = LinkEnabledWithApproval
	}
	g := store.Group{
		ID:                    id,
		MasterKey:             masterKey,
		Title:                 info.Title,
		Description:           info.Description,
		Revision:              info.Revision,
		InviteLinkState:       string(linkState),
		InviteLinkPassword:    password,
		AddMemberPermission:   string(PermissionEveryMember),
		EditDetailsPermission: string(PermissionEveryMember),
		Member:                !info.RequiresApproval,
		PendingApproval:       info.RequiresApproval,
		DistributionID:        uuid.NewString(),
	}
	var members []store.GroupMember
	if g.Member {
		members = append(members, store.GroupMember{GroupID: id, RecipientID: self, Role: string(RoleMember)})
	}
	if err := s.db.SaveGroupWithMembers(&g, members); err != nil {
		return nil, err
	}
	s.logger.Info("joined group via link",
		zap.String("group_id", string(id)),
		zap.Bool("pending_approval", g.PendingApproval))
	s.publish(id)
	return &Snapshot{Group: g, Members: members}, nil
}

// ApplyRemote applies a group change received from the wire. The sender was
// authorized by the service, so no local permission checks apply; stale
// revisions are ignored. Creates the group when first seen.
func (s *Store) ApplyRemote(self store.RecipientID, masterKey []byte, revision int, req *UpdateRequest) (*Snapshot, error) {
	id, err := DeriveID(masterKey)
	if err != nil {
		return nil, err
	}

	unlock := s.lockGroup(id)
	defer unlock()

	g, err := s.db.GetGroup(id)
	if err != nil {
		return nil, err
	}
	var members []store.GroupMember
	if g == nil {
		g = &store.Group{
			ID:                    id,
			MasterKey:             masterKey,
			Revision:              -1,
			InviteLinkState:       string(LinkDisabled),
			AddMemberPermission:   string(PermissionEveryMember),
			EditDetailsPermission: string(PermissionEveryMember),
			Member:                true,
			DistributionID:        uuid.NewString(),
		}
	} else {
		if revision <= g.Revision {
			members, err = s.db.ListGroupMembers(id)
			if err != nil {
				return nil, err
			}
			return &Snapshot{Group: *g, Members: members}, nil
		}
		members, err = s.db.ListGroupMembers(id)
		if err != nil {
			return nil, err
		}
	}

	newMembers := applyMembershipDiff(members, id, req)
	updated := *g
	if _, err := applySettings(&updated, req); err != nil {
		return nil, err
	}
	updated.Revision = revision
	if !sameMembers(members, newMembers) {
		updated.DistributionID = uuid.NewString()
	}
	if !snapshotHas(newMembers, self) && slices.Contains(req.RemoveMembers, self) {
		updated.Member = false
	}
	if err := s.db.SaveGroupWithMembers(&updated, newMembers); err != nil {
		return nil, err
	}
	s.logger.Info("applied remote group change",
		zap.String("group_id", string(id)),
		zap.Int("revision", revision))
	s.publish(id)
	return &Snapshot{Group: updated, Members: newMembers}, nil
}

// Delete removes a group and its membership rows locally.
func (s *Store) Delete(id store.GroupID) error {
	unlock := s.lockGroup(id)
	defer unlock()

	g, err := s.db.GetGroup(id)
	if err != nil {
		return err
	}
	if g == nil {
		return &GroupNotFoundError{GroupID: id}
	}
	if err := s.db.DeleteGroup(id); err != nil {
		return err
	}
	s.logger.Info("group deleted", zap.String("group_id", string(id)))
	s.publish(id)
	return nil
}

// SetBlocked updates a group's blocked flag.
func (s *Store) SetBlocked(id store.GroupID, blocked bool) error {
	unlock := s.lockGroup(id)
	defer unlock()

	g, err := s.db.GetGroup(id)
	if err != nil {
		return err
	}
	if g == nil {
		return &GroupNotFoundError{GroupID: id}
	}
	return s.db.SetGroupBlocked(id, blocked)
}

func (s *Store) loadForMutation(id store.GroupID, self store.RecipientID) (*store.Group, []store.GroupMember, error) {
	g, err := s.db.GetGroup(id)
	if err != nil {
		return nil, nil, err
	}
	if g == nil {
		return nil, nil, &GroupNotFoundError{GroupID: id}
	}
	members, err := s.db.ListGroupMembers(id)
	if err != nil {
		return nil, nil, err
	}
	if !g.Member || !snapshotHas(members, self) {
		return nil, nil, &NotAGroupMemberError{GroupID: id}
	}
	return g, members, nil
}

func (s *Store) authorize(g *store.Group, id store.GroupID, req *UpdateRequest, selfAdmin bool) error {
	if selfAdmin {
		return nil
	}
	if len(req.RemoveMembers) > 0 || len(req.PromoteAdmins) > 0 || len(req.DemoteAdmins) > 0 {
		return &GroupSendingNotAllowedError{GroupID: id, Action: "change membership"}
	}
	if req.touchesSettings() {
		return &GroupSendingNotAllowedError{GroupID: id, Action: "change group settings"}
	}
	if len(req.AddMembers) > 0 && g.AddMemberPermission != string(PermissionEveryMember) {
		return &GroupSendingNotAllowedError{GroupID: id, Action: "add members"}
	}
	if req.touchesDetails() && g.EditDetailsPermission != string(PermissionEveryMember) {
		return &GroupSendingNotAllowedError{GroupID: id, Action: "edit group details"}
	}
	return nil
}

func (s *Store) lockGroup(id store.GroupID) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *Store) publish(id store.GroupID) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{
		Kind:      "group.updated",
		Timestamp: time.Now(),
		Payload:   id,
	})
}

func applyMembershipDiff(members []store.GroupMember, id store.GroupID, req *UpdateRequest) []store.GroupMember {
	out := make([]store.GroupMember, 0, len(members)+len(req.AddMembers))
	for _, m := range members {
		if slices.Contains(req.RemoveMembers, m.RecipientID) {
			continue
		}
		out = append(out, m)
	}
	for _, a := range req.AddMembers {
		if !snapshotHas(out, a) {
			out = append(out, store.GroupMember{GroupID: id, RecipientID: a, Role: string(RoleMember)})
		}
	}
	for _, p := range req.PromoteAdmins {
		found := false
		for i := range out {
			if out[i].RecipientID == p {
				out[i].Role = string(RoleAdmin)
				found = true
			}
		}
		if !found {
			out = append(out, store.GroupMember{GroupID: id, RecipientID: p, Role: string(RoleAdmin)})
		}
	}
	for _, d := range req.DemoteAdmins {
		for i := range out {
			if out[i].RecipientID == d {
				out[i].Role = string(RoleMember)
			}
		}
	}
	return out
}

func applySettings(g *store.Group, req *UpdateRequest) (bool, error) {
	changed := false
	set := func(dst *string, v *string) {
		if v != nil && *dst != *v {
			*dst = *v
			changed = true
		}
	}
	set(&g.Title, req.Title)
	set(&g.Description, req.Description)
	set(&g.AvatarPath, req.AvatarPath)
	if req.ExpirationTimer != nil && g.ExpirationTimer != *req.ExpirationTimer {
		g.ExpirationTimer = *req.ExpirationTimer
		changed = true
	}
	if req.AnnouncementOnly != nil && g.AnnouncementOnly != *req.AnnouncementOnly {
		g.AnnouncementOnly = *req.AnnouncementOnly
		changed = true
	}
	if req.AddMemberPermission != nil && g.AddMemberPermission != string(*req.AddMemberPermission) {
		g.AddMemberPermission = string(*req.AddMemberPermission)
		changed = true
	}
	if req.EditDetailsPermission != nil && g.EditDetailsPermission != string(*req.EditDetailsPermission) {
		g.EditDetailsPermission = string(*req.EditDetailsPermission)
		changed = true
	}
	if req.InviteLinkState != nil && g.InviteLinkState != string(*req.InviteLinkState) {
		g.InviteLinkState = string(*req.InviteLinkState)
		changed = true
	}
	needsPassword := g.InviteLinkState != string(LinkDisabled) && len(g.InviteLinkPassword) == 0
	if req.ResetInviteLink || needsPassword {
		pw, err := NewLinkPassword()
		if err != nil {
			return false, err
		}
		g.InviteLinkPassword = pw
		changed = true
	}
	return changed, nil
}

func snapshotHas(members []store.GroupMember, id store.RecipientID) bool {
	for _, m := range members {
		if m.RecipientID == id {
			return true
		}
	}
	return false
}

func roleOf(members []store.GroupMember, id store.RecipientID) string {
	for _, m := range members {
		if m.RecipientID == id {
			return m.Role
		}
	}
	return ""
}

func adminCount(members []store.GroupMember) int {
	n := 0
	for _, m := range members {
		if m.Role == string(RoleAdmin) {
			n++
		}
	}
	return n
}

func sameMembers(a, b []store.GroupMember) bool {
	if len(a) != len(b) {
		return false
	}
	roles := make(map[store.RecipientID]string, len(a))
	for _, m := range a {
		roles[m.RecipientID] = m.Role
	}
	for _, m := range b {
		if roles[m.RecipientID] != m.Role {
			return false
		}
	}
	return true
}
