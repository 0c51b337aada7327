package group

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/christian-oudard/signal-cli/internal/bus"
	"github.com/christian-oudard/signal-cli/internal/protocol"
	"github.com/christian-oudard/signal-cli/internal/recipient"
	"github.com/christian-oudard/signal-cli/internal/store"
)

func testGroupStore(t *testing.T) (*Store, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db, bus.New(), zap.NewNop()), db
}

func addRecipients(t *testing.T, db *store.DB, n int) []store.RecipientID {
	t.Helper()
	ids := make([]store.RecipientID, n)
	for i := range ids {
		id, err := db.InsertRecipient("", "")
		if err != nil {
			t.Fatal(err)
		}
		ids[i] = id
	}
	return ids
}

func TestCreateGroupCallerIsSoleAdmin(t *testing.T) {
	s, db := testGroupStore(t)
	ids := addRecipients(t, db, 3)
	self := ids[0]

	snap, err := s.Create(self, "Team", ids[1:], "")
	if err != nil {
		t.Fatal(err)
	}
	if !snap.IsAdmin(self) {
		t.Error("creator is not admin")
	}
	for _, m := range ids[1:] {
		if snap.IsAdmin(m) {
			t.Errorf("member %d is admin", m)
		}
		if !snap.HasMember(m) {
			t.Errorf("member %d missing", m)
		}
	}
	if snap.Group.Revision != 0 {
		t.Errorf("revision = %d, want 0", snap.Group.Revision)
	}
	if snap.Group.DistributionID == "" {
		t.Error("no distribution id assigned")
	}
}

func TestUpdateGroupDiffIdempotent(t *testing.T) {
	s, db := testGroupStore(t)
	ids := addRecipients(t, db, 3)
	self := ids[0]

	snap, err := s.Create(self, "Team", ids[1:2], "")
	if err != nil {
		t.Fatal(err)
	}
	gid := snap.Group.ID

	req := &UpdateRequest{AddMembers: []store.RecipientID{ids[2]}}
	first, changed, err := s.Update(self, gid, req)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Error("first application reported as no-op")
	}
	if first.Group.Revision != 1 {
		t.Errorf("revision after add = %d, want 1", first.Group.Revision)
	}
	if !first.HasMember(ids[2]) {
		t.Error("added member missing")
	}

	// Re-applying the same diff converges without advancing the revision.
	second, changed, err := s.Update(self, gid, req)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("repeated diff reported as a change")
	}
	if second.Group.Revision != 1 {
		t.Errorf("revision after repeat = %d, want 1", second.Group.Revision)
	}
	if second.Group.DistributionID != first.Group.DistributionID {
		t.Error("no-op diff rotated the distribution id")
	}
}

func TestUpdateGroupRotatesDistributionOnMembershipChange(t *testing.T) {
	s, db := testGroupStore(t)
	ids := addRecipients(t, db, 3)
	self := ids[0]

	snap, err := s.Create(self, "Team", ids[1:], "")
	if err != nil {
		t.Fatal(err)
	}
	gid := snap.Group.ID
	before := snap.Group.DistributionID

	// A details-only change keeps the distribution id and the member set.
	title := "Renamed"
	titled, _, err := s.Update(self, gid, &UpdateRequest{Title: &title})
	if err != nil {
		t.Fatal(err)
	}
	if titled.Group.DistributionID != before {
		t.Error("details change rotated the distribution id")
	}
	if len(titled.Members) != len(snap.Members) {
		t.Errorf("details change altered membership: %+v", titled.Members)
	}

	removed, _, err := s.Update(self, gid, &UpdateRequest{RemoveMembers: []store.RecipientID{ids[2]}})
	if err != nil {
		t.Fatal(err)
	}
	if removed.Group.DistributionID == before {
		t.Error("membership change did not rotate the distribution id")
	}
	if removed.HasMember(ids[2]) {
		t.Error("removed member still present")
	}
}

func TestUpdateGroupLastAdmin(t *testing.T) {
	s, db := testGroupStore(t)
	ids := addRecipients(t, db, 2)
	self := ids[0]

	snap, err := s.Create(self, "Team", ids[1:], "")
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = s.Update(self, snap.Group.ID, &UpdateRequest{DemoteAdmins: []store.RecipientID{self}})
	var lastAdmin *LastGroupAdminError
	if !errors.As(err, &lastAdmin) {
		t.Fatalf("err = %v, want LastGroupAdminError", err)
	}
}

func TestUpdateGroupNonAdminAuthorization(t *testing.T) {
	s, db := testGroupStore(t)
	ids := addRecipients(t, db, 3)
	admin, member, outsider := ids[0], ids[1], ids[2]

	snap, err := s.Create(admin, "Team", []store.RecipientID{member}, "")
	if err != nil {
		t.Fatal(err)
	}
	gid := snap.Group.ID

	// A plain member may add members under the default permission.
	if _, _, err := s.Update(member, gid, &UpdateRequest{AddMembers: []store.RecipientID{outsider}}); err != nil {
		t.Fatalf("member add failed: %v", err)
	}

	// Membership admin operations are admin-only.
	_, _, err = s.Update(member, gid, &UpdateRequest{RemoveMembers: []store.RecipientID{outsider}})
	var notAllowed *GroupSendingNotAllowedError
	if !errors.As(err, &notAllowed) {
		t.Fatalf("member remove err = %v, want GroupSendingNotAllowedError", err)
	}

	// Tightening the permission locks members out of adding too.
	perm := PermissionOnlyAdmins
	if _, _, err := s.Update(admin, gid, &UpdateRequest{AddMemberPermission: &perm}); err != nil {
		t.Fatal(err)
	}
	_, _, err = s.Update(member, gid, &UpdateRequest{AddMembers: []store.RecipientID{outsider}})
	if !errors.As(err, &notAllowed) {
		t.Fatalf("member add err = %v, want GroupSendingNotAllowedError", err)
	}
}

func TestQuitGroupSoleAdmin(t *testing.T) {
	s, db := testGroupStore(t)
	ids := addRecipients(t, db, 2)
	self, other := ids[0], ids[1]

	snap, err := s.Create(self, "Team", []store.RecipientID{other}, "")
	if err != nil {
		t.Fatal(err)
	}
	gid := snap.Group.ID

	_, err = s.Quit(self, gid, nil)
	var lastAdmin *LastGroupAdminError
	if !errors.As(err, &lastAdmin) {
		t.Fatalf("quit without replacement err = %v, want LastGroupAdminError", err)
	}

	remaining, err := s.Quit(self, gid, []store.RecipientID{other})
	if err != nil {
		t.Fatal(err)
	}
	if remaining.HasMember(self) {
		t.Error("caller still a member after quit")
	}
	if !remaining.IsAdmin(other) {
		t.Error("replacement admin not promoted")
	}
	if remaining.Group.Member {
		t.Error("group still flagged as joined")
	}
}

func TestQuitEmptyGroup(t *testing.T) {
	s, db := testGroupStore(t)
	ids := addRecipients(t, db, 1)
	self := ids[0]

	snap, err := s.Create(self, "Solo", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	remaining, err := s.Quit(self, snap.Group.ID, nil)
	if err != nil {
		t.Fatalf("quitting a group with no other members failed: %v", err)
	}
	if len(remaining.Members) != 0 {
		t.Errorf("members = %+v, want empty", remaining.Members)
	}
}

func TestApplyRemoteStaleRevisionIgnored(t *testing.T) {
	s, db := testGroupStore(t)
	ids := addRecipients(t, db, 2)
	self := ids[0]

	snap, err := s.Create(self, "Team", ids[1:], "")
	if err != nil {
		t.Fatal(err)
	}
	title := "Renamed"
	bumped, _, err := s.Update(self, snap.Group.ID, &UpdateRequest{Title: &title})
	if err != nil {
		t.Fatal(err)
	}

	stale := "Stale"
	got, err := s.ApplyRemote(self, snap.Group.MasterKey, 0, &UpdateRequest{Title: &stale})
	if err != nil {
		t.Fatal(err)
	}
	if got.Group.Title != "Renamed" || got.Group.Revision != bumped.Group.Revision {
		t.Errorf("stale change applied: %+v", got.Group)
	}
}

func TestApplyRemoteCreatesUnknownGroup(t *testing.T) {
	s, db := testGroupStore(t)
	ids := addRecipients(t, db, 2)
	self := ids[0]

	masterKey, err := NewMasterKey()
	if err != nil {
		t.Fatal(err)
	}
	title := "New group"
	snap, err := s.ApplyRemote(self, masterKey, 3, &UpdateRequest{
		Title:      &title,
		AddMembers: ids,
	})
	if err != nil {
		t.Fatal(err)
	}
	if snap.Group.Title != title || snap.Group.Revision != 3 {
		t.Errorf("created group = %+v", snap.Group)
	}
	if !snap.HasMember(self) || !snap.HasMember(ids[1]) {
		t.Errorf("members = %+v", snap.Members)
	}
}

func TestApplyRemoteRemovalOfSelf(t *testing.T) {
	s, db := testGroupStore(t)
	ids := addRecipients(t, db, 2)
	self := ids[0]

	snap, err := s.Create(self, "Team", ids[1:], "")
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.ApplyRemote(self, snap.Group.MasterKey, snap.Group.Revision+1, &UpdateRequest{
		RemoveMembers: []store.RecipientID{self},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Group.Member {
		t.Error("group still flagged as joined after remote removal")
	}
}

func TestJoinViaLink(t *testing.T) {
	s, db := testGroupStore(t)
	ids := addRecipients(t, db, 1)
	self := ids[0]

	masterKey, err := NewMasterKey()
	if err != nil {
		t.Fatal(err)
	}
	password, err := NewLinkPassword()
	if err != nil {
		t.Fatal(err)
	}
	transport := protocol.NewMemoryTransport()
	transport.AddGroupLink(masterKey, password, protocol.GroupJoinInfo{
		Title: "Open group", Revision: 7,
	})

	snap, err := s.Join(context.Background(), transport, self, InviteLink(masterKey, password))
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Group.Member || snap.Group.PendingApproval {
		t.Errorf("group = %+v, want direct membership", snap.Group)
	}
	if snap.Group.Title != "Open group" || snap.Group.Revision != 7 {
		t.Errorf("group state = %+v", snap.Group)
	}
}

func TestJoinViaLinkWithApproval(t *testing.T) {
	s, db := testGroupStore(t)
	ids := addRecipients(t, db, 1)
	self := ids[0]

	masterKey, _ := NewMasterKey()
	password, _ := NewLinkPassword()
	transport := protocol.NewMemoryTransport()
	transport.AddGroupLink(masterKey, password, protocol.GroupJoinInfo{
		Title: "Vetted group", RequiresApproval: true,
	})

	snap, err := s.Join(context.Background(), transport, self, InviteLink(masterKey, password))
	if err != nil {
		t.Fatal(err)
	}
	if snap.Group.Member || !snap.Group.PendingApproval {
		t.Errorf("group = %+v, want pending approval", snap.Group)
	}
}

func TestJoinRevokedLink(t *testing.T) {
	s, db := testGroupStore(t)
	ids := addRecipients(t, db, 1)

	masterKey, _ := NewMasterKey()
	oldPassword, _ := NewLinkPassword()
	newPassword, _ := NewLinkPassword()
	transport := protocol.NewMemoryTransport()
	transport.AddGroupLink(masterKey, newPassword, protocol.GroupJoinInfo{Title: "Rotated"})

	_, err := s.Join(context.Background(), transport, ids[0], InviteLink(masterKey, oldPassword))
	var inactive *GroupLinkNotActiveError
	if !errors.As(err, &inactive) {
		t.Fatalf("err = %v, want GroupLinkNotActiveError", err)
	}
}

func TestJoinMalformedLink(t *testing.T) {
	s, db := testGroupStore(t)
	ids := addRecipients(t, db, 1)

	_, err := s.Join(context.Background(), protocol.NewMemoryTransport(), ids[0], "https://example.com/nope")
	var ambiguous *recipient.AmbiguousIdentifierError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("err = %v, want AmbiguousIdentifierError", err)
	}
}
