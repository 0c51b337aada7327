package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second migrate reported changes")
	}
}

func TestRecipientInsertAndFind(t *testing.T) {
	db := testDB(t)

	id, err := db.InsertRecipient("+14155550101", "")
	if err != nil {
		t.Fatal(err)
	}

	rec, err := db.FindRecipientByNumber("+14155550101")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.ID != id {
		t.Fatalf("find by number = %+v, want id %d", rec, id)
	}
	if rec.ACI != "" {
		t.Errorf("ACI = %q, want empty", rec.ACI)
	}

	missing, err := db.FindRecipientByACI("b0000000-0000-4000-8000-000000000000")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Errorf("found recipient for unknown ACI: %+v", missing)
	}
}

func TestMergeRecipientsRepointsReferences(t *testing.T) {
	db := testDB(t)

	survivor, err := db.InsertRecipient("", "a0000000-0000-4000-8000-000000000001")
	if err != nil {
		t.Fatal(err)
	}
	loser, err := db.InsertRecipient("+14155550101", "")
	if err != nil {
		t.Fatal(err)
	}

	// The loser carries a contact, an identity and a group membership.
	if err := db.UpsertContact(&Contact{RecipientID: loser, Name: "Alice"}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.InsertIdentity(loser, []byte("key-1"), "trusted-unverified"); err != nil {
		t.Fatal(err)
	}
	g := &Group{ID: "g1", MasterKey: []byte("mk"), Title: "Team", Member: true, DistributionID: "d1"}
	if err := db.SaveGroupWithMembers(g, []GroupMember{{GroupID: "g1", RecipientID: loser, Role: "member"}}); err != nil {
		t.Fatal(err)
	}

	if err := db.MergeRecipients(survivor, loser); err != nil {
		t.Fatal(err)
	}

	// Survivor adopted the number and all references.
	rec, err := db.GetRecipient(survivor)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Number != "+14155550101" {
		t.Errorf("survivor number = %q, want +14155550101", rec.Number)
	}
	c, err := db.GetContact(survivor)
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.Name != "Alice" {
		t.Errorf("survivor contact = %+v, want name Alice", c)
	}
	ident, err := db.CurrentIdentity(survivor)
	if err != nil {
		t.Fatal(err)
	}
	if ident == nil || string(ident.Key) != "key-1" {
		t.Errorf("survivor identity = %+v, want key-1", ident)
	}
	members, err := db.ListGroupMembers("g1")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 1 || members[0].RecipientID != survivor {
		t.Errorf("group members = %+v, want only survivor %d", members, survivor)
	}

	// The loser handle is gone.
	gone, err := db.GetRecipient(loser)
	if err != nil {
		t.Fatal(err)
	}
	if gone != nil {
		t.Errorf("loser still present: %+v", gone)
	}
}

func TestUpsertContactDoesNotClobberName(t *testing.T) {
	db := testDB(t)
	id, err := db.InsertRecipient("+14155550101", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertContact(&Contact{RecipientID: id, Name: "Alice"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertContact(&Contact{RecipientID: id, Blocked: true}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetContact(id)
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "Alice" {
		t.Errorf("name = %q, want Alice", c.Name)
	}
	if !c.Blocked {
		t.Error("blocked flag not updated")
	}
}

func TestCurrentIdentityIsNewest(t *testing.T) {
	db := testDB(t)
	id, err := db.InsertRecipient("+14155550101", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.InsertIdentity(id, []byte("old"), "trusted-verified"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.InsertIdentity(id, []byte("new"), "untrusted"); err != nil {
		t.Fatal(err)
	}

	ident, err := db.CurrentIdentity(id)
	if err != nil {
		t.Fatal(err)
	}
	if string(ident.Key) != "new" {
		t.Errorf("current key = %q, want new", ident.Key)
	}

	idents, err := db.ListIdentitiesFor(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(idents) != 2 {
		t.Errorf("got %d identity records, want 2 (old records are kept)", len(idents))
	}
}

func TestSaveGroupWithMembersAtomic(t *testing.T) {
	db := testDB(t)
	a, _ := db.InsertRecipient("+14155550101", "")
	b, _ := db.InsertRecipient("+14155550102", "")

	g := &Group{ID: "g1", MasterKey: []byte("mk"), Title: "Team", Revision: 1, Member: true, DistributionID: "d1"}
	members := []GroupMember{
		{GroupID: "g1", RecipientID: a, Role: "admin"},
		{GroupID: "g1", RecipientID: b, Role: "member"},
	}
	if err := db.SaveGroupWithMembers(g, members); err != nil {
		t.Fatal(err)
	}

	g.Revision = 2
	if err := db.SaveGroupWithMembers(g, members[:1]); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetGroup("g1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Revision != 2 {
		t.Errorf("revision = %d, want 2", got.Revision)
	}
	ms, err := db.ListGroupMembers("g1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ms) != 1 || ms[0].RecipientID != a {
		t.Errorf("members = %+v, want only %d", ms, a)
	}
}

func TestAccountRoundTrip(t *testing.T) {
	db := testDB(t)

	acct, err := db.LoadAccount()
	if err != nil {
		t.Fatal(err)
	}
	if acct != nil {
		t.Fatalf("expected no account, got %+v", acct)
	}

	want := &Account{
		Number: "+14155550101", ACI: "a0000000-0000-4000-8000-000000000001",
		DeviceID: 1, DeviceName: "primary", Registered: true,
	}
	if err := db.SaveAccount(want); err != nil {
		t.Fatal(err)
	}
	got, err := db.LoadAccount()
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Number != want.Number || !got.Registered {
		t.Errorf("loaded account = %+v, want %+v", got, want)
	}
}
