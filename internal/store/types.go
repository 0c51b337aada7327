package store

// RecipientID is the stable local handle for a reachable account. All
// contact, identity and group-membership rows key on it, so merging two
// handles re-points those rows rather than copying data.
type RecipientID int64

// GroupID is the derived identifier of a group, stable for its lifetime.
type GroupID string

// Account is the single local account row.
type Account struct {
	Number            string
	ACI               string
	DeviceID          int
	DeviceName        string
	Registered        bool
	ProfileGivenName  string
	ProfileFamilyName string
	ProfileAbout      string
	ProfileAboutEmoji string
	ProfileAvatarPath string
}

// Recipient holds the known external identifiers of one recipient handle.
type Recipient struct {
	ID     RecipientID
	Number string // E.164, may be empty
	ACI    string // account UUID, may be empty
}

// Contact is the local address-book entry for a recipient.
type Contact struct {
	RecipientID     RecipientID
	Name            string
	Blocked         bool
	ExpirationTimer int // seconds, 0 = off
	ProfileSharing  bool
}

// Identity is one (recipient, public key) record. Records are superseded by
// newer ones, never deleted.
type Identity struct {
	ID          int64
	RecipientID RecipientID
	Key         []byte
	TrustLevel  string
	AddedAt     int64 // unix millis
}

// Group holds group metadata. Membership lives in group_members.
type Group struct {
	ID                    GroupID
	MasterKey             []byte
	Title                 string
	Description           string
	Revision              int
	InviteLinkState       string
	InviteLinkPassword    []byte
	AddMemberPermission   string
	EditDetailsPermission string
	ExpirationTimer       int
	AnnouncementOnly      bool
	AvatarPath            string
	Blocked               bool
	Member                bool // local account is currently a member
	PendingApproval       bool
	DistributionID        string
}

// GroupMember is one membership row.
type GroupMember struct {
	GroupID     GroupID
	RecipientID RecipientID
	Role        string
}
