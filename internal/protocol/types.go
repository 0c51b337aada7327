package protocol

// Address identifies a reachable Signal account on the wire. At least one of
// ACI or Number is set; both may be.
type Address struct {
	ACI    string // account UUID, may be empty
	Number string // E.164 number, may be empty
}

// Matches reports whether two addresses denote the same account: any shared
// non-empty identifier is proof.
func (a Address) Matches(other Address) bool {
	if a.ACI != "" && a.ACI == other.ACI {
		return true
	}
	if a.Number != "" && a.Number == other.Number {
		return true
	}
	return false
}

// Key returns a stable map key for the address, preferring the ACI.
func (a Address) Key() string {
	if a.ACI != "" {
		return a.ACI
	}
	return a.Number
}

// Envelope is a transport-level container for one encrypted protocol message,
// addressed but not yet decrypted.
type Envelope struct {
	Source          Address
	SourceDevice    int
	Timestamp       int64 // sender-assigned, unix millis
	ServerTimestamp int64
	Sealed          bool
	Ciphertext      []byte
}

// SendAck is the transport's acknowledgement of a delivered ciphertext.
type SendAck struct {
	Timestamp int64 // server receive timestamp, unix millis
}

// DeviceInfo describes one linked device of the local account.
type DeviceInfo struct {
	ID       int
	Name     string
	Created  int64
	LastSeen int64
}

// Profile is the local account's public profile as uploaded to the service.
type Profile struct {
	GivenName  string
	FamilyName string
	About      string
	AboutEmoji string
	AvatarPath string
}

// GroupJoinInfo is the state an invite link resolves to before joining.
type GroupJoinInfo struct {
	Title            string
	Description      string
	MemberCount      int
	Revision         int
	RequiresApproval bool
}

// UploadSpec is a negotiated resumable upload location for one attachment.
type UploadSpec struct {
	CDNNumber    int
	ResumableURI string
	Timeout      int64
}
