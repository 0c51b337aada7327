package protocol

// Content is one decrypted protocol message. Exactly one of the message
// fields is normally set; the rest are nil.
type Content struct {
	Sender    Address
	Timestamp int64 // sender-assigned, unix millis

	DataMessage    *DataMessage
	TypingMessage  *TypingMessage
	ReceiptMessage *ReceiptMessage
	SyncMessage    *SyncMessage
}

// DataMessage carries user-visible content and group/expiration metadata.
type DataMessage struct {
	Body         string
	Attachments  []AttachmentPointer
	GroupContext *GroupContext
	ExpireTimer  int // seconds, 0 = off
	Reaction     *Reaction
	RemoteDelete *RemoteDelete
	EndSession   bool
	ProfileKey   []byte
}

// GroupContext ties a data message to a group and optionally carries a
// group-state change produced by an authorized member.
type GroupContext struct {
	MasterKey []byte
	Revision  int
	// GroupChange is an opaque signed membership/settings delta. A nil
	// change with a higher revision forces a state fetch.
	GroupChange *GroupChange
}

// GroupChange is the decoded membership/settings delta carried in a group
// context. Fields are addresses because the sender does not know local
// recipient handles.
type GroupChange struct {
	Title             *string
	Description       *string
	AddMembers        []Address
	RemoveMembers     []Address
	PromoteAdmins     []Address
	DemoteAdmins      []Address
	ExpireTimer       *int
	AnnouncementsOnly *bool
}

// Reaction is an emoji reaction to a previously sent message.
type Reaction struct {
	Emoji               string
	Remove              bool
	TargetAuthor        Address
	TargetSentTimestamp int64
}

// RemoteDelete requests deletion of a previously sent message.
type RemoteDelete struct {
	TargetSentTimestamp int64
}

// AttachmentPointer references an uploaded attachment blob.
type AttachmentPointer struct {
	ID          string
	ContentType string
	Size        int64
	FileName    string
}

// TypingAction is the kind of typing indicator.
type TypingAction string

const (
	TypingStarted TypingAction = "started"
	TypingStopped TypingAction = "stopped"
)

// TypingMessage is a typing indicator, optionally scoped to a group.
type TypingMessage struct {
	Action  TypingAction
	GroupID []byte
}

// ReceiptType is the kind of delivery receipt.
type ReceiptType string

const (
	ReceiptDelivery ReceiptType = "delivery"
	ReceiptRead     ReceiptType = "read"
	ReceiptViewed   ReceiptType = "viewed"
)

// ReceiptMessage acknowledges one or more messages by sent timestamp.
type ReceiptMessage struct {
	Type       ReceiptType
	Timestamps []int64
}

// SyncMessage carries state synced from another device of the same account.
type SyncMessage struct {
	Contacts []ContactRecord
	Blocked  []Address
}

// ContactRecord is one entry of a contact-sync message.
type ContactRecord struct {
	Address        Address
	Name           string
	Blocked        bool
	ExpireTimer    int
	ProfileSharing bool
	ProfileKey  []byte
}
