package group

import "github.com/christian-oudard/signal-cli/internal/store"

// Role is a member's role within a group.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Permission controls who may perform a guarded group action.
type Permission string

const (
	PermissionEveryMember Permission = "every-member"
	PermissionOnlyAdmins  Permission = "only-admins"
)

// LinkState is the state of a group's invite link.
type LinkState string

const (
	LinkDisabled            LinkState = "disabled"
	LinkEnabled             LinkState = "enabled"
	LinkEnabledWithApproval LinkState = "enabled-with-approval"
)

// UpdateRequest is a membership/settings diff applied as one atomic local
// state transition. Nil pointer fields leave the setting unchanged.
type UpdateRequest struct {
	Title       *string
	Description *string

	AddMembers    []store.RecipientID
	RemoveMembers []store.RecipientID
	PromoteAdmins []store.RecipientID
	DemoteAdmins  []store.RecipientID

	ResetInviteLink       bool
	InviteLinkState       *LinkState
	AddMemberPermission   *Permission
	EditDetailsPermission *Permission
	ExpirationTimer       *int
	AnnouncementOnly      *bool
	AvatarPath            *string
}

func (r *UpdateRequest) touchesMembership() bool {
	return len(r.AddMembers) > 0 || len(r.RemoveMembers) > 0 ||
		len(r.PromoteAdmins) > 0 || len(r.DemoteAdmins) > 0
}

func (r *UpdateRequest) touchesDetails() bool {
	return r.Title != nil || r.Description != nil || r.AvatarPath != nil
}

func (r *UpdateRequest) touchesSettings() bool {
	return r.ResetInviteLink || r.InviteLinkState != nil ||
		r.AddMemberPermission != nil || r.EditDetailsPermission != nil ||
		r.ExpirationTimer != nil || r.AnnouncementOnly != nil
}

// Snapshot is a group's state after a mutation, used for the state-delta
// fan-out. Members is the post-mutation set.
type Snapshot struct {
	Group   store.Group
	Members []store.GroupMember
}

// MemberIDs returns the recipient handles of all members.
func (s *Snapshot) MemberIDs() []store.RecipientID {
	ids := make([]store.RecipientID, len(s.Members))
	for i, m := range s.Members {
		ids[i] = m.RecipientID
	}
	return ids
}

// IsAdmin reports whether the recipient holds the admin role.
func (s *Snapshot) IsAdmin(id store.RecipientID) bool {
	for _, m := range s.Members {
		if m.RecipientID == id {
			return m.Role == string(RoleAdmin)
		}
	}
	return false
}

// HasMember reports whether the recipient is in the membership set.
func (s *Snapshot) HasMember(id store.RecipientID) bool {
	for _, m := range s.Members {
		if m.RecipientID == id {
			return true
		}
	}
	return false
}
