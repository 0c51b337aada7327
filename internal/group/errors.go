package group

import (
	"fmt"

	"github.com/christian-oudard/signal-cli/internal/store"
)

// GroupNotFoundError is returned when no group with the given ID is known.
type GroupNotFoundError struct {
	GroupID store.GroupID
}

func (e *GroupNotFoundError) Error() string {
	return fmt.Sprintf("group %s not found", e.GroupID)
}

// NotAGroupMemberError is returned when the local account has left or was
// removed from the group.
type NotAGroupMemberError struct {
	GroupID store.GroupID
}

func (e *NotAGroupMemberError) Error() string {
	return fmt.Sprintf("not a member of group %s", e.GroupID)
}

// GroupSendingNotAllowedError is returned when the local account lacks the
// permission a group operation requires.
type GroupSendingNotAllowedError struct {
	GroupID store.GroupID
	Action  string
}

func (e *GroupSendingNotAllowedError) Error() string {
	return fmt.Sprintf("not allowed to %s in group %s", e.Action, e.GroupID)
}

// LastGroupAdminError is returned when an operation would leave a group with
// members but without any admin. The caller must promote a replacement
// admin first (or in the same quit call).
type LastGroupAdminError struct {
	GroupID store.GroupID
}

func (e *LastGroupAdminError) Error() string {
	return fmt.Sprintf("cannot remove the last admin of group %s while it has members", e.GroupID)
}

// GroupLinkNotActiveError is returned when an invite link was revoked or its
// password rotated.
type GroupLinkNotActiveError struct{}

func (e *GroupLinkNotActiveError) Error() string {
	return "group invite link is not active"
}
