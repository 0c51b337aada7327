package store

import (
	"database/sql"
	"fmt"
	"time"
)

const groupColumns = `group_id, master_key, title, description, revision,
	invite_link_state, invite_link_password, add_member_permission,
	edit_details_permission, expiration_timer, announcement_only,
	avatar_path, blocked, member, pending_approval, distribution_id`

// UpsertGroup inserts or replaces a group's metadata row.
func (db *DB) UpsertGroup(g *Group) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO groups (`+groupColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(group_id) DO UPDATE SET
			master_key = excluded.master_key,
			title = excluded.title,
			description = excluded.description,
			revision = excluded.revision,
			invite_link_state = excluded.invite_link_state,
			invite_link_password = excluded.invite_link_password,
			add_member_permission = excluded.add_member_permission,
			edit_details_permission = excluded.edit_details_permission,
			expiration_timer = excluded.expiration_timer,
			announcement_only = excluded.announcement_only,
			avatar_path = excluded.avatar_path,
			blocked = excluded.blocked,
			member = excluded.member,
			pending_approval = excluded.pending_approval,
			distribution_id = excluded.distribution_id,
			updated_at = excluded.updated_at`,
		g.ID, g.MasterKey, g.Title, g.Description, g.Revision,
		g.InviteLinkState, g.InviteLinkPassword, g.AddMemberPermission,
		g.EditDetailsPermission, g.ExpirationTimer, g.AnnouncementOnly,
		g.AvatarPath, g.Blocked, g.Member, g.PendingApproval, g.DistributionID, now)
	return err
}

// GetGroup returns a group by ID, or nil.
func (db *DB) GetGroup(id GroupID) (*Group, error) {
	return db.scanGroup(db.QueryRow(`SELECT `+groupColumns+` FROM groups WHERE group_id = ?`, id))
}

func (db *DB) scanGroup(row *sql.Row) (*Group, error) {
	var g Group
	err := row.Scan(&g.ID, &g.MasterKey, &g.Title, &g.Description, &g.Revision,
		&g.InviteLinkState, &g.InviteLinkPassword, &g.AddMemberPermission,
		&g.EditDetailsPermission, &g.ExpirationTimer, &g.AnnouncementOnly,
		&g.AvatarPath, &g.Blocked, &g.Member, &g.PendingApproval, &g.DistributionID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGroups returns all known groups ordered by title.
func (db *DB) ListGroups() ([]Group, error) {
	rows, err := db.Query(`SELECT ` + groupColumns + ` FROM groups ORDER BY title, group_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.MasterKey, &g.Title, &g.Description, &g.Revision,
			&g.InviteLinkState, &g.InviteLinkPassword, &g.AddMemberPermission,
			&g.EditDetailsPermission, &g.ExpirationTimer, &g.AnnouncementOnly,
			&g.AvatarPath, &g.Blocked, &g.Member, &g.PendingApproval, &g.DistributionID); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// DeleteGroup removes a group and, via cascade, its membership rows.
func (db *DB) DeleteGroup(id GroupID) error {
	_, err := db.Exec(`DELETE FROM groups WHERE group_id = ?`, id)
	return err
}

// SetGroupBlocked updates a group's blocked flag.
func (db *DB) SetGroupBlocked(id GroupID, blocked bool) error {
	res, err := db.Exec(`UPDATE groups SET blocked = ?, updated_at = ? WHERE group_id = ?`,
		blocked, time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("group %s not found", id)
	}
	return err
}

// ListGroupMembers returns the membership rows of a group, stable order.
func (db *DB) ListGroupMembers(id GroupID) ([]GroupMember, error) {
	rows, err := db.Query(`
		SELECT group_id, recipient_id, role
		FROM group_members WHERE group_id = ?
		ORDER BY recipient_id`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var members []GroupMember
	for rows.Next() {
		var m GroupMember
		if err := rows.Scan(&m.GroupID, &m.RecipientID, &m.Role); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// SetGroupDistributionID replaces a group's sender-key distribution ID.
func (db *DB) SetGroupDistributionID(id GroupID, distributionID string) error {
	res, err := db.Exec(`UPDATE groups SET distribution_id = ?, updated_at = ? WHERE group_id = ?`,
		distributionID, time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("group %s not found", id)
	}
	return err
}

// SaveGroupWithMembers writes a group's metadata and full membership set in
// one transaction, so a mutation is visible either completely or not at all.
func (db *DB) SaveGroupWithMembers(g *Group, members []GroupMember) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO groups (`+groupColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(group_id) DO UPDATE SET
			master_key = excluded.master_key,
			title = excluded.title,
			description = excluded.description,
			revision = excluded.revision,
			invite_link_state = excluded.invite_link_state,
			invite_link_password = excluded.invite_link_password,
			add_member_permission = excluded.add_member_permission,
			edit_details_permission = excluded.edit_details_permission,
			expiration_timer = excluded.expiration_timer,
			announcement_only = excluded.announcement_only,
			avatar_path = excluded.avatar_path,
			blocked = excluded.blocked,
			member = excluded.member,
			pending_approval = excluded.pending_approval,
			distribution_id = excluded.distribution_id,
			updated_at = excluded.updated_at`,
		g.ID, g.MasterKey, g.Title, g.Description, g.Revision,
		g.InviteLinkState, g.InviteLinkPassword, g.AddMemberPermission,
		g.EditDetailsPermission, g.ExpirationTimer, g.AnnouncementOnly,
		g.AvatarPath, g.Blocked, g.Member, g.PendingApproval, g.DistributionID, now); err != nil {
		return fmt.Errorf("save group: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM group_members WHERE group_id = ?`, g.ID); err != nil {
		return fmt.Errorf("clear members: %w", err)
	}
	for _, m := range members {
		if _, err := tx.Exec(`
			INSERT INTO group_members (group_id, recipient_id, role)
			VALUES (?, ?, ?)`, g.ID, m.RecipientID, m.Role); err != nil {
			return fmt.Errorf("insert member %d: %w", m.RecipientID, err)
		}
	}
	return tx.Commit()
}

// GroupsForRecipient returns the IDs of all groups the recipient is in.
func (db *DB) GroupsForRecipient(id RecipientID) ([]GroupID, error) {
	rows, err := db.Query(`SELECT group_id FROM group_members WHERE recipient_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var groups []GroupID
	for rows.Next() {
		var g GroupID
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}
