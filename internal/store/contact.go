package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertContact inserts or updates a contact. Empty incoming fields do not
// clobber existing values.
func (db *DB) UpsertContact(c *Contact) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO contacts (recipient_id, name, blocked, expiration_timer, profile_sharing, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(recipient_id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE contacts.name END,
			blocked = excluded.blocked,
			expiration_timer = excluded.expiration_timer,
			profile_sharing = excluded.profile_sharing,
			updated_at = excluded.updated_at`,
		c.RecipientID, c.Name, c.Blocked, c.ExpirationTimer, c.ProfileSharing, now)
	return err
}

// EnsureContact creates an empty contact row for a recipient if none exists.
func (db *DB) EnsureContact(id RecipientID) error {
	_, err := db.Exec(`
		INSERT OR IGNORE INTO contacts (recipient_id, updated_at)
		VALUES (?, ?)`, id, time.Now().UnixMilli())
	return err
}

// GetContact returns a contact by recipient handle, or nil.
func (db *DB) GetContact(id RecipientID) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`
		SELECT recipient_id, name, blocked, expiration_timer, profile_sharing
		FROM contacts WHERE recipient_id = ?`, id).
		Scan(&c.RecipientID, &c.Name, &c.Blocked, &c.ExpirationTimer, &c.ProfileSharing)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListContacts returns all contacts ordered by name.
func (db *DB) ListContacts() ([]Contact, error) {
	rows, err := db.Query(`
		SELECT recipient_id, name, blocked, expiration_timer, profile_sharing
		FROM contacts ORDER BY name, recipient_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.RecipientID, &c.Name, &c.Blocked, &c.ExpirationTimer, &c.ProfileSharing); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// SetContactName updates the display name.
func (db *DB) SetContactName(id RecipientID, name string) error {
	return db.setContactField(id, `name = ?`, name)
}

// SetContactBlocked updates the blocked flag.
func (db *DB) SetContactBlocked(id RecipientID, blocked bool) error {
	return db.setContactField(id, `blocked = ?`, blocked)
}

// SetContactExpirationTimer updates the disappearing-message timer.
func (db *DB) SetContactExpirationTimer(id RecipientID, seconds int) error {
	return db.setContactField(id, `expiration_timer = ?`, seconds)
}

// SetContactProfileSharing updates the profile-sharing flag.
func (db *DB) SetContactProfileSharing(id RecipientID, sharing bool) error {
	return db.setContactField(id, `profile_sharing = ?`, sharing)
}

func (db *DB) setContactField(id RecipientID, assignment string, value any) error {
	if err := db.EnsureContact(id); err != nil {
		return err
	}
	res, err := db.Exec(
		`UPDATE contacts SET `+assignment+`, updated_at = ? WHERE recipient_id = ?`,
		value, time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("contact %d not found", id)
	}
	return err
}
