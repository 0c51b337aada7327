package store

import (
	"database/sql"
	"fmt"
)

// FindRecipientByNumber returns the recipient with the given number, or nil.
func (db *DB) FindRecipientByNumber(number string) (*Recipient, error) {
	return db.scanRecipient(db.QueryRow(`
		SELECT id, COALESCE(number, ''), COALESCE(aci, '')
		FROM recipients WHERE number = ?`, number))
}

// FindRecipientByACI returns the recipient with the given account UUID, or nil.
func (db *DB) FindRecipientByACI(aci string) (*Recipient, error) {
	return db.scanRecipient(db.QueryRow(`
		SELECT id, COALESCE(number, ''), COALESCE(aci, '')
		FROM recipients WHERE aci = ?`, aci))
}

// GetRecipient returns the recipient by handle, or nil.
func (db *DB) GetRecipient(id RecipientID) (*Recipient, error) {
	return db.scanRecipient(db.QueryRow(`
		SELECT id, COALESCE(number, ''), COALESCE(aci, '')
		FROM recipients WHERE id = ?`, id))
}

func (db *DB) scanRecipient(row *sql.Row) (*Recipient, error) {
	var r Recipient
	err := row.Scan(&r.ID, &r.Number, &r.ACI)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// InsertRecipient creates a new recipient handle. Empty identifiers are
// stored as NULL so the uniqueness constraints only bind real values.
func (db *DB) InsertRecipient(number, aci string) (RecipientID, error) {
	res, err := db.Exec(`
		INSERT INTO recipients (number, aci)
		VALUES (NULLIF(?, ''), NULLIF(?, ''))`, number, aci)
	if err != nil {
		return 0, fmt.Errorf("insert recipient: %w", err)
	}
	id, err := res.LastInsertId()
	return RecipientID(id), err
}

// SetRecipientACI records a discovered account UUID for a recipient.
func (db *DB) SetRecipientACI(id RecipientID, aci string) error {
	_, err := db.Exec(`UPDATE recipients SET aci = NULLIF(?, '') WHERE id = ?`, aci, id)
	return err
}

// SetRecipientNumber records a discovered number for a recipient.
func (db *DB) SetRecipientNumber(id RecipientID, number string) error {
	_, err := db.Exec(`UPDATE recipients SET number = NULLIF(?, '') WHERE id = ?`, number, id)
	return err
}

// MergeRecipients unifies two handles that denote the same account. All
// contact, identity and group-membership rows of the loser are re-pointed to
// the survivor, identifiers are combined, and the loser row is removed. Runs
// in a single transaction.
func (db *DB) MergeRecipients(survivor, loser RecipientID) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var loserNumber, loserACI sql.NullString
	err = tx.QueryRow(`SELECT number, aci FROM recipients WHERE id = ?`, loser).
		Scan(&loserNumber, &loserACI)
	if err != nil {
		return fmt.Errorf("load loser: %w", err)
	}

	// Free the loser's identifiers first so the survivor can take them
	// without tripping uniqueness.
	if _, err := tx.Exec(`UPDATE recipients SET number = NULL, aci = NULL WHERE id = ?`, loser); err != nil {
		return fmt.Errorf("clear loser identifiers: %w", err)
	}
	if loserNumber.Valid {
		if _, err := tx.Exec(`
			UPDATE recipients SET number = ? WHERE id = ? AND number IS NULL`,
			loserNumber.String, survivor); err != nil {
			return fmt.Errorf("adopt number: %w", err)
		}
	}
	if loserACI.Valid {
		if _, err := tx.Exec(`
			UPDATE recipients SET aci = ? WHERE id = ? AND aci IS NULL`,
			loserACI.String, survivor); err != nil {
			return fmt.Errorf("adopt aci: %w", err)
		}
	}

	// Re-point child rows. OR IGNORE keeps the survivor's row where both
	// sides have one; leftovers are dropped with the loser.
	for _, stmt := range []string{
		`UPDATE OR IGNORE contacts SET recipient_id = ? WHERE recipient_id = ?`,
		`UPDATE OR IGNORE identities SET recipient_id = ? WHERE recipient_id = ?`,
		`UPDATE OR IGNORE group_members SET recipient_id = ? WHERE recipient_id = ?`,
	} {
		if _, err := tx.Exec(stmt, survivor, loser); err != nil {
			return fmt.Errorf("repoint rows: %w", err)
		}
	}

	// Cascades remove any child rows the survivor already covered.
	if _, err := tx.Exec(`DELETE FROM recipients WHERE id = ?`, loser); err != nil {
		return fmt.Errorf("delete loser: %w", err)
	}

	return tx.Commit()
}
