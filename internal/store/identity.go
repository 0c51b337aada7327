package store

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertIdentity records a new (recipient, key) identity. Re-inserting the
// same key refreshes nothing; the original record is kept.
func (db *DB) InsertIdentity(id RecipientID, key []byte, trustLevel string) (*Identity, error) {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO identities (recipient_id, identity_key, trust_level, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(recipient_id, identity_key) DO NOTHING`,
		id, key, trustLevel, now)
	if err != nil {
		return nil, fmt.Errorf("insert identity: %w", err)
	}
	return db.GetIdentity(id, key)
}

// GetIdentity returns the identity record for an exact (recipient, key)
// pair, or nil.
func (db *DB) GetIdentity(id RecipientID, key []byte) (*Identity, error) {
	return db.scanIdentity(db.QueryRow(`
		SELECT id, recipient_id, identity_key, trust_level, added_at
		FROM identities WHERE recipient_id = ? AND identity_key = ?`, id, key))
}

// CurrentIdentity returns the most recently added identity for a recipient,
// or nil when none was ever seen.
func (db *DB) CurrentIdentity(id RecipientID) (*Identity, error) {
	return db.scanIdentity(db.QueryRow(`
		SELECT id, recipient_id, identity_key, trust_level, added_at
		FROM identities WHERE recipient_id = ?
		ORDER BY added_at DESC, id DESC LIMIT 1`, id))
}

func (db *DB) scanIdentity(row *sql.Row) (*Identity, error) {
	var ident Identity
	err := row.Scan(&ident.ID, &ident.RecipientID, &ident.Key, &ident.TrustLevel, &ident.AddedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ident, nil
}

// SetIdentityTrust updates the trust level of one identity record.
func (db *DB) SetIdentityTrust(identityID int64, trustLevel string) error {
	res, err := db.Exec(`UPDATE identities SET trust_level = ? WHERE id = ?`, trustLevel, identityID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("identity %d not found", identityID)
	}
	return err
}

// ListIdentities returns all identity records, newest first.
func (db *DB) ListIdentities() ([]Identity, error) {
	return db.queryIdentities(`
		SELECT id, recipient_id, identity_key, trust_level, added_at
		FROM identities ORDER BY added_at DESC, id DESC`)
}

// ListIdentitiesFor returns all identity records of one recipient, newest first.
func (db *DB) ListIdentitiesFor(id RecipientID) ([]Identity, error) {
	return db.queryIdentities(`
		SELECT id, recipient_id, identity_key, trust_level, added_at
		FROM identities WHERE recipient_id = ?
		ORDER BY added_at DESC, id DESC`, id)
}

func (db *DB) queryIdentities(query string, args ...any) ([]Identity, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var idents []Identity
	for rows.Next() {
		var ident Identity
		if err := rows.Scan(&ident.ID, &ident.RecipientID, &ident.Key, &ident.TrustLevel, &ident.AddedAt); err != nil {
			return nil, err
		}
		idents = append(idents, ident)
	}
	return idents, rows.Err()
}
