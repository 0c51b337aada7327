package store

import (
	"database/sql"
	"time"
)

// SaveAccount inserts or updates the single local account row.
func (db *DB) SaveAccount(a *Account) error {
	_, err := db.Exec(`
		INSERT INTO account (id, number, aci, device_id, device_name, registered,
			profile_given_name, profile_family_name, profile_about,
			profile_about_emoji, profile_avatar_path, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			number = excluded.number,
			aci = excluded.aci,
			device_id = excluded.device_id,
			device_name = excluded.device_name,
			registered = excluded.registered,
			profile_given_name = excluded.profile_given_name,
			profile_family_name = excluded.profile_family_name,
			profile_about = excluded.profile_about,
			profile_about_emoji = excluded.profile_about_emoji,
			profile_avatar_path = excluded.profile_avatar_path,
			updated_at = excluded.updated_at`,
		a.Number, a.ACI, a.DeviceID, a.DeviceName, a.Registered,
		a.ProfileGivenName, a.ProfileFamilyName, a.ProfileAbout,
		a.ProfileAboutEmoji, a.ProfileAvatarPath, time.Now().UnixMilli())
	return err
}

// LoadAccount returns the local account row, or nil when the account was
// never registered.
func (db *DB) LoadAccount() (*Account, error) {
	var a Account
	err := db.QueryRow(`
		SELECT number, aci, device_id, device_name, registered,
			profile_given_name, profile_family_name, profile_about,
			profile_about_emoji, profile_avatar_path
		FROM account WHERE id = 1`).
		Scan(&a.Number, &a.ACI, &a.DeviceID, &a.DeviceName, &a.Registered,
			&a.ProfileGivenName, &a.ProfileFamilyName, &a.ProfileAbout,
			&a.ProfileAboutEmoji, &a.ProfileAvatarPath)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
