package store

import "database/sql"

// UpsertContact inserts or updates a contact, always overwriting with the
// supplied fields.
func (db *DB) UpsertContact(c *Contact) error {
	if c.CreatedAt == "" {
		c.CreatedAt = Now()
	}
	_, err := db.Exec(`
		INSERT INTO contacts (id, creator_id, recipient_id, name, email, is_mutual, synced, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			creator_id = excluded.creator_id,
			recipient_id = excluded.recipient_id,
			name = excluded.name,
			email = excluded.email,
			is_mutual = excluded.is_mutual,
			synced = excluded.synced,
			deleted = excluded.deleted,
			updated_at = excluded.updated_at`,
		c.ID, c.CreatorID, c.RecipientID, c.Name, c.Email, c.IsMutual, c.Synced, c.Deleted, c.CreatedAt, c.UpdatedAt)
	return err
}

const contactCols = `id, COALESCE(creator_id,''), COALESCE(recipient_id,''), COALESCE(name,''), COALESCE(email,''),
	COALESCE(is_mutual,0), COALESCE(synced,0), COALESCE(deleted,0), COALESCE(created_at,''), COALESCE(updated_at,'')`

func scanContact(row interface{ Scan(...any) error }) (*Contact, error) {
	var c Contact
	err := row.Scan(&c.ID, &c.CreatorID, &c.RecipientID, &c.Name, &c.Email,
		&c.IsMutual, &c.Synced, &c.Deleted, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListContacts returns all contacts sorted by name.
func (db *DB) ListContacts() ([]Contact, error) {
	rows, err := db.Query(`SELECT ` + contactCols + ` FROM contacts ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, *c)
	}
	return contacts, rows.Err()
}

// GetContactByRecipient returns the contact whose recipient_id matches the
// given user id, or nil if none is saved.
func (db *DB) GetContactByRecipient(userID string) (*Contact, error) {
	row := db.QueryRow(`SELECT `+contactCols+` FROM contacts WHERE recipient_id = ? ORDER BY name ASC LIMIT 1`, userID)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ContactIDs returns the set of contact ids in the replica.
func (db *DB) ContactIDs() (map[string]struct{}, error) {
	return db.ids("contacts")
}

// DeleteContact hard-deletes a contact row.
func (db *DB) DeleteContact(id string) error {
	return db.deleteByID("contacts", id)
}
