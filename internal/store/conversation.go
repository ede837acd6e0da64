package store

import "database/sql"

// UpsertConversation inserts or updates a conversation.
func (db *DB) UpsertConversation(c *Conversation) error {
	if c.CreatedAt == "" {
		c.CreatedAt = Now()
	}
	_, err := db.Exec(`
		INSERT INTO conversations (id, type, name, synced, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			name = excluded.name,
			synced = excluded.synced,
			deleted = excluded.deleted,
			updated_at = excluded.updated_at`,
		c.ID, c.Type, c.Name, c.Synced, c.Deleted, c.CreatedAt, c.UpdatedAt)
	return err
}

const conversationCols = `id, COALESCE(type,''), COALESCE(name,''), COALESCE(synced,0),
	COALESCE(deleted,0), COALESCE(created_at,''), COALESCE(updated_at,'')`

func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.Type, &c.Name, &c.Synced, &c.Deleted, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversations returns all non-deleted conversations in creation order.
func (db *DB) ListConversations() ([]Conversation, error) {
	rows, err := db.Query(`SELECT ` + conversationCols + ` FROM conversations WHERE deleted = 0 ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

// GetConversation returns a non-deleted conversation by id, or nil.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	row := db.QueryRow(`SELECT `+conversationCols+` FROM conversations WHERE id = ? AND deleted = 0`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ConversationIDs returns the set of conversation ids in the replica.
func (db *DB) ConversationIDs() (map[string]struct{}, error) {
	return db.ids("conversations")
}

// DeleteConversation hard-deletes a conversation row.
func (db *DB) DeleteConversation(id string) error {
	return db.deleteByID("conversations", id)
}

// UpsertParticipant inserts or updates a conversation membership row.
func (db *DB) UpsertParticipant(p *Participant) error {
	if p.CreatedAt == "" {
		p.CreatedAt = Now()
	}
	_, err := db.Exec(`
		INSERT INTO conversation_participants (id, conversation_id, user_id, email, synced, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			user_id = excluded.user_id,
			email = excluded.email,
			synced = excluded.synced,
			deleted = excluded.deleted,
			updated_at = excluded.updated_at`,
		p.ID, p.ConversationID, p.UserID, p.Email, p.Synced, p.Deleted, p.CreatedAt, p.UpdatedAt)
	return err
}

const participantCols = `id, COALESCE(conversation_id,''), COALESCE(user_id,''), COALESCE(email,''),
	COALESCE(synced,0), COALESCE(deleted,0), COALESCE(created_at,''), COALESCE(updated_at,'')`

func scanParticipant(row interface{ Scan(...any) error }) (*Participant, error) {
	var p Participant
	err := row.Scan(&p.ID, &p.ConversationID, &p.UserID, &p.Email, &p.Synced, &p.Deleted, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListParticipants returns all non-deleted participants across conversations.
func (db *DB) ListParticipants() ([]Participant, error) {
	rows, err := db.Query(`SELECT ` + participantCols + ` FROM conversation_participants WHERE deleted = 0 ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var parts []Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		parts = append(parts, *p)
	}
	return parts, rows.Err()
}

// ListConversationParticipants returns the non-deleted participants of one
// conversation in join order.
func (db *DB) ListConversationParticipants(conversationID string) ([]Participant, error) {
	rows, err := db.Query(`SELECT `+participantCols+`
		FROM conversation_participants
		WHERE conversation_id = ? AND deleted = 0
		ORDER BY created_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var parts []Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		parts = append(parts, *p)
	}
	return parts, rows.Err()
}

// ParticipantIDs returns the set of participant row ids in the replica.
func (db *DB) ParticipantIDs() (map[string]struct{}, error) {
	return db.ids("conversation_participants")
}

// DeleteParticipant hard-deletes a participant row.
func (db *DB) DeleteParticipant(id string) error {
	return db.deleteByID("conversation_participants", id)
}
