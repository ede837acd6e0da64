package store

import "database/sql"

// UpsertChat inserts or updates a message. Idempotent on the client-generated
// id: the optimistic local row and the server echo land on the same key.
func (db *DB) UpsertChat(c *Chat) error {
	if c.CreatedAt == "" {
		c.CreatedAt = Now()
	}
	_, err := db.Exec(`
		INSERT INTO chats (id, conversation_id, sender_id, message, message_type, synced, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			sender_id = excluded.sender_id,
			message = excluded.message,
			message_type = excluded.message_type,
			synced = excluded.synced,
			deleted = excluded.deleted,
			updated_at = excluded.updated_at`,
		c.ID, c.ConversationID, c.SenderID, c.Message, c.MessageType, c.Synced, c.Deleted, c.CreatedAt, c.UpdatedAt)
	return err
}

const chatCols = `id, COALESCE(conversation_id,''), COALESCE(sender_id,''), COALESCE(message,''),
	COALESCE(message_type,''), COALESCE(synced,0), COALESCE(deleted,0), COALESCE(created_at,''), COALESCE(updated_at,'')`

func scanChat(row interface{ Scan(...any) error }) (*Chat, error) {
	var c Chat
	err := row.Scan(&c.ID, &c.ConversationID, &c.SenderID, &c.Message, &c.MessageType,
		&c.Synced, &c.Deleted, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChats returns every non-deleted message in the replica.
func (db *DB) ListChats() ([]Chat, error) {
	return db.queryChats(`SELECT ` + chatCols + ` FROM chats WHERE deleted = 0`)
}

// ListConversationChats returns a conversation's non-deleted messages in
// reverse-chronological order.
func (db *DB) ListConversationChats(conversationID string) ([]Chat, error) {
	return db.queryChats(`SELECT `+chatCols+`
		FROM chats
		WHERE conversation_id = ? AND deleted = 0
		ORDER BY datetime(created_at) DESC`, conversationID)
}

// PendingChats returns unsynced messages awaiting server confirmation,
// oldest first.
func (db *DB) PendingChats() ([]Chat, error) {
	return db.queryChats(`SELECT ` + chatCols + `
		FROM chats
		WHERE synced = 0 AND deleted = 0
		ORDER BY datetime(created_at) ASC`)
}

func (db *DB) queryChats(query string, args ...any) ([]Chat, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *c)
	}
	return chats, rows.Err()
}

// GetChat returns a message by id, or nil.
func (db *DB) GetChat(id string) (*Chat, error) {
	row := db.QueryRow(`SELECT `+chatCols+` FROM chats WHERE id = ?`, id)
	c, err := scanChat(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// MarkChatSynced confirms an optimistic message against the server echo.
func (db *DB) MarkChatSynced(id, updatedAt string) error {
	_, err := db.Exec(`UPDATE chats SET synced = 1, updated_at = ? WHERE id = ?`, updatedAt, id)
	return err
}

// LatestChatCursor returns the greatest chat updated_at known locally, or
// empty if no chat carries one yet.
func (db *DB) LatestChatCursor() (string, error) {
	var cursor sql.NullString
	err := db.QueryRow(`SELECT MAX(updated_at) FROM chats WHERE updated_at IS NOT NULL AND updated_at != ''`).Scan(&cursor)
	if err != nil {
		return "", err
	}
	return cursor.String, nil
}

// ChatIDs returns the set of message ids in the replica.
func (db *DB) ChatIDs() (map[string]struct{}, error) {
	return db.ids("chats")
}

// DeleteChat hard-deletes a message row.
func (db *DB) DeleteChat(id string) error {
	return db.deleteByID("chats", id)
}
