package store

import "database/sql"

// UpsertStory inserts or updates a story.
func (db *DB) UpsertStory(s *Story) error {
	if s.CreatedAt == "" {
		s.CreatedAt = Now()
	}
	_, err := db.Exec(`
		INSERT INTO stories (id, user_id, text, file_id, expires_at, synced, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			text = excluded.text,
			file_id = excluded.file_id,
			expires_at = excluded.expires_at,
			synced = excluded.synced,
			deleted = excluded.deleted,
			updated_at = excluded.updated_at`,
		s.ID, s.UserID, s.Text, s.FileID, s.ExpiresAt, s.Synced, s.Deleted, s.CreatedAt, s.UpdatedAt)
	return err
}

const storyCols = `id, COALESCE(user_id,''), COALESCE(text,''), COALESCE(file_id,''), COALESCE(expires_at,''),
	COALESCE(synced,0), COALESCE(deleted,0), COALESCE(created_at,''), COALESCE(updated_at,'')`

func scanStory(row interface{ Scan(...any) error }) (*Story, error) {
	var s Story
	err := row.Scan(&s.ID, &s.UserID, &s.Text, &s.FileID, &s.ExpiresAt,
		&s.Synced, &s.Deleted, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListStories returns every story row in chronological order, including
// cleared ones (callers filter on the text-or-file validity rule).
func (db *DB) ListStories() ([]Story, error) {
	rows, err := db.Query(`SELECT ` + storyCols + ` FROM stories ORDER BY datetime(created_at) ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var stories []Story
	for rows.Next() {
		s, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		stories = append(stories, *s)
	}
	return stories, rows.Err()
}

// GetStory returns a story by id, or nil.
func (db *DB) GetStory(id string) (*Story, error) {
	row := db.QueryRow(`SELECT `+storyCols+` FROM stories WHERE id = ?`, id)
	s, err := scanStory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ClearStoryContent soft-clears a story: both content fields are nulled but
// the row stays for expiry bookkeeping.
func (db *DB) ClearStoryContent(id string) error {
	_, err := db.Exec(`UPDATE stories SET text = NULL, file_id = NULL WHERE id = ?`, id)
	return err
}

// DeleteExpiredStories removes story rows whose expires_at has passed the
// given ISO-8601 instant. Returns the number of rows removed.
func (db *DB) DeleteExpiredStories(now string) (int64, error) {
	res, err := db.Exec(`DELETE FROM stories WHERE expires_at IS NOT NULL AND expires_at != '' AND datetime(expires_at) < datetime(?)`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LatestStoryCursor returns the greatest story updated_at known locally.
func (db *DB) LatestStoryCursor() (string, error) {
	var cursor sql.NullString
	err := db.QueryRow(`SELECT MAX(updated_at) FROM stories WHERE updated_at IS NOT NULL AND updated_at != ''`).Scan(&cursor)
	if err != nil {
		return "", err
	}
	return cursor.String, nil
}

// StoryIDs returns the set of story ids in the replica.
func (db *DB) StoryIDs() (map[string]struct{}, error) {
	return db.ids("stories")
}

// DeleteStory hard-deletes a story row. Reconciliation uses this for rows
// absent from a server listing; user-initiated deletes soft-clear instead.
func (db *DB) DeleteStory(id string) error {
	return db.deleteByID("stories", id)
}

// MarkStoryViewed inserts the viewed marker for a story. The marker is
// write-once; re-marking is a no-op.
func (db *DB) MarkStoryViewed(storyID string) error {
	_, err := db.Exec(`
		INSERT INTO viewed_stories (id, viewed, synced, created_at)
		VALUES (?, 1, 0, ?)
		ON CONFLICT(id) DO NOTHING`,
		storyID, Now())
	return err
}

// ViewedStoryIDs returns the set of story ids the current user has viewed.
func (db *DB) ViewedStoryIDs() (map[string]struct{}, error) {
	return db.ids("viewed_stories")
}

// UpsertStoredUser records a user id seen as a contact recipient or a
// conversation participant.
func (db *DB) UpsertStoredUser(u *StoredUser) error {
	if u.CreatedAt == "" {
		u.CreatedAt = Now()
	}
	_, err := db.Exec(`
		INSERT INTO users_stored (id, email, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET email = excluded.email`,
		u.ID, u.Email, u.CreatedAt)
	return err
}

// ListStoredUsers returns every known user index row.
func (db *DB) ListStoredUsers() ([]StoredUser, error) {
	rows, err := db.Query(`SELECT id, COALESCE(email,''), COALESCE(created_at,'') FROM users_stored`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []StoredUser
	for rows.Next() {
		var u StoredUser
		if err := rows.Scan(&u.ID, &u.Email, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
