package store

import "database/sql"

// UpsertFile inserts or updates a media descriptor.
func (db *DB) UpsertFile(f *File) error {
	if f.CreatedAt == "" {
		f.CreatedAt = Now()
	}
	_, err := db.Exec(`
		INSERT INTO files (id, user_id, text, file_path, local_storage, file_type, file_size, hash, synced, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			text = excluded.text,
			file_path = excluded.file_path,
			local_storage = excluded.local_storage,
			file_type = excluded.file_type,
			file_size = excluded.file_size,
			hash = excluded.hash,
			synced = excluded.synced,
			deleted = excluded.deleted,
			updated_at = excluded.updated_at`,
		f.ID, f.UserID, f.Text, f.FilePath, f.LocalStorage, f.FileType, f.FileSize, f.Hash,
		f.Synced, f.Deleted, f.CreatedAt, f.UpdatedAt)
	return err
}

// UpsertFileDescriptor is UpsertFile preserving an already-cached blob path:
// server descriptor refreshes must not wipe local_storage.
func (db *DB) UpsertFileDescriptor(f *File) error {
	existing, err := db.GetFile(f.ID)
	if err != nil {
		return err
	}
	if existing != nil && f.LocalStorage == "" {
		f.LocalStorage = existing.LocalStorage
	}
	return db.UpsertFile(f)
}

const fileCols = `id, COALESCE(user_id,''), COALESCE(text,''), COALESCE(file_path,''), COALESCE(local_storage,''),
	COALESCE(file_type,''), COALESCE(file_size,0), COALESCE(hash,''), COALESCE(synced,0), COALESCE(deleted,0),
	COALESCE(created_at,''), COALESCE(updated_at,'')`

func scanFile(row interface{ Scan(...any) error }) (*File, error) {
	var f File
	err := row.Scan(&f.ID, &f.UserID, &f.Text, &f.FilePath, &f.LocalStorage, &f.FileType,
		&f.FileSize, &f.Hash, &f.Synced, &f.Deleted, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// GetFile returns a file descriptor by id, or nil.
func (db *DB) GetFile(id string) (*File, error) {
	row := db.QueryRow(`SELECT `+fileCols+` FROM files WHERE id = ?`, id)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ListFiles returns all file descriptors.
func (db *DB) ListFiles() ([]File, error) {
	rows, err := db.Query(`SELECT ` + fileCols + ` FROM files`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var files []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

// ProfilePictureFile returns the sentinel file row for a user, or nil.
func (db *DB) ProfilePictureFile(userID string) (*File, error) {
	row := db.QueryRow(`SELECT `+fileCols+` FROM files WHERE user_id = ? AND text = ? AND deleted = 0 LIMIT 1`,
		userID, ProfilePictureSentinel)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// SetFileLocalStorage records a verified blob path for a file.
func (db *DB) SetFileLocalStorage(id, path string) error {
	_, err := db.Exec(`UPDATE files SET local_storage = ?, synced = 1 WHERE id = ?`, path, id)
	return err
}

// ClearFileLocalStorage drops a stale blob reference; the remote URL stays
// the durable fallback.
func (db *DB) ClearFileLocalStorage(id string) error {
	_, err := db.Exec(`UPDATE files SET local_storage = NULL WHERE id = ?`, id)
	return err
}

// ClearProfilePicture nulls the sentinel row's path, type and cached blob
// reference for a user, keeping the row itself.
func (db *DB) ClearProfilePicture(userID string) error {
	_, err := db.Exec(`UPDATE files SET file_path = NULL, file_type = NULL, local_storage = NULL
		WHERE user_id = ? AND text = ?`, userID, ProfilePictureSentinel)
	return err
}

// DeleteFile hard-deletes a file descriptor row.
func (db *DB) DeleteFile(id string) error {
	return db.deleteByID("files", id)
}
