package store

// ProfilePictureSentinel is the marker value in files.text identifying a
// user's current profile picture. At most one non-deleted file per user
// carries it.
const ProfilePictureSentinel = "p>p+"

// Contact is a saved contact owned by the local replica. Deleted contacts
// are removed outright, never tombstoned.
type Contact struct {
	ID          string
	CreatorID   string
	RecipientID string // empty until the recipient registers
	Name        string
	Email       string
	IsMutual    bool
	Synced      bool
	Deleted     bool
	CreatedAt   string
	UpdatedAt   string
}

// Conversation is a single or group conversation.
type Conversation struct {
	ID        string
	Type      string // "single" or "group"
	Name      string // empty means derived at read time
	Synced    bool
	Deleted   bool
	CreatedAt string
	UpdatedAt string
}

// Participant is a membership row of a conversation.
type Participant struct {
	ID             string
	ConversationID string
	UserID         string
	Email          string
	Synced         bool
	Deleted        bool
	CreatedAt      string
	UpdatedAt      string
}

// Chat is one message. Its ID is assigned client-side (UUID) at creation
// and echoed back by the server, so an optimistic insert and the confirmed
// row reconcile onto the same key.
type Chat struct {
	ID             string
	ConversationID string
	SenderID       string
	Message        string
	MessageType    string
	Synced         bool
	Deleted        bool
	CreatedAt      string
	UpdatedAt      string
}

// File is a media descriptor. FilePath is the remote URL, LocalStorage the
// cached blob path (empty until downloaded and verified).
type File struct {
	ID           string
	UserID       string
	Text         string // ProfilePictureSentinel marks the user's avatar
	FilePath     string
	LocalStorage string
	FileType     string // "image", "video", ...
	FileSize     int64
	Hash         string
	Synced       bool
	Deleted      bool
	CreatedAt    string
	UpdatedAt    string
}

// Story is an expiring post. A valid story has non-empty Text or FileID;
// "deleting" one clears both fields but keeps the row for expiry bookkeeping.
type Story struct {
	ID        string
	UserID    string
	Text      string
	FileID    string
	ExpiresAt string
	Synced    bool
	Deleted   bool
	CreatedAt string
	UpdatedAt string
}

// StoredUser is a lightweight index of every user id seen as a contact
// recipient or conversation participant; it drives profile-picture prefetch
// and protects avatars from the media sweep.
type StoredUser struct {
	ID        string
	Email     string
	CreatedAt string
}
