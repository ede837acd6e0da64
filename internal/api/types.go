package api

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/chatbyx/chatsync/internal/store"
)

// ID is an opaque entity id on the wire. The server assigns integer ids
// while optimistic client rows use UUID strings; both decode to a string.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// flag decodes Laravel-style booleans (true/false, 0/1, "0"/"1").
type flag bool

func (f *flag) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "true", "1", `"1"`:
		*f = true
	case "false", "0", `"0"`, "null", `""`:
		*f = false
	default:
		n, err := strconv.ParseFloat(string(bytes.Trim(data, `"`)), 64)
		if err != nil {
			return err
		}
		*f = n != 0
	}
	return nil
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type wireContact struct {
	ID          ID     `json:"id"`
	CreatorID   ID     `json:"creator_id"`
	RecipientID ID     `json:"recipient_id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	IsMutual    flag   `json:"is_mutual"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func (w *wireContact) toStore() *store.Contact {
	return &store.Contact{
		ID:          string(w.ID),
		CreatorID:   string(w.CreatorID),
		RecipientID: string(w.RecipientID),
		Name:        w.Name,
		Email:       w.Email,
		IsMutual:    bool(w.IsMutual),
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
}

type wireConversation struct {
	ID           ID                `json:"id"`
	Type         string            `json:"type"`
	Name         string            `json:"name"`
	CreatedAt    string            `json:"created_at"`
	UpdatedAt    string            `json:"updated_at"`
	Participants []wireParticipant `json:"participants"`
}

func (w *wireConversation) toStore() *store.Conversation {
	return &store.Conversation{
		ID:        string(w.ID),
		Type:      w.Type,
		Name:      w.Name,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

type wireParticipant struct {
	ID             ID     `json:"id"`
	ConversationID ID     `json:"conversation_id"`
	UserID         ID     `json:"user_id"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
	User           *struct {
		Email string `json:"email"`
	} `json:"user"`
}

func (w *wireParticipant) toStore() *store.Participant {
	p := &store.Participant{
		ID:             string(w.ID),
		ConversationID: string(w.ConversationID),
		UserID:         string(w.UserID),
		CreatedAt:      w.CreatedAt,
		UpdatedAt:      w.UpdatedAt,
	}
	if w.User != nil {
		p.Email = w.User.Email
	}
	return p
}

type wireChat struct {
	ID             ID     `json:"id"`
	ConversationID ID     `json:"conversation_id"`
	SenderID       ID     `json:"sender_id"`
	Message        string `json:"message"`
	MessageType    string `json:"message_type"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

func (w *wireChat) toStore() *store.Chat {
	return &store.Chat{
		ID:             string(w.ID),
		ConversationID: string(w.ConversationID),
		SenderID:       string(w.SenderID),
		Message:        w.Message,
		MessageType:    w.MessageType,
		CreatedAt:      w.CreatedAt,
		UpdatedAt:      w.UpdatedAt,
	}
}

type wireStory struct {
	ID        ID     `json:"id"`
	UserID    ID     `json:"user_id"`
	Text      string `json:"text"`
	FileID    ID     `json:"file_id"`
	ExpiresAt string `json:"expires_at"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func (w *wireStory) toStore() *store.Story {
	return &store.Story{
		ID:        string(w.ID),
		UserID:    string(w.UserID),
		Text:      w.Text,
		FileID:    string(w.FileID),
		ExpiresAt: w.ExpiresAt,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

type wireFile struct {
	ID        ID     `json:"id"`
	UserID    ID     `json:"user_id"`
	Text      string `json:"text"`
	FilePath  string `json:"file_path"`
	FileType  string `json:"file_type"`
	FileSize  int64  `json:"file_size"`
	Hash      string `json:"hash"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func (w *wireFile) toStore(fileBase string) *store.File {
	return &store.File{
		ID:        string(w.ID),
		UserID:    string(w.UserID),
		Text:      w.Text,
		FilePath:  absoluteFileURL(fileBase, w.FilePath),
		FileType:  w.FileType,
		FileSize:  w.FileSize,
		Hash:      w.Hash,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}
