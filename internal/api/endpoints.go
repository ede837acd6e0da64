package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/chatbyx/chatsync/internal/store"
)

// Contacts fetches the complete contact listing for the current user.
func (c *Client) Contacts(ctx context.Context) ([]store.Contact, error) {
	var out struct {
		envelope
		Contact []wireContact `json:"contact"`
	}
	if err := c.doEnveloped(ctx, http.MethodGet, "get-contact", nil, &out); err != nil {
		return nil, err
	}
	contacts := make([]store.Contact, 0, len(out.Contact))
	for i := range out.Contact {
		contacts = append(contacts, *out.Contact[i].toStore())
	}
	return contacts, nil
}

// SaveContact creates a contact on the server and returns the stored row.
func (c *Client) SaveContact(ctx context.Context, email, name string) (*store.Contact, error) {
	var out struct {
		envelope
		Contact *wireContact `json:"contact"`
	}
	body := map[string]string{"email": email, "name": name}
	if err := c.doEnveloped(ctx, http.MethodPost, "save-contact", body, &out); err != nil {
		return nil, err
	}
	if out.Contact == nil {
		return nil, &ProtocolError{Endpoint: "save-contact", Message: "missing contact in response"}
	}
	return out.Contact.toStore(), nil
}

// EditContact updates a contact; the response carries the (possibly newly
// linked) recipient_id.
func (c *Client) EditContact(ctx context.Context, id, name, email string) (*store.Contact, error) {
	var out struct {
		envelope
		Contact *wireContact `json:"contact"`
	}
	body := map[string]string{"id": id, "name": name, "email": email}
	if err := c.doEnveloped(ctx, http.MethodPost, "edit-contact", body, &out); err != nil {
		return nil, err
	}
	if out.Contact == nil {
		return nil, &ProtocolError{Endpoint: "edit-contact", Message: "missing contact in response"}
	}
	return out.Contact.toStore(), nil
}

// DeleteContact removes a contact on the server.
func (c *Client) DeleteContact(ctx context.Context, id string) error {
	var out struct{ envelope }
	return c.doEnveloped(ctx, http.MethodPost, "delete-contact", map[string]string{"id": id}, &out)
}

// MessageDump is the complete conversation listing for the current user.
type MessageDump struct {
	Conversations []store.Conversation
	Chats         []store.Chat
	Participants  []store.Participant
}

// DownloadMessages fetches the complete conversations+chats+participants
// listing used by full reconciliation.
func (c *Client) DownloadMessages(ctx context.Context) (*MessageDump, error) {
	var out struct {
		envelope
		Conversations []wireConversation `json:"conversations"`
		Chats         []wireChat         `json:"chats"`
		Participants  []wireParticipant  `json:"participants"`
	}
	if err := c.doEnveloped(ctx, http.MethodPost, "download-messages", struct{}{}, &out); err != nil {
		return nil, err
	}

	dump := &MessageDump{}
	for i := range out.Conversations {
		dump.Conversations = append(dump.Conversations, *out.Conversations[i].toStore())
	}
	for i := range out.Chats {
		dump.Chats = append(dump.Chats, *out.Chats[i].toStore())
	}
	for i := range out.Participants {
		dump.Participants = append(dump.Participants, *out.Participants[i].toStore())
	}
	return dump, nil
}

// SendMessage pushes an optimistic message. clientID is the locally
// generated UUID; the server echoes it back as the stored id, which is what
// makes the optimistic row and the confirmed row converge.
func (c *Client) SendMessage(ctx context.Context, conversationID, clientID, message string) (*store.Chat, error) {
	var out struct {
		envelope
		SentMessage *wireChat `json:"sent_message"`
	}
	body := map[string]string{
		"message":         message,
		"conversation_id": conversationID,
		"client_id":       clientID,
	}
	if err := c.doEnveloped(ctx, http.MethodPost, "send-message", body, &out); err != nil {
		return nil, err
	}
	if out.SentMessage == nil {
		return nil, &ProtocolError{Endpoint: "send-message", Message: "missing sent_message in response"}
	}
	return out.SentMessage.toStore(), nil
}

// CreateConversation creates a conversation with the given participants and
// returns it with its membership rows.
func (c *Client) CreateConversation(ctx context.Context, userIDs []string, convType string) (*store.Conversation, []store.Participant, error) {
	var out struct {
		envelope
		Conversation *wireConversation `json:"conversation"`
	}
	body := map[string]any{"user_ids": userIDs, "type": convType}
	if err := c.doEnveloped(ctx, http.MethodPost, "create-conversation", body, &out); err != nil {
		return nil, nil, err
	}
	if out.Conversation == nil {
		return nil, nil, &ProtocolError{Endpoint: "create-conversation", Message: "missing conversation in response"}
	}
	conv := out.Conversation.toStore()
	var parts []store.Participant
	for i := range out.Conversation.Participants {
		parts = append(parts, *out.Conversation.Participants[i].toStore())
	}
	return conv, parts, nil
}

// Stories fetches the visible story listing (own + mutual contacts,
// unexpired) for full reconciliation.
func (c *Client) Stories(ctx context.Context) ([]store.Story, error) {
	var out struct {
		envelope
		Stories []wireStory `json:"stories"`
	}
	if err := c.doEnveloped(ctx, http.MethodGet, "get-stories", nil, &out); err != nil {
		return nil, err
	}
	stories := make([]store.Story, 0, len(out.Stories))
	for i := range out.Stories {
		stories = append(stories, *out.Stories[i].toStore())
	}
	return stories, nil
}

// CreateStory posts a story with text and/or an uploaded file id.
func (c *Client) CreateStory(ctx context.Context, text, fileID string) (*store.Story, error) {
	var out struct {
		envelope
		Story *wireStory `json:"story"`
	}
	body := map[string]string{}
	if text != "" {
		body["text"] = text
	}
	if fileID != "" {
		body["file_id"] = fileID
	}
	if err := c.doEnveloped(ctx, http.MethodPost, "create-story", body, &out); err != nil {
		return nil, err
	}
	if out.Story == nil {
		return nil, &ProtocolError{Endpoint: "create-story", Message: "missing story in response"}
	}
	return out.Story.toStore(), nil
}

// DeleteStory clears a story server-side.
func (c *Client) DeleteStory(ctx context.Context, id string) error {
	var out struct{ envelope }
	return c.doEnveloped(ctx, http.MethodPost, "delete-story", map[string]string{"id": id}, &out)
}

// GetFile fetches one file descriptor, with file_path resolved absolute.
func (c *Client) GetFile(ctx context.Context, fileID string) (*store.File, error) {
	var out struct {
		envelope
		File *wireFile `json:"file"`
	}
	if err := c.doEnveloped(ctx, http.MethodPost, "get-file", map[string]string{"file_id": fileID}, &out); err != nil {
		return nil, err
	}
	if out.File == nil {
		return nil, &ProtocolError{Endpoint: "get-file", Message: "file not found"}
	}
	return out.File.toStore(c.fileBase), nil
}

// UsersProfilePictures fetches the sentinel file descriptors for a set of
// user ids.
func (c *Client) UsersProfilePictures(ctx context.Context, userIDs []string) ([]store.File, error) {
	var out struct {
		envelope
		PP []wireFile `json:"pp"`
	}
	body := map[string]any{"user_ids": userIDs}
	if err := c.doEnveloped(ctx, http.MethodPost, "users-pp", body, &out); err != nil {
		return nil, err
	}
	files := make([]store.File, 0, len(out.PP))
	for i := range out.PP {
		files = append(files, *out.PP[i].toStore(c.fileBase))
	}
	return files, nil
}

// UploadFile pushes media as multipart form data. text carries the
// profile-picture sentinel when uploading an avatar.
func (c *Client) UploadFile(ctx context.Context, filename, fileType, text string, content io.Reader) (*store.File, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("save-file: build form: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("save-file: copy content: %w", err)
	}
	if err := w.WriteField("file_type", fileType); err != nil {
		return nil, fmt.Errorf("save-file: write field: %w", err)
	}
	if text != "" {
		if err := w.WriteField("text", text); err != nil {
			return nil, fmt.Errorf("save-file: write field: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("save-file: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/save-file", &buf)
	if err != nil {
		return nil, fmt.Errorf("save-file: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("save-file: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("save-file: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		envelope
		File *wireFile `json:"file"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("save-file: decode response: %w", err)
	}
	if !out.Success {
		return nil, &ProtocolError{Endpoint: "save-file", Message: out.Message}
	}
	if out.File == nil {
		return nil, &ProtocolError{Endpoint: "save-file", Message: "missing file in response"}
	}
	return out.File.toStore(c.fileBase), nil
}

// DeleteFile removes a file server-side (including profile pictures).
func (c *Client) DeleteFile(ctx context.Context, id string) error {
	var out struct{ envelope }
	return c.doEnveloped(ctx, http.MethodPost, "delete-file", map[string]string{"id": id}, &out)
}

// EditUser updates the current user's profile fields.
func (c *Client) EditUser(ctx context.Context, name, email string) error {
	var out struct{ envelope }
	return c.doEnveloped(ctx, http.MethodPost, "edit-user", map[string]string{"name": name, "email": email}, &out)
}
