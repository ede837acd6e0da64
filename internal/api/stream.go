package api

import (
	"encoding/json"
	"fmt"

	"github.com/chatbyx/chatsync/internal/store"
)

// DecodeChatBatch decodes the payload of a live-chats stream event.
func DecodeChatBatch(data []byte) ([]store.Chat, error) {
	var payload struct {
		Chats []wireChat `json:"chats"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("live-chats: decode batch: %w", err)
	}
	chats := make([]store.Chat, 0, len(payload.Chats))
	for i := range payload.Chats {
		chats = append(chats, *payload.Chats[i].toStore())
	}
	return chats, nil
}

// DecodeStoryBatch decodes the payload of a live-stories stream event.
func DecodeStoryBatch(data []byte) ([]store.Story, error) {
	var payload struct {
		Stories []wireStory `json:"stories"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("live-stories: decode batch: %w", err)
	}
	stories := make([]store.Story, 0, len(payload.Stories))
	for i := range payload.Stories {
		stories = append(stories, *payload.Stories[i].toStore())
	}
	return stories, nil
}
