// Package query derives read models from the replica. Nothing here writes;
// views are recomputed from the store whenever a bus event says the
// underlying tables changed.
package query

import (
	"sort"
	"strings"

	"github.com/chatbyx/chatsync/internal/store"
)

// Queries computes views for one local user.
type Queries struct {
	db        *store.DB
	selfID    string
	selfEmail string
}

func New(db *store.DB, selfID, selfEmail string) *Queries {
	return &Queries{db: db, selfID: selfID, selfEmail: selfEmail}
}

// ConversationView is one row of the conversation list.
type ConversationView struct {
	Conversation store.Conversation
	DisplayName  string
	Participants []store.Participant
	LastMessage  *store.Chat
	Pending      int
}

// ConversationList joins conversations with their participants and latest
// message, most recently active first.
func (q *Queries) ConversationList() ([]ConversationView, error) {
	convs, err := q.db.ListConversations()
	if err != nil {
		return nil, err
	}
	parts, err := q.db.ListParticipants()
	if err != nil {
		return nil, err
	}
	chats, err := q.db.ListChats()
	if err != nil {
		return nil, err
	}
	contacts, err := q.db.ListContacts()
	if err != nil {
		return nil, err
	}

	partsByConv := make(map[string][]store.Participant)
	for i := range parts {
		partsByConv[parts[i].ConversationID] = append(partsByConv[parts[i].ConversationID], parts[i])
	}
	contactByUser := make(map[string]store.Contact, len(contacts))
	for i := range contacts {
		if contacts[i].RecipientID != "" {
			contactByUser[contacts[i].RecipientID] = contacts[i]
		}
	}

	latest := make(map[string]*store.Chat)
	pending := make(map[string]int)
	for i := range chats {
		m := &chats[i]
		if !m.Synced {
			pending[m.ConversationID]++
		}
		if cur, ok := latest[m.ConversationID]; !ok || m.CreatedAt > cur.CreatedAt {
			latest[m.ConversationID] = m
		}
	}

	views := make([]ConversationView, 0, len(convs))
	for i := range convs {
		c := convs[i]
		cp := partsByConv[c.ID]
		views = append(views, ConversationView{
			Conversation: c,
			DisplayName:  q.displayName(&c, cp, contactByUser),
			Participants: cp,
			LastMessage:  latest[c.ID],
			Pending:      pending[c.ID],
		})
	}

	sort.SliceStable(views, func(i, j int) bool {
		return lastActivity(&views[i]) > lastActivity(&views[j])
	})
	return views, nil
}

func lastActivity(v *ConversationView) string {
	if v.LastMessage != nil {
		return v.LastMessage.CreatedAt
	}
	return v.Conversation.CreatedAt
}

// displayName derives what the conversation is called. An explicit name
// wins. Otherwise the other participants are named through the contact book
// when possible, their account email when not. A conversation with only
// yourself reads "<you>, me".
func (q *Queries) displayName(c *store.Conversation, parts []store.Participant, contactByUser map[string]store.Contact) string {
	if c.Name != "" {
		return c.Name
	}

	var names []string
	for i := range parts {
		p := parts[i]
		if p.UserID == q.selfID {
			continue
		}
		if contact, ok := contactByUser[p.UserID]; ok && contact.Name != "" {
			names = append(names, contact.Name)
			continue
		}
		if p.Email != "" {
			names = append(names, p.Email)
			continue
		}
		names = append(names, p.UserID)
	}

	if len(names) == 0 {
		self := q.selfEmail
		for i := range parts {
			if parts[i].UserID == q.selfID && parts[i].Email != "" {
				self = parts[i].Email
			}
		}
		return self + ", me"
	}
	return strings.Join(names, ", ")
}

// ThreadMessage is one message with its sender named for display.
type ThreadMessage struct {
	store.Chat
	SenderName string
}

// ThreadView is an open conversation: header data plus its messages,
// newest first.
type ThreadView struct {
	Conversation store.Conversation
	DisplayName  string
	Participants []store.Participant
	Messages     []ThreadMessage
}

// MessageThread builds the view for one conversation. Returns nil when the
// conversation does not exist locally.
func (q *Queries) MessageThread(conversationID string) (*ThreadView, error) {
	conv, err := q.db.GetConversation(conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, nil
	}
	parts, err := q.db.ListConversationParticipants(conversationID)
	if err != nil {
		return nil, err
	}
	chats, err := q.db.ListConversationChats(conversationID)
	if err != nil {
		return nil, err
	}
	contacts, err := q.db.ListContacts()
	if err != nil {
		return nil, err
	}
	contactByUser := make(map[string]store.Contact, len(contacts))
	for i := range contacts {
		if contacts[i].RecipientID != "" {
			contactByUser[contacts[i].RecipientID] = contacts[i]
		}
	}
	emailByUser := make(map[string]string, len(parts))
	for i := range parts {
		if parts[i].Email != "" {
			emailByUser[parts[i].UserID] = parts[i].Email
		}
	}

	msgs := make([]ThreadMessage, 0, len(chats))
	for i := range chats {
		msgs = append(msgs, ThreadMessage{
			Chat:       chats[i],
			SenderName: q.userName(chats[i].SenderID, contactByUser, emailByUser),
		})
	}
	return &ThreadView{
		Conversation: *conv,
		DisplayName:  q.displayName(conv, parts, contactByUser),
		Participants: parts,
		Messages:     msgs,
	}, nil
}

// userName names a user for display: "me" for the local user, then the
// contact book, then a known email, then the raw id.
func (q *Queries) userName(userID string, contactByUser map[string]store.Contact, emailByUser map[string]string) string {
	if userID == q.selfID {
		return "me"
	}
	if contact, ok := contactByUser[userID]; ok && contact.Name != "" {
		return contact.Name
	}
	if email, ok := emailByUser[userID]; ok {
		return email
	}
	return userID
}

// ConversationWith returns the existing single conversation between the
// local user and the given user, or nil.
func (q *Queries) ConversationWith(userID string) (*store.Conversation, error) {
	convs, err := q.db.ListConversations()
	if err != nil {
		return nil, err
	}
	for i := range convs {
		if convs[i].Type != "single" {
			continue
		}
		parts, err := q.db.ListConversationParticipants(convs[i].ID)
		if err != nil {
			return nil, err
		}
		hasSelf, hasOther := false, false
		for j := range parts {
			switch parts[j].UserID {
			case q.selfID:
				hasSelf = true
			case userID:
				hasOther = true
			}
		}
		if hasSelf && hasOther {
			return &convs[i], nil
		}
	}
	return nil, nil
}

// StoryView is one story with its author named, its viewed flag resolved
// and its media located. FileURL prefers the verified local blob over the
// remote path.
type StoryView struct {
	store.Story
	UserName string
	Viewed   bool
	FileURL  string
	FileType string
}

// StoryFeed groups the visible stories: the user's own first (oldest
// first), then unviewed from mutual contacts (newest first), then viewed
// (newest first). A story is visible when it still has content, has not
// expired, and belongs to the user or a mutual contact.
type StoryFeed struct {
	Mine     []StoryView
	Unviewed []StoryView
	Viewed   []StoryView
}

func (q *Queries) StoryFeed(now string) (*StoryFeed, error) {
	stories, err := q.db.ListStories()
	if err != nil {
		return nil, err
	}
	viewed, err := q.db.ViewedStoryIDs()
	if err != nil {
		return nil, err
	}
	contacts, err := q.db.ListContacts()
	if err != nil {
		return nil, err
	}
	users, err := q.db.ListStoredUsers()
	if err != nil {
		return nil, err
	}
	files, err := q.db.ListFiles()
	if err != nil {
		return nil, err
	}
	fileByID := make(map[string]store.File, len(files))
	for i := range files {
		fileByID[files[i].ID] = files[i]
	}
	mutual := make(map[string]struct{})
	contactByUser := make(map[string]store.Contact, len(contacts))
	for i := range contacts {
		if contacts[i].RecipientID == "" {
			continue
		}
		contactByUser[contacts[i].RecipientID] = contacts[i]
		if contacts[i].IsMutual {
			mutual[contacts[i].RecipientID] = struct{}{}
		}
	}
	emailByUser := make(map[string]string, len(users))
	for i := range users {
		if users[i].Email != "" {
			emailByUser[users[i].ID] = users[i].Email
		}
	}

	feed := &StoryFeed{}
	for i := range stories {
		s := stories[i]
		if s.Text == "" && s.FileID == "" {
			continue
		}
		if s.ExpiresAt != "" && s.ExpiresAt < now {
			continue
		}
		_, seen := viewed[s.ID]
		view := StoryView{
			Story:    s,
			UserName: q.userName(s.UserID, contactByUser, emailByUser),
			Viewed:   seen,
		}
		if f, ok := fileByID[s.FileID]; ok {
			view.FileType = f.FileType
			if f.LocalStorage != "" {
				view.FileURL = f.LocalStorage
			} else {
				view.FileURL = f.FilePath
			}
		}
		switch {
		case s.UserID == q.selfID:
			feed.Mine = append(feed.Mine, view)
		default:
			if _, ok := mutual[s.UserID]; !ok {
				continue
			}
			if seen {
				feed.Viewed = append(feed.Viewed, view)
			} else {
				feed.Unviewed = append(feed.Unviewed, view)
			}
		}
	}

	sort.SliceStable(feed.Mine, func(i, j int) bool {
		return feed.Mine[i].CreatedAt < feed.Mine[j].CreatedAt
	})
	sort.SliceStable(feed.Unviewed, func(i, j int) bool {
		return feed.Unviewed[i].CreatedAt > feed.Unviewed[j].CreatedAt
	})
	sort.SliceStable(feed.Viewed, func(i, j int) bool {
		return feed.Viewed[i].CreatedAt > feed.Viewed[j].CreatedAt
	})
	return feed, nil
}

// Contacts returns the contact book sorted by display name.
func (q *Queries) Contacts() ([]store.Contact, error) {
	contacts, err := q.db.ListContacts()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(contacts, func(i, j int) bool {
		return strings.ToLower(contacts[i].Name) < strings.ToLower(contacts[j].Name)
	})
	return contacts, nil
}
