package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/chatbyx/chatsync/internal/api"
	"github.com/chatbyx/chatsync/internal/media"
	"github.com/chatbyx/chatsync/internal/notify"
	"github.com/chatbyx/chatsync/internal/outbox"
	"github.com/chatbyx/chatsync/internal/query"
	"github.com/chatbyx/chatsync/internal/session"
	"github.com/chatbyx/chatsync/internal/status"
	"github.com/chatbyx/chatsync/internal/store"
)

// Server is the local control API, JSON over a per-session Unix socket.
// Clients (TUI, scripts) read views and issue writes through it; the daemon
// remains the single writer of the replica.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer creates the control server bound to the session's Unix socket.
func NewServer(
	p Params,
	logger *zap.Logger,
	queries *query.Queries,
	service *outbox.Service,
	cache *media.Cache,
	tracker *status.Tracker,
	notices *notify.Queue,
) (*Server, error) {
	socketPath := session.SocketPath(p.SessionName)

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	h := &handlers{queries: queries, service: service, cache: cache, tracker: tracker, notices: notices}

	return &Server{
		httpServer: &http.Server{Handler: newMux(h)},
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Start begins serving control requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("control server starting", zap.String("socket", s.socketPath))
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("control server stopping")
	_ = s.httpServer.Shutdown(ctx)
	_ = os.Remove(s.socketPath)
}

type handlers struct {
	queries *query.Queries
	service *outbox.Service
	cache   *media.Cache
	tracker *status.Tracker
	notices *notify.Queue
}

func newMux(h *handlers) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", h.getStatus)
	mux.HandleFunc("GET /v1/notices", h.drainNotices)
	mux.HandleFunc("GET /v1/conversations", h.listConversations)
	mux.HandleFunc("POST /v1/conversations", h.createConversation)
	mux.HandleFunc("GET /v1/conversations/{id}/messages", h.listMessages)
	mux.HandleFunc("POST /v1/conversations/{id}/messages", h.sendMessage)
	mux.HandleFunc("GET /v1/contacts", h.listContacts)
	mux.HandleFunc("POST /v1/contacts", h.addContact)
	mux.HandleFunc("POST /v1/contacts/{id}", h.editContact)
	mux.HandleFunc("DELETE /v1/contacts/{id}", h.removeContact)
	mux.HandleFunc("GET /v1/stories", h.storyFeed)
	mux.HandleFunc("POST /v1/stories", h.postStory)
	mux.HandleFunc("DELETE /v1/stories/{id}", h.removeStory)
	mux.HandleFunc("POST /v1/stories/{id}/viewed", h.markViewed)
	mux.HandleFunc("GET /v1/files/{id}", h.resolveFile)
	mux.HandleFunc("POST /v1/user", h.editUser)
	mux.HandleFunc("GET /v1/users/{id}/avatar", h.userAvatar)
	mux.HandleFunc("POST /v1/users/{id}/avatar", h.setAvatar)
	mux.HandleFunc("DELETE /v1/users/{id}/avatar", h.removeAvatar)
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps server rejections to 422 and everything else to 502: the
// caller can tell "fix your request" from "the backend is unhappy".
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusBadGateway
	var perr *api.ProtocolError
	if errors.As(err, &perr) {
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func (h *handlers) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"state": string(h.tracker.Get())})
}

func (h *handlers) drainNotices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.notices.Drain())
}

func (h *handlers) listConversations(w http.ResponseWriter, _ *http.Request) {
	views, err := h.queries.ConversationList()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handlers) createConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserIDs []string `json:"user_ids"`
		Type    string   `json:"type"`
		Message string   `json:"message"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	conv, err := h.service.CreateConversation(r.Context(), req.UserIDs, req.Type)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Message != "" {
		if _, err := h.service.SendMessage(r.Context(), conv.ID, req.Message); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (h *handlers) listMessages(w http.ResponseWriter, r *http.Request) {
	view, err := h.queries.MessageThread(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if view == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown conversation"})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	m, err := h.service.SendMessage(r.Context(), r.PathValue("id"), req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, m)
}

func (h *handlers) listContacts(w http.ResponseWriter, _ *http.Request) {
	contacts, err := h.queries.Contacts()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contacts)
}

func (h *handlers) addContact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := h.service.AddContact(r.Context(), req.Email, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *handlers) editContact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := h.service.EditContact(r.Context(), r.PathValue("id"), req.Name, req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handlers) removeContact(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveContact(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) storyFeed(w http.ResponseWriter, _ *http.Request) {
	feed, err := h.queries.StoryFeed(store.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

// postStory accepts either a JSON body (text-only story) or a multipart
// form carrying the media blob alongside text and file_type fields.
func (h *handlers) postStory(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing file part"})
			return
		}
		defer func() { _ = file.Close() }()
		st, err := h.service.PostStory(r.Context(), r.FormValue("text"), header.Filename, r.FormValue("file_type"), file)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, st)
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	st, err := h.service.PostStory(r.Context(), req.Text, "", "", nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (h *handlers) removeStory(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveStory(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) markViewed(w http.ResponseWriter, r *http.Request) {
	if err := h.service.MarkStoryViewed(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) resolveFile(w http.ResponseWriter, r *http.Request) {
	res, err := h.cache.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) userAvatar(w http.ResponseWriter, r *http.Request) {
	res, err := h.cache.ProfilePicture(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if res == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) editUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.service.EditProfile(r.Context(), req.Name, req.Email); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) setAvatar(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing file part"})
		return
	}
	defer func() { _ = file.Close() }()
	f, err := h.service.SetProfilePicture(r.Context(), header.Filename, r.FormValue("file_type"), file)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (h *handlers) removeAvatar(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveProfilePicture(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
