package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	myMiddleware "go-realtime/internal/middleware"
	"go-realtime/internal/realtime"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const historyLimit = 50

var validate = validator.New()

type Handler struct {
	engine     *realtime.Engine
	controller *realtime.Controller
	store      Store
	upgrader   websocket.Upgrader
	clientCfg  ClientConfig
	log        *zap.Logger
}

func NewHandler(engine *realtime.Engine, controller *realtime.Controller, store Store, clientCfg ClientConfig, checkOrigin func(origin string) bool, log *zap.Logger) *Handler {
	return &Handler{
		engine:     engine,
		controller: controller,
		store:      store,
		clientCfg:  clientCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return checkOrigin == nil || checkOrigin(r.Header.Get("Origin"))
			},
		},
		log: log.With(zap.String("component", "chat-handler")),
	}
}

// Routes registers the producer endpoints. They expect the auth middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/channels/{channelID}/messages", h.GetChatHistory)
	r.Post("/api/channels/{channelID}/messages", h.PostMessage)
	r.Post("/api/projects/{projectID}/channels", h.CreateChannel)
	r.Delete("/api/projects/{projectID}/members/{userID}", h.RemoveMember)
	r.Get("/api/projects/{projectID}/online", h.OnlineUsers)
}

// ServeWs authenticates before upgrading: a bad credential never reaches the registry.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	identity, err := h.controller.Authenticate(myMiddleware.TokenFromRequest(r))
	if err != nil {
		h.log.Info("websocket rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(conn, h.clientCfg, h.log.With(zap.String("user_id", string(identity.UserID))))
	session, err := h.controller.Open(r.Context(), identity, client)
	if err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "session rejected"),
			time.Now().Add(h.clientCfg.WriteWait))
		conn.Close()
		return
	}
	client.session = session

	go client.writePump()
	go client.readPump()
}

// PostMessage persists a message, then hands it to the engine for both deliveries.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	userID, username, ok := myMiddleware.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	channelID, ok := h.pathUUID(w, r, "channelID")
	if !ok {
		return
	}

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	channel, err := h.store.GetChannel(r.Context(), channelID)
	if err != nil {
		h.storeError(w, "load channel", err)
		return
	}

	msg := &Message{
		ID:         req.MessageID,
		ChannelID:  channel.ID,
		ProjectID:  channel.ProjectID,
		SenderID:   userID,
		SenderName: username,
		Content:    req.Content,
		CreatedAt:  time.Now().UTC(),
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if err := h.store.SaveMessage(r.Context(), msg); err != nil {
		h.storeError(w, "save message", err)
		return
	}

	envelope := msg.Envelope()
	report, err := h.engine.Deliver(r.Context(), envelope, channel.Name)
	if err != nil {
		// Persisted already; delivery is best-effort.
		h.log.Warn("delivery failed", zap.String("message_id", msg.ID), zap.Error(err))
	}

	respondJSON(w, http.StatusCreated, PostMessageResponse{
		Message:           envelope,
		ChannelRecipients: len(report.Channel.Delivered),
		ProjectRecipients: len(report.Project.Delivered),
	})
}

// GetChatHistory returns the last messages of a channel, oldest first.
func (h *Handler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	channelID, ok := h.pathUUID(w, r, "channelID")
	if !ok {
		return
	}

	msgs, err := h.store.GetRecentMessages(r.Context(), channelID, historyLimit)
	if err != nil {
		h.storeError(w, "load history", err)
		return
	}

	history := make([]*Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		history = append(history, msgs[i])
	}
	respondJSON(w, http.StatusOK, history)
}

func (h *Handler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.pathUUID(w, r, "projectID")
	if !ok {
		return
	}

	var req CreateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	channel, err := h.store.CreateChannel(r.Context(), projectID, req.Name)
	if err != nil {
		h.storeError(w, "create channel", err)
		return
	}

	if err := h.engine.ChannelCreated(r.Context(), channel.toRealtime()); err != nil {
		h.log.Warn("channel_created not broadcast", zap.String("channel_id", channel.ID), zap.Error(err))
	}
	respondJSON(w, http.StatusCreated, channel)
}

// RemoveMember deletes the membership, then tells the room and evicts the
// removed user's live connections.
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	removedBy, _, ok := myMiddleware.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	projectID, ok := h.pathUUID(w, r, "projectID")
	if !ok {
		return
	}
	userID, ok := h.pathUUID(w, r, "userID")
	if !ok {
		return
	}

	if err := h.store.RemoveProjectMember(r.Context(), projectID, userID); err != nil {
		h.storeError(w, "remove member", err)
		return
	}

	err := h.engine.RemoveMember(r.Context(), realtime.ProjectID(projectID), realtime.UserID(userID), realtime.UserID(removedBy))
	if err != nil {
		h.log.Warn("member_removed not broadcast", zap.String("project_id", projectID), zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.pathUUID(w, r, "projectID")
	if !ok {
		return
	}

	snapshot, err := h.engine.Snapshot(r.Context(), realtime.ProjectID(projectID))
	if err != nil {
		http.Error(w, "presence unavailable", http.StatusServiceUnavailable)
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) pathUUID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	value := chi.URLParam(r, name)
	if err := validate.Var(value, "required,uuid"); err != nil {
		http.Error(w, name+" must be a UUID", http.StatusBadRequest)
		return "", false
	}
	return value, true
}

func (h *Handler) storeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrChannelNotFound), errors.Is(err, ErrMemberNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrDuplicateMessage):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.log.Error(op, zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
