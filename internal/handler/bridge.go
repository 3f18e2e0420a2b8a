// Package handler exposes the realtime core to local presentation surfaces:
// JSON state endpoints plus an SSE stream of released toasts.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/studycircle/internal/client"
	"github.com/studycircle/internal/logger"
	"github.com/studycircle/internal/transport"
)

type BridgeHandler struct {
	core *client.Client
}

func NewBridgeHandler(core *client.Client) *BridgeHandler {
	return &BridgeHandler{core: core}
}

// Routes mounts every bridge endpoint on r.
func (h *BridgeHandler) Routes(r chi.Router) {
	r.Get("/state", h.GetState)

	r.Get("/notifications", h.GetNotifications)
	r.Post("/notifications/read-all", h.MarkAllRead)
	r.Post("/notifications/{id}/read", h.MarkRead)
	r.Post("/notifications/{id}/open", h.OpenNotification)

	r.Get("/threads", h.GetThreads)
	r.Post("/threads/refresh", h.RefreshThreads)
	r.Post("/threads/close", h.CloseThread)
	r.Post("/threads/{threadId}/open", h.OpenThread)
	r.Get("/threads/{threadId}/messages", h.GetMessages)
	r.Post("/threads/{threadId}/messages", h.SendMessage)
	r.Post("/threads/{threadId}/messages/older", h.LoadOlder)
	r.Post("/threads/{threadId}/read", h.MarkThreadRead)
	r.Post("/threads/{threadId}/typing", h.Typing)
	r.Get("/threads/{threadId}/typists", h.GetTypists)

	r.Post("/focus", h.SetFocus)
	r.Get("/prefs/sound", h.GetSound)
	r.Put("/prefs/sound", h.SetSound)

	r.Get("/toasts", h.StreamToasts)
}

type stateResponse struct {
	Connection          transport.State `json:"connection"`
	UnreadNotifications int             `json:"unread_notifications"`
	UnreadMessages      int             `json:"unread_messages"`
	ActiveThread        string          `json:"active_thread,omitempty"`
	SoundEnabled        bool            `json:"sound_enabled"`
}

func (h *BridgeHandler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stateResponse{
		Connection:          h.core.ConnectionState(),
		UnreadNotifications: h.core.UnreadNotifications(),
		UnreadMessages:      h.core.UnreadMessages(),
		ActiveThread:        h.core.ActiveThreadID(),
		SoundEnabled:        h.core.SoundEnabled(),
	})
}

func (h *BridgeHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	list := h.core.Notifications()
	limit := queryInt(r, "limit", 50)
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  list,
		"unread": h.core.UnreadNotifications(),
	})
}

func (h *BridgeHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.core.MarkNotificationRead(r.Context(), id); err != nil {
		writeError(w, http.StatusBadGateway, "failed to mark read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BridgeHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	if err := h.core.MarkAllNotificationsRead(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "failed to mark all read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OpenNotification is the toast click target: marks read and returns the
// route the surface should navigate to.
func (h *BridgeHandler) OpenNotification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	route, err := h.core.OpenNotification(r.Context(), id)
	if err == client.ErrUnknownNotification {
		writeError(w, http.StatusNotFound, "unknown notification")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to open notification")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"route": route})
}

func (h *BridgeHandler) GetThreads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.core.Threads())
}

func (h *BridgeHandler) RefreshThreads(w http.ResponseWriter, r *http.Request) {
	if err := h.core.RefreshThreads(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "failed to load threads")
		return
	}
	writeJSON(w, http.StatusOK, h.core.Threads())
}

func (h *BridgeHandler) OpenThread(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadId")
	if err := h.core.OpenThread(r.Context(), threadID); err != nil {
		writeError(w, http.StatusBadGateway, "failed to load messages")
		return
	}
	writeJSON(w, http.StatusOK, h.core.Messages())
}

func (h *BridgeHandler) CloseThread(w http.ResponseWriter, r *http.Request) {
	h.core.CloseThread()
	w.WriteHeader(http.StatusNoContent)
}

func (h *BridgeHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadId")
	if threadID != h.core.ActiveThreadID() {
		writeError(w, http.StatusConflict, "thread is not active")
		return
	}
	writeJSON(w, http.StatusOK, h.core.Messages())
}

func (h *BridgeHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadId")
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeError(w, http.StatusBadRequest, "content required")
		return
	}
	if err := h.core.SendMessage(r.Context(), threadID, req.Content); err != nil {
		// Compose box stays populated on the surface; this is the inline
		// retryable error.
		writeError(w, http.StatusBadGateway, "failed to send message")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *BridgeHandler) LoadOlder(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadId")
	if threadID != h.core.ActiveThreadID() {
		writeError(w, http.StatusConflict, "thread is not active")
		return
	}
	if err := h.core.LoadOlderMessages(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "failed to load older messages")
		return
	}
	writeJSON(w, http.StatusOK, h.core.Messages())
}

func (h *BridgeHandler) MarkThreadRead(w http.ResponseWriter, r *http.Request) {
	h.core.MarkThreadRead(r.Context(), chi.URLParam(r, "threadId"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *BridgeHandler) Typing(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadId")
	var req struct {
		Typing bool `json:"typing"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Typing {
		h.core.TypingInput(threadID)
	} else {
		h.core.TypingStopped(threadID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BridgeHandler) GetTypists(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.core.Typists(chi.URLParam(r, "threadId")))
}

func (h *BridgeHandler) SetFocus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Focused bool `json:"focused"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	h.core.SetFocused(req.Focused)
	w.WriteHeader(http.StatusNoContent)
}

func (h *BridgeHandler) GetSound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": h.core.SoundEnabled()})
}

func (h *BridgeHandler) SetSound(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := h.core.SetSoundEnabled(r.Context(), req.Enabled); err != nil {
		logger.Errorf("bridge: persist sound pref: %v", err)
	}
	w.WriteHeader(http.StatusNoContent)
}
