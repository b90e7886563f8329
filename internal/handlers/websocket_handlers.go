package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

// Message kinds pushed to websocket subscribers.
const (
	KindProjects     = "projects"
	KindTransactions = "transactions"
	KindSession      = "session"
)

type WebSocketHandler struct {
	logger           *slog.Logger
	projects         ProjectService
	journal          TransactionJournal
	session          WalletSession
	websocketManager *Manager
}

func NewWebSocketHandler(
	logger *slog.Logger,
	projects ProjectService,
	journal TransactionJournal,
	session WalletSession,
	websocketManager *Manager,
) *WebSocketHandler {
	return &WebSocketHandler{
		logger:           logger,
		projects:         projects,
		journal:          journal,
		session:          session,
		websocketManager: websocketManager,
	}
}

func (h *WebSocketHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws", h.HandleConnection)
}

// HandleConnection subscribes the client to registry changes and sends it the current state first.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.websocketManager.Upgrade(w, r)
	if err != nil {
		h.logger.Error("Error upgrading connection", "error", err)
		return
	}

	h.logger.Info("New WebSocket connection", "remote", r.RemoteAddr)
	h.websocketManager.AddSubscriber(conn)

	initial := []struct {
		kind string
		data any
	}{
		{KindProjects, h.projects.List()},
		{KindTransactions, h.journal.ListForScope()},
		{KindSession, h.session.Snapshot()},
	}
	for _, m := range initial {
		if err = h.websocketManager.Send(conn, m.kind, m.data); err != nil {
			h.logger.Error("Error sending initial state", "kind", m.kind, "error", err)
			h.websocketManager.RemoveSubscriber(conn)
			return
		}
	}

	// Keep connection open and handle disconnection
	for {
		if _, _, readErr := conn.ReadMessage(); readErr != nil {
			h.logger.Info("WebSocket connection closed", "remote", r.RemoteAddr, "error", readErr)
			h.websocketManager.RemoveSubscriber(conn)
			return
		}
	}
}
