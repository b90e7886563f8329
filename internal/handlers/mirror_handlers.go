package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sand/blue-carbon-registry/backend/internal/entities"
	"github.com/sand/blue-carbon-registry/backend/internal/usecases"
)

const maxListLimit = 1000

// MirrorHandler serves the transaction mirror and the badge service.
type MirrorHandler struct {
	logger *slog.Logger
	mirror MirrorService
	badges BadgeService
}

func NewMirrorHandler(logger *slog.Logger, mirror MirrorService, badges BadgeService) *MirrorHandler {
	return &MirrorHandler{
		logger: logger,
		mirror: mirror,
		badges: badges,
	}
}

func (h *MirrorHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/transactions", h.CreateTransaction).Methods(http.MethodPost)
	router.HandleFunc("/transactions", h.ListTransactions).Methods(http.MethodGet)
	router.HandleFunc("/transactions/{id}", h.UpdateTransactionStatus).Methods(http.MethodPatch)

	router.HandleFunc("/badges", h.CreateBadge).Methods(http.MethodPost)
	router.HandleFunc("/badges", h.ListBadges).Methods(http.MethodGet)
	router.HandleFunc("/badges/verify", h.VerifyBadge).Methods(http.MethodGet)
	router.HandleFunc("/badges/stats", h.BadgeStats).Methods(http.MethodGet)

	router.HandleFunc("/stats", h.RetirementStats).Methods(http.MethodGet)
	router.HandleFunc("/stats/users/{userID}", h.UserStats).Methods(http.MethodGet)
	router.HandleFunc("/stats/projects/{project}", h.ProjectStats).Methods(http.MethodGet)
}

func (h *MirrorHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var record entities.MirrorRecord
	if err := decodeJSON(w, r, &record); err != nil {
		writeError(h.logger, w, err)
		return
	}

	created, err := h.mirror.CreateTransaction(r.Context(), record)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusCreated, created)
}

func (h *MirrorHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}
	if limit < 0 || limit > maxListLimit {
		writeError(h.logger, w, fmt.Errorf("limit must be between 0 and %d: %w", maxListLimit, errBadRequest))
		return
	}

	q := r.URL.Query()
	list, err := h.mirror.ListTransactions(r.Context(), entities.MirrorFilter{
		Hash:    q.Get("hash"),
		UserID:  q.Get("user_id"),
		Address: q.Get("address"),
		Limit:   uint64(limit),
	})
	if err != nil {
		writeError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, list)
}

func (h *MirrorHandler) UpdateTransactionStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(h.logger, w, err)
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.mirror.UpdateStatus(r.Context(), id, req.Status); err != nil {
		writeError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, map[string]any{"success": true, "id": id, "status": req.Status})
}

func (h *MirrorHandler) CreateBadge(w http.ResponseWriter, r *http.Request) {
	var badge entities.Badge
	if err := decodeJSON(w, r, &badge); err != nil {
		writeError(h.logger, w, err)
		return
	}

	created, err := h.badges.RecordBadge(r.Context(), badge)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusCreated, created)
}

// ListBadges answers exactly one of user_id, project or tx_hash.
func (h *MirrorHandler) ListBadges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx := r.Context()

	var (
		list []entities.Badge
		err  error
	)
	switch {
	case q.Get("user_id") != "":
		list, err = h.badges.UserBadges(ctx, q.Get("user_id"))
	case q.Get("project") != "":
		list, err = h.badges.ProjectBadges(ctx, q.Get("project"))
	case q.Get("tx_hash") != "":
		var badge entities.Badge
		badge, err = h.badges.BadgeByTransactionHash(ctx, q.Get("tx_hash"))
		switch {
		case errors.Is(err, usecases.ErrBadgeNotFound):
			list, err = []entities.Badge{}, nil
		case err == nil:
			list = []entities.Badge{badge}
		}
	default:
		err = fmt.Errorf("one of user_id, project or tx_hash is required: %w", errBadRequest)
	}
	if err != nil {
		writeError(h.logger, w, err)
		return
	}
	if list == nil {
		list = []entities.Badge{}
	}
	writeJSON(h.logger, w, http.StatusOK, list)
}

func (h *MirrorHandler) VerifyBadge(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("tx_hash")
	if hash == "" {
		writeError(h.logger, w, fmt.Errorf("tx_hash is required: %w", errBadRequest))
		return
	}

	verified := h.badges.VerifyBadge(r.Context(), hash)
	status := http.StatusOK
	if !verified {
		status = http.StatusNotFound
	}
	writeJSON(h.logger, w, status, map[string]any{"verified": verified, "transactionHash": hash})
}

func (h *MirrorHandler) BadgeStats(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(h.logger, w, fmt.Errorf("user_id is required: %w", errBadRequest))
		return
	}

	stats, err := h.badges.UserBadgeStats(r.Context(), userID)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, stats)
}

func (h *MirrorHandler) RetirementStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stats, err := h.badges.RetirementStats(r.Context(), q.Get("user_id"), q.Get("project"), q.Get("time_range"))
	if err != nil {
		writeError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, stats)
}

func (h *MirrorHandler) UserStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.badges.UserStats(r.Context(), mux.Vars(r)["userID"])
	if err != nil {
		writeError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, stats)
}

func (h *MirrorHandler) ProjectStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.badges.ProjectStats(r.Context(), mux.Vars(r)["project"])
	if err != nil {
		writeError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, stats)
}
