package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/sand/blue-carbon-registry/backend/internal/journal"
	"github.com/sand/blue-carbon-registry/backend/internal/marketplace"
	"github.com/sand/blue-carbon-registry/backend/internal/projects"
	"github.com/sand/blue-carbon-registry/backend/internal/usecases"
	"github.com/sand/blue-carbon-registry/backend/internal/wallet"
)

const maxBodyBytes = 1 << 20

func writeJSON(logger *slog.Logger, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func writeError(logger *slog.Logger, w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "error", err)
	}
	writeJSON(logger, w, status, map[string]any{"success": false, "error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", errBadRequest)
	}
	return nil
}

var errBadRequest = errors.New("bad request")

func pathInt(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(mux.Vars(r)[name])
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, errBadRequest)
	}
	return v, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, errBadRequest)
	}
	return v, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, projects.ErrInvalidProject),
		errors.Is(err, projects.ErrRejectionReasonRequired),
		errors.Is(err, marketplace.ErrInvalidQuantity),
		errors.Is(err, journal.ErrInvalidTransfer),
		errors.Is(err, wallet.ErrAddressUnresolved),
		errors.Is(err, usecases.ErrInvalidBadge),
		errors.Is(err, usecases.ErrInvalidMirrorRecord),
		errors.Is(err, usecases.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, projects.ErrProjectNotFound),
		errors.Is(err, marketplace.ErrListingNotFound),
		errors.Is(err, journal.ErrTransactionNotFound),
		errors.Is(err, usecases.ErrBadgeNotFound),
		errors.Is(err, usecases.ErrMirrorRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, projects.ErrInvalidTransition),
		errors.Is(err, marketplace.ErrInsufficientCredits),
		errors.Is(err, marketplace.ErrInsufficientBalance),
		errors.Is(err, wallet.ErrWalletNotConnected),
		errors.Is(err, journal.ErrNoActiveScope):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
