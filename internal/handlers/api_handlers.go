package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/sand/blue-carbon-registry/backend/internal/entities"
	"github.com/sand/blue-carbon-registry/backend/internal/marketplace"
	"github.com/sand/blue-carbon-registry/backend/internal/wallet"
)

const defaultRecentLimit = 10

// HTTPHandler serves the registry API over the project store, the journal and the wallet session.
type HTTPHandler struct {
	logger   *slog.Logger
	projects ProjectService
	market   Marketplace
	pool     PoolService
	journal  TransactionJournal
	session  WalletSession
	adapters AdapterFactory
	sync     SyncStatusSource

	paymentTimeout time.Duration
}

// NewHTTPHandler wires the registry API. sync may be nil when no mirror is configured.
func NewHTTPHandler(
	logger *slog.Logger,
	projects ProjectService,
	market Marketplace,
	pool PoolService,
	journal TransactionJournal,
	session WalletSession,
	adapters AdapterFactory,
	sync SyncStatusSource,
) *HTTPHandler {
	return &HTTPHandler{
		logger:   logger,
		projects: projects,
		market:   market,
		pool:     pool,
		journal:  journal,
		session:  session,
		adapters: adapters,
		sync:     sync,
	}
}

// WithPaymentTimeout lets spend and purchase requests write their response up to d
// after they started, past the server's write timeout.
func (h *HTTPHandler) WithPaymentTimeout(d time.Duration) *HTTPHandler {
	h.paymentTimeout = d
	return h
}

func (h *HTTPHandler) extendWriteDeadline(w http.ResponseWriter) {
	if h.paymentTimeout <= 0 {
		return
	}
	if err := http.NewResponseController(w).SetWriteDeadline(time.Now().Add(h.paymentTimeout)); err != nil {
		h.logger.Debug("Write deadline not extended", "error", err)
	}
}

func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	// Projects
	router.HandleFunc("/projects", h.ListProjects).Methods(http.MethodGet)
	router.HandleFunc("/projects", h.SubmitProject).Methods(http.MethodPost)
	router.HandleFunc("/projects/stats", h.ProjectStatistics).Methods(http.MethodGet)
	router.HandleFunc("/projects/{id:[0-9]+}", h.GetProject).Methods(http.MethodGet)
	router.HandleFunc("/projects/{id:[0-9]+}/approve", h.ApproveProject).Methods(http.MethodPost)
	router.HandleFunc("/projects/{id:[0-9]+}/reject", h.RejectProject).Methods(http.MethodPost)

	// Marketplace
	router.HandleFunc("/marketplace/listings", h.Listings).Methods(http.MethodGet)
	router.HandleFunc("/marketplace/quote", h.Quote).Methods(http.MethodGet)
	router.HandleFunc("/marketplace/pool", h.Pool).Methods(http.MethodGet)

	// Wallet session
	router.HandleFunc("/session", h.Session).Methods(http.MethodGet)
	router.HandleFunc("/session/user", h.SetUser).Methods(http.MethodPost)
	router.HandleFunc("/session/connect", h.Connect).Methods(http.MethodPost)
	router.HandleFunc("/session/disconnect", h.Disconnect).Methods(http.MethodPost)
	router.HandleFunc("/session/balance", h.RefreshBalance).Methods(http.MethodPost)
	router.HandleFunc("/session/spend", h.Spend).Methods(http.MethodPost)
	router.HandleFunc("/session/purchase", h.Purchase).Methods(http.MethodPost)
	router.HandleFunc("/session/retire", h.Retire).Methods(http.MethodPost)

	// Transactions
	router.HandleFunc("/transactions", h.ListTransactions).Methods(http.MethodGet)
	router.HandleFunc("/transactions/recent", h.RecentTransactions).Methods(http.MethodGet)
	router.HandleFunc("/transactions/sync", h.SyncTransactions).Methods(http.MethodPost)
	router.HandleFunc("/transactions/{hash}", h.GetTransaction).Methods(http.MethodGet)

	router.HandleFunc("/mirror/status", h.MirrorStatus).Methods(http.MethodGet)
}

func (h *HTTPHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var list []entities.Project
	switch {
	case q.Get("status") != "":
		list = h.projects.ListByStatus(entities.ProjectStatus(q.Get("status")))
	case q.Get("organization") != "":
		list = h.projects.ListByOrganization(q.Get("organization"))
	default:
		list = h.projects.List()
	}
	if list == nil {
		list = []entities.Project{}
	}

	writeJSON(h.logger, w, http.StatusOK, list)
}

func (h *HTTPHandler) SubmitProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		entities.ProjectDraft
		SubmittedBy string `json:"submittedBy"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(h.logger, w, err)
		return
	}

	project, err := h.projects.Add(req.ProjectDraft, req.SubmittedBy)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}

	h.logger.Info("Project submitted", "id", project.ID, "name", project.Name, "submitted_by", project.SubmittedBy)
	writeJSON(h.logger, w, http.StatusCreated, project)
}

func (h *HTTPHandler) ProjectStatistics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(h.logger, w, http.StatusOK, h.projects.Statistics())
}

func (h *HTTPHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeError(h.logger, w, err)
		return
	}

	project, err := h.projects.Get(id)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, project)
}

type decisionRequest struct {
	VerifiedBy string `json:"verifiedBy"`
	Reason     string `json:"reason"`
}

func (h *HTTPHandler) ApproveProject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(id int, req decisionRequest) (entities.Project, error) {
		return h.projects.Approve(id, req.VerifiedBy)
	})
}

func (h *HTTPHandler) RejectProject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(id int, req decisionRequest) (entities.Project, error) {
		return h.projects.Reject(id, req.VerifiedBy, req.Reason)
	})
}

func (h *HTTPHandler) decide(w http.ResponseWriter, r *http.Request, apply func(int, decisionRequest) (entities.Project, error)) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeError(h.logger, w, err)
		return
	}

	var req decisionRequest
	if err = decodeJSON(w, r, &req); err != nil {
		writeError(h.logger, w, err)
		return
	}

	project, err := apply(id, req)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}

	h.logger.Info("Project decided", "id", project.ID, "status", project.Status, "verified_by", req.VerifiedBy)
	writeJSON(h.logger, w, http.StatusOK, project)
}

func (h *HTTPHandler) Listings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(h.logger, w, http.StatusOK, h.market.Listings())
}

func (h *HTTPHandler) Quote(w http.ResponseWriter, r *http.Request) {
	projectID, err := queryInt(r, "project_id", 0)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}
	credits, err := queryInt(r, "credits", 1)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}

	quote, err := h.market.Quote(projectID, credits)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, quote)
}

func (h *HTTPHandler) Pool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := map[string]any{"pool": h.pool.PoolInfo(ctx)}

	if raw := r.URL.Query().Get("native_in"); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(h.logger, w, fmt.Errorf("invalid native_in: %w", errBadRequest))
			return
		}
		resp["tokensOut"] = h.pool.TokensOut(ctx, amount)
	}
	if raw := r.URL.Query().Get("tokens"); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(h.logger, w, fmt.Errorf("invalid tokens: %w", errBadRequest))
			return
		}
		resp["nativeIn"] = h.pool.NativeIn(ctx, amount)
	}
	if addr := h.session.Snapshot().Address; addr != "" {
		resp["carbonTokenBalance"] = h.pool.CarbonTokenBalance(ctx, addr)
	}

	writeJSON(h.logger, w, http.StatusOK, resp)
}

func (h *HTTPHandler) Session(w http.ResponseWriter, _ *http.Request) {
	writeJSON(h.logger, w, http.StatusOK, map[string]any{
		"session":    h.session.Snapshot(),
		"scope":      h.journal.Scope(),
		"totalSpent": h.session.MyTotalSpent(),
	})
}

func (h *HTTPHandler) SetUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(h.logger, w, err)
		return
	}

	h.session.SetUser(strings.TrimSpace(req.UserID))
	writeJSON(h.logger, w, http.StatusOK, h.session.Snapshot())
}

func (h *HTTPHandler) Connect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(h.logger, w, err)
			return
		}
	}

	adapter, err := h.adapters(strings.TrimSpace(req.Address))
	if err != nil {
		writeError(h.logger, w, err)
		return
	}

	if err = h.session.HandleEvent(r.Context(), wallet.Event{Kind: wallet.EventConnect, Adapter: adapter}); err != nil {
		writeError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, h.session.Snapshot())
}

func (h *HTTPHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.session.HandleEvent(r.Context(), wallet.Event{Kind: wallet.EventDisconnect}); err != nil {
		writeError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, h.session.Snapshot())
}

func (h *HTTPHandler) RefreshBalance(w http.ResponseWriter, r *http.Request) {
	h.session.RefreshBalance(r.Context())
	writeJSON(h.logger, w, http.StatusOK, h.session.Snapshot())
}

func (h *HTTPHandler) Spend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type        entities.TransactionType `json:"type"`
		Description string                   `json:"description"`
		Amount      decimal.Decimal          `json:"amount"`
		To          string                   `json:"to"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(h.logger, w, err)
		return
	}
	if req.Type == "" {
		req.Type = entities.TxTransfer
	}

	h.extendWriteDeadline(w)
	tx, err := h.session.Spend(r.Context(), req.Type, req.Description, req.Amount, req.To)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusCreated, tx)
}

func (h *HTTPHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID int `json:"projectId"`
		Credits   int `json:"credits"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(h.logger, w, err)
		return
	}

	if h.session.Snapshot().State != wallet.StateConnected {
		writeError(h.logger, w, wallet.ErrWalletNotConnected)
		return
	}

	quote, err := h.market.Quote(req.ProjectID, req.Credits)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}
	if err = marketplace.CheckBalance(h.session.Snapshot().Balance, quote.TotalCost); err != nil {
		writeError(h.logger, w, err)
		return
	}
	listing, err := h.market.Listing(req.ProjectID)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}

	var ngo any
	if listing.NGOWalletAddress != "" {
		ngo = listing.NGOWalletAddress
	}

	h.extendWriteDeadline(w)
	tx, err := h.session.PurchaseCredits(r.Context(), wallet.Purchase{
		ProjectName:    listing.ProjectName,
		Credits:        quote.Credits,
		PricePerCredit: quote.PricePerCredit,
		TotalCost:      quote.TotalCost,
		NGOAddress:     ngo,
	})
	if err != nil {
		writeError(h.logger, w, err)
		return
	}
	if tx.Status == entities.TxFailed {
		writeJSON(h.logger, w, http.StatusPaymentRequired, map[string]any{
			"success":     false,
			"error":       "payment failed",
			"quote":       quote,
			"transaction": tx,
		})
		return
	}
	h.market.RecordSale(req.ProjectID, req.Credits)

	writeJSON(h.logger, w, http.StatusCreated, map[string]any{"quote": quote, "transaction": tx})
}

func (h *HTTPHandler) Retire(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectName string `json:"projectName"`
		Credits     int    `json:"credits"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(h.logger, w, err)
		return
	}
	if strings.TrimSpace(req.ProjectName) == "" || req.Credits <= 0 {
		writeError(h.logger, w, fmt.Errorf("project name and positive credits are required: %w", errBadRequest))
		return
	}

	tx, err := h.session.RetireCredits(r.Context(), req.ProjectName, req.Credits)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusCreated, tx)
}

// ListTransactions returns the connected address's records, or the whole scope with ?scope=all.
func (h *HTTPHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var list []entities.Transaction
	switch {
	case q.Get("type") != "":
		list = h.journal.ListByType(entities.TransactionType(q.Get("type")))
	case q.Get("scope") == "all":
		list = h.journal.ListForScope()
	default:
		list = h.session.MyTransactions()
	}
	if list == nil {
		list = []entities.Transaction{}
	}

	writeJSON(h.logger, w, http.StatusOK, list)
}

func (h *HTTPHandler) RecentTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultRecentLimit)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}

	list := h.journal.Recent(limit)
	if list == nil {
		list = []entities.Transaction{}
	}
	writeJSON(h.logger, w, http.StatusOK, list)
}

func (h *HTTPHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.journal.Find(mux.Vars(r)["hash"])
	if err != nil {
		writeError(h.logger, w, err)
		return
	}
	writeJSON(h.logger, w, http.StatusOK, tx)
}

func (h *HTTPHandler) SyncTransactions(w http.ResponseWriter, r *http.Request) {
	h.journal.SyncFromServer(r.Context())
	writeJSON(h.logger, w, http.StatusOK, h.journal.ListForScope())
}

func (h *HTTPHandler) MirrorStatus(w http.ResponseWriter, _ *http.Request) {
	if h.sync == nil {
		writeJSON(h.logger, w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(h.logger, w, http.StatusOK, map[string]any{"enabled": true, "status": h.sync.Status()})
}
