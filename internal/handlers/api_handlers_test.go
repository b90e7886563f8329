package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sand/blue-carbon-registry/backend/internal/chain"
	"github.com/sand/blue-carbon-registry/backend/internal/entities"
	"github.com/sand/blue-carbon-registry/backend/internal/journal"
	"github.com/sand/blue-carbon-registry/backend/internal/marketplace"
	"github.com/sand/blue-carbon-registry/backend/internal/projects"
	"github.com/sand/blue-carbon-registry/backend/internal/storage"
	"github.com/sand/blue-carbon-registry/backend/internal/wallet"
)

const buyer = "0x1111111111111111111111111111111111111111"

type fixedBalance struct{}

func (fixedBalance) BalanceOrFallback(context.Context, string) decimal.Decimal {
	return decimal.NewFromInt(10)
}

type noBadges struct{}

func (noBadges) RecordRetirement(context.Context, entities.Badge) error { return nil }

type stubPool struct{}

func (stubPool) PoolInfo(context.Context) entities.PoolInfo { return entities.PoolInfo{} }

func (stubPool) TokensOut(_ context.Context, nativeIn decimal.Decimal) decimal.Decimal {
	return nativeIn.Mul(decimal.NewFromInt(100))
}

func (stubPool) NativeIn(_ context.Context, tokens decimal.Decimal) decimal.Decimal {
	return tokens.Div(decimal.NewFromInt(100))
}

func (stubPool) CarbonTokenBalance(context.Context, string) decimal.Decimal {
	return decimal.NewFromInt(42)
}

// signingWallet signs every transfer with the same hash.
type signingWallet struct {
	address string
}

func (s signingWallet) Connected() bool { return true }

func (s signingWallet) Account() any { return s.address }

func (s signingWallet) SignAndSubmitTransaction(context.Context, entities.TransferPayload) (entities.SubmitResult, error) {
	return entities.SubmitResult{Hash: "0x" + strings.Repeat("ab", 32)}, nil
}

type confirmFunc func(ctx context.Context, hash string) error

func (f confirmFunc) WaitForTransaction(ctx context.Context, hash string) error { return f(ctx, hash) }

type apiConfig struct {
	adapter        wallet.Adapter
	journal        []journal.Option
	paymentTimeout time.Duration
}

type apiFixture struct {
	router  *mux.Router
	store   *projects.Store
	session *wallet.Session
	journal *journal.Journal
}

func newAPI(t *testing.T, opts ...func(*apiConfig)) apiFixture {
	t.Helper()
	logger := slog.Default()

	cfg := apiConfig{journal: []journal.Option{journal.WithSimulatedDelay(time.Millisecond)}}
	for _, opt := range opts {
		opt(&cfg)
	}

	store := projects.New(logger, storage.NewMemoryStore(), projects.WithDemoSeed(true))
	require.NoError(t, store.Init())

	j := journal.New(logger, storage.NewMemoryStore(), cfg.journal...)
	require.NoError(t, j.Init())

	session := wallet.New(logger, j, fixedBalance{}, noBadges{}, wallet.Config{
		RegistryAddress:   "blue_carbon_registry",
		AddressRetryDelay: time.Millisecond,
	})
	t.Cleanup(func() {
		_ = session.Close()
		_ = j.Close()
		_ = store.Close()
	})

	market := marketplace.New(logger, store, marketplace.WithPricer(func(int) decimal.Decimal {
		return decimal.NewFromInt(15)
	}))
	adapters := func(addr string) (wallet.Adapter, error) {
		if cfg.adapter != nil {
			return cfg.adapter, nil
		}
		if addr == "" {
			addr = buyer
		}
		return chain.NewWatchWallet(addr), nil
	}

	router := mux.NewRouter()
	NewHTTPHandler(logger, store, market, stubPool{}, j, session, adapters, nil).
		WithPaymentTimeout(cfg.paymentTimeout).
		RegisterRoutes(router)

	return apiFixture{router: router, store: store, session: session, journal: j}
}

func (f apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHTTPHandler_Projects(t *testing.T) {
	f := newAPI(t)

	rec := f.do(t, http.MethodGet, "/projects", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]entities.Project](t, rec), 4)

	rec = f.do(t, http.MethodGet, "/projects?status=pending", nil)
	pending := decode[[]entities.Project](t, rec)
	require.Len(t, pending, 1)
	assert.Equal(t, "Salt Marsh Restoration", pending[0].Name)

	rec = f.do(t, http.MethodGet, "/projects/99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/projects", map[string]any{
		"name":         "Tidal Flat Recovery",
		"organization": "Coastal Trust",
		"hectares":     40,
		"methodology":  "VCS",
		"submittedBy":  "ngo@coastal.org",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[entities.Project](t, rec)
	assert.Equal(t, entities.ProjectPending, created.Status)
	assert.Equal(t, 5, created.ID)

	rec = f.do(t, http.MethodPost, "/projects", map[string]any{"organization": "No Name"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPHandler_ProjectDecisions(t *testing.T) {
	f := newAPI(t)

	rec := f.do(t, http.MethodPost, "/projects/3/reject", map[string]any{"verifiedBy": "v@registry.org"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/projects/3/approve", map[string]any{"verifiedBy": "v@registry.org"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, entities.ProjectApproved, decode[entities.Project](t, rec).Status)

	rec = f.do(t, http.MethodPost, "/projects/3/approve", map[string]any{"verifiedBy": "v@registry.org"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/projects/stats", nil)
	stats := decode[entities.ProjectStatistics](t, rec)
	assert.Equal(t, 3, stats.ApprovedProjects)
	assert.Equal(t, 0, stats.PendingProjects)
}

func TestHTTPHandler_Quote(t *testing.T) {
	f := newAPI(t)

	rec := f.do(t, http.MethodGet, "/marketplace/quote?project_id=1&credits=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	quote := decode[entities.Quote](t, rec)
	assert.Equal(t, "10", quote.TotalCost.String())
	assert.Equal(t, "30", quote.TotalCostUSD.String())

	rec = f.do(t, http.MethodGet, "/marketplace/quote?project_id=1&credits=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/marketplace/quote?project_id=3&credits=1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/marketplace/quote?project_id=2&credits=601", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/marketplace/quote?project_id=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPHandler_Pool(t *testing.T) {
	f := newAPI(t)

	rec := f.do(t, http.MethodGet, "/marketplace/pool?native_in=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "200", body["tokensOut"])
	assert.NotContains(t, body, "carbonTokenBalance")

	rec = f.do(t, http.MethodGet, "/marketplace/pool?tokens=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPHandler_PurchaseFlow(t *testing.T) {
	f := newAPI(t)

	rec := f.do(t, http.MethodPost, "/session/purchase", map[string]any{"projectId": 1, "credits": 1})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/session/user", map[string]any{"userId": "alice"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/session/connect", map[string]any{"address": buyer})
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[wallet.Snapshot](t, rec)
	assert.Equal(t, wallet.StateConnected, snap.State)
	assert.Equal(t, buyer, snap.Address)
	assert.Equal(t, journal.Scope{UserID: "alice", Address: buyer}, f.journal.Scope())

	// 3 credits at 5 each exceeds the balance of 10
	rec = f.do(t, http.MethodPost, "/session/purchase", map[string]any{"projectId": 1, "credits": 3})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/session/purchase", map[string]any{"projectId": 1, "credits": 1})
	require.Equal(t, http.StatusCreated, rec.Code)

	var purchase struct {
		Quote       entities.Quote       `json:"quote"`
		Transaction entities.Transaction `json:"transaction"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &purchase))
	assert.Equal(t, entities.TxCreditsPurchased, purchase.Transaction.Type)
	assert.True(t, purchase.Transaction.IsSimulated)
	assert.Equal(t, entities.TxSuccess, purchase.Transaction.Status)

	rec = f.do(t, http.MethodGet, "/marketplace/listings", nil)
	for _, l := range decode[[]entities.CreditListing](t, rec) {
		if l.ProjectID == 1 {
			assert.Equal(t, 1199, l.CreditsAvailable)
			assert.Equal(t, 1, l.CreditsSold)
		}
	}

	rec = f.do(t, http.MethodGet, "/transactions", nil)
	require.Len(t, decode[[]entities.Transaction](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/transactions/"+purchase.Transaction.Hash, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/transactions/0xmissing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/marketplace/pool", nil)
	assert.Equal(t, "42", decode[map[string]any](t, rec)["carbonTokenBalance"])

	// another user on the same wallet cannot read alice's record
	rec = f.do(t, http.MethodPost, "/session/user", map[string]any{"userId": "bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/transactions/"+purchase.Transaction.Hash, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTTPHandler_FailedPaymentSellsNothing(t *testing.T) {
	reverted := confirmFunc(func(context.Context, string) error { return errors.New("execution reverted") })
	f := newAPI(t, func(c *apiConfig) {
		c.adapter = signingWallet{address: buyer}
		c.journal = append(c.journal, journal.WithConfirmer(reverted))
	})

	rec := f.do(t, http.MethodPost, "/session/connect", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/session/purchase", map[string]any{"projectId": 1, "credits": 1})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	var body struct {
		Success     bool                 `json:"success"`
		Transaction entities.Transaction `json:"transaction"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, entities.TxFailed, body.Transaction.Status)
	assert.True(t, body.Transaction.IsRealTransaction)

	rec = f.do(t, http.MethodGet, "/marketplace/listings", nil)
	for _, l := range decode[[]entities.CreditListing](t, rec) {
		if l.ProjectID == 1 {
			assert.Equal(t, 0, l.CreditsSold)
		}
	}
	assert.Equal(t, "10", f.session.Balance().String())
}

func TestHTTPHandler_PurchaseOutlivesWriteTimeout(t *testing.T) {
	f := newAPI(t, func(c *apiConfig) {
		c.journal = append(c.journal, journal.WithSimulatedDelay(300*time.Millisecond))
		c.paymentTimeout = 5 * time.Second
	})

	srv := httptest.NewUnstartedServer(f.router)
	srv.Config.WriteTimeout = 100 * time.Millisecond
	srv.Start()
	t.Cleanup(srv.Close)

	post := func(path, body string) *http.Response {
		t.Helper()
		resp, err := srv.Client().Post(srv.URL+path, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	require.Equal(t, http.StatusOK, post("/session/connect", `{}`).StatusCode)

	resp := post("/session/purchase", `{"projectId": 1, "credits": 1}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var purchase struct {
		Transaction entities.Transaction `json:"transaction"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&purchase))
	assert.Equal(t, entities.TxSuccess, purchase.Transaction.Status)
}

func TestHTTPHandler_RetireAndDisconnect(t *testing.T) {
	f := newAPI(t)

	rec := f.do(t, http.MethodPost, "/session/connect", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/session/retire", map[string]any{"projectName": "", "credits": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/session/retire", map[string]any{"projectName": "Seagrass Meadow Protection", "credits": 5})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, entities.TxCreditsRetired, decode[entities.Transaction](t, rec).Type)

	rec = f.do(t, http.MethodGet, "/transactions?type=credits_retired", nil)
	assert.Len(t, decode[[]entities.Transaction](t, rec), 1)

	rec = f.do(t, http.MethodPost, "/session/disconnect", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, wallet.StateDisconnected, decode[wallet.Snapshot](t, rec).State)

	rec = f.do(t, http.MethodPost, "/session/spend", map[string]any{"description": "x", "amount": "1", "to": buyer})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHTTPHandler_MirrorStatusDisabled(t *testing.T) {
	f := newAPI(t)

	rec := f.do(t, http.MethodGet, "/mirror/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode[map[string]any](t, rec)["enabled"])
}
