package mirror

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/sand/blue-carbon-registry/backend/internal/entities"
)

// fakeMirror is an in-memory /transactions resource.
type fakeMirror struct {
	mu      sync.Mutex
	records []entities.MirrorRecord
}

func (f *fakeMirror) handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/transactions", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch req.Method {
		case http.MethodPost:
			var rec entities.MirrorRecord
			if err := json.NewDecoder(req.Body).Decode(&rec); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			rec.ID = strconv.Itoa(len(f.records) + 1)
			f.records = append(f.records, rec)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(rec)
		case http.MethodGet:
			out := []entities.MirrorRecord{}
			hash, user := req.URL.Query().Get("hash"), req.URL.Query().Get("user_id")
			for _, rec := range f.records {
				if (hash == "" || rec.Hash == hash) && (user == "" || rec.UserID == user) {
					out = append(out, rec)
				}
			}
			_ = json.NewEncoder(w).Encode(out)
		}
	}).Methods(http.MethodPost, http.MethodGet)

	r.HandleFunc("/transactions/{id}", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		var body struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for i := range f.records {
			if f.records[i].ID == mux.Vars(req)["id"] {
				f.records[i].Status = body.Status
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		http.NotFound(w, req)
	}).Methods(http.MethodPatch)

	return r
}

func newTestClient(t *testing.T) (*Client, *fakeMirror) {
	t.Helper()

	mirror := &fakeMirror{}
	srv := httptest.NewServer(mirror.handler())
	t.Cleanup(srv.Close)

	return NewClient(slog.Default(), srv.URL+"/", time.Second), mirror
}

func TestClient_CreateFindPatch(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	created, err := client.Create(ctx, entities.MirrorRecord{Hash: "0xabc", Status: "pending", Amount: "1.5"})
	require.NoError(t, err)
	require.Equal(t, "1", created.ID)

	_, err = client.Create(ctx, entities.MirrorRecord{UserID: "bob", Hash: "0xdef", Status: "success"})
	require.NoError(t, err)

	found, err := client.FindByHash(ctx, "0xabc")
	require.NoError(t, err)
	require.Equal(t, "1.5", found.Amount)

	require.NoError(t, client.PatchStatus(ctx, found.ID, "success"))

	found, err = client.FindByHash(ctx, "0xabc")
	require.NoError(t, err)
	require.Equal(t, "success", found.Status)

	all, err := client.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	bobs, err := client.List(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bobs, 1)
	require.Equal(t, "0xdef", bobs[0].Hash)
}

func TestClient_NotFound(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	_, err := client.FindByHash(ctx, "0xmissing")
	require.ErrorIs(t, err, ErrRecordNotFound)

	err = client.PatchStatus(ctx, "42", "success")
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(slog.Default(), srv.URL, time.Second)
	_, err := client.List(context.Background(), "")
	require.ErrorContains(t, err, "status 500")
}
