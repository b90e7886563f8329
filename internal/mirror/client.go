// Package mirror replicates journal records to the remote transaction mirror and reads them back.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sand/blue-carbon-registry/backend/internal/entities"
)

var ErrRecordNotFound = errors.New("mirror record not found")

// Client talks to the mirror's /transactions REST resource.
type Client struct {
	logger  *slog.Logger
	baseURL string
	client  *http.Client
}

func NewClient(logger *slog.Logger, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	logger.Info("Mirror client initialized", "base_url", baseURL)

	return &Client{
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Create stores a record and returns it with the server-assigned id.
func (c *Client) Create(ctx context.Context, record entities.MirrorRecord) (entities.MirrorRecord, error) {
	var created entities.MirrorRecord
	if err := c.do(ctx, http.MethodPost, "/transactions", record, &created); err != nil {
		return entities.MirrorRecord{}, fmt.Errorf("failed to create mirror record: %w", err)
	}
	return created, nil
}

// FindByHash returns the first record with the given hash.
func (c *Client) FindByHash(ctx context.Context, hash string) (entities.MirrorRecord, error) {
	records, err := c.list(ctx, url.Values{"hash": {hash}})
	if err != nil {
		return entities.MirrorRecord{}, err
	}
	if len(records) == 0 {
		return entities.MirrorRecord{}, fmt.Errorf("hash %s: %w", hash, ErrRecordNotFound)
	}
	return records[0], nil
}

// PatchStatus updates the status of the record with the given mirror id.
func (c *Client) PatchStatus(ctx context.Context, id, status string) error {
	body := map[string]string{"status": status}
	if err := c.do(ctx, http.MethodPatch, "/transactions/"+url.PathEscape(id), body, nil); err != nil {
		return fmt.Errorf("failed to patch mirror record %s: %w", id, err)
	}
	return nil
}

// List returns the records replicated from userID's buckets, or every record when userID is empty.
func (c *Client) List(ctx context.Context, userID string) ([]entities.MirrorRecord, error) {
	var query url.Values
	if userID != "" {
		query = url.Values{"user_id": {userID}}
	}
	return c.list(ctx, query)
}

func (c *Client) list(ctx context.Context, query url.Values) ([]entities.MirrorRecord, error) {
	path := "/transactions"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var records []entities.MirrorRecord
	if err := c.do(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, fmt.Errorf("failed to list mirror records: %w", err)
	}
	return records, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrRecordNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("mirror returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
