// Package badges is the client of the badge and retirement analytics service.
package badges

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

var ErrBadgeNotFound = errors.New("badge not found")

// Filter narrows a retirement statistics query. TimeRange is week, month, year or empty for all time.
type Filter struct {
	UserID      string
	ProjectName string
	TimeRange   string
}

type Client struct {
	logger  *slog.Logger
	baseURL string
	client  *http.Client
}

func NewClient(logger *slog.Logger, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// RecordRetirement appends a badge for a completed retirement.
func (c *Client) RecordRetirement(ctx context.Context, badge entities.Badge) error {
	var created entities.Badge
	if err := c.do(ctx, http.MethodPost, "/badges", badge, &created); err != nil {
		return fmt.Errorf("failed to record badge: %w", err)
	}

	c.logger.InfoContext(ctx, "Retirement badge recorded",
		"badge_id", created.ID,
		"user_id", created.UserID,
		"tx_hash", created.TransactionHash)
	return nil
}

func (c *Client) UserBadges(ctx context.Context, userID string) ([]entities.Badge, error) {
	return c.badges(ctx, url.Values{"user_id": {userID}})
}

func (c *Client) ProjectBadges(ctx context.Context, projectName string) ([]entities.Badge, error) {
	return c.badges(ctx, url.Values{"project": {projectName}})
}

func (c *Client) BadgeByTransactionHash(ctx context.Context, hash string) (entities.Badge, error) {
	list, err := c.badges(ctx, url.Values{"tx_hash": {hash}})
	if err != nil {
		return entities.Badge{}, err
	}
	if len(list) == 0 {
		return entities.Badge{}, fmt.Errorf("tx %s: %w", hash, ErrBadgeNotFound)
	}
	return list[0], nil
}

// Verify reports whether a verified badge exists for the transaction. Lookup errors count as unverified.
func (c *Client) Verify(ctx context.Context, hash string) bool {
	var out struct {
		Verified bool `json:"verified"`
	}
	if err := c.do(ctx, http.MethodGet, "/badges/verify?"+url.Values{"tx_hash": {hash}}.Encode(), nil, &out); err != nil {
		c.logger.WarnContext(ctx, "Failed to verify badge", "tx_hash", hash, "error", err)
		return false
	}
	return out.Verified
}

func (c *Client) UserStats(ctx context.Context, userID string) (entities.BadgeStats, error) {
	var stats entities.BadgeStats
	if err := c.do(ctx, http.MethodGet, "/badges/stats?"+url.Values{"user_id": {userID}}.Encode(), nil, &stats); err != nil {
		return entities.BadgeStats{}, fmt.Errorf("failed to load badge stats: %w", err)
	}
	return stats, nil
}

func (c *Client) RetirementStats(ctx context.Context, f Filter) (entities.RetirementStats, error) {
	query := url.Values{}
	if f.UserID != "" {
		query.Set("user_id", f.UserID)
	}
	if f.ProjectName != "" {
		query.Set("project", f.ProjectName)
	}
	if f.TimeRange != "" {
		query.Set("time_range", f.TimeRange)
	}

	var stats entities.RetirementStats
	if err := c.do(ctx, http.MethodGet, "/stats?"+query.Encode(), nil, &stats); err != nil {
		return entities.RetirementStats{}, fmt.Errorf("failed to load retirement stats: %w", err)
	}
	return stats, nil
}

func (c *Client) badges(ctx context.Context, query url.Values) ([]entities.Badge, error) {
	var list []entities.Badge
	if err := c.do(ctx, http.MethodGet, "/badges?"+query.Encode(), nil, &list); err != nil {
		return nil, fmt.Errorf("failed to list badges: %w", err)
	}
	return list, nil
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
		return ErrBadgeNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("badge service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
