package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/helgasoul/eva-sync/internal/store"
	"github.com/sethvargo/go-retry"
)

// Config holds the remote store connection settings.
type Config struct {
	// BaseURL is the project root, e.g. https://project.supabase.co.
	BaseURL string
	// APIKey is sent as both the apikey header and the bearer token.
	APIKey string
	// Attempts bounds per-request retries on transient failures.
	Attempts int
	// Timeout applies per HTTP request.
	Timeout time.Duration
}

// Client talks PostgREST: one resource per collection under /rest/v1,
// filters as query parameters (user_id=eq.X, updated_at=gt.T).
type Client struct {
	cfg      Config
	attempts atomic.Int64
	http     *http.Client
}

// NewClient creates a remote store client.
func NewClient(cfg Config) *Client {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cl := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
	cl.attempts.Store(int64(cfg.Attempts))
	return cl
}

// SetAttempts updates the per-request retry bound at runtime. Values below
// one are ignored.
func (cl *Client) SetAttempts(n int) {
	if n <= 0 {
		return
	}
	cl.attempts.Store(int64(n))
}

// Select implements Store.
func (cl *Client) Select(ctx context.Context, c store.Collection, userID string, updatedAfter time.Time) ([]store.Record, error) {
	q := url.Values{}
	q.Set("user_id", "eq."+userID)
	q.Set("order", "updated_at.asc")
	if !updatedAfter.IsZero() {
		q.Set("updated_at", "gt."+updatedAfter.UTC().Format(time.RFC3339Nano))
	}

	body, err := cl.do(ctx, http.MethodGet, cl.resource(c)+"?"+q.Encode(), nil, "")
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", c, err)
	}

	var docs []map[string]any
	if err := json.Unmarshal(body, &docs); err != nil {
		return nil, fmt.Errorf("select %s: decode: %w", c, err)
	}
	recs := make([]store.Record, 0, len(docs))
	for _, doc := range docs {
		rec, err := store.FromDocument(doc)
		if err != nil {
			return nil, fmt.Errorf("select %s: %w", c, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Insert implements Store. Duplicates merge into the existing row, so a
// replayed insert (push delivered but not yet dequeued) is not a conflict.
func (cl *Client) Insert(ctx context.Context, c store.Collection, rec store.Record) error {
	payload, err := json.Marshal(rec.Document())
	if err != nil {
		return fmt.Errorf("insert %s/%s: %w", c, rec.ID, err)
	}
	if _, err := cl.do(ctx, http.MethodPost, cl.resource(c), payload,
		"return=minimal,resolution=merge-duplicates"); err != nil {
		return fmt.Errorf("insert %s/%s: %w", c, rec.ID, err)
	}
	return nil
}

// Update implements Store.
func (cl *Client) Update(ctx context.Context, c store.Collection, rec store.Record) error {
	payload, err := json.Marshal(rec.Document())
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", c, rec.ID, err)
	}
	q := url.Values{}
	q.Set("id", "eq."+rec.ID)
	q.Set("user_id", "eq."+rec.UserID)
	if _, err := cl.do(ctx, http.MethodPatch, cl.resource(c)+"?"+q.Encode(), payload, "return=minimal"); err != nil {
		return fmt.Errorf("update %s/%s: %w", c, rec.ID, err)
	}
	return nil
}

// Delete implements Store.
func (cl *Client) Delete(ctx context.Context, c store.Collection, id, userID string) error {
	q := url.Values{}
	q.Set("id", "eq."+id)
	q.Set("user_id", "eq."+userID)
	if _, err := cl.do(ctx, http.MethodDelete, cl.resource(c)+"?"+q.Encode(), nil, ""); err != nil {
		return fmt.Errorf("delete %s/%s: %w", c, id, err)
	}
	return nil
}

func (cl *Client) resource(c store.Collection) string {
	return cl.cfg.BaseURL + "/rest/v1/" + string(c)
}

// do issues one HTTP request with bounded retries on network errors and
// 429/5xx responses. Non-transient HTTP errors fail immediately.
func (cl *Client) do(ctx context.Context, method, rawURL string, payload []byte, prefer string) ([]byte, error) {
	backoff := retry.WithMaxRetries(uint64(cl.attempts.Load()-1),
		retry.NewExponential(500*time.Millisecond))

	var body []byte
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return err
		}
		req.Header.Set("apikey", cl.cfg.APIKey)
		req.Header.Set("Authorization", "Bearer "+cl.cfg.APIKey)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if prefer != "" {
			req.Header.Set("Prefer", prefer)
		}

		resp, err := cl.http.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			serr := &StatusError{Code: resp.StatusCode, Body: string(data)}
			if serr.Transient() {
				return retry.RetryableError(serr)
			}
			return serr
		}
		body = data
		return nil
	})
	return body, err
}
