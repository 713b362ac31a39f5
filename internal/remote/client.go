package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Store is the contract the sync coordinator requires of the backend.
//
// Insert carries upsert semantics keyed by the record's client-generated
// id, which makes replays after a lost acknowledgment idempotent.
type Store interface {
	Insert(ctx context.Context, collection string, record json.RawMessage) error
	Update(ctx context.Context, collection, id string, record json.RawMessage) error
	Delete(ctx context.Context, collection, id string) error
	Select(ctx context.Context, collection string, since time.Time) ([]json.RawMessage, error)
	Invoke(ctx context.Context, fn string, body json.RawMessage) (json.RawMessage, error)
}

// TokenFunc returns a bearer token for the current session.
type TokenFunc func(ctx context.Context) (string, error)

// Client is the HTTP implementation of Store.
type Client struct {
	baseURL string
	http    *http.Client
	token   TokenFunc
}

// NewClient creates a remote store client.
//
// If httpClient is nil, a client with a 30s timeout is used. token may be
// nil for unauthenticated test servers.
func NewClient(baseURL string, token TokenFunc, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		token:   token,
	}
}

// Insert upserts a record into the collection.
func (c *Client) Insert(ctx context.Context, collection string, record json.RawMessage) error {
	path := "/rest/" + url.PathEscape(collection)
	_, err := c.do(ctx, "insert", collection, http.MethodPost, path, record, map[string]string{
		"Prefer": "resolution=merge-duplicates",
	})
	return err
}

// Update patches an existing record by id.
func (c *Client) Update(ctx context.Context, collection, id string, record json.RawMessage) error {
	path := "/rest/" + url.PathEscape(collection) + "/" + url.PathEscape(id)
	_, err := c.do(ctx, "update", collection, http.MethodPatch, path, record, nil)
	return err
}

// Delete removes a record by id.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	path := "/rest/" + url.PathEscape(collection) + "/" + url.PathEscape(id)
	_, err := c.do(ctx, "delete", collection, http.MethodDelete, path, nil, nil)
	return err
}

// Select fetches records from the collection changed since the given time.
// A zero since fetches everything.
func (c *Client) Select(ctx context.Context, collection string, since time.Time) ([]json.RawMessage, error) {
	path := "/rest/" + url.PathEscape(collection)
	if !since.IsZero() {
		path += "?updated_since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}
	body, err := c.do(ctx, "select", collection, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}

	var records []json.RawMessage
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, &SyncError{
			Op:         "select",
			Collection: collection,
			Message:    "malformed response body",
			Err:        err,
		}
	}
	return records, nil
}

// Invoke calls a named serverless function with a JSON body.
func (c *Client) Invoke(ctx context.Context, fn string, body json.RawMessage) (json.RawMessage, error) {
	path := "/functions/" + url.PathEscape(fn)
	return c.do(ctx, "invoke", fn, http.MethodPost, path, body, nil)
}

func (c *Client) do(ctx context.Context, op, target, method, path string, body json.RawMessage, headers map[string]string) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &SyncError{Op: op, Collection: target, Message: "bad request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if c.token != nil {
		tok, err := c.token(ctx)
		if err != nil {
			return nil, &SyncError{Op: op, Collection: target, Message: "token unavailable", Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport failures (unreachable, DNS, timeout) are retryable.
		return nil, &SyncError{
			Op:         op,
			Collection: target,
			Retryable:  true,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &SyncError{
			Op:         op,
			Collection: target,
			Retryable:  true,
			Message:    "reading response",
			Err:        err,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &SyncError{
			Op:         op,
			Collection: target,
			StatusCode: resp.StatusCode,
			Retryable:  classifyStatus(resp.StatusCode),
			Message:    errorMessage(respBody, resp.StatusCode),
		}
	}

	return respBody, nil
}

// errorMessage pulls a human-readable message out of an error response.
func errorMessage(body []byte, status int) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return fmt.Sprintf("http %d", status)
}
