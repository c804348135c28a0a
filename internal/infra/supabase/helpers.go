package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// ============================================================
// HTTP helpers for POST, PATCH
// ============================================================

func (c *Client) doPost(ctx context.Context, table string, data map[string]any) ([]byte, error) {
	jsonBody, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, http.MethodPost, table, bytes.NewReader(jsonBody), "return=representation")
}

// doPatch updates the rows matched by path and returns their new representation.
func (c *Client) doPatch(ctx context.Context, path string, data map[string]any) ([]byte, error) {
	jsonBody, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, http.MethodPatch, path, bytes.NewReader(jsonBody), "return=representation")
}

// ============================================================
// Column parsing
// ============================================================

// parseDate accepts timestamps (RFC3339) and plain dates (YYYY-MM-DD).
func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, _ = time.Parse("2006-01-02", s)
	}
	return t
}

// parseOptionalDate returns nil for empty or unparseable values.
func parseOptionalDate(s string) *time.Time {
	t := parseDate(s)
	if t.IsZero() {
		return nil
	}
	return &t
}

func isEmptyBody(body []byte) bool {
	return body == nil || string(bytes.TrimSpace(body)) == "[]"
}
