package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// BaseURLFunc returns the relay's HTTP base URL, e.g. http://127.0.0.1:8470.
type BaseURLFunc func() string

// adminPath is the relay's admin API root.
const adminPath = "/_tether/v1"

// BaseURLFromEnv returns TETHER_URL or the local default.
func BaseURLFromEnv() string {
	if v := os.Getenv("TETHER_URL"); v != "" {
		return v
	}
	return "http://127.0.0.1:8470"
}

var httpClient = &http.Client{Timeout: 60 * time.Second}

// apiError carries a non-2xx admin API answer.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("relay answered %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// call sends an admin request and decodes a JSON answer into out when set.
// Non-2xx answers become *apiError, unless keep reports the status as
// carrying a usable body.
func call(ctx context.Context, base BaseURLFunc, method, path string, body any, out any, keep func(int) bool) (int, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(base(), "/")+adminPath+path, rd)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	ok := resp.StatusCode/100 == 2 || (keep != nil && keep(resp.StatusCode))
	if !ok {
		return resp.StatusCode, &apiError{Status: resp.StatusCode, Body: string(raw)}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

// printJSON writes v indented to w.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// decodedPayload renders a queued payload for display: JSON when it parses,
// otherwise text.
func decodedPayload(payload json.RawMessage) any {
	if len(payload) == 0 {
		return nil
	}
	var v any
	if json.Unmarshal(payload, &v) == nil {
		return v
	}
	return string(payload)
}
