package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPClient reads a JSON catalog service:
//
//	GET {base}/search?q=...&limit=N -> {"data":[Track...]}
//	GET {base}/tracks/{id}          -> Track
type HTTPClient struct {
	base string
	hc   *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPClient{base: strings.TrimRight(baseURL, "/"), hc: &http.Client{Timeout: timeout}}
}

func (c *HTTPClient) Search(ctx context.Context, query string, limit int) ([]Track, error) {
	q := url.Values{"q": {query}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Data []Track `json:"data"`
	}
	if err := c.get(ctx, "/search?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *HTTPClient) Lookup(ctx context.Context, id string) (Track, error) {
	var t Track
	if err := c.get(ctx, "/tracks/"+url.PathEscape(id), &t); err != nil {
		return Track{}, err
	}
	if t.ID == "" {
		return Track{}, ErrTrackNotFound
	}
	return t, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrTrackNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("catalog: unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(into)
}
