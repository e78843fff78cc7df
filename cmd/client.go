// file: cmd/client.go
// version: 1.0.0
// guid: 5b0d8e62-a417-4c9f-83e6-d1f2a7c05b94

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jdfalk/paced-downloader/internal/models"
	"github.com/jdfalk/paced-downloader/internal/queue"
	"github.com/jdfalk/paced-downloader/internal/server"
)

// apiClient talks to a running serve process.
type apiClient struct {
	base     string
	user     string
	password string
	http     *http.Client
}

func newAPIClient(addr, user, password string) *apiClient {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &apiClient{base: base, user: user, password: password, http: &http.Client{Timeout: 30 * time.Second}}
}

// apiError is a non-2xx answer from the daemon.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e server.ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *apiClient) Add(ctx context.Context, req server.AddItemRequest) (models.DownloadItem, error) {
	var resp server.CreateResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/items", req, &resp)
	return resp.Data, err
}

func (c *apiClient) List(ctx context.Context, status, match string) ([]models.DownloadItem, error) {
	q := url.Values{}
	q.Set("limit", "1000")
	if status != "" {
		q.Set("status", status)
	}
	if match != "" {
		q.Set("match", match)
	}
	var resp server.ListResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/items?"+q.Encode(), nil, &resp)
	return resp.Items, err
}

func (c *apiClient) Remove(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/items/"+url.PathEscape(id), nil, nil)
}

func (c *apiClient) Pause(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/items/"+url.PathEscape(id)+"/pause", nil, nil)
}

func (c *apiClient) Resume(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/items/"+url.PathEscape(id)+"/resume", nil, nil)
}

func (c *apiClient) Stats(ctx context.Context) (queue.Summary, error) {
	var s queue.Summary
	err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &s)
	return s, err
}

// clientFromConfig targets the configured listen address. The password
// comes from PACED_API_PASSWORD since only its hash is stored.
func clientFromConfig(addr string) *apiClient {
	if addr == "" {
		addr = appCfg.Listen
	}
	return newAPIClient(addr, appCfg.AuthUser, os.Getenv("PACED_API_PASSWORD"))
}
