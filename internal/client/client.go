// Package client is a thin HTTP client for the pilotd gateway.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/pilot/pkg/pilotapi"
)

// APIError is a non-2xx gateway reply.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pilotd returned %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Submit(ctx context.Context, req pilotapi.SubmitTaskRequest) (string, error) {
	var out pilotapi.SubmitTaskResponse
	if err := c.do(ctx, http.MethodPost, "/v1/tasks", req, &out); err != nil {
		return "", err
	}
	return out.TaskID, nil
}

func (c *Client) Result(ctx context.Context, id string) (pilotapi.TaskResultResponse, error) {
	var out pilotapi.TaskResultResponse
	err := c.do(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) Cancel(ctx context.Context, id string) (bool, error) {
	var out pilotapi.CancelTaskResponse
	err := c.do(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(id)+"/cancel", nil, &out)
	return out.Accepted, err
}

func (c *Client) Queue(ctx context.Context) (pilotapi.QueueStatusResponse, error) {
	var out pilotapi.QueueStatusResponse
	err := c.do(ctx, http.MethodGet, "/v1/queue", nil, &out)
	return out, err
}

func (c *Client) Capabilities(ctx context.Context) (pilotapi.CapabilitiesResponse, error) {
	var out pilotapi.CapabilitiesResponse
	err := c.do(ctx, http.MethodGet, "/v1/capabilities", nil, &out)
	return out, err
}

func (c *Client) CascadeStats(ctx context.Context) (pilotapi.CascadeStatsResponse, error) {
	var out pilotapi.CascadeStatsResponse
	err := c.do(ctx, http.MethodGet, "/v1/cascade/stats", nil, &out)
	return out, err
}

func (c *Client) SetEstop(ctx context.Context, active bool) (bool, error) {
	var out pilotapi.EstopResponse
	err := c.do(ctx, http.MethodPost, "/v1/estop", pilotapi.EstopRequest{Active: active}, &out)
	return out.Active, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
