package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/harunnryd/chorus/internal/api"
	"github.com/harunnryd/chorus/internal/quota"
	"github.com/harunnryd/chorus/internal/store"
	"github.com/harunnryd/chorus/internal/stream"
)

// apiClient talks to a running chorus service.
type apiClient struct {
	baseURL string
	http    *http.Client
}

// apiError is a non-2xx answer from the service.
type apiError struct {
	Status      int
	Code        string
	Message     string
	LimitStatus *quota.Status
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s (%d)", e.Code, e.Status)
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
}

// Chat posts req and hands every decoded stream event to fn, in order.
func (c *apiClient) Chat(ctx context.Context, req api.ChatRequest, fn func(stream.Event) error) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	return stream.Decode(resp.Body, fn)
}

func (c *apiClient) Limit(ctx context.Context, sessionID, principal string) (quota.Status, error) {
	endpoint := fmt.Sprintf("%s/api/v1/sessions/%s/limit", c.baseURL, url.PathEscape(sessionID))
	if principal != "" {
		endpoint += "?principal=" + url.QueryEscape(principal)
	}

	var status quota.Status
	err := c.getJSON(ctx, endpoint, &status)
	return status, err
}

func (c *apiClient) Sessions(ctx context.Context) ([]store.SessionMeta, error) {
	var sessions []store.SessionMeta
	err := c.getJSON(ctx, c.baseURL+"/api/v1/sessions", &sessions)
	return sessions, err
}

func (c *apiClient) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &apiError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Code        string        `json:"code"`
		Error       string        `json:"error"`
		LimitStatus *quota.Status `json:"limitStatus"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Code != "" {
			apiErr.Code = body.Code
		}
		apiErr.Message = body.Error
		apiErr.LimitStatus = body.LimitStatus
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
