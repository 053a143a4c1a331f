package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"genesis/internal/daemon"
)

// apiClient wraps the daemon's operator HTTP API. Every method decodes the
// daemon's JSON error envelope into a plain error so command output stays
// readable.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(base, token string) *apiClient {
	return &apiClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) do(method, path string, query url.Values, body, out any) error {
	endpoint := c.base + "/api" + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var envelope struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error != "" {
		return fmt.Errorf("%s (%s)", envelope.Error, resp.Status)
	}
	return fmt.Errorf("daemon returned %s", resp.Status)
}

func (c *apiClient) Health() (daemon.HealthResponse, error) {
	var resp daemon.HealthResponse
	err := c.do(http.MethodGet, "/health", nil, nil, &resp)
	return resp, err
}

func (c *apiClient) Status() (daemon.StatusResponse, error) {
	var resp daemon.StatusResponse
	err := c.do(http.MethodGet, "/status", nil, nil, &resp)
	return resp, err
}

func (c *apiClient) Items(statuses []string, mpID string, limit int) ([]daemon.ItemView, error) {
	query := url.Values{}
	for _, status := range statuses {
		query.Add("status", status)
	}
	if mpID != "" {
		query.Set("mp_id", mpID)
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprint(limit))
	}
	var resp daemon.ItemListResponse
	if err := c.do(http.MethodGet, "/items", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *apiClient) Item(id string) (daemon.ItemView, error) {
	var resp daemon.ItemResponse
	err := c.do(http.MethodGet, "/items/"+url.PathEscape(id), nil, nil, &resp)
	return resp.Item, err
}

func (c *apiClient) RetryItem(id string) error {
	return c.do(http.MethodPost, "/items/"+url.PathEscape(id)+"/retry", nil, nil, nil)
}

func (c *apiClient) AbandonItem(id string) (daemon.ActionResponse, error) {
	var resp daemon.ActionResponse
	err := c.do(http.MethodPost, "/items/"+url.PathEscape(id)+"/abandon", nil, nil, &resp)
	return resp, err
}

func (c *apiClient) Trigger(stage string, limit int) (daemon.ActionResponse, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", fmt.Sprint(limit))
	}
	var resp daemon.ActionResponse
	err := c.do(http.MethodPost, "/trigger/"+url.PathEscape(stage), query, nil, &resp)
	return resp, err
}

func (c *apiClient) Accounts(activeOnly bool) ([]daemon.AccountView, error) {
	query := url.Values{}
	if activeOnly {
		query.Set("active", "true")
	}
	var resp daemon.AccountListResponse
	if err := c.do(http.MethodGet, "/accounts", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

func (c *apiClient) SetAccountActive(id string, active bool) error {
	body := map[string]bool{"active": active}
	return c.do(http.MethodPut, "/accounts/"+url.PathEscape(id)+"/active", nil, body, nil)
}

func (c *apiClient) Stats(date string, limit int) ([]daemon.DailyStatsView, error) {
	query := url.Values{}
	if date != "" {
		query.Set("date", date)
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprint(limit))
	}
	var resp daemon.StatsResponse
	if err := c.do(http.MethodGet, "/stats", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Stats, nil
}

func (c *apiClient) ConfigList() ([]daemon.ConfigView, error) {
	var resp daemon.ConfigListResponse
	if err := c.do(http.MethodGet, "/config", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *apiClient) ConfigGet(key string) (daemon.ConfigView, error) {
	var resp daemon.ConfigResponse
	err := c.do(http.MethodGet, "/config/"+url.PathEscape(key), nil, nil, &resp)
	return resp.Entry, err
}

func (c *apiClient) ConfigSet(key, value string) (daemon.ConfigView, error) {
	body := map[string]string{"value": value}
	var resp daemon.ConfigResponse
	err := c.do(http.MethodPut, "/config/"+url.PathEscape(key), nil, body, &resp)
	return resp.Entry, err
}

func (c *apiClient) Tasks(statuses, types []string, limit int) ([]daemon.TaskView, error) {
	query := url.Values{}
	for _, status := range statuses {
		query.Add("status", status)
	}
	for _, typ := range types {
		query.Add("type", typ)
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprint(limit))
	}
	var resp daemon.TaskListResponse
	if err := c.do(http.MethodGet, "/tasks", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

func (c *apiClient) QueueClean(days int) (daemon.ActionResponse, error) {
	query := url.Values{}
	if days > 0 {
		query.Set("days", fmt.Sprint(days))
	}
	var resp daemon.ActionResponse
	err := c.do(http.MethodPost, "/queue/clean", query, nil, &resp)
	return resp, err
}
