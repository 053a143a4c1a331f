package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"genesis/internal/config"
	"genesis/internal/services"
)

const sourceUserAgent = "genesis/1.0"

// SourceClient talks to the upstream WeWe-RSS aggregator. The aggregator
// exposes JSON endpoints for subscribed feeds and their article listings.
type SourceClient struct {
	baseURL string
	client  *http.Client
}

// NewSourceClient builds a client from the source config section.
func NewSourceClient(cfg config.Source) *SourceClient {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SourceClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Feed is one subscribed account as the aggregator reports it.
type Feed struct {
	ID       string `json:"id"`
	MPName   string `json:"mp_name"`
	Nickname string `json:"mp_nickname"`
	Avatar   string `json:"avatar_url"`
	Intro    string `json:"intro"`
}

// FeedArticle is one article entry in a feed listing.
type FeedArticle struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Link        string `json:"link"`
	URL         string `json:"url"`
	PublishTime int64  `json:"publish_time"`
	MPID        string `json:"mp_id"`
	MPName      string `json:"mp_name"`
}

// ArticleURL returns whichever URL field the aggregator populated.
func (a FeedArticle) ArticleURL() string {
	if a.Link != "" {
		return a.Link
	}
	return a.URL
}

// PublishTimeSeconds normalizes millisecond timestamps to seconds.
func (a FeedArticle) PublishTimeSeconds() int64 {
	if a.PublishTime > 1e10 {
		return a.PublishTime / 1000
	}
	return a.PublishTime
}

// ListFeeds fetches the subscribed feeds.
func (c *SourceClient) ListFeeds(ctx context.Context) ([]Feed, error) {
	var feeds []Feed
	if err := c.getJSON(ctx, "/feeds.json", nil, &feeds); err != nil {
		return nil, err
	}
	return feeds, nil
}

// FeedArticles fetches the most recent articles of one feed.
func (c *SourceClient) FeedArticles(ctx context.Context, feedID string, limit int) ([]FeedArticle, error) {
	if feedID == "" {
		return nil, services.Wrap(services.ErrConfiguration, "discovery", "feed articles", "feed id is empty", nil)
	}
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var articles []FeedArticle
	path := "/feeds/" + url.PathEscape(feedID) + "/articles.json"
	if err := c.getJSON(ctx, path, params, &articles); err != nil {
		return nil, err
	}
	return articles, nil
}

// HealthCheck probes the aggregator root.
func (c *SourceClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", sourceUserAgent)
	resp, err := c.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "discovery", "health check", "aggregator unreachable", err)
	}
	defer drainBody(resp)
	if resp.StatusCode >= 400 {
		return services.Wrap(services.ErrTransient, "discovery", "health check",
			fmt.Sprintf("aggregator returned %d", resp.StatusCode), nil)
	}
	return nil
}

func (c *SourceClient) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", sourceUserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "discovery", "fetch", endpoint, err)
	}
	defer drainBody(resp)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "discovery", "fetch", endpoint, nil)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return services.Wrap(services.ErrTransient, "discovery", "fetch",
			fmt.Sprintf("%s returned %d", endpoint, resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return services.Wrap(services.ErrPermanent, "discovery", "fetch",
			fmt.Sprintf("%s returned %d", endpoint, resp.StatusCode), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrTransient, "discovery", "decode", endpoint, err)
	}
	return nil
}

func drainBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
