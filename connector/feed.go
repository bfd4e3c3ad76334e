package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jobmesh/jobmesh/core"
	"github.com/jobmesh/jobmesh/logging"
)

// FeedConnector fetches postings from a curated JSON feed, typically a
// company careers page export or an aggregator dump. Feeds are not
// query-addressable so filtering happens client-side after the fetch.
type FeedConnector struct {
	feedURL string
	client  *http.Client
	retries int
	logger  logging.Logger
}

// FeedOptions configures a FeedConnector.
type FeedOptions struct {
	HTTPClient *http.Client
	Retries    int
	Logger     logging.Logger
}

// NewFeedConnector constructs a connector reading the JSON feed at feedURL.
func NewFeedConnector(feedURL string, optFns ...func(o *FeedOptions)) *FeedConnector {
	opts := FeedOptions{
		HTTPClient: &http.Client{Timeout: defaultTimeout},
		Retries:    defaultRetries,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &FeedConnector{
		feedURL: feedURL,
		client:  opts.HTTPClient,
		retries: opts.Retries,
		logger:  opts.Logger,
	}
}

// Kind identifies feed-sourced postings.
func (c *FeedConnector) Kind() core.SourceKind { return core.SourceFeed }

// feedItem mirrors one entry of the feed document.
type feedItem struct {
	Title       string    `json:"title"`
	Company     string    `json:"company"`
	Location    string    `json:"location"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	SalaryMin   int       `json:"salary_min"`
	SalaryMax   int       `json:"salary_max"`
	Currency    string    `json:"currency"`
	JobType     string    `json:"job_type"`
	Skills      []string  `json:"skills"`
	PostedAt    time.Time `json:"posted_at"`
}

// Fetch downloads the feed and returns the entries that match the query.
func (c *FeedConnector) Fetch(ctx context.Context, q core.SearchQuery) ([]core.RawPosting, error) {
	q = q.Normalized()

	var items []feedItem
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			backoff := retryBackoffBase * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, core.TransientIO("connector.feed.fetch", ctx.Err())
			case <-time.After(backoff):
			}
			c.logger.Warn("feed fetch retrying", "url", c.feedURL, "attempt", attempt+1)
		}
		items, lastErr = c.download(ctx)
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr != nil {
		return nil, core.TransientIO("connector.feed.fetch", lastErr)
	}

	postings := make([]core.RawPosting, 0, len(items))
	for _, item := range items {
		if !feedItemMatches(item, q) {
			continue
		}
		postings = append(postings, core.RawPosting{
			Title:       item.Title,
			Company:     item.Company,
			Location:    item.Location,
			Description: item.Description,
			URL:         item.URL,
			SalaryMin:   item.SalaryMin,
			SalaryMax:   item.SalaryMax,
			Currency:    item.Currency,
			JobType:     core.JobType(item.JobType),
			Skills:      item.Skills,
			PostedAt:    item.PostedAt,
		})
	}
	return postings, nil
}

func (c *FeedConnector) download(ctx context.Context) ([]feedItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned %d", resp.StatusCode)
	}

	var items []feedItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}
	return items, nil
}

// feedItemMatches applies coarse text and structured filters before
// normalization. Text matching is a substring check on title and
// description; precise ranking happens later in the matching engine.
func feedItemMatches(item feedItem, q core.SearchQuery) bool {
	if q.Query != "" {
		needle := strings.ToLower(q.Query)
		haystack := strings.ToLower(item.Title + " " + item.Description)
		if !strings.Contains(haystack, needle) {
			return false
		}
	}
	if q.Location != "" && !strings.Contains(strings.ToLower(item.Location), q.Location) {
		return false
	}
	if q.JobType != "" && core.JobType(item.JobType) != q.JobType {
		return false
	}
	if q.SalaryMin > 0 && item.SalaryMax > 0 && item.SalaryMax < q.SalaryMin {
		return false
	}
	return true
}

var _ core.Connector = (*FeedConnector)(nil)
