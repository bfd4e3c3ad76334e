// Package connector implements source connectors that fetch raw postings
// from external job sources. Connectors own their per-call timeouts and a
// small capped retry budget; errors that outlive the budget surface as
// TransientIO so the pipeline degrades instead of failing the run.
package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jobmesh/jobmesh/core"
	"github.com/jobmesh/jobmesh/logging"
)

const (
	boardPageSize    = 50
	boardMaxPages    = 3 // max 150 results per query
	defaultTimeout   = 15 * time.Second
	defaultRetries   = 2
	retryBackoffBase = 500 * time.Millisecond
)

// BoardConnector fetches postings from a job-board search API that serves
// paged JSON results.
type BoardConnector struct {
	baseURL string
	appID   string
	appKey  string
	client  *http.Client
	retries int
	logger  logging.Logger
}

// BoardOptions configures a BoardConnector.
type BoardOptions struct {
	// HTTPClient overrides the default client. Its timeout bounds each
	// page request.
	HTTPClient *http.Client
	// Retries is the number of additional attempts per page after the
	// first fails with a transient error.
	Retries int
	Logger  logging.Logger
}

// NewBoardConnector constructs a connector for a board search API rooted at
// baseURL and authenticated with appID/appKey.
func NewBoardConnector(baseURL, appID, appKey string, optFns ...func(o *BoardOptions)) *BoardConnector {
	opts := BoardOptions{
		HTTPClient: &http.Client{Timeout: defaultTimeout},
		Retries:    defaultRetries,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &BoardConnector{
		baseURL: baseURL,
		appID:   appID,
		appKey:  appKey,
		client:  opts.HTTPClient,
		retries: opts.Retries,
		logger:  opts.Logger,
	}
}

// Kind identifies board-sourced postings.
func (c *BoardConnector) Kind() core.SourceKind { return core.SourceBoard }

// boardResponse mirrors the top-level board API JSON response.
type boardResponse struct {
	Results []boardResult `json:"results"`
	Count   int           `json:"count"`
}

// boardResult mirrors a single board listing.
type boardResult struct {
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Company      boardCompany  `json:"company"`
	Location     boardLocation `json:"location"`
	SalaryMin    float64       `json:"salary_min"`
	SalaryMax    float64       `json:"salary_max"`
	Currency     string        `json:"salary_currency"`
	RedirectURL  string        `json:"redirect_url"`
	Created      time.Time     `json:"created"`
	ContractTime string        `json:"contract_time"`
	Tags         []string      `json:"tags"`
}

type boardCompany struct {
	DisplayName string `json:"display_name"`
}

type boardLocation struct {
	DisplayName string `json:"display_name"`
}

// Fetch retrieves postings matching the query, iterating through pages until
// the board runs out of results or boardMaxPages is reached. Partial results
// from earlier pages are returned alongside a page error.
func (c *BoardConnector) Fetch(ctx context.Context, q core.SearchQuery) ([]core.RawPosting, error) {
	q = q.Normalized()
	var postings []core.RawPosting

	for page := 1; page <= boardMaxPages; page++ {
		batch, err := c.fetchPageWithRetry(ctx, q, page)
		if err != nil {
			return postings, core.TransientIO("connector.board.fetch", fmt.Errorf("page %d: %w", page, err))
		}
		postings = append(postings, batch...)
		if len(batch) < boardPageSize {
			break // last page
		}
	}
	return postings, nil
}

func (c *BoardConnector) fetchPageWithRetry(ctx context.Context, q core.SearchQuery, page int) ([]core.RawPosting, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			backoff := retryBackoffBase * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		batch, err := c.fetchPage(ctx, q, page)
		if err == nil {
			return batch, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
		c.logger.Warn("board page fetch failed, retrying", "page", page, "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

func (c *BoardConnector) fetchPage(ctx context.Context, q core.SearchQuery, page int) ([]core.RawPosting, error) {
	endpoint := fmt.Sprintf("%s/search/%d", c.baseURL, page)

	params := url.Values{}
	params.Set("app_id", c.appID)
	params.Set("app_key", c.appKey)
	params.Set("results_per_page", strconv.Itoa(boardPageSize))
	params.Set("what", q.Query)
	params.Set("where", q.Location)
	params.Set("sort_by", "date")
	if q.SalaryMin > 0 {
		params.Set("salary_min", strconv.Itoa(q.SalaryMin))
	}
	if q.SalaryMax > 0 {
		params.Set("salary_max", strconv.Itoa(q.SalaryMax))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
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
		return nil, fmt.Errorf("board returned %d: %s", resp.StatusCode, string(body))
	}

	var apiResp boardResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}

	postings := make([]core.RawPosting, 0, len(apiResp.Results))
	for _, r := range apiResp.Results {
		postings = append(postings, core.RawPosting{
			Title:       r.Title,
			Company:     r.Company.DisplayName,
			Location:    r.Location.DisplayName,
			Description: r.Description,
			URL:         r.RedirectURL,
			SalaryMin:   int(r.SalaryMin),
			SalaryMax:   int(r.SalaryMax),
			Currency:    r.Currency,
			JobType:     contractTimeToJobType(r.ContractTime),
			Skills:      r.Tags,
			PostedAt:    r.Created,
		})
	}
	return postings, nil
}

func contractTimeToJobType(contractTime string) core.JobType {
	switch contractTime {
	case "full_time":
		return core.JobTypeFullTime
	case "part_time":
		return core.JobTypePartTime
	case "contract":
		return core.JobTypeContract
	default:
		return ""
	}
}

var _ core.Connector = (*BoardConnector)(nil)
