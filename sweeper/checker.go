package sweeper

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jobmesh/jobmesh/core"
)

// OriginChecker verifies that a posting still resolves at its origin URL.
// A nil error means the posting is alive; ExternalExpired means the origin
// reports it gone; TransientIO covers network trouble where no verdict is
// possible.
type OriginChecker interface {
	Check(ctx context.Context, originURL string) error
}

// HTTPChecker performs a lightweight HEAD existence check.
type HTTPChecker struct {
	client *http.Client
}

// NewHTTPChecker builds a checker with the given client; nil uses
// http.DefaultClient. Per-check timeouts come from the caller's context.
func NewHTTPChecker(client *http.Client) *HTTPChecker {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPChecker{client: client}
}

// Check implements OriginChecker.
func (c *HTTPChecker) Check(ctx context.Context, originURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, originURL, nil)
	if err != nil {
		return core.ExternalExpired("sweeper.check", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return core.TransientIO("sweeper.check", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return core.ExternalExpired("sweeper.check", fmt.Errorf("origin returned %d", resp.StatusCode))
	default:
		// Rate limits, auth walls and 5xx responses carry no verdict on
		// whether the posting exists.
		return core.TransientIO("sweeper.check", fmt.Errorf("origin returned %d", resp.StatusCode))
	}
}

var _ OriginChecker = (*HTTPChecker)(nil)
