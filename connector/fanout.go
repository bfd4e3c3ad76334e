package connector

import (
	"context"
	"sync"
	"time"

	"github.com/jobmesh/jobmesh/core"
	"github.com/jobmesh/jobmesh/logging"
)

// FanOut queries several connectors concurrently and merges their results.
// A failing connector degrades the merged result instead of failing it; the
// fetch as a whole errors only when every connector fails.
type FanOut struct {
	connectors []core.Connector
	logger     logging.Logger
}

// NewFanOut builds a fan-out over the given connectors.
func NewFanOut(connectors []core.Connector, optFns ...func(o *FanOutOptions)) *FanOut {
	opts := FanOutOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &FanOut{connectors: connectors, logger: opts.Logger}
}

// FanOutOptions configures a FanOut.
type FanOutOptions struct {
	Logger logging.Logger
}

// FetchResult is the merged outcome of a fan-out fetch.
type FetchResult struct {
	Records []core.JobRecord
	// Degraded reports source kinds that failed; their results are absent.
	Degraded []core.SourceKind
}

// Fetch runs every connector concurrently, normalizes and deduplicates the
// postings by fingerprint, keeping the most recently posted record on
// collision.
func (f *FanOut) Fetch(ctx context.Context, q core.SearchQuery) (FetchResult, error) {
	type outcome struct {
		kind     core.SourceKind
		postings []core.RawPosting
		err      error
	}

	outcomes := make([]outcome, len(f.connectors))
	var wg sync.WaitGroup
	for i, conn := range f.connectors {
		wg.Add(1)
		go func(i int, conn core.Connector) {
			defer wg.Done()
			start := time.Now()
			postings, err := conn.Fetch(ctx, q)
			outcomes[i] = outcome{kind: conn.Kind(), postings: postings, err: err}
			if err != nil {
				f.logger.Warn("connector fetch failed",
					"source", string(conn.Kind()),
					"duration", time.Since(start).String(),
					"error", err)
			}
		}(i, conn)
	}
	wg.Wait()

	now := time.Now()
	byFingerprint := make(map[string]core.JobRecord)
	var result FetchResult
	failures := 0
	var lastErr error
	for _, o := range outcomes {
		if o.err != nil {
			failures++
			lastErr = o.err
			result.Degraded = append(result.Degraded, o.kind)
		}
		for _, p := range o.postings {
			rec := p.Normalize(o.kind, now)
			if prev, ok := byFingerprint[rec.Fingerprint]; ok && prev.PostedAt.After(rec.PostedAt) {
				continue
			}
			byFingerprint[rec.Fingerprint] = rec
		}
	}

	if len(f.connectors) > 0 && failures == len(f.connectors) {
		return result, core.TransientIO("connector.fanout", lastErr)
	}

	result.Records = make([]core.JobRecord, 0, len(byFingerprint))
	for _, rec := range byFingerprint {
		result.Records = append(result.Records, rec)
	}
	return result, nil
}

// Search adapts Fetch to the orchestrator's searcher contract.
func (f *FanOut) Search(ctx context.Context, q core.SearchQuery) ([]core.JobRecord, []core.SourceKind, error) {
	result, err := f.Fetch(ctx, q)
	return result.Records, result.Degraded, err
}
