package poingest

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultMaxPages caps pagination so an upstream bug that always reports
	// has_more can never spin a run forever.
	DefaultMaxPages = 2000
	// DefaultFetchWorkers is the fetch concurrency used when none is configured.
	DefaultFetchWorkers = 4
)

// PageFetcher is the slice of Client the parallel fetcher needs.
type PageFetcher interface {
	FetchPage(ctx context.Context, offset, limit int, window DateWindow) (*Page, error)
}

// Fetcher drives offset-based pagination with a bounded pool of in-flight
// requests. Pages are yielded in completion order; the checkpoint logic
// downstream reorders them. A page whose fetch fails after the client's own
// retries is yielded as an error result and skipped, so one bad page does not
// blank out the dataset.
type Fetcher struct {
	client   PageFetcher
	limit    int
	workers  int
	maxPages int
	pacer    *rate.Limiter
}

// NewFetcher create a Fetcher issuing pages of size limit with the given
// number of concurrent requests. pageDelay spaces out request starts to stay
// friendly to the source's rate limiter; zero disables pacing.
func NewFetcher(client PageFetcher, limit, workers, maxPages int, pageDelay time.Duration) *Fetcher {
	if limit <= 0 || limit > DefaultPageLimit {
		limit = DefaultPageLimit
	}
	if workers <= 0 {
		workers = DefaultFetchWorkers
	}
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	var pacer *rate.Limiter
	if pageDelay > 0 {
		pacer = rate.NewLimiter(rate.Every(pageDelay), 1)
	}
	return &Fetcher{
		client:   client,
		limit:    limit,
		workers:  workers,
		maxPages: maxPages,
		pacer:    pacer,
	}
}

// Fetch produces a finite sequence of page results starting at startOffset.
// New offsets are submitted as requests complete, keeping at most `workers`
// requests in flight until a page reports has_more=false or the page cap is
// reached.
func (f *Fetcher) Fetch(ctx context.Context, startOffset int, window DateWindow) <-chan PageResult {
	out := make(chan PageResult, f.workers)
	assignments := make(chan int)
	results := make(chan PageResult, f.workers)
	stop := make(chan struct{})
	var stopOnce sync.Once
	halt := func() { stopOnce.Do(func() { close(stop) }) }

	// dispatcher: hands out the next unseen offset until a terminal signal
	go func() {
		defer close(assignments)
		next := startOffset
		for issued := 0; issued < f.maxPages; issued++ {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case assignments <- next:
				next += f.limit
			}
		}
		DefaultLogger.Warn(ctx, "pagination safety cap reached, pages:%v, last_offset:%v", f.maxPages, next-f.limit)
	}()

	// worker pool
	var wg sync.WaitGroup
	wg.Add(f.workers)
	for i := 0; i < f.workers; i++ {
		fetchPool.Submit(ctx, func() (interface{}, error) {
			defer wg.Done()
			for offset := range assignments {
				if f.pacer != nil {
					if err := f.pacer.Wait(ctx); err != nil {
						results <- PageResult{Offset: offset, Err: NewIngestError(ErrCodeGeneral, "canceled while pacing, offset:%v", offset, err)}
						continue
					}
				}
				page, err := f.client.FetchPage(ctx, offset, f.limit, window)
				results <- PageResult{Offset: offset, Page: page, Err: err}
			}
			return nil, nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// collector: forwards completed pages and decides termination
	go func() {
		defer close(out)
		for r := range results {
			if r.Err != nil {
				DefaultLogger.Error(ctx, "page fetch failed, skipping, offset:%v, err:%v", r.Offset, r.Err)
				out <- r
				continue
			}
			if r.Page.Returned < f.limit && r.Page.HasMore {
				// upstream paginator is contradicting itself; prefer
				// duplicate-safe continuation over dropping data
				DefaultLogger.Warn(ctx, "inconsistent pagination, offset:%v, returned:%v, limit:%v, has_more:true", r.Offset, r.Page.Returned, f.limit)
			}
			if !r.Page.HasMore {
				halt()
			}
			out <- r
		}
	}()

	return out
}
