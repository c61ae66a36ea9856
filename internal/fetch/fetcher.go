// Package fetch retrieves complete appointment sets from a vendor API that
// silently truncates every query at a fixed result cap.
//
// A query whose result reaches the cap is presumed truncated and its window
// is subdivided: month-scale windows into 7-day chunks, week-scale windows
// into single days. Single days are the floor. Sub-windows are fetched
// concurrently and merged by external id.
//
// Known limitation: a single day holding more records than the cap is
// accepted truncated and reported in Stats.Truncated.
package fetch

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"slot-sync-backend/internal/logging"
	"slot-sync-backend/internal/metrics"
	"slot-sync-backend/internal/parse"
	"slot-sync-backend/internal/upstream"
	"slot-sync-backend/internal/window"
)

const (
	// DefaultCap is the vendor's observed per-query limit.
	DefaultCap = 100
	// DefaultMaxDepth bounds recursion below the per-month query.
	DefaultMaxDepth = 3

	weekDays = 7
	// dayScaleDepth is the depth at which windows are single days.
	dayScaleDepth = 2
)

// Options configures a Fetcher.
type Options struct {
	Cap         int
	MaxDepth    int
	Concurrency int
}

// Fetcher is safe for concurrent use; the concurrency bound is shared by
// every Fetch call on the same Fetcher.
type Fetcher struct {
	api      upstream.API
	cap      int
	maxDepth int
	sem      *semaphore.Weighted
}

// New creates a Fetcher. Zero options take the defaults.
func New(api upstream.API, opts Options) *Fetcher {
	if opts.Cap <= 0 {
		opts.Cap = DefaultCap
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Fetcher{
		api:      api,
		cap:      opts.Cap,
		maxDepth: opts.MaxDepth,
		sem:      semaphore.NewWeighted(int64(opts.Concurrency)),
	}
}

// Result is the merged outcome of a Fetch.
type Result struct {
	Appointments []upstream.Appointment
	Stats        Stats
}

// Stats describes how a Fetch went.
type Stats struct {
	Queries int
	CapHits int
	// Malformed counts records dropped for having no usable id.
	Malformed int
	// FailedWindows lists sub-windows whose query failed; their records are
	// missing from this pass.
	FailedWindows []string
	// Truncated lists floor windows accepted at the cap.
	Truncated []string
	// Unscheduled counts sub-windows not queried because ctx was done.
	Unscheduled int
}

// Complete reports whether no sub-window was lost.
func (s Stats) Complete() bool {
	return len(s.FailedWindows) == 0 && s.Unscheduled == 0
}

type collector struct {
	mu sync.Mutex
	Stats
}

func (c *collector) update(fn func(s *Stats)) {
	c.mu.Lock()
	fn(&c.Stats)
	c.mu.Unlock()
}

// Fetch returns every record matching filter whose date falls in w. The
// window is first cut at calendar month boundaries so the subdivision
// budget applies per month. Failed sub-windows are logged and skipped.
func (f *Fetcher) Fetch(ctx context.Context, w window.Window, filter upstream.AppointmentFilter) Result {
	st := &collector{}
	months := w.Months()
	perMonth := make([][]upstream.Appointment, len(months))

	var g errgroup.Group
	for i, month := range months {
		i, month := i, month
		g.Go(func() error {
			perMonth[i] = f.fetchWindow(ctx, month, filter, 0, st)
			return nil
		})
	}
	_ = g.Wait()

	var all []upstream.Appointment
	for _, recs := range perMonth {
		all = append(all, recs...)
	}
	merged, malformed := Dedupe(all)
	st.Malformed += malformed

	sort.Strings(st.FailedWindows)
	sort.Strings(st.Truncated)
	return Result{Appointments: merged, Stats: st.Stats}
}

func (f *Fetcher) fetchWindow(ctx context.Context, w window.Window, filter upstream.AppointmentFilter, depth int, st *collector) []upstream.Appointment {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		st.update(func(s *Stats) { s.Unscheduled++ })
		return nil
	}
	// Once issued, a request is allowed to finish even if ctx is canceled.
	recs, err := f.api.ListAppointments(context.WithoutCancel(ctx), w, filter)
	f.sem.Release(1)

	st.update(func(s *Stats) { s.Queries++ })
	if err != nil {
		metrics.FetchWindowFailures.Inc()
		st.update(func(s *Stats) { s.FailedWindows = append(s.FailedWindows, w.String()) })
		logging.Warn().Err(err).Str("window", w.String()).Int("depth", depth).Str("filter", filter.String()).
			Msg("window query failed; skipping it for this pass")
		return nil
	}
	if len(recs) < f.cap {
		return recs
	}

	metrics.FetchCapHits.WithLabelValues(strconv.Itoa(depth)).Inc()
	st.update(func(s *Stats) { s.CapHits++ })

	subs := f.subdivide(w, depth)
	if len(subs) == 0 {
		st.update(func(s *Stats) { s.Truncated = append(s.Truncated, w.String()) })
		logging.Warn().Str("window", w.String()).Int("depth", depth).Int("cap", f.cap).Str("filter", filter.String()).
			Msg("result cap reached at recursion floor; accepting truncated page")
		return recs
	}
	if ctx.Err() != nil {
		st.update(func(s *Stats) { s.Unscheduled += len(subs) })
		return recs
	}

	logging.Debug().Str("window", w.String()).Int("depth", depth).Int("subwindows", len(subs)).Msg("result cap reached; subdividing")

	results := make([][]upstream.Appointment, len(subs))
	var g errgroup.Group
	for i, sub := range subs {
		i, sub := i, sub
		g.Go(func() error {
			results[i] = f.fetchWindow(ctx, sub, filter, depth+1, st)
			return nil
		})
	}
	_ = g.Wait()

	// The capped page is a subset of the children and is not merged back.
	var merged []upstream.Appointment
	for _, r := range results {
		merged = append(merged, r...)
	}
	return merge(merged)
}

// subdivide returns the child windows for w at depth, or nil at the floor.
func (f *Fetcher) subdivide(w window.Window, depth int) []window.Window {
	if w.Days() <= 1 || depth >= f.maxDepth || depth >= dayScaleDepth {
		return nil
	}
	size := 1
	if depth == 0 {
		size = weekDays
	}
	subs := w.Chunks(size)
	if len(subs) == 1 {
		// Windows of a week or less go straight to days.
		subs = w.Chunks(1)
	}
	return subs
}

// merge deduplicates by id like Dedupe but passes id-less records through
// so the top level can count them.
func merge(recs []upstream.Appointment) []upstream.Appointment {
	index := make(map[upstream.ID]int, len(recs))
	out := make([]upstream.Appointment, 0, len(recs))
	for _, r := range recs {
		if parse.IsPlaceholder(r.ID.String()) {
			out = append(out, r)
			continue
		}
		if i, ok := index[r.ID]; ok {
			out[i] = r
			continue
		}
		index[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}

// Dedupe merges records by external id; for duplicates the later record
// wins. Records without a usable id are dropped and counted. The output is
// ordered by start time then id.
func Dedupe(recs []upstream.Appointment) ([]upstream.Appointment, int) {
	byID := make(map[upstream.ID]upstream.Appointment, len(recs))
	malformed := 0
	for _, r := range recs {
		if parse.IsPlaceholder(r.ID.String()) {
			malformed++
			continue
		}
		byID[r.ID] = r
	}

	out := make([]upstream.Appointment, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Datetime.Equal(out[j].Datetime.Time) {
			return out[i].Datetime.Before(out[j].Datetime.Time)
		}
		return out[i].ID < out[j].ID
	})
	return out, malformed
}
