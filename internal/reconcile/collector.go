package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"slot-sync-backend/internal/apperr"
	"slot-sync-backend/internal/classify"
	"slot-sync-backend/internal/logging"
	"slot-sync-backend/internal/metrics"
	"slot-sync-backend/internal/parse"
	"slot-sync-backend/internal/upstream"
	"slot-sync-backend/internal/window"
)

// DefaultDateBatchSize is the number of dates queried concurrently.
const DefaultDateBatchSize = 5

// CollectorOptions configures a Collector.
type CollectorOptions struct {
	Cap           int
	DateBatchSize int
	BatchDelay    time.Duration
}

// Collector counts theoretical slots from the date-scoped availability
// endpoint. A query that reaches the cap is repeated once per resource of
// the appointment type.
type Collector struct {
	api       upstream.API
	cap       int
	batchSize int
	delay     time.Duration

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration)
}

func NewCollector(api upstream.API, opts CollectorOptions) *Collector {
	if opts.Cap <= 0 {
		opts.Cap = 100
	}
	if opts.DateBatchSize <= 0 {
		opts.DateBatchSize = DefaultDateBatchSize
	}
	return &Collector{
		api:       api,
		cap:       opts.Cap,
		batchSize: opts.DateBatchSize,
		delay:     opts.BatchDelay,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

type slotKey struct {
	Key
	at int64
}

// SlotSet accumulates distinct open slots. The same start time offered by two
// appointment types of one category counts once. Safe for concurrent use.
type SlotSet struct {
	mu    sync.Mutex
	slots map[slotKey]struct{}
}

func NewSlotSet() *SlotSet {
	return &SlotSet{slots: make(map[slotKey]struct{})}
}

// Add records one slot.
func (s *SlotSet) Add(k Key, at time.Time) {
	s.mu.Lock()
	s.slots[slotKey{Key: k, at: at.Unix()}] = struct{}{}
	s.mu.Unlock()
}

// Totals counts the slots per key.
func (s *SlotSet) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(Totals)
	for k := range s.slots {
		out[k.Key]++
	}
	return out
}

// Request scopes one collection to an appointment type.
type Request struct {
	Type     upstream.AppointmentType
	Category classify.Category
	Window   window.Window
}

// CollectStats describes one Collect call.
type CollectStats struct {
	Queries     int
	CapHits     int
	FailedDates []string
	Truncated   []string
	Unscheduled int
	// Malformed counts slots dropped for having no start time.
	Malformed int
}

// Collect queries every date of the request window for open slots and adds
// them to set. Dates run in batches with a delay between batches; once ctx
// is done no further batch starts. Failed dates are recorded in tally and
// skipped.
func (c *Collector) Collect(ctx context.Context, req Request, set *SlotSet, tally *apperr.Tally) CollectStats {
	var (
		mu sync.Mutex
		st CollectStats
	)
	update := func(fn func(*CollectStats)) {
		mu.Lock()
		fn(&st)
		mu.Unlock()
	}

	dates := req.Window.Dates()
	for start := 0; start < len(dates); start += c.batchSize {
		if start > 0 {
			c.sleep(ctx, c.delay)
		}
		if ctx.Err() != nil {
			update(func(s *CollectStats) { s.Unscheduled += len(dates) - start })
			break
		}

		end := min(start+c.batchSize, len(dates))
		var g errgroup.Group
		for _, date := range dates[start:end] {
			date := date
			g.Go(func() error {
				c.collectDate(ctx, req, date, set, tally, update)
				return nil
			})
		}
		_ = g.Wait()
	}

	sort.Strings(st.FailedDates)
	sort.Strings(st.Truncated)
	return st
}

func (c *Collector) collectDate(ctx context.Context, req Request, date time.Time, set *SlotSet, tally *apperr.Tally, update func(func(*CollectStats))) {
	day := date.Format(window.DateLayout)
	ref := req.Type.ID.String() + "@" + day
	// Issued requests run to completion even if ctx is canceled meanwhile.
	callCtx := context.WithoutCancel(ctx)

	slots, err := c.api.ListAvailableSlots(callCtx, date, req.Type.ID, "")
	update(func(s *CollectStats) { s.Queries++ })
	if err != nil {
		c.fail(err, ref, tally, update)
		return
	}
	if len(slots) < c.cap || len(req.Type.CalendarIDs) == 0 {
		if len(slots) >= c.cap {
			c.truncated(ref, update)
		}
		c.add(set, req, day, "", slots, tally, update)
		return
	}

	metrics.FetchCapHits.WithLabelValues("availability").Inc()
	update(func(s *CollectStats) { s.CapHits++ })
	for _, rid := range req.Type.CalendarIDs {
		if ctx.Err() != nil {
			update(func(s *CollectStats) { s.Unscheduled++ })
			continue
		}
		perResource, err := c.api.ListAvailableSlots(callCtx, date, req.Type.ID, rid)
		update(func(s *CollectStats) { s.Queries++ })
		if err != nil {
			c.fail(err, ref+"/"+rid.String(), tally, update)
			continue
		}
		if len(perResource) >= c.cap {
			c.truncated(ref+"/"+rid.String(), update)
		}
		c.add(set, req, day, rid, perResource, tally, update)
	}
}

func (c *Collector) add(set *SlotSet, req Request, day string, queried upstream.ID, slots []upstream.Slot, tally *apperr.Tally, update func(func(*CollectStats))) {
	for _, s := range slots {
		if s.Time.IsZero() {
			update(func(st *CollectStats) { st.Malformed++ })
			if tally != nil {
				tally.Record(apperr.MalformedRecord, "availability", req.Type.ID.String()+"@"+day)
			}
			continue
		}
		rid := s.CalendarID
		if parse.IsPlaceholder(rid.String()) && queried != "" {
			rid = queried
		}
		set.Add(Key{Date: day, ResourceID: rid.String(), Category: req.Category}, s.Time.Time)
	}
}

func (c *Collector) fail(err error, ref string, tally *apperr.Tally, update func(func(*CollectStats))) {
	update(func(s *CollectStats) { s.FailedDates = append(s.FailedDates, ref) })
	if tally != nil {
		tally.RecordErr(err, apperr.TransientAPI, "availability")
	}
	logging.Warn().Err(err).Str("query", ref).Msg("availability query failed; skipping it for this pass")
}

func (c *Collector) truncated(ref string, update func(func(*CollectStats))) {
	update(func(s *CollectStats) { s.Truncated = append(s.Truncated, ref) })
	logging.Warn().Str("query", ref).Int("cap", c.cap).Msg("availability result cap reached; accepting truncated page")
}
