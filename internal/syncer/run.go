package syncer

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
	"slot-sync-backend/internal/model"
	"slot-sync-backend/internal/parse"
	"slot-sync-backend/internal/reconcile"
	"slot-sync-backend/internal/store"
	"slot-sync-backend/internal/upstream"
	"slot-sync-backend/internal/window"
)

// Summary is the outcome of one pass.
type Summary struct {
	RunID         string              `json:"runId"`
	State         model.RunState      `json:"state"`
	Trigger       Trigger             `json:"trigger"`
	Window        string              `json:"window"`
	Types         int                 `json:"types"`
	Resources     int                 `json:"resources"`
	Appointments  int                 `json:"appointments"`
	ResourceSlots int                 `json:"resourceSlots"`
	GroupSlots    int                 `json:"groupSlots"`
	Synced        int                 `json:"synced"`
	Skipped       int                 `json:"skipped"`
	Failed        int                 `json:"failed"`
	Unclassified  int                 `json:"unclassified"`
	Errors        map[apperr.Kind]int `json:"errors,omitempty"`
	Sample        []apperr.Event      `json:"sample,omitempty"`
	Duration      time.Duration       `json:"duration"`
}

// classifiedType is an appointment type with the category it was given for
// this pass.
type classifiedType struct {
	typ   upstream.AppointmentType
	class classify.Result
}

// pass holds the state of one run. Nothing in it outlives the run.
type pass struct {
	id      string
	w       window.Window
	loc     *time.Location
	started time.Time
	tally   *apperr.Tally
	dir     reconcile.Directory
	slots   *reconcile.SlotSet

	mu          sync.Mutex
	records     []model.Appointment
	summary     Summary
	interrupted bool
}

func (p *pass) count(fn func(s *Summary)) {
	p.mu.Lock()
	fn(&p.summary)
	p.mu.Unlock()
}

func (s *Service) run(ctx context.Context, w window.Window, trigger Trigger, id string) (Summary, error) {
	loc := s.cfg.Sync.Location
	if loc == nil {
		loc = time.UTC
	}
	p := &pass{
		id:      id,
		w:       w,
		loc:     loc,
		started: s.now(),
		tally:   apperr.NewTally(s.cfg.Sync.SampleSize),
		slots:   reconcile.NewSlotSet(),
		summary: Summary{RunID: id, Trigger: trigger, Window: w.String()},
	}
	// Writes issued by this pass complete even when ctx is canceled.
	persistCtx := context.WithoutCancel(ctx)
	log := logging.With().Str("run", id).Str("trigger", string(trigger)).Str("window", w.String()).Logger()

	run := &model.SyncRun{
		ID:          id,
		State:       model.RunPending,
		Trigger:     string(trigger),
		WindowStart: dbDate(w.Start),
		WindowEnd:   dbDate(w.End),
		StartedAt:   p.started.UTC(),
	}
	if err := s.store.CreateSyncRun(persistCtx, run); err != nil {
		p.tally.Record(apperr.Persistence, "sync_runs", id)
		log.Error().Err(err).Msg("could not record sync run")
	}

	if err := s.validate(w); err != nil {
		log.Error().Err(err).Msg("sync aborted before fetching")
		return s.finish(persistCtx, run, p, model.RunFailure, err), err
	}

	run.State = model.RunRunning
	if err := s.store.SaveSyncRun(persistCtx, run); err != nil {
		log.Warn().Err(err).Msg("could not mark sync run as running")
	}
	log.Info().Msg("sync started")

	types, err := s.api.ListAppointmentTypes(ctx)
	if err != nil {
		p.tally.RecordErr(err, apperr.TransientAPI, "appointment-types")
		p.summary.Failed++
		log.Error().Err(err).Msg("could not list appointment types; nothing fetched")
		return s.finish(persistCtx, run, p, model.RunFailure, err), nil
	}

	resources, err := s.api.ListResources(ctx)
	if err != nil {
		p.tally.RecordErr(err, apperr.TransientAPI, "calendars")
		p.summary.Failed++
		log.Warn().Err(err).Msg("could not list resources; group keys fall back to booking labels")
	}
	p.dir = s.directory(p, resources)
	p.summary.Resources = len(resources)

	active := s.classifyTypes(p, types)
	p.summary.Types = len(active)
	s.syncTypes(ctx, p, active)
	s.persist(persistCtx, p)

	state := model.RunSuccess
	if p.summary.Failed > 0 || p.interrupted {
		state = model.RunPartialFailure
	}
	return s.finish(persistCtx, run, p, state, nil), nil
}

// validate reports problems that must stop a pass before it fetches
// anything.
func (s *Service) validate(w window.Window) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if w.Start.IsZero() || w.End.Before(w.Start) {
		return apperr.Newf(apperr.Configuration, "validate window", "invalid sync window %s", w)
	}
	return nil
}

func (s *Service) directory(p *pass, resources []upstream.Resource) reconcile.Directory {
	entries := make([]reconcile.Resource, 0, len(resources))
	for _, r := range resources {
		if parse.IsPlaceholder(r.ID.String()) {
			p.tally.Record(apperr.MalformedRecord, "calendars", r.Name)
			p.summary.Skipped++
			continue
		}
		entries = append(entries, reconcile.Resource{
			ID:    r.ID.String(),
			Label: r.Name,
			Group: parse.Normalize(parse.GroupLabel(r.Name, r.Location)),
		})
	}
	return reconcile.NewDirectory(entries)
}

// classifyTypes assigns each active type its category once for the pass.
func (s *Service) classifyTypes(p *pass, types []upstream.AppointmentType) []classifiedType {
	var active []classifiedType
	for _, t := range types {
		if parse.IsPlaceholder(t.ID.String()) {
			p.tally.Record(apperr.MalformedRecord, "appointment-types", t.Name)
			p.summary.Skipped++
			continue
		}
		if !t.Active {
			continue
		}
		res := s.classifier.Classify(classify.Input{
			TypeLabel:     t.Name,
			CategoryLabel: t.Category,
			LinkHint:      t.SchedulingURL,
		})
		if res.Defaulted {
			p.tally.Record(apperr.ClassificationAmbiguous, "appointment-types", t.ID.String())
			logging.Warn().Str("run", p.id).Str("type", t.ID.String()).Str("label", t.Name).Str("category", string(res.Category)).
				Bool("excluded", s.cfg.Sync.ExcludeDefaulted).Msg("no classification rule matched; using default category")
		}
		active = append(active, classifiedType{typ: t, class: res})
	}
	return active
}

func (s *Service) reconciled(ct classifiedType) bool {
	return !(ct.class.Defaulted && s.cfg.Sync.ExcludeDefaulted)
}

// syncTypes processes types in batches with a delay between batches. Once
// ctx is done no further batch starts.
func (s *Service) syncTypes(ctx context.Context, p *pass, types []classifiedType) {
	size := max(s.cfg.Sync.TypeBatchSize, 1)
	for start := 0; start < len(types); start += size {
		if start > 0 {
			s.sleep(ctx, s.cfg.Sync.BatchDelay)
		}
		if ctx.Err() != nil {
			p.count(func(sum *Summary) { sum.Skipped += len(types) - start })
			p.interrupted = true
			logging.Warn().Str("run", p.id).Int("types", len(types)-start).Msg("sync canceled; remaining types not scheduled")
			return
		}

		var g errgroup.Group
		for _, ct := range types[start:min(start+size, len(types))] {
			ct := ct
			g.Go(func() error {
				s.syncType(ctx, p, ct)
				return nil
			})
		}
		_ = g.Wait()
	}
}

func (s *Service) syncType(ctx context.Context, p *pass, ct classifiedType) {
	typeID := ct.typ.ID.String()
	res := s.fetcher.Fetch(ctx, p.w, upstream.AppointmentFilter{TypeID: ct.typ.ID, IncludeCanceled: true})
	for _, fw := range res.Stats.FailedWindows {
		p.tally.Record(apperr.TransientAPI, "appointments", typeID+"@"+fw)
	}
	for i := 0; i < res.Stats.Malformed; i++ {
		p.tally.Record(apperr.MalformedRecord, "appointments", typeID)
	}

	rows := make([]model.Appointment, 0, len(res.Appointments))
	malformed := 0
	for _, a := range res.Appointments {
		row, err := s.toModel(a, ct, p)
		if err != nil {
			p.tally.RecordErr(err, apperr.MalformedRecord, "appointments")
			malformed++
			continue
		}
		rows = append(rows, row)
	}

	var avail reconcile.CollectStats
	if s.reconciled(ct) {
		avail = s.collector.Collect(ctx, reconcile.Request{Type: ct.typ, Category: ct.class.Category, Window: p.w}, p.slots, p.tally)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, rows...)
	p.summary.Failed += len(res.Stats.FailedWindows) + len(avail.FailedDates)
	p.summary.Skipped += res.Stats.Malformed + malformed + avail.Malformed + res.Stats.Unscheduled + avail.Unscheduled
	if res.Stats.Unscheduled > 0 || avail.Unscheduled > 0 {
		p.interrupted = true
	}
	logging.Debug().Str("run", p.id).Str("type", typeID).Str("category", string(ct.class.Category)).
		Int("appointments", len(rows)).Int("queries", res.Stats.Queries+avail.Queries).Msg("type synced")
}

func (s *Service) toModel(a upstream.Appointment, ct classifiedType, p *pass) (model.Appointment, error) {
	start := a.Datetime.Time
	if start.IsZero() {
		return model.Appointment{}, apperr.Newf(apperr.MalformedRecord, "convert appointment", "appointment %s has no start time", a.ID)
	}
	end := a.EndTime.Time
	if end.Before(start) {
		end = start
	}

	status := model.StatusScheduled
	switch {
	case a.Canceled:
		status = model.StatusCanceled
	case a.Rescheduled:
		status = model.StatusRescheduled
	}

	typeLabel := a.Type
	if typeLabel == "" {
		typeLabel = ct.typ.Name
	}

	label, group := a.Calendar, parse.Normalize(a.Calendar)
	if r, ok := p.dir[a.CalendarID.String()]; ok {
		if label == "" {
			label = r.Label
		}
		group = r.Group
	}

	return model.Appointment{
		ExternalID:        a.ID.String(),
		ResourceID:        a.CalendarID.String(),
		ResourceLabel:     label,
		GroupKey:          group,
		TypeID:            ct.typ.ID.String(),
		TypeLabel:         typeLabel,
		Category:          ct.class.Category,
		CategoryDefaulted: ct.class.Defaulted,
		StartTime:         start.UTC(),
		EndTime:           end.UTC(),
		Status:            status,
		SyncedAt:          p.started.UTC(),
	}, nil
}

// persist writes appointments, reconciles and writes both slot count tables.
func (s *Service) persist(ctx context.Context, p *pass) {
	appts := dedupeRows(p.records)
	var reconcilable []model.Appointment
	for _, a := range appts {
		if a.CategoryDefaulted {
			p.summary.Unclassified++
			if s.cfg.Sync.ExcludeDefaulted {
				continue
			}
		}
		reconcilable = append(reconcilable, a)
	}

	res := s.store.UpsertAppointments(ctx, appts)
	p.summary.Appointments = res.Written
	s.recordWrite(p, "appointments", res)

	out := reconcile.Reconcile(p.slots.Totals(), reconcilable, p.dir, p.loc)
	for _, k := range out.Skipped {
		p.tally.Record(apperr.MalformedRecord, "slot_counts_by_resource", k.Date+"/"+k.ResourceID+"/"+string(k.Category))
	}
	p.summary.Skipped += len(out.Skipped)

	resourceRows := make([]model.ResourceSlotCount, 0, len(out.Resources))
	for _, c := range out.Resources {
		date, err := time.Parse(window.DateLayout, c.Date)
		if err != nil {
			continue
		}
		resourceRows = append(resourceRows, model.ResourceSlotCount{
			Date:           date,
			ResourceID:     c.Scope,
			Category:       c.Category,
			ResourceLabel:  c.Label,
			GroupKey:       c.Group,
			TotalSlots:     c.Total,
			BookedSlots:    c.Booked,
			AvailableSlots: c.Available,
			SyncedAt:       p.started.UTC(),
		})
	}
	res = s.store.UpsertResourceSlots(ctx, resourceRows)
	p.summary.ResourceSlots = res.Written
	s.recordWrite(p, "slot_counts_by_resource", res)

	groupRows := make([]model.GroupSlotCount, 0, len(out.Groups))
	for _, c := range out.Groups {
		date, err := time.Parse(window.DateLayout, c.Date)
		if err != nil {
			continue
		}
		groupRows = append(groupRows, model.GroupSlotCount{
			Date:           date,
			GroupKey:       c.Scope,
			Category:       c.Category,
			ResourceCount:  c.Resources,
			TotalSlots:     c.Total,
			BookedSlots:    c.Booked,
			AvailableSlots: c.Available,
			SyncedAt:       p.started.UTC(),
		})
	}
	res = s.store.UpsertGroupSlots(ctx, groupRows)
	p.summary.GroupSlots = res.Written
	s.recordWrite(p, "slot_counts_by_group", res)
}

func (s *Service) recordWrite(p *pass, table string, res store.UpsertResult) {
	p.summary.Synced += res.Written
	p.summary.Failed += len(res.Failed)
	for _, key := range res.Failed {
		p.tally.Record(apperr.Persistence, table, key)
	}
}

// dedupeRows keeps the last row per external id, ordered by start time.
func dedupeRows(rows []model.Appointment) []model.Appointment {
	byID := make(map[string]model.Appointment, len(rows))
	for _, r := range rows {
		byID[r.ExternalID] = r
	}
	out := make([]model.Appointment, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	return out
}

func (s *Service) finish(ctx context.Context, run *model.SyncRun, p *pass, state model.RunState, cause error) Summary {
	finished := s.now()
	sum := p.summary
	sum.State = state
	sum.Errors = p.tally.Counts()
	sum.Sample = p.tally.Sample()
	sum.Duration = finished.Sub(p.started)

	run.State = state
	finishedUTC := finished.UTC()
	run.FinishedAt = &finishedUTC
	run.Synced = sum.Synced
	run.Skipped = sum.Skipped
	run.Failed = sum.Failed
	run.Unclassified = sum.Unclassified
	run.Sample = sum.Sample
	if cause != nil {
		run.Error = truncate(cause.Error(), 1024)
	}
	if err := s.store.SaveSyncRun(ctx, run); err != nil {
		logging.Error().Err(err).Str("run", run.ID).Msg("could not save sync run")
	}

	metrics.SyncRuns.WithLabelValues(string(state)).Inc()
	metrics.SyncRunDuration.Observe(sum.Duration.Seconds())

	logging.Info().Str("run", run.ID).Str("state", string(state)).Str("window", sum.Window).
		Int("types", sum.Types).Int("synced", sum.Synced).Int("skipped", sum.Skipped).Int("failed", sum.Failed).
		Int("unclassified", sum.Unclassified).Dur("duration", sum.Duration).Msg("sync finished")

	if state != model.RunSuccess && s.alerts != nil {
		s.alerts.Dispatch(run.ID)
	}
	for _, fn := range s.hooks {
		fn(sum)
	}
	return sum
}

func dbDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
