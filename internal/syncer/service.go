// Package syncer runs sync passes: it lists appointment types, fetches their
// appointments and availability, reconciles slot counts and persists the
// result. Passes run on a cron schedule or on demand.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"slot-sync-backend/config"
	"slot-sync-backend/internal/classify"
	"slot-sync-backend/internal/fetch"
	"slot-sync-backend/internal/logging"
	"slot-sync-backend/internal/reconcile"
	"slot-sync-backend/internal/store"
	"slot-sync-backend/internal/upstream"
	"slot-sync-backend/internal/window"
)

// ErrSyncInProgress is returned when a pass is requested while another one
// is still running.
var ErrSyncInProgress = errors.New("sync already in progress")

// Trigger records what started a run.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
	TriggerStartup  Trigger = "startup"
)

// Alerter receives the id of every run that did not fully succeed.
type Alerter interface {
	Dispatch(runID string) bool
}

// Service orchestrates sync passes. Only one pass runs at a time.
type Service struct {
	cfg        *config.Config
	api        upstream.API
	store      store.Store
	classifier *classify.Classifier
	fetcher    *fetch.Fetcher
	collector  *reconcile.Collector
	alerts     Alerter
	hooks      []func(Summary)

	running sync.Mutex
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration)
}

// NewService creates a sync service. alerts may be nil.
func NewService(cfg *config.Config, api upstream.API, st store.Store, alerts Alerter) *Service {
	return &Service{
		cfg:        cfg,
		api:        api,
		store:      st,
		classifier: classify.New(cfg.ClassifierRules(), classify.Category(cfg.Classifier.DefaultCategory)),
		fetcher: fetch.New(api, fetch.Options{
			Cap:         cfg.Upstream.ResultCap,
			MaxDepth:    cfg.Sync.MaxDepth,
			Concurrency: cfg.Sync.FetchConcurrency,
		}),
		collector: reconcile.NewCollector(api, reconcile.CollectorOptions{
			Cap:           cfg.Upstream.ResultCap,
			DateBatchSize: cfg.Sync.DateBatchSize,
			BatchDelay:    cfg.Sync.BatchDelay,
		}),
		alerts: alerts,
		now:    time.Now,
		sleep:  sleepCtx,
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

// OnComplete registers fn to run after every finished pass.
func (s *Service) OnComplete(fn func(Summary)) {
	s.hooks = append(s.hooks, fn)
}

// DefaultWindow is the window scheduled passes cover: past_days before today
// through future_days after it, in the configured timezone.
func (s *Service) DefaultWindow() window.Window {
	loc := s.cfg.Sync.Location
	if loc == nil {
		loc = time.UTC
	}
	today := window.Day(s.now().In(loc))
	return window.MustNew(today.AddDate(0, 0, -s.cfg.Sync.PastDays), today.AddDate(0, 0, s.cfg.Sync.FutureDays))
}

// Run schedules passes until ctx is done, then waits for a running pass to
// finish.
func (s *Service) Run(ctx context.Context) error {
	if !s.cfg.Sync.Enabled {
		logging.Info().Msg("sync is disabled; not starting scheduler")
		return nil
	}

	c, err := s.newCron(ctx)
	if err != nil {
		return err
	}

	if s.cfg.Sync.RunOnStart {
		go s.scheduled(ctx, TriggerStartup)
	}

	logging.Info().Str("schedule", s.cfg.Sync.Schedule).Str("timezone", s.cfg.Sync.Timezone).Msg("starting sync scheduler")
	c.Start()
	<-ctx.Done()

	logging.Info().Msg("sync scheduler shutting down")
	<-c.Stop().Done()
	s.running.Lock()
	s.running.Unlock()
	return nil
}

func (s *Service) newCron(ctx context.Context) (*cron.Cron, error) {
	loc := s.cfg.Sync.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.cfg.Sync.Schedule, func() { s.scheduled(ctx, TriggerSchedule) }); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) scheduled(ctx context.Context, trigger Trigger) {
	if ctx.Err() != nil {
		return
	}
	_, err := s.SyncOnce(ctx, s.DefaultWindow(), trigger)
	switch {
	case errors.Is(err, ErrSyncInProgress):
		logging.Info().Str("trigger", string(trigger)).Msg("previous sync still running; skipping this one")
	case err != nil:
		logging.Error().Err(err).Str("trigger", string(trigger)).Msg("sync aborted")
	}
}

// SyncOnce runs one pass over w. It returns ErrSyncInProgress when another
// pass is running, and a Configuration error when the pass could not start;
// every other problem is reported in the Summary.
func (s *Service) SyncOnce(ctx context.Context, w window.Window, trigger Trigger) (Summary, error) {
	if !s.running.TryLock() {
		return Summary{}, ErrSyncInProgress
	}
	defer s.running.Unlock()
	return s.run(ctx, w, trigger, uuid.NewString())
}

// Start launches a pass over w in the background and returns its run id.
// The pass stops scheduling new work when ctx is done.
func (s *Service) Start(ctx context.Context, w window.Window, trigger Trigger) (string, error) {
	if !s.running.TryLock() {
		return "", ErrSyncInProgress
	}
	id := uuid.NewString()
	go func() {
		defer s.running.Unlock()
		if _, err := s.run(ctx, w, trigger, id); err != nil {
			logging.Error().Err(err).Str("run", id).Msg("sync aborted")
		}
	}()
	return id, nil
}

// cronLogger routes cron's own diagnostics through the service logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logging.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
