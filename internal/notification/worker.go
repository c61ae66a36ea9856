package notification

import (
	"context"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/goccy/go-json"
	"gorm.io/gorm"

	"slot-sync-backend/internal/logging"
	"slot-sync-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Alert is the push payload describing a finished sync run.
type Alert struct {
	Title  string         `json:"title"`
	Body   string         `json:"body"`
	RunID  string         `json:"runId"`
	State  model.RunState `json:"state"`
	Synced int            `json:"synced"`
	Failed int            `json:"failed"`
}

// WorkerPool sends alerts for sync runs that did not fully succeed.
type WorkerPool struct {
	size    int
	jobs    chan string
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan string, size),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	logging.Debug().Int("worker", id).Msg("alert worker started")
	for {
		select {
		case runID := <-wp.jobs:
			wp.sendAlertsForRun(ctx, runID)
		case <-ctx.Done():
			logging.Debug().Int("worker", id).Msg("alert worker shutting down")
			return
		}
	}
}

// Dispatch queues an alert for the run. It never blocks: when the queue is
// full the alert is dropped.
func (wp *WorkerPool) Dispatch(runID string) bool {
	select {
	case wp.jobs <- runID:
		return true
	default:
		logging.Warn().Str("run", runID).Msg("alert queue full; dropping alert")
		return false
	}
}

// NewAlert builds the payload for run, or reports false when the run needs
// no alert.
func NewAlert(run *model.SyncRun) (Alert, bool) {
	a := Alert{RunID: run.ID, State: run.State, Synced: run.Synced, Failed: run.Failed}
	switch run.State {
	case model.RunFailure:
		a.Title = "Sync failed"
		a.Body = "No scheduling data was synced"
		if run.Error != "" {
			a.Body += ": " + run.Error
		}
	case model.RunPartialFailure:
		a.Title = "Sync partially failed"
		a.Body = fmt.Sprintf("%d records synced, %d failed", run.Synced, run.Failed)
	default:
		return Alert{}, false
	}
	return a, true
}

func (wp *WorkerPool) sendAlertsForRun(ctx context.Context, runID string) {
	var run model.SyncRun
	if err := wp.db.WithContext(ctx).First(&run, "id = ?", runID).Error; err != nil {
		logging.Error().Err(err).Str("run", runID).Msg("could not load sync run for alert")
		return
	}

	alert, ok := NewAlert(&run)
	if !ok {
		return
	}

	query := wp.db.WithContext(ctx)
	if run.State == model.RunPartialFailure {
		query = query.Where("notify_partial = ?", true)
	}
	var subscriptions []model.PushSubscription
	if err := query.Find(&subscriptions).Error; err != nil {
		logging.Error().Err(err).Str("run", runID).Msg("could not load push subscriptions")
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		logging.Error().Err(err).Str("run", runID).Msg("could not encode alert")
		return
	}

	logging.Info().Str("run", runID).Str("state", string(run.State)).Int("subscriptions", len(subscriptions)).Msg("sending sync alerts")
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		logging.Warn().Err(err).Str("endpoint", sub.Endpoint).Msg("push delivery failed")
		return
	}
	defer resp.Body.Close()

	// Expired subscription.
	if resp.StatusCode == http.StatusGone {
		logging.Info().Str("endpoint", sub.Endpoint).Msg("subscription expired; deleting")
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			logging.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to delete expired subscription")
		}
	}
}
