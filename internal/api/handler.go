package api

import (
	"context"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"slot-sync-backend/internal/store"
	"slot-sync-backend/internal/syncer"
	"slot-sync-backend/internal/window"
)

// SyncStarter starts sync passes on demand.
type SyncStarter interface {
	Start(ctx context.Context, w window.Window, trigger syncer.Trigger) (string, error)
	DefaultWindow() window.Window
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	ctx     context.Context
	store   store.Store
	sync    SyncStarter
	webpush *webpush.Options
	loc     *time.Location
}

// NewHandler creates a new API handler. Passes started through it stop
// scheduling work when ctx is done. loc is the timezone request dates are
// read in.
func NewHandler(ctx context.Context, s store.Store, sync SyncStarter, webpushOptions *webpush.Options, loc *time.Location) *Handler {
	if ctx == nil {
		ctx = context.Background()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		ctx:     ctx,
		store:   s,
		sync:    sync,
		webpush: webpushOptions,
		loc:     loc,
	}
}
