package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"slot-sync-backend/internal/logging"
	"slot-sync-backend/internal/metrics"
	"slot-sync-backend/internal/model"
	"slot-sync-backend/internal/window"
)

// DefaultBatchSize bounds the rows sent in one upsert statement.
const DefaultBatchSize = 500

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("not found")

// Store defines the interface for all database operations.
type Store interface {
	UpsertAppointments(ctx context.Context, rows []model.Appointment) UpsertResult
	UpsertResourceSlots(ctx context.Context, rows []model.ResourceSlotCount) UpsertResult
	UpsertGroupSlots(ctx context.Context, rows []model.GroupSlotCount) UpsertResult

	CreateSyncRun(ctx context.Context, run *model.SyncRun) error
	SaveSyncRun(ctx context.Context, run *model.SyncRun) error
	GetSyncRun(ctx context.Context, id string) (*model.SyncRun, error)
	ListSyncRuns(ctx context.Context, limit int) ([]model.SyncRun, error)

	ListResourceSlots(ctx context.Context, q SlotQuery) ([]model.ResourceSlotCount, error)
	ListGroupSlots(ctx context.Context, q SlotQuery) ([]model.GroupSlotCount, error)
	ListAppointments(ctx context.Context, q AppointmentQuery) ([]model.Appointment, error)

	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db        *gorm.DB
	batchSize int
}

// NewGormStore creates a new GORM-backed store. A non-positive batchSize
// takes DefaultBatchSize.
func NewGormStore(db *gorm.DB, batchSize int) Store {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &gormStore{db: db, batchSize: batchSize}
}

// DB exposes the underlying connection for subscription handlers and the
// alert workers.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) UpsertAppointments(ctx context.Context, rows []model.Appointment) UpsertResult {
	return upsert(ctx, s.db, s.batchSize, "appointments", rows, onConflict("external_id"), func(a model.Appointment) string {
		return a.ExternalID
	})
}

func (s *gormStore) UpsertResourceSlots(ctx context.Context, rows []model.ResourceSlotCount) UpsertResult {
	return upsert(ctx, s.db, s.batchSize, "slot_counts_by_resource", rows, onConflict("date", "resource_id", "category"), func(r model.ResourceSlotCount) string {
		return slotKey(r.Date.Format(window.DateLayout), r.ResourceID, string(r.Category))
	})
}

func (s *gormStore) UpsertGroupSlots(ctx context.Context, rows []model.GroupSlotCount) UpsertResult {
	return upsert(ctx, s.db, s.batchSize, "slot_counts_by_group", rows, onConflict("date", "group_key", "category"), func(r model.GroupSlotCount) string {
		return slotKey(r.Date.Format(window.DateLayout), r.GroupKey, string(r.Category))
	})
}

func slotKey(date, scope, category string) string {
	return date + "/" + scope + "/" + category
}

func onConflict(columns ...string) clause.OnConflict {
	cols := make([]clause.Column, len(columns))
	for i, c := range columns {
		cols[i] = clause.Column{Name: c}
	}
	return clause.OnConflict{Columns: cols, UpdateAll: true}
}

// upsert writes rows in batches. A failed batch is retried row by row so a
// single bad row only loses itself. Rows within one call must have distinct
// keys.
func upsert[T any](ctx context.Context, db *gorm.DB, batchSize int, table string, rows []T, conflict clause.OnConflict, key func(T) string) UpsertResult {
	var res UpsertResult
	for start := 0; start < len(rows); start += batchSize {
		batch := rows[start:min(start+batchSize, len(rows))]
		err := db.WithContext(ctx).Clauses(conflict).Create(&batch).Error
		if err == nil {
			res.Written += len(batch)
			continue
		}

		logging.Warn().Err(err).Str("table", table).Int("rows", len(batch)).Msg("batch upsert failed; retrying row by row")
		for i := range batch {
			row := batch[i]
			if err := db.WithContext(ctx).Clauses(conflict).Create(&row).Error; err != nil {
				res.Failed = append(res.Failed, key(row))
				logging.Error().Err(err).Str("table", table).Str("key", key(row)).Msg("row upsert failed; dropping row for this pass")
				continue
			}
			res.Written++
		}
	}

	metrics.RowsUpserted.WithLabelValues(table).Add(float64(res.Written))
	metrics.RowsFailed.WithLabelValues(table).Add(float64(len(res.Failed)))
	return res
}

func (s *gormStore) CreateSyncRun(ctx context.Context, run *model.SyncRun) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("failed to create sync run %s: %w", run.ID, err)
	}
	return nil
}

func (s *gormStore) SaveSyncRun(ctx context.Context, run *model.SyncRun) error {
	if err := s.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("failed to save sync run %s: %w", run.ID, err)
	}
	return nil
}

func (s *gormStore) GetSyncRun(ctx context.Context, id string) (*model.SyncRun, error) {
	var run model.SyncRun
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sync run %s: %w", id, err)
	}
	return &run, nil
}

func (s *gormStore) ListSyncRuns(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	runs := []model.SyncRun{}
	if err := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	return runs, nil
}

func (s *gormStore) ListResourceSlots(ctx context.Context, q SlotQuery) ([]model.ResourceSlotCount, error) {
	tx := q.apply(s.db.WithContext(ctx))
	if q.Scope != "" {
		tx = tx.Where("resource_id = ?", q.Scope)
	}
	if q.Group != "" {
		tx = tx.Where("group_key = ?", q.Group)
	}
	rows := []model.ResourceSlotCount{}
	if err := tx.Order("date, resource_id, category").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list resource slot counts: %w", err)
	}
	return rows, nil
}

func (s *gormStore) ListGroupSlots(ctx context.Context, q SlotQuery) ([]model.GroupSlotCount, error) {
	tx := q.apply(s.db.WithContext(ctx))
	if q.Group != "" {
		tx = tx.Where("group_key = ?", q.Group)
	}
	rows := []model.GroupSlotCount{}
	if err := tx.Order("date, group_key, category").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list group slot counts: %w", err)
	}
	return rows, nil
}

func (s *gormStore) ListAppointments(ctx context.Context, q AppointmentQuery) ([]model.Appointment, error) {
	tx := s.db.WithContext(ctx)
	if !q.From.IsZero() {
		tx = tx.Where("start_time >= ?", q.From)
	}
	if !q.To.IsZero() {
		tx = tx.Where("start_time < ?", q.To)
	}
	if q.ResourceID != "" {
		tx = tx.Where("resource_id = ?", q.ResourceID)
	}
	if q.Category != "" {
		tx = tx.Where("category = ?", q.Category)
	}
	if !q.IncludeCanceled {
		tx = tx.Where("status <> ?", model.StatusCanceled)
	}
	limit := q.Limit
	if limit <= 0 || limit > MaxAppointmentPage {
		limit = MaxAppointmentPage
	}
	rows := []model.Appointment{}
	if err := tx.Order("start_time, external_id").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return rows, nil
}
