package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"slot-sync-backend/config"
	"slot-sync-backend/internal/classify"
	"slot-sync-backend/internal/db"
	"slot-sync-backend/internal/model"
	"slot-sync-backend/internal/mw"
	"slot-sync-backend/internal/store"
	"slot-sync-backend/internal/syncer"
	"slot-sync-backend/internal/window"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSyncer struct {
	mu      sync.Mutex
	busy    bool
	windows []window.Window
}

func (f *fakeSyncer) Start(_ context.Context, w window.Window, _ syncer.Trigger) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return "", syncer.ErrSyncInProgress
	}
	f.windows = append(f.windows, w)
	return fmt.Sprintf("run-%d", len(f.windows)), nil
}

func (f *fakeSyncer) DefaultWindow() window.Window {
	return window.MustNew(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 7, 31, 0, 0, 0, 0, time.UTC))
}

type testEnv struct {
	db     *gorm.DB
	store  store.Store
	sync   *fakeSyncer
	cache  *mw.ResponseCache
	router *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))

	env := &testEnv{
		db:    gdb,
		store: store.NewGormStore(gdb, 0),
		sync:  &fakeSyncer{},
		cache: mw.NewResponseCache(time.Minute),
	}
	h := NewHandler(context.Background(), env.store, env.sync, nil, time.UTC)
	env.router = NewRouter(h, config.ServerConfig{RateLimitPerSec: 1000, RateLimitBurst: 1000, CacheTTLSeconds: 60}, env.cache)
	return env
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func day(d int) time.Time {
	return time.Date(2025, 7, d, 0, 0, 0, 0, time.UTC)
}

func (e *testEnv) seedSlots(t *testing.T) {
	t.Helper()
	for d := 1; d <= 3; d++ {
		res := e.store.UpsertResourceSlots(context.Background(), []model.ResourceSlotCount{
			{Date: day(d), ResourceID: "10", Category: classify.Measurement, ResourceLabel: "Store A - John", GroupKey: "Store A", TotalSlots: 10, BookedSlots: 2, AvailableSlots: 8},
			{Date: day(d), ResourceID: "11", Category: classify.Measurement, ResourceLabel: "Store A + add a guest", GroupKey: "Store A", TotalSlots: 8, BookedSlots: 1, AvailableSlots: 7},
		})
		require.Empty(t, res.Failed)
		res = e.store.UpsertGroupSlots(context.Background(), []model.GroupSlotCount{
			{Date: day(d), GroupKey: "Store A", Category: classify.Measurement, ResourceCount: 2, TotalSlots: 18, BookedSlots: 3, AvailableSlots: 15},
		})
		require.Empty(t, res.Failed)
	}
}

func TestGetResourceSlots(t *testing.T) {
	env := newTestEnv(t)
	env.seedSlots(t)

	w := env.do(http.MethodGet, "/api/slots/resources?from=2025-07-02&to=2025-07-03&resource=10", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Slots []model.ResourceSlotCount `json:"slots"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Slots, 2)
	assert.Equal(t, 8, body.Slots[0].AvailableSlots)
	assert.Equal(t, "Store A", body.Slots[0].GroupKey)
}

func TestGetGroupSlots(t *testing.T) {
	env := newTestEnv(t)
	env.seedSlots(t)

	w := env.do(http.MethodGet, "/api/slots/groups?group=Store%20A&category=measurement", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Slots []model.GroupSlotCount `json:"slots"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Slots, 3)
	assert.Equal(t, 18, body.Slots[0].TotalSlots)
}

func TestSlots_RejectBadParams(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{
		"/api/slots/resources?from=07-01-2025",
		"/api/slots/groups?from=2025-07-03&to=2025-07-01",
		"/api/slots/groups?category=haircut",
		"/api/appointments?limit=-1",
	} {
		w := env.do(http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestGetGroups(t *testing.T) {
	env := newTestEnv(t)
	env.seedSlots(t)

	w := env.do(http.MethodGet, "/api/groups?from=2025-07-01&to=2025-07-02", "")
	require.Equal(t, http.StatusOK, w.Code)

	var groups []GroupResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &groups))
	require.Len(t, groups, 1)
	assert.Equal(t, GroupResponse{
		GroupKey:       "Store A",
		Category:       classify.Measurement,
		Resources:      2,
		Days:           2,
		TotalSlots:     36,
		BookedSlots:    6,
		AvailableSlots: 30,
	}, groups[0])
}

func TestGetAppointments(t *testing.T) {
	env := newTestEnv(t)
	start := day(2).Add(10 * time.Hour)
	canceled := model.Appointment{ExternalID: "2", ResourceID: "10", TypeID: "1", Category: classify.Fitting, StartTime: start, EndTime: start, Status: model.StatusCanceled, SyncedAt: start}
	booked := model.Appointment{ExternalID: "1", ResourceID: "10", TypeID: "1", Category: classify.Fitting, StartTime: start, EndTime: start, Status: model.StatusScheduled, SyncedAt: start}
	later := booked
	later.ExternalID, later.StartTime = "3", day(5)
	env.store.UpsertAppointments(context.Background(), []model.Appointment{booked, canceled, later})

	w := env.do(http.MethodGet, "/api/appointments?from=2025-07-02&to=2025-07-02", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Appointments []model.Appointment `json:"appointments"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Appointments, 1)
	assert.Equal(t, "1", body.Appointments[0].ExternalID)

	w = env.do(http.MethodGet, "/api/appointments?include_canceled=true&to=2025-07-02", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Appointments, 2)
}

func TestPostSync(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/sync", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"runId":"run-1","window":"2025-07-01..2025-07-31"}`, w.Body.String())

	w = env.do(http.MethodPost, "/api/sync", `{"start":"2025-08-01","end":"2025-08-10"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "2025-08-01..2025-08-10", env.sync.windows[1].String())

	w = env.do(http.MethodPost, "/api/sync", `{"start":"2025-08-10","end":"2025-08-01"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/api/sync", `{"start":"2024-01-01","end":"2025-08-01"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.sync.busy = true
	w = env.do(http.MethodPost, "/api/sync", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSyncRuns(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	started := time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, env.store.CreateSyncRun(ctx, &model.SyncRun{ID: "a", State: model.RunSuccess, StartedAt: started}))
	require.NoError(t, env.store.CreateSyncRun(ctx, &model.SyncRun{ID: "b", State: model.RunPartialFailure, StartedAt: started.Add(time.Hour), Failed: 3}))

	w := env.do(http.MethodGet, "/api/sync/runs?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Runs []model.SyncRun `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Runs, 1)
	assert.Equal(t, "b", list.Runs[0].ID)

	w = env.do(http.MethodGet, "/api/sync/runs/b", "")
	require.Equal(t, http.StatusOK, w.Code)
	var run model.SyncRun
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, 3, run.Failed)

	w = env.do(http.MethodGet, "/api/sync/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestResponsesAreCachedUntilFlush(t *testing.T) {
	env := newTestEnv(t)
	env.seedSlots(t)

	w := env.do(http.MethodGet, "/api/slots/groups", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, env.db.Where("1 = 1").Delete(&model.GroupSlotCount{}).Error)

	cached := env.do(http.MethodGet, "/api/slots/groups", "")
	assert.Equal(t, w.Body.String(), cached.Body.String())

	env.cache.Flush()
	fresh := env.do(http.MethodGet, "/api/slots/groups", "")
	assert.JSONEq(t, `{"slots":[]}`, fresh.Body.String())
}
