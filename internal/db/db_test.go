package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slot-sync-backend/config"
	"slot-sync-backend/internal/model"
)

func TestInit_SQLite(t *testing.T) {
	gdb, err := Init(&config.DatabaseConfig{DSN: "file:db_init?mode=memory&cache=shared", MaxOpenConns: 1, MaxIdleConns: 1})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	defer sqlDB.Close()

	for _, table := range []any{&model.Appointment{}, &model.ResourceSlotCount{}, &model.GroupSlotCount{}, &model.SyncRun{}, &model.PushSubscription{}} {
		assert.True(t, gdb.Migrator().HasTable(table))
	}
	assert.True(t, gdb.Migrator().HasTable("slot_counts_by_group"))
}

func TestInit_SQLiteWithoutIdleSetting(t *testing.T) {
	// The in-memory database lives only while a connection stays open, so
	// an unset idle limit must not drop it between migrations.
	gdb, err := Init(&config.DatabaseConfig{DSN: "file:db_init_idle?mode=memory&cache=shared", MaxOpenConns: 1})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	defer sqlDB.Close()

	assert.True(t, gdb.Migrator().HasTable(&model.Appointment{}))
}
