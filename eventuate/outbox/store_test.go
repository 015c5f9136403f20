package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate/dbctx"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var errRollbackTest = errors.New("boom")

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// a name unique to the test, scoped with mode=memory&cache=shared, so
	// each test gets its own SQLite database even though the driver may
	// open more than one connection against it.
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Exec(`CREATE TABLE message (
		id TEXT PRIMARY KEY,
		destination TEXT NOT NULL,
		headers TEXT NOT NULL,
		payload TEXT NOT NULL,
		creation_time DATETIME,
		published INTEGER NOT NULL DEFAULT 0
	)`).Error)

	return db
}

func TestGormStoreInsert(t *testing.T) {
	db := newTestDB(t)
	store := NewGormStore(db, Config{})
	ctx := context.Background()

	err := store.Insert(ctx, "msg-1", "Order", map[string]string{"EVENT_TYPE": "OrderCreated"}, `{"id":1}`)
	require.NoError(t, err)

	var row Row
	require.NoError(t, db.Table("message").First(&row, "id = ?", "msg-1").Error)
	require.Equal(t, "Order", row.Destination)
	require.JSONEq(t, `{"EVENT_TYPE":"OrderCreated"}`, row.Headers)
}

func TestGormStoreInsertUsesAmbientTransaction(t *testing.T) {
	db := newTestDB(t)
	store := NewGormStore(db, Config{})

	err := db.Transaction(func(tx *gorm.DB) error {
		ctx := dbctx.WithTx(context.Background(), tx)
		if err := store.Insert(ctx, "msg-2", "Order", nil, "payload"); err != nil {
			return err
		}
		// row is visible inside the same transaction
		var count int64
		tx.Table("message").Where("id = ?", "msg-2").Count(&count)
		require.Equal(t, int64(1), count)
		return errRollbackTest
	})
	require.ErrorIs(t, err, errRollbackTest)

	// the transaction rolled back, so the row must not have been committed
	var count int64
	db.Table("message").Where("id = ?", "msg-2").Count(&count)
	require.Equal(t, int64(0), count)
}

func TestReset(t *testing.T) {
	db := newTestDB(t)
	store := NewGormStore(db, Config{})
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, "msg-3", "Order", nil, "payload"))
	require.NoError(t, Reset(ctx, db, Config{}))

	var count int64
	db.Table("message").Count(&count)
	require.Equal(t, int64(0), count)
}
