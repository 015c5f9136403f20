package inbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Exec(`CREATE TABLE received_messages (
		message_id TEXT NOT NULL,
		consumer_id TEXT NOT NULL,
		creation_time DATETIME,
		PRIMARY KEY (message_id, consumer_id)
	)`).Error)

	return db
}

func TestGormStoreInsertClaimsOncePerConsumer(t *testing.T) {
	db := newTestDB(t)
	store := NewGormStore(db, Config{})
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, "msg-1", "order-service"))

	// a different consumer can still claim the same message id
	require.NoError(t, store.Insert(ctx, "msg-1", "billing-service"))
}

func TestGormStoreInsertDetectsDuplicate(t *testing.T) {
	db := newTestDB(t)
	store := NewGormStore(db, Config{})
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, "msg-1", "order-service"))

	err := store.Insert(ctx, "msg-1", "order-service")
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestReset(t *testing.T) {
	db := newTestDB(t)
	store := NewGormStore(db, Config{})
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, "msg-1", "order-service"))
	require.NoError(t, Reset(ctx, db, Config{}))

	require.NoError(t, store.Insert(ctx, "msg-1", "order-service"))
}
