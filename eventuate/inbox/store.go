/*
Package inbox implements the database-backed duplicate-detection gate
described in §3 ("Inbox row") and §4.5 step 2: inserting
(message_id, consumer_id) into received_messages is the atomic gate
that grants a handler the right to run.
*/
package inbox

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate/dbctx"
	apperrors "github.com/chris-alexander-pop/eventuate-tram-go/pkg/errors"
	"gorm.io/gorm"
)

// DefaultSchema mirrors outbox.DefaultSchema; kept independent so the
// two packages don't need to import one another just to share a
// constant.
const DefaultSchema = "eventuate"

// Row is the gorm model backing received_messages (§6).
type Row struct {
	MessageID    string    `gorm:"column:message_id;primaryKey"`
	ConsumerID   string    `gorm:"column:consumer_id;primaryKey"`
	CreationTime time.Time `gorm:"column:creation_time;autoCreateTime"`
}

// ErrDuplicate is returned by Store.Insert when (messageID, consumerID)
// already exists -- a primary-key conflict, per §3's invariant.
var ErrDuplicate = errors.New("inbox: duplicate message for consumer")

// Store gates handler execution via the received_messages table.
type Store interface {
	// Insert attempts to claim (messageID, consumerID). It returns
	// ErrDuplicate, without error-wrapping, when the pair already
	// exists so callers can short-circuit on errors.Is.
	Insert(ctx context.Context, messageID, consumerID string) error
}

// GormStore is the Postgres/gorm-backed Store.
type GormStore struct {
	db     *gorm.DB
	schema string
}

// Config configures a GormStore.
type Config struct {
	Schema string `env:"EVENTUATE_DB_SCHEMA" env-default:"eventuate"`
}

// NewGormStore wraps db (used only for dialect info and as the
// fallback connection when ctx carries no ambient transaction).
func NewGormStore(db *gorm.DB, cfg Config) *GormStore {
	schema := cfg.Schema
	if schema == "" {
		schema = DefaultSchema
	}
	return &GormStore{db: db, schema: schema}
}

func (s *GormStore) tableName() string {
	if s.db.Dialector.Name() == "sqlite" {
		return "received_messages"
	}
	return s.schema + ".received_messages"
}

func (s *GormStore) Insert(ctx context.Context, messageID, consumerID string) error {
	tx := dbctx.FromContext(ctx, s.db)

	row := Row{MessageID: messageID, ConsumerID: consumerID}
	err := tx.WithContext(ctx).Table(s.tableName()).Create(&row).Error
	if err == nil {
		return nil
	}
	if isPrimaryKeyConflict(err) {
		return ErrDuplicate
	}
	return apperrors.New(CodeInsertFailed, "failed to insert inbox row", err)
}

// isPrimaryKeyConflict recognizes the handful of driver-specific
// "unique constraint violated" error shapes gorm surfaces verbatim
// from the underlying driver (Postgres, SQLite) rather than
// normalizing them, since gorm itself does not provide a
// dialect-agnostic ErrDuplicatedKey outside of its own soft-delete
// helpers.
func isPrimaryKeyConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "duplicate key value violates unique constraint") // postgres
}

// Reset truncates received_messages. See outbox.Reset.
func Reset(ctx context.Context, db *gorm.DB, cfg Config) error {
	schema := cfg.Schema
	if schema == "" {
		schema = DefaultSchema
	}
	table := schema + ".received_messages"
	if db.Dialector.Name() == "sqlite" {
		table = "received_messages"
	}
	if err := db.WithContext(ctx).Exec("DELETE FROM " + table).Error; err != nil {
		return apperrors.New(CodeInsertFailed, "failed to reset inbox table", err)
	}
	return nil
}
