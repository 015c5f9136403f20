/*
Package outbox persists outbound messages into the `message` table in
the same ambient database transaction as the caller's business write
(§3, §4.1, §6). The row is later drained into the broker by an external
CDC relay, which is out of scope for this module.
*/
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate/dbctx"
	apperrors "github.com/chris-alexander-pop/eventuate-tram-go/pkg/errors"
	"gorm.io/gorm"
)

// DefaultSchema is the schema name used when Config.Schema is empty,
// matching the teacher-adjacent convention of a configurable schema
// with a sane default (§6).
const DefaultSchema = "eventuate"

// Row is the gorm model backing the `message` table (§6).
type Row struct {
	ID           string `gorm:"primaryKey;column:id"`
	Destination  string `gorm:"column:destination;not null"`
	Headers      string `gorm:"column:headers;not null"`
	Payload      string `gorm:"column:payload;not null"`
	CreationTime time.Time `gorm:"column:creation_time;autoCreateTime"`
	Published    int16  `gorm:"column:published;not null;default:0"`
}

// TableName is resolved per-Store instance via GormStore.tableName so the
// schema is configurable; gorm's Table() clause is used instead of a
// fixed TableName() method.

// Store persists Rows inside the ambient transaction found on ctx.
type Store interface {
	// Insert writes a row for the message id under destination. The
	// gorm.DB used is whatever dbctx.FromContext(ctx, ...) returns, so the insert is enlisted
	// in the caller's transaction (§4.1 step 4).
	Insert(ctx context.Context, id, destination string, headers map[string]string, payload string) error
}

// GormStore is the Postgres/gorm-backed Store.
type GormStore struct {
	db     *gorm.DB
	schema string
}

// Config configures a GormStore.
type Config struct {
	// Schema is the database schema the message/received_messages
	// tables live in. Defaults to DefaultSchema.
	Schema string `env:"EVENTUATE_DB_SCHEMA" env-default:"eventuate"`
}

// NewGormStore wraps db (the process-wide *gorm.DB, used only to read
// dialect info and as a fallback when ctx carries no ambient
// transaction) with the given schema.
func NewGormStore(db *gorm.DB, cfg Config) *GormStore {
	schema := cfg.Schema
	if schema == "" {
		schema = DefaultSchema
	}
	return &GormStore{db: db, schema: schema}
}

func (s *GormStore) tableName() string {
	if s.db.Dialector.Name() == "sqlite" {
		// sqlite has no schema qualification; tests run against a
		// single in-memory database with unqualified table names.
		return "message"
	}
	return s.schema + ".message"
}

func (s *GormStore) Insert(ctx context.Context, id, destination string, headers map[string]string, payload string) error {
	encodedHeaders, err := json.Marshal(headers)
	if err != nil {
		return apperrors.New(CodeSerializationFailed, "failed to serialize message headers", err)
	}

	row := Row{
		ID:          id,
		Destination: destination,
		Headers:     string(encodedHeaders),
		Payload:     payload,
	}

	tx := dbctx.FromContext(ctx, s.db)
	if err := tx.WithContext(ctx).Table(s.tableName()).Create(&row).Error; err != nil {
		return apperrors.New(CodeInsertFailed, "failed to insert outbox row", err)
	}
	return nil
}

// Reset truncates the message table. Intended for admin tooling and
// test fixtures (§6: "cleared by admin tooling").
func Reset(ctx context.Context, db *gorm.DB, cfg Config) error {
	schema := cfg.Schema
	if schema == "" {
		schema = DefaultSchema
	}
	table := schema + ".message"
	if db.Dialector.Name() == "sqlite" {
		table = "message"
	}
	if err := db.WithContext(ctx).Exec("DELETE FROM " + table).Error; err != nil {
		return apperrors.New(CodeInsertFailed, "failed to reset outbox table", err)
	}
	return nil
}
