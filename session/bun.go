package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	shopagent "github.com/goliatone/go-shopagent"
	"github.com/uptrace/bun"
)

const sqliteCreateSessionRecords = `CREATE TABLE IF NOT EXISTS session_records (
    namespace TEXT NOT NULL PRIMARY KEY,
    payload TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP
);`

// SessionRecordModel is the Bun model for persisted session records.
type SessionRecordModel struct {
	bun.BaseModel `bun:"table:session_records,alias:sr"`

	Namespace string    `bun:"namespace,pk"`
	Payload   string    `bun:"payload,notnull"`
	Version   uint64    `bun:"version"`
	UpdatedAt time.Time `bun:"updated_at"`
}

// BunBackend persists the record in a SQL table, one row per namespace.
type BunBackend struct {
	db        *bun.DB
	namespace string
}

// NewBunBackend creates a backend for namespace.
func NewBunBackend(db *bun.DB, namespace string) *BunBackend {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &BunBackend{db: db, namespace: namespace}
}

// Migrate creates the session_records table when missing.
func (b *BunBackend) Migrate(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, sqliteCreateSessionRecords); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create session_records table")
	}
	return nil
}

// Load implements Backend.
func (b *BunBackend) Load(ctx context.Context) (shopagent.SessionState, bool, error) {
	var model SessionRecordModel
	err := b.db.NewSelect().
		Model(&model).
		Where("?TableAlias.namespace = ?", b.namespace).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return shopagent.SessionState{}, false, nil
		}
		return shopagent.SessionState{}, false, err
	}

	var state shopagent.SessionState
	if err := json.Unmarshal([]byte(model.Payload), &state); err != nil {
		return shopagent.SessionState{}, false, goerrors.Wrap(err, goerrors.CategoryInternal, "corrupt session record").
			WithMetadata(map[string]any{"namespace": b.namespace})
	}
	return state, true, nil
}

// Save implements Backend.
func (b *BunBackend) Save(ctx context.Context, state shopagent.SessionState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}

	model := &SessionRecordModel{
		Namespace: b.namespace,
		Payload:   string(payload),
		Version:   state.Version,
		UpdatedAt: state.UpdatedAt,
	}

	_, err = b.db.NewInsert().
		Model(model).
		On("CONFLICT (namespace) DO UPDATE").
		Set("payload = EXCLUDED.payload").
		Set("version = EXCLUDED.version").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}
