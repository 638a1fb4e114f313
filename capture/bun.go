package capture

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	shopagent "github.com/goliatone/go-shopagent"
	"github.com/uptrace/bun"
)

const sqliteCreateCaptures = `CREATE TABLE IF NOT EXISTS product_captures (
    "key" TEXT NOT NULL PRIMARY KEY,
    name TEXT NOT NULL,
    url TEXT NOT NULL,
    captured_at TIMESTAMP NOT NULL
);`

// CaptureModel is the Bun model of a product capture.
type CaptureModel struct {
	bun.BaseModel `bun:"table:product_captures,alias:pc"`

	Key        string    `bun:"key,pk"`
	Name       string    `bun:"name,notnull"`
	URL        string    `bun:"url,notnull"`
	CapturedAt time.Time `bun:"captured_at,notnull"`
}

// BunRecorder stores captures in a SQL database.
type BunRecorder struct {
	db  *bun.DB
	now func() time.Time
}

var _ Recorder = (*BunRecorder)(nil)

// NewBunRecorder creates a recorder over db.
func NewBunRecorder(db *bun.DB) *BunRecorder {
	return &BunRecorder{db: db, now: time.Now}
}

// Migrate creates the captures table.
func (b *BunRecorder) Migrate(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, sqliteCreateCaptures)
	return err
}

// Record upserts the capture, refreshing name and time for a known URL.
func (b *BunRecorder) Record(ctx context.Context, info shopagent.ProductInfo) (string, error) {
	if err := validate(info); err != nil {
		return "", err
	}
	key, err := Key(info.URL)
	if err != nil {
		return "", err
	}

	model := &CaptureModel{
		Key:        key,
		Name:       strings.TrimSpace(info.Name),
		URL:        strings.TrimSpace(info.URL),
		CapturedAt: b.now().UTC(),
	}
	_, err = b.db.NewInsert().
		Model(model).
		On(`CONFLICT ("key") DO UPDATE`).
		Set("name = EXCLUDED.name").
		Set("captured_at = EXCLUDED.captured_at").
		Exec(ctx)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store product capture")
	}
	return key, nil
}

func (b *BunRecorder) Get(ctx context.Context, key string) (Record, bool, error) {
	model := &CaptureModel{}
	err := b.db.NewSelect().
		Model(model).
		Where("?TableAlias.key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	return Record{
		Key:        model.Key,
		Name:       model.Name,
		URL:        model.URL,
		CapturedAt: model.CapturedAt,
	}, true, nil
}
