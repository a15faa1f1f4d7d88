package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"storyteller/internal/event"
)

const (
	postgresEventsTable      = "storyteller_events"
	postgresOperationTimeout = 5 * time.Second
)

// ErrEmptyDSN is returned when no postgres connection string is configured.
var ErrEmptyDSN = errors.New("store: postgres dsn is empty")

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// Postgres stores events in a shared PostgreSQL table. The connection is
// opened and the table created on first use.
type Postgres struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgres returns a backend for dsn without connecting.
func NewPostgres(dsn string) (*Postgres, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrEmptyDSN
	}
	return &Postgres{
		dsn:       dsn,
		tableName: postgresEventsTable,
		openDB:    sql.Open,
	}, nil
}

// Append inserts one event.
func (b *Postgres) Append(ctx context.Context, ev event.Event) error {
	if err := b.ensureReady(ctx); err != nil {
		return err
	}
	r, err := toRow(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (seq, id, kind, timestamp_ns, developer_group_id, relevance, target_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, pq.QuoteIdentifier(b.tableName))
	_, err = b.db.ExecContext(ctx, query,
		r.Seq, r.ID, r.Kind, r.TimestampNS, r.DeveloperGroupID, r.Relevance, r.TargetID, r.Payload,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("insert event %d: duplicate sequence or id: %w", r.Seq, err)
		}
		return fmt.Errorf("insert event %d: %w", r.Seq, err)
	}
	return nil
}

// Load returns every stored event in sequence order.
func (b *Postgres) Load(ctx context.Context) ([]event.Event, error) {
	if err := b.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT seq, id, kind, timestamp_ns, developer_group_id, relevance, target_id, payload
		FROM %s ORDER BY seq ASC`, pq.QuoteIdentifier(b.tableName))
	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Close closes the connection pool if it was opened.
func (b *Postgres) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *Postgres) ensureReady(ctx context.Context) error {
	b.initOnce.Do(func() {
		db, err := b.openDB("postgres", b.dsn)
		if err != nil {
			b.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				seq                BIGINT PRIMARY KEY,
				id                 TEXT NOT NULL UNIQUE,
				kind               TEXT NOT NULL,
				timestamp_ns       BIGINT NOT NULL,
				developer_group_id TEXT NOT NULL DEFAULT '',
				relevance          TEXT NOT NULL DEFAULT 'relevant',
				target_id          TEXT NOT NULL DEFAULT '',
				payload            TEXT NOT NULL
			)`, pq.QuoteIdentifier(b.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			b.initErr = fmt.Errorf("create events table: %w", err)
			return
		}
		b.db = db
	})
	return b.initErr
}
