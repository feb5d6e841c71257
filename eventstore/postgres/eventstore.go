package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"

	"github.com/corefold/eventsourcing"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var _ eventsourcing.EventStore = (*Store)(nil)

// SchemaDDL creates the events table. The unique constraint on
// (stream_id, originator_version) is what turns a racing append into a
// detectable conflict instead of a corrupted stream.
const SchemaDDL = `
CREATE TABLE IF NOT EXISTS events (
	global_version     BIGSERIAL PRIMARY KEY,
	event_id           UUID        NOT NULL,
	stream_id          TEXT        NOT NULL,
	event_name         TEXT        NOT NULL,
	originator_id      UUID        NOT NULL,
	originator_version BIGINT      NOT NULL,
	timestamp          TIMESTAMPTZ NOT NULL,
	fields             JSONB       NOT NULL DEFAULT '{}',
	metadata           JSONB       NOT NULL DEFAULT '{}',
	UNIQUE (stream_id, originator_version)
);
CREATE INDEX IF NOT EXISTS events_stream_idx ON events (stream_id, originator_version);
`

const uniqueViolation = "23505"

var dialect = goqu.Dialect("postgres")

// Store keeps streams in a single PostgreSQL events table. Event payloads
// are stored as JSONB and rebuilt against the registered schemas on load.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL and ensures the events table exists.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect event store: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.Exec(SchemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate event store: %w", err)
	}
	return &Store{db: db}, nil
}

type eventRow struct {
	GlobalVersion     uint64    `db:"global_version"`
	EventID           uuid.UUID `db:"event_id"`
	StreamID          string    `db:"stream_id"`
	EventName         string    `db:"event_name"`
	OriginatorID      uuid.UUID `db:"originator_id"`
	OriginatorVersion uint64    `db:"originator_version"`
	Timestamp         time.Time `db:"timestamp"`
	Fields            []byte    `db:"fields"`
	Metadata          []byte    `db:"metadata"`
}

func (s *Store) Save(ctx context.Context, events []eventsourcing.Envelope, state eventsourcing.StreamState) (eventsourcing.AppendResult, error) {
	if len(events) == 0 {
		return eventsourcing.AppendResult{Successful: true}, nil
	}

	streamID := events[0].StreamID
	for i, env := range events {
		if env.StreamID != streamID {
			return eventsourcing.AppendResult{}, fmt.Errorf(
				"save events to stream %q: %w: event %d has different stream ID %q",
				streamID, eventsourcing.ErrInvalidEventBatch, i, env.StreamID,
			)
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return eventsourcing.AppendResult{}, eventsourcing.WrapEventStoreError(err)
	}
	defer tx.Rollback()

	var currentVersion uint64
	query, args, err := dialect.From("events").
		Select(goqu.COALESCE(goqu.MAX("originator_version"), 0)).
		Where(goqu.C("stream_id").Eq(streamID)).
		Prepared(true).ToSQL()
	if err != nil {
		return eventsourcing.AppendResult{}, eventsourcing.WrapEventStoreError(err)
	}
	if err := tx.GetContext(ctx, &currentVersion, query, args...); err != nil {
		return eventsourcing.AppendResult{}, eventsourcing.WrapEventStoreError(err)
	}

	switch rev := state.(type) {
	case eventsourcing.Any:
		// No concurrency check.
	case eventsourcing.NoStream:
		if currentVersion != 0 {
			return eventsourcing.AppendResult{Successful: false},
				fmt.Errorf("stream %q: %w", streamID, eventsourcing.ErrStreamExists)
		}
	case eventsourcing.StreamExists:
		if currentVersion == 0 {
			return eventsourcing.AppendResult{Successful: false},
				fmt.Errorf("stream %q: %w", streamID, eventsourcing.ErrStreamNotFound)
		}
	case eventsourcing.Revision:
		if currentVersion != uint64(rev) {
			return eventsourcing.AppendResult{Successful: false}, &eventsourcing.VersionError{
				Stream:   streamID,
				Expected: uint64(rev),
				Actual:   currentVersion,
			}
		}
	default:
		return eventsourcing.AppendResult{Successful: false},
			fmt.Errorf("unsupported stream state for stream %q: %w", streamID, eventsourcing.ErrInvalidRevision)
	}

	records := make([]any, 0, len(events))
	for i := range events {
		ev := events[i].Event

		fields, err := json.Marshal(ev.Fields())
		if err != nil {
			return eventsourcing.AppendResult{}, eventsourcing.WrapEventStoreError(err)
		}
		metadata := []byte("{}")
		if len(events[i].Metadata) > 0 {
			metadata, err = json.Marshal(events[i].Metadata)
			if err != nil {
				return eventsourcing.AppendResult{}, eventsourcing.WrapEventStoreError(err)
			}
		}

		records = append(records, goqu.Record{
			"event_id":           events[i].EventID,
			"stream_id":          events[i].StreamID,
			"event_name":         ev.Name(),
			"originator_id":      ev.OriginatorID(),
			"originator_version": ev.OriginatorVersion(),
			"timestamp":          ev.Timestamp(),
			"fields":             fields,
			"metadata":           metadata,
		})
	}

	query, args, err = dialect.Insert("events").
		Rows(records...).
		Returning("global_version").
		Prepared(true).ToSQL()
	if err != nil {
		return eventsourcing.AppendResult{}, eventsourcing.WrapEventStoreError(err)
	}

	rows, err := tx.QueryxContext(ctx, query, args...)
	if err != nil {
		// A concurrent writer that got past the version check commits
		// first and trips the unique constraint here.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return eventsourcing.AppendResult{Successful: false}, &eventsourcing.VersionError{
				Stream:   streamID,
				Expected: events[0].Event.OriginatorVersion() - 1,
				Actual:   currentVersion,
			}
		}
		return eventsourcing.AppendResult{}, eventsourcing.WrapEventStoreError(err)
	}
	i := 0
	for rows.Next() {
		if err := rows.Scan(&events[i].GlobalVersion); err != nil {
			rows.Close()
			return eventsourcing.AppendResult{}, eventsourcing.WrapEventStoreError(err)
		}
		i++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return eventsourcing.AppendResult{}, eventsourcing.WrapEventStoreError(err)
	}

	if err := tx.Commit(); err != nil {
		return eventsourcing.AppendResult{}, eventsourcing.WrapEventStoreError(err)
	}

	return eventsourcing.AppendResult{
		Successful:          true,
		StreamID:            streamID,
		NextExpectedVersion: events[len(events)-1].Event.OriginatorVersion(),
	}, nil
}

func (s *Store) LoadStream(ctx context.Context, id string) (*eventsourcing.Iterator[*eventsourcing.Envelope], error) {
	return s.LoadStreamFrom(ctx, id, 0)
}

func (s *Store) LoadStreamFrom(ctx context.Context, id string, version uint64) (*eventsourcing.Iterator[*eventsourcing.Envelope], error) {
	var exists bool
	query, args, err := dialect.Select(goqu.V(true)).
		From("events").
		Where(goqu.C("stream_id").Eq(id)).
		Limit(1).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, eventsourcing.WrapEventStoreError(err)
	}
	if err := s.db.GetContext(ctx, &exists, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("load stream %q: %w", id, eventsourcing.ErrStreamNotFound)
		}
		return nil, eventsourcing.WrapEventStoreError(err)
	}

	query, args, err = dialect.From("events").
		Select("global_version", "event_id", "stream_id", "event_name",
			"originator_id", "originator_version", "timestamp", "fields", "metadata").
		Where(goqu.C("stream_id").Eq(id), goqu.C("originator_version").Gt(version)).
		Order(goqu.C("originator_version").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, eventsourcing.WrapEventStoreError(err)
	}
	return s.query(ctx, query, args)
}

func (s *Store) LoadFromAll(ctx context.Context, position uint64) (*eventsourcing.Iterator[*eventsourcing.Envelope], error) {
	query, args, err := dialect.From("events").
		Select("global_version", "event_id", "stream_id", "event_name",
			"originator_id", "originator_version", "timestamp", "fields", "metadata").
		Where(goqu.C("global_version").Gt(position)).
		Order(goqu.C("global_version").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, eventsourcing.WrapEventStoreError(err)
	}
	return s.query(ctx, query, args)
}

func (s *Store) query(ctx context.Context, query string, args []any) (*eventsourcing.Iterator[*eventsourcing.Envelope], error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, eventsourcing.WrapEventStoreError(err)
	}

	nextFunc := func(ctx context.Context) (*eventsourcing.Envelope, error) {
		if !rows.Next() {
			defer rows.Close()
			if err := rows.Err(); err != nil {
				return nil, eventsourcing.WrapEventStoreError(err)
			}
			return nil, io.EOF
		}

		var row eventRow
		if err := rows.StructScan(&row); err != nil {
			rows.Close()
			return nil, eventsourcing.WrapEventStoreError(err)
		}
		return row.envelope()
	}

	return eventsourcing.NewIteratorFunc(nextFunc), nil
}

func (r *eventRow) envelope() (*eventsourcing.Envelope, error) {
	var fields map[string]any
	if err := json.Unmarshal(r.Fields, &fields); err != nil {
		return nil, eventsourcing.WrapEventStoreError(fmt.Errorf("decode fields of event %q: %w", r.EventName, err))
	}
	var metadata map[string]any
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &metadata); err != nil {
			return nil, eventsourcing.WrapEventStoreError(fmt.Errorf("decode metadata of event %q: %w", r.EventName, err))
		}
	}
	if len(metadata) == 0 {
		metadata = nil
	}

	ev, err := eventsourcing.NewStoredEvent(r.EventName, r.OriginatorID, r.OriginatorVersion, r.Timestamp.UTC(), fields)
	if err != nil {
		return nil, eventsourcing.WrapEventStoreError(fmt.Errorf("rebuild event %q: %w", r.EventName, err))
	}

	return &eventsourcing.Envelope{
		EventID:       r.EventID,
		StreamID:      r.StreamID,
		Metadata:      metadata,
		Event:         ev,
		Version:       r.OriginatorVersion,
		GlobalVersion: r.GlobalVersion,
		OccurredAt:    r.Timestamp.UTC(),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
