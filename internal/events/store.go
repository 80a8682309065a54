package events

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the subset of pgxpool.Pool used by PGStore.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGStore writes events to the payment_events table.
type PGStore struct {
	DB Execer
}

const insertEventSQL = `INSERT INTO payment_events (id, topic, track_id, payload, occurred_at)
VALUES ($1, $2, $3, $4, $5)`

// InsertEvent implements EventStore.
func (s PGStore) InsertEvent(ctx context.Context, ev Event) error {
	_, err := s.DB.Exec(ctx, insertEventSQL, ev.ID, ev.Topic, ev.AggregateID, []byte(ev.Payload), ev.OccurredAt)
	return err
}
