// README: Trip transition history backed by PostgreSQL (append-only).
package trip

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"tripflow/internal/types"
)

// History records every applied transition. Implementations must be safe
// for concurrent use.
type History interface {
	Append(ctx context.Context, tr Transition) error
}

// HistoryEntry is one stored transition.
type HistoryEntry struct {
	ID         uuid.UUID
	Transition Transition
	CreatedAt  time.Time
}

type HistoryStore struct {
	db  *pgxpool.Pool
	now func() time.Time
}

func NewHistoryStore(db *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{db: db, now: time.Now}
}

func (s *HistoryStore) Append(ctx context.Context, tr Transition) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO trip_events (
			id, passenger_id, driver_id, event, from_state, to_state, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New(),
		string(tr.PassengerID),
		nullableID(tr.DriverID),
		tr.Event.String(),
		nullableState(tr.From),
		nullableState(tr.To),
		tr.Reason,
		s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("appending trip event: %w", err)
	}
	return nil
}

// List returns a passenger's transitions, oldest first.
func (s *HistoryStore) List(ctx context.Context, passengerID types.ID, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, passenger_id, driver_id, event, from_state, to_state, reason, created_at
		FROM trip_events
		WHERE passenger_id = $1
		ORDER BY created_at ASC
		LIMIT $2`, string(passengerID), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing trip events: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			e        HistoryEntry
			pid      string
			driverID sql.NullString
			event    string
			from, to sql.NullInt32
		)
		if err := rows.Scan(&e.ID, &pid, &driverID, &event, &from, &to, &e.Transition.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Transition.PassengerID = types.ID(pid)
		e.Transition.DriverID = types.ID(driverID.String)
		e.Transition.Event = parseEventKind(event)
		e.Transition.From = stateFromNull(from)
		e.Transition.To = stateFromNull(to)
		out = append(out, e)
	}
	return out, rows.Err()
}

func parseEventKind(name string) EventKind {
	for k, n := range eventNames {
		if n == name {
			return k
		}
	}
	return EventKind(-1)
}

func nullableID(id types.ID) *string {
	if id == "" {
		return nil
	}
	s := string(id)
	return &s
}

func nullableState(s *State) *int32 {
	if s == nil {
		return nil
	}
	v := int32(*s)
	return &v
}

func stateFromNull(v sql.NullInt32) *State {
	if !v.Valid {
		return nil
	}
	s := State(v.Int32)
	return &s
}
