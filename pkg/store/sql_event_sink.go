package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Mindburn-Labs/intake/pkg/contracts"
)

const eventsSchema = `
CREATE TABLE IF NOT EXISTS submission_events (
	event_id TEXT PRIMARY KEY,
	submission_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	occurred_at TEXT NOT NULL,
	document TEXT NOT NULL
);`

// SQLEventSink is a durable, insert-only submission.EventSink. A repeated
// event id violates the primary key and fails the append.
type SQLEventSink struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLEventSink(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLEventSink, error) {
	if _, err := db.ExecContext(ctx, eventsSchema); err != nil {
		return nil, fmt.Errorf("migrate submission_events: %w", err)
	}
	return &SQLEventSink{db: db, dialect: dialect}, nil
}

func (s *SQLEventSink) Append(ctx context.Context, ev contracts.Event) error {
	doc, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.EventID, err)
	}
	query := `
		INSERT INTO submission_events (event_id, submission_id, event_type, occurred_at, document)
		VALUES (?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, s.dialect.Rebind(query),
		ev.EventID, ev.SubmissionID, string(ev.Type), ev.Timestamp.UTC().Format(timeLayout), string(doc))
	if err != nil {
		return fmt.Errorf("failed to append event %s: %w", ev.EventID, err)
	}
	return nil
}

// List returns a submission's events in event id order, which for ULIDs is
// emission order.
func (s *SQLEventSink) List(ctx context.Context, submissionID string) ([]contracts.Event, error) {
	query := `SELECT document FROM submission_events WHERE submission_id = ? ORDER BY event_id ASC`
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), submissionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	events := make([]contracts.Event, 0)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		ev, err := decodeEvent([]byte(doc))
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
