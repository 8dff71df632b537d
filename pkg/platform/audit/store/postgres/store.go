package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	audit "certledger/pkg/platform/audit"
	txcontext "certledger/pkg/platform/tx"

	"github.com/google/uuid"
)

// Store implements audit.Store using the transactional outbox pattern.
// Events are written to the outbox table and relayed to Kafka by outbox.Relay.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// outboxPayload is the JSON structure published to Kafka.
type outboxPayload struct {
	ID              string `json:"id"`
	Category        string `json:"category"`
	Timestamp       string `json:"timestamp"`
	Subject         string `json:"subject"`
	Action          string `json:"action"`
	ActorID         string `json:"actor_id,omitempty"`
	Decision        string `json:"decision,omitempty"`
	Reason          string `json:"reason,omitempty"`
	LedgerReference string `json:"ledger_reference,omitempty"`
	RequestID       string `json:"request_id,omitempty"`
	ClientIP        string `json:"client_ip,omitempty"`
	Verifier        string `json:"verifier,omitempty"`
}

// Append writes an audit event to the outbox table for Kafka publishing.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()

	// category is always derived from the action
	category := audit.AuditEvent(event.Action).Category()

	payload := outboxPayload{
		ID:              eventID.String(),
		Category:        string(category),
		Timestamp:       event.Timestamp.UTC().Format(time.RFC3339Nano),
		Subject:         event.Subject,
		Action:          event.Action,
		ActorID:         event.ActorID,
		Decision:        event.Decision,
		Reason:          event.Reason,
		LedgerReference: event.LedgerReference,
		RequestID:       event.RequestID,
		ClientIP:        event.ClientIP,
		Verifier:        event.Verifier,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, category, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		eventID,
		"certificate",
		event.Subject,
		event.Action,
		string(category),
		payloadBytes,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// ListBySubject returns the events recorded for one certificate, oldest first.
func (s *Store) ListBySubject(ctx context.Context, subject string) ([]audit.Event, error) {
	query := `
		SELECT payload
		FROM outbox
		WHERE aggregate_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, subject)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan outbox payload: %w", err)
		}
		event, err := decodePayload(raw)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return events, nil
}

// FetchUnpublished returns up to limit entries that have not been relayed yet.
// A single relay instance is assumed.
func (s *Store) FetchUnpublished(ctx context.Context, limit int) ([]audit.OutboxEntry, error) {
	query := `
		SELECT id, aggregate_id, event_type, category, payload, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unpublished outbox: %w", err)
	}
	defer rows.Close()

	var entries []audit.OutboxEntry
	for rows.Next() {
		var (
			e        audit.OutboxEntry
			category string
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &category, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		e.Category = audit.EventCategory(category)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return entries, nil
}

// MarkPublished stamps an entry as relayed.
func (s *Store) MarkPublished(ctx context.Context, entryID uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE outbox SET published_at = $2 WHERE id = $1`, entryID, at)
	if err != nil {
		return fmt.Errorf("mark outbox entry published: %w", err)
	}
	return nil
}

func decodePayload(raw []byte) (audit.Event, error) {
	var p outboxPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return audit.Event{}, fmt.Errorf("decode outbox payload: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		return audit.Event{}, fmt.Errorf("decode outbox timestamp: %w", err)
	}
	return audit.Event{
		Category:        audit.EventCategory(p.Category),
		Timestamp:       ts,
		Subject:         p.Subject,
		Action:          p.Action,
		ActorID:         p.ActorID,
		Decision:        p.Decision,
		Reason:          p.Reason,
		LedgerReference: p.LedgerReference,
		RequestID:       p.RequestID,
		ClientIP:        p.ClientIP,
		Verifier:        p.Verifier,
	}, nil
}
