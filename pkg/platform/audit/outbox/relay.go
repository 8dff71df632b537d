// Package outbox relays audit events written to the outbox table onto Kafka.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	audit "certledger/pkg/platform/audit"
)

// Source is the outbox table.
type Source interface {
	FetchUnpublished(ctx context.Context, limit int) ([]audit.OutboxEntry, error)
	MarkPublished(ctx context.Context, entryID uuid.UUID, at time.Time) error
}

// Producer writes one record to a topic and returns once the broker acknowledged it.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte) error
}

// Relay moves outbox entries to Kafka at least once. Entries are keyed by
// certificate identifier so one certificate's events stay ordered on a partition.
type Relay struct {
	source      Source
	producer    Producer
	topicPrefix string
	batchSize   int
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Relay)

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		r.now = now
	}
}

func NewRelay(source Source, producer Producer, topicPrefix string, opts ...Option) *Relay {
	r := &Relay{
		source:      source,
		producer:    producer,
		topicPrefix: topicPrefix,
		batchSize:   100,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Topic returns the topic events of the given category are produced to.
func (r *Relay) Topic(category audit.EventCategory) string {
	return fmt.Sprintf("%s.%s", r.topicPrefix, category)
}

// Topics lists every topic the relay may produce to.
func (r *Relay) Topics() []string {
	return []string{
		r.Topic(audit.CategoryCompliance),
		r.Topic(audit.CategorySecurity),
		r.Topic(audit.CategoryOperations),
	}
}

// RunOnce relays one batch and returns how many entries were published.
// It stops at the first produce failure so ordering per certificate holds.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	entries, err := r.source.FetchUnpublished(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	published := 0
	for _, e := range entries {
		category := e.Category
		if category == "" {
			category = audit.AuditEvent(e.EventType).Category()
		}
		if err := r.producer.Produce(ctx, r.Topic(category), []byte(e.AggregateID), e.Payload); err != nil {
			return published, fmt.Errorf("produce outbox entry %s: %w", e.ID, err)
		}
		if err := r.source.MarkPublished(ctx, e.ID, r.now()); err != nil {
			// the entry will be produced again next round; consumers dedupe on payload id
			return published, err
		}
		published++
	}
	return published, nil
}

// Run polls the outbox until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.RunOnce(ctx)
			if err != nil {
				r.logger.ErrorContext(ctx, "outbox relay failed", "published", n, "error", err)
				continue
			}
			if n > 0 {
				r.logger.DebugContext(ctx, "outbox relayed", "published", n)
			}
		}
	}
}
