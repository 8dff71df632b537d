package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies and topic routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal significance: a certificate
	// was issued or revoked. Long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to monitoring for abuse:
	// verification lookups and scope violations.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers events that need an operator: ledger failures
	// and cross-system divergence.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// Subject is the certificate identifier the event is about.
	Subject string
	Action  string
	// ActorID is the institute (or "system" for the sweeper) performing the action.
	ActorID         string
	Decision        string
	Reason          string
	LedgerReference string
	RequestID       string
	ClientIP        string
	// Verifier is a coarse user-agent classification for verification events.
	Verifier string
}

type AuditEvent string

const (
	EventCertificateIssued       AuditEvent = "certificate_issued"
	EventCertificateLedgerFailed AuditEvent = "certificate_ledger_failed"
	EventCertificateRevoked      AuditEvent = "certificate_revoked"
	EventCertificateVerified     AuditEvent = "certificate_verified"
	EventRevocationForbidden     AuditEvent = "revocation_forbidden"
	EventReconciliationWarning   AuditEvent = "reconciliation_warning"
	EventReconciliationRepaired  AuditEvent = "reconciliation_repaired"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventCertificateIssued:  CategoryCompliance,
	EventCertificateRevoked: CategoryCompliance,

	EventCertificateVerified: CategorySecurity,
	EventRevocationForbidden: CategorySecurity,

	EventCertificateLedgerFailed: CategoryOperations,
	EventReconciliationWarning:   CategoryOperations,
	EventReconciliationRepaired:  CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
}

// OutboxEntry is one serialized event waiting to be relayed to the broker.
type OutboxEntry struct {
	ID          uuid.UUID
	AggregateID string
	EventType   string
	Category    EventCategory
	Payload     []byte
	CreatedAt   time.Time
}
