// Package service orchestrates certificate issuance, revocation and
// verification across the database, the content store and the ledger.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"certledger/internal/certificate/idgen"
	"certledger/internal/certificate/metrics"
	"certledger/internal/certificate/models"
	"certledger/internal/contentstore"
	"certledger/internal/ledger"
	"certledger/pkg/attrs"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/audit"
	"certledger/pkg/platform/circuit"
	"certledger/pkg/platform/middleware/request"
	txcontext "certledger/pkg/platform/tx"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks CertificateStore,UserStore,RequestStore,AuditPublisher

type CertificateStore interface {
	Create(ctx context.Context, c *models.Certificate) error
	Update(ctx context.Context, c *models.Certificate) error
	FindByID(ctx context.Context, certID id.CertificateID) (*models.Certificate, error)
	FindByLedgerReference(ctx context.Context, ref id.TxReference) (*models.Certificate, error)
}

type UserStore interface {
	FindByID(ctx context.Context, userID id.UserID) (*models.User, error)
	FindStudentByRollNumber(ctx context.Context, instituteID id.UserID, rollNumber string) (*models.User, error)
}

type RequestStore interface {
	FindByID(ctx context.Context, requestID id.CertificateRequestID) (*models.CertificateRequest, error)
	Save(ctx context.Context, r *models.CertificateRequest) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Config bounds the external calls the service makes.
type Config struct {
	BatchWorkers        int
	ContentStoreTimeout time.Duration
	LedgerTimeout       time.Duration
	PersistTimeout      time.Duration

	// RequireLedger makes verification fail closed when the ledger cannot be read.
	RequireLedger        bool
	VerifyLedgerTimeout  time.Duration
	VerifyPayloadTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchWorkers <= 0 {
		c.BatchWorkers = 4
	}
	if c.ContentStoreTimeout <= 0 {
		c.ContentStoreTimeout = 30 * time.Second
	}
	if c.LedgerTimeout <= 0 {
		c.LedgerTimeout = 2 * time.Minute
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 10 * time.Second
	}
	if c.VerifyLedgerTimeout <= 0 {
		c.VerifyLedgerTimeout = 5 * time.Second
	}
	if c.VerifyPayloadTimeout <= 0 {
		c.VerifyPayloadTimeout = 5 * time.Second
	}
	return c
}

// Service drives certificates through content store, ledger and database.
type Service struct {
	certificates CertificateStore
	users        UserStore
	requests     RequestStore
	ledger       ledger.Client
	content      contentstore.Client
	cfg          Config

	ids            idgen.Generator
	tx             txcontext.Runner
	ledgerBreaker  *circuit.Breaker
	validate       *validator.Validate
	tracer         trace.Tracer
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithIDGenerator replaces the random certificate ID source.
func WithIDGenerator(g idgen.Generator) Option {
	return func(s *Service) {
		s.ids = g
	}
}

// WithTxRunner makes state changes and their compliance events commit together.
func WithTxRunner(r txcontext.Runner) Option {
	return func(s *Service) {
		s.tx = r
	}
}

// WithLedgerBreaker sets the circuit breaker guarding verification reads.
func WithLedgerBreaker(b *circuit.Breaker) Option {
	return func(s *Service) {
		s.ledgerBreaker = b
	}
}

// New constructs a Service.
func New(
	certificates CertificateStore,
	users UserStore,
	requests RequestStore,
	ledgerClient ledger.Client,
	content contentstore.Client,
	cfg Config,
	opts ...Option,
) *Service {
	s := &Service{
		certificates:  certificates,
		users:         users,
		requests:      requests,
		ledger:        ledgerClient,
		content:       content,
		cfg:           cfg.withDefaults(),
		ids:           idgen.Random{},
		tx:            txcontext.NoopRunner{},
		ledgerBreaker: circuit.New("ledger"),
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		tracer:        otel.Tracer("certledger/certificate"),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// startSpan opens a span around one external call.
func (s *Service) startSpan(ctx context.Context, name string, certID id.CertificateID) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, name)
	span.SetAttributes(attribute.String("certificate.id", certID.String()))
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// emit publishes an event and reports failure. Used for compliance events
// that must commit with the state change they describe.
func (s *Service) emit(ctx context.Context, event audit.Event) error {
	if s.auditPublisher == nil {
		return nil
	}
	if event.RequestID == "" {
		event.RequestID = request.GetRequestID(ctx)
	}
	return s.auditPublisher.Emit(ctx, event)
}

// logAudit logs an audit line and emits the event best-effort.
func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, attributes ...any) {
	if requestID := request.GetRequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", string(event), "log_type", "audit")
	if s.logger != nil {
		s.logger.InfoContext(ctx, string(event), args...)
	}
	if s.auditPublisher == nil {
		return
	}
	_ = s.auditPublisher.Emit(ctx, audit.Event{
		Subject:         attrs.ExtractString(attributes, "certificate_id"),
		Action:          string(event),
		ActorID:         attrs.ExtractString(attributes, "actor_id"),
		Decision:        attrs.ExtractString(attributes, "decision"),
		Reason:          attrs.ExtractString(attributes, "reason"),
		LedgerReference: attrs.ExtractString(attributes, "ledger_reference"),
		RequestID:       attrs.ExtractString(attributes, "request_id"),
		ClientIP:        attrs.ExtractString(attributes, "client_ip"),
		Verifier:        attrs.ExtractString(attributes, "verifier"),
	})
}

// validationError renders the first failed field of a validator error.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return dErrors.Newf(dErrors.CodeValidation, "%s failed %s validation", fe.Field(), fe.Tag())
	}
	return dErrors.Wrap(err, dErrors.CodeValidation, "invalid input")
}

// ledgerError translates a ledger failure into the domain taxonomy.
func ledgerError(err error, msg string) *dErrors.Error {
	if ledger.IsTransient(err) {
		return dErrors.Wrap(err, dErrors.CodeLedgerTransient, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeLedgerPermanent, msg)
}

func persistenceError(err error, format string, args ...any) *dErrors.Error {
	return dErrors.Wrap(err, dErrors.CodePersistence, fmt.Sprintf(format, args...))
}
