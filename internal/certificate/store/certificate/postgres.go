package certificate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"certledger/internal/certificate/models"
	"certledger/internal/platform/postgres"
	id "certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
	txcontext "certledger/pkg/platform/tx"
)

// PostgresStore persists certificates in PostgreSQL. Calls made with a
// context carrying a transaction (see pkg/platform/tx) join it.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) conn(ctx context.Context) dbConn {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const certificateColumns = `certificate_id, student_id, institute_id, certificate_type, course,
	department, year, roll_number, student_name, grade, cgpa, issue_date, content_hash,
	ledger_reference, ledger_status, status, revocation_reason, revoked_at, request_id,
	issued_at, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, c *models.Certificate) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO certificates (`+certificateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		c.CertificateID.String(),
		uuid.UUID(c.StudentID),
		uuid.UUID(c.InstituteID),
		c.Metadata.CertificateType,
		c.Metadata.Course,
		c.Metadata.Department,
		c.Metadata.Year,
		c.Metadata.RollNumber,
		c.Metadata.StudentName,
		c.Metadata.Grade,
		c.Metadata.CGPA,
		c.Metadata.IssueDate,
		c.ContentHash,
		nullString(c.LedgerReference.String()),
		string(c.LedgerStatus),
		string(c.Status),
		nullString(c.RevocationReason),
		nullTime(c.RevokedAt),
		nullRequestID(c.RequestID),
		c.IssuedAt,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

// Update writes the mutable columns: ledger and revocation state. Only ISSUED
// rows are written; a revoked row yields sentinel.ErrConflict.
func (s *PostgresStore) Update(ctx context.Context, c *models.Certificate) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE certificates
		SET ledger_reference = $2, ledger_status = $3, status = $4,
			revocation_reason = $5, revoked_at = $6, updated_at = $7
		WHERE certificate_id = $1 AND status = $8`,
		c.CertificateID.String(),
		nullString(c.LedgerReference.String()),
		string(c.LedgerStatus),
		string(c.Status),
		nullString(c.RevocationReason),
		nullTime(c.RevokedAt),
		c.UpdatedAt,
		string(models.CertificateStatusIssued),
	)
	if err != nil {
		return fmt.Errorf("update certificate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update certificate: %w", err)
	}
	if n == 0 {
		return s.updateMissed(ctx, c.CertificateID)
	}
	return nil
}

// updateMissed tells a missing row apart from one that is no longer ISSUED.
func (s *PostgresStore) updateMissed(ctx context.Context, certID id.CertificateID) error {
	var exists bool
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM certificates WHERE certificate_id = $1)`,
		certID.String(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("update certificate: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrConflict
}

func (s *PostgresStore) FindByID(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	return s.findOne(ctx, `WHERE certificate_id = $1`, certID.String())
}

func (s *PostgresStore) FindByLedgerReference(ctx context.Context, ref id.TxReference) (*models.Certificate, error) {
	return s.findOne(ctx, `WHERE lower(ledger_reference) = lower($1)`, ref.String())
}

func (s *PostgresStore) FindByRequestID(ctx context.Context, requestID id.CertificateRequestID) (*models.Certificate, error) {
	return s.findOne(ctx, `WHERE request_id = $1`, uuid.UUID(requestID))
}

func (s *PostgresStore) ListByLedgerStatus(ctx context.Context, status models.LedgerStatus, limit int) ([]*models.Certificate, error) {
	return s.findMany(ctx, `WHERE ledger_status = $1 ORDER BY created_at, certificate_id LIMIT $2`, string(status), limit)
}

func (s *PostgresStore) ListIssuedAfter(ctx context.Context, after id.CertificateID, limit int) ([]*models.Certificate, error) {
	return s.findMany(ctx, `
		WHERE status = $1 AND ledger_status = $2 AND certificate_id > $3
		ORDER BY certificate_id LIMIT $4`,
		string(models.CertificateStatusIssued), string(models.LedgerStatusConfirmed), after.String(), limit)
}

func (s *PostgresStore) findOne(ctx context.Context, where string, args ...any) (*models.Certificate, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+certificateColumns+` FROM certificates `+where, args...)
	c, err := scanCertificate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find certificate: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) findMany(ctx context.Context, where string, args ...any) ([]*models.Certificate, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `SELECT `+certificateColumns+` FROM certificates `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()

	var out []*models.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCertificate(row scanner) (*models.Certificate, error) {
	var (
		c                                        models.Certificate
		certID                                   string
		studentID, instituteID                   uuid.UUID
		course, department, year, roll, name     sql.NullString
		grade, cgpa, ledgerRef, revocationReason sql.NullString
		ledgerStatus, status                     string
		revokedAt                                sql.NullTime
		requestID                                uuid.NullUUID
	)
	err := row.Scan(
		&certID, &studentID, &instituteID, &c.Metadata.CertificateType, &course,
		&department, &year, &roll, &name, &grade, &cgpa, &c.Metadata.IssueDate, &c.ContentHash,
		&ledgerRef, &ledgerStatus, &status, &revocationReason, &revokedAt, &requestID,
		&c.IssuedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.CertificateID = id.CertificateID(certID)
	c.StudentID = id.UserID(studentID)
	c.InstituteID = id.UserID(instituteID)
	c.Metadata.Course = course.String
	c.Metadata.Department = department.String
	c.Metadata.Year = year.String
	c.Metadata.RollNumber = roll.String
	c.Metadata.StudentName = name.String
	c.Metadata.Grade = grade.String
	c.Metadata.CGPA = cgpa.String
	c.LedgerReference = id.TxReference(ledgerRef.String)
	c.LedgerStatus = models.LedgerStatus(ledgerStatus)
	c.Status = models.CertificateStatus(status)
	c.RevocationReason = revocationReason.String
	if revokedAt.Valid {
		t := revokedAt.Time.UTC()
		c.RevokedAt = &t
	}
	if requestID.Valid {
		r := id.CertificateRequestID(requestID.UUID)
		c.RequestID = &r
	}
	c.Metadata.IssueDate = c.Metadata.IssueDate.UTC()
	c.IssuedAt = c.IssuedAt.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullRequestID(r *id.CertificateRequestID) uuid.NullUUID {
	if r == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*r), Valid: true}
}
