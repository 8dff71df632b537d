package request

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"certledger/internal/certificate/models"
	id "certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `id, student_id, institute_id, certificate_type, course, department, year,
	status, rejection_reason, approved_at, issued_at, created_at, updated_at`

func (s *PostgresStore) Save(ctx context.Context, r *models.CertificateRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO certificate_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			rejection_reason = EXCLUDED.rejection_reason,
			approved_at = EXCLUDED.approved_at,
			issued_at = EXCLUDED.issued_at,
			updated_at = EXCLUDED.updated_at`,
		uuid.UUID(r.ID),
		uuid.UUID(r.StudentID),
		uuid.UUID(r.InstituteID),
		r.CertificateType,
		r.Course,
		r.Department,
		r.Year,
		string(r.Status),
		r.RejectionReason,
		nullTime(r.ApprovedAt),
		nullTime(r.IssuedAt),
		r.CreatedAt,
		r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save certificate request: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, requestID id.CertificateRequestID) (*models.CertificateRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM certificate_requests WHERE id = $1`, uuid.UUID(requestID))
	r, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find certificate request: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status models.RequestStatus, limit int) ([]*models.CertificateRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM certificate_requests
		WHERE status = $1 ORDER BY created_at LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list certificate requests: %w", err)
	}
	defer rows.Close()

	var out []*models.CertificateRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certificate request: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list certificate requests: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*models.CertificateRequest, error) {
	var (
		r                                 models.CertificateRequest
		requestID, studentID, instituteID uuid.UUID
		course, department, year, reason  sql.NullString
		status                            string
		approvedAt, issuedAt              sql.NullTime
	)
	err := row.Scan(
		&requestID, &studentID, &instituteID, &r.CertificateType, &course, &department, &year,
		&status, &reason, &approvedAt, &issuedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.ID = id.CertificateRequestID(requestID)
	r.StudentID = id.UserID(studentID)
	r.InstituteID = id.UserID(instituteID)
	r.Course = course.String
	r.Department = department.String
	r.Year = year.String
	r.Status = models.RequestStatus(status)
	r.RejectionReason = reason.String
	if approvedAt.Valid {
		t := approvedAt.Time.UTC()
		r.ApprovedAt = &t
	}
	if issuedAt.Valid {
		t := issuedAt.Time.UTC()
		r.IssuedAt = &t
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
