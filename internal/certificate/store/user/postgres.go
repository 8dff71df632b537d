package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"certledger/internal/certificate/models"
	"certledger/internal/platform/postgres"
	id "certledger/pkg/domain"
	"certledger/pkg/platform/sentinel"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `id, name, email, role, wallet_address, roll_number, course, department,
	institute_id, created_at, updated_at`

func (s *PostgresStore) Save(ctx context.Context, u *models.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			role = EXCLUDED.role,
			wallet_address = EXCLUDED.wallet_address,
			roll_number = EXCLUDED.roll_number,
			course = EXCLUDED.course,
			department = EXCLUDED.department,
			institute_id = EXCLUDED.institute_id,
			updated_at = EXCLUDED.updated_at`,
		uuid.UUID(u.ID),
		u.Name,
		u.Email,
		string(u.Role),
		sql.NullString{String: u.WalletAddress, Valid: u.WalletAddress != ""},
		u.RollNumber,
		u.Course,
		u.Department,
		uuid.NullUUID{UUID: uuid.UUID(u.InstituteID), Valid: !u.InstituteID.IsNil()},
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, userID id.UserID) (*models.User, error) {
	return s.findOne(ctx, `WHERE id = $1`, uuid.UUID(userID))
}

func (s *PostgresStore) FindStudentByRollNumber(ctx context.Context, instituteID id.UserID, rollNumber string) (*models.User, error) {
	return s.findOne(ctx, `WHERE role = $1 AND institute_id = $2 AND roll_number = $3 LIMIT 1`,
		string(models.RoleStudent), uuid.UUID(instituteID), rollNumber)
}

func (s *PostgresStore) findOne(ctx context.Context, where string, args ...any) (*models.User, error) {
	var (
		u                                models.User
		userID                           uuid.UUID
		role                             string
		wallet, roll, course, department sql.NullString
		instituteID                      uuid.NullUUID
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users `+where, args...).Scan(
		&userID, &u.Name, &u.Email, &role, &wallet, &roll, &course, &department,
		&instituteID, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	u.ID = id.UserID(userID)
	u.Role = models.Role(role)
	u.WalletAddress = wallet.String
	u.RollNumber = roll.String
	u.Course = course.String
	u.Department = department.String
	if instituteID.Valid {
		u.InstituteID = id.UserID(instituteID.UUID)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}
