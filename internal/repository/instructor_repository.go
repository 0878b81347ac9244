package repository

import (
	"context"

	"github.com/assesshub/assess-backend/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InstructorRepository handles instructor data access.
type InstructorRepository struct {
	pool *pgxpool.Pool
}

// NewInstructorRepository creates a new InstructorRepository.
func NewInstructorRepository(pool *pgxpool.Pool) *InstructorRepository {
	return &InstructorRepository{pool: pool}
}

// GetByID retrieves an instructor by ID.
func (r *InstructorRepository) GetByID(ctx context.Context, id int) (*model.Instructor, error) {
	i := &model.Instructor{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, email, password_hash, created_at, updated_at
		 FROM instructors WHERE id = $1`, id,
	).Scan(&i.ID, &i.Name, &i.Email, &i.PasswordHash, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return i, nil
}

// GetByEmail retrieves an instructor by email (login lookup).
func (r *InstructorRepository) GetByEmail(ctx context.Context, email string) (*model.Instructor, error) {
	i := &model.Instructor{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, email, password_hash, created_at, updated_at
		 FROM instructors WHERE email = $1`, email,
	).Scan(&i.ID, &i.Name, &i.Email, &i.PasswordHash, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return i, nil
}

// Create inserts a new instructor account.
func (r *InstructorRepository) Create(ctx context.Context, i *model.Instructor) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO instructors (name, email, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		i.Name, i.Email, i.PasswordHash,
	).Scan(&i.ID, &i.CreatedAt, &i.UpdatedAt)
}
