package catalog

import (
	"context"
	"database/sql"
	"errors"

	"github.com/georgemunganga/medassist-backend/internal/platform/apperr"
	"github.com/google/uuid"
)

type postgresRepo struct{ db *sql.DB }

func NewPostgresRepository(db *sql.DB) Repository { return &postgresRepo{db: db} }

const medicineColumns = `id,name,description,category,price,currency,requires_prescription,is_active,created_at,updated_at`

func (r *postgresRepo) Create(ctx context.Context, m *Medicine) error {
	return r.db.QueryRowContext(ctx, `
		INSERT INTO medicines (id,name,description,category,price,currency,requires_prescription,is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		m.ID, m.Name, m.Description, m.Category, m.Price, m.Currency, m.RequiresPrescription, m.IsActive).
		Scan(&m.CreatedAt, &m.UpdatedAt)
}

func (r *postgresRepo) GetByID(ctx context.Context, id uuid.UUID) (*Medicine, error) {
	m := &Medicine{}
	err := r.db.QueryRowContext(ctx, `SELECT `+medicineColumns+` FROM medicines WHERE id=$1`, id).
		Scan(&m.ID, &m.Name, &m.Description, &m.Category, &m.Price, &m.Currency,
			&m.RequiresPrescription, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("medicine", id)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *postgresRepo) List(ctx context.Context, category string, activeOnly bool) ([]*Medicine, error) {
	query := `SELECT ` + medicineColumns + ` FROM medicines WHERE 1=1`
	var args []interface{}
	if category != "" {
		args = append(args, category)
		query += ` AND category=$1`
	}
	if activeOnly {
		query += ` AND is_active=true`
	}
	query += ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var medicines []*Medicine
	for rows.Next() {
		m := &Medicine{}
		if err := rows.Scan(&m.ID, &m.Name, &m.Description, &m.Category, &m.Price, &m.Currency,
			&m.RequiresPrescription, &m.IsActive, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		medicines = append(medicines, m)
	}
	return medicines, rows.Err()
}

func (r *postgresRepo) Update(ctx context.Context, m *Medicine) error {
	err := r.db.QueryRowContext(ctx, `
		UPDATE medicines SET name=$1, description=$2, category=$3, price=$4, currency=$5,
		       requires_prescription=$6, is_active=$7, updated_at=NOW()
		WHERE id=$8
		RETURNING updated_at`,
		m.Name, m.Description, m.Category, m.Price, m.Currency, m.RequiresPrescription, m.IsActive, m.ID).
		Scan(&m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("medicine", m.ID)
	}
	return err
}
