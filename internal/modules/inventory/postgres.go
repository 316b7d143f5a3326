package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/georgemunganga/medassist-backend/internal/platform/apperr"
	"github.com/georgemunganga/medassist-backend/internal/platform/database"
	"github.com/google/uuid"
)

// ---- Ledger ----

type ledgerPostgres struct{ db *sql.DB }

func NewPostgresLedger(db *sql.DB) Ledger { return &ledgerPostgres{db: db} }

func (r *ledgerPostgres) Reserve(ctx context.Context, pharmacyID, medicineID uuid.UUID, qty int) (int, error) {
	var remaining int
	err := r.db.QueryRowContext(ctx, `
		UPDATE stock_records SET quantity = quantity - $3, updated_at = NOW()
		WHERE pharmacy_id=$1 AND medicine_id=$2 AND quantity >= $3
		RETURNING quantity`, pharmacyID, medicineID, qty).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("reserve stock: %w", err)
	}

	// The guard failed: either no record or not enough stock.
	available, err := r.Query(ctx, pharmacyID, medicineID)
	if err != nil {
		return 0, err
	}
	return 0, &InsufficientStockError{
		PharmacyID: pharmacyID,
		MedicineID: medicineID,
		Requested:  qty,
		Available:  available,
	}
}

func (r *ledgerPostgres) Release(ctx context.Context, pharmacyID, medicineID uuid.UUID, qty int) (int, error) {
	var remaining int
	err := r.db.QueryRowContext(ctx, `
		UPDATE stock_records SET quantity = quantity + $3, updated_at = NOW()
		WHERE pharmacy_id=$1 AND medicine_id=$2
		RETURNING quantity`, pharmacyID, medicineID, qty).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.NotFound("stock record", stockKey(pharmacyID, medicineID))
	}
	if err != nil {
		return 0, fmt.Errorf("release stock: %w", err)
	}
	return remaining, nil
}

func (r *ledgerPostgres) Query(ctx context.Context, pharmacyID, medicineID uuid.UUID) (int, error) {
	var qty int
	err := r.db.QueryRowContext(ctx,
		`SELECT quantity FROM stock_records WHERE pharmacy_id=$1 AND medicine_id=$2`,
		pharmacyID, medicineID).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.NotFound("stock record", stockKey(pharmacyID, medicineID))
	}
	if err != nil {
		return 0, fmt.Errorf("query stock: %w", err)
	}
	return qty, nil
}

func (r *ledgerPostgres) Upsert(ctx context.Context, rec *StockRecord) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO stock_records (pharmacy_id, medicine_id, quantity)
		VALUES ($1,$2,$3)
		ON CONFLICT (pharmacy_id, medicine_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = NOW()
		RETURNING updated_at`, rec.PharmacyID, rec.MedicineID, rec.Quantity).Scan(&rec.UpdatedAt)
	if database.IsForeignKeyViolation(err) {
		return apperr.NotFound("pharmacy or medicine", stockKey(rec.PharmacyID, rec.MedicineID))
	}
	return err
}

func (r *ledgerPostgres) ListByPharmacy(ctx context.Context, pharmacyID uuid.UUID) ([]*StockRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT pharmacy_id, medicine_id, quantity, updated_at
		FROM stock_records WHERE pharmacy_id=$1 ORDER BY medicine_id`, pharmacyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []*StockRecord
	for rows.Next() {
		rec := &StockRecord{}
		if err := rows.Scan(&rec.PharmacyID, &rec.MedicineID, &rec.Quantity, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *ledgerPostgres) LargestForMedicine(ctx context.Context, medicineID uuid.UUID) (*StockRecord, error) {
	rec := &StockRecord{}
	err := r.db.QueryRowContext(ctx, `
		SELECT pharmacy_id, medicine_id, quantity, updated_at
		FROM stock_records WHERE medicine_id=$1
		ORDER BY quantity DESC, pharmacy_id LIMIT 1`, medicineID).
		Scan(&rec.PharmacyID, &rec.MedicineID, &rec.Quantity, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("stock for medicine", medicineID)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ---- Pharmacy ----

type pharmacyPostgres struct{ db *sql.DB }

func NewPharmacyPostgresRepository(db *sql.DB) PharmacyRepository { return &pharmacyPostgres{db: db} }

func (r *pharmacyPostgres) CreatePharmacy(ctx context.Context, p *Pharmacy) error {
	return r.db.QueryRowContext(ctx, `
		INSERT INTO pharmacies (id,owner_id,name,address,city,phone,email,is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		p.ID, p.OwnerID, p.Name, p.Address, p.City, p.Phone, p.Email, p.IsActive).
		Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *pharmacyPostgres) GetPharmacyByID(ctx context.Context, id uuid.UUID) (*Pharmacy, error) {
	p := &Pharmacy{}
	var ownerID uuid.NullUUID
	err := r.db.QueryRowContext(ctx, `
		SELECT id,owner_id,name,address,city,phone,email,is_active,created_at,updated_at
		FROM pharmacies WHERE id=$1`, id).
		Scan(&p.ID, &ownerID, &p.Name, &p.Address, &p.City, &p.Phone, &p.Email,
			&p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("pharmacy", id)
	}
	if err != nil {
		return nil, err
	}
	if ownerID.Valid {
		p.OwnerID = &ownerID.UUID
	}
	return p, nil
}

func (r *pharmacyPostgres) ListPharmacies(ctx context.Context, activeOnly bool) ([]*Pharmacy, error) {
	query := `SELECT id,owner_id,name,address,city,phone,email,is_active,created_at,updated_at FROM pharmacies`
	if activeOnly {
		query += ` WHERE is_active = true`
	}
	query += ` ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pharmacies []*Pharmacy
	for rows.Next() {
		p := &Pharmacy{}
		var ownerID uuid.NullUUID
		if err := rows.Scan(&p.ID, &ownerID, &p.Name, &p.Address, &p.City, &p.Phone, &p.Email,
			&p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if ownerID.Valid {
			p.OwnerID = &ownerID.UUID
		}
		pharmacies = append(pharmacies, p)
	}
	return pharmacies, rows.Err()
}

// ---- PharmacyStaff ----

type staffPostgres struct{ db *sql.DB }

func NewStaffPostgresRepository(db *sql.DB) StaffRepository { return &staffPostgres{db: db} }

func (r *staffPostgres) AddStaff(ctx context.Context, staff *PharmacyStaff) error {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO pharmacy_staff (id,pharmacy_id,user_id,role) VALUES ($1,$2,$3,$4)
		RETURNING created_at, updated_at`,
		staff.ID, staff.PharmacyID, staff.UserID, staff.Role).Scan(&staff.CreatedAt, &staff.UpdatedAt)
	switch {
	case database.IsDuplicateKey(err):
		return fmt.Errorf("user %s is already staff of pharmacy %s: %w", staff.UserID, staff.PharmacyID, apperr.ErrConflict)
	case database.IsForeignKeyViolation(err):
		return apperr.NotFound("pharmacy or user", staff.PharmacyID)
	}
	return err
}

func (r *staffPostgres) ListStaff(ctx context.Context, pharmacyID uuid.UUID) ([]*PharmacyStaff, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id,pharmacy_id,user_id,role,created_at,updated_at
		FROM pharmacy_staff WHERE pharmacy_id=$1 ORDER BY created_at`, pharmacyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var staff []*PharmacyStaff
	for rows.Next() {
		s := &PharmacyStaff{}
		if err := rows.Scan(&s.ID, &s.PharmacyID, &s.UserID, &s.Role, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		staff = append(staff, s)
	}
	return staff, rows.Err()
}

func (r *staffPostgres) RemoveStaff(ctx context.Context, pharmacyID, userID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pharmacy_staff WHERE pharmacy_id=$1 AND user_id=$2`, pharmacyID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("pharmacy staff", userID)
	}
	return nil
}

func stockKey(pharmacyID, medicineID uuid.UUID) string {
	return pharmacyID.String() + "/" + medicineID.String()
}
