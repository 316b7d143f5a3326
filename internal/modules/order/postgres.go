package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/georgemunganga/medassist-backend/internal/platform/apperr"
	"github.com/google/uuid"
)

type postgresRepo struct{ db *sql.DB }

func NewPostgresRepository(db *sql.DB) Repository { return &postgresRepo{db: db} }

const orderColumns = `id,order_number,customer_id,pharmacy_id,delivery_partner_id,status,status_timestamps,
	total_price,currency,notes,delivery_address,created_at,updated_at`

// CreateOrder inserts the order and all its items inside a single transaction.
func (r *postgresRepo) CreateOrder(ctx context.Context, o *Order) error {
	timestamps, err := json.Marshal(o.StatusTimestamps)
	if err != nil {
		return fmt.Errorf("encode status timestamps: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders
		  (id, order_number, customer_id, pharmacy_id, delivery_partner_id, status, status_timestamps,
		   total_price, currency, notes, delivery_address, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		o.ID, o.OrderNumber, o.CustomerID, o.PharmacyID, nullableUUID(o.DeliveryPartnerID),
		string(o.Status), timestamps, o.TotalPrice, o.Currency, o.Notes,
		nullableJSON(o.DeliveryAddress), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range o.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items
			  (id, order_id, medicine_id, stock_pharmacy_id, quantity, unit_price, line_total, position)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			item.ID, o.ID, item.MedicineID, item.StockPharmacyID,
			item.Quantity, item.UnitPrice, item.LineTotal, i)
		if err != nil {
			return fmt.Errorf("insert order_item: %w", err)
		}
	}

	return tx.Commit()
}

func (r *postgresRepo) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("order", id)
	}
	if err != nil {
		return nil, err
	}
	o.Items, err = r.listItems(ctx, o.ID)
	return o, err
}

func (r *postgresRepo) GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number=$1`, orderNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("order", orderNumber)
	}
	if err != nil {
		return nil, err
	}
	o.Items, err = r.listItems(ctx, o.ID)
	return o, err
}

func (r *postgresRepo) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]*Order, error) {
	return r.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE customer_id=$1 ORDER BY created_at DESC`, customerID)
}

func (r *postgresRepo) ListByPharmacy(ctx context.Context, pharmacyID uuid.UUID, status Status) ([]*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE pharmacy_id=$1`
	args := []interface{}{pharmacyID}
	if status != "" {
		query += ` AND status=$2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`
	return r.queryOrders(ctx, query, args...)
}

func (r *postgresRepo) ListAvailableDeliveries(ctx context.Context) ([]*Order, error) {
	return r.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE status=$1 AND delivery_partner_id IS NULL ORDER BY updated_at ASC`, string(StatusPacked))
}

func (r *postgresRepo) ListByDeliveryPartner(ctx context.Context, partnerID uuid.UUID) ([]*Order, error) {
	return r.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE delivery_partner_id=$1 ORDER BY updated_at DESC`, partnerID)
}

// Transition is the compare-and-set: the WHERE clause carries the expected
// status (and, for assignment, an unassigned partner), so concurrent callers
// cannot both apply the same change.
func (r *postgresRepo) Transition(ctx context.Context, t Transition) (*Order, error) {
	query := `
		UPDATE orders
		SET status = $1,
		    status_timestamps = COALESCE(status_timestamps, '{}'::jsonb) || jsonb_build_object($1::text, $2::timestamptz),
		    delivery_partner_id = COALESCE($3, delivery_partner_id),
		    updated_at = $2
		WHERE id = $4 AND status = $5`
	if t.DeliveryPartnerID != nil || t.RequireUnassigned {
		query += ` AND delivery_partner_id IS NULL`
	}
	res, err := r.db.ExecContext(ctx, query,
		string(t.To), t.At, nullableUUID(t.DeliveryPartnerID), t.OrderID, string(t.From))
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	if n == 0 {
		return nil, ErrStale
	}
	return r.GetOrderByID(ctx, t.OrderID)
}

// ── helpers ──────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*Order, error) {
	o := &Order{}
	var partnerID uuid.NullUUID
	var status string
	var timestamps, deliveryAddr []byte
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.CustomerID, &o.PharmacyID, &partnerID, &status, &timestamps,
		&o.TotalPrice, &o.Currency, &o.Notes, &deliveryAddr, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = Status(status)
	if partnerID.Valid {
		id := partnerID.UUID
		o.DeliveryPartnerID = &id
	}
	o.StatusTimestamps = map[Status]time.Time{}
	if len(timestamps) > 0 {
		if err := json.Unmarshal(timestamps, &o.StatusTimestamps); err != nil {
			return nil, fmt.Errorf("decode status timestamps: %w", err)
		}
	}
	o.DeliveryAddress = deliveryAddr
	return o, nil
}

func (r *postgresRepo) queryOrders(ctx context.Context, query string, args ...interface{}) ([]*Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, o := range orders {
		if o.Items, err = r.listItems(ctx, o.ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *postgresRepo) listItems(ctx context.Context, orderID uuid.UUID) ([]*LineItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, medicine_id, stock_pharmacy_id, quantity, unit_price, line_total
		FROM order_items WHERE order_id=$1 ORDER BY position ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*LineItem
	for rows.Next() {
		item := &LineItem{}
		if err := rows.Scan(&item.ID, &item.MedicineID, &item.StockPharmacyID,
			&item.Quantity, &item.UnitPrice, &item.LineTotal); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullableUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
