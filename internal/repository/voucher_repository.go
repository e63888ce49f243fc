package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/bus-seat-booking/internal/model"
)

// VoucherRepo reads vouchers.  Discounts are precomputed amounts;
// pricing rules live outside the booking engine.
type VoucherRepo struct {
	db *sql.DB
}

// NewVoucherRepo returns a VoucherRepo bound to db.
func NewVoucherRepo(db *sql.DB) *VoucherRepo { return &VoucherRepo{db: db} }

// GetByCode looks a voucher up by its case-insensitive code.
func (r *VoucherRepo) GetByCode(ctx context.Context, code string) (*model.Voucher, error) {
	const q = `SELECT code, discount, valid_from, valid_until, is_active FROM vouchers WHERE code = ?`
	var v model.Voucher
	var from, until sql.NullTime
	err := r.db.QueryRowContext(ctx, q, strings.ToUpper(strings.TrimSpace(code))).Scan(&v.Code, &v.Discount, &from, &until, &v.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if from.Valid {
		v.ValidFrom = from.Time.UTC()
	}
	if until.Valid {
		v.ValidUntil = until.Time.UTC()
	}
	return &v, nil
}
