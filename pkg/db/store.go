package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"pairtrader/internal/trade"
)

// CarryStore reads and writes the per-leg balance carries.
type CarryStore struct {
	db *sql.DB
}

// NewCarryStore creates a store over an open database.
func NewCarryStore(d *Database) *CarryStore {
	return &CarryStore{db: d.DB}
}

// SaveCarries upserts the current carries of both legs of a pair.
func (s *CarryStore) SaveCarries(ctx context.Context, name string, p *trade.Pair) error {
	for i, leg := range p.Legs() {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO pair_legs (pair_name, leg_index, venue, market, symbol, base_balance, quote_balance, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(pair_name, leg_index) DO UPDATE SET
				base_balance = excluded.base_balance,
				quote_balance = excluded.quote_balance,
				updated_at = CURRENT_TIMESTAMP
		`, name, i, leg.Venue, string(leg.Market), leg.Symbol,
			leg.BaseBalance.String(), leg.QuoteBalance.String())
		if err != nil {
			return fmt.Errorf("save carry %s[%d]: %w", name, i, err)
		}
	}
	return nil
}

// LoadCarries restores persisted carries into the legs of a pair. Legs with
// no stored row are left untouched.
func (s *CarryStore) LoadCarries(ctx context.Context, name string, p *trade.Pair) error {
	for i, leg := range p.Legs() {
		var base, quote string
		err := s.db.QueryRowContext(ctx, `
			SELECT base_balance, quote_balance FROM pair_legs
			WHERE pair_name = ? AND leg_index = ?
		`, name, i).Scan(&base, &quote)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("load carry %s[%d]: %w", name, i, err)
		}
		b, err := decimal.NewFromString(base)
		if err != nil {
			return fmt.Errorf("load carry %s[%d]: base %q: %w", name, i, base, err)
		}
		q, err := decimal.NewFromString(quote)
		if err != nil {
			return fmt.Errorf("load carry %s[%d]: quote %q: %w", name, i, quote, err)
		}
		leg.BaseBalance = b
		leg.QuoteBalance = q
	}
	return nil
}
