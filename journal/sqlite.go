package journal

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteLedger struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteLedger{db: db}, nil
}

func (j *SQLiteLedger) Append(t TradeRecord) error {
	var cost, revenue, pnl sql.NullFloat64
	switch t.Side {
	case Buy:
		cost = sql.NullFloat64{Float64: t.Cost, Valid: true}
	case Sell:
		revenue = sql.NullFloat64{Float64: t.Revenue, Valid: true}
		pnl = sql.NullFloat64{Float64: t.PnL, Valid: true}
	}

	_, err := j.db.Exec(`
		INSERT INTO trades
		(trade_id, time, side, symbol, price, quantity, cost, revenue, pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Time.UTC(), string(t.Side), t.Symbol, t.Price, t.Quantity,
		cost, revenue, pnl,
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}
	return nil
}

// Trades returns every recorded trade, oldest first.
func (j *SQLiteLedger) Trades(ctx context.Context) ([]TradeRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT trade_id, time, side, symbol, price, quantity, cost, revenue, pnl
		FROM trades
		ORDER BY time ASC, trade_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var (
			rec                TradeRecord
			side               string
			cost, revenue, pnl sql.NullFloat64
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Time,
			&side,
			&rec.Symbol,
			&rec.Price,
			&rec.Quantity,
			&cost,
			&revenue,
			&pnl,
		); err != nil {
			return nil, err
		}
		rec.Side = Side(side)
		rec.Cost = cost.Float64
		rec.Revenue = revenue.Float64
		rec.PnL = pnl.Float64
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *SQLiteLedger) Close() error {
	return j.db.Close()
}
