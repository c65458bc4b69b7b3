// journal/schema.go
package journal

const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	time DATETIME NOT NULL,
	side TEXT NOT NULL CHECK (side IN ('BUY', 'SELL')),
	symbol TEXT NOT NULL,
	price REAL NOT NULL,
	quantity REAL NOT NULL,
	cost REAL,
	revenue REAL,
	pnl REAL
);

CREATE INDEX IF NOT EXISTS idx_trades_time ON trades(time);
`
