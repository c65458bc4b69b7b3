package position

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS position (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	held_quantity REAL NOT NULL,
	entry_price REAL NOT NULL,
	high_water_price REAL NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// SQLiteStore keeps the position as a single row.
type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSQLiteStore opens the state database at path. A file that is not a
// usable database is renamed to <path>.corrupt-<unix> and a fresh, flat
// database takes its place.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	log := slog.Default()

	db, err := openStateDB(path)
	if err != nil {
		if _, statErr := os.Stat(path); statErr != nil {
			return nil, err
		}
		aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		log.Warn("state db corrupt, starting flat", "path", path, "moved_to", aside, "err", err)
		if mvErr := os.Rename(path, aside); mvErr != nil {
			return nil, errors.Join(err, mvErr)
		}
		if db, err = openStateDB(path); err != nil {
			return nil, err
		}
	}
	return &SQLiteStore{db: db, log: log}, nil
}

func openStateDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create position table: %w", err)
	}
	return db, nil
}

func (s *SQLiteStore) Load() Position {
	var p Position
	err := s.db.QueryRow(`
		SELECT held_quantity, entry_price, high_water_price
		FROM position WHERE id = 1`,
	).Scan(&p.HeldQuantity, &p.EntryPrice, &p.HighWaterPrice)
	if err == sql.ErrNoRows {
		return Flat()
	}
	if err != nil {
		s.log.Warn("state unreadable, starting flat", "err", err)
		return Flat()
	}
	if !p.Valid() {
		s.log.Warn("state violates position invariant, starting flat", "position", p)
		return Flat()
	}
	return p
}

func (s *SQLiteStore) Save(p Position) error {
	_, err := s.db.Exec(`
		INSERT INTO position (id, held_quantity, entry_price, high_water_price, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			held_quantity = excluded.held_quantity,
			entry_price = excluded.entry_price,
			high_water_price = excluded.high_water_price,
			updated_at = excluded.updated_at`,
		p.HeldQuantity, p.EntryPrice, p.HighWaterPrice, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
