package journal

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var Header = []string{"timestamp", "side", "symbol", "price", "quantity", "cost", "revenue", "pnl"}

// CSVLedger appends trades to a CSV file. The file and its header are
// created on the first append.
type CSVLedger struct {
	path string
	mu   sync.Mutex
}

func NewCSV(path string) (*CSVLedger, error) {
	if path == "" {
		return nil, errors.New("empty trades file path")
	}
	return &CSVLedger{path: path}, nil
}

func (j *CSVLedger) Path() string { return j.path }

func (j *CSVLedger) Append(t TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	fh, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open trades file: %w", err)
	}
	defer fh.Close()

	info, err := fh.Stat()
	if err != nil {
		return fmt.Errorf("stat trades file: %w", err)
	}

	w := csv.NewWriter(fh)
	if info.Size() == 0 {
		if err := w.Write(Header); err != nil {
			return err
		}
	}
	if err := w.Write(row(t)); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write trade: %w", err)
	}
	return fh.Close()
}

func (j *CSVLedger) Close() error { return nil }

// ReadCSV loads every trade from a ledger file written by CSVLedger.
func ReadCSV(path string) ([]TradeRecord, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	recs, err := csv.NewReader(fh).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(recs) == 0 {
		return nil, nil
	}

	var out []TradeRecord
	for i, r := range recs[1:] {
		t, err := parseRow(r)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func row(t TradeRecord) []string {
	r := []string{
		t.Time.UTC().Format(time.RFC3339),
		string(t.Side),
		t.Symbol,
		f(t.Price),
		f(t.Quantity),
		"", "", "",
	}
	switch t.Side {
	case Buy:
		r[5] = f(t.Cost)
	case Sell:
		r[6] = f(t.Revenue)
		r[7] = f(t.PnL)
	}
	return r
}

func parseRow(r []string) (TradeRecord, error) {
	if len(r) != len(Header) {
		return TradeRecord{}, fmt.Errorf("want %d fields, got %d", len(Header), len(r))
	}

	ts, err := time.Parse(time.RFC3339, r[0])
	if err != nil {
		return TradeRecord{}, err
	}
	t := TradeRecord{Time: ts, Side: Side(r[1]), Symbol: r[2]}

	nums := []*float64{&t.Price, &t.Quantity, &t.Cost, &t.Revenue, &t.PnL}
	for i, dst := range nums {
		raw := r[i+3]
		if raw == "" {
			continue
		}
		if *dst, err = strconv.ParseFloat(raw, 64); err != nil {
			return TradeRecord{}, fmt.Errorf("%s: %w", Header[i+3], err)
		}
	}
	return t, nil
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}
