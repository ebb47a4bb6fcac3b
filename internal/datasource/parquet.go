package datasource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"equity-alerts/internal/model"
	"equity-alerts/internal/series"
)

// BarRow is the on-disk bar layout.
type BarRow struct {
	Timestamp int64   `json:"t" parquet:"t"` // Unix milliseconds
	Open      float64 `json:"o" parquet:"o"`
	High      float64 `json:"h" parquet:"h"`
	Low       float64 `json:"l" parquet:"l"`
	Close     float64 `json:"c" parquet:"c"`
	Volume    int64   `json:"v" parquet:"v"`
}

// ParquetFiles serves bars recorded to {dir}/{SYMBOL}_{interval}.parquet.
// The range is applied relative to the newest bar in the file, so recorded
// sessions replay the same way regardless of wall-clock time.
type ParquetFiles struct {
	dir string
	loc *time.Location
}

// NewParquetFiles creates a file-backed source rooted at dir.
func NewParquetFiles(dir string, loc *time.Location) *ParquetFiles {
	return &ParquetFiles{dir: dir, loc: loc}
}

func (p *ParquetFiles) Name() string { return "parquet" }

// BarsPath returns the file that holds symbol's bars at interval.
func BarsPath(dir, symbol string, interval Interval) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.parquet", strings.ToUpper(symbol), interval))
}

func (p *ParquetFiles) FetchBars(ctx context.Context, symbol string, interval Interval, rng Range) (*series.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := ReadBarsFile(BarsPath(p.dir, symbol, interval), symbol, p.loc)
	if err != nil {
		return nil, err
	}
	last, err := s.Last()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", symbol, ErrNoData)
	}
	if lb := rng.Lookback(); lb > 0 {
		s = s.Since(last.TS.Add(-lb))
	}
	return s, nil
}

// ReadBarsFile loads one bar file. A missing or empty file is ErrNoData.
func ReadBarsFile(path, symbol string, loc *time.Location) (*series.Series, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", symbol, ErrNoData)
	}
	rows, err := parquet.ReadFile[BarRow](path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("read %s: %w", symbol, ErrNoData)
	}
	bars := make([]model.Bar, len(rows))
	for i, r := range rows {
		bars[i] = model.Bar{
			TS:     time.UnixMilli(r.Timestamp),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		}
	}
	return series.New(symbol, bars, loc), nil
}

// WriteBarsFile records s to path, creating parent directories.
func WriteBarsFile(path string, s *series.Series) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	rows := make([]BarRow, s.Len())
	for i, b := range s.Bars() {
		rows[i] = BarRow{
			Timestamp: b.TS.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}
	}
	return parquet.WriteFile(path, rows)
}
