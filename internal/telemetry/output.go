package telemetry

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/klauspost/compress/zstd"

	"github.com/MRamiBalles/BiogasPilot/server/internal/engine"
)

// HistoryRow is one CSV record of the plant history.
type HistoryRow struct {
	Tick        int64   `csv:"tick"`
	Time        string  `csv:"time"`
	GasLevel    float64 `csv:"gas_level_pct"`
	Electricity float64 `csv:"electricity_kw"`
	ManureMass  float64 `csv:"manure_mass_kg"`
	Tokens      int     `csv:"tokens"`
}

// RowFromPoint converts a history point.
func RowFromPoint(p engine.HistoryPoint) HistoryRow {
	return HistoryRow{
		Tick:        p.Tick,
		Time:        p.Timestamp.UTC().Format(time.RFC3339Nano),
		GasLevel:    p.GasLevel,
		Electricity: p.ElectricityOutput,
		ManureMass:  p.ManureMass,
	}
}

// RowFromSnapshot converts the state published at the end of a tick.
func RowFromSnapshot(s engine.Snapshot) HistoryRow {
	return HistoryRow{
		Tick:        s.TickNumber,
		Time:        s.TakenAt.UTC().Format(time.RFC3339Nano),
		GasLevel:    s.GasLevel,
		Electricity: s.ElectricityOutput,
		ManureMass:  s.ManureMass,
		Tokens:      s.TokenBalance,
	}
}

// HistoryExporter streams one CSV row per tick to a file.
// A path ending in ".zst" is zstd-compressed. It satisfies engine.Observer.
type HistoryExporter struct {
	mu            sync.Mutex
	path          string
	f             *os.File
	enc           *zstd.Encoder
	w             *bufio.Writer
	headerWritten bool
	rows          int
	err           error // First write error; later ticks are dropped
}

// NewHistoryExporter creates the output file.
// Returns nil if path is empty (export disabled); a nil exporter ignores every call.
func NewHistoryExporter(path string) (*HistoryExporter, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating export directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}

	x := &HistoryExporter{path: path, f: f}
	var out io.Writer = f
	if isZstd(path) {
		enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		x.enc = enc
		out = enc
	}
	x.w = bufio.NewWriter(out)
	return x, nil
}

// WriteRows appends records, writing the header before the first one.
func (x *HistoryExporter) WriteRows(rows []HistoryRow) error {
	if x == nil || len(rows) == 0 {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.err != nil {
		return x.err
	}
	var err error
	if !x.headerWritten {
		err = gocsv.Marshal(rows, x.w)
		x.headerWritten = true
	} else {
		err = gocsv.MarshalWithoutHeaders(rows, x.w)
	}
	if err != nil {
		x.err = fmt.Errorf("writing history: %w", err)
		return x.err
	}
	x.rows += len(rows)
	return nil
}

// ObserveTick writes the tick's row.
func (x *HistoryExporter) ObserveTick(s engine.Snapshot, _ time.Duration) {
	_ = x.WriteRows([]HistoryRow{RowFromSnapshot(s)})
}

func (x *HistoryExporter) ObserveFeed(bool) {}

func (x *HistoryExporter) ObserveMilestone(int) {}

// Rows returns the number of records written.
func (x *HistoryExporter) Rows() int {
	if x == nil {
		return 0
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.rows
}

// Path returns the output file path.
func (x *HistoryExporter) Path() string {
	if x == nil {
		return ""
	}
	return x.path
}

// Close flushes and closes the output file.
func (x *HistoryExporter) Close() error {
	if x == nil {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	var firstErr error
	if err := x.w.Flush(); err != nil {
		firstErr = err
	}
	if x.enc != nil {
		if err := x.enc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := x.f.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// ExportHistory writes points to path in one go.
func ExportHistory(path string, points []engine.HistoryPoint) error {
	x, err := NewHistoryExporter(path)
	if err != nil {
		return err
	}
	if x == nil {
		return nil
	}
	rows := make([]HistoryRow, len(points))
	for i, p := range points {
		rows[i] = RowFromPoint(p)
	}
	if err := x.WriteRows(rows); err != nil {
		_ = x.Close()
		return err
	}
	return x.Close()
}

// ReadHistory loads a file written by HistoryExporter.
func ReadHistory(path string) ([]HistoryRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var in io.Reader = f
	if isZstd(path) {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		defer dec.Close()
		in = dec
	}

	var rows []HistoryRow
	if err := gocsv.Unmarshal(in, &rows); err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return rows, nil
}

func isZstd(path string) bool {
	return strings.HasSuffix(path, ".zst")
}
