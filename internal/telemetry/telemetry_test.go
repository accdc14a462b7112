package telemetry

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/MRamiBalles/BiogasPilot/server/internal/domain/digester"
	"github.com/MRamiBalles/BiogasPilot/server/internal/engine"
)

var start = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func series(n int) []engine.HistoryPoint {
	pts := make([]engine.HistoryPoint, n)
	for i := range pts {
		pts[i] = engine.HistoryPoint{
			Tick:              int64(i + 1),
			Timestamp:         start.Add(time.Duration(i) * time.Second),
			GasLevel:          float64(20 + i),
			ElectricityOutput: float64(i + 1),
			ManureMass:        float64(700 + 10*i),
		}
	}
	return pts
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, 30)
	if s != (Summary{TokenBalance: 30}) {
		t.Errorf("Summarize(nil) = %+v", s)
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(series(10), 20)

	if s.Points != 10 || s.TokenBalance != 20 {
		t.Errorf("counts = %+v", s)
	}
	if math.Abs(s.AvgGasLevel-24.5) > 1e-9 {
		t.Errorf("AvgGasLevel = %v, want 24.5", s.AvgGasLevel)
	}
	if s.TotalEnergy != 55 {
		t.Errorf("TotalEnergy = %v, want 55", s.TotalEnergy)
	}
	if s.PeakManure != 790 {
		t.Errorf("PeakManure = %v, want 790", s.PeakManure)
	}
	if s.ElectricityMean != 5.5 {
		t.Errorf("ElectricityMean = %v, want 5.5", s.ElectricityMean)
	}
	if s.ElectricityP50 != 5 || s.ElectricityP90 != 9 {
		t.Errorf("quantiles p50=%v p90=%v, want 5 and 9", s.ElectricityP50, s.ElectricityP90)
	}
	if s.RecentPoints != 10 || s.HighEfficiency != 0 {
		t.Errorf("recent = %d, high efficiency = %d; want 10, 0", s.RecentPoints, s.HighEfficiency)
	}
}

func TestHighEfficiencyCountsRecentWindowOnly(t *testing.T) {
	// Manure runs 700..990; points above 800 are ticks 12..30.
	s := Summarize(series(30), 0)

	if s.RecentPoints != RecentWindow {
		t.Fatalf("RecentPoints = %d, want %d", s.RecentPoints, RecentWindow)
	}
	if s.HighEfficiency != 19 {
		t.Errorf("HighEfficiency = %d, want 19", s.HighEfficiency)
	}
}

func TestExportHistoryRoundTrip(t *testing.T) {
	for _, name := range []string{"history.csv", "history.csv.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			pts := series(5)

			if err := ExportHistory(path, pts); err != nil {
				t.Fatalf("ExportHistory: %v", err)
			}
			rows, err := ReadHistory(path)
			if err != nil {
				t.Fatalf("ReadHistory: %v", err)
			}
			if len(rows) != len(pts) {
				t.Fatalf("read %d rows, want %d", len(rows), len(pts))
			}
			for i, r := range rows {
				if r != RowFromPoint(pts[i]) {
					t.Errorf("row %d = %+v, want %+v", i, r, RowFromPoint(pts[i]))
				}
			}
		})
	}
}

func TestHistoryExporterStreamsTicks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session", "ticks.csv")
	x, err := NewHistoryExporter(path)
	if err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 3; i++ {
		x.ObserveTick(engine.Snapshot{
			State:      digester.State{ManureMass: 450 - float64(i)/2, TokenBalance: 10},
			TickNumber: int64(i),
			TakenAt:    start.Add(time.Duration(i) * time.Second),
		}, time.Millisecond)
	}
	if x.Rows() != 3 {
		t.Errorf("Rows = %d, want 3", x.Rows())
	}
	if err := x.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rows, err := ReadHistory(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 || rows[2].Tick != 3 || rows[2].ManureMass != 448.5 || rows[2].Tokens != 10 {
		t.Errorf("rows = %+v", rows)
	}
}

func TestNilExporterIsDisabled(t *testing.T) {
	x, err := NewHistoryExporter("")
	if err != nil || x != nil {
		t.Fatalf("NewHistoryExporter(\"\") = %v, %v; want nil, nil", x, err)
	}
	x.ObserveTick(engine.Snapshot{}, 0)
	if err := x.Close(); err != nil {
		t.Errorf("Close on nil exporter: %v", err)
	}
}
