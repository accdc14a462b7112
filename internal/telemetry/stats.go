// Package telemetry summarizes and exports the plant history.
package telemetry

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/MRamiBalles/BiogasPilot/server/internal/engine"
)

// RecentWindow is the number of newest points the efficiency chart covers.
const RecentWindow = 20

// HighEfficiencyManureKG marks a point as a high efficiency zone.
const HighEfficiencyManureKG = 800

// Summary holds the statistics view numbers.
type Summary struct {
	Points          int     `json:"points"`
	AvgGasLevel     float64 `json:"avg_gas_level"`
	TotalEnergy     float64 `json:"total_energy"` // Sum of the output samples, kW
	PeakManure      float64 `json:"peak_manure"`
	ElectricityMean float64 `json:"electricity_mean"`
	ElectricityP10  float64 `json:"electricity_p10"`
	ElectricityP50  float64 `json:"electricity_p50"`
	ElectricityP90  float64 `json:"electricity_p90"`
	RecentPoints    int     `json:"recent_points"`
	HighEfficiency  int     `json:"high_efficiency"` // Recent points with manure above HighEfficiencyManureKG
	TokenBalance    int     `json:"token_balance"`
}

// Summarize computes the statistics view over points, oldest first.
// An empty history yields zero values.
func Summarize(points []engine.HistoryPoint, tokens int) Summary {
	s := Summary{Points: len(points), TokenBalance: tokens}
	if len(points) == 0 {
		return s
	}

	gas := make([]float64, len(points))
	kw := make([]float64, len(points))
	manure := make([]float64, len(points))
	for i, p := range points {
		gas[i] = p.GasLevel
		kw[i] = p.ElectricityOutput
		manure[i] = p.ManureMass
	}

	s.AvgGasLevel = stat.Mean(gas, nil)
	s.TotalEnergy = floats.Sum(kw)
	s.PeakManure = floats.Max(manure)
	s.ElectricityMean = stat.Mean(kw, nil)

	sorted := append([]float64(nil), kw...)
	sort.Float64s(sorted)
	s.ElectricityP10 = stat.Quantile(0.1, stat.Empirical, sorted, nil)
	s.ElectricityP50 = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	s.ElectricityP90 = stat.Quantile(0.9, stat.Empirical, sorted, nil)

	recent := points
	if len(recent) > RecentWindow {
		recent = recent[len(recent)-RecentWindow:]
	}
	s.RecentPoints = len(recent)
	for _, p := range recent {
		if p.ManureMass > HighEfficiencyManureKG {
			s.HighEfficiency++
		}
	}
	return s
}
