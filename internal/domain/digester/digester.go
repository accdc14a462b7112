// Package digester defines the core domain state of the biogas digester.
// This package is PURE and must NOT import any infrastructure packages (network, events, platform).
package digester

import "math"

// State is the full mutable state of the pilot plant.
type State struct {
	ManureMass        float64 `json:"manure_mass"`        // kg, [floor, capacity]
	GasLevel          float64 `json:"gas_level"`          // %, [0, 100]
	ElectricityOutput float64 `json:"electricity_output"` // kW, >= 0
	TokenBalance      int     `json:"token_balance"`      // Eco tokens earned so far
	LastThreshold     int     `json:"last_threshold"`     // Highest milestone already rewarded (0 = none)
	IsFeeding         bool    `json:"is_feeding"`         // A feed is in flight
}

// Params holds the numeric policy of the digester model.
type Params struct {
	ManureFloor          float64 // kg, manure never decays below this
	ManureCapacity       float64 // kg, manure never exceeds this
	DecayPerTick         float64 // kg consumed by the digester per tick
	FeedMass             float64 // kg added by one feed
	ProductionThreshold  float64 // gas rises only while manure is above this
	GasGainPerTick       float64 // % gained per tick while producing
	GasLossPerTick       float64 // % lost per tick while starved
	GasMax               float64 // % ceiling
	GenerationThreshold  float64 // generator runs only above this gas %
	KilowattsPerGasPoint float64 // kW per gas %
}

// DefaultParams returns the reference model.
func DefaultParams() Params {
	return Params{
		ManureFloor:          100,
		ManureCapacity:       1000,
		DecayPerTick:         0.5,
		FeedMass:             150,
		ProductionThreshold:  200,
		GasGainPerTick:       0.2,
		GasLossPerTick:       0.1,
		GasMax:               100,
		GenerationThreshold:  20,
		KilowattsPerGasPoint: 0.1,
	}
}

// InitialState returns the state the plant starts every session with.
func InitialState() State {
	return State{
		ManureMass: 450,
		GasLevel:   30,
	}
}

// Advance applies one tick of physics and returns the next state.
//
// Electricity is computed from the gas level the tick started with; the
// production check reads the manure mass after this tick's decay.
func (p Params) Advance(s State) State {
	next := s

	next.ManureMass = math.Max(p.ManureFloor, s.ManureMass-p.DecayPerTick)

	gas := s.GasLevel
	if next.ManureMass > p.ProductionThreshold {
		gas += p.GasGainPerTick
	} else {
		gas -= p.GasLossPerTick
	}
	next.GasLevel = Clamp(gas, 0, p.GasMax)

	next.ElectricityOutput = p.Electricity(s.GasLevel)

	return next
}

// Electricity converts a gas level into generator output.
func (p Params) Electricity(gasLevel float64) float64 {
	if gasLevel > p.GenerationThreshold {
		return gasLevel * p.KilowattsPerGasPoint
	}
	return 0
}

// AddFeed returns the manure mass after one feed lands. Saturates at capacity.
func (p Params) AddFeed(mass float64) float64 {
	return math.Min(p.ManureCapacity, mass+p.FeedMass)
}

// FillPercent is the manure mass as a percentage of capacity.
func (p Params) FillPercent(mass float64) float64 {
	if p.ManureCapacity <= 0 {
		return 0
	}
	return mass / p.ManureCapacity * 100
}

// Normalize pins every field of s into its domain.
func (p Params) Normalize(s State) State {
	s.ManureMass = Clamp(s.ManureMass, p.ManureFloor, p.ManureCapacity)
	s.GasLevel = Clamp(s.GasLevel, 0, p.GasMax)
	if s.ElectricityOutput < 0 || math.IsNaN(s.ElectricityOutput) {
		s.ElectricityOutput = 0
	}
	if s.TokenBalance < 0 {
		s.TokenBalance = 0
	}
	return s
}

// Clamp pins v into [lo, hi]. NaN collapses to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
