package engine

import "time"

// DefaultHistorySize is the number of points kept for the dashboard charts.
const DefaultHistorySize = 100

// HistoryPoint is one sample of the plant, taken at the end of a tick.
type HistoryPoint struct {
	Tick              int64     `json:"tick"`
	Timestamp         time.Time `json:"timestamp"`
	GasLevel          float64   `json:"gas_level"`
	ElectricityOutput float64   `json:"electricity_output"`
	ManureMass        float64   `json:"manure_mass"`
}

// HistoryBuffer is a fixed-size ring of history points.
// It is not safe for concurrent use; the Engine guards it.
type HistoryBuffer struct {
	points []HistoryPoint
	next   int
	full   bool
}

// NewHistoryBuffer creates a ring holding at most size points (minimum 1).
func NewHistoryBuffer(size int) *HistoryBuffer {
	if size < 1 {
		size = 1
	}
	return &HistoryBuffer{points: make([]HistoryPoint, size)}
}

// Append stores p, overwriting the oldest point once the ring is full.
func (b *HistoryBuffer) Append(p HistoryPoint) {
	b.points[b.next] = p
	b.next = (b.next + 1) % len(b.points)
	if b.next == 0 {
		b.full = true
	}
}

// Points returns a copy of the stored points, oldest first.
func (b *HistoryBuffer) Points() []HistoryPoint {
	if !b.full {
		out := make([]HistoryPoint, b.next)
		copy(out, b.points[:b.next])
		return out
	}
	out := make([]HistoryPoint, 0, len(b.points))
	out = append(out, b.points[b.next:]...)
	return append(out, b.points[:b.next]...)
}

// Len returns the number of stored points.
func (b *HistoryBuffer) Len() int {
	if b.full {
		return len(b.points)
	}
	return b.next
}

// Cap returns the ring size.
func (b *HistoryBuffer) Cap() int {
	return len(b.points)
}
