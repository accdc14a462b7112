// Package rules contains the pure calculation logic for the pilot's incentives.
// This package is PURE and must NOT import any infrastructure packages.
package rules

import (
	"errors"
	"fmt"
)

// RewardRule describes the milestone/token incentive for keeping the digester fed.
type RewardRule struct {
	Thresholds         []int   // Fill percentages, strictly ascending
	TokensPerMilestone int     // Tokens granted per newly reached milestone
	Hysteresis         float64 // Percentage points below the last milestone before re-baselining
}

// DefaultRewardRule returns the 25/50/75/90 milestone ladder.
func DefaultRewardRule() RewardRule {
	return RewardRule{
		Thresholds:         []int{25, 50, 75, 90},
		TokensPerMilestone: 10,
		Hysteresis:         10,
	}
}

// Validate checks the thresholds are usable.
func (r RewardRule) Validate() error {
	if len(r.Thresholds) == 0 {
		return errors.New("reward rule needs at least one threshold")
	}
	prev := 0
	for i, t := range r.Thresholds {
		if t <= prev {
			return fmt.Errorf("threshold %d (%d) must be positive and above %d", i, t, prev)
		}
		prev = t
	}
	if r.TokensPerMilestone < 0 {
		return fmt.Errorf("tokens per milestone must not be negative, got %d", r.TokensPerMilestone)
	}
	if r.Hysteresis < 0 {
		return fmt.Errorf("hysteresis must not be negative, got %v", r.Hysteresis)
	}
	return nil
}

// Outcome is the result of evaluating the reward rule at a fill level.
type Outcome struct {
	Reached       int  // Greatest threshold <= level, 0 if none
	LastThreshold int  // Value lastThreshold should take after this evaluation
	Awarded       bool // A new, higher milestone was reached
	Rebaselined   bool // Level fell through the hysteresis band
	Tokens        int  // Tokens granted by this evaluation
}

// Changed reports whether applying the outcome alters state.
func (o Outcome) Changed(last int) bool {
	return o.Awarded || o.LastThreshold != last
}

// Reached returns the greatest threshold at or below level, or 0.
func (r RewardRule) Reached(level float64) int {
	reached := 0
	for _, t := range r.Thresholds {
		if level >= float64(t) {
			reached = t
		}
	}
	return reached
}

// Snap maps last onto the ladder: the greatest threshold at or below it, or 0.
func (r RewardRule) Snap(last int) int {
	return r.Reached(float64(last))
}

// Evaluate applies the milestone rule for the current fill level.
// Tokens are never revoked: dropping more than Hysteresis points below the last
// rewarded milestone only moves the baseline down.
func (r RewardRule) Evaluate(level float64, last int) Outcome {
	reached := r.Reached(level)

	switch {
	case reached > last:
		return Outcome{
			Reached:       reached,
			LastThreshold: reached,
			Awarded:       true,
			Tokens:        r.TokensPerMilestone,
		}
	case level < float64(last)-r.Hysteresis:
		return Outcome{
			Reached:       reached,
			LastThreshold: reached,
			Rebaselined:   reached != last,
		}
	default:
		return Outcome{Reached: reached, LastThreshold: last}
	}
}
