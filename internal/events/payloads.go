package events

import "time"

// FeedPayload is attached to FEED_REQUESTED and FEED_COMPLETED events.
type FeedPayload struct {
	FeedID       uint64  `json:"feed_id"`
	ManureBefore float64 `json:"manure_before"`
	ManureAfter  float64 `json:"manure_after"`
	Added        float64 `json:"added"`     // Zero on request; may be below the feed mass when saturated
	Saturated    bool    `json:"saturated"` // Capacity capped the feed
	Pending      int     `json:"pending"`   // Feeds still in flight after this event
}

// MilestonePayload is attached to MILESTONE_REACHED events.
// Consumers show the banner for DisplayFor and dismiss it themselves.
type MilestonePayload struct {
	Threshold     int           `json:"threshold"`
	TokensAwarded int           `json:"tokens_awarded"`
	TokenBalance  int           `json:"token_balance"`
	FillPercent   float64       `json:"fill_percent"`
	ReachedAt     time.Time     `json:"reached_at"`
	DisplayFor    time.Duration `json:"-"`
	DisplayForMS  int64         `json:"display_for_ms"`
}

// Active reports whether the banner should still be visible at now.
func (m MilestonePayload) Active(now time.Time) bool {
	return now.Before(m.ReachedAt.Add(m.DisplayFor))
}

// RebaselinePayload is attached to MILESTONE_REBASELINED events.
type RebaselinePayload struct {
	From        int     `json:"from"`
	To          int     `json:"to"`
	FillPercent float64 `json:"fill_percent"`
}
