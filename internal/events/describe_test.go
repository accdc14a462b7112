package events

import (
	"strings"
	"testing"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name    string
		event   PlantEvent
		impact  string
		contain string
	}{
		{
			name:    "feed requested",
			event:   PlantEvent{Type: EventTypeFeedRequested, Payload: FeedPayload{Pending: 2}},
			impact:  ImpactNeutral,
			contain: "2 in flight",
		},
		{
			name:    "feed saturated",
			event:   PlantEvent{Type: EventTypeFeedCompleted, Payload: FeedPayload{Added: 100, Saturated: true}},
			impact:  ImpactPositive,
			contain: "+100.0 kg, digester full",
		},
		{
			name:    "milestone",
			event:   PlantEvent{Type: EventTypeMilestoneReached, Payload: MilestonePayload{Threshold: 50, TokensAwarded: 10}},
			impact:  ImpactPositive,
			contain: "50% fill",
		},
		{
			name:    "rebaseline",
			event:   PlantEvent{Type: EventTypeMilestoneRebaselined, Payload: RebaselinePayload{From: 25, To: 0}},
			impact:  ImpactNegative,
			contain: "25% -> 0%",
		},
		{
			name:    "tick without payload",
			event:   PlantEvent{Type: EventTypeTick},
			impact:  ImpactNeutral,
			contain: "one tick",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary, impact := Describe(tt.event)
			if impact != tt.impact {
				t.Errorf("impact = %s, want %s", impact, tt.impact)
			}
			if !strings.Contains(summary, tt.contain) {
				t.Errorf("summary %q does not contain %q", summary, tt.contain)
			}
		})
	}
}
