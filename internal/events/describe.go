package events

import "fmt"

// Impact classes for event summaries.
const (
	ImpactPositive = "POSITIVE"
	ImpactNegative = "NEGATIVE"
	ImpactNeutral  = "NEUTRAL"
)

// Describe returns a human-readable summary of e and its impact class.
func Describe(e PlantEvent) (summary, impact string) {
	switch p := e.Payload.(type) {
	case FeedPayload:
		if e.Type == EventTypeFeedRequested {
			return fmt.Sprintf("Operator requested a manure feed (%d in flight).", p.Pending), ImpactNeutral
		}
		if p.Saturated {
			return fmt.Sprintf("Feed landed: +%.1f kg, digester full.", p.Added), ImpactPositive
		}
		return fmt.Sprintf("Feed landed: +%.1f kg.", p.Added), ImpactPositive

	case MilestonePayload:
		return fmt.Sprintf("Reached %d%% fill: +%d eco tokens.", p.Threshold, p.TokensAwarded), ImpactPositive

	case RebaselinePayload:
		return fmt.Sprintf("Fill dropped: milestone baseline %d%% -> %d%%.", p.From, p.To), ImpactNegative
	}

	switch e.Type {
	case EventTypeTick:
		return "The digester advanced one tick.", ImpactNeutral
	case EventTypeFeedRequested:
		return "Operator requested a manure feed.", ImpactNeutral
	default:
		return "Something happened at the plant.", ImpactNeutral
	}
}
