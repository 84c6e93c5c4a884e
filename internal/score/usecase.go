package score

const (
	// DailyScoreCap is the upper bound of the score attributed to one user on one date.
	DailyScoreCap = 50
	// ServiceDailyCap is the upper bound of the score one service contributes to a single date.
	ServiceDailyCap = 20
)

// Scorer assigns a point value to a (service, action) pair.
type Scorer interface {
	Score(service, action string) int
}

// Limits holds the caps applied while admitting events.
type Limits struct {
	// Daily: cap for all services of one date.
	Daily int
	// Service: cap for one service of one date.
	Service int
}

// DefaultLimits returns the caps used when nothing else is configured.
func DefaultLimits() Limits {
	return Limits{Daily: DailyScoreCap, Service: ServiceDailyCap}
}
