package ingest

import (
	"time"

	"cloudproof/internal/record"
	"cloudproof/internal/score"
)

// DropReason explains why a normalized event was not admitted.
type DropReason string

const (
	DropUnscored   DropReason = "unscored"
	DropDailyCap   DropReason = "daily_cap"
	DropServiceCap DropReason = "service_cap"
)

type serviceDay struct {
	date    time.Time
	service string
}

// State holds the counters of one ingestion run. A fresh State is created per run
// and discarded afterwards; caps are never evaluated against persisted totals here.
type State struct {
	daily   map[time.Time]int
	service map[serviceDay]int
	// Dropped counts rejected events by reason.
	Dropped map[DropReason]int
}

// NewState returns empty run counters.
func NewState() *State {
	return &State{
		daily:   make(map[time.Time]int),
		service: make(map[serviceDay]int),
		Dropped: make(map[DropReason]int),
	}
}

// DailyTotal returns the admitted score of the date within this run.
func (s *State) DailyTotal(date time.Time) int {
	return s.daily[record.DateOf(date)]
}

// ServiceTotal returns the admitted score of the service on the date within this run.
func (s *State) ServiceTotal(date time.Time, service string) int {
	return s.service[serviceDay{date: record.DateOf(date), service: service}]
}

// Accumulator decides which scored events are admitted under the daily and
// per-service caps.
type Accumulator struct {
	scorer score.Scorer
	limits score.Limits
}

// Admit walks events in arrival order and returns the admitted activities, updating
// state. The daily cap is checked before the service cap. An admitted score is clipped
// to the remaining headroom so neither counter ever exceeds its cap. Admission is final:
// later rejections never evict earlier activities.
func (a *Accumulator) Admit(userID int64, events []record.Event, state *State) []Activity {
	admitted := make([]Activity, 0, len(events))

	for _, event := range events {
		activity, reason := a.admitOne(userID, event, state)
		if reason != "" {
			state.Dropped[reason]++
			continue
		}
		admitted = append(admitted, activity)
	}

	return admitted
}

func (a *Accumulator) admitOne(userID int64, event record.Event, state *State) (Activity, DropReason) {
	points := a.scorer.Score(event.Service, event.Action)
	if points <= 0 {
		return Activity{}, DropUnscored
	}

	date := event.Date()
	key := serviceDay{date: date, service: event.Service}

	if state.daily[date] >= a.limits.Daily {
		return Activity{}, DropDailyCap
	}
	if state.service[key] >= a.limits.Service {
		return Activity{}, DropServiceCap
	}

	points = min(points, a.limits.Daily-state.daily[date], a.limits.Service-state.service[key])
	state.daily[date] += points
	state.service[key] += points

	return Activity{
		UserID:  userID,
		Date:    date,
		Service: event.Service,
		Action:  event.Action,
		Score:   points,
	}, ""
}

// NewAccumulator creates an accumulator scoring with scorer under limits.
func NewAccumulator(scorer score.Scorer, limits score.Limits) *Accumulator {
	return &Accumulator{scorer: scorer, limits: limits}
}
