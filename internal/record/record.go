package record

import (
	"strings"
	"time"
)

// TimeLayout is the only accepted eventTime format.
const TimeLayout = "2006-01-02T15:04:05Z"

// Raw is one undecoded audit-log record as found in a log document.
type Raw map[string]any

// Event is a record reduced to the fields scoring needs.
// Service and Action are never empty.
type Event struct {
	Timestamp time.Time
	// Service: upper-cased text of eventSource before the first dot, e.g. "EC2".
	Service string
	// Action: eventName verbatim.
	Action string
	// ReadOnly is false for every emitted event; read-only records are skipped.
	ReadOnly bool
}

// Date returns the calendar date of the event at UTC midnight.
func (e Event) Date() time.Time {
	return DateOf(e.Timestamp)
}

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Reason explains why a record was skipped.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonReadOnly     Reason = "read_only"
	ReasonMissingField Reason = "missing_field"
	ReasonBadTimestamp Reason = "bad_timestamp"
	ReasonEmptyField   Reason = "empty_field"
	ReasonNotObject    Reason = "not_object"
)

// Normalize extracts an Event from raw. The checks run in a fixed order: read-only
// records, required fields, timestamp format, then the derived service and action.
// A skipped record yields a zero Event and a non-empty Reason. A nil raw stands for
// an element of the log document that is not a JSON object.
func Normalize(raw Raw) (Event, Reason) {
	if raw == nil {
		return Event{}, ReasonNotObject
	}
	if isTruthy(raw["readOnly"]) {
		return Event{}, ReasonReadOnly
	}

	eventTime, okTime := stringField(raw, "eventTime")
	eventSource, okSource := stringField(raw, "eventSource")
	eventName, okName := stringField(raw, "eventName")
	if !okTime || !okSource || !okName {
		return Event{}, ReasonMissingField
	}

	// time.Parse tolerates fractional seconds the layout does not declare.
	timestamp, err := time.Parse(TimeLayout, eventTime)
	if err != nil || len(eventTime) != len(TimeLayout) {
		return Event{}, ReasonBadTimestamp
	}

	service, _, _ := strings.Cut(eventSource, ".")
	service = strings.ToUpper(service)
	if service == "" || eventName == "" {
		return Event{}, ReasonEmptyField
	}

	return Event{
		Timestamp: timestamp,
		Service:   service,
		Action:    eventName,
	}, ReasonNone
}

// stringField returns a present, non-empty string field.
func stringField(raw Raw, key string) (string, bool) {
	value, ok := raw[key].(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// isTruthy accepts the boolean true and the string "true" in any case.
func isTruthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}
