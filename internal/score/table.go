package score

import (
	"fmt"
	"log/slog"
	"strings"

	"cloudproof/internal/score/rule"
)

// Table is the static scoring table. It maps (service, action) pairs to points,
// zero-scores actions with an ignored prefix and optionally consults CEL rules
// for pairs the table does not know.
//
// A Table never changes after NewTable returns and is safe for concurrent use.
type Table struct {
	// points: service (upper case) → action → points.
	points map[string]map[string]int
	// ignored: action prefixes that always score 0.
	ignored []string
	// rules: supplementary rules evaluated in declaration order.
	rules []rule.Rule
}

// Score returns the points of the action. Ignored prefixes are checked first and
// override the table. Unknown pairs score 0, which is not an error.
func (t *Table) Score(service, action string) int {
	if t.Ignored(action) {
		return 0
	}

	service = strings.ToUpper(service)
	if points, found := t.points[service][action]; found {
		return points
	}

	vars := map[string]any{"service": service, "action": action}
	for i := range t.rules {
		points, err := t.rules[i].Eval(vars)
		if err != nil {
			slog.Error("rule eval", "error", err, "rule", t.rules[i].When, "service", service, "action", action)
			continue
		}
		if points > 0 {
			return points
		}
	}

	return 0
}

// Ignored reports whether the action starts with one of the ignored prefixes.
// The match is case-sensitive.
func (t *Table) Ignored(action string) bool {
	for _, prefix := range t.ignored {
		if strings.HasPrefix(action, prefix) {
			return true
		}
	}
	return false
}

// Len returns the number of (service, action) pairs in the table.
func (t *Table) Len() int {
	n := 0
	for _, actions := range t.points {
		n += len(actions)
	}
	return n
}

// NewTable builds an immutable table from cfg. Service names are upper-cased so they
// match the service derived from an event source. Points must be positive and every
// rule must compile, otherwise an error is returned.
func NewTable(cfg TableConfig) (*Table, error) {
	table := Table{
		points:  make(map[string]map[string]int, len(cfg.Services)),
		ignored: append([]string(nil), cfg.IgnoredPrefixes...),
		rules:   append([]rule.Rule(nil), cfg.Rules...),
	}

	for service, actions := range cfg.Services {
		key := strings.ToUpper(service)
		if key == "" {
			return nil, fmt.Errorf("scoring table: empty service name")
		}
		if table.points[key] == nil {
			table.points[key] = make(map[string]int, len(actions))
		}
		for action, points := range actions {
			if points <= 0 {
				return nil, fmt.Errorf("scoring table: %s/%s: points must be positive, got %d", service, action, points)
			}
			table.points[key][action] = points
		}
	}

	if err := rule.Compile(table.rules, rule.NewEventEnv); err != nil {
		return nil, fmt.Errorf("scoring rules: %w", err)
	}

	return &table, nil
}

// NewDefaultTable builds the table from DefaultTableConfig.
func NewDefaultTable() *Table {
	table, err := NewTable(DefaultTableConfig())
	if err != nil {
		panic(err)
	}
	return table
}
