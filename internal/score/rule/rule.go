package rule

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Rule is a supplementary scoring rule.
// The When field contains a CEL expression over the event variables (see NewEventEnv).
// The Then field contains the points awarded when the expression is true.
// The CEL program is compiled when Init is called and used by Eval.
type Rule struct {
	// When: CEL expression defining the rule trigger condition.
	// Must return a boolean value.
	When string `yaml:"when"`
	// Then: points awarded if the condition is true. Must be positive.
	Then int `yaml:"then"`
	// program: compiled CEL program used to execute the condition.
	program cel.Program
}

// Init compiles the When expression into an executable CEL program using env.
// Syntax errors, type errors and non-boolean expressions are reported.
// After successful initialization, the rule is ready for use in Eval.
func (r *Rule) Init(env *cel.Env) error {
	if r.Then <= 0 {
		return fmt.Errorf("rule %q: points must be positive, got %d", r.When, r.Then)
	}

	ast, iss := env.Parse(r.When)
	if iss.Err() != nil {
		return iss.Err()
	}

	checked, iss := env.Check(ast)
	if iss.Err() != nil {
		return iss.Err()
	}
	if !checked.OutputType().IsExactType(cel.BoolType) {
		return fmt.Errorf("rule %q: expression must be boolean, got %s", r.When, checked.OutputType())
	}

	var err error
	r.program, err = env.Program(checked)
	if err != nil {
		return err
	}

	return nil
}

// Eval executes the compiled rule against vars.
// Returns Then when the condition holds and 0 when it does not.
// Evaluation failures are returned so the caller can log them and move on.
func (r *Rule) Eval(vars map[string]any) (int, error) {
	if r.program == nil {
		return 0, fmt.Errorf("rule %q: not initialized", r.When)
	}

	result, _, err := r.program.Eval(vars)
	if err != nil {
		return 0, err
	}

	if matched, ok := result.Value().(bool); ok && matched {
		return r.Then, nil
	}

	return 0, nil
}
