package rule

import (
	"github.com/google/cel-go/cel"
)

// NewEventEnv declares the variables a rule may reference:
// service (upper case, e.g. "EC2") and action (e.g. "RunInstances").
func NewEventEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("service", cel.StringType),
		cel.Variable("action", cel.StringType),
	)
}

// Compile initializes every rule in place, each with its own environment.
func Compile(rules []Rule, envProvider func() (*cel.Env, error)) error {
	for i := range rules {
		env, err := envProvider()
		if err != nil {
			return err
		}

		if err := rules[i].Init(env); err != nil {
			return err
		}
	}
	return nil
}
