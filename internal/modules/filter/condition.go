package filter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/PlainsightAI/filter-stub-application/internal/logger"
)

// Condition keeps events for which an expr expression is true.
//
// Object events expose their fields as top-level variables. Every event,
// object or not, is also available as `event`. Fields missing from the
// event evaluate to nil rather than failing.
type Condition struct {
	expression string
	program    *vm.Program
}

// NewCondition compiles expression. An empty expression keeps every event.
func NewCondition(expression string) (*Condition, error) {
	c := &Condition{expression: expression}
	if isBlank(expression) {
		return c, nil
	}

	program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, newError("condition", ErrCodeInvalidExpression,
			fmt.Sprintf("invalid expression %q: %v", expression, err), err)
	}
	c.program = program

	logger.Debug("condition transform initialized", slog.String("expression", expression))
	return c, nil
}

// Expression returns the source expression.
func (c *Condition) Expression() string {
	return c.expression
}

// Apply evaluates the condition against event.
func (c *Condition) Apply(_ context.Context, event interface{}) (interface{}, bool, error) {
	if c.program == nil {
		return event, true, nil
	}

	output, err := expr.Run(c.program, conditionEnv(event))
	if err != nil {
		return nil, false, newError("condition", ErrCodeEvaluationFailed,
			fmt.Sprintf("evaluating %q: %v", c.expression, err), err)
	}

	keep, ok := output.(bool)
	if !ok {
		keep = truthy(output)
	}
	if !keep {
		return nil, false, nil
	}
	return event, true, nil
}

func conditionEnv(event interface{}) map[string]interface{} {
	plain := plainValue(event)
	env := map[string]interface{}{}
	if fields, ok := plain.(map[string]interface{}); ok {
		for k, v := range fields {
			env[k] = v
		}
	}
	env["event"] = plain
	return env
}

var _ Module = (*Condition)(nil)
