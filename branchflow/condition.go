package branchflow

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/c360/flowcanvas/branchflow/rules"
)

// Condition decides whether a branch may activate for a context
type Condition interface {
	Evaluate(ctx map[string]any) (bool, error)
}

// FuncCondition adapts a function
type FuncCondition func(ctx map[string]any) (bool, error)

// Evaluate calls f
func (f FuncCondition) Evaluate(ctx map[string]any) (bool, error) {
	return f(ctx)
}

// BoolCondition is a literal outcome
type BoolCondition bool

// Evaluate returns the literal
func (b BoolCondition) Evaluate(map[string]any) (bool, error) {
	return bool(b), nil
}

// ExprCondition is a boolean expression over the context, for example
// `score > 50 && channel == "sms"`. It is compiled once.
type ExprCondition struct {
	Source  string
	program *vm.Program
}

// NewExprCondition compiles source
func NewExprCondition(source string) (*ExprCondition, error) {
	program, err := expr.Compile(source, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile condition %q: %w", source, err)
	}
	return &ExprCondition{Source: source, program: program}, nil
}

// Evaluate runs the program with ctx as its environment
func (c *ExprCondition) Evaluate(ctx map[string]any) (bool, error) {
	if ctx == nil {
		ctx = map[string]any{}
	}
	out, err := expr.Run(c.program, ctx)
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", c.Source, err)
	}
	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q returned %T, want bool", c.Source, out)
	}
	return result, nil
}

// RuleCondition evaluates a structured audience rule set
type RuleCondition struct {
	Rules rules.Set
}

// Evaluate applies the rules to ctx
func (r RuleCondition) Evaluate(ctx map[string]any) (bool, error) {
	return r.Rules.Eval(ctx)
}

// unsupportedCondition holds a value ConditionFrom could not convert. The
// condition validator rejects it; if that validator is removed, evaluation
// fails and activation moves the branch to error.
type unsupportedCondition struct {
	value any
	err   error
}

func (u unsupportedCondition) Evaluate(map[string]any) (bool, error) {
	return false, u.err
}

// ConditionFrom converts the accepted condition forms. nil yields nil.
func ConditionFrom(v any) (Condition, error) {
	switch c := v.(type) {
	case nil:
		return nil, nil
	case Condition:
		return c, nil
	case func(map[string]any) (bool, error):
		return FuncCondition(c), nil
	case func(map[string]any) bool:
		return FuncCondition(func(ctx map[string]any) (bool, error) { return c(ctx), nil }), nil
	case bool:
		return BoolCondition(c), nil
	case string:
		ec, err := NewExprCondition(c)
		if err != nil {
			return nil, err
		}
		return ec, nil
	case rules.Set:
		if err := c.Check(); err != nil {
			return nil, err
		}
		return RuleCondition{Rules: c}, nil
	}
	return nil, fmt.Errorf("condition must be a function, string, boolean or rule set, got %T", v)
}

// conditionOrUnsupported never fails; conversion errors are carried in the
// returned condition for the validators to report.
func conditionOrUnsupported(v any) Condition {
	c, err := ConditionFrom(v)
	if err != nil {
		return unsupportedCondition{value: v, err: err}
	}
	return c
}
