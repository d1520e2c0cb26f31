// Package rules evaluates audience rules for branch conditions: each rule
// compares one field of the activation context with a value, and a Set
// joins its rules with all/any matching.
//
//	rules.Set{Match: rules.MatchAll, Rules: []rules.Rule{
//	    {Field: "customer.tier", Op: rules.In, Value: []any{"gold", "platinum"}},
//	    {Field: "visits", Op: rules.Between, Value: []any{3, 10}},
//	}}
package rules

import (
	"fmt"
	"strings"
)

// Op names a comparison
type Op string

// Comparisons. Ordering ops compare numbers numerically and anything else
// as text.
const (
	Eq       Op = "eq"
	Ne       Op = "ne"
	Lt       Op = "lt"
	Lte      Op = "lte"
	Gt       Op = "gt"
	Gte      Op = "gte"
	Contains Op = "contains"
	Prefix   Op = "prefix"
	Suffix   Op = "suffix"
	Matches  Op = "matches"
	In       Op = "in"
	NotIn    Op = "not_in"
	Between  Op = "between"
	Exists   Op = "exists"
)

// Match decides how rule outcomes combine
type Match string

const (
	MatchAll Match = "all"
	MatchAny Match = "any"
)

// Rule compares one context field, addressed by a dotted path, with Value.
// A missing field fails the rule, or the whole evaluation when Required.
type Rule struct {
	Field    string `json:"field"`
	Op       Op     `json:"op"`
	Value    any    `json:"value,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// Set is a list of rules. An empty Match means MatchAll; an empty set
// always passes.
type Set struct {
	Match Match  `json:"match,omitempty"`
	Rules []Rule `json:"rules"`
}

// Error reports the rule that could not be checked or evaluated
type Error struct {
	Field  string
	Op     Op
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("rule %s %s: %s", e.Field, e.Op, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Check reports the first malformed rule without evaluating anything
func (s Set) Check() error {
	switch s.Match {
	case "", MatchAll, MatchAny:
	default:
		return &Error{Reason: fmt.Sprintf("unknown match %q", s.Match)}
	}
	for _, r := range s.Rules {
		if r.Field == "" {
			return &Error{Op: r.Op, Reason: "field is required"}
		}
		if _, ok := comparisons[r.Op]; !ok {
			return &Error{Field: r.Field, Op: r.Op, Reason: "unknown op"}
		}
	}
	return nil
}

// Eval applies the set to ctx. Evaluation stops at the first rule that
// decides the outcome.
func (s Set) Eval(ctx map[string]any) (bool, error) {
	if err := s.Check(); err != nil {
		return false, err
	}
	anyOf := s.Match == MatchAny
	for _, r := range s.Rules {
		ok, err := r.Eval(ctx)
		if err != nil {
			return false, err
		}
		if ok == anyOf {
			return anyOf, nil
		}
	}
	return !anyOf || len(s.Rules) == 0, nil
}

// Eval applies one rule to ctx
func (r Rule) Eval(ctx map[string]any) (bool, error) {
	cmp, ok := comparisons[r.Op]
	if !ok {
		return false, &Error{Field: r.Field, Op: r.Op, Reason: "unknown op"}
	}
	v, found := Lookup(ctx, r.Field)
	if r.Op == Exists {
		return found, nil
	}
	if !found {
		if r.Required {
			return false, &Error{Field: r.Field, Op: r.Op, Reason: "field missing from context"}
		}
		return false, nil
	}
	result, err := cmp(v, r.Value)
	if err != nil {
		return false, &Error{Field: r.Field, Op: r.Op, Reason: "bad operand", Err: err}
	}
	return result, nil
}

// Lookup resolves a dotted path through nested maps. A key containing the
// dots literally wins over the nested path.
func Lookup(ctx map[string]any, path string) (any, bool) {
	if v, ok := ctx[path]; ok {
		return v, true
	}
	var cur any = ctx
	for part := range strings.SplitSeq(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}
