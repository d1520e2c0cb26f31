package rules

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var contact = map[string]any{
	"email":    "ana@example.com",
	"visits":   7,
	"spend":    120.5,
	"opted_in": true,
	"customer": map[string]any{
		"tier":   "gold",
		"region": map[string]any{"code": "EU"},
	},
	"tags":       []string{"vip"},
	"utm.source": "newsletter",
}

func TestRule_Eval(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		want bool
	}{
		{"eq string", Rule{Field: "customer.tier", Op: Eq, Value: "gold"}, true},
		{"eq across numeric types", Rule{Field: "visits", Op: Eq, Value: 7.0}, true},
		{"ne", Rule{Field: "customer.tier", Op: Ne, Value: "silver"}, true},
		{"lt", Rule{Field: "visits", Op: Lt, Value: 10}, true},
		{"lte boundary", Rule{Field: "visits", Op: Lte, Value: 7}, true},
		{"gt float", Rule{Field: "spend", Op: Gt, Value: 100}, true},
		{"gte miss", Rule{Field: "spend", Op: Gte, Value: 200}, false},
		{"contains", Rule{Field: "email", Op: Contains, Value: "@example"}, true},
		{"prefix", Rule{Field: "email", Op: Prefix, Value: "ana"}, true},
		{"suffix", Rule{Field: "email", Op: Suffix, Value: ".org"}, false},
		{"matches", Rule{Field: "email", Op: Matches, Value: `^[a-z]+@example\.com$`}, true},
		{"in", Rule{Field: "customer.tier", Op: In, Value: []any{"gold", "platinum"}}, true},
		{"in typed slice", Rule{Field: "visits", Op: In, Value: []int{1, 7}}, true},
		{"not in", Rule{Field: "customer.region.code", Op: NotIn, Value: []string{"US", "CA"}}, true},
		{"between inclusive", Rule{Field: "visits", Op: Between, Value: []any{3, 7}}, true},
		{"between miss", Rule{Field: "visits", Op: Between, Value: []any{8, 10}}, false},
		{"exists", Rule{Field: "customer.region", Op: Exists}, true},
		{"exists missing", Rule{Field: "customer.phone", Op: Exists}, false},
		{"literal dotted key", Rule{Field: "utm.source", Op: Eq, Value: "newsletter"}, true},
		{"bool as text", Rule{Field: "opted_in", Op: Eq, Value: "true"}, true},
		{"missing optional", Rule{Field: "customer.age", Op: Gt, Value: 18}, false},
		{"path through scalar", Rule{Field: "email.domain", Op: Eq, Value: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.rule.Eval(contact)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRule_EvalErrors(t *testing.T) {
	tests := []struct {
		name   string
		rule   Rule
		reason string
	}{
		{"required missing", Rule{Field: "customer.age", Op: Gt, Value: 18, Required: true}, "field missing"},
		{"unknown op", Rule{Field: "visits", Op: "approx", Value: 7}, "unknown op"},
		{"in needs a list", Rule{Field: "visits", Op: In, Value: 7}, "expected a list"},
		{"between needs two bounds", Rule{Field: "visits", Op: Between, Value: []any{1}}, "low, high"},
		{"pattern type", Rule{Field: "email", Op: Matches, Value: 3}, "must be a string"},
		{"bad pattern", Rule{Field: "email", Op: Matches, Value: "("}, "bad operand"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.rule.Eval(contact)
			require.Error(t, err)
			var rerr *Error
			require.True(t, stderrors.As(err, &rerr))
			assert.Equal(t, tt.rule.Field, rerr.Field)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestSet_Eval(t *testing.T) {
	gold := Rule{Field: "customer.tier", Op: Eq, Value: "gold"}
	lapsed := Rule{Field: "visits", Op: Lt, Value: 2}
	broken := Rule{Field: "phone", Op: Exists, Required: true}

	tests := []struct {
		name string
		set  Set
		want bool
	}{
		{"empty passes", Set{}, true},
		{"empty any passes", Set{Match: MatchAny}, true},
		{"default is all", Set{Rules: []Rule{gold, lapsed}}, false},
		{"all", Set{Match: MatchAll, Rules: []Rule{gold, {Field: "opted_in", Op: Eq, Value: true}}}, true},
		{"any", Set{Match: MatchAny, Rules: []Rule{lapsed, gold}}, true},
		{"any none", Set{Match: MatchAny, Rules: []Rule{lapsed}}, false},
		{"any stops at first hit", Set{Match: MatchAny, Rules: []Rule{gold, {Field: "x", Op: Gt, Value: 1, Required: true}}}, true},
		{"exists ignores required", Set{Rules: []Rule{broken}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.set.Eval(contact)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSet_Check(t *testing.T) {
	assert.NoError(t, Set{Rules: []Rule{{Field: "visits", Op: Gt, Value: 1}}}.Check())
	assert.ErrorContains(t, Set{Match: "most"}.Check(), "unknown match")
	assert.ErrorContains(t, Set{Rules: []Rule{{Op: Eq}}}.Check(), "field is required")
	assert.ErrorContains(t, Set{Rules: []Rule{{Field: "a", Op: "like"}}}.Check(), "unknown op")

	_, err := Set{Rules: []Rule{{Field: "a", Op: "like"}}}.Eval(contact)
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	v, ok := Lookup(contact, "customer.region.code")
	assert.True(t, ok)
	assert.Equal(t, "EU", v)

	_, ok = Lookup(nil, "a")
	assert.False(t, ok)

	_, ok = Lookup(contact, "customer.region.code.x")
	assert.False(t, ok)
}

func TestPatternLimits(t *testing.T) {
	long := make([]byte, maxPatternLen+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := patterns.get(string(long))
	assert.ErrorContains(t, err, "longer than")

	groups := ""
	for range maxPatternGroup + 1 {
		groups += "(a)"
	}
	_, err = patterns.get(groups)
	assert.ErrorContains(t, err, "groups")

	for i := range maxPatterns + 5 {
		_, err := patterns.get(fmt.Sprintf("^p%d$", i))
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, patterns.len(), maxPatterns)
}
