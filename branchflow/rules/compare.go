package rules

import (
	"cmp"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
)

type comparison func(field, value any) (bool, error)

var comparisons = map[Op]comparison{
	Eq:       func(f, v any) (bool, error) { return order(f, v) == 0, nil },
	Ne:       func(f, v any) (bool, error) { return order(f, v) != 0, nil },
	Lt:       func(f, v any) (bool, error) { return order(f, v) < 0, nil },
	Lte:      func(f, v any) (bool, error) { return order(f, v) <= 0, nil },
	Gt:       func(f, v any) (bool, error) { return order(f, v) > 0, nil },
	Gte:      func(f, v any) (bool, error) { return order(f, v) >= 0, nil },
	Contains: text(strings.Contains),
	Prefix:   text(strings.HasPrefix),
	Suffix:   text(strings.HasSuffix),
	Matches:  matches,
	In:       in,
	NotIn: func(f, v any) (bool, error) {
		ok, err := in(f, v)
		return !ok && err == nil, err
	},
	Between: between,
	Exists:  func(any, any) (bool, error) { return true, nil },
}

func text(fn func(s, sub string) bool) comparison {
	return func(f, v any) (bool, error) {
		return fn(str(f), str(v)), nil
	}
}

func matches(f, v any) (bool, error) {
	pattern, ok := v.(string)
	if !ok {
		return false, fmt.Errorf("pattern must be a string, got %T", v)
	}
	re, err := patterns.get(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(str(f)), nil
}

func in(f, v any) (bool, error) {
	list, err := items(v)
	if err != nil {
		return false, err
	}
	for _, item := range list {
		if order(f, item) == 0 {
			return true, nil
		}
	}
	return false, nil
}

// between is inclusive on both bounds
func between(f, v any) (bool, error) {
	bounds, err := items(v)
	if err != nil {
		return false, err
	}
	if len(bounds) != 2 {
		return false, fmt.Errorf("between takes [low, high], got %d values", len(bounds))
	}
	return order(f, bounds[0]) >= 0 && order(f, bounds[1]) <= 0, nil
}

func items(v any) ([]any, error) {
	if list, ok := v.([]any); ok {
		return list, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// order compares numbers numerically and falls back to text
func order(a, b any) int {
	x, okA := number(a)
	y, okB := number(b)
	if okA && okB {
		return cmp.Compare(x, y)
	}
	return strings.Compare(str(a), str(b))
}

func number(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

const (
	maxPatterns     = 128
	maxPatternLen   = 256
	maxPatternGroup = 16
)

// patternCache holds compiled patterns; it starts over when full
type patternCache struct {
	mu sync.Mutex
	m  map[string]*regexp.Regexp
}

var patterns = &patternCache{m: make(map[string]*regexp.Regexp)}

func (c *patternCache) get(pattern string) (*regexp.Regexp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if re, ok := c.m[pattern]; ok {
		return re, nil
	}
	if len(pattern) > maxPatternLen {
		return nil, fmt.Errorf("pattern longer than %d bytes", maxPatternLen)
	}
	if strings.Count(pattern, "(") > maxPatternGroup {
		return nil, fmt.Errorf("pattern has more than %d groups", maxPatternGroup)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	if len(c.m) >= maxPatterns {
		clear(c.m)
	}
	c.m[pattern] = re
	return re, nil
}

func (c *patternCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}
