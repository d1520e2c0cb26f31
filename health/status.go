package health

import (
	"regexp"
	"slices"
	"strings"
	"time"
)

// Level is the coarse state of a component
type Level string

const (
	Healthy   Level = "healthy"
	Degraded  Level = "degraded"
	Unhealthy Level = "unhealthy"
)

var (
	urlRegex        = regexp.MustCompile(`(?i)\b(?:https?|wss?|nats|tls|postgres(?:ql)?)://[^\s,]+`)
	unixPathRegex   = regexp.MustCompile(`(?:^|\s)/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}(?::\d{2,5})?\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is the result of one check, or of a Monitor aggregate
type Status struct {
	Component   string        `json:"component"`
	Level       Level         `json:"status"`
	Message     string        `json:"message,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
	Latency     time.Duration `json:"latency,omitempty"`
	SubStatuses []Status      `json:"sub_statuses,omitempty"`
}

// IsHealthy reports whether the level is healthy
func (s Status) IsHealthy() bool {
	return s.Level == Healthy
}

// OK builds a healthy status
func OK(message string) Status {
	return Status{Level: Healthy, Message: message}
}

// Degrade builds a degraded status
func Degrade(message string) Status {
	return Status{Level: Degraded, Message: message}
}

// Fail builds an unhealthy status
func Fail(message string) Status {
	return Status{Level: Unhealthy, Message: message}
}

// Aggregate folds subs into a status for component. No subs is healthy.
func Aggregate(component string, subs []Status, now time.Time) Status {
	out := Status{Component: component, Level: Healthy, Timestamp: now}
	for _, sub := range subs {
		switch sub.Level {
		case Unhealthy:
			out.Level = Unhealthy
		case Degraded:
			if out.Level == Healthy {
				out.Level = Degraded
			}
		}
	}
	switch out.Level {
	case Unhealthy:
		out.Message = "one or more components are unhealthy"
	case Degraded:
		out.Message = "one or more components are degraded"
	default:
		out.Message = "all components healthy"
	}
	out.SubStatuses = slices.Clone(subs)
	slices.SortFunc(out.SubStatuses, func(a, b Status) int { return strings.Compare(a.Component, b.Component) })
	return out
}

// Sanitize masks connection strings, paths, addresses and credentials
func Sanitize(msg string) string {
	if msg == "" {
		return ""
	}
	msg = urlRegex.ReplaceAllString(msg, "[URL]")
	msg = credentialRegex.ReplaceAllString(msg, "[REDACTED]")
	msg = ipAddrRegex.ReplaceAllString(msg, "[IP]")
	msg = unixPathRegex.ReplaceAllStringFunc(msg, func(m string) string {
		if m[0] != '/' {
			return m[:1] + "[PATH]"
		}
		return "[PATH]"
	})
	return msg
}
