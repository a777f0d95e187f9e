package rate

import (
	"fmt"
	"strings"
)

// Class groups endpoints that share one budget.
type Class string

const (
	ClassRegistration Class = "registration"
	ClassLogin        Class = "login"
	ClassAPIGeneral   Class = "api_general"
	ClassDownload     Class = "download"
)

// Policy is the budget of one class.
type Policy struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	// RequestsPerHour is advertised to clients; admission uses the minute
	// refill rate and Burst only.
	RequestsPerHour int `json:"requests_per_hour"`
	Burst           int `json:"burst_limit"`
}

func (p Policy) validate() error {
	if p.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests per minute must be > 0")
	}
	if p.Burst <= 0 {
		return fmt.Errorf("burst must be > 0")
	}
	if p.RequestsPerHour < 0 {
		return fmt.Errorf("requests per hour must be >= 0")
	}
	return nil
}

// DefaultPolicies returns the production budgets.
func DefaultPolicies() map[Class]Policy {
	return map[Class]Policy{
		ClassRegistration: {RequestsPerMinute: 3, RequestsPerHour: 10, Burst: 5},
		ClassLogin:        {RequestsPerMinute: 10, RequestsPerHour: 30, Burst: 10},
		ClassAPIGeneral:   {RequestsPerMinute: 60, RequestsPerHour: 1000, Burst: 100},
		ClassDownload:     {RequestsPerMinute: 5, RequestsPerHour: 50, Burst: 10},
	}
}

// ClassifyPath maps a request path to its class.
func ClassifyPath(path string) Class {
	switch {
	case path == "/api/auth/register":
		return ClassRegistration
	case path == "/api/auth/login":
		return ClassLogin
	case strings.HasPrefix(path, "/api/books/") && strings.HasSuffix(path, "/pdf"):
		return ClassDownload
	default:
		return ClassAPIGeneral
	}
}

type policySet map[Class]Policy

func newPolicySet(in map[Class]Policy) (policySet, error) {
	if len(in) == 0 {
		in = DefaultPolicies()
	}
	out := make(policySet, len(in))
	for c, p := range in {
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("rate policy %q: %w", c, err)
		}
		out[c] = p
	}
	if _, ok := out[ClassAPIGeneral]; !ok {
		return nil, fmt.Errorf("rate policy %q is required", ClassAPIGeneral)
	}
	return out, nil
}

// resolve falls back to the general class for unknown classes.
func (ps policySet) resolve(c Class) (Class, Policy) {
	if p, ok := ps[c]; ok {
		return c, p
	}
	return ClassAPIGeneral, ps[ClassAPIGeneral]
}
