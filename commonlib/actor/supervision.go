package actor

import (
	"errors"
	"time"
)

// =============================================================================
// Supervision - 监督策略
// =============================================================================

// Directive is the action a strategy maps an actor failure to.
type Directive int

const (
	// DirectiveResume keeps the instance and its state; the failing
	// envelope is skipped.
	DirectiveResume Directive = iota

	// DirectiveRestart discards the instance and constructs a fresh one
	// from the factory. The mailbox is preserved; the failing envelope is
	// not redelivered.
	DirectiveRestart

	// DirectiveStop transitions the actor to STOPPING → STOPPED.
	DirectiveStop

	// DirectiveEscalate hands the failure to the service-level handler;
	// unhandled escalations are treated as STOP.
	DirectiveEscalate
)

func (d Directive) String() string {
	switch d {
	case DirectiveResume:
		return "RESUME"
	case DirectiveRestart:
		return "RESTART"
	case DirectiveStop:
		return "STOP"
	case DirectiveEscalate:
		return "ESCALATE"
	default:
		return "UNKNOWN"
	}
}

// Scope selects which actors a directive applies to.
type Scope int

const (
	// ScopeOneForOne applies the directive to the failing actor only.
	ScopeOneForOne Scope = iota

	// ScopeAllForOne applies it to all actors of the same sibling group
	// within one system.
	ScopeAllForOne
)

// Rule maps a class of errors to a directive. Rules are evaluated in order;
// the first match wins.
type Rule struct {
	Match     func(err error) bool
	Directive Directive
}

// MatchError builds a rule matching errors.Is against a sentinel.
func MatchError(target error, d Directive) Rule {
	return Rule{
		Match:     func(err error) bool { return errors.Is(err, target) },
		Directive: d,
	}
}

// Strategy decides what happens after an uncaught error from Receive.
type Strategy struct {
	Scope   Scope
	Rules   []Rule
	Default Directive

	// MaxRetries bounds restarts within TimeRange; once exceeded the
	// failure escalates. Zero values mean unbounded.
	MaxRetries int
	TimeRange  time.Duration
}

// Decide returns the directive for the given error.
func (s *Strategy) Decide(err error) Directive {
	for _, r := range s.Rules {
		if r.Match != nil && r.Match(err) {
			return r.Directive
		}
	}
	return s.Default
}

// DefaultStrategy restarts on any error, five times per minute, one-for-one.
func DefaultStrategy() *Strategy {
	return &Strategy{
		Scope:      ScopeOneForOne,
		Default:    DirectiveRestart,
		MaxRetries: 5,
		TimeRange:  time.Minute,
	}
}

// StopStrategy stops the actor on any error.
func StopStrategy() *Strategy {
	return &Strategy{
		Scope:   ScopeOneForOne,
		Default: DirectiveStop,
	}
}
