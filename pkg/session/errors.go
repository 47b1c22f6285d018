package session

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/AnarchoFatSats/comercial-mva/pkg/funnel"
)

// ErrInvalidTransition is funnel.ErrInvalidTransition, re-exported for callers
// that only talk to sessions.
var ErrInvalidTransition = funnel.ErrInvalidTransition

var (
	// ErrIncompleteSession is returned by ToLeadRecord before a verdict.
	ErrIncompleteSession = errors.New("session has no verdict yet")
	// ErrSessionNotFound is returned by the Manager for unknown or expired ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInconsistentFunnel means a Disqualify edge fired but no rule matched.
	ErrInconsistentFunnel = errors.New("disqualify edge without a matching rule")
)

// ContactValidationError maps field names to the reason they were rejected.
type ContactValidationError struct {
	Fields map[string]string
}

func (e *ContactValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %s", k, e.Fields[k])
	}
	return "invalid contact: " + strings.Join(parts, "; ")
}

// Has reports whether a field was rejected.
func (e *ContactValidationError) Has(field string) bool {
	_, ok := e.Fields[field]
	return ok
}

func terminalError(s *FormSession) error {
	return &funnel.TransitionError{StepID: s.current, Reason: fmt.Sprintf("session is %s", s.status)}
}
