package enrich

import (
	"errors"
	"fmt"
	"strings"
)

// MaxRetries is the retry ceiling; links at or above it are no longer claimed.
const MaxRetries = 5

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFallback   Status = "fallback"
)

var ErrIllegalTransition = errors.New("illegal enrichment transition")

// success -> pending and fallback -> pending only happen when housekeeping
// finds a stored title that is now classified as garbage. processing -> pending
// covers provider failures and expired leases.
var allowedTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusFallback:   {StatusProcessing, StatusPending},
	StatusProcessing: {StatusSuccess, StatusFallback, StatusPending},
	StatusSuccess:    {StatusPending},
}

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown enrichment status %q", raw)
	}
	return s, nil
}

func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// Claimable reports whether a link in this status may be picked up by a batch.
func (s Status) Claimable() bool {
	return s == StatusPending || s == StatusFallback
}

func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates a state change and returns ErrIllegalTransition otherwise.
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
