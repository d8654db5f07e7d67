package cache

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownPolicy is returned when configuration names an eviction
// policy that does not exist.
var ErrUnknownPolicy = errors.New("cache: unknown eviction policy")

// Policy names accepted by ParsePolicy and the configuration file.
const (
	PolicyLeastFrequentlyUsed = "least-frequently-used"
	PolicyLeastTotalTime      = "least-total-time"
)

// VictimPolicy selects which unused image to evict. Candidates are the
// stats of every currently-unused image, in admission order; ties must
// be broken by keeping the earliest candidate so that selection is
// deterministic for a fixed input sequence.
type VictimPolicy interface {
	Name() string
	SelectVictim(candidates []ImageStats, now time.Time) (string, bool)
}

// LeastFrequentlyUsed evicts the unused image with the fewest usage
// starts inside the time window.
type LeastFrequentlyUsed struct{}

// Name returns the configuration name of the policy.
func (LeastFrequentlyUsed) Name() string { return PolicyLeastFrequentlyUsed }

// SelectVictim returns the candidate with the fewest recent starts.
func (LeastFrequentlyUsed) SelectVictim(candidates []ImageStats, _ time.Time) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	victim := candidates[0]
	for _, c := range candidates[1:] {
		if c.RecentStarts < victim.RecentStarts {
			victim = c
		}
	}
	return victim.Image, true
}

// LeastTotalTime evicts the unused image with the smallest total busy
// time inside the time window.
type LeastTotalTime struct{}

// Name returns the configuration name of the policy.
func (LeastTotalTime) Name() string { return PolicyLeastTotalTime }

// SelectVictim returns the candidate with the least recent busy time.
func (LeastTotalTime) SelectVictim(candidates []ImageStats, _ time.Time) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	victim := candidates[0]
	for _, c := range candidates[1:] {
		if c.RecentBusy < victim.RecentBusy {
			victim = c
		}
	}
	return victim.Image, true
}

// ParsePolicy resolves a configured policy name. Unrecognized names
// fail here rather than falling back to a default silently.
func ParsePolicy(name string) (VictimPolicy, error) {
	switch name {
	case PolicyLeastFrequentlyUsed:
		return LeastFrequentlyUsed{}, nil
	case PolicyLeastTotalTime:
		return LeastTotalTime{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
}
