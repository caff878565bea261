package job

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Static errors for backoff schedules.
var (
	// ErrEmptySchedule is returned when a schedule has no delays.
	ErrEmptySchedule = errors.New("job: backoff schedule is empty")
	// ErrNegativeDelay is returned when a schedule contains a negative delay.
	ErrNegativeDelay = errors.New("job: backoff schedule contains a negative delay")
)

// defaultDelays is the wait before each status query, in seconds.
var defaultDelays = []time.Duration{
	3 * time.Second,
	5 * time.Second,
	8 * time.Second,
	8 * time.Second,
	8 * time.Second,
	13 * time.Second,
	21 * time.Second,
	34 * time.Second,
	55 * time.Second,
}

// BackoffSchedule is an ordered, finite list of waits between status queries.
// It is immutable after construction and safe to share between jobs.
type BackoffSchedule struct {
	delays []time.Duration
}

// NewBackoffSchedule builds a schedule from the given delays.
func NewBackoffSchedule(delays ...time.Duration) (BackoffSchedule, error) {
	if len(delays) == 0 {
		return BackoffSchedule{}, ErrEmptySchedule
	}
	for i, d := range delays {
		if d < 0 {
			return BackoffSchedule{}, fmt.Errorf("%w: index %d (%s)", ErrNegativeDelay, i, d)
		}
	}
	return BackoffSchedule{delays: slices.Clone(delays)}, nil
}

// DefaultBackoffSchedule returns the 3,5,8,8,8,13,21,34,55 second schedule.
func DefaultBackoffSchedule() BackoffSchedule {
	return BackoffSchedule{delays: slices.Clone(defaultDelays)}
}

// Delays returns a copy of the waits.
func (s BackoffSchedule) Delays() []time.Duration {
	return slices.Clone(s.delays)
}

// Len returns the number of status queries the schedule allows.
func (s BackoffSchedule) Len() int {
	return len(s.delays)
}

// Total returns the sum of all waits, the upper bound spent sleeping.
func (s BackoffSchedule) Total() time.Duration {
	var total time.Duration
	for _, d := range s.delays {
		total += d
	}
	return total
}

func (s BackoffSchedule) String() string {
	return fmt.Sprintf("%v (total %s)", s.delays, s.Total())
}
