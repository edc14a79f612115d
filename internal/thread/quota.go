package thread

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// DefaultMaxRounds bounds the number of fetch rounds per loader.
// Honest threads finish in a handful of rounds; the limit only matters for
// adversarial reference chains.
const DefaultMaxRounds = 1000

// roundQuota numbers fetch rounds and enforces the per-loader limit.
//
// Check runs on the run loop only. Current may be read from any goroutine.
type roundQuota struct {
	limit   int
	current atomic.Int64
}

func newRoundQuota(limit int) *roundQuota {
	return &roundQuota{limit: limit}
}

// Check reserves the next round number.
// Returns RoundsExceededError once the limit is reached. A limit of zero or
// less means unlimited.
func (q *roundQuota) Check(subject string) (int, error) {
	next := int(q.current.Load()) + 1
	if q.limit > 0 && next > q.limit {
		return 0, &RoundsExceededError{
			Subject: subject,
			Rounds:  next,
			Limit:   q.limit,
		}
	}
	q.current.Store(int64(next))
	return next, nil
}

// Current returns the number of rounds issued.
func (q *roundQuota) Current() int {
	return int(q.current.Load())
}

// Limit returns the configured limit.
func (q *roundQuota) Limit() int {
	return q.limit
}

// RoundsExceededError is recorded when a loader would exceed its round quota.
// The branch that hit the limit ends; the loader keeps running otherwise.
type RoundsExceededError struct {
	Subject string
	Rounds  int
	Limit   int
}

// Error implements the error interface.
func (e *RoundsExceededError) Error() string {
	return fmt.Sprintf("thread %s exceeded max rounds: %d > %d limit",
		e.Subject, e.Rounds, e.Limit)
}

// IsRoundsExceededError returns true if err is a RoundsExceededError.
func IsRoundsExceededError(err error) bool {
	var re *RoundsExceededError
	return errors.As(err, &re)
}
