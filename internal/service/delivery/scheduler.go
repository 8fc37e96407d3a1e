package delivery

import (
	"time"

	"github.com/chatline/webhook-api/internal/model"
)

// backoffTable holds the fixed delays between consecutive retries, indexed by
// 1-based attempt number.
var backoffTable = [...]time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	60 * time.Minute,
}

// MaxAttempts is the attempt budget per delivery log entry: the initial
// attempt plus one retry per backoff step.
const MaxAttempts = len(backoffTable) + 1

// Decision is the scheduler's verdict after a failed attempt.
type Decision struct {
	Status      model.DeliveryStatus
	NextRetryAt *time.Time
}

// Decide maps a failed attempt count onto the next delivery state. It is a
// pure function of its inputs: at or past the budget the entry is exhausted,
// otherwise the retry timer is armed from the backoff table. Attempt counts
// past the table reuse the last entry rather than extrapolating.
func Decide(attempts int, now time.Time) Decision {
	if attempts >= MaxAttempts {
		return Decision{Status: model.DeliveryStatusExhausted}
	}

	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffTable) {
		idx = len(backoffTable) - 1
	}

	at := now.Add(backoffTable[idx])
	return Decision{Status: model.DeliveryStatusFailed, NextRetryAt: &at}
}
