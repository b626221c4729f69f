package delivery

import (
	"fmt"
)

// InvalidScheduleError rejects an hour, minute or timezone before it reaches
// the job table.
type InvalidScheduleError struct {
	SubscriptionID int64
	Rule           string
	Err            error
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("invalid schedule for subscription %d (%s): %v", e.SubscriptionID, e.Rule, e.Err)
}

func (e *InvalidScheduleError) Unwrap() error { return e.Err }
