package delivery

import "time"

// maxAttempt is the last attempt number a job runs before it is DLQ'd
// instead of rescheduled (§4.F: attempts 0..5 run, attempt 5 is terminal).
const maxAttempt = 5

// backoffFor returns the delay before the job carrying this (new) attempt
// number should run, per the fixed schedule in §4.F. Attempt 0 runs
// immediately; the schedule caps at attempt 5 and a defensive value beyond
// that which should never normally be reached, since attempt 5 is terminal.
func backoffFor(attempt int) time.Duration {
	switch {
	case attempt <= 0:
		return 0
	case attempt == 1:
		return 60 * time.Second
	case attempt == 2:
		return 300 * time.Second
	case attempt == 3:
		return 1800 * time.Second
	case attempt == 4:
		return 7200 * time.Second
	case attempt == 5:
		return 7200 * time.Second
	default:
		return 21600 * time.Second
	}
}
