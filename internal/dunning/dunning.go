// Package dunning holds the payment-failure retry policy. It is pure
// so the schedule can be unit tested without any provider or database.
package dunning

import "time"

const (
	// SuspensionWindow is how long access stays disabled once the
	// failure threshold is crossed.
	SuspensionWindow = 7 * 24 * time.Hour

	// GraceWindow is how long a trial-end charge failure may stay
	// unresolved before the account is deleted.
	GraceWindow = 48 * time.Hour

	// TrialDays is the provider-side free trial length.
	TrialDays = 7

	suspendThreshold = 3
)

// RetryDelay returns how long to wait before the next charge attempt
// given the number of consecutive failures so far.
//
// Attempts 1-2 retry after 3 days, attempts 3-4 after 7 days, and from
// the fifth failure on the schedule flattens to 14 days.
func RetryDelay(failureCount int) time.Duration {
	if failureCount < 1 {
		failureCount = 1
	}
	switch {
	case failureCount <= 2:
		return 3 * 24 * time.Hour
	case failureCount <= 4:
		return 7 * 24 * time.Hour
	default:
		return 14 * 24 * time.Hour
	}
}

// ShouldSuspend reports whether access should be disabled after the
// given number of consecutive failures.
func ShouldSuspend(failureCount int) bool {
	return failureCount >= suspendThreshold
}
