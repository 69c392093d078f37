package gateway

import "errors"

// Service failure kinds. Callers branch on these with errors.Is:
// rate limits and timeouts are retried and then counted as unit
// failures; quota exhaustion stops a whole job or batch run so the
// caller can surface billing guidance instead of "try again".
var (
	ErrRateLimited   = errors.New("service rate limited")
	ErrQuotaExceeded = errors.New("service quota exceeded")
	ErrTimeout       = errors.New("service call timed out")
)

// IsTransient reports whether the failure is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout)
}
