package reliability

import (
	"net/http"
	"time"
)

// ClassifyProviderStatus maps an upstream provider HTTP status to a Kind.
func ClassifyProviderStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return KindAuthFailure
	case code == http.StatusTooManyRequests:
		return KindProviderRateLimited
	case code == http.StatusRequestTimeout, code >= 500 && code <= 599:
		return KindProviderUnavailable
	default:
		return KindGenerationFailed
	}
}

// IsRetryable reports whether a caller may reasonably retry after a failure of kind k.
// The chat core itself never retries.
func IsRetryable(k Kind) bool {
	switch k {
	case KindStorageUnavailable, KindProviderRateLimited, KindProviderUnavailable, KindGenerationFailed:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
