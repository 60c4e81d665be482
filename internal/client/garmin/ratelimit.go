package garmin

import (
	"net/http"
	"strconv"
	"time"
)

const retryAfterHeaderKey = "Retry-After"

// parseRetryAfter reads the Retry-After header from a 429 response.
// Handles both delta-seconds ("120") and HTTP-date forms. Returns zero when
// the header is absent or unparseable; callers fall back to their own
// backoff schedule.
func parseRetryAfter(headers http.Header) time.Duration {
	v := headers.Get(retryAfterHeaderKey)
	if v == "" {
		return 0
	}

	if seconds, err := strconv.ParseInt(v, 10, 64); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(v); err == nil {
		d := time.Until(at)
		if d < 0 {
			return 0
		}
		return d
	}

	return 0
}
