package garmin

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	go_json "github.com/goccy/go-json"
)

// ErrAuthFailed reports a rejected login. No remote call can succeed
// without a session, so the run aborts as soon as it surfaces; the
// Authenticator's state says whether a later run may retry.
var ErrAuthFailed = errors.New("garmin: authentication failed")

type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("garmin api: %d %s", e.StatusCode, e.Message)
}

func (e *APIError) IsAuth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == statusSessionExpired
}

func (e *APIError) IsRateLimit() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

func (e *APIError) IsDuplicate() bool {
	return e.StatusCode == http.StatusConflict
}

func (e *APIError) IsTransient() bool {
	return e.StatusCode >= 500
}

// Garmin signals an expired session with 419 rather than a plain 401.
const statusSessionExpired = 419

func parseAPIError(resp *http.Response) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header),
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		apiErr.Message = resp.Status
		return apiErr
	}

	var errResp struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}

	if err := go_json.Unmarshal(body, &errResp); err != nil {
		apiErr.Message = string(body)
		return apiErr
	}

	msg := errResp.Message
	if msg == "" {
		msg = errResp.Error
	}
	if msg == "" {
		msg = resp.Status
	}

	apiErr.Message = msg
	return apiErr
}

// AsAPIError unwraps err to an *APIError, or nil.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}
