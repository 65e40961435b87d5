package client

import (
	"errors"
	"fmt"
)

// ErrorClass buckets request failures by origin.
type ErrorClass int

const (
	// Unreachable covers connection failures and timeouts.
	Unreachable ErrorClass = iota
	// ClientError covers 4xx server rejections.
	ClientError
	// ServerError covers 5xx responses.
	ServerError
)

func (c ErrorClass) String() string {
	switch c {
	case Unreachable:
		return "unreachable"
	case ClientError:
		return "client_error"
	case ServerError:
		return "server_error"
	}
	return "unknown"
}

// APIError is a failed request with its classification. The outbox
// treats every class as retryable; the class exists for logging and for
// the unauthorized check on the realtime path.
type APIError struct {
	Class  ErrorClass
	Status int
	Body   string
	Err    error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("request failed (%s): %v", e.Class, e.Err)
	}
	return fmt.Sprintf("request failed (%s): status %d", e.Class, e.Status)
}

func (e *APIError) Unwrap() error { return e.Err }

// IsUnauthorized reports whether err is a 401 rejection.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == 401
}
