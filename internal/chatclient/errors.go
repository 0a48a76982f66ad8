package chatclient

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a failure reported by the server, either as a non-2xx status or
// as a non-zero envelope code.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat api: status %d code %d", e.Status, e.Code)
	}
	return fmt.Sprintf("chat api: status %d code %d: %s", e.Status, e.Code, e.Message)
}

// IsNotFound reports whether err is a server 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsUnauthorized reports whether the session is missing or expired.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}
