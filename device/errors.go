package device

import (
	"errors"
	"fmt"
)

var ErrVersionMismatch = errors.New("datatypes version mismatch")

// StatusError is returned for any non-2xx answer from the callback endpoint.
type StatusError struct {
	Request string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Request, e.Code, e.Body)
	}
	return fmt.Sprintf("%s: HTTP %d", e.Request, e.Code)
}
