package slapi

import (
	"errors"
	"fmt"
)

// Error codes produced by this package in addition to the upstream codes.
const (
	CodeInvalidVehicleType = -1
	CodeUnexpectedResponse = -100
	CodeHTTP               = 997
	CodeEmptyResponse      = 999

	// CodeInvalidKey is the route planner's "supplied API key is not valid".
	CodeInvalidKey = 1002
)

// routePlannerErrors maps route planner 3.1 status codes to messages.
var routePlannerErrors = map[int]string{
	1001: "No API key supplied in request",
	1002: "The supplied API key is not valid",
	1003: "Specified API is not valid",
	1004: "The API is not available for this key",
	1005: "Key exists but is not for requested API",
	1006: "Too many request per minute (quota exceeded for key)",
	1007: "Too many request per month (quota exceeded for key)",
	4002: "Date filter is not valid",
	5000: "Parameter invalid",
}

// Error is an SL API failure with a numeric code.
type Error struct {
	Code    int
	Message string
	Detail  string

	// Err is the underlying transport error for CodeHTTP.
	Err error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("slapi: %d %s: %s", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("slapi: %d %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsAuthError reports whether err is an SL invalid-key failure.
func IsAuthError(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeInvalidKey
}

func routePlannerError(code int, detail string) *Error {
	msg, ok := routePlannerErrors[code]
	if !ok {
		msg = "Unknown error"
	}
	return &Error{Code: code, Message: msg, Detail: detail}
}
