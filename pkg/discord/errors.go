package discord

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses. These are absorbed by the
	// transport and never returned to callers.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents connection level failures.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassProtocol represents bodies that do not match the expected shape.
	ErrorClassProtocol ErrorClass = "protocol"
)

// Common errors returned by the client.
var (
	// ErrContextCancelled is returned when the context is cancelled while
	// waiting out a rate limit or before a request is sent.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrInvalidPageSize is returned when a page fetch asks for a limit
	// outside 1..MaxPageSize.
	ErrInvalidPageSize = errors.New("page size out of range")
)

// APIError is a non-429 4xx/5xx response.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Route      string
	Message    string
	// Code is Discord's JSON error code, 0 when the body carried none.
	Code int
	Err  error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Message
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("discord %s error (status %d) on %s: %s: %v",
			e.ErrorClass, e.StatusCode, e.Route, msg, e.Err)
	}
	return fmt.Sprintf("discord %s error (status %d) on %s: %s",
		e.ErrorClass, e.StatusCode, e.Route, msg)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a response body that could not be decoded.
type ProtocolError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("discord protocol error: %s: %v", e.Op, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// TransportError reports a request that never produced a response.
type TransportError struct {
	Route string
	Err   error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("discord %s error on %s: %v", ErrorClassNetwork, e.Route, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// classifyStatus maps a status code to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// shouldRetry determines if a failure class is retried by the transport.
func shouldRetry(errorClass ErrorClass) bool {
	return errorClass == ErrorClassRateLimit
}

// errorBody is the JSON error object Discord returns with 4xx responses.
type errorBody struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// newAPIError builds an APIError, pulling message and code from the body when
// it is a Discord error object.
func newAPIError(route string, status int, statusText string, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: status,
		ErrorClass: classifyStatus(status),
		Route:      route,
		Message:    statusText,
	}

	var eb errorBody
	if len(body) > 0 && json.Unmarshal(body, &eb) == nil && eb.Message != "" {
		apiErr.Message = eb.Message
		apiErr.Code = eb.Code
	}
	return apiErr
}
