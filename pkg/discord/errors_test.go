package discord

import (
	"errors"
	"testing"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		errorClass ErrorClass
		expected   bool
	}{
		{"client error should not retry", ErrorClassClient, false},
		{"server error should not retry", ErrorClassServer, false},
		{"rate limit should retry", ErrorClassRateLimit, true},
		{"network error should not retry", ErrorClassNetwork, false},
		{"protocol error should not retry", ErrorClassProtocol, false},
		{"empty error class should not retry", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldRetry(tt.errorClass); got != tt.expected {
				t.Errorf("shouldRetry(%q) = %v, want %v", tt.errorClass, got, tt.expected)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status   int
		expected ErrorClass
	}{
		{200, ""},
		{204, ""},
		{304, ""},
		{400, ErrorClassClient},
		{401, ErrorClassClient},
		{429, ErrorClassRateLimit},
		{499, ErrorClassClient},
		{500, ErrorClassServer},
		{503, ErrorClassServer},
	}

	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.expected {
			t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.expected)
		}
	}
}

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		apiError *APIError
		expected string
	}{
		{
			name: "discord error object",
			apiError: &APIError{
				StatusCode: 403,
				ErrorClass: ErrorClassClient,
				Route:      "PUT /channels/{channel}/messages/{message}/reactions/{emoji}/@me",
				Message:    "Missing Permissions",
				Code:       50013,
			},
			expected: "discord client error (status 403) on PUT /channels/{channel}/messages/{message}/reactions/{emoji}/@me: Missing Permissions (code 50013)",
		},
		{
			name: "plain status with wrapped error",
			apiError: &APIError{
				StatusCode: 500,
				ErrorClass: ErrorClassServer,
				Route:      "GET /channels/{channel}/messages",
				Message:    "500 Internal Server Error",
				Err:        errors.New("upstream"),
			},
			expected: "discord server error (status 500) on GET /channels/{channel}/messages: 500 Internal Server Error: upstream",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.apiError.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	wrappedErr := errors.New("wrapped error")
	apiError := &APIError{StatusCode: 500, ErrorClass: ErrorClassServer, Err: wrappedErr}

	if !errors.Is(apiError, wrappedErr) {
		t.Error("errors.Is should work with wrapped error")
	}
	if (&APIError{}).Unwrap() != nil {
		t.Error("Unwrap() of empty APIError should be nil")
	}
}

func TestNewAPIError(t *testing.T) {
	e := newAPIError("GET /x", 404, "404 Not Found", []byte(`{"message": "Unknown Channel", "code": 10003}`))
	if e.Message != "Unknown Channel" || e.Code != 10003 || e.ErrorClass != ErrorClassClient {
		t.Errorf("newAPIError() = %+v", e)
	}

	e = newAPIError("GET /x", 502, "502 Bad Gateway", []byte("<html>"))
	if e.Message != "502 Bad Gateway" || e.Code != 0 || e.ErrorClass != ErrorClassServer {
		t.Errorf("newAPIError() = %+v", e)
	}
}

func TestProtocolAndTransportError(t *testing.T) {
	cause := errors.New("boom")

	pe := &ProtocolError{Op: "decode message list", Err: cause}
	if pe.Error() != "discord protocol error: decode message list: boom" {
		t.Errorf("ProtocolError.Error() = %q", pe.Error())
	}
	if !errors.Is(pe, cause) {
		t.Error("ProtocolError should unwrap to cause")
	}

	te := &TransportError{Route: "GET /x", Err: cause}
	if te.Error() != "discord network error on GET /x: boom" {
		t.Errorf("TransportError.Error() = %q", te.Error())
	}
	if !errors.Is(te, cause) {
		t.Error("TransportError should unwrap to cause")
	}
}
