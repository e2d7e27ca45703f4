package rag

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrNoQuestion is returned when a conversation does not end with a user turn.
var ErrNoQuestion = errors.New("conversation has no trailing user question")

// maxErrorBody caps how much of a failed upstream response is read.
const maxErrorBody = 64 << 10

// UpstreamError is a structured failure reported by the embedding or
// completion service.
type UpstreamError struct {
	// Service names the failing upstream ("embedding", "completion").
	Service string
	// StatusCode is the HTTP status returned by the service.
	StatusCode int
	// Message is the human-readable error message.
	Message string
	// Type is the provider's error category (e.g. "invalid_request_error").
	Type string
	// Param names the offending request parameter, if any.
	Param string
	// Code is the provider's machine-readable error code.
	Code string
}

func (e *UpstreamError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (status %d, code %s)", e.Service, e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.Service, e.Message, e.StatusCode)
}

// StatusError is an upstream failure whose body could not be interpreted.
type StatusError struct {
	// Service names the failing upstream.
	Service string
	// StatusCode is the HTTP status returned by the service.
	StatusCode int
	// Detail is a truncated copy of the response body, if any.
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: returned HTTP %d: %s", e.Service, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s: returned HTTP %d", e.Service, e.StatusCode)
}

// RetrievalError is a non-200 or undecodable response from the vector index.
type RetrievalError struct {
	// StatusCode is the HTTP status, zero when the failure was not an HTTP status.
	StatusCode int
	// Body is the raw response body for non-200 responses.
	Body string
	// Err is the underlying decode or transport error, if any.
	Err error
}

func (e *RetrievalError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("index: HTTP %d: %v", e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("index: %v", e.Err)
	default:
		return fmt.Sprintf("index: returned HTTP %d: %s", e.StatusCode, e.Body)
	}
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// StreamDecodeError is a malformed event payload in the completion stream.
type StreamDecodeError struct {
	// Payload is the offending event data.
	Payload string
	// Err is the JSON decode error.
	Err error
}

func (e *StreamDecodeError) Error() string {
	return fmt.Sprintf("completion: malformed stream event %q: %v", truncate(e.Payload, 120), e.Err)
}

func (e *StreamDecodeError) Unwrap() error { return e.Err }

// apiErrorBody is the error envelope used by OpenAI-compatible services.
type apiErrorBody struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Param   any    `json:"param"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// ErrorFromResponse builds the error for a non-success response from an
// OpenAI-compatible service. A parseable error envelope yields an
// *UpstreamError; anything else yields a *StatusError. The body is consumed
// but not closed.
func ErrorFromResponse(service string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body apiErrorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != nil && body.Error.Message != "" {
		return &UpstreamError{
			Service:    service,
			StatusCode: resp.StatusCode,
			Message:    body.Error.Message,
			Type:       body.Error.Type,
			Param:      stringify(body.Error.Param),
			Code:       stringify(body.Error.Code),
		}
	}

	return &StatusError{
		Service:    service,
		StatusCode: resp.StatusCode,
		Detail:     truncate(strings.TrimSpace(string(raw)), 512),
	}
}

// stringify renders a loosely-typed JSON scalar ("code" may be a string,
// a number, or null depending on the provider).
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// truncate shortens s to at most n bytes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
