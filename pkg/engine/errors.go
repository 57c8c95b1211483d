package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"regexp"
	"strings"
	"syscall"
)

// ConnectionError means the engine could not be reached at all: refused
// connections, DNS failures, timeouts. Supervising code may retry these
// indefinitely or trip a circuit breaker on them.
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("engine unreachable during %s (%s): %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Category names the error in task failure details.
func (e *ConnectionError) Category() string { return "ConnectionError" }

// ApplicationKind sub-classifies an ApplicationError.
type ApplicationKind string

const (
	KindNotFound    ApplicationKind = "not found"
	KindConflict    ApplicationKind = "conflict"
	KindBadRequest  ApplicationKind = "bad request"
	KindServerError ApplicationKind = "engine server error"
	KindUnexpected  ApplicationKind = "unexpected"
)

var kindLabels = map[ApplicationKind]string{
	KindNotFound:    "No matching process definition or execution found",
	KindConflict:    "Message correlation conflict: more than one execution matches",
	KindBadRequest:  "Invalid message format or request rejected by engine",
	KindServerError: "Engine server error",
	KindUnexpected:  "Unexpected error talking to engine",
}

// Label is the human readable category used as the error text prefix.
func (k ApplicationKind) Label() string {
	if l, ok := kindLabels[k]; ok {
		return l
	}
	return string(k)
}

// ApplicationError means the engine answered but rejected the request, or
// something other than transport went wrong. Body holds the raw response text.
type ApplicationError struct {
	Kind       ApplicationKind
	Op         string
	StatusCode int
	Body       string

	// decoded from the engine's {type, message, code} error body when present
	EngineType    string
	EngineMessage string
	EngineCode    int

	Err error
}

func (e *ApplicationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Label())
	if e.Op != "" || e.StatusCode != 0 {
		fmt.Fprintf(&b, " (op=%s, status=%d)", e.Op, e.StatusCode)
	}
	if e.Body != "" {
		b.WriteString(": ")
		b.WriteString(e.Body)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ApplicationError) Unwrap() error { return e.Err }

// Category names the error in task failure details.
func (e *ApplicationError) Category() string { return "ApplicationError" }

// Retryable reports whether a later attempt may succeed without anybody
// changing the request or the process model.
func (e *ApplicationError) Retryable() bool {
	return e.Kind == KindServerError || e.Kind == KindUnexpected
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}
	var appErr *ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Retryable()
	}
	return false
}

// IsConnectionError reports whether err is (or wraps) a ConnectionError.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

var (
	notFoundPattern = regexp.MustCompile(`(?i)no process definition or execution matches|no matching (process|execution|message)|cannot find|not found`)
	conflictPattern = regexp.MustCompile(`(?i)\d+ (executions|process definitions) match|more than one|multiple (executions|process)`)
)

type engineErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// classifyStatus turns a non-2xx response into an ApplicationError.
func classifyStatus(op string, status int, body string) *ApplicationError {
	appErr := &ApplicationError{Op: op, StatusCode: status, Body: body}

	var decoded engineErrorBody
	if err := json.Unmarshal([]byte(body), &decoded); err == nil {
		appErr.EngineType = decoded.Type
		appErr.EngineMessage = decoded.Message
		appErr.EngineCode = decoded.Code
	}

	switch {
	case status == 404:
		appErr.Kind = KindNotFound
	case status == 409:
		appErr.Kind = KindConflict
	case status >= 400 && status < 500:
		switch {
		case conflictPattern.MatchString(body):
			appErr.Kind = KindConflict
		case notFoundPattern.MatchString(body):
			appErr.Kind = KindNotFound
		default:
			appErr.Kind = KindBadRequest
		}
	case status >= 500:
		appErr.Kind = KindServerError
	default:
		appErr.Kind = KindUnexpected
	}
	return appErr
}

// classifyTransport maps a failed round trip onto the two-kind taxonomy.
func classifyTransport(op, target string, err error) error {
	if isTransportFailure(err) {
		return &ConnectionError{Op: op, URL: target, Err: err}
	}
	return &ApplicationError{Kind: KindUnexpected, Op: op, Err: err}
}

func isTransportFailure(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
