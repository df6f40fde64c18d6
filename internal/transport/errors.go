package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// Reason classifies a transport failure for subscribers of the "error" event.
type Reason string

const (
	ReasonNetwork        Reason = "network"
	ReasonAuthentication Reason = "authentication"
	ReasonServer         Reason = "server"
	ReasonUnknown        Reason = "unknown"
)

// TransportError is the payload of "error" events.
type TransportError struct {
	Reason Reason
	// Terminal is set once the reconnect budget is exhausted; the manager stays
	// closed until the next explicit Connect.
	Terminal bool
	// Attempts is the reconnect attempt counter at the time of the failure.
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := "transport " + string(e.Reason) + " error"
	if e.Terminal {
		msg += " (giving up)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError reports a rejected handshake.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("handshake rejected: %d %s: %v", e.StatusCode, http.StatusText(e.StatusCode), e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Classify maps an error onto a Reason.
func Classify(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}
	var te *TransportError
	if errors.As(err, &te) && te.Reason != "" {
		return te.Reason
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden:
			return ReasonAuthentication
		case se.StatusCode >= 500:
			return ReasonServer
		default:
			return ReasonUnknown
		}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return ReasonNetwork
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ReasonNetwork
	}
	return ReasonUnknown
}

// Wrap builds a TransportError for err, classifying it.
func Wrap(err error, attempts int) *TransportError {
	return &TransportError{Reason: Classify(err), Attempts: attempts, Err: err}
}
