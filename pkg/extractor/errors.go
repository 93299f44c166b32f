package extractor

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies why an extraction failed.
type Kind int

const (
	// KindTransport covers network failures and timeouts.
	KindTransport Kind = iota + 1
	// KindStatus means the service answered with a non-success status.
	KindStatus
	// KindDecode means the response body could not be understood.
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindStatus:
		return "status"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error is returned for every failed extraction. It always names the file.
type Error struct {
	Kind       Kind
	Filename   string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindStatus && e.Message != "":
		return fmt.Sprintf("extract %s: %s failure (status %d): %s", e.Filename, e.Kind, e.StatusCode, e.Message)
	case e.Kind == KindStatus:
		return fmt.Sprintf("extract %s: %s failure (status %d)", e.Filename, e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("extract %s: %s failure: %v", e.Filename, e.Kind, e.Err)
	default:
		return fmt.Sprintf("extract %s: %s failure: %s", e.Filename, e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether the extraction ran out of time.
func (e *Error) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// IsKind reports whether err is an extraction Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var extractErr *Error
	return errors.As(err, &extractErr) && extractErr.Kind == kind
}
