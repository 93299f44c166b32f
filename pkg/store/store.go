package store

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pgvector/pgvector-go"
)

var (
	// ErrDuplicateID is returned by Put when the document id is already stored.
	ErrDuplicateID = errors.New("duplicate document id")
	// ErrUnknownListing is returned by Put when the owning listing does not exist.
	ErrUnknownListing = errors.New("unknown listing")
	// ErrInvalidRecord is returned by Put for records missing required fields.
	ErrInvalidRecord = errors.New("invalid document record")
)

// CorruptRecordError reports a stored embedding that could not be parsed.
// The record itself stays readable with its embedding treated as absent.
type CorruptRecordError struct {
	DocumentID string
	Err        error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt embedding for document %s: %v", e.DocumentID, e.Err)
}

func (e *CorruptRecordError) Unwrap() error { return e.Err }

func logCorrupt(err *CorruptRecordError) {
	slog.Warn("Stored embedding is malformed, treating it as absent.", "documentId", err.DocumentID, "error", err.Err)
}

// FormatVector renders an embedding in pgvector's text form, e.g. "[1,0.5,-2]".
func FormatVector(v []float32) string {
	return pgvector.NewVector(v).String()
}

// ParseVector is the inverse of FormatVector.
func ParseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("malformed vector literal %q", truncate(s, 32))
	}
	var v pgvector.Vector
	if err := v.Scan(s); err != nil {
		return nil, fmt.Errorf("malformed vector literal %q: %w", truncate(s, 32), err)
	}
	return v.Slice(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
