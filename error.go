package ledgerxgo

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

var (
	ErrInternalServer = errors.New("internal server error")
	// ErrConnection marks a store that is unreachable or a connection lost
	// mid operation. It is never retried internally.
	ErrConnection = errors.New("ledger store unreachable")
	// ErrSerializationFailure marks a transfer aborted by the store because it
	// conflicted with a concurrent one. Nothing of it was committed; the whole
	// transfer may be retried.
	ErrSerializationFailure = errors.New("transfer conflicted with a concurrent transfer")
	ErrUnavailable          = errors.New("service unavailable")
)

type ErrBadRequest struct {
	Fields map[string]string
}

func (e ErrBadRequest) Error() string {
	return fmt.Sprintf("missing/invalid params: %v", e.Fields)
}

type ErrNotFound struct {
	ID int64 `json:"id"`
}

func (e ErrNotFound) Error() string {
	return "record not found"
}

type ConstraintKind string

const (
	ConstraintCheck      ConstraintKind = "check"
	ConstraintForeignKey ConstraintKind = "foreign_key"
	ConstraintNotNull    ConstraintKind = "not_null"
)

// ErrConstraintViolation is a write rejected by a declared invariant of the
// store. Op names the transfer statement that was rejected.
type ErrConstraintViolation struct {
	Op         string         `json:"op"`
	Kind       ConstraintKind `json:"kind"`
	Constraint string         `json:"constraint,omitempty"`
	Err        error          `json:"-"`
}

func (e ErrConstraintViolation) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("%s rejected by %s constraint %q: %s", e.Op, e.Kind, e.Constraint, e.Reason())
	}
	return fmt.Sprintf("%s rejected by %s constraint: %s", e.Op, e.Kind, e.Reason())
}

func (e ErrConstraintViolation) Unwrap() error {
	return e.Err
}

// Reason describes the violation in terms of the transfer.
func (e ErrConstraintViolation) Reason() string {
	switch e.Kind {
	case ConstraintForeignKey:
		return "unknown account"
	case ConstraintNotNull:
		return "missing value"
	}
	// integer overflow in a sqlite balance update yields a REAL
	if e.Constraint == "account_balance_integer" {
		return "balance out of range"
	}
	// a credit only lowers a balance when the amount is negative
	if e.Op == opDebit {
		return "insufficient balance"
	}
	return "negative amount"
}

func connectionError(err error) error {
	return fmt.Errorf("%w: %w", ErrConnection, err)
}

func serializationError(err error) error {
	return fmt.Errorf("%w: %w", ErrSerializationFailure, err)
}

// isConnectionLost reports transport level failures common to both drivers.
func isConnectionLost(err error) bool {
	var ne net.Error
	switch {
	case errors.As(err, &ne):
		return true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return true
	}
	return false
}
