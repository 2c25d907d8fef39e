package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can decide how to surface them.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindNotFound    ErrorKind = "not_found"
	KindConflict    ErrorKind = "conflict"
	KindTransport   ErrorKind = "transport"
	KindStateDesync ErrorKind = "state_desync"
	KindUnknown     ErrorKind = "unknown"
)

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind and an operation name.
func NewError(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validationf builds a validation error from a format string.
func Validationf(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// Desyncf builds a state desync error from a format string.
func Desyncf(format string, args ...any) error {
	return &Error{Kind: KindStateDesync, Err: fmt.Errorf(format, args...)}
}

// Transport wraps a store or subscription failure.
func Transport(op string, err error) error {
	return NewError(KindTransport, op, err)
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Common errors
var (
	ErrRoomNotFound      = &Error{Kind: KindNotFound, Err: errors.New("room not found")}
	ErrPlayerNotFound    = &Error{Kind: KindNotFound, Err: errors.New("player not found in room")}
	ErrRoomFull          = &Error{Kind: KindConflict, Err: errors.New("room is full")}
	ErrRoomNotJoinable   = &Error{Kind: KindConflict, Err: errors.New("room is not accepting players")}
	ErrAlreadySeated     = &Error{Kind: KindConflict, Err: errors.New("user already seated in room")}
	ErrCodeCollision     = &Error{Kind: KindConflict, Err: errors.New("could not allocate a unique room code")}
	ErrNotYourTurn       = &Error{Kind: KindConflict, Err: errors.New("not your turn")}
	ErrIllegalAction     = &Error{Kind: KindConflict, Err: errors.New("illegal action")}
	ErrStaleVersion      = &Error{Kind: KindConflict, Err: errors.New("game state version is stale")}
	ErrInvalidTransition = &Error{Kind: KindConflict, Err: errors.New("invalid room status transition")}
	ErrRoomNotActive     = &Error{Kind: KindConflict, Err: errors.New("room is not in play")}
	ErrNoActiveRoom      = &Error{Kind: KindValidation, Err: errors.New("no active room")}
)
