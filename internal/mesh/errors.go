package mesh

import (
	"errors"
	"fmt"
)

var (
	ErrStopped          = errors.New("orchestrator stopped")
	ErrAlreadyJoined    = errors.New("already in a class")
	ErrConnectionFailed = errors.New("connection failed")
	ErrChannelNotOpen   = errors.New("channel not open")
	ErrUnexpectedFrame  = errors.New("unexpected data channel frame")
)

// Error describes a failed step toward one peer.
type Error struct {
	Op      string
	Peer    string
	Err     error
	Details string
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Peer != "" {
		msg += " " + e.Peer
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", msg, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func NewPeerError(op, peer string, err error) *Error {
	return &Error{Op: op, Peer: peer, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
