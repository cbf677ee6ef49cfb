package types

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies recording failures for the reconnect policy
type ErrorKind int

const (
	KindNetwork ErrorKind = iota
	KindRoomOffline
	KindAPI
	KindStreamEnded
	KindManifest
	KindSegment
	KindIO
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindRoomOffline:
		return "room_offline"
	case KindAPI:
		return "api"
	case KindStreamEnded:
		return "stream_ended"
	case KindManifest:
		return "manifest"
	case KindSegment:
		return "segment"
	case KindIO:
		return "io"
	case KindCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Retryable reports whether the reconnect policy applies to this kind.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindNetwork, KindAPI, KindManifest, KindSegment:
		return true
	}
	return false
}

var (
	ErrRoomOffline    = errors.New("room is offline")
	ErrUnknownRoom    = errors.New("unknown room")
	ErrNoMatchingPlay = errors.New("no stream matches the requested quality/codec/container")
)

// Error is a classified recording error
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind and operation name
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err. Unclassified errors count as network errors,
// context cancellation as cancelled.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrRoomOffline):
		return KindRoomOffline
	case errors.Is(err, ErrUnknownRoom), errors.Is(err, ErrNoMatchingPlay):
		return KindAPI
	}
	return KindNetwork
}
