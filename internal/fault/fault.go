// Package fault classifies raw failures from the transport, the audio device
// and session setup into a small set of kinds, each with a fixed message the
// user can act on.
package fault

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Kind is a failure category.
type Kind int

const (
	Unknown Kind = iota
	MissingCredential
	DeviceDenied
	InvalidCredential
	NetworkFailure
	PermissionDenied
	QuotaExceeded
)

var kindNames = map[Kind]string{
	Unknown:           "unknown",
	MissingCredential: "missing_credential",
	DeviceDenied:      "device_denied",
	InvalidCredential: "invalid_credential",
	NetworkFailure:    "network_failure",
	PermissionDenied:  "permission_denied",
	QuotaExceeded:     "quota_exceeded",
}

var kindMessages = map[Kind]string{
	Unknown:           "Something went wrong with the live session. Please try again.",
	MissingCredential: "No API key configured. Set live.api_key or the GEMINI_API_KEY environment variable.",
	DeviceDenied:      "Microphone access was denied. Grant microphone permission and start again.",
	InvalidCredential: "The API key was rejected. Check that it is valid and has access to the Live API.",
	NetworkFailure:    "Could not reach the live service. Check your network connection.",
	PermissionDenied:  "The API key is not permitted to use this model or feature.",
	QuotaExceeded:     "The API quota has been exhausted. Try again later.",
}

// String returns the snake_case name used for logs and metric labels.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Message returns the fixed user-facing message for k.
func (k Kind) Message() string {
	if m, ok := kindMessages[k]; ok {
		return m
	}
	return kindMessages[Unknown]
}

// Source says where a failure originated.
type Source int

const (
	SourceTransport Source = iota
	SourceDevice
	SourceSetup
)

func (s Source) String() string {
	switch s {
	case SourceDevice:
		return "device"
	case SourceSetup:
		return "setup"
	default:
		return "transport"
	}
}

// Error is a classified failure.
type Error struct {
	Kind   Kind
	Source Source
	Err    error
}

// Error returns the user-facing message.
func (e *Error) Error() string { return e.Kind.Message() }

func (e *Error) Unwrap() error { return e.Err }

// ErrMissingCredential is the raw cause used for a missing API key.
var ErrMissingCredential = errors.New("api key not configured")

// Missing returns the classified missing-credential error.
func Missing() *Error {
	return &Error{Kind: MissingCredential, Source: SourceSetup, Err: ErrMissingCredential}
}

// rules are checked in order against the lower-cased error text.
var rules = []struct {
	kind    Kind
	needles []string
}{
	{InvalidCredential, []string{"api key", "api_key"}},
	{QuotaExceeded, []string{"quota", "resource exhausted", "resource_exhausted"}},
	{PermissionDenied, []string{"permission"}},
	{NetworkFailure, []string{"network", "fetch", "connection refused", "no such host"}},
}

// Classify maps err from source to a classified error. A nil err yields nil.
func Classify(source Source, err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	if source == SourceDevice {
		return &Error{Kind: DeviceDenied, Source: source, Err: err}
	}

	text := strings.ToLower(err.Error())
	for _, r := range rules {
		for _, n := range r.needles {
			if strings.Contains(text, n) {
				return &Error{Kind: r.kind, Source: source, Err: err}
			}
		}
	}

	var ne net.Error
	if errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: NetworkFailure, Source: source, Err: err}
	}
	return &Error{Kind: Unknown, Source: source, Err: err}
}
