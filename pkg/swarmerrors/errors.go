// Copyright 2025 NorthPeak Malaysia Sdn Bhd
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package swarmerrors defines the error taxonomy shared across the core.
//
// Services wrap their failures in an *Error carrying a Kind so callers can
// branch with errors.Is/errors.As without string matching. Tool execution
// failures additionally carry a ToolErrorType assigned by the recovery
// analyzer.
package swarmerrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error surfaced by the core.
type Kind string

const (
	KindInvalidInput    Kind = "invalid_input"
	KindNotFound        Kind = "not_found"
	KindAccessDenied    Kind = "access_denied"
	KindPolicyViolation Kind = "policy_violation"
	KindCapacityTimeout Kind = "capacity_timeout"
	KindBudgetExceeded  Kind = "budget_exceeded"
	KindCancelled       Kind = "cancelled"
	KindToolError       Kind = "tool_error"
	KindPersistence     Kind = "persistence"
)

// Error is the structured error type used across packages.
type Error struct {
	Kind      Kind
	Component string
	Action    string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Action, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Action, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, &Error{Kind: k}) match on kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an error of the given kind.
func New(kind Kind, component, action, message string) *Error {
	return &Error{Kind: kind, Component: component, Action: action, Message: message}
}

// Wrap creates an error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, component, action, message string, err error) *Error {
	return &Error{Kind: kind, Component: component, Action: action, Message: message, Err: err}
}

// KindOf returns the Kind of err, or empty if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
