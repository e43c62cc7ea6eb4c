// Copyright © 2018 One Concern

// Package errors augments the standard errors
// provided by fmt (https://golang.org/src/fmt/errors.go)
// with Wrap() and Detailf() methods to qualify sentinel errors
// without resorting to fmt.Errorf("%w", err).
package errors

import (
	stderr "errors"
	"fmt"
	"strings"
)

var _ error = New("")

// New Error
func New(msg string) *Error {
	return &Error{msg: msg}
}

// Error augments the standard error interface with Wrap and Detailf methods.
//
// The main difference with github.com/pkg/errors is that we are wrapping
// errors from errors, not from text.
//
// Wrapping or qualifying an error returns a copy: sentinel errors declared at
// the package level are never mutated and may be shared by concurrent callers.
type Error struct {
	msg     string
	details []string
	err     error
	parent  *Error
}

// Error message, followed by any details and the wrapped error
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.msg)
	for _, d := range e.details {
		b.WriteString(": ")
		b.WriteString(d)
	}
	if e.err != nil {
		b.WriteString(": ")
		b.WriteString(e.err.Error())
	}
	return b.String()
}

// Unwrap nested error
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Wrap a nested error
func (e *Error) Wrap(err error) *Error {
	c := e.derive()
	c.err = err
	return c
}

// Detailf adds some formatted context to the error message, e.g. the resource or version at stake
func (e *Error) Detailf(format string, args ...interface{}) *Error {
	c := e.derive()
	c.details = append(c.details, fmt.Sprintf(format, args...))
	return c
}

func (e *Error) derive() *Error {
	details := make([]string, len(e.details), len(e.details)+1)
	copy(details, e.details)
	return &Error{
		msg:     e.msg,
		details: details,
		err:     e.err,
		parent:  e,
	}
}

// Is of some error type?
func (e *Error) Is(target error) bool {
	for p := e; p != nil; p = p.parent {
		if p == target {
			return true
		}
	}
	return false
}

// As finds the first error in err's chain that matches target, and if so, sets target to that error value and returns true.
// (a shortcut to standard lib errors.As)
func As(err error, target interface{}) bool {
	return stderr.As(err, target)
}

// Is reports whether any error in err's chain matches target
// (a shortcut to standard lib errors.Is)
func Is(err, target error) bool {
	return stderr.Is(err, target)
}
