// Copyright 2022 Stock Parfait

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errkind classifies the errors returned by the scan provider.
package errkind

import (
	"errors"
	"fmt"
)

// Kind of an error as seen by the host.
type Kind int

const (
	Unknown Kind = iota
	UnroutableQuery
	UpstreamFetch
	Authentication
	FieldParse
	CursorMisuse
)

func (k Kind) String() string {
	switch k {
	case UnroutableQuery:
		return "UnroutableQuery"
	case UpstreamFetch:
		return "UpstreamFetchError"
	case Authentication:
		return "AuthenticationError"
	case FieldParse:
		return "FieldParseError"
	case CursorMisuse:
		return "CursorMisuseError"
	}
	return "Unknown"
}

// Kinded is implemented by errors which carry their own kind, such as field
// parse errors.
type Kinded interface {
	error
	Kind() Kind
}

// Error is a kinded error wrapping an optional cause.
type Error struct {
	kind Kind
	msg  string
	err  error
}

var _ Kinded = &Error{}

// New creates a kinded error with a formatted message.
func New(k Kind, format string, args ...any) error {
	return &Error{kind: k, msg: fmt.Sprintf(format, args...)}
}

// Wrap creates a kinded error around the cause. A nil cause yields nil.
func Wrap(k Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{kind: k, msg: fmt.Sprintf(format, args...), err: err}
}

func (e *Error) Kind() Kind { return e.kind }

func (e *Error) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s: %s", e.kind, e.msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.kind, e.msg, e.err.Error())
}

func (e *Error) Unwrap() error { return e.err }

// Of returns the kind of the outermost kinded error in the chain, or Unknown.
func Of(err error) Kind {
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return Unknown
}

// Is checks whether err is of the given kind.
func Is(err error, k Kind) bool {
	return err != nil && Of(err) == k
}
