/*
authgate - composable email authentication gateway
Copyright © 2026 authgate contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package exterrors carries structured error context (fields like
// check name, disposition) across package boundaries and defines the
// error taxonomy described in the design: handler temperror/permerror,
// protocol error, fatal-worker error, fatal-global error.
package exterrors

import (
	"errors"
	"fmt"
)

type fieldsErr interface {
	Fields() map[string]interface{}
}

type fieldsWrap struct {
	err    error
	fields map[string]interface{}
}

func (fw fieldsWrap) Error() string          { return fw.err.Error() }
func (fw fieldsWrap) Unwrap() error          { return fw.err }
func (fw fieldsWrap) Fields() map[string]interface{} { return fw.fields }

// WithFields attaches structured fields to err; Fields(err) recovers
// them (and those of any wrapped error) later for logging.
func WithFields(err error, fields map[string]interface{}) error {
	return fieldsWrap{err: err, fields: fields}
}

// Fields walks the Unwrap chain of err and merges every Fields() map it
// finds, with outer errors taking priority over inner ones.
func Fields(err error) map[string]interface{} {
	fields := make(map[string]interface{}, 5)
	for err != nil {
		if fe, ok := err.(fieldsErr); ok {
			for k, v := range fe.Fields() {
				if _, exists := fields[k]; !exists {
					fields[k] = v
				}
			}
		}
		err = errors.Unwrap(err)
	}
	return fields
}

// HandlerError is returned by a handler callback when it could not
// produce a verdict. Kind selects whether the pipeline records the
// handler's fragment as temperror or permerror (spec §7).
type HandlerError struct {
	Handler string
	Kind    HandlerErrorKind
	Err     error
}

type HandlerErrorKind int

const (
	// TempError: DNS timeout, verifier bug, malformed input - transient.
	TempError HandlerErrorKind = iota
	// PermError: definitively invalid input (bad signature syntax).
	PermError
)

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Handler, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

func (e *HandlerError) Fields() map[string]interface{} {
	return map[string]interface{}{"check": e.Handler, "kind": e.Kind.String()}
}

func (k HandlerErrorKind) String() string {
	if k == PermError {
		return "permerror"
	}
	return "temperror"
}

// ProtocolError indicates a malformed wire frame or unexpected command
// sequence; the engine closes the connection without tainting others.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Reason }

// FatalWorker indicates an uncaught failure inside handler
// infrastructure (not inside a handler callback itself); the worker
// that hit it should log and exit, and the supervisor replaces it.
type FatalWorker struct {
	Reason string
	Err    error
}

func (e *FatalWorker) Error() string {
	if e.Err != nil {
		return "fatal worker error: " + e.Reason + ": " + e.Err.Error()
	}
	return "fatal worker error: " + e.Reason
}

func (e *FatalWorker) Unwrap() error { return e.Err }

// FatalGlobal indicates a condition from which no worker can recover:
// a pipeline dependency cycle, an unknown configured handler, or an
// unrecoverable bind failure. The worker signals the parent and the
// parent exits nonzero.
type FatalGlobal struct {
	Reason string
}

func (e *FatalGlobal) Error() string { return e.Reason }
