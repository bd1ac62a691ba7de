// Package errs defines the domain error taxonomy shared by planning,
// execution and verification. Transport encodings (exit codes, JSON) live in
// the CLI layer.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	BadArgs         Kind = "bad_args"
	OutOfRange      Kind = "out_of_range"
	ProbeFail       Kind = "probe_fail"
	PlanUnsupported Kind = "plan_unsupported"
	ExecFail        Kind = "exec_fail"
	FsFail          Kind = "fs_fail"
	VerifyFail      Kind = "verify_fail"
)

type Phase string

const (
	PhaseArgs    Phase = "args"
	PhaseProbe   Phase = "probe"
	PhasePlan    Phase = "plan"
	PhaseExecute Phase = "execute"
	PhaseMux     Phase = "mux"
	PhaseVerify  Phase = "verify"
	PhaseCommit  Phase = "commit"
)

// NoSegment marks errors not tied to a particular segment.
const NoSegment = -1

type Error struct {
	Kind    Kind
	Phase   Phase
	Segment int
	Message string
	Hint    string
	Ctx     map[string]any
	Err     error
}

func New(kind Kind, phase Phase, format string, args ...any) *Error {
	return &Error{Kind: kind, Phase: phase, Segment: NoSegment, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, phase Phase, err error, format string, args ...any) *Error {
	e := New(kind, phase, format, args...)
	e.Err = err
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Phase != "" {
		b.WriteString(" (" + string(e.Phase) + ")")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Segment != NoSegment {
		fmt.Fprintf(&b, " [segment %d]", e.Segment)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind so errors.Is(err, &Error{Kind: X}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func (e *Error) WithSegment(i int) *Error {
	e.Segment = i
	return e
}

func (e *Error) WithHint(h string) *Error {
	e.Hint = h
	return e
}

func (e *Error) With(key string, v any) *Error {
	if e.Ctx == nil {
		e.Ctx = map[string]any{}
	}
	e.Ctx[key] = v
	return e
}

// KindOf reports the domain kind of err, or "" if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
