package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/forPelevin/splicecut/internal/domain/errs"
)

// Exit codes are stable across releases.
const (
	ExitOK      = 0
	ExitUnknown = 1
	ExitUsage   = 2
	ExitProbe   = 3
	ExitProcess = 4
	ExitFs      = 5
)

func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch errs.KindOf(err) {
	case errs.BadArgs, errs.OutOfRange:
		return ExitUsage
	case errs.ProbeFail:
		return ExitProbe
	case errs.PlanUnsupported, errs.ExecFail, errs.VerifyFail:
		return ExitProcess
	case errs.FsFail:
		return ExitFs
	}
	return ExitUnknown
}

// ErrorPayload is the structured error printed with --json.
type ErrorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Phase   string         `json:"phase,omitempty"`
	Ctx     map[string]any `json:"ctx,omitempty"`
}

func NewErrorPayload(err error) ErrorPayload {
	var e *errs.Error
	if !errors.As(err, &e) {
		return ErrorPayload{Code: "internal", Message: err.Error()}
	}
	p := ErrorPayload{
		Code:    string(e.Kind),
		Message: e.Message,
		Hint:    e.Hint,
		Phase:   string(e.Phase),
		Ctx:     map[string]any{},
	}
	for k, v := range e.Ctx {
		p.Ctx[k] = v
	}
	if e.Segment != errs.NoSegment {
		p.Ctx["segment"] = e.Segment
	}
	if e.Err != nil {
		p.Ctx["cause"] = e.Err.Error()
	}
	if len(p.Ctx) == 0 {
		p.Ctx = nil
	}
	return p
}

func reportError(env *cmdEnv, err error) {
	if env.json {
		b, merr := json.MarshalIndent(map[string]ErrorPayload{"error": NewErrorPayload(err)}, "", "  ")
		if merr == nil {
			fmt.Fprintln(env.stderr, string(b))
			return
		}
	}
	fmt.Fprintln(env.stderr, "error:", err)
	var e *errs.Error
	if errors.As(err, &e) && e.Hint != "" {
		fmt.Fprintln(env.stderr, "hint:", e.Hint)
	}
}
