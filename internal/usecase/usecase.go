package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forPelevin/splicecut/internal/domain/errs"
	"github.com/forPelevin/splicecut/internal/domain/mediaindex"
	"github.com/forPelevin/splicecut/internal/domain/planner"
	"github.com/forPelevin/splicecut/internal/domain/verify"
	"github.com/forPelevin/splicecut/internal/logging"
	"github.com/forPelevin/splicecut/internal/ports"
	"github.com/forPelevin/splicecut/internal/types"
)

// MaxEscalations bounds how many times a failed plan is replaced by a
// slower one.
const MaxEscalations = 2

type Deps struct {
	Probe    ports.Prober
	Exec     ports.Executor
	Mux      ports.Muxer
	Fs       ports.Stager
	Planner  *planner.Planner
	Verifier *verify.Verifier
	Log      *slog.Logger
	// MaxParallel caps concurrent segment jobs. Zero means one per segment.
	MaxParallel int
	// KeepFailed leaves the scratch space in place when a run fails for a
	// reason other than cancellation.
	KeepFailed bool
}

type Usecase struct{ d Deps }

func New(d Deps) Usecase {
	if d.Planner == nil {
		d.Planner = planner.New(planner.DefaultParams())
	}
	if d.Verifier == nil {
		d.Verifier = verify.New(d.Probe, verify.DefaultParams())
	}
	d.Log = logging.NewComponentLogger(d.Log, "orchestrator")
	return Usecase{d: d}
}

type Input struct {
	InputPath  string
	OutputPath string
	// Start and End are seconds into the input. A nil End means the end of
	// the media.
	Start *big.Rat
	End   *big.Rat
	// Media skips probing when the caller already has it.
	Media     *types.MediaInfo
	Options   planner.Options
	Codec     ports.CodecParams
	Tolerance *big.Rat // seconds; nil derives it from the frame time
}

type state int

const (
	statePlanned state = iota
	stateExecuting
	stateSegmentsComplete
	stateSegmentFailed
	stateMuxed
	stateVerified
	stateVerifyFailed
)

func (s state) String() string {
	switch s {
	case statePlanned:
		return "planned"
	case stateExecuting:
		return "executing"
	case stateSegmentsComplete:
		return "segments_complete"
	case stateSegmentFailed:
		return "segment_failed"
	case stateMuxed:
		return "muxed"
	case stateVerified:
		return "verified"
	case stateVerifyFailed:
		return "verify_failed"
	}
	return "unknown"
}

// run carries the mutable bookkeeping of one invocation.
type run struct {
	id       string
	log      *slog.Logger
	media    types.MediaInfo
	cut      types.CutRange
	in       Input
	work     string
	plan     types.Plan
	warnings []string
	escal    int
}

func (r *run) enter(s state, attrs ...any) {
	args := append([]any{slog.String(logging.FieldState, s.String()), slog.String(logging.FieldMode, r.plan.Mode.String())}, attrs...)
	r.log.Debug("orchestrator state", args...)
}

// Inspect probes a media file and validates its index.
func (u Usecase) Inspect(ctx context.Context, path string) (types.MediaInfo, error) {
	m, err := u.d.Probe.Probe(ctx, path)
	if err != nil {
		return types.MediaInfo{}, asProbeFail(err, path)
	}
	if _, err := mediaindex.New(m); err != nil {
		return types.MediaInfo{}, err
	}
	return m, nil
}

// Preview is the dry-run view of what PlanAndExecute would do.
type Preview struct {
	Media    types.MediaInfo
	Cut      types.CutRange
	Analysis planner.Analysis
	Plan     types.Plan
}

func (u Usecase) Plan(ctx context.Context, in Input) (Preview, error) {
	media, cut, err := u.resolve(ctx, in)
	if err != nil {
		return Preview{}, err
	}
	a, err := u.d.Planner.Analyze(media, cut, in.Options)
	if err != nil {
		return Preview{}, err
	}
	mode := a.Recommended
	if in.Options.Force != nil {
		mode = *in.Options.Force
	}
	plan, err := a.Build(mode)
	if err != nil {
		return Preview{}, err
	}
	return Preview{Media: media, Cut: cut, Analysis: a, Plan: plan}, nil
}

// PlanAndExecute cuts [Start, End) of the input into OutputPath. The output
// is committed only after it verifies. A verification failure returns the
// report and result together with a VerifyFail error; the file is kept at
// report.Path.
func (u Usecase) PlanAndExecute(ctx context.Context, in Input) (types.OutputReport, types.VerificationResult, error) {
	media, cut, err := u.resolve(ctx, in)
	if err != nil {
		return types.OutputReport{}, types.VerificationResult{}, err
	}
	plan, err := u.d.Planner.Select(media, cut, in.Options)
	if err != nil {
		return types.OutputReport{}, types.VerificationResult{}, err
	}

	r := &run{id: uuid.NewString(), media: media, cut: cut, in: in, plan: plan}
	r.log = u.d.Log.With(slog.String(logging.FieldRunID, r.id))

	work, err := u.d.Fs.PrepareTemp(in.OutputPath)
	if err != nil {
		return types.OutputReport{}, types.VerificationResult{}, asFsFail(err, "prepare scratch space for %s", in.OutputPath)
	}
	r.work = work
	keep, committed := false, false
	defer func() {
		if keep {
			return
		}
		if !committed && u.d.KeepFailed && ctx.Err() == nil {
			r.log.Info("scratch space kept after failure", slog.String("path", work))
			return
		}
		if err := u.d.Fs.Discard(work); err != nil {
			r.log.Warn("discard scratch space failed", slog.String("path", work), logging.Error(err))
		}
	}()

	merged, segs, err := u.execute(ctx, r)
	if err != nil {
		return types.OutputReport{}, types.VerificationResult{}, err
	}

	report := buildReport(r, merged, segs)
	res, err := u.d.Verifier.Verify(ctx, verify.Request{
		OutputPath: merged,
		Source:     &r.media,
		Requested:  r.cut,
		Timebase:   r.plan.Timebase,
		Mode:       r.plan.Mode,
		Selection:  r.plan.Selection,
		Tolerance:  in.Tolerance,
	})
	if err != nil {
		return types.OutputReport{}, types.VerificationResult{}, err
	}
	if !res.Passed {
		r.enter(stateVerifyFailed)
		keep = true
		segPaths := make([]string, 0, len(segs))
		for _, s := range segs {
			segPaths = append(segPaths, s.Path)
		}
		if err := u.d.Fs.Discard(segPaths...); err != nil {
			r.log.Warn("discard segment files failed", logging.Error(err))
		}
		failed := res.Failed()
		e := errs.New(errs.VerifyFail, errs.PhaseVerify, "output failed %d of %d checks", len(failed), len(res.Checks)).
			With("path", merged).
			WithHint("the unverified output was kept for inspection")
		for _, c := range failed {
			e.With(c.Name, fmt.Sprintf("expected %s, got %s", c.Expected, c.Actual))
		}
		return report, res, e
	}

	r.enter(stateVerified)
	if err := u.d.Fs.Commit(ctx, merged, in.OutputPath); err != nil {
		return types.OutputReport{}, types.VerificationResult{}, asFsFail(err, "commit %s", in.OutputPath)
	}
	committed = true
	report.Success = true
	report.Path = in.OutputPath
	r.log.Info("clip committed",
		slog.String("path", in.OutputPath),
		slog.String(logging.FieldMode, r.plan.Mode.String()),
		slog.Int("segments", len(segs)),
		slog.Int("warnings", len(r.warnings)))
	return report, res, nil
}

// execute runs the plan loop: segments, merge, fast-start. A splice failure
// replaces the plan with the next slower feasible mode.
func (u Usecase) execute(ctx context.Context, r *run) (string, []types.SegmentReport, error) {
	for {
		r.enter(statePlanned, slog.Int("segments", len(r.plan.Segments)))
		if err := ctx.Err(); err != nil {
			return "", nil, canceled(err)
		}

		r.enter(stateExecuting)
		segs, err := u.runSegments(ctx, r)
		if err == nil {
			r.enter(stateSegmentsComplete)
			var merged string
			merged, err = u.merge(ctx, r, segs)
			if err == nil {
				r.enter(stateMuxed, slog.String("path", merged))
				return merged, segs, nil
			}
		} else {
			r.enter(stateSegmentFailed, logging.Error(err))
		}

		if ctx.Err() != nil {
			return "", nil, canceled(ctx.Err())
		}
		if !errors.Is(err, ports.ErrSpliceIncompatible) {
			return "", nil, asExecFail(err)
		}
		if r.in.Options.Force != nil {
			return "", nil, asExecFail(err).WithHint("mode was forced; allow automatic mode selection to fall back")
		}
		if r.escal >= MaxEscalations {
			return "", nil, asExecFail(err).WithHint("all fallback modes exhausted")
		}
		next, perr := u.slowerPlan(r)
		if perr != nil {
			return "", nil, asExecFail(err).With("fallback", perr.Error())
		}

		w := fmt.Sprintf("%s plan not splice-compatible (%v); falling back to %s", r.plan.Mode, err, next.Mode)
		r.warnings = append(r.warnings, w)
		r.log.Warn("escalating clipping mode",
			slog.String(logging.FieldEventType, "mode_escalation"),
			slog.String("from", r.plan.Mode.String()),
			slog.String("to", next.Mode.String()),
			logging.Error(err))
		r.escal++
		r.plan = next
	}
}

// slowerPlan asks the planner for the next slower mode, skipping modes the
// planner rejects as unsupported.
func (u Usecase) slowerPlan(r *run) (types.Plan, error) {
	mode := r.plan.Mode
	for {
		next, ok := mode.Slower()
		if !ok {
			return types.Plan{}, errs.New(errs.PlanUnsupported, errs.PhasePlan, "no slower mode after %s", r.plan.Mode)
		}
		p, err := u.d.Planner.PlanFor(r.media, r.cut, r.in.Options, next)
		if err == nil {
			return p, nil
		}
		if errs.KindOf(err) != errs.PlanUnsupported {
			return types.Plan{}, err
		}
		mode = next
	}
}

// runSegments executes every segment concurrently and returns the reports in
// plan order. The first failure cancels the remaining jobs.
func (u Usecase) runSegments(ctx context.Context, r *run) ([]types.SegmentReport, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	segs := r.plan.Segments
	limit := u.d.MaxParallel
	if limit <= 0 || limit > len(segs) {
		limit = len(segs)
	}
	sem := make(chan struct{}, limit)
	video, _ := primary(r.media, r.plan.VideoStream)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	reports := make([]types.SegmentReport, len(segs))
	for i, seg := range segs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()
			if ctx.Err() != nil {
				return
			}

			out := filepath.Join(r.work, fmt.Sprintf("seg-%s-%d-%02d.%s", r.plan.Mode, r.escal, i, r.plan.Container))
			started := time.Now()
			rep, err := u.d.Exec.Execute(ctx, ports.ExecRequest{
				InputPath:  r.in.InputPath,
				OutputPath: out,
				Segment:    seg,
				Timebase:   r.plan.Timebase,
				Video:      video,
				Selection:  r.plan.Selection,
				Container:  r.plan.Container,
				Carry:      r.plan.Carry,
				Codec:      r.in.Codec,
				Splice:     r.plan.Mode == types.ModeHybrid,
			})
			if err != nil {
				fail(errs.Wrap(errs.ExecFail, errs.PhaseExecute, err, "segment %d (%s %s)", i, seg.Action, types.CutRange{Start: seg.Lo, End: seg.Hi}).
					WithSegment(i))
				return
			}
			rep.Index = i
			if rep.Path == "" {
				rep.Path = out
			}
			reports[i] = rep
			r.log.Debug("segment done",
				slog.Int(logging.FieldSegment, i),
				slog.String("action", seg.Action.String()),
				slog.Duration("took", time.Since(started)))
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return reports, checkSegments(reports)
}

// checkSegments asserts the invariants merge relies on: every segment has a
// positive duration and all segments carry the same stream kinds. Segments
// whose codecs differ cannot be concatenated; that is reported as a splice
// failure so the plan escalates.
func checkSegments(reports []types.SegmentReport) error {
	var want []types.StreamKind
	for i, rep := range reports {
		if rep.DurationPTS <= 0 {
			return errs.New(errs.ExecFail, errs.PhaseExecute, "segment %d reported duration %d", i, rep.DurationPTS).WithSegment(i)
		}
		kinds := slices.Clone(rep.Streams)
		slices.Sort(kinds)
		kinds = slices.Compact(kinds)
		if i == 0 {
			want = kinds
			continue
		}
		if !slices.Equal(kinds, want) {
			return errs.New(errs.ExecFail, errs.PhaseExecute, "segment %d carries streams %v, segment 0 carries %v", i, kinds, want).
				WithSegment(i)
		}
		for _, k := range kinds {
			got, first := rep.Codecs[k], reports[0].Codecs[k]
			if got != "" && first != "" && got != first {
				return errs.Wrap(errs.ExecFail, errs.PhaseExecute, ports.ErrSpliceIncompatible,
					"segment %d carries %s codec %s, segment 0 carries %s", i, k, got, first).
					WithSegment(i)
			}
		}
	}
	return nil
}

// Offsets returns each segment's position in the merged output: the sum of
// the durations of all segments before it.
func Offsets(reports []types.SegmentReport) []int64 {
	out := make([]int64, len(reports))
	var acc int64
	for i, rep := range reports {
		out[i] = acc
		acc += rep.DurationPTS
	}
	return out
}

func (u Usecase) merge(ctx context.Context, r *run, segs []types.SegmentReport) (string, error) {
	offsets := Offsets(segs)
	var prevLast int64
	inputs := make([]ports.MergeInput, len(segs))
	for i, s := range segs {
		// Each segment is rebased so its first frame lands on its offset.
		first := offsets[i]
		if i > 0 && first <= prevLast {
			return "", errs.New(errs.ExecFail, errs.PhaseMux, "segment %d would start at %d, not after %d", i, first, prevLast).WithSegment(i)
		}
		prevLast = offsets[i] + (s.LastPTS - s.FirstPTS)
		inputs[i] = ports.MergeInput{Path: s.Path, OffsetPTS: offsets[i]}
	}

	merged := filepath.Join(r.work, fmt.Sprintf("%s-%s.%s", uuid.NewString()[:8], r.plan.Mode, r.plan.Container))
	err := u.d.Mux.Merge(ctx, ports.MergeRequest{
		Inputs:    inputs,
		Timebase:  r.plan.Timebase,
		Output:    merged,
		Container: r.plan.Container,
	})
	if err != nil {
		return "", errs.Wrap(errs.ExecFail, errs.PhaseMux, err, "merge %d segments", len(segs))
	}
	if r.plan.FastStart {
		if err := u.d.Mux.FastStart(ctx, merged); err != nil {
			return "", errs.Wrap(errs.ExecFail, errs.PhaseMux, err, "fast-start %s", merged)
		}
	}
	return merged, nil
}

func buildReport(r *run, merged string, segs []types.SegmentReport) types.OutputReport {
	offsets := Offsets(segs)
	rebased := make([]types.SegmentReport, len(segs))
	var total int64
	for i, s := range segs {
		s.LastPTS = offsets[i] + (s.LastPTS - s.FirstPTS)
		s.FirstPTS = offsets[i]
		rebased[i] = s
		total += s.DurationPTS
	}
	rep := types.OutputReport{
		Path:        merged,
		Mode:        r.plan.Mode,
		Timebase:    r.plan.Timebase,
		DurationOut: total,
		Segments:    rebased,
		Warnings:    r.warnings,
	}
	if len(rebased) > 0 {
		rep.FirstPTS = rebased[0].FirstPTS
		rep.LastPTS = rebased[len(rebased)-1].LastPTS
	}
	return rep
}

// resolve probes the input (unless supplied) and converts the requested
// seconds into the primary video timebase.
func (u Usecase) resolve(ctx context.Context, in Input) (types.MediaInfo, types.CutRange, error) {
	if in.Start == nil {
		return types.MediaInfo{}, types.CutRange{}, errs.New(errs.BadArgs, errs.PhaseArgs, "start time is required")
	}
	var media types.MediaInfo
	if in.Media != nil {
		media = *in.Media
	} else {
		m, err := u.d.Probe.Probe(ctx, in.InputPath)
		if err != nil {
			return types.MediaInfo{}, types.CutRange{}, asProbeFail(err, in.InputPath)
		}
		media = m
	}

	idx, err := mediaindex.New(media)
	if err != nil {
		return types.MediaInfo{}, types.CutRange{}, err
	}
	video, ok := idx.Primary()
	if !ok {
		return types.MediaInfo{}, types.CutRange{}, errs.New(errs.PlanUnsupported, errs.PhasePlan, "no video stream in %s", in.InputPath)
	}
	cut := types.CutRange{Start: video.Timebase.PTS(in.Start), End: idx.DurationPTS()}
	if in.End != nil {
		cut.End = video.Timebase.PTS(in.End)
	}
	return media, cut, nil
}

func primary(m types.MediaInfo, index int) (types.StreamInfo, bool) {
	for _, s := range m.Streams {
		if s.Index == index {
			return s, true
		}
	}
	return types.StreamInfo{}, false
}

func asProbeFail(err error, path string) error {
	if errs.KindOf(err) != "" {
		return err
	}
	return errs.Wrap(errs.ProbeFail, errs.PhaseProbe, err, "probe %s", path).With("path", path)
}

func asFsFail(err error, format string, args ...any) error {
	if errs.KindOf(err) != "" {
		return err
	}
	return errs.Wrap(errs.FsFail, errs.PhaseCommit, err, format, args...)
}

func asExecFail(err error) *errs.Error {
	var e *errs.Error
	if errors.As(err, &e) && e.Kind == errs.ExecFail {
		return e
	}
	return errs.Wrap(errs.ExecFail, errs.PhaseExecute, err, "execute plan")
}

func canceled(err error) error {
	return errs.Wrap(errs.ExecFail, errs.PhaseExecute, err, "cancelled").WithHint("temporary outputs were discarded")
}
