// Package planner decides how a cut is executed: verbatim stream copy, a
// hybrid of re-encoded edges around a copied middle, or a full re-encode.
//
// Flow:
//  1. Validate the cut against the media duration
//  2. Measure each endpoint's distance to the keyframe at or before it
//  3. Compare against epsilon (a fraction of the average frame time)
//  4. Check copy safety (codec, container, filters) and splice support
//  5. Build the segment list for the chosen mode
package planner

import (
	"fmt"
	"math/big"

	"github.com/forPelevin/splicecut/internal/domain/errs"
	"github.com/forPelevin/splicecut/internal/domain/mediaindex"
	"github.com/forPelevin/splicecut/internal/types"
)

type Params struct {
	// EpsilonFactor scales the average frame time into the keyframe
	// alignment threshold.
	EpsilonFactor float64
}

func DefaultParams() Params { return Params{EpsilonFactor: 0.5} }

type Options struct {
	NoAudio    bool
	NoSubs     bool
	Container  string // empty keeps the source container
	VideoCodec string // empty keeps the source codec
	Force      *types.ClippingMode
}

type Planner struct {
	epsilonFactor *big.Rat
}

func New(p Params) *Planner {
	f := p.EpsilonFactor
	if f <= 0 {
		f = DefaultParams().EpsilonFactor
	}
	return &Planner{epsilonFactor: new(big.Rat).SetFloat64(f)}
}

// Analysis is the keyframe-proximity and compatibility picture behind a plan.
type Analysis struct {
	Cut         types.CutRange
	Timebase    types.Timebase
	Video       types.StreamInfo
	Container   string
	VideoCodec  string
	Selection   types.StreamSelection
	FrameTime   *big.Rat
	Epsilon     *big.Rat
	StartDist   *big.Rat // nil when no keyframe precedes the endpoint
	EndDist     *big.Rat
	CopySafe    bool
	CopyReason  string
	Spliceable  bool
	Recommended types.ClippingMode

	idx *mediaindex.Index
}

func (a Analysis) StartAligned() bool { return aligned(a.StartDist, a.Epsilon) }

func (a Analysis) EndAligned() bool { return aligned(a.EndDist, a.Epsilon) }

func aligned(dist, eps *big.Rat) bool { return dist != nil && dist.Cmp(eps) <= 0 }

// Analyze validates the cut and gathers everything mode selection needs.
func (p *Planner) Analyze(media types.MediaInfo, cut types.CutRange, opts Options) (Analysis, error) {
	if cut.Start < 0 || cut.Start >= cut.End {
		return Analysis{}, errs.New(errs.OutOfRange, errs.PhasePlan, "invalid cut range %s", cut).
			With("start", cut.Start).With("end", cut.End).
			WithHint("start must be >= 0 and strictly before end")
	}

	idx, err := mediaindex.New(media)
	if err != nil {
		return Analysis{}, err
	}
	video, ok := idx.Primary()
	if !ok {
		return Analysis{}, errs.New(errs.PlanUnsupported, errs.PhasePlan, "no video stream in %s", media.Path)
	}
	if dur := idx.DurationPTS(); cut.End > dur {
		return Analysis{}, errs.New(errs.OutOfRange, errs.PhasePlan, "cut end %d exceeds duration %d", cut.End, dur).
			With("end", cut.End).With("duration_pts", dur).With("timebase", video.Timebase.String())
	}

	frameTime, err := idx.AvgFrameTime()
	if err != nil {
		return Analysis{}, err
	}

	a := Analysis{
		Cut:        cut,
		Timebase:   video.Timebase,
		Video:      video,
		Container:  media.Container,
		VideoCodec: video.Codec,
		Selection: types.StreamSelection{
			Video:     true,
			Audio:     !opts.NoAudio && len(media.StreamsOf(types.KindAudio)) > 0,
			Subtitles: !opts.NoSubs && len(media.StreamsOf(types.KindSubtitle)) > 0,
		},
		FrameTime: frameTime,
		Epsilon:   new(big.Rat).Mul(p.epsilonFactor, frameTime),
		idx:       idx,
	}
	if opts.Container != "" {
		a.Container = NormalizeContainer(opts.Container)
	}
	if opts.VideoCodec != "" {
		a.VideoCodec = CodecFamily(opts.VideoCodec)
	}

	a.StartDist = a.keyframeDistance(cut.Start)
	a.EndDist = a.keyframeDistance(cut.End)
	a.CopySafe, a.CopyReason = copySafe(media, a)
	a.Spliceable = Spliceable(video.Codec)

	switch {
	case a.CopySafe && a.StartAligned() && a.EndAligned():
		a.Recommended = types.ModeCopy
	case a.CopySafe && a.Spliceable:
		a.Recommended = types.ModeHybrid
	default:
		a.Recommended = types.ModeReencode
	}
	return a, nil
}

func (a Analysis) keyframeDistance(pts int64) *big.Rat {
	kf, ok := a.idx.KeyframeAtOrBefore(pts)
	if !ok {
		return nil
	}
	return a.Timebase.Seconds(pts - kf)
}

func copySafe(media types.MediaInfo, a Analysis) (bool, string) {
	if CodecFamily(a.VideoCodec) != CodecFamily(a.Video.Codec) {
		return false, fmt.Sprintf("target codec %s differs from source %s", a.VideoCodec, a.Video.Codec)
	}
	for _, s := range media.Streams {
		if !selected(a.Selection, s, a.Video.Index) {
			continue
		}
		if !containerAccepts(a.Container, s.Kind, s.Codec) {
			return false, fmt.Sprintf("container %s cannot carry %s stream %d (%s) verbatim", a.Container, s.Kind, s.Index, s.Codec)
		}
	}
	return true, ""
}

// selected reports whether stream s ends up in the output. Only the primary
// video stream is kept.
func selected(sel types.StreamSelection, s types.StreamInfo, primary int) bool {
	switch s.Kind {
	case types.KindVideo:
		return s.Index == primary
	case types.KindAudio:
		return sel.Audio
	case types.KindSubtitle:
		return sel.Subtitles
	}
	return false
}

// Select commits to the fastest viable mode (Copy > Hybrid > Reencode), or
// to Options.Force when set.
func (p *Planner) Select(media types.MediaInfo, cut types.CutRange, opts Options) (types.Plan, error) {
	a, err := p.Analyze(media, cut, opts)
	if err != nil {
		return types.Plan{}, err
	}
	mode := a.Recommended
	if opts.Force != nil {
		mode = *opts.Force
	}
	return a.Build(mode)
}

// PlanFor builds a plan for a specific mode; used when escalating.
func (p *Planner) PlanFor(media types.MediaInfo, cut types.CutRange, opts Options, mode types.ClippingMode) (types.Plan, error) {
	a, err := p.Analyze(media, cut, opts)
	if err != nil {
		return types.Plan{}, err
	}
	return a.Build(mode)
}

// Build produces the segment plan for mode.
func (a Analysis) Build(mode types.ClippingMode) (types.Plan, error) {
	plan := types.Plan{
		Mode:        mode,
		Timebase:    a.Timebase,
		VideoStream: a.Video.Index,
		Selection:   a.Selection,
		Container:   a.Container,
		VideoCodec:  a.VideoCodec,
		Carry:       types.MetadataPolicy{Rotation: true, Color: true, CodecParams: true},
		FastStart:   NeedsFastStart(a.Container),
	}

	var segs []types.SegmentSpec
	switch mode {
	case types.ModeCopy:
		if !a.CopySafe {
			return types.Plan{}, errs.New(errs.PlanUnsupported, errs.PhasePlan, "copy not possible: %s", a.CopyReason)
		}
		segs = []types.SegmentSpec{{Action: types.ActionCopy, Lo: a.Cut.Start, Hi: a.Cut.End}}
	case types.ModeHybrid:
		if !a.CopySafe {
			return types.Plan{}, errs.New(errs.PlanUnsupported, errs.PhasePlan, "hybrid not possible: %s", a.CopyReason)
		}
		if !a.Spliceable {
			return types.Plan{}, errs.New(errs.PlanUnsupported, errs.PhasePlan, "codec %s cannot be spliced at GOP boundaries", a.Video.Codec)
		}
		var err error
		if segs, err = a.hybridSegments(); err != nil {
			return types.Plan{}, err
		}
	case types.ModeReencode:
		segs = []types.SegmentSpec{{Action: types.ActionReencode, Lo: a.Cut.Start, Hi: a.Cut.End}}
	default:
		return types.Plan{}, errs.New(errs.BadArgs, errs.PhasePlan, "unknown mode %s", mode)
	}

	for i := range segs {
		segs[i].Index = i
	}
	plan.Segments = segs
	plan.Range = types.CutRange{Start: segs[0].Lo, End: segs[len(segs)-1].Hi}
	if err := CheckPlan(plan); err != nil {
		return types.Plan{}, err
	}
	return plan, nil
}

// hybridSegments splits the effective range into a re-encoded lead up to the
// first keyframe, a copied middle between keyframes and a re-encoded tail.
// Endpoints within epsilon of a keyframe snap onto it.
func (a Analysis) hybridSegments() ([]types.SegmentSpec, error) {
	lo, hi := a.Cut.Start, a.Cut.End
	if a.StartAligned() {
		lo, _ = a.idx.KeyframeAtOrBefore(lo)
	}
	if a.EndAligned() {
		hi, _ = a.idx.KeyframeAtOrBefore(hi)
	}
	if hi <= lo {
		return nil, errs.New(errs.PlanUnsupported, errs.PhasePlan, "effective range is empty after keyframe snapping").
			With("start", lo).With("end", hi)
	}

	next, okNext := a.idx.KeyframeAtOrAfter(lo)
	prev, okPrev := a.idx.KeyframeAtOrBefore(hi)
	if !okNext || !okPrev || next >= hi || prev <= lo || next > prev {
		return []types.SegmentSpec{{Action: types.ActionReencode, Lo: lo, Hi: hi}}, nil
	}

	var segs []types.SegmentSpec
	if lo < next {
		segs = append(segs, types.SegmentSpec{Action: types.ActionReencode, Lo: lo, Hi: next})
	}
	if next < prev {
		segs = append(segs, types.SegmentSpec{Action: types.ActionCopy, Lo: next, Hi: prev})
	}
	if prev < hi {
		segs = append(segs, types.SegmentSpec{Action: types.ActionReencode, Lo: prev, Hi: hi})
	}
	return segs, nil
}

// CheckPlan asserts a plan is non-empty, contiguous and covers Range exactly.
func CheckPlan(p types.Plan) error {
	if len(p.Segments) == 0 {
		return errs.New(errs.PlanUnsupported, errs.PhasePlan, "plan has no segments")
	}
	cursor := p.Range.Start
	for i, s := range p.Segments {
		if s.Index != i {
			return errs.New(errs.PlanUnsupported, errs.PhasePlan, "segment %d carries index %d", i, s.Index).WithSegment(i)
		}
		if s.Lo != cursor {
			return errs.New(errs.PlanUnsupported, errs.PhasePlan, "segment %d starts at %d, expected %d", i, s.Lo, cursor).WithSegment(i)
		}
		if s.Hi <= s.Lo {
			return errs.New(errs.PlanUnsupported, errs.PhasePlan, "segment %d is empty", i).WithSegment(i)
		}
		cursor = s.Hi
	}
	if cursor != p.Range.End {
		return errs.New(errs.PlanUnsupported, errs.PhasePlan, "segments end at %d, range ends at %d", cursor, p.Range.End)
	}
	return nil
}
