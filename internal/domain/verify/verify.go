// Package verify re-probes a produced file and certifies it against the
// request it was cut for. Failing checks are recorded, never thrown.
package verify

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/forPelevin/splicecut/internal/domain/errs"
	"github.com/forPelevin/splicecut/internal/domain/mediaindex"
	"github.com/forPelevin/splicecut/internal/ports"
	"github.com/forPelevin/splicecut/internal/types"
)

const (
	CheckDuration    = "duration"
	CheckStartDrift  = "start_drift"
	CheckStreams     = "streams"
	CheckCodecParams = "codec_params"
)

type Params struct {
	// ToleranceFactor scales the source frame time into the duration tolerance.
	ToleranceFactor float64
}

func DefaultParams() Params { return Params{ToleranceFactor: 0.5} }

type Verifier struct {
	probe  ports.Prober
	factor *big.Rat
}

func New(probe ports.Prober, p Params) *Verifier {
	f := p.ToleranceFactor
	if f <= 0 {
		f = DefaultParams().ToleranceFactor
	}
	return &Verifier{probe: probe, factor: new(big.Rat).SetFloat64(f)}
}

type Request struct {
	OutputPath string
	// Source is the probed input. Without it (verify command on a bare file)
	// frame time comes from the output and codec params are not compared.
	Source    *types.MediaInfo
	Requested types.CutRange // in Timebase
	Timebase  types.Timebase
	Mode      types.ClippingMode
	Selection types.StreamSelection
	// Tolerance overrides the derived duration tolerance, in seconds.
	Tolerance *big.Rat
}

// Verify never touches the file. The only error is a failed re-probe.
func (v *Verifier) Verify(ctx context.Context, req Request) (types.VerificationResult, error) {
	out, err := v.probe.Probe(ctx, req.OutputPath)
	if err != nil {
		return types.VerificationResult{}, errs.Wrap(errs.ProbeFail, errs.PhaseVerify, err, "re-probe %s", req.OutputPath).
			With("path", req.OutputPath)
	}

	frame := frameTime(req.Source, out)
	tol := req.Tolerance
	if tol == nil {
		tol = new(big.Rat).Mul(v.factor, frame)
	}

	checks := []types.Check{
		durationCheck(out, req.Timebase.Seconds(req.Requested.Len()), tol),
		startDriftCheck(out, frame),
		streamsCheck(out, req.Selection),
	}
	if req.Mode == types.ModeCopy && req.Source != nil {
		checks = append(checks, codecParamsCheck(*req.Source, out, req.Selection))
	}

	res := types.VerificationResult{Passed: true, Checks: checks}
	for _, c := range checks {
		if !c.Passed {
			res.Passed = false
		}
	}
	return res, nil
}

// frameTime prefers the source's primary video stream. Zero when neither
// side carries a usable video stream.
func frameTime(src *types.MediaInfo, out types.MediaInfo) *big.Rat {
	for _, m := range []*types.MediaInfo{src, &out} {
		if m == nil {
			continue
		}
		idx, err := mediaindex.New(*m)
		if err != nil {
			continue
		}
		if ft, err := idx.AvgFrameTime(); err == nil {
			return ft
		}
	}
	return new(big.Rat)
}

func durationCheck(out types.MediaInfo, want, tol *big.Rat) types.Check {
	got := out.Timebase.Seconds(out.DurationPTS)
	diff := new(big.Rat).Sub(got, want)
	diff.Abs(diff)
	return types.Check{
		Name:     CheckDuration,
		Expected: fmt.Sprintf("%ss ±%ss", want.FloatString(3), tol.FloatString(3)),
		Actual:   got.FloatString(3) + "s",
		Passed:   diff.Cmp(tol) <= 0,
	}
}

// startDriftCheck measures how far any stream starts from the output's
// origin: the container start time when reported (MPEG-TS begins at 1.4s),
// else zero since merged outputs are rebased so the first frame sits at 0.
func startDriftCheck(out types.MediaInfo, frame *big.Rat) types.Check {
	base := new(big.Rat)
	if out.StartPTS != nil {
		base = out.Timebase.Seconds(*out.StartPTS)
	}
	drift := new(big.Rat)
	for _, s := range out.Streams {
		if s.Kind == types.KindVideo && s.Video != nil && s.Video.AttachedPic {
			continue
		}
		d := new(big.Rat).Sub(s.Timebase.Seconds(s.StartPTS), base)
		if d.Abs(d).Cmp(drift) > 0 {
			drift = d
		}
	}
	return types.Check{
		Name:     CheckStartDrift,
		Expected: "<= " + frame.FloatString(3) + "s",
		Actual:   drift.FloatString(3) + "s",
		Passed:   drift.Cmp(frame) <= 0,
	}
}

func streamsCheck(out types.MediaInfo, sel types.StreamSelection) types.Check {
	var want, missing, have []string
	for _, k := range sel.Kinds() {
		want = append(want, string(k))
		if len(out.StreamsOf(k)) == 0 {
			missing = append(missing, string(k))
		}
	}
	seen := map[types.StreamKind]bool{}
	for _, s := range out.Streams {
		if !seen[s.Kind] {
			seen[s.Kind] = true
			have = append(have, string(s.Kind))
		}
	}
	c := types.Check{
		Name:     CheckStreams,
		Expected: strings.Join(want, ","),
		Actual:   strings.Join(have, ","),
		Passed:   len(missing) == 0,
	}
	if !c.Passed {
		c.Actual += " (missing " + strings.Join(missing, ",") + ")"
	}
	return c
}

// codecParamsCheck pairs source and output streams of each selected kind in
// order. Only the primary video stream of the source is expected.
func codecParamsCheck(src, out types.MediaInfo, sel types.StreamSelection) types.Check {
	c := types.Check{Name: CheckCodecParams, Passed: true}
	var exp, act []string
	for _, k := range sel.Kinds() {
		want, got := src.StreamsOf(k), out.StreamsOf(k)
		if k == types.KindVideo {
			want, got = firstMotion(want), firstMotion(got)
		}
		for i := 0; i < len(want) || i < len(got); i++ {
			var e, a string
			if i < len(want) {
				e = fingerprint(want[i])
			}
			if i < len(got) {
				a = fingerprint(got[i])
			}
			if e != a {
				c.Passed = false
				exp = append(exp, e)
				act = append(act, a)
			}
		}
	}
	if c.Passed {
		c.Expected, c.Actual = "identical to source", "identical to source"
		return c
	}
	c.Expected = strings.Join(exp, "; ")
	c.Actual = strings.Join(act, "; ")
	return c
}

func firstMotion(ss []types.StreamInfo) []types.StreamInfo {
	for _, s := range ss {
		if s.Video == nil || !s.Video.AttachedPic {
			return []types.StreamInfo{s}
		}
	}
	return nil
}

func fingerprint(s types.StreamInfo) string {
	parts := []string{string(s.Kind), s.Codec, s.Profile, s.CodecTag}
	if v := s.Video; v != nil {
		parts = append(parts, fmt.Sprintf("%dx%d", v.Width, v.Height), v.PixelFormat)
	}
	if a := s.Audio; a != nil {
		parts = append(parts, fmt.Sprintf("%dHz", a.SampleRate), fmt.Sprintf("%dch", a.Channels))
	}
	parts = append(parts, s.ExtradataHash)
	return strings.Join(parts, "/")
}
