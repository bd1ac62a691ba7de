package verify

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/forPelevin/splicecut/internal/domain/errs"
	"github.com/forPelevin/splicecut/internal/types"
)

type fakeProber struct {
	media types.MediaInfo
	err   error
	calls int
}

func (f *fakeProber) Probe(ctx context.Context, path string) (types.MediaInfo, error) {
	f.calls++
	return f.media, f.err
}

var tb90k = types.Timebase{Num: 1, Den: 90000}

func media(durationMicros int64) types.MediaInfo {
	return types.MediaInfo{
		Path:        "out.mp4",
		Container:   "mp4",
		DurationPTS: durationMicros,
		Timebase:    types.MicroTimebase,
		Streams: []types.StreamInfo{
			{
				Index: 0, Kind: types.KindVideo, Codec: "h264", Profile: "High", CodecTag: "avc1",
				Timebase:      tb90k,
				ExtradataHash: "sha256:aa",
				Video: &types.VideoInfo{
					Width: 1920, Height: 1080, PixelFormat: "yuv420p",
					FrameRate: &types.Rational{Num: 30, Den: 1},
				},
			},
			{
				Index: 1, Kind: types.KindAudio, Codec: "aac", Profile: "LC", CodecTag: "mp4a",
				Timebase: types.Timebase{Num: 1, Den: 48000},
				Audio:    &types.AudioInfo{SampleRate: 48000, Channels: 2},
			},
		},
	}
}

func request(src *types.MediaInfo) Request {
	return Request{
		OutputPath: "out.mp4",
		Source:     src,
		Requested:  types.CutRange{Start: 900000, End: 1800000}, // 10s
		Timebase:   tb90k,
		Mode:       types.ModeReencode,
		Selection:  types.StreamSelection{Video: true, Audio: true},
	}
}

func checkByName(t *testing.T, res types.VerificationResult, name string) types.Check {
	t.Helper()
	for _, c := range res.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not recorded: %+v", name, res.Checks)
	return types.Check{}
}

func TestVerify_Passes(t *testing.T) {
	t.Parallel()

	src := media(60_000_000)
	v := New(&fakeProber{media: media(10_010_000)}, DefaultParams())
	res, err := v.Verify(context.Background(), request(&src))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Passed {
		t.Fatalf("expected pass, failed: %+v", res.Failed())
	}
}

func TestVerify_DurationOutsideTolerance(t *testing.T) {
	t.Parallel()

	// 0.6s longer than requested against an explicit 0.5s tolerance.
	src := media(60_000_000)
	req := request(&src)
	req.Tolerance = big.NewRat(1, 2)
	v := New(&fakeProber{media: media(10_600_000)}, DefaultParams())

	res, err := v.Verify(context.Background(), req)
	if err != nil {
		t.Fatalf("verify must not error on failed checks: %v", err)
	}
	if res.Passed {
		t.Fatalf("expected failure")
	}
	c := checkByName(t, res, CheckDuration)
	if c.Passed {
		t.Fatalf("duration check should fail: %+v", c)
	}
	if c.Actual != "10.600s" {
		t.Fatalf("unexpected actual %q", c.Actual)
	}
	if got := len(res.Failed()); got != 1 {
		t.Fatalf("expected only the duration check to fail, got %d", got)
	}
}

func TestVerify_DefaultToleranceIsHalfFrame(t *testing.T) {
	t.Parallel()

	src := media(60_000_000)
	// 1/30s frame -> 1/60s tolerance; 20ms over fails.
	v := New(&fakeProber{media: media(10_020_000)}, DefaultParams())
	res, err := v.Verify(context.Background(), request(&src))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if checkByName(t, res, CheckDuration).Passed {
		t.Fatalf("20ms drift should exceed the default tolerance")
	}
}

func TestVerify_StartDrift(t *testing.T) {
	t.Parallel()

	out := media(10_000_000)
	out.Streams[1].StartPTS = 4800 // 0.1s
	src := media(60_000_000)
	res, err := New(&fakeProber{media: out}, DefaultParams()).Verify(context.Background(), request(&src))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if checkByName(t, res, CheckStartDrift).Passed {
		t.Fatalf("0.1s start drift should fail")
	}
}

func TestVerify_MissingStream(t *testing.T) {
	t.Parallel()

	out := media(10_000_000)
	out.Streams = out.Streams[:1]
	src := media(60_000_000)
	res, err := New(&fakeProber{media: out}, DefaultParams()).Verify(context.Background(), request(&src))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	c := checkByName(t, res, CheckStreams)
	if c.Passed || res.Passed {
		t.Fatalf("missing audio should fail: %+v", c)
	}
}

func TestVerify_CopyComparesCodecParams(t *testing.T) {
	t.Parallel()

	src := media(60_000_000)
	req := request(&src)
	req.Mode = types.ModeCopy

	res, err := New(&fakeProber{media: media(10_000_000)}, DefaultParams()).Verify(context.Background(), req)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !checkByName(t, res, CheckCodecParams).Passed {
		t.Fatalf("identical params should pass")
	}

	out := media(10_000_000)
	out.Streams[0].ExtradataHash = "sha256:bb"
	res, err = New(&fakeProber{media: out}, DefaultParams()).Verify(context.Background(), req)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if checkByName(t, res, CheckCodecParams).Passed || res.Passed {
		t.Fatalf("changed extradata should fail codec_params")
	}
}

func TestVerify_ReencodeSkipsCodecParams(t *testing.T) {
	t.Parallel()

	src := media(60_000_000)
	res, err := New(&fakeProber{media: media(10_000_000)}, DefaultParams()).Verify(context.Background(), request(&src))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	for _, c := range res.Checks {
		if c.Name == CheckCodecParams {
			t.Fatalf("codec params must only be compared for copy outputs")
		}
	}
}

func TestVerify_ProbeFailure(t *testing.T) {
	t.Parallel()

	p := &fakeProber{err: errors.New("boom")}
	_, err := New(p, DefaultParams()).Verify(context.Background(), request(nil))
	if errs.KindOf(err) != errs.ProbeFail {
		t.Fatalf("expected ProbeFail, got %v", err)
	}
	if p.calls != 1 {
		t.Fatalf("expected a single probe, got %d", p.calls)
	}
}

func TestVerify_StartDriftAgainstContainerStart(t *testing.T) {
	t.Parallel()

	start := int64(1_400_000)
	out := media(10_000_000)
	out.Container = "mpegts"
	out.StartPTS = &start
	out.Streams[0].StartPTS = 126000 // 1.4s
	out.Streams[1].StartPTS = 67200  // 1.4s
	src := media(60_000_000)
	res, err := New(&fakeProber{media: out}, DefaultParams()).Verify(context.Background(), request(&src))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if c := checkByName(t, res, CheckStartDrift); !c.Passed {
		t.Fatalf("streams starting with the container must pass: %+v", c)
	}

	out.Streams[1].StartPTS = 72000 // 1.5s
	res, err = New(&fakeProber{media: out}, DefaultParams()).Verify(context.Background(), request(&src))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if checkByName(t, res, CheckStartDrift).Passed {
		t.Fatalf("audio 0.1s behind the container start should fail")
	}
}
