// Package mediaindex wraps a probed MediaInfo with keyframe lookups and
// frame-time derivation for the primary video stream.
package mediaindex

import (
	"math/big"
	"sort"

	"github.com/forPelevin/splicecut/internal/domain/errs"
	"github.com/forPelevin/splicecut/internal/types"
)

type Index struct {
	media   types.MediaInfo
	primary *types.StreamInfo
	origin  int64 // in the primary timebase
	kfs     map[int][]int64
}

// New validates keyframe ordering and timebases. Malformed upstream data is a ProbeFail.
//
// Keyframes are stored relative to the file origin (see Origin), the same
// clock user cut times and ffmpeg's input seeking use.
func New(m types.MediaInfo) (*Index, error) {
	if !m.Timebase.Valid() {
		return nil, errs.New(errs.ProbeFail, errs.PhaseProbe, "invalid container timebase %s", m.Timebase)
	}
	idx := &Index{media: m, kfs: map[int][]int64{}}

	byIndex := map[int]types.StreamInfo{}
	for i := range m.Streams {
		s := m.Streams[i]
		if !s.Timebase.Valid() {
			return nil, errs.New(errs.ProbeFail, errs.PhaseProbe, "stream %d has invalid timebase %s", s.Index, s.Timebase)
		}
		byIndex[s.Index] = s
		if idx.primary == nil && s.Kind == types.KindVideo && (s.Video == nil || !s.Video.AttachedPic) {
			idx.primary = &m.Streams[i]
		}
	}

	originSec := originSeconds(m)
	if idx.primary != nil {
		idx.origin = idx.primary.Timebase.PTS(originSec)
	}

	for streamIdx, list := range m.Keyframes {
		s, ok := byIndex[streamIdx]
		if !ok || s.Kind != types.KindVideo {
			return nil, errs.New(errs.ProbeFail, errs.PhaseProbe, "keyframes reported for unknown video stream %d", streamIdx)
		}
		off := s.Timebase.PTS(originSec)
		pts := make([]int64, len(list))
		for i, kf := range list {
			if kf.StreamIndex != streamIdx {
				return nil, errs.New(errs.ProbeFail, errs.PhaseProbe, "keyframe %d of stream %d tagged with stream %d", i, streamIdx, kf.StreamIndex)
			}
			if i > 0 && kf.PTS <= list[i-1].PTS {
				return nil, errs.New(errs.ProbeFail, errs.PhaseProbe, "keyframes of stream %d are not monotonic at %d", streamIdx, i).
					With("prev_pts", list[i-1].PTS).With("pts", kf.PTS)
			}
			pts[i] = kf.PTS - off
		}
		idx.kfs[streamIdx] = pts
	}
	return idx, nil
}

// originSeconds is the presentation time a player shows as zero: the
// container start time, or the earliest stream start when the container
// reports none.
func originSeconds(m types.MediaInfo) *big.Rat {
	if m.StartPTS != nil {
		return m.Timebase.Seconds(*m.StartPTS)
	}
	var earliest *big.Rat
	for _, s := range m.Streams {
		if s.Video != nil && s.Video.AttachedPic {
			continue
		}
		sec := s.Timebase.Seconds(s.StartPTS)
		if earliest == nil || sec.Cmp(earliest) < 0 {
			earliest = sec
		}
	}
	if earliest == nil {
		return new(big.Rat)
	}
	return earliest
}

func (x *Index) Media() types.MediaInfo { return x.media }

// Origin is the absolute pts, in the primary timebase, that relative
// positions are measured from.
func (x *Index) Origin() int64 { return x.origin }

// Primary returns the first non-cover-art video stream.
func (x *Index) Primary() (types.StreamInfo, bool) {
	if x.primary == nil {
		return types.StreamInfo{}, false
	}
	return *x.primary, true
}

// Keyframes returns the ordered keyframe pts of the primary video stream,
// relative to Origin.
func (x *Index) Keyframes() []int64 {
	if x.primary == nil {
		return nil
	}
	return x.kfs[x.primary.Index]
}

// KeyframeAtOrBefore returns the last primary keyframe <= pts.
func (x *Index) KeyframeAtOrBefore(pts int64) (int64, bool) {
	kfs := x.Keyframes()
	i := sort.Search(len(kfs), func(i int) bool { return kfs[i] > pts })
	if i == 0 {
		return 0, false
	}
	return kfs[i-1], true
}

// KeyframeAtOrAfter returns the first primary keyframe >= pts.
func (x *Index) KeyframeAtOrAfter(pts int64) (int64, bool) {
	kfs := x.Keyframes()
	i := sort.Search(len(kfs), func(i int) bool { return kfs[i] >= pts })
	if i == len(kfs) {
		return 0, false
	}
	return kfs[i], true
}

// DurationPTS is the container duration in the primary video timebase,
// falling back to the stream's own duration when the container has none.
func (x *Index) DurationPTS() int64 {
	if x.primary == nil {
		return 0
	}
	if x.media.DurationPTS <= 0 && x.primary.DurationPTS != nil {
		return *x.primary.DurationPTS
	}
	return types.RescalePTS(x.media.DurationPTS, x.media.Timebase, x.primary.Timebase)
}

// AvgFrameTime is 1/frame_rate for constant-rate video, otherwise the stream
// duration divided by its frame count.
func (x *Index) AvgFrameTime() (*big.Rat, error) {
	if x.primary == nil {
		return nil, errs.New(errs.PlanUnsupported, errs.PhasePlan, "no video stream")
	}
	return AvgFrameTime(*x.primary, x.media)
}

// AvgFrameTime derives the frame time for any video stream of m.
func AvgFrameTime(s types.StreamInfo, m types.MediaInfo) (*big.Rat, error) {
	v := s.Video
	if v != nil && v.FrameRate != nil && v.FrameRate.Valid() {
		return new(big.Rat).Inv(v.FrameRate.Rat()), nil
	}
	if v == nil || v.FrameCount <= 0 {
		return nil, errs.New(errs.ProbeFail, errs.PhaseProbe, "stream %d: frame rate unknown and no frame count", s.Index)
	}

	var dur *big.Rat
	if s.DurationPTS != nil && *s.DurationPTS > 0 {
		dur = s.Timebase.Seconds(*s.DurationPTS)
	} else {
		dur = m.Timebase.Seconds(m.DurationPTS)
	}
	if dur.Sign() <= 0 {
		return nil, errs.New(errs.ProbeFail, errs.PhaseProbe, "stream %d: no duration to derive frame time", s.Index)
	}
	return dur.Quo(dur, new(big.Rat).SetInt64(v.FrameCount)), nil
}
