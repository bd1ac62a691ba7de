package types

import (
	"fmt"
	"strings"
)

type StreamKind string

const (
	KindVideo    StreamKind = "video"
	KindAudio    StreamKind = "audio"
	KindSubtitle StreamKind = "subtitle"
)

type VideoInfo struct {
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	FrameRate      *Rational `json:"frame_rate,omitempty"` // nil for variable or unknown rate
	FrameCount     int64     `json:"frame_count,omitempty"`
	PixelFormat    string    `json:"pixel_format"`
	Rotation       *int      `json:"rotation,omitempty"`
	ColorSpace     string    `json:"color_space,omitempty"`
	ColorTransfer  string    `json:"color_transfer,omitempty"`
	ColorPrimaries string    `json:"color_primaries,omitempty"`
	AttachedPic    bool      `json:"attached_pic,omitempty"`
}

type AudioInfo struct {
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	ChannelLayout string `json:"channel_layout,omitempty"`
}

type StreamInfo struct {
	Index         int               `json:"index"`
	Kind          StreamKind        `json:"kind"`
	Codec         string            `json:"codec"`
	Profile       string            `json:"profile,omitempty"`
	CodecTag      string            `json:"codec_tag,omitempty"`
	ExtradataHash string            `json:"extradata_hash,omitempty"`
	Timebase      Timebase          `json:"timebase"`
	StartPTS      int64             `json:"start_pts"`
	DurationPTS   *int64            `json:"duration_pts,omitempty"`
	BitRate       *int64            `json:"bit_rate,omitempty"`
	Language      string            `json:"language,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`

	Video *VideoInfo `json:"video,omitempty"`
	Audio *AudioInfo `json:"audio,omitempty"`
}

type KeyframeInfo struct {
	PTS         int64 `json:"pts"`
	StreamIndex int   `json:"stream_index"`
}

// MediaInfo is the probed view of one file. It is never mutated after probing.
type MediaInfo struct {
	Path        string `json:"path"`
	Container   string `json:"container"`
	DurationPTS int64  `json:"duration_pts"`

	// StartPTS is the container start time in Timebase; nil when the
	// container does not report one.
	StartPTS  *int64                 `json:"start_pts,omitempty"`
	Timebase  Timebase               `json:"timebase"`
	SizeBytes int64                  `json:"size_bytes"`
	Streams   []StreamInfo           `json:"streams"`
	Keyframes map[int][]KeyframeInfo `json:"keyframes,omitempty"`
}

// StreamsOf returns the streams of kind k in file order.
func (m MediaInfo) StreamsOf(k StreamKind) []StreamInfo {
	var out []StreamInfo
	for _, s := range m.Streams {
		if s.Kind == k {
			out = append(out, s)
		}
	}
	return out
}

// CutRange is a half-open [Start, End) range in the primary video timebase.
type CutRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func (c CutRange) Len() int64 { return c.End - c.Start }

func (c CutRange) String() string { return fmt.Sprintf("[%d,%d)", c.Start, c.End) }

type ClippingMode int

const (
	ModeCopy ClippingMode = iota
	ModeHybrid
	ModeReencode
)

func (m ClippingMode) String() string {
	switch m {
	case ModeCopy:
		return "copy"
	case ModeHybrid:
		return "hybrid"
	case ModeReencode:
		return "reencode"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Slower returns the next slower mode, or false when m is already the slowest.
func (m ClippingMode) Slower() (ClippingMode, bool) {
	switch m {
	case ModeCopy:
		return ModeHybrid, true
	case ModeHybrid:
		return ModeReencode, true
	}
	return m, false
}

func (m ClippingMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *ClippingMode) UnmarshalText(b []byte) error {
	v, err := ParseClippingMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func ParseClippingMode(s string) (ClippingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "copy":
		return ModeCopy, nil
	case "hybrid":
		return ModeHybrid, nil
	case "reencode", "re-encode":
		return ModeReencode, nil
	}
	return 0, fmt.Errorf("unknown clipping mode %q", s)
}

type SegmentAction int

const (
	ActionCopy SegmentAction = iota
	ActionReencode
)

func (a SegmentAction) String() string {
	if a == ActionCopy {
		return "copy"
	}
	return "reencode"
}

func (a SegmentAction) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *SegmentAction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "copy":
		*a = ActionCopy
	case "reencode":
		*a = ActionReencode
	default:
		return fmt.Errorf("unknown segment action %q", b)
	}
	return nil
}

// SegmentSpec is one unit of work covering [Lo, Hi) in the plan timebase.
type SegmentSpec struct {
	Index  int           `json:"index"`
	Action SegmentAction `json:"action"`
	Lo     int64         `json:"lo"`
	Hi     int64         `json:"hi"`
}

func (s SegmentSpec) Len() int64 { return s.Hi - s.Lo }

type StreamSelection struct {
	Video     bool `json:"video"`
	Audio     bool `json:"audio"`
	Subtitles bool `json:"subtitles"`
}

// Kinds lists the selected kinds in a stable order.
func (s StreamSelection) Kinds() []StreamKind {
	var out []StreamKind
	if s.Video {
		out = append(out, KindVideo)
	}
	if s.Audio {
		out = append(out, KindAudio)
	}
	if s.Subtitles {
		out = append(out, KindSubtitle)
	}
	return out
}

// MetadataPolicy lists what is carried through to the output regardless of mode.
type MetadataPolicy struct {
	Rotation    bool `json:"rotation"`
	Color       bool `json:"color"`
	CodecParams bool `json:"codec_params"`
}

// Plan is an ordered, non-empty, contiguous list of segments covering Range.
// Plans are immutable; escalation builds a new one.
type Plan struct {
	Mode        ClippingMode    `json:"mode"`
	Timebase    Timebase        `json:"timebase"`
	VideoStream int             `json:"video_stream"`
	Range       CutRange        `json:"range"`
	Segments    []SegmentSpec   `json:"segments"`
	Selection   StreamSelection `json:"selection"`
	Container   string          `json:"container"`
	VideoCodec  string          `json:"video_codec"`
	Carry       MetadataPolicy  `json:"carry"`
	FastStart   bool            `json:"fast_start"`
}

// SegmentReport is what the executor produced for one segment.
type SegmentReport struct {
	Index       int          `json:"index"`
	Path        string       `json:"path"`
	FirstPTS    int64        `json:"first_pts"`
	LastPTS     int64        `json:"last_pts"`
	DurationPTS int64        `json:"duration_pts"`
	Streams     []StreamKind `json:"streams"`

	// Codecs names the codec of the first stream of each kind.
	Codecs map[StreamKind]string `json:"codecs,omitempty"`
}

type OutputReport struct {
	Success     bool            `json:"success"`
	Path        string          `json:"path"`
	Mode        ClippingMode    `json:"mode"`
	Timebase    Timebase        `json:"timebase"`
	FirstPTS    int64           `json:"first_pts"`
	LastPTS     int64           `json:"last_pts"`
	DurationOut int64           `json:"duration_out"`
	Segments    []SegmentReport `json:"segments"`
	Warnings    []string        `json:"warnings,omitempty"`
}

type Check struct {
	Name     string `json:"name"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Passed   bool   `json:"passed"`
}

type VerificationResult struct {
	Passed bool    `json:"passed"`
	Checks []Check `json:"checks"`
}

// Failed returns the checks that did not pass.
func (v VerificationResult) Failed() []Check {
	var out []Check
	for _, c := range v.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}
