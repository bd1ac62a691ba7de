package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os/exec"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/language"

	"github.com/forPelevin/splicecut/internal/domain/planner"
	"github.com/forPelevin/splicecut/internal/types"
)

// Probe reads container and stream metadata, then scans the packets of the
// primary video stream for keyframes.
func (a *Adapter) Probe(ctx context.Context, path string) (types.MediaInfo, error) {
	m, err := a.probeStreams(ctx, path)
	if err != nil {
		return types.MediaInfo{}, err
	}
	for _, s := range m.Streams {
		if s.Kind != types.KindVideo || (s.Video != nil && s.Video.AttachedPic) {
			continue
		}
		kfs, err := a.probeKeyframes(ctx, path, s.Index)
		if err != nil {
			return types.MediaInfo{}, err
		}
		m.Keyframes = map[int][]types.KeyframeInfo{s.Index: kfs}
		break
	}
	return m, nil
}

func (a *Adapter) probeStreams(ctx context.Context, path string) (types.MediaInfo, error) {
	cmd := exec.CommandContext(ctx, a.ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format", "-show_streams",
		"-show_data_hash", "sha256",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return types.MediaInfo{}, fmt.Errorf("ffprobe %q: %w", path, err)
	}
	m, err := ParseProbeJSON(out)
	if err != nil {
		return types.MediaInfo{}, err
	}
	m.Path = path
	m.Container = planner.ContainerFromPath(path, m.Container)
	return m, nil
}

func (a *Adapter) probeKeyframes(ctx context.Context, path string, stream int) ([]types.KeyframeInfo, error) {
	cmd := exec.CommandContext(ctx, a.ffprobe,
		"-v", "error",
		"-select_streams", strconv.Itoa(stream),
		"-show_entries", "packet=pts,flags",
		"-print_format", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe keyframes %q: %w", path, err)
	}
	return ParseKeyframesJSON(out, stream)
}

// --- ffprobe JSON wire types ---

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	StartTime  string `json:"start_time"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
}

type ffprobeStream struct {
	Index          int               `json:"index"`
	CodecName      string            `json:"codec_name"`
	CodecType      string            `json:"codec_type"`
	CodecTag       string            `json:"codec_tag_string"`
	Profile        string            `json:"profile"`
	ExtradataHash  string            `json:"extradata_hash"`
	TimeBase       string            `json:"time_base"`
	StartPTS       *int64            `json:"start_pts"`
	DurationTS     *int64            `json:"duration_ts"`
	BitRate        string            `json:"bit_rate"`
	Width          int               `json:"width"`
	Height         int               `json:"height"`
	PixFmt         string            `json:"pix_fmt"`
	RFrameRate     string            `json:"r_frame_rate"`
	AvgFrameRate   string            `json:"avg_frame_rate"`
	NbFrames       string            `json:"nb_frames"`
	ColorSpace     string            `json:"color_space"`
	ColorTransfer  string            `json:"color_transfer"`
	ColorPrimaries string            `json:"color_primaries"`
	SampleRate     string            `json:"sample_rate"`
	Channels       int               `json:"channels"`
	ChannelLayout  string            `json:"channel_layout"`
	Disposition    map[string]int    `json:"disposition"`
	Tags           map[string]string `json:"tags"`
	SideData       []struct {
		Rotation *int `json:"rotation"`
	} `json:"side_data_list"`
}

type ffprobePackets struct {
	Packets []struct {
		PTS   *int64 `json:"pts"`
		Flags string `json:"flags"`
	} `json:"packets"`
}

// ParseProbeJSON converts ffprobe -show_format -show_streams output into
// MediaInfo. The container start and duration are expressed in microseconds.
func ParseProbeJSON(data []byte) (types.MediaInfo, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return types.MediaInfo{}, fmt.Errorf("parse ffprobe JSON: %w", err)
	}

	m := types.MediaInfo{
		Container: raw.Format.FormatName,
		Timebase:  types.MicroTimebase,
		SizeBytes: parseInt64(raw.Format.Size),
	}
	if d, ok := new(big.Rat).SetString(strings.TrimSpace(raw.Format.Duration)); ok {
		m.DurationPTS = types.MicroTimebase.PTS(d)
	}
	if st, ok := new(big.Rat).SetString(strings.TrimSpace(raw.Format.StartTime)); ok {
		pts := types.MicroTimebase.PTS(st)
		m.StartPTS = &pts
	}

	for i := range raw.Streams {
		s, ok, err := convertStream(&raw.Streams[i])
		if err != nil {
			return types.MediaInfo{}, err
		}
		if ok {
			m.Streams = append(m.Streams, s)
		}
	}
	return m, nil
}

func convertStream(s *ffprobeStream) (types.StreamInfo, bool, error) {
	var kind types.StreamKind
	switch s.CodecType {
	case "video":
		kind = types.KindVideo
	case "audio":
		kind = types.KindAudio
	case "subtitle":
		kind = types.KindSubtitle
	default:
		return types.StreamInfo{}, false, nil
	}

	tb, err := parseTimebase(s.TimeBase)
	if err != nil {
		return types.StreamInfo{}, false, fmt.Errorf("stream %d: %w", s.Index, err)
	}
	out := types.StreamInfo{
		Index:         s.Index,
		Kind:          kind,
		Codec:         s.CodecName,
		Profile:       s.Profile,
		CodecTag:      s.CodecTag,
		ExtradataHash: s.ExtradataHash,
		Timebase:      tb,
		DurationPTS:   s.DurationTS,
		Language:      normalizeLanguage(s.Tags["language"]),
		Metadata:      s.Tags,
	}
	if s.StartPTS != nil {
		out.StartPTS = *s.StartPTS
	}
	if br := parseInt64(s.BitRate); br > 0 {
		out.BitRate = &br
	}

	switch kind {
	case types.KindVideo:
		v := &types.VideoInfo{
			Width:          s.Width,
			Height:         s.Height,
			PixelFormat:    s.PixFmt,
			FrameCount:     parseInt64(s.NbFrames),
			ColorSpace:     s.ColorSpace,
			ColorTransfer:  s.ColorTransfer,
			ColorPrimaries: s.ColorPrimaries,
			AttachedPic:    s.Disposition["attached_pic"] == 1,
		}
		// Equal real and average rates mean constant frame rate; otherwise
		// the frame time is derived from duration and frame count.
		if r, ok := parseRational(s.AvgFrameRate); ok && s.AvgFrameRate == s.RFrameRate {
			v.FrameRate = &r
		}
		for _, sd := range s.SideData {
			if sd.Rotation != nil {
				rot := *sd.Rotation
				v.Rotation = &rot
				break
			}
		}
		if v.Rotation == nil {
			if r, err := strconv.Atoi(s.Tags["rotate"]); err == nil {
				v.Rotation = &r
			}
		}
		out.Video = v
	case types.KindAudio:
		out.Audio = &types.AudioInfo{
			SampleRate:    int(parseInt64(s.SampleRate)),
			Channels:      s.Channels,
			ChannelLayout: s.ChannelLayout,
		}
	}
	return out, true, nil
}

// ParseKeyframesJSON extracts keyframe pts from ffprobe -show_entries
// packet=pts,flags output. Packets arrive in decode order; the result is
// sorted and de-duplicated.
func ParseKeyframesJSON(data []byte, stream int) ([]types.KeyframeInfo, error) {
	var raw ffprobePackets
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe packets: %w", err)
	}
	var pts []int64
	for _, p := range raw.Packets {
		if p.PTS == nil || !strings.Contains(p.Flags, "K") {
			continue
		}
		pts = append(pts, *p.PTS)
	}
	slices.Sort(pts)
	pts = slices.Compact(pts)

	out := make([]types.KeyframeInfo, len(pts))
	for i, p := range pts {
		out[i] = types.KeyframeInfo{PTS: p, StreamIndex: stream}
	}
	return out, nil
}

func parseTimebase(s string) (types.Timebase, error) {
	r, ok := parseRational(s)
	if !ok {
		return types.Timebase{}, fmt.Errorf("invalid time_base %q", s)
	}
	return types.Timebase{Num: r.Num, Den: r.Den}, nil
}

func parseRational(s string) (types.Rational, bool) {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return types.Rational{}, false
	}
	n, err1 := strconv.ParseInt(num, 10, 64)
	d, err2 := strconv.ParseInt(den, 10, 64)
	r := types.Rational{Num: n, Den: d}
	if err1 != nil || err2 != nil || !r.Valid() {
		return types.Rational{}, false
	}
	return r, true
}

// normalizeLanguage canonicalizes ISO 639-2 tags (eng) to BCP 47 (en).
func normalizeLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	t, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	return t.String()
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}
