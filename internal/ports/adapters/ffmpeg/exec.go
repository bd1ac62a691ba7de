package ffmpeg

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	ffmpeggo "github.com/u2takey/ffmpeg-go"

	"github.com/forPelevin/splicecut/internal/domain/planner"
	"github.com/forPelevin/splicecut/internal/ports"
	"github.com/forPelevin/splicecut/internal/types"
)

// defaultEncoders re-encodes hybrid edges with the source bitstream family
// so they can be joined with the copied middle.
var defaultEncoders = map[string]string{
	"h264":       "libx264",
	"hevc":       "libx265",
	"vp9":        "libvpx-vp9",
	"av1":        "libsvtav1",
	"mpeg2video": "mpeg2video",
}

// Execute cuts one segment of the input and probes what it wrote.
func (a *Adapter) Execute(ctx context.Context, req ports.ExecRequest) (types.SegmentReport, error) {
	what := fmt.Sprintf("segment %d (%s)", req.Segment.Index, req.Segment.Action)
	if err := a.runFFmpeg(ctx, what, SegmentArgs(req)); err != nil {
		return types.SegmentReport{}, err
	}

	m, err := a.probeStreams(ctx, req.OutputPath)
	if err != nil {
		return types.SegmentReport{}, fmt.Errorf("probe %s: %w", what, err)
	}
	return segmentReport(req, m), nil
}

// SegmentArgs builds the ffmpeg command line for one segment.
func SegmentArgs(req ports.ExecRequest) []string {
	tb := req.Timebase
	inKw := ffmpeggo.KwArgs{"ss": secs(tb.Seconds(req.Segment.Lo))}
	outKw := ffmpeggo.KwArgs{
		"t":            secs(tb.Seconds(req.Segment.Len())),
		"map":          streamMaps(req),
		"map_metadata": "0",
		"f":            muxerName(req.Container),
	}

	if req.Segment.Action == types.ActionCopy {
		outKw["c"] = "copy"
		outKw["avoid_negative_ts"] = "make_zero"
	} else {
		if req.Carry.Rotation {
			inKw["noautorotate"] = ""
		}
		encoder := videoEncoder(req)
		outKw["c:v"] = encoder
		if p := encoderProfile(encoder, req.Video); p != "" {
			outKw["profile:v"] = p
		}
		if req.Codec.CRF > 0 {
			outKw["crf"] = strconv.Itoa(req.Codec.CRF)
		}
		if req.Codec.Preset != "" {
			outKw["preset"] = req.Codec.Preset
		}
		if v := req.Video.Video; v != nil {
			if v.PixelFormat != "" {
				outKw["pix_fmt"] = v.PixelFormat
			}
			if req.Carry.Color {
				setIf(outKw, "colorspace", v.ColorSpace)
				setIf(outKw, "color_trc", v.ColorTransfer)
				setIf(outKw, "color_primaries", v.ColorPrimaries)
			}
		}
		if req.Selection.Audio {
			if req.Splice {
				// The copied middle carries the source audio bitstream.
				outKw["c:a"] = "copy"
			} else {
				audio := req.Codec.AudioCodec
				if audio == "" {
					audio = "aac"
				}
				outKw["c:a"] = audio
				setIf(outKw, "b:a", req.Codec.AudioRate)
			}
		}
		if req.Selection.Subtitles {
			outKw["c:s"] = "copy"
		}
	}
	if planner.NeedsFastStart(req.Container) && tb.Num == 1 {
		// Keep every segment on the source clock so the concat copy
		// does not resample timestamps.
		outKw["video_track_timescale"] = strconv.FormatInt(tb.Den, 10)
	}

	return ffmpeggo.Input(req.InputPath, inKw).
		Output(req.OutputPath, outKw).
		OverWriteOutput().
		GetArgs()
}

// videoEncoder picks the configured encoder, falling back to the source
// family. Splice segments always stay in the source family.
func videoEncoder(req ports.ExecRequest) string {
	family := planner.CodecFamily(req.Video.Codec)
	encoder := req.Codec.VideoCodec
	if req.Splice && planner.CodecFamily(encoder) != family {
		encoder = ""
	}
	if encoder == "" {
		encoder = defaultEncoders[family]
	}
	if encoder == "" {
		encoder = "libx264"
	}
	return encoder
}

// encoderProfiles maps ffprobe profile names to encoder -profile:v values.
var encoderProfiles = map[string]map[string]string{
	"libx264": {
		"Baseline":              "baseline",
		"Constrained Baseline":  "baseline",
		"Main":                  "main",
		"High":                  "high",
		"High 10":               "high10",
		"High 4:2:2":            "high422",
		"High 4:4:4 Predictive": "high444",
	},
	"libx265": {
		"Main":               "main",
		"Main 10":            "main10",
		"Main Still Picture": "mainstillpicture",
	},
}

// encoderProfile returns the profile that makes encoder match the source
// stream, or "" when the encoder is of another family or has no mapping.
func encoderProfile(encoder string, src types.StreamInfo) string {
	if planner.CodecFamily(encoder) != planner.CodecFamily(src.Codec) {
		return ""
	}
	return encoderProfiles[encoder][src.Profile]
}

func streamMaps(req ports.ExecRequest) []string {
	maps := []string{"0:" + strconv.Itoa(req.Video.Index)}
	if req.Selection.Audio {
		maps = append(maps, "0:a?")
	}
	if req.Selection.Subtitles {
		maps = append(maps, "0:s?")
	}
	return maps
}

func setIf(kw ffmpeggo.KwArgs, key, value string) {
	if value != "" && value != "unknown" {
		kw[key] = value
	}
}

// segmentReport reads timing off the primary video stream of the segment,
// rescaled to the plan timebase.
func segmentReport(req ports.ExecRequest, m types.MediaInfo) types.SegmentReport {
	rep := types.SegmentReport{Index: req.Segment.Index, Path: req.OutputPath}
	rep.Codecs = map[types.StreamKind]string{}
	var video *types.StreamInfo
	for i := range m.Streams {
		s := m.Streams[i]
		if _, seen := rep.Codecs[s.Kind]; !seen {
			rep.Codecs[s.Kind] = s.Codec
			rep.Streams = append(rep.Streams, s.Kind)
		}
		if video == nil && s.Kind == types.KindVideo {
			video = &m.Streams[i]
		}
	}

	if video != nil {
		rep.FirstPTS = types.RescalePTS(video.StartPTS, video.Timebase, req.Timebase)
		if video.DurationPTS != nil {
			rep.DurationPTS = types.RescalePTS(*video.DurationPTS, video.Timebase, req.Timebase)
		}
	}
	if rep.DurationPTS <= 0 {
		rep.DurationPTS = types.RescalePTS(m.DurationPTS, m.Timebase, req.Timebase)
	}

	// Last frame starts one frame before the end.
	frame := int64(1)
	if v := req.Video.Video; v != nil && v.FrameRate != nil && v.FrameRate.Valid() {
		ft := new(big.Rat).Inv(v.FrameRate.Rat())
		if f := req.Timebase.PTS(ft); f > 0 {
			frame = f
		}
	}
	rep.LastPTS = rep.FirstPTS + max(rep.DurationPTS-frame, 0)
	return rep
}

// secs renders seconds with microsecond precision for ffmpeg.
func secs(r *big.Rat) string {
	return r.FloatString(6)
}
