package ffmpeg

import (
	"slices"
	"strings"
	"testing"

	"github.com/forPelevin/splicecut/internal/ports"
	"github.com/forPelevin/splicecut/internal/types"
)

const probeFixture = `{
  "streams": [
    {
      "index": 0, "codec_name": "h264", "codec_type": "video", "profile": "High",
      "codec_tag_string": "avc1", "extradata_hash": "SHA256:abc",
      "width": 1920, "height": 1080, "pix_fmt": "yuv420p",
      "r_frame_rate": "30000/1001", "avg_frame_rate": "30000/1001",
      "time_base": "1/90000", "start_pts": 0, "duration_ts": 5400000, "nb_frames": "1798",
      "color_space": "bt709", "color_transfer": "bt709", "color_primaries": "bt709",
      "disposition": {"default": 1, "attached_pic": 0},
      "side_data_list": [{"side_data_type": "Display Matrix", "rotation": -90}],
      "tags": {"language": "und"}
    },
    {
      "index": 1, "codec_name": "aac", "codec_type": "audio", "profile": "LC",
      "sample_rate": "48000", "channels": 2, "channel_layout": "stereo",
      "time_base": "1/48000", "start_pts": 0, "duration_ts": 2880000, "bit_rate": "192000",
      "tags": {"language": "eng"}
    },
    {
      "index": 2, "codec_name": "mjpeg", "codec_type": "video", "time_base": "1/90000",
      "r_frame_rate": "90000/1", "avg_frame_rate": "0/0",
      "disposition": {"attached_pic": 1}
    },
    {"index": 3, "codec_type": "data", "time_base": "1/1000"}
  ],
  "format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "60.060000", "size": "104857600"}
}`

func TestParseProbeJSON(t *testing.T) {
	t.Parallel()

	m, err := ParseProbeJSON([]byte(probeFixture))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.DurationPTS != 60_060_000 || m.Timebase != types.MicroTimebase {
		t.Fatalf("unexpected duration %d @ %s", m.DurationPTS, m.Timebase)
	}
	if m.SizeBytes != 104857600 {
		t.Fatalf("unexpected size %d", m.SizeBytes)
	}
	if len(m.Streams) != 3 {
		t.Fatalf("expected data stream to be skipped, got %d streams", len(m.Streams))
	}

	v := m.Streams[0]
	if v.Timebase != (types.Timebase{Num: 1, Den: 90000}) || v.CodecTag != "avc1" || v.ExtradataHash != "SHA256:abc" {
		t.Fatalf("unexpected video stream %+v", v)
	}
	if v.Video.FrameRate == nil || *v.Video.FrameRate != (types.Rational{Num: 30000, Den: 1001}) {
		t.Fatalf("expected CFR 30000/1001, got %v", v.Video.FrameRate)
	}
	if v.Video.Rotation == nil || *v.Video.Rotation != -90 {
		t.Fatalf("expected rotation -90, got %v", v.Video.Rotation)
	}
	if v.Video.FrameCount != 1798 {
		t.Fatalf("unexpected frame count %d", v.Video.FrameCount)
	}

	a := m.Streams[1]
	if a.Audio == nil || a.Audio.SampleRate != 48000 || a.Audio.Channels != 2 {
		t.Fatalf("unexpected audio %+v", a.Audio)
	}
	if a.Language != "en" {
		t.Fatalf("expected language normalized to en, got %q", a.Language)
	}
	if a.BitRate == nil || *a.BitRate != 192000 {
		t.Fatalf("unexpected bit rate %v", a.BitRate)
	}

	cover := m.Streams[2]
	if !cover.Video.AttachedPic || cover.Video.FrameRate != nil {
		t.Fatalf("expected attached picture without frame rate, got %+v", cover.Video)
	}
}

func TestParseProbeJSON_BadTimebase(t *testing.T) {
	t.Parallel()

	_, err := ParseProbeJSON([]byte(`{"streams":[{"index":0,"codec_type":"video","time_base":"0/0"}],"format":{}}`))
	if err == nil {
		t.Fatalf("expected error for invalid time_base")
	}
}

func TestParseProbeJSON_StartTime(t *testing.T) {
	t.Parallel()

	m, err := ParseProbeJSON([]byte(`{"streams":[],"format":{"format_name":"mpegts","start_time":"1.400000","duration":"10.000000"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.StartPTS == nil || *m.StartPTS != 1_400_000 {
		t.Fatalf("expected start 1.4s in microseconds, got %v", m.StartPTS)
	}

	m, err = ParseProbeJSON([]byte(`{"streams":[],"format":{"format_name":"matroska,webm","start_time":"N/A"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.StartPTS != nil {
		t.Fatalf("unreported start must stay nil, got %d", *m.StartPTS)
	}
}

func TestParseKeyframesJSON(t *testing.T) {
	t.Parallel()

	data := `{"packets":[
		{"pts": 0, "flags": "K__"},
		{"pts": 6006, "flags": "___"},
		{"pts": 180180, "flags": "K__"},
		{"flags": "K__"},
		{"pts": 90090, "flags": "K_D"},
		{"pts": 180180, "flags": "K__"}
	]}`
	kfs, err := ParseKeyframesJSON([]byte(data), 0)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var got []int64
	for _, k := range kfs {
		if k.StreamIndex != 0 {
			t.Fatalf("unexpected stream index %d", k.StreamIndex)
		}
		got = append(got, k.PTS)
	}
	if !slices.Equal(got, []int64{0, 90090, 180180}) {
		t.Fatalf("unexpected keyframes %v", got)
	}
}

func hasPair(args []string, flag, value string) bool {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

func execRequest(action types.SegmentAction) ports.ExecRequest {
	return ports.ExecRequest{
		InputPath:  "/in/src.mp4",
		OutputPath: "/work/seg-00.mp4",
		Segment:    types.SegmentSpec{Index: 0, Action: action, Lo: 927000, Hi: 1080000},
		Timebase:   types.Timebase{Num: 1, Den: 90000},
		Video: types.StreamInfo{
			Index: 0, Kind: types.KindVideo, Codec: "h264",
			Video: &types.VideoInfo{PixelFormat: "yuv420p", ColorSpace: "bt709", FrameRate: &types.Rational{Num: 30, Den: 1}},
		},
		Selection: types.StreamSelection{Video: true, Audio: true},
		Container: "mp4",
		Carry:     types.MetadataPolicy{Rotation: true, Color: true, CodecParams: true},
		Codec:     ports.CodecParams{CRF: 18, Preset: "veryfast"},
	}
}

func TestSegmentArgs_Copy(t *testing.T) {
	t.Parallel()

	args := SegmentArgs(execRequest(types.ActionCopy))
	for _, p := range [][2]string{
		{"-ss", "10.300000"},
		{"-t", "1.700000"},
		{"-c", "copy"},
		{"-map", "0:0"},
		{"-map", "0:a?"},
		{"-video_track_timescale", "90000"},
	} {
		if !hasPair(args, p[0], p[1]) {
			t.Fatalf("expected %s %s in %v", p[0], p[1], args)
		}
	}
	if slices.Index(args, "-ss") > slices.Index(args, "-i") {
		t.Fatalf("-ss must be an input option: %v", args)
	}
	if slices.Contains(args, "-c:v") {
		t.Fatalf("copy segment must not pick an encoder: %v", args)
	}
}

func TestSegmentArgs_FullReencodeUsesConfiguredAudio(t *testing.T) {
	t.Parallel()

	req := execRequest(types.ActionReencode)
	req.Video.Profile = "High"
	req.Codec.AudioCodec = "libopus"
	req.Codec.AudioRate = "128k"
	args := SegmentArgs(req)
	for _, p := range [][2]string{
		{"-c:v", "libx264"},
		{"-profile:v", "high"},
		{"-crf", "18"},
		{"-preset", "veryfast"},
		{"-pix_fmt", "yuv420p"},
		{"-colorspace", "bt709"},
		{"-c:a", "libopus"},
		{"-b:a", "128k"},
	} {
		if !hasPair(args, p[0], p[1]) {
			t.Fatalf("expected %s %s in %v", p[0], p[1], args)
		}
	}
	if !slices.Contains(args, "-noautorotate") {
		t.Fatalf("expected rotation metadata to pass through: %v", args)
	}
}

func TestSegmentArgs_SpliceEdgeMatchesSource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		codec       string
		profile     string
		pixFmt      string
		configured  string
		wantEncoder string
		wantProfile string
	}{
		{"h264 ignores foreign encoder", "h264", "High", "yuv420p", "libx265", "libx264", "high"},
		{"h264 keeps same-family encoder", "h264", "Constrained Baseline", "yuv420p", "h264_nvenc", "h264_nvenc", ""},
		{"hevc main10", "hevc", "Main 10", "yuv420p10le", "", "libx265", "main10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := execRequest(types.ActionReencode)
			req.Splice = true
			req.Video.Codec = tt.codec
			req.Video.Profile = tt.profile
			req.Video.Video.PixelFormat = tt.pixFmt
			req.Codec.VideoCodec = tt.configured
			req.Codec.AudioCodec = "aac"
			req.Codec.AudioRate = "192k"

			args := SegmentArgs(req)
			if !hasPair(args, "-c:v", tt.wantEncoder) {
				t.Fatalf("expected encoder %s in %v", tt.wantEncoder, args)
			}
			if tt.wantProfile == "" {
				if slices.Contains(args, "-profile:v") {
					t.Fatalf("unexpected profile in %v", args)
				}
			} else if !hasPair(args, "-profile:v", tt.wantProfile) {
				t.Fatalf("expected profile %s in %v", tt.wantProfile, args)
			}
			if !hasPair(args, "-pix_fmt", tt.pixFmt) {
				t.Fatalf("expected pixel format %s in %v", tt.pixFmt, args)
			}
			if !hasPair(args, "-c:a", "copy") || slices.Contains(args, "-b:a") {
				t.Fatalf("splice edges must copy the source audio: %v", args)
			}
		})
	}
}

func TestSegmentReport_Codecs(t *testing.T) {
	t.Parallel()

	req := execRequest(types.ActionReencode)
	d := int64(153000)
	rep := segmentReport(req, types.MediaInfo{
		DurationPTS: 1_700_000,
		Timebase:    types.MicroTimebase,
		Streams: []types.StreamInfo{
			{Index: 0, Kind: types.KindVideo, Codec: "h264", Timebase: req.Timebase, StartPTS: 126000, DurationPTS: &d},
			{Index: 1, Kind: types.KindAudio, Codec: "ac3", Timebase: types.Timebase{Num: 1, Den: 48000}},
			{Index: 2, Kind: types.KindAudio, Codec: "aac", Timebase: types.Timebase{Num: 1, Den: 48000}},
		},
	})
	if rep.Codecs[types.KindVideo] != "h264" || rep.Codecs[types.KindAudio] != "ac3" {
		t.Fatalf("unexpected codecs %v", rep.Codecs)
	}
	if !slices.Equal(rep.Streams, []types.StreamKind{types.KindVideo, types.KindAudio}) {
		t.Fatalf("unexpected stream kinds %v", rep.Streams)
	}
	if rep.FirstPTS != 126000 || rep.DurationPTS != d || rep.LastPTS != 126000+d-3000 {
		t.Fatalf("unexpected timing first=%d last=%d dur=%d", rep.FirstPTS, rep.LastPTS, rep.DurationPTS)
	}
}

func TestConcatList(t *testing.T) {
	t.Parallel()

	got := ConcatList(ports.MergeRequest{
		Timebase: types.Timebase{Num: 1, Den: 90000},
		Inputs: []ports.MergeInput{
			{Path: "/w/seg-0.mp4", OffsetPTS: 0},
			{Path: "/w/it's.mp4", OffsetPTS: 153000},
			{Path: "/w/seg-2.mp4", OffsetPTS: 873000},
		},
	})
	want := "ffconcat version 1.0\n" +
		"file '/w/seg-0.mp4'\nduration 1.700000\n" +
		"file '/w/it'\\''s.mp4'\nduration 8.000000\n" +
		"file '/w/seg-2.mp4'\n"
	if got != want {
		t.Fatalf("unexpected list:\n%s\nwant:\n%s", got, want)
	}
}

func TestMatchSpliceIssue(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"[mp4 @ 0x1] Application provided invalid, non monotonically increasing dts to muxer": true,
		"[concat @ 0x2] DTS 1234 < 5678 out of order":                                       true,
		"Could not find tag for codec pcm_s16le in stream #1, codec not currently supported":  true,
		"/in/src.mp4: No such file or directory":                                              false,
		"Conversion failed!":                                                                  false,
	}
	for line, want := range cases {
		if got := MatchSpliceIssue(line); got != want {
			t.Fatalf("MatchSpliceIssue(%q) = %v, want %v", line, got, want)
		}
	}
}

func TestTail(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("x\n", 50) + "last\n"
	lines := strings.Split(tail(s, 3), "\n")
	if len(lines) != 3 || lines[2] != "last" {
		t.Fatalf("unexpected tail %q", lines)
	}
}
