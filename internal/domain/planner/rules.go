package planner

import (
	"path/filepath"
	"strings"

	"github.com/forPelevin/splicecut/internal/types"
)

// containerCodecs lists the codecs each output container takes verbatim.
// A nil kind map means the container accepts anything (Matroska).
var containerCodecs = map[string]map[types.StreamKind]map[string]bool{
	"mp4": {
		types.KindVideo:    set("h264", "hevc", "av1", "mpeg4", "vp9"),
		types.KindAudio:    set("aac", "mp3", "ac3", "eac3", "alac", "opus", "flac"),
		types.KindSubtitle: set("mov_text"),
	},
	"mov": {
		types.KindVideo:    set("h264", "hevc", "mpeg4", "prores", "mjpeg"),
		types.KindAudio:    set("aac", "mp3", "ac3", "eac3", "alac", "pcm_s16le", "pcm_s24le"),
		types.KindSubtitle: set("mov_text"),
	},
	"mkv": nil,
	"webm": {
		types.KindVideo:    set("vp8", "vp9", "av1"),
		types.KindAudio:    set("opus", "vorbis"),
		types.KindSubtitle: set("webvtt"),
	},
	"ts": {
		types.KindVideo:    set("h264", "hevc", "mpeg2video"),
		types.KindAudio:    set("aac", "mp3", "mp2", "ac3", "eac3"),
		types.KindSubtitle: set("dvb_subtitle", "dvb_teletext"),
	},
}

// spliceCodecs can be concatenated at a GOP boundary without frame
// references crossing the splice point.
var spliceCodecs = set("h264", "hevc", "mpeg2video", "vp9", "av1")

var encoderFamily = map[string]string{
	"libx264":    "h264",
	"h264_nvenc": "h264",
	"h264_vaapi": "h264",
	"libx265":    "hevc",
	"hevc_nvenc": "hevc",
	"hevc_vaapi": "hevc",
	"libvpx-vp9": "vp9",
	"libaom-av1": "av1",
	"libsvtav1":  "av1",
	"mpeg2video": "mpeg2video",
}

var fastStartContainers = set("mp4", "mov")

func set(vals ...string) map[string]bool {
	m := make(map[string]bool, len(vals))
	for _, v := range vals {
		m[v] = true
	}
	return m
}

// CodecFamily maps an encoder name (libx264) to the bitstream it produces (h264).
func CodecFamily(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if f, ok := encoderFamily[name]; ok {
		return f
	}
	return name
}

// NormalizeContainer maps ffprobe format names and file extensions to the
// short container names used in plans.
func NormalizeContainer(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimPrefix(name, ".")
	if i := strings.Index(name, ","); i >= 0 {
		// "mov,mp4,m4a,3gp,3g2,mj2" and "matroska,webm" are ambiguous; the
		// first entry names the demuxer family.
		name = name[:i]
	}
	switch name {
	case "mp4", "m4v", "m4a", "3gp":
		return "mp4"
	case "mov", "qt":
		return "mov"
	case "matroska", "mkv", "mka":
		return "mkv"
	case "webm":
		return "webm"
	case "mpegts", "ts", "mts", "m2ts":
		return "ts"
	}
	return name
}

// ContainerFromPath prefers the file extension, which disambiguates the
// mov/mp4 and matroska/webm demuxer families.
func ContainerFromPath(path, formatName string) string {
	if ext := NormalizeContainer(filepath.Ext(path)); ext != "" {
		if _, ok := containerCodecs[ext]; ok {
			return ext
		}
	}
	return NormalizeContainer(formatName)
}

func containerAccepts(container string, kind types.StreamKind, codec string) bool {
	kinds, ok := containerCodecs[container]
	if !ok {
		return false
	}
	if kinds == nil {
		return true
	}
	return kinds[kind][codec]
}

func Spliceable(codec string) bool { return spliceCodecs[CodecFamily(codec)] }

func NeedsFastStart(container string) bool { return fastStartContainers[container] }
