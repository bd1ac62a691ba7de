package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ffmpeggo "github.com/u2takey/ffmpeg-go"

	"github.com/forPelevin/splicecut/internal/ports"
)

// Merge joins the segments with the concat demuxer. Each entry carries an
// explicit duration so that segment i starts exactly at its offset.
func (a *Adapter) Merge(ctx context.Context, req ports.MergeRequest) error {
	if len(req.Inputs) == 0 {
		return fmt.Errorf("merge: no inputs")
	}
	list := req.Output + ".ffconcat"
	if err := os.WriteFile(list, []byte(ConcatList(req)), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	defer os.Remove(list)

	args := ffmpeggo.Input(list, ffmpeggo.KwArgs{"f": "concat", "safe": "0"}).
		Output(req.Output, ffmpeggo.KwArgs{
			"map": "0",
			"c":   "copy",
			"f":   muxerName(req.Container),
		}).
		OverWriteOutput().
		GetArgs()
	return a.runFFmpeg(ctx, "merge", args)
}

// ConcatList renders an ffconcat script for req.
func ConcatList(req ports.MergeRequest) string {
	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")
	for i, in := range req.Inputs {
		fmt.Fprintf(&b, "file '%s'\n", escapeConcatPath(in.Path))
		if i+1 < len(req.Inputs) {
			d := req.Inputs[i+1].OffsetPTS - in.OffsetPTS
			fmt.Fprintf(&b, "duration %s\n", secs(req.Timebase.Seconds(d)))
		}
	}
	return b.String()
}

func escapeConcatPath(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}

// FastStart rewrites an MP4/MOV so the moov atom precedes the media data.
func (a *Adapter) FastStart(ctx context.Context, path string) error {
	ext := filepath.Ext(path)
	tmp := strings.TrimSuffix(path, ext) + ".faststart" + ext
	args := ffmpeggo.Input(path).
		Output(tmp, ffmpeggo.KwArgs{"map": "0", "c": "copy", "movflags": "+faststart"}).
		OverWriteOutput().
		GetArgs()
	if err := a.runFFmpeg(ctx, "fast-start", args); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s after fast-start: %w", path, err)
	}
	return nil
}
