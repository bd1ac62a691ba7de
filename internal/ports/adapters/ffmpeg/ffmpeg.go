// Package ffmpeg implements the media ports on top of the ffmpeg and ffprobe
// binaries. Command lines are assembled with ffmpeg-go and run through
// exec.CommandContext so cancellation kills the child process.
package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"

	"github.com/forPelevin/splicecut/internal/logging"
	"github.com/forPelevin/splicecut/internal/ports"
)

type Adapter struct {
	ffmpeg  string
	ffprobe string
	log     *slog.Logger
}

func New(ffmpegPath, ffprobePath string, log *slog.Logger) *Adapter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Adapter{ffmpeg: ffmpegPath, ffprobe: ffprobePath, log: logging.NewComponentLogger(log, "ffmpeg")}
}

var (
	_ ports.Prober   = (*Adapter)(nil)
	_ ports.Executor = (*Adapter)(nil)
	_ ports.Muxer    = (*Adapter)(nil)
)

// reSpliceIssue matches stderr lines that mean two pieces cannot be joined
// where we asked: timestamp discontinuities and mismatching stream layouts.
var reSpliceIssue = regexp.MustCompile(
	`(?i)Non-monotonous DTS|non monotonically increasing dts|` +
		`DTS .*out of order|PTS .*out of order|` +
		`Timestamps are unset|` +
		`codec parameters .*(differ|mismatch)|` +
		`Could not find tag for codec|` +
		`Discontinuity detected`)

// MatchSpliceIssue reports whether ffmpeg stderr describes a splice problem.
func MatchSpliceIssue(stderr string) bool {
	return reSpliceIssue.MatchString(stderr)
}

// runFFmpeg runs ffmpeg with args and classifies a failure.
func (a *Adapter) runFFmpeg(ctx context.Context, what string, args []string) error {
	a.log.Debug("exec ffmpeg", slog.String("job", what), slog.String("args", strings.Join(args, " ")))
	cmd := exec.CommandContext(ctx, a.ffmpeg, args...)
	b, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("ffmpeg %s: %w", what, ctx.Err())
	}
	out := tail(string(b), 40)
	if MatchSpliceIssue(out) {
		return fmt.Errorf("ffmpeg %s: %w: %v\n%s", what, ports.ErrSpliceIncompatible, err, out)
	}
	return fmt.Errorf("ffmpeg %s: %w\n%s", what, err, out)
}

// tail keeps the last n lines of ffmpeg's chatty output.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// muxerName maps a plan container to ffmpeg's -f value.
func muxerName(container string) string {
	switch container {
	case "mkv":
		return "matroska"
	case "ts":
		return "mpegts"
	}
	return container
}
