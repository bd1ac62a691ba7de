package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/forPelevin/splicecut/internal/config"
	"github.com/forPelevin/splicecut/internal/domain/errs"
	"github.com/forPelevin/splicecut/internal/domain/planner"
	"github.com/forPelevin/splicecut/internal/domain/verify"
	"github.com/forPelevin/splicecut/internal/logging"
	"github.com/forPelevin/splicecut/internal/ports"
	"github.com/forPelevin/splicecut/internal/ports/adapters/ffmpeg"
	"github.com/forPelevin/splicecut/internal/ports/adapters/fsstage"
	"github.com/forPelevin/splicecut/internal/ports/adapters/probecache"
	"github.com/forPelevin/splicecut/internal/types"
	"github.com/forPelevin/splicecut/internal/usecase"
)

// App is the wired application: adapters, domain services and the
// orchestrator built from one configuration.
type App struct {
	UC    usecase.Usecase
	cache *probecache.Cache
	log   *slog.Logger
}

// Open wires the adapters. The probe cache is best-effort: when it cannot be
// opened the run continues with direct probing.
func Open(cfg config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = logging.NewNop()
	}
	for _, bin := range []string{cfg.Tools.FFmpeg, cfg.Tools.FFprobe} {
		if _, err := exec.LookPath(bin); err != nil {
			return nil, errs.Wrap(errs.ProbeFail, errs.PhaseProbe, err, "locate %s", bin).
				WithHint("install ffmpeg or set SPLICECUT_FFMPEG / SPLICECUT_FFPROBE")
		}
	}

	// adapters
	ff := ffmpeg.New(cfg.Tools.FFmpeg, cfg.Tools.FFprobe, log)
	var probe ports.Prober = ff
	app := &App{log: log}
	if cfg.Cache.Enabled && cfg.Cache.Path != "" {
		if c, err := probecache.Open(cfg.Cache.Path, ff, log); err != nil {
			log.Warn("probe cache disabled", slog.String("path", cfg.Cache.Path), logging.Error(err))
		} else {
			if age := cfg.CacheMaxAge(); age > 0 {
				if n, err := c.Prune(context.Background(), age); err != nil {
					log.Warn("probe cache prune failed", logging.Error(err))
				} else if n > 0 {
					log.Debug("probe cache pruned", slog.Int64("entries", n))
				}
			}
			app.cache = c
			probe = c
		}
	}

	app.UC = usecase.New(usecase.Deps{
		Probe:   probe,
		Exec:    ff,
		Mux:     ff,
		Fs:      fsstage.New(),
		Planner: planner.New(planner.Params{EpsilonFactor: cfg.Planning.EpsilonFactor}),
		// Outputs are always re-probed for real.
		Verifier:    verify.New(ff, verify.Params{ToleranceFactor: cfg.Planning.ToleranceFactor}),
		Log:         log,
		MaxParallel: cfg.Execution.MaxParallel,
		KeepFailed:  cfg.Execution.KeepFailed,
	})
	return app, nil
}

func (a *App) Close() error {
	if a.cache == nil {
		return nil
	}
	return a.cache.Close()
}

// Request is a clip, plan or verify invocation as the user typed it.
type Request struct {
	Input  string
	Output string
	Start  string
	End    string // empty means the end of the media
	Mode   string // auto, copy, hybrid or reencode

	NoAudio   bool
	NoSubs    bool
	Container string // empty or "same" keeps the source container
	Codec     string
	CRF       int    // zero uses the configured value
	Preset    string // empty uses the configured value

	// ToleranceMS overrides the verification tolerance. Zero derives it
	// from the frame time.
	ToleranceMS int
}

func (r Request) Validate() error {
	if r.Input == "" {
		return errs.New(errs.BadArgs, errs.PhaseArgs, "input is empty")
	}
	if _, err := os.Stat(r.Input); err != nil {
		return errs.Wrap(errs.BadArgs, errs.PhaseArgs, err, "stat input").With("path", r.Input)
	}
	if r.CRF < 0 || r.CRF > 63 {
		return errs.New(errs.BadArgs, errs.PhaseArgs, "crf must be between 0 and 63").With("crf", r.CRF)
	}
	if r.ToleranceMS < 0 {
		return errs.New(errs.BadArgs, errs.PhaseArgs, "tolerance must not be negative").With("tolerance_ms", r.ToleranceMS)
	}
	return nil
}

// Build converts the request into orchestrator input, filling encoder
// settings from the configuration.
func (r Request) Build(cfg config.Config) (usecase.Input, error) {
	in := usecase.Input{InputPath: r.Input, OutputPath: r.Output}

	start, end, err := r.times()
	if err != nil {
		return usecase.Input{}, err
	}
	in.Start, in.End = start, end

	if m := strings.ToLower(strings.TrimSpace(r.Mode)); m != "" && m != "auto" {
		mode, err := types.ParseClippingMode(m)
		if err != nil {
			return usecase.Input{}, errs.Wrap(errs.BadArgs, errs.PhaseArgs, err, "mode").
				WithHint("use auto, copy, hybrid or reencode")
		}
		in.Options.Force = &mode
	}
	in.Options.NoAudio = r.NoAudio
	in.Options.NoSubs = r.NoSubs
	if c := strings.TrimSpace(r.Container); c != "" && c != "same" {
		in.Options.Container = c
	} else if r.Output != "" {
		// An explicit output name picks the container it implies.
		in.Options.Container = planner.ContainerFromPath(r.Output, "")
	}
	in.Codec = ports.CodecParams{
		VideoCodec: firstNonEmpty(r.Codec, cfg.Encode.VideoCodec),
		CRF:        cfg.Encode.CRF,
		Preset:     firstNonEmpty(r.Preset, cfg.Encode.Preset),
		AudioCodec: cfg.Encode.AudioCodec,
		AudioRate:  cfg.Encode.AudioBitrate,
	}
	if r.CRF > 0 {
		in.Codec.CRF = r.CRF
	}
	// The planner must see the encoder that will actually run, or it would
	// splice foreign edges around a copied middle.
	in.Options.VideoCodec = in.Codec.VideoCodec
	if r.ToleranceMS > 0 {
		in.Tolerance = big.NewRat(int64(r.ToleranceMS), 1000)
	}
	if in.OutputPath == "" {
		in.OutputPath = DefaultOutputPath(r.Input, start, end, in.Options.Container)
	}
	return in, nil
}

func (r Request) times() (*big.Rat, *big.Rat, error) {
	if strings.TrimSpace(r.Start) == "" {
		return nil, nil, errs.New(errs.BadArgs, errs.PhaseArgs, "start time is required")
	}
	start, err := types.ParseTimeSpec(r.Start)
	if err != nil {
		return nil, nil, errs.Wrap(errs.BadArgs, errs.PhaseArgs, err, "start").With("start", r.Start)
	}
	if strings.TrimSpace(r.End) == "" {
		return start, nil, nil
	}
	end, err := types.ParseTimeSpec(r.End)
	if err != nil {
		return nil, nil, errs.Wrap(errs.BadArgs, errs.PhaseArgs, err, "end").With("end", r.End)
	}
	return start, end, nil
}

// Clip runs the whole pipeline for one request.
func Clip(ctx context.Context, app *App, cfg config.Config, req Request) (types.OutputReport, types.VerificationResult, error) {
	if err := req.Validate(); err != nil {
		return types.OutputReport{}, types.VerificationResult{}, err
	}
	in, err := req.Build(cfg)
	if err != nil {
		return types.OutputReport{}, types.VerificationResult{}, err
	}
	if filepath.Clean(in.OutputPath) == filepath.Clean(in.InputPath) {
		return types.OutputReport{}, types.VerificationResult{}, errs.New(errs.BadArgs, errs.PhaseArgs, "output would overwrite the input").
			With("path", in.OutputPath)
	}
	app.log.Info("clip requested",
		slog.String("input", in.InputPath),
		slog.String("output", in.OutputPath),
		slog.String("start", req.Start),
		slog.String("end", req.End))
	return app.UC.PlanAndExecute(ctx, in)
}

// Plan computes what Clip would do without running anything.
func Plan(ctx context.Context, app *App, cfg config.Config, req Request) (usecase.Preview, error) {
	if err := req.Validate(); err != nil {
		return usecase.Preview{}, err
	}
	in, err := req.Build(cfg)
	if err != nil {
		return usecase.Preview{}, err
	}
	return app.UC.Plan(ctx, in)
}

// Verify checks an existing output. req.Input names the clip; source is the
// optional file it was cut from.
func Verify(ctx context.Context, app *App, req Request, source string) (types.VerificationResult, error) {
	if err := req.Validate(); err != nil {
		return types.VerificationResult{}, err
	}
	start, end, err := req.times()
	if err != nil {
		return types.VerificationResult{}, err
	}
	in := usecase.VerifyInput{
		OutputPath: req.Input,
		SourcePath: source,
		Start:      start,
		End:        end,
		Options:    planner.Options{NoAudio: req.NoAudio, NoSubs: req.NoSubs},
	}
	if m := strings.ToLower(strings.TrimSpace(req.Mode)); m != "" && m != "auto" {
		mode, err := types.ParseClippingMode(m)
		if err != nil {
			return types.VerificationResult{}, errs.Wrap(errs.BadArgs, errs.PhaseArgs, err, "mode")
		}
		in.Mode = mode
	} else {
		// Without a known mode codec parameters are not compared.
		in.Mode = types.ModeReencode
	}
	if req.ToleranceMS > 0 {
		in.Tolerance = big.NewRat(int64(req.ToleranceMS), 1000)
	}
	return app.UC.Verify(ctx, in)
}

// DefaultOutputPath names a clip after its input and range, next to the
// input: "My Video.mp4" 15s..1m30s becomes "my-video_clip_0-15_to_1-30.mp4".
func DefaultOutputPath(input string, start, end *big.Rat, container string) string {
	ext := strings.TrimPrefix(filepath.Ext(input), ".")
	if container != "" {
		ext = container
	}
	if ext == "" {
		ext = "mp4"
	}
	name := normalizePathSegment(strings.TrimSuffix(filepath.Base(input), filepath.Ext(input)))
	if name == "" {
		name = "input"
	}
	endStr := "end"
	if end != nil {
		endStr = stamp(end)
	}
	return filepath.Join(filepath.Dir(input), fmt.Sprintf("%s_clip_%s_to_%s.%s", name, stamp(start), endStr, ext))
}

// stamp renders whole seconds as M-SS or H-MM-SS.
func stamp(sec *big.Rat) string {
	total := new(big.Int).Quo(sec.Num(), sec.Denom()).Int64()
	h, m, s := total/3600, total%3600/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d-%02d-%02d", h, m, s)
	}
	return fmt.Sprintf("%d-%02d", m, s)
}

func normalizePathSegment(s string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
