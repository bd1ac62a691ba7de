package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/forPelevin/splicecut/internal/domain/errs"
	"github.com/forPelevin/splicecut/internal/pipeline"
	"github.com/forPelevin/splicecut/internal/types"
)

func bindRequestFlags(cmd *cobra.Command, req *pipeline.Request) {
	f := cmd.Flags()
	f.StringVarP(&req.Start, "start", "s", "", "Start time (seconds, MM:SS.ms or HH:MM:SS.ms)")
	f.StringVarP(&req.End, "end", "e", "", "End time; empty runs to the end of the media")
	f.StringVarP(&req.Output, "out", "o", "", "Output file (default: <input>_clip_<start>_to_<end>.<ext>)")
	f.StringVarP(&req.Mode, "mode", "m", "auto", "Clipping mode: auto, copy, hybrid or reencode")
	f.BoolVar(&req.NoAudio, "no-audio", false, "Drop audio streams")
	f.BoolVar(&req.NoSubs, "no-subs", false, "Drop subtitle streams")
	f.StringVar(&req.Container, "container", "same", "Output container (same, mp4, mov, mkv, webm, ts)")
	f.StringVar(&req.Codec, "codec", "", "Video encoder for re-encoded segments (default: source family)")
	f.IntVar(&req.CRF, "crf", 0, "Constant rate factor for re-encoded segments (default from config)")
	f.StringVar(&req.Preset, "preset", "", "Encoder preset (default from config)")
	f.IntVar(&req.ToleranceMS, "tolerance", 0, "Duration tolerance in milliseconds (default: half a frame)")
}

func absInput(req *pipeline.Request, arg string) error {
	abs, err := filepath.Abs(arg)
	if err != nil {
		return errs.Wrap(errs.BadArgs, errs.PhaseArgs, err, "resolve input path")
	}
	req.Input = abs
	if req.Output != "" {
		if req.Output, err = filepath.Abs(req.Output); err != nil {
			return errs.Wrap(errs.BadArgs, errs.PhaseArgs, err, "resolve output path")
		}
	}
	return nil
}

func newClipCommand(env *cmdEnv) *cobra.Command {
	var req pipeline.Request
	cmd := &cobra.Command{
		Use:   "clip <input>",
		Short: "Cut a range into a new file and verify it",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := absInput(&req, args[0]); err != nil {
				return err
			}
			ctx, cancel := env.runContext(cmd)
			defer cancel()

			report, res, err := pipeline.Clip(ctx, env.app, *env.cfg, req)
			if err != nil && errs.KindOf(err) != errs.VerifyFail {
				return err
			}
			if env.json {
				if werr := writeJSON(cmd, clipJSON{Report: report, Verification: res}); werr != nil {
					return werr
				}
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderClip(report, res))
			return err
		},
	}
	bindRequestFlags(cmd, &req)
	return cmd
}

type clipJSON struct {
	Report       types.OutputReport       `json:"report"`
	Verification types.VerificationResult `json:"verification"`
}

func newPlanCommand(env *cmdEnv) *cobra.Command {
	var req pipeline.Request
	cmd := &cobra.Command{
		Use:   "plan <input>",
		Short: "Show the clipping plan without writing anything",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := absInput(&req, args[0]); err != nil {
				return err
			}
			ctx, cancel := env.runContext(cmd)
			defer cancel()

			p, err := pipeline.Plan(ctx, env.app, *env.cfg, req)
			if err != nil {
				return err
			}
			if env.json {
				return writeJSON(cmd, newPlanJSON(p))
			}
			fmt.Fprint(cmd.OutOrStdout(), renderPlan(p))
			return nil
		},
	}
	bindRequestFlags(cmd, &req)
	return cmd
}

func newInspectCommand(env *cmdEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <input>",
		Short: "Show container, stream and keyframe information",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return errs.Wrap(errs.BadArgs, errs.PhaseArgs, err, "resolve input path")
			}
			ctx, cancel := env.runContext(cmd)
			defer cancel()

			m, err := env.app.UC.Inspect(ctx, path)
			if err != nil {
				return err
			}
			if env.json {
				return writeJSON(cmd, m)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderInspect(m))
			return nil
		},
	}
}

func newVerifyCommand(env *cmdEnv) *cobra.Command {
	var req pipeline.Request
	var source string
	cmd := &cobra.Command{
		Use:   "verify <output>",
		Short: "Check an existing clip against the range it should cover",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := absInput(&req, args[0]); err != nil {
				return err
			}
			if source != "" {
				abs, err := filepath.Abs(source)
				if err != nil {
					return errs.Wrap(errs.BadArgs, errs.PhaseArgs, err, "resolve source path")
				}
				source = abs
			}
			ctx, cancel := env.runContext(cmd)
			defer cancel()

			res, err := pipeline.Verify(ctx, env.app, req, source)
			if err != nil {
				return err
			}
			if env.json {
				if err := writeJSON(cmd, res); err != nil {
					return err
				}
			} else {
				fmt.Fprint(cmd.OutOrStdout(), renderChecks(res))
			}
			if !res.Passed {
				return errs.New(errs.VerifyFail, errs.PhaseVerify, "%d of %d checks failed", len(res.Failed()), len(res.Checks)).
					With("path", req.Input)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&req.Start, "start", "s", "", "Expected start time")
	f.StringVarP(&req.End, "end", "e", "", "Expected end time (required without --source)")
	f.StringVar(&source, "source", "", "File the clip was cut from")
	f.StringVarP(&req.Mode, "mode", "m", "auto", "Mode the clip was cut with; copy also compares codec parameters")
	f.BoolVar(&req.NoAudio, "no-audio", false, "Audio was dropped")
	f.BoolVar(&req.NoSubs, "no-subs", false, "Subtitles were dropped")
	f.IntVar(&req.ToleranceMS, "tolerance", 0, "Duration tolerance in milliseconds")
	return cmd
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
