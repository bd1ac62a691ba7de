package usecase

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/forPelevin/splicecut/internal/domain/errs"
	"github.com/forPelevin/splicecut/internal/domain/planner"
	"github.com/forPelevin/splicecut/internal/domain/verify"
	"github.com/forPelevin/splicecut/internal/logging"
	"github.com/forPelevin/splicecut/internal/types"
)

// VerifyInput describes a standalone check of an existing clip.
type VerifyInput struct {
	OutputPath string
	// SourcePath is optional. With it the frame time, stream selection and
	// codec parameters come from the source, as they would after a clip.
	SourcePath string
	Start      *big.Rat
	End        *big.Rat
	Mode       types.ClippingMode
	Options    planner.Options
	Tolerance  *big.Rat // seconds
}

// Verify re-checks an output produced earlier against the range it was
// supposed to cover. Without a source only video presence is required.
func (u Usecase) Verify(ctx context.Context, in VerifyInput) (types.VerificationResult, error) {
	req := verify.Request{
		OutputPath: in.OutputPath,
		Mode:       in.Mode,
		Selection:  types.StreamSelection{Video: true},
		Tolerance:  in.Tolerance,
	}

	if in.SourcePath != "" {
		media, cut, err := u.resolve(ctx, Input{InputPath: in.SourcePath, Start: in.Start, End: in.End})
		if err != nil {
			return types.VerificationResult{}, err
		}
		a, err := u.d.Planner.Analyze(media, cut, in.Options)
		if err != nil {
			return types.VerificationResult{}, err
		}
		req.Source = &media
		req.Requested = a.Cut
		req.Timebase = a.Timebase
		req.Selection = a.Selection
	} else {
		if in.Start == nil || in.End == nil {
			return types.VerificationResult{}, errs.New(errs.BadArgs, errs.PhaseArgs, "start and end are required without a source file")
		}
		if in.End.Cmp(in.Start) <= 0 {
			return types.VerificationResult{}, errs.New(errs.OutOfRange, errs.PhaseArgs, "end %s is not after start %s",
				types.FormatSeconds(in.End), types.FormatSeconds(in.Start))
		}
		req.Timebase = types.MicroTimebase
		req.Requested = types.CutRange{Start: req.Timebase.PTS(in.Start), End: req.Timebase.PTS(in.End)}
	}

	res, err := u.d.Verifier.Verify(ctx, req)
	if err != nil {
		return types.VerificationResult{}, err
	}
	u.d.Log.Info("verification finished",
		slog.String(logging.FieldEventType, "verify"),
		slog.String("path", in.OutputPath),
		slog.Bool("passed", res.Passed),
		slog.Int("failed_checks", len(res.Failed())))
	return res, nil
}
