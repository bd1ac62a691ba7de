package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/forPelevin/splicecut/internal/domain/errs"
	"github.com/forPelevin/splicecut/internal/domain/verify"
	"github.com/forPelevin/splicecut/internal/types"
)

func TestVerify_WithSource(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10_000_000)
	res, err := h.uc.Verify(context.Background(), VerifyInput{
		OutputPath: "clip.mp4",
		SourcePath: "in.mp4",
		Start:      sec("10"),
		End:        sec("20"),
		Mode:       types.ModeCopy,
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Passed {
		t.Fatalf("expected pass, got %+v", res.Failed())
	}
	var names []string
	for _, c := range res.Checks {
		names = append(names, c.Name)
	}
	if len(names) != 4 || names[3] != verify.CheckCodecParams {
		t.Fatalf("expected codec params checked against source, got %v", names)
	}
}

func TestVerify_WithoutSourceNeedsRange(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10_000_000)
	_, err := h.uc.Verify(context.Background(), VerifyInput{OutputPath: "clip.mp4", Start: sec("0")})
	if !errors.Is(err, &errs.Error{Kind: errs.BadArgs}) {
		t.Fatalf("expected BadArgs, got %v", err)
	}
	_, err = h.uc.Verify(context.Background(), VerifyInput{OutputPath: "clip.mp4", Start: sec("5"), End: sec("5")})
	if !errors.Is(err, &errs.Error{Kind: errs.OutOfRange}) {
		t.Fatalf("expected OutOfRange, got %v", err)
	}
}

func TestVerify_WithoutSourceReportsDurationMiss(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 10_600_000)
	res, err := h.uc.Verify(context.Background(), VerifyInput{
		OutputPath: "clip.mp4",
		Start:      sec("0"),
		End:        sec("10"),
		Tolerance:  sec("0.5"),
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	failed := res.Failed()
	if res.Passed || len(failed) != 1 || failed[0].Name != verify.CheckDuration {
		t.Fatalf("expected only the duration check to fail, got %+v", res.Checks)
	}
}
