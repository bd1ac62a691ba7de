package ports

import (
	"context"
	"errors"

	"github.com/forPelevin/splicecut/internal/types"
)

// ErrSpliceIncompatible is returned by an Executor or Muxer when a segment
// cannot be joined with its neighbours at the planned boundary.
var ErrSpliceIncompatible = errors.New("splice incompatible")

type Prober interface {
	Probe(ctx context.Context, path string) (types.MediaInfo, error)
}

// CodecParams drives re-encoded segments. Copy segments ignore it.
type CodecParams struct {
	VideoCodec string // encoder name, e.g. libx264
	CRF        int
	Preset     string
	AudioCodec string
	AudioRate  string // e.g. 192k
}

type ExecRequest struct {
	InputPath  string
	OutputPath string
	Segment    types.SegmentSpec
	Timebase   types.Timebase
	Video      types.StreamInfo // primary video stream of the source
	Selection  types.StreamSelection
	Container  string
	Carry      types.MetadataPolicy
	Codec      CodecParams

	// Splice marks segments that are joined with stream-copied neighbours.
	// Re-encoded ones must then reproduce the source bitstream: same video
	// codec family and profile, source audio copied.
	Splice bool
}

type Executor interface {
	// Execute writes one segment to OutputPath and reports what it wrote.
	Execute(ctx context.Context, req ExecRequest) (types.SegmentReport, error)
}

type MergeInput struct {
	Path      string
	OffsetPTS int64 // in MergeRequest.Timebase
}

type MergeRequest struct {
	Inputs    []MergeInput
	Timebase  types.Timebase
	Output    string
	Container string
}

type Muxer interface {
	Merge(ctx context.Context, req MergeRequest) error
	// FastStart relocates the index of an MP4/MOV file to its head in place.
	FastStart(ctx context.Context, path string) error
}

// Stager owns scratch space next to the final output so that commit is a
// same-filesystem rename.
type Stager interface {
	// PrepareTemp creates a private scratch directory for one run.
	PrepareTemp(finalPath string) (string, error)
	// Commit atomically moves the verified output to finalPath.
	Commit(ctx context.Context, tempPath, finalPath string) error
	Discard(paths ...string) error
}
