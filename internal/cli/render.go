package cli

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/forPelevin/splicecut/internal/domain/mediaindex"
	"github.com/forPelevin/splicecut/internal/types"
	"github.com/forPelevin/splicecut/internal/usecase"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

func at(tb types.Timebase, pts int64) string { return types.FormatSeconds(tb.Seconds(pts)) }

func segmentRows(tb types.Timebase, segs []types.SegmentSpec) [][]string {
	rows := make([][]string, 0, len(segs))
	for _, s := range segs {
		rows = append(rows, []string{
			strconv.Itoa(s.Index),
			s.Action.String(),
			at(tb, s.Lo),
			at(tb, s.Hi),
			at(tb, s.Len()),
		})
	}
	return rows
}

var segmentHeaders = []string{"#", "Action", "From", "To", "Length"}
var segmentAligns = []columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight}

func renderClip(rep types.OutputReport, res types.VerificationResult) string {
	var b strings.Builder
	status := "written"
	if !rep.Success {
		status = "NOT committed (kept for inspection)"
	}
	fmt.Fprintf(&b, "%s: %s\n", status, rep.Path)
	fmt.Fprintf(&b, "mode %s, %d segment(s), %s long\n", rep.Mode, len(rep.Segments), at(rep.Timebase, rep.DurationOut))
	for _, w := range rep.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}

	rows := make([][]string, 0, len(rep.Segments))
	for _, s := range rep.Segments {
		rows = append(rows, []string{strconv.Itoa(s.Index), at(rep.Timebase, s.FirstPTS), at(rep.Timebase, s.DurationPTS)})
	}
	b.WriteString(renderTable([]string{"#", "Offset", "Length"}, rows, []columnAlignment{alignRight, alignRight, alignRight}))
	b.WriteString("\n")
	b.WriteString(renderChecks(res))
	return b.String()
}

func renderChecks(res types.VerificationResult) string {
	rows := make([][]string, 0, len(res.Checks))
	for _, c := range res.Checks {
		mark := "ok"
		if !c.Passed {
			mark = "FAIL"
		}
		rows = append(rows, []string{c.Name, c.Expected, c.Actual, mark})
	}
	verdict := "verification passed"
	if !res.Passed {
		verdict = "verification FAILED"
	}
	return renderTable([]string{"Check", "Expected", "Actual", ""}, rows, nil) + "\n" + verdict + "\n"
}

type planJSON struct {
	Recommended types.ClippingMode `json:"recommended"`
	Mode        types.ClippingMode `json:"mode"`
	FrameTime   string             `json:"frame_time"`
	Epsilon     string             `json:"epsilon"`
	StartDist   *string            `json:"start_keyframe_distance"`
	EndDist     *string            `json:"end_keyframe_distance"`
	CopySafe    bool               `json:"copy_safe"`
	CopyReason  string             `json:"copy_reason,omitempty"`
	Spliceable  bool               `json:"spliceable"`
	Plan        types.Plan         `json:"plan"`
}

func ratString(r *big.Rat) *string {
	if r == nil {
		return nil
	}
	s := r.FloatString(6)
	return &s
}

func newPlanJSON(p usecase.Preview) planJSON {
	a := p.Analysis
	return planJSON{
		Recommended: a.Recommended,
		Mode:        p.Plan.Mode,
		FrameTime:   a.FrameTime.FloatString(6),
		Epsilon:     a.Epsilon.FloatString(6),
		StartDist:   ratString(a.StartDist),
		EndDist:     ratString(a.EndDist),
		CopySafe:    a.CopySafe,
		CopyReason:  a.CopyReason,
		Spliceable:  a.Spliceable,
		Plan:        p.Plan,
	}
}

func renderPlan(p usecase.Preview) string {
	a := p.Analysis
	var b strings.Builder
	fmt.Fprintf(&b, "range %s .. %s, frame %ss, epsilon %ss\n",
		at(a.Timebase, a.Cut.Start), at(a.Timebase, a.Cut.End), a.FrameTime.FloatString(4), a.Epsilon.FloatString(4))
	fmt.Fprintf(&b, "start %s, end %s\n", alignment(a.StartDist, a.StartAligned()), alignment(a.EndDist, a.EndAligned()))
	if !a.CopySafe {
		fmt.Fprintf(&b, "stream copy unsafe: %s\n", a.CopyReason)
	}
	if p.Plan.Mode != a.Recommended {
		fmt.Fprintf(&b, "mode %s (forced; %s recommended)\n", p.Plan.Mode, a.Recommended)
	} else {
		fmt.Fprintf(&b, "mode %s\n", p.Plan.Mode)
	}
	b.WriteString(renderTable(segmentHeaders, segmentRows(p.Plan.Timebase, p.Plan.Segments), segmentAligns))
	b.WriteString("\n")
	return b.String()
}

func alignment(dist *big.Rat, aligned bool) string {
	switch {
	case dist == nil:
		return "before the first keyframe"
	case aligned:
		return "on a keyframe"
	}
	return dist.FloatString(3) + "s past a keyframe"
}

func renderInspect(m types.MediaInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s, %s, %s\n", m.Path, m.Container,
		types.FormatSeconds(m.Timebase.Seconds(m.DurationPTS)), humanize.IBytes(uint64(max(m.SizeBytes, 0))))

	rows := make([][]string, 0, len(m.Streams))
	for _, s := range m.Streams {
		rows = append(rows, []string{
			strconv.Itoa(s.Index),
			string(s.Kind),
			strings.TrimSpace(s.Codec + " " + s.Profile),
			streamDetail(s),
			s.Language,
			bitRate(s.BitRate),
		})
	}
	b.WriteString(renderTable(
		[]string{"#", "Kind", "Codec", "Detail", "Lang", "Bitrate"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	))
	b.WriteString("\n")

	if idx, err := mediaindex.New(m); err == nil {
		if v, ok := idx.Primary(); ok {
			kfs := idx.Keyframes()
			fmt.Fprintf(&b, "keyframes on stream %d: %d", v.Index, len(kfs))
			if len(kfs) > 1 {
				gop := v.Timebase.Seconds((kfs[len(kfs)-1] - kfs[0]) / int64(len(kfs)-1))
				fmt.Fprintf(&b, ", average interval %ss", gop.FloatString(3))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func streamDetail(s types.StreamInfo) string {
	switch {
	case s.Video != nil:
		d := fmt.Sprintf("%dx%d %s", s.Video.Width, s.Video.Height, s.Video.PixelFormat)
		if s.Video.FrameRate != nil {
			fps, _ := s.Video.FrameRate.Rat().Float64()
			d += fmt.Sprintf(" %.4gfps", fps)
		} else if !s.Video.AttachedPic {
			d += " vfr"
		}
		if s.Video.Rotation != nil && *s.Video.Rotation != 0 {
			d += fmt.Sprintf(" rot %d", *s.Video.Rotation)
		}
		if s.Video.AttachedPic {
			d += " (cover)"
		}
		return d
	case s.Audio != nil:
		d := fmt.Sprintf("%s Hz %dch", humanize.Comma(int64(s.Audio.SampleRate)), s.Audio.Channels)
		if s.Audio.ChannelLayout != "" {
			d += " " + s.Audio.ChannelLayout
		}
		return d
	}
	return ""
}

func bitRate(br *int64) string {
	if br == nil || *br <= 0 {
		return ""
	}
	return humanize.SIWithDigits(float64(*br), 0, "b/s")
}
