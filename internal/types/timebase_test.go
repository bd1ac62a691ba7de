package types

import (
	"math/big"
	"testing"
)

func TestRescalePTS_Identity(t *testing.T) {
	t.Parallel()

	tbs := []Timebase{{1, 90000}, {1, 1000}, {1001, 30000}, {1, 48000}, MicroTimebase}
	for _, tb := range tbs {
		for _, pts := range []int64{0, 1, -1, 12345, 1 << 40} {
			if got := RescalePTS(pts, tb, tb); got != pts {
				t.Fatalf("RescalePTS(%d, %s, %s) = %d", pts, tb, tb, got)
			}
		}
	}
}

func TestRescalePTS_HalfEven(t *testing.T) {
	t.Parallel()

	from := Timebase{Num: 1, Den: 4}
	to := Timebase{Num: 1, Den: 2}
	tests := []struct {
		pts  int64
		want int64
	}{
		{1, 0},   // 0.5 -> 0
		{3, 2},   // 1.5 -> 2
		{5, 2},   // 2.5 -> 2
		{7, 4},   // 3.5 -> 4
		{-1, 0},  // -0.5 -> 0
		{-3, -2}, // -1.5 -> -2
		{-5, -2}, // -2.5 -> -2
	}
	for _, tt := range tests {
		if got := RescalePTS(tt.pts, from, to); got != tt.want {
			t.Fatalf("RescalePTS(%d) = %d, want %d", tt.pts, got, tt.want)
		}
	}

	// 1 tick of 1/3 in 1/1 is 0.333 -> 0; 2 ticks -> 0.667 -> 1
	if got := RescalePTS(2, Timebase{1, 3}, Timebase{1, 1}); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
}

func TestRescalePTS_RoundTrip(t *testing.T) {
	t.Parallel()

	a := Timebase{Num: 1, Den: 90000}
	b := Timebase{Num: 1001, Den: 30000}
	for _, pts := range []int64{0, 1, 2999, 3003, 90000, 123456789} {
		mid := RescalePTS(pts, a, b)
		back := RescalePTS(mid, b, a)
		// One tick of b is 3003 ticks of a, so the error is at most half of that.
		diff := back - pts
		if diff < 0 {
			diff = -diff
		}
		if diff > 1502 {
			t.Fatalf("round trip of %d drifted by %d", pts, diff)
		}
	}
}

func TestTimebaseSecondsAndPTS(t *testing.T) {
	t.Parallel()

	tb := Timebase{Num: 1, Den: 90000}
	if got := tb.Seconds(900000); got.Cmp(big.NewRat(10, 1)) != 0 {
		t.Fatalf("expected 10s, got %s", got.RatString())
	}
	sec, _ := new(big.Rat).SetString("10.3")
	if got := tb.PTS(sec); got != 927000 {
		t.Fatalf("expected 927000, got %d", got)
	}
}

func TestParseTimeSpec(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "123.45", want: "2469/20"},
		{in: "10", want: "10"},
		{in: "2:30.5", want: "301/2"},
		{in: "1:02:30.5", want: "7501/2"},
		{in: "00:00:05", want: "5"},
		{in: "-1", wantErr: true},
		{in: "1:60", wantErr: true},
		{in: "1:61:00", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "1/3", wantErr: true},
		{in: "", wantErr: true},
		{in: "1:2:3:4", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeSpec(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %s", tt.in, got.RatString())
				}
				return
			}
			if err != nil {
				t.Fatalf("parse %q: %v", tt.in, err)
			}
			if got.RatString() != tt.want {
				t.Fatalf("ParseTimeSpec(%q) = %s, want %s", tt.in, got.RatString(), tt.want)
			}
		})
	}
}

func TestFormatSeconds(t *testing.T) {
	t.Parallel()

	tests := map[string]*big.Rat{
		"0:10.300":    big.NewRat(103, 10),
		"1:02:30.500": big.NewRat(7501, 2),
		"2:00.000":    big.NewRat(120, 1),
	}
	for want, in := range tests {
		if got := FormatSeconds(in); got != want {
			t.Fatalf("FormatSeconds(%s) = %q, want %q", in.RatString(), got, want)
		}
	}
}
