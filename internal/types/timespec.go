package types

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

var ErrTimeFormat = errors.New("invalid time format (use seconds like 123.45, MM:SS.ms or HH:MM:SS.ms)")

// ParseTimeSpec parses a user-facing position into exact seconds.
// Accepted forms: "123.45", "2:30.5", "1:02:30.5".
func ParseTimeSpec(s string) (*big.Rat, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrTimeFormat
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return nil, ErrTimeFormat
	}

	sec, ok := new(big.Rat).SetString(parts[len(parts)-1])
	if !ok || strings.ContainsAny(parts[len(parts)-1], "/eE") {
		return nil, ErrTimeFormat
	}
	if sec.Sign() < 0 {
		return nil, fmt.Errorf("time cannot be negative: %q", s)
	}
	if len(parts) == 1 {
		return sec, nil
	}
	if sec.Cmp(big.NewRat(60, 1)) >= 0 {
		return nil, fmt.Errorf("seconds must be less than 60: %q", s)
	}

	minutes, err := strconv.ParseUint(parts[len(parts)-2], 10, 32)
	if err != nil {
		return nil, ErrTimeFormat
	}
	var hours uint64
	if len(parts) == 3 {
		if minutes >= 60 {
			return nil, fmt.Errorf("minutes must be less than 60: %q", s)
		}
		hours, err = strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			return nil, ErrTimeFormat
		}
	}

	total := new(big.Rat).SetInt64(int64(hours*3600 + minutes*60))
	return total.Add(total, sec), nil
}

// FormatSeconds renders seconds as H:MM:SS.mmm, or M:SS.mmm under an hour.
func FormatSeconds(sec *big.Rat) string {
	ms := MicroTimebase.PTS(sec) / 1000
	neg := ms < 0
	if neg {
		ms = -ms
	}
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	frac := ms % 1000

	var out string
	if h > 0 {
		out = fmt.Sprintf("%d:%02d:%02d.%03d", h, m, s, frac)
	} else {
		out = fmt.Sprintf("%d:%02d.%03d", m, s, frac)
	}
	if neg {
		return "-" + out
	}
	return out
}
