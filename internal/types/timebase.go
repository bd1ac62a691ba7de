package types

import (
	"fmt"
	"math/big"
)

// Timebase is the rational unit (Num/Den seconds) a stream's timestamps are counted in.
type Timebase struct {
	Num int64 `json:"num"`
	Den int64 `json:"den"`
}

// MicroTimebase matches ffmpeg's AV_TIME_BASE and is used for container durations.
var MicroTimebase = Timebase{Num: 1, Den: 1_000_000}

func (tb Timebase) Valid() bool { return tb.Num > 0 && tb.Den > 0 }

func (tb Timebase) String() string { return fmt.Sprintf("%d/%d", tb.Num, tb.Den) }

// Rat returns the timebase as an exact rational.
func (tb Timebase) Rat() *big.Rat { return big.NewRat(tb.Num, tb.Den) }

// Seconds converts pts ticks to exact seconds.
func (tb Timebase) Seconds(pts int64) *big.Rat {
	r := new(big.Rat).SetInt64(pts)
	return r.Mul(r, tb.Rat())
}

// PTS converts exact seconds to ticks, rounding half to even.
func (tb Timebase) PTS(sec *big.Rat) int64 {
	n := new(big.Int).Mul(sec.Num(), big.NewInt(tb.Den))
	d := new(big.Int).Mul(sec.Denom(), big.NewInt(tb.Num))
	return roundHalfEven(n, d)
}

// SecondsFloat is for display and logging only.
func (tb Timebase) SecondsFloat(pts int64) float64 {
	f, _ := tb.Seconds(pts).Float64()
	return f
}

// RescalePTS converts pts from one timebase to another:
// pts * from.Num * to.Den / (from.Den * to.Num), rounded half to even.
func RescalePTS(pts int64, from, to Timebase) int64 {
	if from == to {
		return pts
	}
	n := big.NewInt(pts)
	n.Mul(n, big.NewInt(from.Num))
	n.Mul(n, big.NewInt(to.Den))
	d := big.NewInt(from.Den)
	d.Mul(d, big.NewInt(to.Num))
	return roundHalfEven(n, d)
}

// roundHalfEven divides n by d (d > 0) and rounds ties to the even quotient.
func roundHalfEven(n, d *big.Int) int64 {
	if d.Sign() < 0 {
		n = new(big.Int).Neg(n)
		d = new(big.Int).Neg(d)
	}
	q, r := new(big.Int).QuoRem(n, d, new(big.Int))
	if r.Sign() == 0 {
		return q.Int64()
	}
	twice := new(big.Int).Abs(r)
	twice.Lsh(twice, 1)
	step := big.NewInt(int64(n.Sign()))
	switch twice.Cmp(d) {
	case 1:
		q.Add(q, step)
	case 0:
		if q.Bit(0) == 1 {
			q.Add(q, step)
		}
	}
	return q.Int64()
}

// Rational is an exact ratio such as a frame rate (30000/1001).
type Rational struct {
	Num int64 `json:"num"`
	Den int64 `json:"den"`
}

func (r Rational) Valid() bool { return r.Num > 0 && r.Den > 0 }

func (r Rational) Rat() *big.Rat { return big.NewRat(r.Num, r.Den) }

func (r Rational) String() string { return fmt.Sprintf("%d/%d", r.Num, r.Den) }
