package features

import (
	"math"
	"time"

	domrepo "SignalPipe/internal/domain/repository"
)

// PctReturn is the fractional return over the last n bars,
// closes[-1]/closes[-1-n] - 1. When fewer bars exist it uses the whole
// series; fewer than two closes yields (0, false).
func PctReturn(closes []float64, n int) (float64, bool) {
	if len(closes) < 2 {
		return 0, false
	}
	start := len(closes) - 1 - n
	if n <= 0 || start < 0 {
		start = 0
	}
	base := closes[start]
	if base <= 0 {
		return 0, false
	}
	return closes[len(closes)-1]/base - 1, true
}

// BarReturns computes per-bar simple returns c_t / c_{t-1} - 1.
func BarReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev := closes[i-1]
		if prev <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, closes[i]/prev-1)
	}
	return out
}

// SlopePct is the percent change across the last n values.
func SlopePct(values []float64, n int) float64 {
	if n < 2 || len(values) < n {
		return 0
	}
	first := values[len(values)-n]
	if first == 0 {
		return 0
	}
	return (values[len(values)-1] - first) / first * 100
}

// Mean is the arithmetic mean; empty input is 0.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// PopStd is the population standard deviation.
func PopStd(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := Mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

// Pearson is the correlation coefficient of two equally long series. A
// constant series has no defined correlation and reports false.
func Pearson(a, b []float64) (float64, bool) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0, false
	}
	a, b = a[len(a)-n:], b[len(b)-n:]
	ma, mb := Mean(a), Mean(b)
	var cov, va, vb float64
	for i := 0; i < n; i++ {
		da, db := a[i]-ma, b[i]-mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return 0, false
	}
	return cov / math.Sqrt(va*vb), true
}

// Tail returns the last n values, or all of them when shorter.
func Tail[T any](values []T, n int) []T {
	if n <= 0 || len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// AlignFromTo rounds a time range to candle boundaries of the timeframe.
func AlignFromTo(from, to time.Time, tf domrepo.Timeframe) (time.Time, time.Time) {
	d := tf.Duration()
	if d == 0 {
		d = time.Minute
	}
	return from.Truncate(d), to.Truncate(d)
}
