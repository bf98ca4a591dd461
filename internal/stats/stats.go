// Package stats derives wallet-level activity statistics from settled results.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/ledgerlens/internal/schema"
)

// DayPnL is one day's aggregated realized P&L.
type DayPnL struct {
	Day    time.Time
	Amount decimal.Decimal
}

// DailySeries buckets realized contributions into UTC days, sorted ascending.
func DailySeries(points []schema.RealizedPoint) []DayPnL {
	buckets := make(map[time.Time]decimal.Decimal)
	for _, p := range points {
		day := p.Time.UTC().Truncate(24 * time.Hour)
		buckets[day] = buckets[day].Add(p.Amount)
	}
	series := make([]DayPnL, 0, len(buckets))
	for day, amount := range buckets {
		series = append(series, DayPnL{Day: day, Amount: amount})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Day.Before(series[j].Day) })
	return series
}

// Compute derives activity statistics from settled positions and the realized
// contribution series. Every ratio is nil when undefined: win rate with no
// resolved positions, Omega with no losing days, Sharpe/Sortino with fewer
// than two data points or zero variance. A sentinel number is never
// substituted for an undefined ratio.
func Compute(results []schema.PositionResult, points []schema.RealizedPoint) schema.ActivityStats {
	stats := schema.ActivityStats{}

	for _, r := range results {
		if r.Status != schema.PositionResolved {
			continue
		}
		stats.PositionsResolved++
		if r.Realized.IsPositive() {
			stats.PositionsWon++
		}
	}
	if stats.PositionsResolved > 0 {
		rate := float64(stats.PositionsWon) / float64(stats.PositionsResolved)
		stats.WinRate = &rate
	}

	daily := DailySeries(points)
	stats.Omega = omega(daily)
	stats.Sharpe = sharpe(daily)
	stats.Sortino = sortino(daily)
	return stats
}

// omega is sum(positive daily P&L) / |sum(negative daily P&L)|.
func omega(daily []DayPnL) *float64 {
	gains := decimal.Zero
	losses := decimal.Zero
	for _, d := range daily {
		if d.Amount.IsPositive() {
			gains = gains.Add(d.Amount)
		} else {
			losses = losses.Add(d.Amount)
		}
	}
	if losses.IsZero() {
		return nil
	}
	ratio, _ := gains.Div(losses.Abs()).Float64()
	return &ratio
}

func sharpe(daily []DayPnL) *float64 {
	values := floatSeries(daily)
	if len(values) < 2 {
		return nil
	}
	mean, stddev := meanStddev(values)
	if stddev == 0 {
		return nil
	}
	ratio := mean / stddev
	return &ratio
}

// sortino penalizes only downside deviation from zero.
func sortino(daily []DayPnL) *float64 {
	values := floatSeries(daily)
	if len(values) < 2 {
		return nil
	}
	mean := 0.0
	downsideSq := 0.0
	for _, v := range values {
		mean += v
		if v < 0 {
			downsideSq += v * v
		}
	}
	mean /= float64(len(values))
	downside := math.Sqrt(downsideSq / float64(len(values)))
	if downside == 0 {
		return nil
	}
	ratio := mean / downside
	return &ratio
}

func floatSeries(daily []DayPnL) []float64 {
	values := make([]float64, 0, len(daily))
	for _, d := range daily {
		v, _ := d.Amount.Float64()
		values = append(values, v)
	}
	return values
}

func meanStddev(values []float64) (mean, stddev float64) {
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values) - 1)
	return mean, math.Sqrt(variance)
}
