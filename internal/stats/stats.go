// Package stats derives heating performance figures from the reading
// history: how fast the dwelling heats as a function of outdoor temperature,
// how much of the time the boiler runs, and how often the requested comfort
// level was actually met.
package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/heatwise/thermostat-server/internal/model"
)

const (
	// minSamples is the minimum number of regression points.
	minSamples = 10
	// minHeatingSeconds is the minimum accumulated boiler-on time.
	minHeatingSeconds = 4 * 3600
	// minInterval filters pairs too close together to carry signal.
	minInterval = 240
	// maxInterval marks a connectivity gap between two readings.
	maxInterval = 1800
	// comfortMargin is how far below the requested temperature still counts
	// as comfortable.
	comfortMargin = 0.5
	// minValidExternal rejects sensor error values like -99.
	minValidExternal = -50
)

// HeatingSpeed is a least-squares fit of the indoor heating rate (°C/hour,
// boiler on) against the outdoor temperature.
type HeatingSpeed struct {
	Slope         float64 `json:"slope"`
	Intercept     float64 `json:"intercept"`
	RValue        float64 `json:"r_value"`
	PValue        float64 `json:"p_value"`
	StdErr        float64 `json:"std_err"`
	ValueAtMinus7 float64 `json:"value_at_minus_7_degrees"`
	ValueAt0      float64 `json:"value_at_0_degrees"`
	ValueAt7      float64 `json:"value_at_7_degrees"`
	ValueAt15     float64 `json:"value_at_15_degrees"`
	OverallSpeed  float64 `json:"overall_speed"`
	Samples       int     `json:"samples"`
}

// DutyCycle totals boiler on and off seconds over the window.
type DutyCycle struct {
	OnSeconds    float64 `json:"boiler_on_seconds"`
	OffSeconds   float64 `json:"boiler_off_seconds"`
	TotalSeconds float64 `json:"total_seconds"`
}

// Comfort totals seconds spent at or below comfort versus under it. Percent
// is nil when no interval had a known requested temperature.
type Comfort struct {
	ComfortSeconds    float64  `json:"comfort_seconds"`
	DiscomfortSeconds float64  `json:"discomfort_seconds"`
	TotalSeconds      float64  `json:"total_seconds"`
	Percent           *float64 `json:"percent,omitempty"`
}

// HeatingSpeedStats fits the heating rate over readings ordered by time.
// Pairs closer than minInterval are merged into the next one, only pairs
// whose older reading had the boiler on contribute, and pairs spanning a
// disconnect feed the overall average but not the regression. Returns nil
// when fewer than minSamples points or under minHeatingSeconds of boiler-on
// time were collected.
func HeatingSpeedStats(readings []model.Reading) *HeatingSpeed {
	var (
		xs, ys         []float64
		totalElevation float64
		totalSeconds   float64

		haveExt bool
		lastExt float64

		anchorTS     int64
		haveTS       bool
		anchorTemp   float64
		anchorBoiler bool
		haveAnchor   bool
	)

	for i := range readings {
		r := &readings[i]
		if r.ExternalTemp != nil && *r.ExternalTemp > minValidExternal {
			lastExt = *r.ExternalTemp
			haveExt = true
		}

		ts := r.At.Unix()
		if !haveTS {
			anchorTS = ts
			haveTS = true
			continue
		}
		if ts <= anchorTS+minInterval {
			continue
		}

		if haveAnchor && anchorBoiler {
			gap := float64(ts - anchorTS)
			delta := r.Temperature - anchorTemp
			totalElevation += delta
			totalSeconds += gap
			if haveExt && ts < anchorTS+maxInterval {
				xs = append(xs, lastExt)
				ys = append(ys, 3600*delta/gap)
			}
		}
		anchorTemp = r.Temperature
		anchorTS = ts
		anchorBoiler = r.BoilerOn
		haveAnchor = true
	}

	if len(ys) < minSamples || totalSeconds < minHeatingSeconds {
		return nil
	}

	intercept, slope := stat.LinearRegression(xs, ys, nil, false)
	r := stat.Correlation(xs, ys, nil)
	n := len(xs)

	pValue := 0.0
	if rr := r * r; rr < 1 {
		t := r * math.Sqrt(float64(n-2)/(1-rr))
		dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 2)}
		pValue = 2 * dist.CDF(-math.Abs(t))
	}

	var ssResid, ssX float64
	meanX := stat.Mean(xs, nil)
	for i := range xs {
		resid := ys[i] - (intercept + slope*xs[i])
		ssResid += resid * resid
		dx := xs[i] - meanX
		ssX += dx * dx
	}
	stdErr := 0.0
	if ssX > 0 {
		stdErr = math.Sqrt(ssResid / float64(n-2) / ssX)
	}

	return &HeatingSpeed{
		Slope:         slope,
		Intercept:     intercept,
		RValue:        r,
		PValue:        pValue,
		StdErr:        stdErr,
		ValueAtMinus7: -7*slope + intercept,
		ValueAt0:      intercept,
		ValueAt7:      7*slope + intercept,
		ValueAt15:     15*slope + intercept,
		OverallSpeed:  3600 * totalElevation / totalSeconds,
		Samples:       n,
	}
}

// DutyCycleStats totals boiler on/off seconds across consecutive readings,
// dropping any pair that spans a disconnect.
func DutyCycleStats(readings []model.Reading) DutyCycle {
	var dc DutyCycle
	var prevTS int64
	havePrev := false
	for i := range readings {
		ts := readings[i].At.Unix()
		if havePrev {
			interval := float64(ts - prevTS)
			if interval < maxInterval {
				if readings[i].BoilerOn {
					dc.OnSeconds += interval
				} else {
					dc.OffSeconds += interval
				}
			}
		}
		prevTS = ts
		havePrev = true
	}
	dc.TotalSeconds = dc.OnSeconds + dc.OffSeconds
	return dc
}

// ComfortStats totals seconds where the indoor temperature held within
// comfortMargin of what the user asked for. Pairs spanning a disconnect or
// without a known requested temperature are skipped.
func ComfortStats(readings []model.Reading) Comfort {
	var c Comfort
	var prevTS int64
	havePrev := false
	for i := range readings {
		r := &readings[i]
		ts := r.At.Unix()
		if havePrev {
			interval := float64(ts - prevTS)
			if interval < maxInterval && r.RequestedTemp != nil {
				if r.Temperature < *r.RequestedTemp-comfortMargin {
					c.DiscomfortSeconds += interval
				} else {
					c.ComfortSeconds += interval
				}
			}
		}
		prevTS = ts
		havePrev = true
	}
	c.TotalSeconds = c.ComfortSeconds + c.DiscomfortSeconds
	if c.TotalSeconds > 0 {
		pct := 100 * c.ComfortSeconds / c.TotalSeconds
		c.Percent = &pct
	}
	return c
}
