package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heatwise/thermostat-server/internal/model"
)

func ptr(f float64) *float64 { return &f }

// exactFitReadings builds 12 readings 1500s apart where every regression
// pair sits exactly on the line speed = 2.0 + 0.1*ext. The first reading
// only seeds the timestamp anchor, so 10 samples come out of it.
func exactFitReadings() []model.Reading {
	start := time.Date(2015, 1, 7, 6, 0, 0, 0, time.UTC)
	readings := make([]model.Reading, 0, 12)
	temp := 18.0
	for i := 0; i < 12; i++ {
		r := model.Reading{
			At:          start.Add(time.Duration(i) * 1500 * time.Second),
			Temperature: temp,
			BoilerOn:    true,
		}
		if i >= 2 {
			ext := float64(i - 7)
			r.ExternalTemp = &ext
			// Next temperature so that 3600*delta/1500 == 2.0 + 0.1*ext.
			r.Temperature = temp + (2.0+0.1*ext)/2.4
			temp = r.Temperature
		}
		readings = append(readings, r)
	}
	return readings
}

func TestHeatingSpeedStatsExactFit(t *testing.T) {
	hs := HeatingSpeedStats(exactFitReadings())
	require.NotNil(t, hs)

	assert.Equal(t, 10, hs.Samples)
	assert.InDelta(t, 0.1, hs.Slope, 1e-9)
	assert.InDelta(t, 2.0, hs.Intercept, 1e-9)
	assert.InDelta(t, 1.0, hs.RValue, 1e-9)
	assert.InDelta(t, 0.0, hs.PValue, 1e-6)
	assert.InDelta(t, 0.0, hs.StdErr, 1e-6)
	assert.InDelta(t, 1.3, hs.ValueAtMinus7, 1e-9)
	assert.InDelta(t, 2.0, hs.ValueAt0, 1e-9)
	assert.InDelta(t, 2.7, hs.ValueAt7, 1e-9)
	assert.InDelta(t, 3.5, hs.ValueAt15, 1e-9)
	// Mean external temp over the samples is -0.5.
	assert.InDelta(t, 1.95, hs.OverallSpeed, 1e-9)
}

func TestHeatingSpeedStatsInsufficientData(t *testing.T) {
	t.Run("too few samples", func(t *testing.T) {
		readings := exactFitReadings()
		assert.Nil(t, HeatingSpeedStats(readings[:11]))
	})

	t.Run("boiler never on", func(t *testing.T) {
		readings := exactFitReadings()
		for i := range readings {
			readings[i].BoilerOn = false
		}
		assert.Nil(t, HeatingSpeedStats(readings))
	})

	t.Run("not enough heating time", func(t *testing.T) {
		// Same shape squeezed into 300s intervals: 10 samples but only
		// 3000s of boiler time.
		readings := exactFitReadings()
		start := readings[0].At
		for i := range readings {
			readings[i].At = start.Add(time.Duration(i) * 300 * time.Second)
		}
		assert.Nil(t, HeatingSpeedStats(readings))
	})

	t.Run("empty", func(t *testing.T) {
		assert.Nil(t, HeatingSpeedStats(nil))
	})
}

func TestHeatingSpeedStatsMergesCloseReadings(t *testing.T) {
	base := exactFitReadings()
	want := HeatingSpeedStats(base)
	require.NotNil(t, want)

	// Inject a junk reading 100s after each real one. They all fall inside
	// the merge interval and must not disturb the fit.
	noisy := make([]model.Reading, 0, 2*len(base))
	for _, r := range base {
		noisy = append(noisy, r, model.Reading{
			At:          r.At.Add(100 * time.Second),
			Temperature: -40,
			BoilerOn:    false,
		})
	}
	// Drop the one trailing the last reading so the window ends the same.
	noisy = noisy[:len(noisy)-1]

	got := HeatingSpeedStats(noisy)
	require.NotNil(t, got)
	assert.Equal(t, want, got)
}

func TestHeatingSpeedStatsDisconnectFeedsOverallOnly(t *testing.T) {
	readings := exactFitReadings()
	last := readings[len(readings)-1]

	// A pair spanning 3000s counts toward the overall average but is kept
	// out of the regression.
	readings = append(readings, model.Reading{
		At:           last.At.Add(3000 * time.Second),
		Temperature:  last.Temperature + 5,
		ExternalTemp: ptr(0),
		BoilerOn:     true,
	})

	hs := HeatingSpeedStats(readings)
	require.NotNil(t, hs)
	assert.Equal(t, 10, hs.Samples)
	assert.InDelta(t, 0.1, hs.Slope, 1e-9)
	assert.InDelta(t, 2.0, hs.Intercept, 1e-9)
	// totalElevation 8.125+5 over 15000+3000 seconds.
	assert.InDelta(t, 3600*13.125/18000, hs.OverallSpeed, 1e-9)
}

func TestHeatingSpeedStatsRejectsSensorErrorValues(t *testing.T) {
	readings := exactFitReadings()
	// A -99 style error value must not become the regression abscissa. With
	// no valid external temp at all, no sample is collected.
	for i := range readings {
		if readings[i].ExternalTemp != nil {
			readings[i].ExternalTemp = ptr(-99)
		}
	}
	assert.Nil(t, HeatingSpeedStats(readings))
}

func TestDutyCycleStats(t *testing.T) {
	start := time.Date(2015, 1, 7, 6, 0, 0, 0, time.UTC)
	readings := []model.Reading{
		{At: start, Temperature: 19, BoilerOn: false},
		{At: start.Add(600 * time.Second), Temperature: 19.2, BoilerOn: true},
		{At: start.Add(1200 * time.Second), Temperature: 19.4, BoilerOn: false},
		// Exactly at the disconnect threshold: dropped.
		{At: start.Add(3000 * time.Second), Temperature: 19.1, BoilerOn: true},
	}

	dc := DutyCycleStats(readings)
	assert.Equal(t, 600.0, dc.OnSeconds)
	assert.Equal(t, 600.0, dc.OffSeconds)
	assert.Equal(t, 1200.0, dc.TotalSeconds)
}

func TestDutyCycleStatsEmpty(t *testing.T) {
	dc := DutyCycleStats(nil)
	assert.Zero(t, dc.TotalSeconds)
}

func TestComfortStats(t *testing.T) {
	start := time.Date(2015, 1, 7, 6, 0, 0, 0, time.UTC)
	readings := []model.Reading{
		{At: start, Temperature: 19, RequestedTemp: ptr(20)},
		// 19.5 is exactly at the margin below 20: still comfortable.
		{At: start.Add(600 * time.Second), Temperature: 19.5, RequestedTemp: ptr(20)},
		{At: start.Add(1200 * time.Second), Temperature: 19.49, RequestedTemp: ptr(20)},
		// No requested temperature: skipped.
		{At: start.Add(1800 * time.Second), Temperature: 21},
		{At: start.Add(2400 * time.Second), Temperature: 21, RequestedTemp: ptr(20)},
	}

	c := ComfortStats(readings)
	assert.Equal(t, 1200.0, c.ComfortSeconds)
	assert.Equal(t, 600.0, c.DiscomfortSeconds)
	assert.Equal(t, 1800.0, c.TotalSeconds)
	require.NotNil(t, c.Percent)
	assert.InDelta(t, 100*1200.0/1800.0, *c.Percent, 1e-9)
}

func TestComfortStatsPercentNilWithoutData(t *testing.T) {
	start := time.Date(2015, 1, 7, 6, 0, 0, 0, time.UTC)
	readings := []model.Reading{
		{At: start, Temperature: 19},
		{At: start.Add(600 * time.Second), Temperature: 19},
	}

	c := ComfortStats(readings)
	assert.Zero(t, c.TotalSeconds)
	assert.Nil(t, c.Percent)
}

func TestStatsAreRepeatable(t *testing.T) {
	readings := exactFitReadings()
	first := HeatingSpeedStats(readings)
	second := HeatingSpeedStats(readings)
	assert.Equal(t, first, second)
	assert.Equal(t, DutyCycleStats(readings), DutyCycleStats(readings))
}
