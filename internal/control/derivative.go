package control

import (
	"time"

	"github.com/heatwise/thermostat-server/internal/model"
)

// Extrapolate projects the indoor temperature ahead of the sensor using the
// trend against the most recent reading taken between 30 and 60 minutes ago.
// A zero coefficient or a missing reference reading returns the temperature
// unchanged.
func Extrapolate(currentTemp float64, now time.Time, readings []model.Reading, coefMinutes float64) float64 {
	if coefMinutes == 0 {
		return currentTemp
	}

	lo := now.Add(-60 * time.Minute)
	hi := now.Add(-30 * time.Minute)
	var ref *model.Reading
	for i := range readings {
		r := &readings[i]
		if r.At.Before(lo) || r.At.After(hi) {
			continue
		}
		if ref == nil || r.At.After(ref.At) {
			ref = r
		}
	}
	if ref == nil {
		return currentTemp
	}

	minutes := now.Sub(ref.At).Minutes()
	if minutes <= 0 {
		return currentTemp
	}
	derivative := (currentTemp - ref.Temperature) / minutes
	return currentTemp + derivative*coefMinutes
}
