package control

import (
	"math"
	"time"

	"github.com/heatwise/thermostat-server/internal/model"
)

// ComputeTarget turns a continuous heating demand into the temperature to
// command a binary on/off device, by planning fixed-length cycles split into
// an on phase and an off phase. The commanded temperature sits 3*Coef above
// or below the indoor temperature so the device's own hysteresis is always
// decisively crossed.
//
// Inside a running cycle the call is a read-only query against the persisted
// phase boundaries. Only an expired cycle plans a new one; the returned bool
// reports that params.OffPhaseStart/CycleEnd changed and must be persisted.
func ComputeTarget(now time.Time, indoorTemp, targetTemp float64, params *model.ControlParameters) (float64, bool) {
	offTemp := indoorTemp - 3*params.Coef
	onTemp := indoorTemp + 3*params.Coef

	if now.Before(params.CycleEnd) {
		if now.Before(params.OffPhaseStart) {
			return onTemp, false
		}
		return offTemp, false
	}

	fraction := 0.0
	if params.HalfWidth > 0 {
		fraction = ((targetTemp-indoorTemp)/params.HalfWidth + 1) / 2
	} else if targetTemp >= indoorTemp {
		fraction = 1
	}
	fraction = math.Min(math.Max(fraction, 0), 1)

	minutesOn := fraction * params.CycleDuration
	minutesOff := (1 - fraction) * params.CycleDuration

	if minutesOn < params.MinOnTime {
		// Not worth firing the boiler at all. Hold off for the minimum off
		// time before reconsidering.
		params.OffPhaseStart = now
		params.CycleEnd = now.Add(minutesToDuration(params.MinOffTime))
		return offTemp, true
	}
	if minutesOff < params.MinOffTime {
		// Off phase would be too short to honor. Run the full cycle on.
		params.CycleEnd = now.Add(minutesToDuration(params.CycleDuration))
		params.OffPhaseStart = params.CycleEnd
		return onTemp, true
	}

	params.OffPhaseStart = now.Add(minutesToDuration(minutesOn))
	params.CycleEnd = now.Add(minutesToDuration(params.CycleDuration))
	return onTemp, true
}

func minutesToDuration(minutes float64) time.Duration {
	return time.Duration(minutes * float64(time.Minute))
}
