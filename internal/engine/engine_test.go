package engine

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heatwise/thermostat-server/db"
	"github.com/heatwise/thermostat-server/internal/model"
	"github.com/heatwise/thermostat-server/internal/weather"
)

func setupEngine(t *testing.T) (*Engine, *sql.DB, *model.Thermostat) {
	t.Helper()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	thermostat, err := db.CreateThermostat(database, "Living room", "UTC", 48.85, 2.35)
	require.NoError(t, err)
	return New(database, nil), database, thermostat
}

func deviceReport(thermostat *model.Thermostat, temperature float64, at time.Time) Report {
	return Report{
		UID:         thermostat.UID,
		APIKey:      thermostat.APIKey,
		Temperature: temperature,
		At:          at,
	}
}

func TestHandleReportUnauthorized(t *testing.T) {
	e, _, thermostat := setupEngine(t)

	report := deviceReport(thermostat, 19, time.Now())
	report.APIKey = "wrong"
	_, err := e.HandleReport(report)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestHandleReportFollowsSchedule(t *testing.T) {
	e, database, thermostat := setupEngine(t)

	// No weekly program: the comfort fallback rules the whole horizon.
	at := time.Date(2015, 1, 7, 10, 0, 0, 0, time.UTC)
	report := deviceReport(thermostat, 19, at)
	report.TargetTemp = 20.5
	cmd, err := e.HandleReport(report)
	require.NoError(t, err)
	assert.Equal(t, 21.0, cmd.TargetTemp)
	assert.Equal(t, 0.3, cmd.Coef)

	// The stored reading keeps the setpoint the device was applying, not
	// the newly computed command.
	readings, err := db.GetReadings(database, thermostat.ID, at, at)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, 19.0, readings[0].Temperature)
	require.NotNil(t, readings[0].RequestedTemp)
	assert.Equal(t, 21.0, *readings[0].RequestedTemp)
	assert.Equal(t, 20.5, readings[0].TargetTemp)
	assert.Nil(t, readings[0].ExternalTemp)
}

func TestHandleReportProportionalMode(t *testing.T) {
	e, database, thermostat := setupEngine(t)

	params, err := db.GetControlParameters(database, thermostat.ID)
	require.NoError(t, err)
	params.ProportionalMode = true
	require.NoError(t, db.UpdateControlParameters(database, thermostat.ID, *params))

	// Demand well past the band: full-on cycle, command sits 3*coef above
	// the indoor temperature.
	at := time.Date(2015, 1, 7, 10, 0, 0, 0, time.UTC)
	cmd, err := e.HandleReport(deviceReport(thermostat, 19.5, at))
	require.NoError(t, err)
	assert.InDelta(t, 20.4, cmd.TargetTemp, 1e-9)

	stored, err := db.GetControlParameters(database, thermostat.ID)
	require.NoError(t, err)
	assert.True(t, stored.CycleEnd.Equal(at.Add(20*time.Minute)))
	assert.True(t, stored.OffPhaseStart.Equal(stored.CycleEnd))

	// A report inside the running cycle leaves the boundaries alone.
	cmd, err = e.HandleReport(deviceReport(thermostat, 19.8, at.Add(5*time.Minute)))
	require.NoError(t, err)
	assert.InDelta(t, 20.7, cmd.TargetTemp, 1e-9)

	stored, err = db.GetControlParameters(database, thermostat.ID)
	require.NoError(t, err)
	assert.True(t, stored.CycleEnd.Equal(at.Add(20*time.Minute)))
}

func TestHandleReportDerivativeCompensation(t *testing.T) {
	e, database, thermostat := setupEngine(t)

	params, err := db.GetControlParameters(database, thermostat.ID)
	require.NoError(t, err)
	params.DerivativeCoef = 60
	require.NoError(t, db.UpdateControlParameters(database, thermostat.ID, *params))

	at := time.Date(2015, 1, 7, 10, 0, 0, 0, time.UTC)
	prior := model.Reading{At: at.Add(-45 * time.Minute), Temperature: 21.0, TargetTemp: 21}
	require.NoError(t, db.RecordReport(database, thermostat.ID, prior, nil, false))

	// Falling 0.75°C over 45 minutes extrapolates one degree low an hour
	// out, which pushes the command one degree high.
	cmd, err := e.HandleReport(deviceReport(thermostat, 20.25, at))
	require.NoError(t, err)
	assert.InDelta(t, 22.0, cmd.TargetTemp, 1e-9)
}

func TestHandleReportWeatherLookup(t *testing.T) {
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	defer database.Close()

	thermostat, err := db.CreateThermostat(database, "Living room", "UTC", 48.85, 2.35)
	require.NoError(t, err)
	e := New(database, weather.New("test-key"))

	calls := 0
	origFetch := fetchExternal
	fetchExternal = func(c *weather.Client, latitude, longitude float64) (float64, error) {
		calls++
		assert.Equal(t, 48.85, latitude)
		assert.Equal(t, 2.35, longitude)
		return 5.0, nil
	}
	defer func() { fetchExternal = origFetch }()

	at := time.Date(2015, 1, 7, 10, 0, 0, 0, time.UTC)
	_, err = e.HandleReport(deviceReport(thermostat, 19, at))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	readings, err := db.GetReadings(database, thermostat.ID, at, at)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	require.NotNil(t, readings[0].ExternalTemp)
	assert.Equal(t, 5.0, *readings[0].ExternalTemp)

	// Within the hourly interval no second lookup happens; the reading
	// carries the last-known external temperature instead.
	_, err = e.HandleReport(deviceReport(thermostat, 19, at.Add(10*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	readings, err = db.GetReadings(database, thermostat.ID, at.Add(10*time.Minute), at.Add(10*time.Minute))
	require.NoError(t, err)
	require.Len(t, readings, 1)
	require.NotNil(t, readings[0].ExternalTemp)
	assert.Equal(t, 5.0, *readings[0].ExternalTemp)
}

func TestHandleReportWeatherFailureStillRateLimited(t *testing.T) {
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	defer database.Close()

	thermostat, err := db.CreateThermostat(database, "Living room", "UTC", 48.85, 2.35)
	require.NoError(t, err)
	e := New(database, weather.New("test-key"))

	origFetch := fetchExternal
	fetchExternal = func(c *weather.Client, latitude, longitude float64) (float64, error) {
		return 0, errors.New("upstream down")
	}
	defer func() { fetchExternal = origFetch }()

	at := time.Date(2015, 1, 7, 10, 0, 0, 0, time.UTC)
	_, err = e.HandleReport(deviceReport(thermostat, 19, at))
	require.NoError(t, err)

	readings, err := db.GetReadings(database, thermostat.ID, at, at)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Nil(t, readings[0].ExternalTemp)

	// The attempt timestamp advanced anyway.
	stored, err := db.GetThermostatByID(database, thermostat.ID)
	require.NoError(t, err)
	assert.True(t, stored.LastWeatherAt.Equal(at))
}

func TestSchedule(t *testing.T) {
	e, database, thermostat := setupEngine(t)

	at := time.Date(2015, 1, 7, 10, 0, 0, 0, time.UTC)
	origNow := now
	now = func() time.Time { return at }
	defer func() { now = origNow }()

	modes, err := db.GetModes(database, thermostat.ID)
	require.NoError(t, err)
	night := modes[2]
	_, err = db.CreateOverride(database, thermostat.ID, model.Override{
		Start:    at.Add(2 * time.Hour),
		End:      at.Add(4 * time.Hour),
		Priority: 1,
		Mode:     night,
	})
	require.NoError(t, err)

	raw, err := e.Schedule(thermostat.ID, false)
	require.NoError(t, err)
	require.Len(t, raw, 3)
	assert.Equal(t, 21.0, raw[0].Mode.Temperature)
	assert.Equal(t, 0, raw[0].Minutes)
	assert.Equal(t, night.ID, raw[1].Mode.ID)
	assert.Equal(t, 120, raw[1].Minutes)
	assert.Equal(t, 240, raw[2].Minutes)

	// Effective view with no readings falls back to the raw timeline.
	effective, err := e.Schedule(thermostat.ID, true)
	require.NoError(t, err)
	assert.Equal(t, raw, effective)

	_, err = e.Schedule(thermostat.ID+1, false)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestStatsAndHistory(t *testing.T) {
	e, database, thermostat := setupEngine(t)

	base := time.Date(2015, 1, 7, 6, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		r := model.Reading{
			At:          base.Add(time.Duration(i) * 600 * time.Second),
			Temperature: 19 + float64(i)*0.1,
			TargetTemp:  21,
			BoilerOn:    true,
		}
		require.NoError(t, db.RecordReport(database, thermostat.ID, r, nil, false))
	}

	got, err := e.Stats(thermostat.ID, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, got.HeatingSpeed)
	assert.Equal(t, 1200.0, got.DutyCycle.OnSeconds)

	history, err := e.History(thermostat.ID, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, history, 3)

	_, err = e.Stats(thermostat.ID+1, base, base.Add(time.Hour))
	assert.ErrorIs(t, err, db.ErrNotFound)
}
