// Package engine runs the full per-report control flow: resolve the
// schedule, compensate for thermal lag, plan duty cycles, and persist the
// reading, all within a per-thermostat lock.
package engine

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/heatwise/thermostat-server/db"
	"github.com/heatwise/thermostat-server/internal/control"
	"github.com/heatwise/thermostat-server/internal/datadog"
	"github.com/heatwise/thermostat-server/internal/model"
	"github.com/heatwise/thermostat-server/internal/schedule"
	"github.com/heatwise/thermostat-server/internal/stats"
	"github.com/heatwise/thermostat-server/internal/weather"
)

// ErrUnauthorized is returned when a device presents unknown credentials.
var ErrUnauthorized = errors.New("unknown device credentials")

// ErrNoFallbackMode means the thermostat has no comfort mode to fall back
// to. That state is unreachable through this server's own API and indicates
// broken configuration, not a runtime condition.
var ErrNoFallbackMode = errors.New("thermostat has no fallback comfort mode")

// extrapolationWindow is how far back readings are loaded for the derivative
// extrapolator, which looks at most one hour behind.
const extrapolationWindow = 2 * time.Hour

// weatherInterval rate-limits external temperature lookups per thermostat.
const weatherInterval = time.Hour

// Seams for tests.
var (
	now           = time.Now
	fetchExternal = func(c *weather.Client, latitude, longitude float64) (float64, error) {
		return c.CurrentTemperature(latitude, longitude)
	}
)

// Report is one inbound device measurement. TargetTemp is the setpoint the
// device was applying when it measured, which is what the reading history
// records; the freshly computed setpoint only travels back in the Command.
type Report struct {
	UID         string    `json:"uid"`
	APIKey      string    `json:"api_key"`
	Temperature float64   `json:"temperature"`
	TargetTemp  float64   `json:"target_temp"`
	Manual      bool      `json:"manual"`
	BoilerOn    bool      `json:"boiler_on"`
	At          time.Time `json:"at,omitempty"`
}

// Command is what the engine answers a device report with.
type Command struct {
	TargetTemp float64 `json:"target_temp"`
	Coef       float64 `json:"coef"`
}

// Statistics bundles the three performance analyses; each is independently
// absent when its data was insufficient.
type Statistics struct {
	HeatingSpeed *stats.HeatingSpeed `json:"heating_speed"`
	DutyCycle    stats.DutyCycle     `json:"duty_cycle"`
	Comfort      stats.Comfort       `json:"comfort"`
}

type Engine struct {
	db      *sql.DB
	weather *weather.Client

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// New creates an engine. The weather client may be nil, in which case no
// external temperatures are recorded.
func New(database *sql.DB, weatherClient *weather.Client) *Engine {
	return &Engine{
		db:      database,
		weather: weatherClient,
		locks:   make(map[int64]*sync.Mutex),
	}
}

// lock returns the mutex serializing reports for one thermostat. Reports for
// different thermostats never contend.
func (e *Engine) lock(thermostatID int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[thermostatID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[thermostatID] = l
	}
	return l
}

// HandleReport processes one device report and returns the temperature the
// device should now target along with its hysteresis coefficient.
func (e *Engine) HandleReport(report Report) (*Command, error) {
	thermostat, err := db.GetThermostatByCredentials(e.db, report.UID, report.APIKey)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}

	l := e.lock(thermostat.ID)
	l.Lock()
	defer l.Unlock()

	loc, err := time.LoadLocation(thermostat.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", thermostat.Timezone, err)
	}
	at := report.At
	if at.IsZero() {
		at = now()
	}
	localNow := at.In(loc)

	externalTemp := e.maybeFetchWeather(thermostat, at)
	if externalTemp == nil {
		// Between hourly lookups, and when a lookup fails, the reading
		// carries the last-known external temperature.
		if externalTemp, err = db.GetLastExternalTemp(e.db, thermostat.ID); err != nil {
			return nil, err
		}
	}

	fallback, markers, overrides, params, err := e.loadScheduleInputs(thermostat.ID)
	if err != nil {
		return nil, err
	}

	raw := schedule.BuildRawTimeline(localNow, markers, overrides, *fallback)
	requested := raw[0].Mode.Temperature

	readings, err := db.GetReadings(e.db, thermostat.ID, at.Add(-extrapolationWindow), at)
	if err != nil {
		return nil, err
	}
	extrapolated := control.Extrapolate(report.Temperature, at, readings, params.DerivativeCoef)

	adjusted := control.ApplyAnticipation(raw, extrapolated,
		params.AnticipationCoef, params.AnticipationExp, params.AnticipationMaxHours)
	target := adjusted[0].Mode.Temperature

	cycleChanged := false
	if params.ProportionalMode {
		target, cycleChanged = control.ComputeTarget(at, report.Temperature, target, params)
	}

	// The extrapolation offset is subtracted from the command: a falling
	// indoor trend raises the target so the boiler reacts before the room
	// actually gets there.
	target -= extrapolated - report.Temperature

	reading := model.Reading{
		At:            at,
		Temperature:   report.Temperature,
		ExternalTemp:  externalTemp,
		RequestedTemp: &requested,
		TargetTemp:    report.TargetTemp,
		Manual:        report.Manual,
		BoilerOn:      report.BoilerOn,
	}
	if err := db.RecordReport(e.db, thermostat.ID, reading, params, cycleChanged); err != nil {
		return nil, err
	}

	tag := "thermostat:" + strconv.FormatInt(thermostat.ID, 10)
	datadog.Gauge("engine.indoor_temp", report.Temperature, tag)
	datadog.Gauge("engine.target_temp", target, tag)
	datadog.Count("engine.reports", 1, tag)

	log.Debug().
		Int64("thermostat", thermostat.ID).
		Float64("indoor", report.Temperature).
		Float64("requested", requested).
		Float64("target", target).
		Bool("preheat", adjusted[0].Preheat).
		Msg("Device report handled")

	return &Command{TargetTemp: target, Coef: params.Coef}, nil
}

// Schedule returns the next 24 hours of setpoint changes, either raw or with
// anticipation applied over the latest reading.
func (e *Engine) Schedule(thermostatID int64, effective bool) ([]model.ScheduleEntry, error) {
	thermostat, err := db.GetThermostatByID(e.db, thermostatID)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(thermostat.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", thermostat.Timezone, err)
	}

	fallback, markers, overrides, params, err := e.loadScheduleInputs(thermostatID)
	if err != nil {
		return nil, err
	}

	at := now()
	raw := schedule.BuildRawTimeline(at.In(loc), markers, overrides, *fallback)
	if !effective {
		return raw, nil
	}

	readings, err := db.GetReadings(e.db, thermostatID, at.Add(-extrapolationWindow), at)
	if err != nil {
		return nil, err
	}
	if len(readings) == 0 {
		return raw, nil
	}
	last := readings[len(readings)-1]
	extrapolated := control.Extrapolate(last.Temperature, at, readings, params.DerivativeCoef)
	return control.ApplyAnticipation(raw, extrapolated,
		params.AnticipationCoef, params.AnticipationExp, params.AnticipationMaxHours), nil
}

// Stats computes the three performance statistics over the window.
func (e *Engine) Stats(thermostatID int64, from, to time.Time) (*Statistics, error) {
	if _, err := db.GetThermostatByID(e.db, thermostatID); err != nil {
		return nil, err
	}
	readings, err := db.GetReadings(e.db, thermostatID, from, to)
	if err != nil {
		return nil, err
	}
	return &Statistics{
		HeatingSpeed: stats.HeatingSpeedStats(readings),
		DutyCycle:    stats.DutyCycleStats(readings),
		Comfort:      stats.ComfortStats(readings),
	}, nil
}

// History returns the readings in the window.
func (e *Engine) History(thermostatID int64, from, to time.Time) ([]model.Reading, error) {
	if _, err := db.GetThermostatByID(e.db, thermostatID); err != nil {
		return nil, err
	}
	return db.GetReadings(e.db, thermostatID, from, to)
}

func (e *Engine) loadScheduleInputs(thermostatID int64) (*model.TemperatureMode, []model.WeekMarker, []model.Override, *model.ControlParameters, error) {
	fallback, err := db.GetFallbackMode(e.db, thermostatID)
	if errors.Is(err, db.ErrNotFound) {
		log.Error().Int64("thermostat", thermostatID).Msg("No fallback comfort mode, refusing to resolve schedule")
		return nil, nil, nil, nil, ErrNoFallbackMode
	}
	if err != nil {
		return nil, nil, nil, nil, err
	}
	markers, err := db.GetWeekMarkers(e.db, thermostatID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	overrides, err := db.GetActiveOverrides(e.db, thermostatID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	params, err := db.GetControlParameters(e.db, thermostatID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return fallback, markers, overrides, params, nil
}

// maybeFetchWeather looks up the outdoor temperature at most once per hour.
// The last-attempt timestamp advances even when the lookup fails so a broken
// upstream is not hammered on every report.
func (e *Engine) maybeFetchWeather(thermostat *model.Thermostat, at time.Time) *float64 {
	if e.weather == nil || at.Sub(thermostat.LastWeatherAt) <= weatherInterval {
		return nil
	}
	if err := db.UpdateLastWeatherAt(e.db, thermostat.ID, at); err != nil {
		log.Warn().Err(err).Int64("thermostat", thermostat.ID).Msg("Failed to record weather attempt time")
	}
	temp, err := fetchExternal(e.weather, thermostat.Latitude, thermostat.Longitude)
	if err != nil {
		log.Warn().Err(err).Int64("thermostat", thermostat.ID).Msg("External temperature lookup failed")
		return nil
	}
	return &temp
}
