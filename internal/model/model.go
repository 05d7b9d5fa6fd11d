package model

import "time"

type ModeCategory string

const (
	CategoryComfort ModeCategory = "comfort"
	CategoryAway    ModeCategory = "away"
	CategoryNight   ModeCategory = "night"
	CategoryCustom  ModeCategory = "custom"
)

type TemperatureMode struct {
	ID          int64        `json:"id"`
	Category    ModeCategory `json:"category"`
	Name        string       `json:"name"`
	Temperature float64      `json:"temperature"`
	Removable   bool         `json:"removable"`
	Removed     bool         `json:"-"`
}

// WeekMarker places a mode change in the repeating 7-day program.
// Weekday is ISO numbering, Monday=1 through Sunday=7.
type WeekMarker struct {
	ID      int64           `json:"id"`
	Weekday int             `json:"weekday"`
	Hour    int             `json:"hour"`
	Minute  int             `json:"minute"`
	Mode    TemperatureMode `json:"mode"`
}

type Override struct {
	ID          int64           `json:"id"`
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end"`
	Priority    int             `json:"priority"`
	Mode        TemperatureMode `json:"mode"`
	Removed     bool            `json:"-"`
	ProposalRef *string         `json:"proposal_ref,omitempty"`
}

// ControlParameters carries the tuning knobs plus the persisted duty-cycle
// state. OffPhaseStart and CycleEnd only move forward in time; a new cycle
// is the sole way they are replanned.
type ControlParameters struct {
	Coef                 float64 `json:"coef"`
	AnticipationCoef     float64 `json:"anticipation_coef"`
	AnticipationExp      float64 `json:"anticipation_exp"`
	AnticipationMaxHours float64 `json:"anticipation_max_hours"`
	DerivativeCoef       float64 `json:"derivative_coef"`

	ProportionalMode bool    `json:"proportional_mode"`
	CycleDuration    float64 `json:"cycle_duration"` // minutes
	MinOnTime        float64 `json:"min_on_time"`    // minutes
	MinOffTime       float64 `json:"min_off_time"`   // minutes
	HalfWidth        float64 `json:"half_width"`     // degrees C

	OffPhaseStart time.Time `json:"off_phase_start"`
	CycleEnd      time.Time `json:"cycle_end"`
}

type Reading struct {
	ID            int64     `json:"id"`
	At            time.Time `json:"at"`
	Temperature   float64   `json:"temperature"`
	ExternalTemp  *float64  `json:"external_temp,omitempty"`
	RequestedTemp *float64  `json:"requested_temp,omitempty"`
	TargetTemp    float64   `json:"target_temp"`
	Manual        bool      `json:"manual"`
	BoilerOn      bool      `json:"boiler_on"`
}

type Thermostat struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	UID           string    `json:"uid"`
	APIKey        string    `json:"-"`
	Timezone      string    `json:"timezone"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	LastWeatherAt time.Time `json:"-"`
}

// ScheduleEntry is one step of the resolved 24h timeline. OverrideID is nil
// for entries produced by the weekly baseline.
type ScheduleEntry struct {
	At         time.Time       `json:"at"`
	Minutes    int             `json:"minutes"`
	Mode       TemperatureMode `json:"mode"`
	OverrideID *int64          `json:"override_id,omitempty"`
	Preheat    bool            `json:"preheat"`
}
