package config

import (
	"fmt"
	"time"

	"github.com/kilianp07/slac/core/model"
	"github.com/kilianp07/slac/core/slac/session"
)

// SlacConfig defines the matching parameters of one registry. The timing
// budgets are milliseconds; the defaults follow the usual signal level
// attenuation characterization timing.
type SlacConfig struct {
	// Role is "station" or "vehicle".
	Role string `json:"role"`
	// ModemMAC is the management address of the local powerline modem.
	// Empty disables key provisioning.
	ModemMAC string `json:"modem_mac"`
	// StationID and PevID are the controller identifiers carried in the
	// match exchange, at most 17 bytes each.
	StationID string `json:"station_id"`
	PevID     string `json:"pev_id"`

	ExpectedRounds       int `json:"expected_rounds"`
	ParmConfirmTimeoutMS int `json:"parm_confirm_timeout_ms"`
	PerSoundBudgetMS     int `json:"per_sound_budget_ms"`
	AttenCharTimeoutMS   int `json:"atten_char_timeout_ms"`
	MatchTimeoutMS       int `json:"match_timeout_ms"`
	OutOfSeqTolerance    int `json:"out_of_seq_tolerance"`
	// TickIntervalMS is the scheduling granularity of the timer poll loop.
	TickIntervalMS int `json:"tick_interval_ms"`
}

// SetDefaults applies sane defaults.
func (c *SlacConfig) SetDefaults() {
	if c.Role == "" {
		c.Role = "station"
	}
	if c.ExpectedRounds <= 0 {
		c.ExpectedRounds = 10
	}
	if c.ParmConfirmTimeoutMS <= 0 {
		c.ParmConfirmTimeoutMS = 1000
	}
	if c.PerSoundBudgetMS <= 0 {
		c.PerSoundBudgetMS = 120
	}
	if c.AttenCharTimeoutMS <= 0 {
		c.AttenCharTimeoutMS = 1000
	}
	if c.MatchTimeoutMS <= 0 {
		c.MatchTimeoutMS = 10000
	}
	if c.OutOfSeqTolerance <= 0 {
		c.OutOfSeqTolerance = 3
	}
	if c.TickIntervalMS <= 0 {
		c.TickIntervalMS = 50
	}
}

// Validate checks mandatory fields.
func (c SlacConfig) Validate() error {
	if c.Role != "station" && c.Role != "vehicle" {
		return fmt.Errorf("unknown role %s", c.Role)
	}
	if c.ModemMAC != "" {
		if _, err := model.ParseMAC(c.ModemMAC); err != nil {
			return fmt.Errorf("modem_mac: %w", err)
		}
	}
	if len(c.StationID) > 17 {
		return fmt.Errorf("station_id exceeds 17 bytes")
	}
	if len(c.PevID) > 17 {
		return fmt.Errorf("pev_id exceeds 17 bytes")
	}
	if c.ExpectedRounds > 255 {
		return fmt.Errorf("expected_rounds exceeds 255")
	}
	return nil
}

// TickInterval returns the poll loop granularity.
func (c SlacConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

// ToSessionConfig maps the loaded settings onto the state machine config.
func (c SlacConfig) ToSessionConfig() (session.Config, error) {
	out := session.Config{
		Role:               session.RoleStation,
		ExpectedRounds:     c.ExpectedRounds,
		ParmConfirmTimeout: time.Duration(c.ParmConfirmTimeoutMS) * time.Millisecond,
		PerSoundBudget:     time.Duration(c.PerSoundBudgetMS) * time.Millisecond,
		AttenCharTimeout:   time.Duration(c.AttenCharTimeoutMS) * time.Millisecond,
		MatchTimeout:       time.Duration(c.MatchTimeoutMS) * time.Millisecond,
		OutOfSeqTolerance:  c.OutOfSeqTolerance,
	}
	if c.Role == "vehicle" {
		out.Role = session.RoleVehicle
	}
	if c.ModemMAC != "" {
		mac, err := model.ParseMAC(c.ModemMAC)
		if err != nil {
			return session.Config{}, err
		}
		out.ModemMAC = mac
	}
	copy(out.StationID[:], c.StationID)
	copy(out.PevID[:], c.PevID)
	return out, nil
}
