package poller

import (
	"strings"
	"time"

	"github.com/clambin/solar-ac-controller/internal/homeassistant"
)

// Update is one complete telemetry reading. The poller only publishes
// complete updates: if any required sensor is missing or non-numeric, the
// whole cycle is skipped.
type Update struct {
	Timestamp   time.Time
	SolarPower  float64
	GridPower   float64 // signed: positive = importing, negative = exporting
	LoadPower   float64
	OutsideTemp *float64
	Master      *bool // nil when no master switch is configured
	Zones       map[string]ZoneState
}

// ZoneState is the reported state of one zone.
type ZoneState struct {
	Entity      string
	On          bool
	Mode        string // heat, cool or default
	Temperature *float64
}

// ActiveZones returns the names of all zones currently reported on.
func (u Update) ActiveZones() []string {
	var active []string
	for name, zone := range u.Zones {
		if zone.On {
			active = append(active, name)
		}
	}
	return active
}

func zoneStateFromEntity(state homeassistant.State) ZoneState {
	z := ZoneState{
		Entity: state.EntityID,
		On:     state.State == "heat" || state.State == "cool" || state.State == "on",
		Mode:   "default",
	}
	mode, _ := state.Attributes["hvac_mode"].(string)
	if mode == "" {
		mode, _ = state.Attributes["hvac_action"].(string)
	}
	if mode == "" {
		mode = state.State
	}
	switch {
	case strings.Contains(mode, "heat"):
		z.Mode = "heat"
	case strings.Contains(mode, "cool"):
		z.Mode = "cool"
	}
	return z
}
