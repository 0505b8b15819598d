package collector

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/clambin/solar-ac-controller/internal/controller"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	snapshot controller.Snapshot
	ok       bool
}

func (f fakeSource) Snapshot() (controller.Snapshot, bool) { return f.snapshot, f.ok }

func testSnapshot() controller.Snapshot {
	temp := 21.5
	return controller.Snapshot{
		EMAFast:        -1250,
		EMASlow:        -30,
		EMALoad:        800,
		SolarPower:     3000,
		SeasonMode:     "heat",
		Confidence:     32,
		RequiredExport: 900,
		ExportMargin:   350,
		LastAction:     "balanced",
		PanicState:     controller.PanicNormal,
		Samples:        4,
		Rejected:       1,
		Cycles:         12,
		Errors:         2,
		LearnedPower: map[string]map[string]float64{
			"living_room": {"default": 900, "heat": 950},
		},
		Zones: []controller.ZoneSnapshot{
			{Name: "living_room", Entity: "climate.living_room", On: true, Temperature: &temp},
			{Name: "bedroom", Entity: "climate.bedroom"},
		},
	}
}

func TestCollector(t *testing.T) {
	c := Collector{Source: fakeSource{snapshot: testSnapshot(), ok: true}, Logger: slog.Default()}

	require.NoError(t, testutil.CollectAndCompare(&c, strings.NewReader(`
# HELP solar_ac_decision_confidence Signed decision confidence (positive favors adding a zone)
# TYPE solar_ac_decision_confidence gauge
solar_ac_decision_confidence 32

# HELP solar_ac_grid_power_ema_fast_watts Fast EMA of net grid power (positive = importing)
# TYPE solar_ac_grid_power_ema_fast_watts gauge
solar_ac_grid_power_ema_fast_watts -1250

# HELP solar_ac_learning_learned_power_watts Learned power draw per zone and mode
# TYPE solar_ac_learning_learned_power_watts gauge
solar_ac_learning_learned_power_watts{mode="default",zone="living_room"} 900
solar_ac_learning_learned_power_watts{mode="heat",zone="living_room"} 950

# HELP solar_ac_zone_power_state Power status of this zone
# TYPE solar_ac_zone_power_state gauge
solar_ac_zone_power_state{zone="bedroom"} 0
solar_ac_zone_power_state{zone="living_room"} 1

# HELP solar_ac_zone_temperature_celsius Current temperature of this zone in degrees celsius
# TYPE solar_ac_zone_temperature_celsius gauge
solar_ac_zone_temperature_celsius{zone="living_room"} 21.5

# HELP solar_ac_season_mode Current season mode. Always one. See label 'mode'
# TYPE solar_ac_season_mode gauge
solar_ac_season_mode{mode="heat"} 1

# HELP solar_ac_panic_state Panic shedding state. Always one. See label 'state'
# TYPE solar_ac_panic_state gauge
solar_ac_panic_state{state="normal"} 1

# HELP solar_ac_controller_cycles_total Number of completed decision cycles
# TYPE solar_ac_controller_cycles_total counter
solar_ac_controller_cycles_total 12

# HELP solar_ac_controller_errors_total Number of actuation and persistence failures
# TYPE solar_ac_controller_errors_total counter
solar_ac_controller_errors_total 2
`,
	),
		"solar_ac_decision_confidence",
		"solar_ac_grid_power_ema_fast_watts",
		"solar_ac_learning_learned_power_watts",
		"solar_ac_zone_power_state",
		"solar_ac_zone_temperature_celsius",
		"solar_ac_season_mode",
		"solar_ac_panic_state",
		"solar_ac_controller_cycles_total",
		"solar_ac_controller_errors_total",
	))
}

func TestCollector_NoSnapshotYet(t *testing.T) {
	c := Collector{Source: fakeSource{}, Logger: slog.Default()}
	assert.Zero(t, testutil.CollectAndCount(&c))
}
