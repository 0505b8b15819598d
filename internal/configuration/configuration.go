// Package configuration holds the typed configuration for the solar A/C
// controller. Scalar settings come from viper; zone definitions are loaded
// from a separate zones.yaml.
package configuration

import (
	"fmt"
	"io"
	"time"

	"github.com/clambin/go-common/set"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Configuration struct {
	SolarSensor   string
	GridSensor    string
	LoadSensor    string
	OutsideSensor string
	MasterSwitch  string

	SolarThresholdOn  float64
	SolarThresholdOff float64

	PanicThreshold float64
	PanicDelay     time.Duration
	PanicCooldown  time.Duration

	ManualLock    time.Duration
	ShortCycleOn  time.Duration
	ShortCycleOff time.Duration
	ActionDelay   time.Duration

	AddConfidence    float64
	RemoveConfidence float64

	InitialLearnedPower float64
	LearningSettle      time.Duration
	Banding             bool

	AutoSeason         bool
	TempPriority       bool
	MasterOffInNeutral bool
	HeatOnBelow        float64
	HeatOffAbove       float64
	CoolOnAbove        float64
	CoolOffBelow       float64

	BandColdMax     float64
	BandMildColdMax float64
	BandMildHotMax  float64

	HeatTarget float64
	CoolTarget float64

	Zones []ZoneConfiguration
}

// ZoneConfiguration describes one controllable zone. Zones are prioritized
// in the order they appear in zones.yaml.
type ZoneConfiguration struct {
	Name       string   `yaml:"name"`
	Entity     string   `yaml:"entity"`
	TempSensor string   `yaml:"tempSensor"`
	HeatTarget *float64 `yaml:"heatTarget"`
	CoolTarget *float64 `yaml:"coolTarget"`
}

// GetConfiguration builds a Configuration from viper settings and the zones
// definition and validates it.
func GetConfiguration(v *viper.Viper, zones io.Reader) (Configuration, error) {
	c := Configuration{
		SolarSensor:         v.GetString("sensors.solar"),
		GridSensor:          v.GetString("sensors.grid"),
		LoadSensor:          v.GetString("sensors.load"),
		OutsideSensor:       v.GetString("sensors.outside"),
		MasterSwitch:        v.GetString("master.switch"),
		SolarThresholdOn:    v.GetFloat64("master.solarThresholdOn"),
		SolarThresholdOff:   v.GetFloat64("master.solarThresholdOff"),
		PanicThreshold:      v.GetFloat64("controller.panicThreshold"),
		PanicDelay:          v.GetDuration("controller.panicDelay"),
		PanicCooldown:       v.GetDuration("controller.panicCooldown"),
		ManualLock:          v.GetDuration("controller.manualLock"),
		ShortCycleOn:        v.GetDuration("controller.shortCycleOn"),
		ShortCycleOff:       v.GetDuration("controller.shortCycleOff"),
		ActionDelay:         v.GetDuration("controller.actionDelay"),
		AddConfidence:       v.GetFloat64("controller.addConfidence"),
		RemoveConfidence:    v.GetFloat64("controller.removeConfidence"),
		InitialLearnedPower: v.GetFloat64("learning.initialPower"),
		LearningSettle:      v.GetDuration("learning.settle"),
		Banding:             v.GetBool("learning.banding"),
		AutoSeason:          v.GetBool("season.auto"),
		TempPriority:        v.GetBool("season.tempPriority"),
		MasterOffInNeutral:  v.GetBool("season.masterOffInNeutral"),
		HeatOnBelow:         v.GetFloat64("season.heatOnBelow"),
		HeatOffAbove:        v.GetFloat64("season.heatOffAbove"),
		CoolOnAbove:         v.GetFloat64("season.coolOnAbove"),
		CoolOffBelow:        v.GetFloat64("season.coolOffBelow"),
		BandColdMax:         v.GetFloat64("season.bandColdMax"),
		BandMildColdMax:     v.GetFloat64("season.bandMildColdMax"),
		BandMildHotMax:      v.GetFloat64("season.bandMildHotMax"),
		HeatTarget:          v.GetFloat64("comfort.heatTarget"),
		CoolTarget:          v.GetFloat64("comfort.coolTarget"),
	}

	var err error
	if c.Zones, err = LoadZones(zones); err != nil {
		return Configuration{}, fmt.Errorf("zones: %w", err)
	}
	if err = c.Validate(); err != nil {
		return Configuration{}, err
	}
	return c, nil
}

// LoadZones reads the zone definitions from zones.yaml.
func LoadZones(r io.Reader) ([]ZoneConfiguration, error) {
	var cfg struct {
		Zones []ZoneConfiguration `yaml:"zones"`
	}
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, err
	}
	return cfg.Zones, nil
}

// Validate rejects invalid configurations. Invalid thresholds and zone
// definitions are errors, never silently coerced.
func (c Configuration) Validate() error {
	for _, sensor := range []struct{ name, entity string }{
		{"sensors.solar", c.SolarSensor},
		{"sensors.grid", c.GridSensor},
		{"sensors.load", c.LoadSensor},
	} {
		if sensor.entity == "" {
			return fmt.Errorf("%s is required", sensor.name)
		}
	}
	if c.MasterSwitch != "" && c.SolarThresholdOn <= c.SolarThresholdOff {
		return fmt.Errorf("master.solarThresholdOn (%.0f) must be greater than master.solarThresholdOff (%.0f)",
			c.SolarThresholdOn, c.SolarThresholdOff)
	}
	if c.AutoSeason {
		if c.HeatOnBelow >= c.HeatOffAbove {
			return fmt.Errorf("season.heatOnBelow (%.1f) must be less than season.heatOffAbove (%.1f)", c.HeatOnBelow, c.HeatOffAbove)
		}
		if c.CoolOnAbove <= c.CoolOffBelow {
			return fmt.Errorf("season.coolOnAbove (%.1f) must be greater than season.coolOffBelow (%.1f)", c.CoolOnAbove, c.CoolOffBelow)
		}
	}
	if len(c.Zones) == 0 {
		return fmt.Errorf("no zones configured")
	}
	names := set.New[string]()
	for _, zone := range c.Zones {
		if zone.Name == "" || zone.Entity == "" {
			return fmt.Errorf("zone name and entity are required")
		}
		if names.Contains(zone.Name) {
			return fmt.Errorf("duplicate zone name: %s", zone.Name)
		}
		names.Add(zone.Name)
	}
	return nil
}

// ZoneNames returns the names of all configured zones, in priority order.
func (c Configuration) ZoneNames() []string {
	names := make([]string, len(c.Zones))
	for i, zone := range c.Zones {
		names[i] = zone.Name
	}
	return names
}

// Zone looks up a zone definition by name.
func (c Configuration) Zone(name string) (ZoneConfiguration, bool) {
	for _, zone := range c.Zones {
		if zone.Name == name {
			return zone, true
		}
	}
	return ZoneConfiguration{}, false
}
