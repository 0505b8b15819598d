package controller

import (
	"time"
)

// Snapshot is a read-only export of one full decision cycle, built by a
// single builder so every presentation sink (metrics, health, API, bot)
// sees the same picture. All maps and slices are copies.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	EMAFast     float64  `json:"emaFast"`
	EMASlow     float64  `json:"emaSlow"`
	EMALoad     float64  `json:"emaLoad"`
	SolarPower  float64  `json:"solarPower"`
	OutsideMean *float64 `json:"outsideMean,omitempty"`

	SeasonMode  string `json:"seasonMode"`
	OutsideBand string `json:"outsideBand,omitempty"`

	NextZone       string  `json:"nextZone,omitempty"`
	LastZone       string  `json:"lastZone,omitempty"`
	RequiredExport float64 `json:"requiredExport"`
	ExportMargin   float64 `json:"exportMargin"`
	Confidence     float64 `json:"confidence"`
	AddScore       float64 `json:"addScore"`
	RemoveScore    float64 `json:"removeScore"`

	LastAction    string     `json:"lastAction"`
	PanicState    PanicState `json:"panicState"`
	CooldownUntil time.Time  `json:"cooldownUntil"`
	Frozen        bool       `json:"frozen"`
	MasterLocked  bool       `json:"masterLocked"`

	LearningZone string                        `json:"learningZone,omitempty"`
	Samples      int                           `json:"samples"`
	Rejected     int                           `json:"rejected"`
	LearnedPower map[string]map[string]float64 `json:"learnedPower"`

	Cycles        int           `json:"cycles"`
	Errors        int           `json:"errors"`
	CycleDuration time.Duration `json:"cycleDuration"`

	Config ConfigSnapshot `json:"config"`

	Zones []ZoneSnapshot `json:"zones"`
}

// ConfigSnapshot echoes the thresholds the cycle ran with, for diagnostics.
type ConfigSnapshot struct {
	SolarThresholdOn  float64 `json:"solarThresholdOn"`
	SolarThresholdOff float64 `json:"solarThresholdOff"`
	AddConfidence     float64 `json:"addConfidence"`
	RemoveConfidence  float64 `json:"removeConfidence"`
	PanicThreshold    float64 `json:"panicThreshold"`
}

// ZoneSnapshot is the per-zone slice of a Snapshot.
type ZoneSnapshot struct {
	Name         string    `json:"name"`
	Entity       string    `json:"entity"`
	On           bool      `json:"on"`
	Mode         string    `json:"mode,omitempty"`
	Temperature  *float64  `json:"temperature,omitempty"`
	Locked       bool      `json:"locked"`
	ShortCycling bool      `json:"shortCycling"`
	LastChanged  time.Time `json:"lastChanged"`
}

// buildSnapshot assembles the cycle's snapshot. Called at the end of every
// cycle with the controller's own state; never hands out live references.
func (c *Controller) buildSnapshot(verdict Verdict, solar float64, now time.Time) Snapshot {
	s := Snapshot{
		Timestamp:      now,
		EMAFast:        c.filter.EMAFast,
		EMASlow:        c.filter.EMASlow,
		EMALoad:        c.filter.EMALoad,
		SolarPower:     solar,
		SeasonMode:     c.season.Mode(),
		OutsideBand:    c.outsideBand,
		NextZone:       verdict.NextZone,
		LastZone:       verdict.LastZone,
		RequiredExport: verdict.RequiredExport,
		ExportMargin:   verdict.ExportMargin,
		Confidence:     verdict.Confidence,
		AddScore:       verdict.AddScore,
		RemoveScore:    verdict.RemoveScore,
		LastAction:     c.lastAction,
		PanicState:     c.panicMgr.State(),
		CooldownUntil:  c.panicMgr.CooldownUntil(),
		Frozen:         c.master.Frozen(solar),
		MasterLocked:   c.master.ManualLocked(),
		Samples:        c.model.Samples(),
		Rejected:       c.model.Rejected(),
		LearnedPower:   copyLearnedPower(c.model.Document().LearnedPower),
		Cycles:         c.cycles,
		Errors:         c.errors,
		CycleDuration:  c.cycleTime,
		Config: ConfigSnapshot{
			SolarThresholdOn:  c.cfg.SolarThresholdOn,
			SolarThresholdOff: c.cfg.SolarThresholdOff,
			AddConfidence:     c.cfg.AddConfidence,
			RemoveConfidence:  c.cfg.RemoveConfidence,
			PanicThreshold:    c.cfg.PanicThreshold,
		},
	}
	if mean, ok := c.filter.OutsideMean(now); ok {
		s.OutsideMean = &mean
	}
	if sample := c.model.Active(); sample != nil {
		s.LearningZone = sample.Zone
	}
	for _, name := range c.tracker.Names() {
		zone, _ := c.tracker.Zone(name)
		zs := ZoneSnapshot{
			Name:         zone.Name,
			Entity:       zone.Entity,
			On:           zone.On,
			Mode:         zone.Mode,
			Locked:       c.tracker.IsLocked(name, now),
			ShortCycling: c.tracker.IsShortCycling(name, now),
			LastChanged:  zone.LastChanged,
		}
		if zone.Temperature != nil {
			temp := *zone.Temperature
			zs.Temperature = &temp
		}
		s.Zones = append(s.Zones, zs)
	}
	return s
}

func copyLearnedPower(estimates map[string]map[string]float64) map[string]map[string]float64 {
	copied := make(map[string]map[string]float64, len(estimates))
	for zone, modes := range estimates {
		copied[zone] = make(map[string]float64, len(modes))
		for mode, watts := range modes {
			copied[zone][mode] = watts
		}
	}
	return copied
}
