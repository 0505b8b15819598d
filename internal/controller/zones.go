package controller

import (
	"log/slog"
	"slices"
	"time"

	"github.com/clambin/solar-ac-controller/internal/configuration"
	"github.com/clambin/solar-ac-controller/internal/poller"
)

// correlationWindow is how long after one of our own commands a reported
// state change is still attributed to that command rather than to the user.
const correlationWindow = 10 * time.Second

// Zone tracks one controllable load.
type Zone struct {
	Name            string
	Entity          string
	Priority        int // configuration order
	On              bool
	Mode            string
	Temperature     *float64
	LastChanged     time.Time
	LastChangeType  string // "on" or "off"
	ManualLockUntil time.Time

	heatTarget *float64
	coolTarget *float64
	observed   bool
}

// ZoneTracker maintains the on/off history, manual-override locks,
// short-cycle timers and temperature state of all configured zones, and
// selects add/remove candidates.
type ZoneTracker struct {
	zones map[string]*Zone
	order []string

	manualLock    time.Duration
	shortCycleOn  time.Duration
	shortCycleOff time.Duration
	heatTarget    float64
	coolTarget    float64

	lastCommandZone string
	lastCommandAt   time.Time

	logger *slog.Logger
}

func NewZoneTracker(cfg configuration.Configuration, logger *slog.Logger) *ZoneTracker {
	t := ZoneTracker{
		zones:         make(map[string]*Zone, len(cfg.Zones)),
		order:         cfg.ZoneNames(),
		manualLock:    cfg.ManualLock,
		shortCycleOn:  cfg.ShortCycleOn,
		shortCycleOff: cfg.ShortCycleOff,
		heatTarget:    cfg.HeatTarget,
		coolTarget:    cfg.CoolTarget,
		logger:        logger,
	}
	for i, zone := range cfg.Zones {
		t.zones[zone.Name] = &Zone{
			Name:       zone.Name,
			Entity:     zone.Entity,
			Priority:   i,
			Mode:       "default",
			heatTarget: zone.HeatTarget,
			coolTarget: zone.CoolTarget,
		}
	}
	return &t
}

// Observe folds one telemetry update into the tracker. A state change that
// does not correlate with a recent command from the sequencer is a manual
// override and locks the zone.
func (t *ZoneTracker) Observe(update poller.Update, now time.Time) {
	for _, name := range t.order {
		reported, ok := update.Zones[name]
		if !ok {
			continue
		}
		zone := t.zones[name]
		if zone.observed && zone.On != reported.On {
			if t.lastCommandZone != name || now.Sub(t.lastCommandAt) > correlationWindow {
				zone.ManualLockUntil = now.Add(t.manualLock)
				t.logger.Info("manual override detected",
					slog.String("zone", name), slog.Bool("on", reported.On),
					slog.Time("lockedUntil", zone.ManualLockUntil))
			}
		}
		zone.On = reported.On
		zone.Mode = reported.Mode
		zone.Temperature = reported.Temperature
		zone.observed = true
	}
}

// RecordCommand stamps a zone after the sequencer issued a command for it.
func (t *ZoneTracker) RecordCommand(name string, on bool, now time.Time) {
	zone, ok := t.zones[name]
	if !ok {
		return
	}
	zone.On = on
	zone.LastChanged = now
	if on {
		zone.LastChangeType = "on"
	} else {
		zone.LastChangeType = "off"
	}
	t.lastCommandZone = name
	t.lastCommandAt = now
}

// RevertCommand restores a zone's on/off state after a command failed to
// actuate. The change stamp stays: short-cycle protection still applies to
// the attempt, but the next observation of the unchanged state must not be
// read as a manual override.
func (t *ZoneTracker) RevertCommand(name string, on bool) {
	zone, ok := t.zones[name]
	if !ok {
		return
	}
	zone.On = on
}

func (t *ZoneTracker) IsLocked(name string, now time.Time) bool {
	zone, ok := t.zones[name]
	return ok && now.Before(zone.ManualLockUntil)
}

// IsShortCycling reports whether switching the zone again now would violate
// its short-cycle protection window.
func (t *ZoneTracker) IsShortCycling(name string, now time.Time) bool {
	zone, ok := t.zones[name]
	if !ok || zone.LastChanged.IsZero() {
		return false
	}
	window := t.shortCycleOff
	if zone.LastChangeType == "on" {
		window = t.shortCycleOn
	}
	return now.Sub(zone.LastChanged) < window
}

func (t *ZoneTracker) eligible(zone *Zone, now time.Time) bool {
	return !t.IsLocked(zone.Name, now) && !t.IsShortCycling(zone.Name, now)
}

// NextToAdd returns the next zone to energize, or nil. Locked and
// short-cycling zones are excluded outright; exclusion is absolute, not a
// lower-priority fallback.
func (t *ZoneTracker) NextToAdd(seasonMode string, tempPriority bool, now time.Time) *Zone {
	var candidates []*Zone
	for _, name := range t.order {
		if zone := t.zones[name]; !zone.On && t.eligible(zone, now) {
			candidates = append(candidates, zone)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	if !tempPriority || (seasonMode != "heat" && seasonMode != "cool") {
		return candidates[0]
	}

	// skip zones already at their comfort target; if every candidate is
	// satisfied, fall back to configuration order
	notAtTarget := make([]*Zone, 0, len(candidates))
	for _, zone := range candidates {
		if !t.AtTarget(zone.Name, seasonMode) {
			notAtTarget = append(notAtTarget, zone)
		}
	}
	if len(notAtTarget) == 0 {
		return candidates[0]
	}

	withTemp, withoutTemp := splitByTemperature(notAtTarget)
	if len(withTemp) == 0 {
		return withoutTemp[0] // configuration order
	}
	if seasonMode == "heat" {
		// coldest first: highest thermal need
		slices.SortStableFunc(withTemp, func(a, b *Zone) int { return cmpFloat(*a.Temperature, *b.Temperature) })
	} else {
		slices.SortStableFunc(withTemp, func(a, b *Zone) int { return cmpFloat(*b.Temperature, *a.Temperature) })
	}
	return withTemp[0]
}

// NextToRemove returns the next zone to shut down, or nil. The default order
// is reverse recency: the most recently switched zone goes first.
func (t *ZoneTracker) NextToRemove(seasonMode string, tempPriority bool, now time.Time) *Zone {
	var candidates []*Zone
	for _, name := range t.order {
		if zone := t.zones[name]; zone.On && t.eligible(zone, now) {
			candidates = append(candidates, zone)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	if tempPriority && (seasonMode == "heat" || seasonMode == "cool") {
		withTemp, withoutTemp := splitByTemperature(candidates)
		if len(withTemp) > 0 {
			if seasonMode == "heat" {
				// warmest first: lowest marginal comfort need
				slices.SortStableFunc(withTemp, func(a, b *Zone) int { return cmpFloat(*b.Temperature, *a.Temperature) })
			} else {
				slices.SortStableFunc(withTemp, func(a, b *Zone) int { return cmpFloat(*a.Temperature, *b.Temperature) })
			}
			return withTemp[0]
		}
		candidates = withoutTemp
	}

	// reverse recency; zones never touched by us sort by reverse
	// configuration order
	slices.SortStableFunc(candidates, func(a, b *Zone) int {
		if c := b.LastChanged.Compare(a.LastChanged); c != 0 {
			return c
		}
		return b.Priority - a.Priority
	})
	return candidates[0]
}

// AtTarget reports whether a zone's own reading satisfies its comfort target.
// A missing reading counts as "not yet satisfied": it blocks removal rather
// than permitting it.
func (t *ZoneTracker) AtTarget(name, seasonMode string) bool {
	zone, ok := t.zones[name]
	if !ok {
		return false
	}
	switch seasonMode {
	case "heat":
		target := t.heatTarget
		if zone.heatTarget != nil {
			target = *zone.heatTarget
		}
		return zone.Temperature != nil && *zone.Temperature >= target
	case "cool":
		target := t.coolTarget
		if zone.coolTarget != nil {
			target = *zone.coolTarget
		}
		return zone.Temperature != nil && *zone.Temperature <= target
	default:
		// no season, no comfort gating
		return true
	}
}

// ActiveZones returns the active zone names in priority order.
func (t *ZoneTracker) ActiveZones() []string {
	var active []string
	for _, name := range t.order {
		if t.zones[name].On {
			active = append(active, name)
		}
	}
	return active
}

// ShedOrder returns the active zones in the order panic shedding should shut
// them down: everything but the highest-priority active zone, most recently
// switched first. Shedding is an emergency measure and ignores manual locks.
func (t *ZoneTracker) ShedOrder() []*Zone {
	var zones []*Zone
	for _, name := range t.order {
		if zone := t.zones[name]; zone.On {
			zones = append(zones, zone)
		}
	}
	if len(zones) < 2 {
		return nil
	}
	zones = zones[1:]
	slices.SortStableFunc(zones, func(a, b *Zone) int { return b.LastChanged.Compare(a.LastChanged) })
	return zones
}

// Zone returns the tracked state for a zone.
func (t *ZoneTracker) Zone(name string) (*Zone, bool) {
	zone, ok := t.zones[name]
	return zone, ok
}

// Names returns all zone names in priority order.
func (t *ZoneTracker) Names() []string {
	return t.order
}

func splitByTemperature(zones []*Zone) (withTemp, withoutTemp []*Zone) {
	for _, zone := range zones {
		if zone.Temperature != nil {
			withTemp = append(withTemp, zone)
		} else {
			withoutTemp = append(withoutTemp, zone)
		}
	}
	return withTemp, withoutTemp
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
