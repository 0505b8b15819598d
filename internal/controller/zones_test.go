package controller

import (
	"log/slog"
	"testing"
	"time"

	"github.com/clambin/solar-ac-controller/internal/configuration"
	"github.com/clambin/solar-ac-controller/internal/poller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func trackerConfig() configuration.Configuration {
	return configuration.Configuration{
		ManualLock:    30 * time.Minute,
		ShortCycleOn:  5 * time.Minute,
		ShortCycleOff: 3 * time.Minute,
		HeatTarget:    22.0,
		CoolTarget:    24.0,
		Zones: []configuration.ZoneConfiguration{
			{Name: "living_room", Entity: "climate.living_room"},
			{Name: "bedroom", Entity: "climate.bedroom"},
			{Name: "office", Entity: "climate.office"},
		},
	}
}

func makeUpdate(states map[string]poller.ZoneState) poller.Update {
	return poller.Update{Zones: states}
}

func TestZoneTracker_ManualOverride(t *testing.T) {
	tracker := NewZoneTracker(trackerConfig(), slog.Default())
	now := time.Now()

	tracker.Observe(makeUpdate(map[string]poller.ZoneState{
		"living_room": {On: false}, "bedroom": {On: false}, "office": {On: false},
	}), now)
	assert.False(t, tracker.IsLocked("living_room", now))

	// our own command followed by the matching observation: no lock
	tracker.RecordCommand("living_room", true, now)
	tracker.Observe(makeUpdate(map[string]poller.ZoneState{
		"living_room": {On: true}, "bedroom": {On: false}, "office": {On: false},
	}), now.Add(5*time.Second))
	assert.False(t, tracker.IsLocked("living_room", now.Add(5*time.Second)))

	// a state change with no matching command within the correlation
	// window is a manual override
	tracker.Observe(makeUpdate(map[string]poller.ZoneState{
		"living_room": {On: true}, "bedroom": {On: true}, "office": {On: false},
	}), now.Add(time.Minute))
	assert.True(t, tracker.IsLocked("bedroom", now.Add(time.Minute)))
	assert.True(t, tracker.IsLocked("bedroom", now.Add(time.Minute+29*time.Minute)))
	assert.False(t, tracker.IsLocked("bedroom", now.Add(time.Minute+31*time.Minute)))
}

func TestZoneTracker_RevertCommand(t *testing.T) {
	tracker := NewZoneTracker(trackerConfig(), slog.Default())
	now := time.Now()

	tracker.Observe(makeUpdate(map[string]poller.ZoneState{
		"living_room": {On: false}, "bedroom": {On: false}, "office": {On: false},
	}), now)

	// a turn-on command that never actuated: the next poll still reports the
	// zone off, which must not be read as a manual override
	tracker.RecordCommand("living_room", true, now)
	tracker.RevertCommand("living_room", false)
	tracker.Observe(makeUpdate(map[string]poller.ZoneState{
		"living_room": {On: false}, "bedroom": {On: false}, "office": {On: false},
	}), now.Add(30*time.Second))
	assert.False(t, tracker.IsLocked("living_room", now.Add(30*time.Second)))

	// the attempt still counts for short-cycle protection
	assert.True(t, tracker.IsShortCycling("living_room", now.Add(30*time.Second)))
	assert.False(t, tracker.IsShortCycling("living_room", now.Add(6*time.Minute)))
}

func TestZoneTracker_ShortCycle(t *testing.T) {
	tracker := NewZoneTracker(trackerConfig(), slog.Default())
	now := time.Now()

	assert.False(t, tracker.IsShortCycling("living_room", now))

	tracker.RecordCommand("living_room", true, now)
	assert.True(t, tracker.IsShortCycling("living_room", now.Add(4*time.Minute)))
	assert.False(t, tracker.IsShortCycling("living_room", now.Add(6*time.Minute)))

	tracker.RecordCommand("living_room", false, now.Add(10*time.Minute))
	assert.True(t, tracker.IsShortCycling("living_room", now.Add(12*time.Minute)))
	assert.False(t, tracker.IsShortCycling("living_room", now.Add(14*time.Minute)))
}

func TestZoneTracker_AddCandidate(t *testing.T) {
	now := time.Now()

	t.Run("configuration order by default", func(t *testing.T) {
		tracker := NewZoneTracker(trackerConfig(), slog.Default())
		tracker.Observe(makeUpdate(map[string]poller.ZoneState{
			"living_room": {On: true}, "bedroom": {On: false}, "office": {On: false},
		}), now)
		zone := tracker.NextToAdd("", false, now)
		require.NotNil(t, zone)
		assert.Equal(t, "bedroom", zone.Name)
	})

	t.Run("coldest first in heat mode", func(t *testing.T) {
		tracker := NewZoneTracker(trackerConfig(), slog.Default())
		tracker.Observe(makeUpdate(map[string]poller.ZoneState{
			"living_room": {On: true},
			"bedroom":     {On: false, Temperature: ptr(19.5)},
			"office":      {On: false, Temperature: ptr(17.0)},
		}), now)
		zone := tracker.NextToAdd("heat", true, now)
		require.NotNil(t, zone)
		assert.Equal(t, "office", zone.Name)
	})

	t.Run("zones at target are skipped", func(t *testing.T) {
		tracker := NewZoneTracker(trackerConfig(), slog.Default())
		tracker.Observe(makeUpdate(map[string]poller.ZoneState{
			"living_room": {On: true},
			"bedroom":     {On: false, Temperature: ptr(20.0)},
			"office":      {On: false, Temperature: ptr(22.5)}, // at heat target
		}), now)
		zone := tracker.NextToAdd("heat", true, now)
		require.NotNil(t, zone)
		assert.Equal(t, "bedroom", zone.Name)
	})

	t.Run("all at target falls back to configuration order", func(t *testing.T) {
		tracker := NewZoneTracker(trackerConfig(), slog.Default())
		tracker.Observe(makeUpdate(map[string]poller.ZoneState{
			"living_room": {On: true},
			"bedroom":     {On: false, Temperature: ptr(23.0)},
			"office":      {On: false, Temperature: ptr(22.5)},
		}), now)
		zone := tracker.NextToAdd("heat", true, now)
		require.NotNil(t, zone)
		assert.Equal(t, "bedroom", zone.Name)
	})

	t.Run("excluded zones are never resurrected by temperature priority", func(t *testing.T) {
		tracker := NewZoneTracker(trackerConfig(), slog.Default())
		tracker.Observe(makeUpdate(map[string]poller.ZoneState{
			"living_room": {On: true},
			"bedroom":     {On: false, Temperature: ptr(19.0)},
			"office":      {On: false, Temperature: ptr(17.0)},
		}), now)
		tracker.RecordCommand("office", false, now) // short-cycling
		zone := tracker.NextToAdd("heat", true, now.Add(time.Minute))
		require.NotNil(t, zone)
		assert.Equal(t, "bedroom", zone.Name)
	})

	t.Run("no eligible candidate", func(t *testing.T) {
		tracker := NewZoneTracker(trackerConfig(), slog.Default())
		tracker.Observe(makeUpdate(map[string]poller.ZoneState{
			"living_room": {On: true}, "bedroom": {On: true}, "office": {On: true},
		}), now)
		assert.Nil(t, tracker.NextToAdd("", false, now))
	})
}

func TestZoneTracker_RemoveCandidate(t *testing.T) {
	now := time.Now()

	t.Run("reverse recency by default", func(t *testing.T) {
		tracker := NewZoneTracker(trackerConfig(), slog.Default())
		tracker.RecordCommand("living_room", true, now.Add(-time.Hour))
		tracker.RecordCommand("bedroom", true, now.Add(-10*time.Minute))
		tracker.Observe(makeUpdate(map[string]poller.ZoneState{
			"living_room": {On: true}, "bedroom": {On: true}, "office": {On: false},
		}), now)
		zone := tracker.NextToRemove("", false, now)
		require.NotNil(t, zone)
		assert.Equal(t, "bedroom", zone.Name)
	})

	t.Run("warmest first in heat mode", func(t *testing.T) {
		tracker := NewZoneTracker(trackerConfig(), slog.Default())
		tracker.Observe(makeUpdate(map[string]poller.ZoneState{
			"living_room": {On: true, Temperature: ptr(21.0)},
			"bedroom":     {On: true, Temperature: ptr(23.5)},
			"office":      {On: false},
		}), now)
		zone := tracker.NextToRemove("heat", true, now)
		require.NotNil(t, zone)
		assert.Equal(t, "bedroom", zone.Name)
	})

	t.Run("coolest first in cool mode", func(t *testing.T) {
		tracker := NewZoneTracker(trackerConfig(), slog.Default())
		tracker.Observe(makeUpdate(map[string]poller.ZoneState{
			"living_room": {On: true, Temperature: ptr(26.0)},
			"bedroom":     {On: true, Temperature: ptr(23.5)},
			"office":      {On: false},
		}), now)
		zone := tracker.NextToRemove("cool", true, now)
		require.NotNil(t, zone)
		assert.Equal(t, "bedroom", zone.Name)
	})

	t.Run("no readings falls back to recency", func(t *testing.T) {
		tracker := NewZoneTracker(trackerConfig(), slog.Default())
		tracker.RecordCommand("living_room", true, now.Add(-time.Hour))
		tracker.RecordCommand("office", true, now.Add(-30*time.Minute))
		tracker.Observe(makeUpdate(map[string]poller.ZoneState{
			"living_room": {On: true}, "bedroom": {On: false}, "office": {On: true},
		}), now)
		zone := tracker.NextToRemove("heat", true, now)
		require.NotNil(t, zone)
		assert.Equal(t, "office", zone.Name)
	})

	t.Run("locked zones are excluded", func(t *testing.T) {
		tracker := NewZoneTracker(trackerConfig(), slog.Default())
		tracker.Observe(makeUpdate(map[string]poller.ZoneState{
			"living_room": {On: false}, "bedroom": {On: false}, "office": {On: false},
		}), now)
		// manual override turns bedroom on and locks it
		tracker.Observe(makeUpdate(map[string]poller.ZoneState{
			"living_room": {On: false}, "bedroom": {On: true}, "office": {On: false},
		}), now.Add(time.Minute))
		assert.Nil(t, tracker.NextToRemove("", false, now.Add(2*time.Minute)))
	})
}

func TestZoneTracker_AtTarget(t *testing.T) {
	tracker := NewZoneTracker(trackerConfig(), slog.Default())
	now := time.Now()

	tracker.Observe(makeUpdate(map[string]poller.ZoneState{
		"living_room": {On: true, Temperature: ptr(21.9)},
		"bedroom":     {On: true, Temperature: ptr(22.0)},
		"office":      {On: true},
	}), now)

	// heat target is 22.0: 21.9 is not at target, 22.0 exactly is
	assert.False(t, tracker.AtTarget("living_room", "heat"))
	assert.True(t, tracker.AtTarget("bedroom", "heat"))
	// missing reading blocks removal, conservatively
	assert.False(t, tracker.AtTarget("office", "heat"))
	// no season: gating does not apply
	assert.True(t, tracker.AtTarget("office", "default"))
}

func TestZoneTracker_PerZoneTargets(t *testing.T) {
	cfg := trackerConfig()
	cfg.Zones[0].HeatTarget = ptr(20.0)
	tracker := NewZoneTracker(cfg, slog.Default())
	now := time.Now()

	tracker.Observe(makeUpdate(map[string]poller.ZoneState{
		"living_room": {On: true, Temperature: ptr(20.5)},
		"bedroom":     {On: true, Temperature: ptr(20.5)},
		"office":      {On: false},
	}), now)

	assert.True(t, tracker.AtTarget("living_room", "heat"))  // per-zone target 20.0
	assert.False(t, tracker.AtTarget("bedroom", "heat"))     // global target 22.0
}

func TestZoneTracker_ShedOrder(t *testing.T) {
	tracker := NewZoneTracker(trackerConfig(), slog.Default())
	now := time.Now()

	tracker.RecordCommand("living_room", true, now.Add(-time.Hour))
	tracker.RecordCommand("bedroom", true, now.Add(-10*time.Minute))
	tracker.RecordCommand("office", true, now.Add(-30*time.Minute))

	order := tracker.ShedOrder()
	require.Len(t, order, 2)
	// living_room (highest priority active) is spared; most recent goes first
	assert.Equal(t, "bedroom", order[0].Name)
	assert.Equal(t, "office", order[1].Name)

	tracker.RecordCommand("bedroom", false, now)
	tracker.RecordCommand("office", false, now)
	assert.Nil(t, tracker.ShedOrder())
}
