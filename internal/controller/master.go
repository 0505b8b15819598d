package controller

import (
	"log/slog"
	"time"

	"github.com/clambin/solar-ac-controller/internal/configuration"
)

// emaResetAfterOff is how long the master must stay off before the signal
// filter is zeroed, so the next solar day does not start from stale values.
const emaResetAfterOff = 600 * time.Second

// MasterManager drives the optional master relay from solar production, with
// hysteresis between the on and off thresholds.
//
// A manual toggle of the relay (a state change we did not command) sticks:
// the manager stops issuing commands until the natural condition that would
// have produced the same state is met again. There is no time-based expiry.
type MasterManager struct {
	entity       string
	thresholdOn  float64
	thresholdOff float64

	manualLock    bool
	manualState   bool
	observed      *bool
	lastCommand   *bool
	lastCommandAt time.Time
	offSince      time.Time
	logger        *slog.Logger
}

func NewMasterManager(cfg configuration.Configuration, logger *slog.Logger) *MasterManager {
	return &MasterManager{
		entity:       cfg.MasterSwitch,
		thresholdOn:  cfg.SolarThresholdOn,
		thresholdOff: cfg.SolarThresholdOff,
		logger:       logger,
	}
}

// Configured reports whether a master relay is configured at all.
func (m *MasterManager) Configured() bool {
	return m.entity != ""
}

// Entity returns the relay's entity id.
func (m *MasterManager) Entity() string {
	return m.entity
}

// Evaluate ingests the observed relay state and current solar production and
// returns the command to issue, or nil for none.
func (m *MasterManager) Evaluate(solar float64, observed *bool, now time.Time) *bool {
	if m.entity == "" || observed == nil {
		return nil
	}
	m.detectManual(*observed, now)
	m.observed = observed

	if *observed {
		m.offSince = time.Time{}
	} else if m.offSince.IsZero() {
		m.offSince = now
	}

	if m.manualLock {
		// lock clears when the hysteresis would have chosen the same state
		if (m.manualState && solar >= m.thresholdOn) || (!m.manualState && solar <= m.thresholdOff) {
			m.manualLock = false
			m.logger.Info("master manual lock released", slog.Float64("solar", solar))
		} else {
			return nil
		}
	}

	if !*observed && solar >= m.thresholdOn {
		m.logger.Info("master on", slog.Float64("solar", solar), slog.Float64("threshold", m.thresholdOn))
		return ptrBool(true)
	}
	if *observed && solar < m.thresholdOff {
		m.logger.Info("master off", slog.Float64("solar", solar), slog.Float64("threshold", m.thresholdOff))
		return ptrBool(false)
	}
	return nil
}

func (m *MasterManager) detectManual(observed bool, now time.Time) {
	if m.observed == nil || *m.observed == observed {
		return
	}
	if m.lastCommand != nil && *m.lastCommand == observed && now.Sub(m.lastCommandAt) <= correlationWindow {
		return
	}
	m.manualLock = true
	m.manualState = observed
	m.logger.Info("master toggled manually", slog.Bool("on", observed))
}

// RecordCommand notes a relay command we issued and applies its state
// optimistically, so the eventual observation is not mistaken for a manual
// toggle even when the poll interval exceeds the correlation window.
func (m *MasterManager) RecordCommand(on bool, now time.Time) {
	m.lastCommand = ptrBool(on)
	m.lastCommandAt = now
	m.observed = ptrBool(on)
}

// CommandFailed rolls back the optimistic state after a relay command did not
// actuate, so the unchanged observation is not read as a manual toggle.
func (m *MasterManager) CommandFailed(on bool) {
	m.observed = ptrBool(on)
}

// Frozen reports whether zone management must freeze this cycle: the relay is
// observed off, or solar is at or below the off threshold regardless of
// relay state. Master evaluation itself continues while frozen.
func (m *MasterManager) Frozen(solar float64) bool {
	if m.entity == "" {
		return false
	}
	if m.observed != nil && !*m.observed {
		return true
	}
	return solar <= m.thresholdOff
}

// ShouldResetFilter reports whether the relay has been off long enough that
// the signal filter's EMAs should be zeroed.
func (m *MasterManager) ShouldResetFilter(now time.Time) bool {
	return !m.offSince.IsZero() && now.Sub(m.offSince) >= emaResetAfterOff
}

// ManualLocked reports whether a manual toggle is currently sticking.
func (m *MasterManager) ManualLocked() bool {
	return m.manualLock
}

func ptrBool(v bool) *bool { return &v }
