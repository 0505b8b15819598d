package controller

import (
	"log/slog"
	"time"

	"github.com/clambin/solar-ac-controller/internal/configuration"
)

// PanicState is the emergency shedding sub-state.
type PanicState string

const (
	PanicNormal    PanicState = "normal"
	PanicSustained PanicState = "sustained_import"
	PanicShedding  PanicState = "shedding"
	PanicCooldown  PanicState = "cooldown"
)

// PanicManager watches for sustained grid import above the panic threshold
// while more than one zone is active. A transient dip below the threshold
// resets the timer. Once shedding has run, all add/remove decisions are
// suppressed for a cooldown window so the system can settle.
type PanicManager struct {
	threshold float64
	delay     time.Duration
	cooldown  time.Duration

	state         PanicState
	importSince   time.Time
	lastPanic     time.Time
	cooldownUntil time.Time
	logger        *slog.Logger
}

func NewPanicManager(cfg configuration.Configuration, logger *slog.Logger) *PanicManager {
	return &PanicManager{
		threshold: cfg.PanicThreshold,
		delay:     cfg.PanicDelay,
		cooldown:  cfg.PanicCooldown,
		state:     PanicNormal,
		logger:    logger,
	}
}

// Evaluate advances the state machine and reports whether this cycle must
// shed. When it returns true, the caller sheds and then calls StartCooldown.
func (p *PanicManager) Evaluate(emaFast float64, activeCount int, now time.Time) bool {
	if p.state == PanicCooldown {
		if now.Before(p.cooldownUntil) {
			return false
		}
		p.logger.Info("panic cooldown over")
		p.state = PanicNormal
	}

	over := activeCount > 1 && emaFast > p.threshold
	switch p.state {
	case PanicNormal:
		if over {
			p.state = PanicSustained
			p.importSince = now
			p.logger.Warn("sustained import detected",
				slog.Float64("emaFast", emaFast), slog.Float64("threshold", p.threshold))
		}
	case PanicSustained:
		if !over {
			p.state = PanicNormal
			return false
		}
		if now.Sub(p.importSince) >= p.delay {
			p.state = PanicShedding
			p.lastPanic = now
			p.logger.Warn("panic threshold sustained, shedding",
				slog.Float64("emaFast", emaFast),
				slog.Duration("sustained", now.Sub(p.importSince)))
			return true
		}
	}
	return false
}

// StartCooldown is called once shedding has completed.
func (p *PanicManager) StartCooldown(now time.Time) {
	p.state = PanicCooldown
	p.cooldownUntil = now.Add(p.cooldown)
}

// InCooldown reports whether add/remove decisions are currently suppressed.
func (p *PanicManager) InCooldown(now time.Time) bool {
	return p.state == PanicCooldown && now.Before(p.cooldownUntil)
}

func (p *PanicManager) State() PanicState {
	return p.state
}

// LastPanic returns when the last shed was triggered, zero if none.
func (p *PanicManager) LastPanic() time.Time {
	return p.lastPanic
}

// CooldownUntil returns when the current cooldown expires, zero if none.
func (p *PanicManager) CooldownUntil() time.Time {
	if p.state != PanicCooldown {
		return time.Time{}
	}
	return p.cooldownUntil
}
