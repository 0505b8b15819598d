package controller

import (
	"log/slog"
	"time"

	"github.com/clambin/solar-ac-controller/internal/configuration"
)

// SeasonManager infers the operating season (heat, cool or neutral) from the
// rolling outdoor temperature mean, with hysteresis so the season does not
// flap around the thresholds. It also assigns the outdoor temperature band
// used by the learning model.
type SeasonManager struct {
	enabled      bool
	heatOnBelow  float64
	heatOffAbove float64
	coolOnAbove  float64
	coolOffBelow float64

	bandColdMax     float64
	bandMildColdMax float64
	bandMildHotMax  float64

	mode         string
	warnedNoTemp bool
	logger       *slog.Logger
}

func NewSeasonManager(cfg configuration.Configuration, logger *slog.Logger) *SeasonManager {
	return &SeasonManager{
		enabled:         cfg.AutoSeason,
		heatOnBelow:     cfg.HeatOnBelow,
		heatOffAbove:    cfg.HeatOffAbove,
		coolOnAbove:     cfg.CoolOnAbove,
		coolOffBelow:    cfg.CoolOffBelow,
		bandColdMax:     cfg.BandColdMax,
		bandMildColdMax: cfg.BandMildColdMax,
		bandMildHotMax:  cfg.BandMildHotMax,
		mode:            "neutral",
		logger:          logger,
	}
}

// Update recomputes the season mode from the outdoor temperature mean.
// Without an outdoor sensor, auto-season is disabled explicitly rather than
// approximated: the season sticks to its last value.
func (s *SeasonManager) Update(filter *Filter, now time.Time) string {
	if !s.enabled {
		return s.mode
	}
	mean, ok := filter.OutsideMean(now)
	if !ok {
		if !s.warnedNoTemp {
			s.logger.Warn("no outdoor temperature available, auto-season disabled")
			s.warnedNoTemp = true
		}
		return s.mode
	}
	s.warnedNoTemp = false

	previous := s.mode
	switch s.mode {
	case "heat":
		if mean >= s.heatOffAbove {
			s.mode = "neutral"
		}
	case "cool":
		if mean <= s.coolOffBelow {
			s.mode = "neutral"
		}
	default:
		if mean <= s.heatOnBelow {
			s.mode = "heat"
		} else if mean >= s.coolOnAbove {
			s.mode = "cool"
		}
	}
	if s.mode != previous {
		s.logger.Info("season changed",
			slog.String("from", previous), slog.String("to", s.mode),
			slog.Float64("outsideMean", mean))
	}
	return s.mode
}

// Mode returns the current season mode.
func (s *SeasonManager) Mode() string {
	return s.mode
}

// Band maps an outdoor temperature to its band.
func (s *SeasonManager) Band(temp *float64) string {
	if temp == nil {
		return ""
	}
	switch {
	case *temp < s.bandColdMax:
		return "cold"
	case *temp < s.bandMildColdMax:
		return "mild_cold"
	case *temp < s.bandMildHotMax:
		return "mild_hot"
	default:
		return "hot"
	}
}
