package controller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clambin/solar-ac-controller/internal/configuration"
)

// CommandCaller issues actuation commands to the home automation hub.
type CommandCaller interface {
	CallService(ctx context.Context, domain, service, entityID string) error
	SetHVACMode(ctx context.Context, entityID, mode string) error
}

// Sequencer serializes physical on/off commands. A command goes to the
// entity's native domain (climate, switch or input_boolean) and falls back to
// the climate service once if the native call errors. After every command the
// sequencer pauses for the configured inter-action delay; the pause is not
// cancellable, so a shutdown mid-sequence never leaves a load half-switched.
type Sequencer struct {
	ha          CommandCaller
	actionDelay time.Duration
	logger      *slog.Logger
}

func NewSequencer(ha CommandCaller, cfg configuration.Configuration, logger *slog.Logger) *Sequencer {
	return &Sequencer{ha: ha, actionDelay: cfg.ActionDelay, logger: logger}
}

// TurnOn switches the entity on and, for climate entities in a heating or
// cooling season, sets the matching hvac mode. It then pauses.
func (s *Sequencer) TurnOn(ctx context.Context, entity, seasonMode string) error {
	if err := s.call(ctx, entity, "turn_on"); err != nil {
		return err
	}
	if entityDomain(entity) == "climate" && (seasonMode == "heat" || seasonMode == "cool") {
		if err := s.ha.SetHVACMode(ctx, entity, seasonMode); err != nil {
			s.logger.Warn("failed to set hvac mode",
				slog.String("entity", entity), slog.String("mode", seasonMode), slog.Any("err", err))
		}
	}
	s.pause()
	return nil
}

// TurnOff switches the entity off and pauses.
func (s *Sequencer) TurnOff(ctx context.Context, entity string) error {
	if err := s.call(ctx, entity, "turn_off"); err != nil {
		return err
	}
	s.pause()
	return nil
}

// Switch drives a relay (the master) without the climate fallback.
func (s *Sequencer) Switch(ctx context.Context, entity string, on bool) error {
	service := "turn_off"
	if on {
		service = "turn_on"
	}
	if err := s.ha.CallService(ctx, entityDomain(entity), service, entity); err != nil {
		return fmt.Errorf("%s %s: %w", service, entity, err)
	}
	s.pause()
	return nil
}

func (s *Sequencer) call(ctx context.Context, entity, service string) error {
	domain := entityDomain(entity)
	err := s.ha.CallService(ctx, domain, service, entity)
	if err == nil {
		return nil
	}
	s.logger.Debug("primary service call failed, retrying via climate",
		slog.String("domain", domain), slog.String("service", service),
		slog.String("entity", entity), slog.Any("err", err))

	if fallbackErr := s.ha.CallService(ctx, "climate", service, entity); fallbackErr != nil {
		return fmt.Errorf("%s %s: %w (climate fallback: %w)", service, entity, err, fallbackErr)
	}
	s.logger.Warn("primary service call failed, climate fallback succeeded",
		slog.String("domain", domain), slog.String("service", service), slog.String("entity", entity))
	return nil
}

func (s *Sequencer) pause() {
	if s.actionDelay > 0 {
		time.Sleep(s.actionDelay)
	}
}

func entityDomain(entity string) string {
	domain, _, _ := strings.Cut(entity, ".")
	return domain
}
