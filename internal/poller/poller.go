// Package poller periodically reads all configured Home Assistant entities
// and publishes complete telemetry updates to its subscribers.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/clambin/solar-ac-controller/internal/configuration"
	"github.com/clambin/solar-ac-controller/internal/homeassistant"
	"github.com/clambin/solar-ac-controller/pkg/pubsub"
	"golang.org/x/sync/errgroup"
)

type Poller interface {
	Subscribe() chan Update
	Unsubscribe(ch chan Update)
	Refresh()
}

type StateGetter interface {
	GetState(ctx context.Context, entityID string) (homeassistant.State, error)
}

var _ Poller = &HAPoller{}

type HAPoller struct {
	HAClient StateGetter
	*pubsub.Publisher[Update]
	config   configuration.Configuration
	interval time.Duration
	logger   *slog.Logger
	refresh  chan struct{}
}

func New(haClient StateGetter, config configuration.Configuration, interval time.Duration, logger *slog.Logger) *HAPoller {
	return &HAPoller{
		HAClient:  haClient,
		Publisher: pubsub.New[Update](logger.With(slog.String("component", "registry"))),
		config:    config,
		interval:  interval,
		logger:    logger,
		refresh:   make(chan struct{}),
	}
}

func (p *HAPoller) Run(ctx context.Context) error {
	p.logger.Debug("started", slog.Duration("interval", p.interval))
	defer p.logger.Debug("stopped")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.refresh:
		}

		// incomplete telemetry skips the cycle. it will be retried on the
		// next tick, with no backoff beyond the poll interval.
		if err := p.poll(ctx); err != nil {
			p.logger.Warn("telemetry incomplete, skipping cycle", slog.Any("err", err))
		}
	}
}

func (p *HAPoller) Refresh() {
	p.refresh <- struct{}{}
}

func (p *HAPoller) poll(ctx context.Context) error {
	start := time.Now()
	update, err := p.update(ctx)
	if err != nil {
		return err
	}
	p.Publisher.Publish(update)
	p.logger.Debug("poll completed", slog.Duration("duration", time.Since(start)))
	return nil
}

func (p *HAPoller) update(ctx context.Context) (Update, error) {
	update := Update{Timestamp: time.Now()}

	var err error
	if update.SolarPower, err = p.getPower(ctx, p.config.SolarSensor); err != nil {
		return Update{}, err
	}
	if update.GridPower, err = p.getPower(ctx, p.config.GridSensor); err != nil {
		return Update{}, err
	}
	if update.LoadPower, err = p.getPower(ctx, p.config.LoadSensor); err != nil {
		return Update{}, err
	}
	update.OutsideTemp = p.getOptionalValue(ctx, p.config.OutsideSensor)
	if update.Master, err = p.getMaster(ctx); err != nil {
		return Update{}, err
	}
	if update.Zones, err = p.getZones(ctx); err != nil {
		return Update{}, err
	}
	return update, nil
}

func (p *HAPoller) getPower(ctx context.Context, entityID string) (float64, error) {
	state, err := p.HAClient.GetState(ctx, entityID)
	if err != nil {
		return 0, err
	}
	if state.IsUnavailable() {
		return 0, fmt.Errorf("%s: unavailable", entityID)
	}
	value, err := strconv.ParseFloat(state.State, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: non-numeric value %q", entityID, state.State)
	}
	return value, nil
}

// getOptionalValue reads an optional sensor. A missing or unavailable
// optional sensor does not fail the cycle: the features that depend on it
// degrade explicitly instead.
func (p *HAPoller) getOptionalValue(ctx context.Context, entityID string) *float64 {
	if entityID == "" {
		return nil
	}
	value, err := p.getPower(ctx, entityID)
	if err != nil {
		p.logger.Debug("optional sensor unavailable", slog.String("entity", entityID), slog.Any("err", err))
		return nil
	}
	return &value
}

func (p *HAPoller) getMaster(ctx context.Context) (*bool, error) {
	if p.config.MasterSwitch == "" {
		return nil, nil
	}
	state, err := p.HAClient.GetState(ctx, p.config.MasterSwitch)
	if err != nil {
		return nil, err
	}
	if state.IsUnavailable() {
		return nil, fmt.Errorf("%s: unavailable", p.config.MasterSwitch)
	}
	on := state.State == "on"
	return &on, nil
}

func (p *HAPoller) getZones(ctx context.Context) (map[string]ZoneState, error) {
	zones := make(map[string]ZoneState, len(p.config.Zones))
	var lock sync.Mutex
	var g errgroup.Group

	for _, zone := range p.config.Zones {
		g.Go(func() error {
			state, err := p.HAClient.GetState(ctx, zone.Entity)
			if err != nil {
				return err
			}
			if state.IsUnavailable() {
				return fmt.Errorf("%s: unavailable", zone.Entity)
			}
			z := zoneStateFromEntity(state)
			z.Temperature = p.getOptionalValue(ctx, zone.TempSensor)

			lock.Lock()
			zones[zone.Name] = z
			lock.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return zones, nil
}
