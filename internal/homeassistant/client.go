// Package homeassistant implements the subset of the Home Assistant REST API
// the controller needs: reading entity states and calling services.
package homeassistant

import (
	"context"
	"fmt"
	"net/http"

	"github.com/clambin/go-common/http/metrics"
	"github.com/clambin/go-common/http/roundtripper"
	"github.com/go-resty/resty/v2"
)

// State is the state object returned by /api/states/<entity_id>.
type State struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// IsUnavailable reports whether the entity carries one of Home Assistant's
// "no usable value" sentinels.
func (s State) IsUnavailable() bool {
	return s.State == "" || s.State == "unknown" || s.State == "unavailable"
}

type Client struct {
	client *resty.Client
}

// New creates a Client for the Home Assistant instance at url, authenticating
// with the given long-lived access token. If requestMetrics is not nil, the
// underlying transport is instrumented with it.
func New(url, token string, requestMetrics metrics.RequestMetrics) *Client {
	c := resty.New().
		SetBaseURL(url).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json")

	if requestMetrics != nil {
		c.SetTransport(roundtripper.New(
			roundtripper.WithRequestMetrics(requestMetrics),
			roundtripper.WithRoundTripper(http.DefaultTransport),
		))
	}
	return &Client{client: c}
}

// GetState returns the current state of an entity.
func (c *Client) GetState(ctx context.Context, entityID string) (State, error) {
	var state State
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&state).
		Get("/api/states/" + entityID)
	if err != nil {
		return State{}, fmt.Errorf("get state %s: %w", entityID, err)
	}
	if resp.IsError() {
		return State{}, fmt.Errorf("get state %s: %s", entityID, resp.Status())
	}
	return state, nil
}

// CallService calls a Home Assistant service (e.g. climate.turn_on) for the
// given entity.
func (c *Client) CallService(ctx context.Context, domain, service, entityID string) error {
	return c.call(ctx, domain, service, map[string]any{"entity_id": entityID})
}

// SetHVACMode sets the hvac mode of a climate entity.
func (c *Client) SetHVACMode(ctx context.Context, entityID, mode string) error {
	return c.call(ctx, "climate", "set_hvac_mode", map[string]any{"entity_id": entityID, "hvac_mode": mode})
}

func (c *Client) call(ctx context.Context, domain, service string, body map[string]any) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/api/services/" + domain + "/" + service)
	if err != nil {
		return fmt.Errorf("call %s.%s: %w", domain, service, err)
	}
	if resp.IsError() {
		return fmt.Errorf("call %s.%s: %s", domain, service, resp.Status())
	}
	return nil
}
