package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Migrate parses a persisted document of any prior schema version and
// normalizes it to the current shape:
//
//   - v0 stored learned power as a bare number per zone (or null for a zone
//     that never completed a sample); numbers are promoted to a per-mode map,
//     null entries start over at the bootstrap estimate.
//   - v1 stored per-mode maps but no band table.
//   - v2 (current) adds learned_power_bands.
//
// Well-formed fields survive unchanged. Every zone carries all three modes
// after migration; modes that were never learned start at the bootstrap
// estimate rather than borrowing another mode's value. Malformed entries are
// dropped rather than guessed at; negative wattages are clamped to zero.
func Migrate(content []byte, bootstrap float64) (Document, error) {
	var raw struct {
		Version           int                                      `json:"version"`
		LearnedPower      map[string]json.RawMessage               `json:"learned_power"`
		LearnedPowerBands map[string]map[string]map[string]float64 `json:"learned_power_bands"`
		Samples           int                                      `json:"samples"`
	}
	if err := json.Unmarshal(content, &raw); err != nil {
		return Document{}, fmt.Errorf("unmarshal: %w", err)
	}

	doc := emptyDocument()
	doc.Samples = raw.Samples

	for zone, entry := range raw.LearnedPower {
		modes, err := migrateZone(entry, bootstrap)
		if err != nil {
			continue
		}
		doc.LearnedPower[zone] = modes
	}

	for zone, modeBands := range raw.LearnedPowerBands {
		normalized := make(map[string]map[string]float64, len(modeBands))
		for mode, bands := range modeBands {
			normalizedBands := make(map[string]float64, len(bands))
			for band, watts := range bands {
				normalizedBands[strings.ToLower(band)] = max(0, watts)
			}
			normalized[strings.ToLower(mode)] = normalizedBands
		}
		doc.LearnedPowerBands[zone] = normalized
	}

	return doc, nil
}

func migrateZone(entry json.RawMessage, bootstrap float64) (map[string]float64, error) {
	// a null entry means the zone never completed a sample; start it over at
	// the bootstrap estimate. A zero estimate would report its power draw as
	// free and get the zone added without any export headroom.
	if string(bytes.TrimSpace(entry)) == "null" {
		return map[string]float64{"default": bootstrap, "heat": bootstrap, "cool": bootstrap}, nil
	}

	// v0: a bare number is promoted to a per-mode map
	var watts float64
	if err := json.Unmarshal(entry, &watts); err == nil {
		watts = max(0, watts)
		return map[string]float64{"default": watts, "heat": watts, "cool": watts}, nil
	}

	var modes map[string]float64
	if err := json.Unmarshal(entry, &modes); err != nil {
		return nil, err
	}

	normalized := make(map[string]float64, len(modes))
	for mode, watts := range modes {
		normalized[strings.ToLower(mode)] = max(0, watts)
	}
	for _, mode := range []string{"default", "heat", "cool"} {
		if _, ok := normalized[mode]; !ok {
			normalized[mode] = bootstrap
		}
	}
	return normalized, nil
}
