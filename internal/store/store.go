// Package store persists the learned power estimates as a schema-versioned
// JSON document. Loading never fails hard: unreadable or corrupt state falls
// back to an empty document so the controller can always start.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// CurrentVersion is the version of the document schema written by Save.
const CurrentVersion = 2

// Document is the persisted container for learned values.
type Document struct {
	Version           int                                      `json:"version"`
	LearnedPower      map[string]map[string]float64            `json:"learned_power"`
	LearnedPowerBands map[string]map[string]map[string]float64 `json:"learned_power_bands"`
	Samples           int                                      `json:"samples"`
}

type Store struct {
	path      string
	bootstrap float64
	logger    *slog.Logger
}

// New returns a Store persisting to path. bootstrap is the initial power
// estimate assigned to modes that legacy documents never learned.
func New(path string, bootstrap float64, logger *slog.Logger) *Store {
	return &Store{path: path, bootstrap: bootstrap, logger: logger}
}

// Load reads the document from disk, migrating it forward if it was written
// by an older version. A missing or unreadable file yields an empty document.
func (s *Store) Load() Document {
	content, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Error("failed to read learned state, starting empty", slog.String("path", s.path), slog.Any("err", err))
		}
		return emptyDocument()
	}

	doc, err := Migrate(content, s.bootstrap)
	if err != nil {
		s.logger.Error("failed to parse learned state, starting empty", slog.String("path", s.path), slog.Any("err", err))
		return emptyDocument()
	}
	return doc
}

// Save writes the document atomically. Save failures are reported to the
// caller but must not stop the control loop: losing learned state is
// acceptable, corrupting it is not.
func (s *Store) Save(doc Document) error {
	content, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err = tmp.Write(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err = os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func emptyDocument() Document {
	return Document{
		Version:           CurrentVersion,
		LearnedPower:      make(map[string]map[string]float64),
		LearnedPowerBands: make(map[string]map[string]map[string]float64),
	}
}
