// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/athrael-soju/Snappy-sub002/services/orchestrator/datatypes"
)

// =============================================================================
// Preferences
// =============================================================================

// Preferences remembers the last-used retrieval settings between runs so a
// user who always asks detailed questions with k=10 does not repeat the
// flags every time. Flags still win over the stored values.
type Preferences struct {
	K       int    `json:"k"`
	Effort  string `json:"effort"`
	Summary string `json:"summary"`
}

// defaultPreferences are used on first run or when the file is unreadable.
func defaultPreferences() Preferences {
	return Preferences{
		K:       datatypes.KDefault,
		Effort:  string(datatypes.ReasoningEffortMinimal),
		Summary: string(datatypes.SummaryAuto),
	}
}

// preferencesPath returns the on-disk location, ~/.snappy/preferences.json.
func preferencesPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".snappy", "preferences.json"), nil
}

// LoadPreferences reads stored preferences, falling back to defaults on any
// failure. A corrupt or missing file is not an error the user can act on.
func LoadPreferences() Preferences {
	path, err := preferencesPath()
	if err != nil {
		return defaultPreferences()
	}
	return loadPreferencesFrom(path)
}

func loadPreferencesFrom(path string) Preferences {
	prefs := defaultPreferences()

	raw, err := os.ReadFile(path)
	if err != nil {
		return prefs
	}
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return defaultPreferences()
	}

	if prefs.K == 0 {
		prefs.K = datatypes.KDefault
	}
	prefs.K = datatypes.ClampK(prefs.K)
	prefs.Effort = string(datatypes.ParseReasoningEffort(prefs.Effort))
	prefs.Summary = string(datatypes.ParseSummaryPreference(prefs.Summary))
	if prefs.Summary == "" {
		prefs.Summary = string(datatypes.SummaryAuto)
	}
	return prefs
}

// SavePreferences writes the preferences, creating ~/.snappy if needed.
// Failures are returned but callers treat them as non-fatal.
func SavePreferences(prefs Preferences) error {
	path, err := preferencesPath()
	if err != nil {
		return err
	}
	return savePreferencesTo(path, prefs)
}

func savePreferencesTo(path string, prefs Preferences) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(prefs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
