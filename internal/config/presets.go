package config

import (
	"fmt"
	"slices"
	"strings"
)

// Preset is a named horde tuning applied on top of a loaded config.
type Preset string

const (
	PresetCalm   Preset = "calm"
	PresetNormal Preset = "normal"
	PresetSwarm  Preset = "swarm"
)

// ParsePreset accepts a preset name in any case. Empty means normal.
func ParsePreset(name string) (Preset, error) {
	switch p := Preset(strings.ToLower(strings.TrimSpace(name))); p {
	case "":
		return PresetNormal, nil
	case PresetCalm, PresetNormal, PresetSwarm:
		return p, nil
	default:
		return "", fmt.Errorf("config: unknown preset %q (want calm, normal or swarm)", name)
	}
}

// ApplyPreset scales the horde. Peers must apply the same preset.
func ApplyPreset(cfg *ArenaConfig, preset Preset) {
	switch preset {
	case PresetCalm:
		cfg.Horde.Count /= 2
		cfg.Horde.Health = max(1, cfg.Horde.Health-1)
		cfg.Horde.AttackCooldownSec *= 2
	case PresetSwarm:
		cfg.Horde.Count *= 2
		cfg.Horde.AttackCooldownSec /= 2
		cfg.Horde.Kinds = append(slices.Clone(cfg.Horde.Kinds), "runner", "runner")
	}
}
