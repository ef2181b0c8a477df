package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	// Contest resolution.
	ActionCooldownMs       int `yaml:"action_cooldown_ms"`
	InitialDefensePermille int `yaml:"initial_defense_permille"`
	CaptureResetPermille   int `yaml:"capture_reset_permille"`
	ContestDurationHours   int `yaml:"contest_duration_hours"`
	PartyChangeCooldownH   int `yaml:"party_change_cooldown_hours"`

	Reconnect Reconnect `yaml:"reconnect"`
	EventRate EventRate `yaml:"event_rate"`
}

type Reconnect struct {
	BaseDelayMs int `yaml:"base_delay_ms"`
	MaxDelayMs  int `yaml:"max_delay_ms"`
	JitterMs    int `yaml:"jitter_ms"`
	MaxAttempts int `yaml:"max_attempts"`
}

type EventRate struct {
	WindowSeconds    int `yaml:"window_seconds"`
	RecomputeEveryMs int `yaml:"recompute_every_ms"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:        "1.0",
		ActionCooldownMs:       100,
		InitialDefensePermille: 500,
		CaptureResetPermille:   50,
		ContestDurationHours:   720,
		PartyChangeCooldownH:   24,
		Reconnect: Reconnect{
			BaseDelayMs: 1000,
			MaxDelayMs:  30000,
			JitterMs:    1000,
			MaxAttempts: 10,
		},
		EventRate: EventRate{
			WindowSeconds:    60,
			RecomputeEveryMs: 2000,
		},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if t.ActionCooldownMs <= 0 {
		return t, fmt.Errorf("tuning.yaml: action_cooldown_ms must be positive")
	}
	if t.CaptureResetPermille < 0 || t.CaptureResetPermille > 1000 {
		return t, fmt.Errorf("tuning.yaml: capture_reset_permille out of range")
	}
	if t.InitialDefensePermille < 0 || t.InitialDefensePermille > 1000 {
		return t, fmt.Errorf("tuning.yaml: initial_defense_permille out of range")
	}
	return t, nil
}
