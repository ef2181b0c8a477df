package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	if d.ActionCooldownMs != 100 {
		t.Fatalf("action cooldown=%d, want 100", d.ActionCooldownMs)
	}
	if d.InitialDefensePermille != 500 || d.CaptureResetPermille != 50 {
		t.Fatalf("defense permilles: %d/%d", d.InitialDefensePermille, d.CaptureResetPermille)
	}
	if d.PartyChangeCooldownH != 24 {
		t.Fatalf("party change cooldown=%d, want 24", d.PartyChangeCooldownH)
	}
	if d.Reconnect.MaxAttempts != 10 || d.Reconnect.MaxDelayMs != 30000 {
		t.Fatalf("reconnect defaults: %+v", d.Reconnect)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	body := []byte("action_cooldown_ms: 250\nreconnect:\n  max_attempts: 3\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ActionCooldownMs != 250 {
		t.Fatalf("override ignored: %d", got.ActionCooldownMs)
	}
	if got.Reconnect.MaxAttempts != 3 {
		t.Fatalf("nested override ignored: %+v", got.Reconnect)
	}
	// Untouched keys keep their defaults.
	if got.CaptureResetPermille != 50 {
		t.Fatalf("default lost: %d", got.CaptureResetPermille)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"zero cooldown":      "action_cooldown_ms: 0\n",
		"permille too large": "capture_reset_permille: 1001\n",
		"negative permille":  "initial_defense_permille: -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tuning.yaml")
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("want validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("want IsNotExist, got %v", err)
	}
}

func TestShippedTuningLoads(t *testing.T) {
	got, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("load shipped tuning: %v", err)
	}
	if got.ProtocolVersion != "1.0" {
		t.Fatalf("protocol version: %q", got.ProtocolVersion)
	}
}
