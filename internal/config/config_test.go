package config_test

import (
	"testing"

	"callboard/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default("regional-finals")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Event.Name != "regional-finals" {
		t.Fatalf("event name not applied: %q", cfg.Event.Name)
	}
	if len(cfg.Disciplines) == 0 {
		t.Fatalf("default catalog should not be empty")
	}
	if cfg.Telegram.PollTimeoutSeconds != 30 {
		t.Fatalf("unexpected poll timeout: %d", cfg.Telegram.PollTimeoutSeconds)
	}
}

func TestFromYAMLRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"negative poll timeout": `
telegram:
  poll_timeout_seconds: -1
`,
		"empty discipline": `
disciplines:
  - welding
  - ""
`,
		"duplicate discipline": `
disciplines:
  - welding
  - welding
`,
		"webhook without url": `
webhooks:
  - events: [call.created]
`,
	}
	for name, raw := range cases {
		if _, err := config.FromYAML([]byte(raw)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestHasDiscipline(t *testing.T) {
	cfg := &config.Config{Disciplines: []string{"welding", "cooking"}}
	if !cfg.HasDiscipline("welding") {
		t.Fatalf("catalog entry not found")
	}
	if cfg.HasDiscipline("juggling") {
		t.Fatalf("unknown discipline accepted")
	}
	open := &config.Config{}
	if !open.HasDiscipline("anything") {
		t.Fatalf("empty catalog must accept any discipline")
	}
}
