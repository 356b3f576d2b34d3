package program

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/halcyonmed/buddhactl/internal/protocol"
)

func writeProgram(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "program.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test program: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeProgram(t, `
name: wind-down
steps:
  - amplitude_pct: 80
    duration_ms: 30000
  - amplitude_pct: 40
    duration_ms: 15000
`)
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if p.Name != "wind-down" {
		t.Errorf("Name = %q, want %q", p.Name, "wind-down")
	}
	if len(p.Steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(p.Steps))
	}
	if p.TotalDuration() != 45*time.Second {
		t.Errorf("TotalDuration = %v, want 45s", p.TotalDuration())
	}

	steps := p.ToSteps()
	if steps[0] != (protocol.Step{AmplitudePct: 80, DurationMs: 30000}) {
		t.Errorf("ToSteps()[0] = %+v", steps[0])
	}
}

func TestLoadRejectsInvalidPrograms(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"no steps", "name: empty\n", "no steps"},
		{
			"amplitude out of range",
			"steps:\n  - amplitude_pct: 150\n    duration_ms: 1000\n",
			"amplitude_pct",
		},
		{
			"zero duration",
			"steps:\n  - amplitude_pct: 50\n    duration_ms: 0\n",
			"duration_ms",
		},
		{"not yaml", "steps: [((", "parsing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeProgram(t, tt.content))
			if err == nil {
				t.Fatal("Load() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateStepCap(t *testing.T) {
	p := &Program{}
	for i := 0; i <= protocol.MaxSteps; i++ {
		p.Steps = append(p.Steps, Step{AmplitudePct: 50, DurationMs: 100})
	}
	if err := p.Validate(); err == nil {
		t.Errorf("Validate() accepted %d steps, limit is %d", len(p.Steps), protocol.MaxSteps)
	}
	p.Steps = p.Steps[:protocol.MaxSteps]
	if err := p.Validate(); err != nil {
		t.Errorf("Validate() rejected a %d-step program: %v", len(p.Steps), err)
	}
}
