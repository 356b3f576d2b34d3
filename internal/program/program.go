// Package program loads treatment programs from YAML files and converts
// them into the wire-level step lists the device consumes.
package program

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/halcyonmed/buddhactl/internal/protocol"
)

// Program is a named treatment program.
type Program struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step is one program entry as written in a program file.
type Step struct {
	AmplitudePct int `yaml:"amplitude_pct"`
	DurationMs   int `yaml:"duration_ms"`
}

// Load reads and validates a program file.
func Load(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading program file: %w", err)
	}

	var p Program
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing program file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the program against the device's step-list limits.
func (p *Program) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("program has no steps")
	}
	if len(p.Steps) > protocol.MaxSteps {
		return fmt.Errorf("program has %d steps, device limit is %d", len(p.Steps), protocol.MaxSteps)
	}
	for i, s := range p.Steps {
		if s.AmplitudePct < 0 || s.AmplitudePct > 100 {
			return fmt.Errorf("step %d: amplitude_pct %d outside 0..100", i, s.AmplitudePct)
		}
		if s.DurationMs < 1 || s.DurationMs > 65535 {
			return fmt.Errorf("step %d: duration_ms %d outside 1..65535", i, s.DurationMs)
		}
	}
	return nil
}

// ToSteps converts the program to wire steps.
func (p *Program) ToSteps() []protocol.Step {
	steps := make([]protocol.Step, len(p.Steps))
	for i, s := range p.Steps {
		steps[i] = protocol.Step{AmplitudePct: s.AmplitudePct, DurationMs: s.DurationMs}
	}
	return steps
}

// TotalDuration is the summed run time of all steps.
func (p *Program) TotalDuration() time.Duration {
	var total int
	for _, s := range p.Steps {
		total += s.DurationMs
	}
	return time.Duration(total) * time.Millisecond
}
