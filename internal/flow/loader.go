// Package flow loads and validates flow definition files and watches
// them for changes.
package flow

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Metadata describes a flow definition.
type Metadata struct {
	Name              string   `json:"name"`
	Description       string   `json:"description,omitempty"`
	Author            string   `json:"author,omitempty"`
	Created           string   `json:"created,omitempty"`
	Modified          string   `json:"modified,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	TargetApplication string   `json:"targetApplication,omitempty"`
}

// Definition is a parsed flow file. The element bodies stay raw; the
// engine interprets them, the runner only counts and names them.
type Definition struct {
	Version     string            `json:"version"`
	Metadata    Metadata          `json:"metadata"`
	Images      []json.RawMessage `json:"images"`
	Processes   []json.RawMessage `json:"processes"`
	States      []json.RawMessage `json:"states"`
	Transitions []json.RawMessage `json:"transitions"`
	Settings    json.RawMessage   `json:"settings,omitempty"`

	path string
}

// ValidationError aggregates everything wrong with a definition.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid flow definition: " + strings.Join(e.Problems, ", ")
}

// Load reads and validates the flow definition at path.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flow definition: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, err
	}
	def.path = path
	return def, nil
}

// Parse validates a flow definition held in memory.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse flow definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks the structural requirements every definition must
// meet before it is offered to the engine.
func (d *Definition) Validate() error {
	var problems []string
	if d.Version == "" {
		problems = append(problems, "version is required")
	}
	if d.Metadata.Name == "" {
		problems = append(problems, "metadata name is required")
	}
	if len(d.States) == 0 {
		problems = append(problems, "at least one state is required")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Summary renders a one-line description with element counts.
func (d *Definition) Summary() string {
	return fmt.Sprintf("%s (v%s): states=%d processes=%d transitions=%d images=%d",
		d.Metadata.Name, d.Version, len(d.States), len(d.Processes), len(d.Transitions), len(d.Images))
}

// ProcessNames returns the identifier of each process that declares
// one, preferring name over id.
func (d *Definition) ProcessNames() []string {
	names := make([]string, 0, len(d.Processes))
	for _, raw := range d.Processes {
		var p struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			continue
		}
		switch {
		case p.Name != "":
			names = append(names, p.Name)
		case p.ID != "":
			names = append(names, p.ID)
		}
	}
	return names
}

// Path returns the file the definition was loaded from, or "".
func (d *Definition) Path() string {
	return d.path
}
