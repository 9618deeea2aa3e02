// Package setup handles baton project initialization.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/msageha/baton/internal/model"
	atomicyaml "github.com/msageha/baton/internal/yaml"
	"github.com/msageha/baton/templates"
)

const batonDir = ".baton"

// Run initializes the .baton/ directory structure in the given project
// directory. engineCommand overrides the default engine invocation when
// non-empty.
func Run(projectDir, engineCommand string) error {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}

	base := filepath.Join(absDir, batonDir)

	if _, err := os.Stat(base); err == nil {
		return fmt.Errorf("%s already exists", base)
	}

	// Create directory structure
	dirs := []string{
		"flows",
		"locks",
		"logs",
		"quarantine",
		"recordings",
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	// Copy the example flow definition
	examplePath := filepath.Join(base, "flows", "example.json")
	if err := copyTemplateFile("flow.example.json", examplePath); err != nil {
		return err
	}

	// Generate and write config.yaml with auto-filled fields
	cfg := generateConfig(examplePath, engineCommand)
	if err := writeYAMLAtomic(filepath.Join(base, "config.yaml"), cfg); err != nil {
		return fmt.Errorf("write config.yaml: %w", err)
	}

	// Create the recording history file
	if err := writeSchemaFile(filepath.Join(base, "history.yaml"), "recording_history", "entries"); err != nil {
		return err
	}

	// Create runner.lock (empty)
	if err := os.WriteFile(filepath.Join(base, "locks", "runner.lock"), nil, 0600); err != nil {
		return fmt.Errorf("create runner.lock: %w", err)
	}

	return nil
}

func copyTemplateFile(name, dst string) error {
	data, err := fs.ReadFile(templates.FS, name)
	if err != nil {
		return fmt.Errorf("read template %s: %w", name, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

func generateConfig(flowPath, engineCommand string) *model.Config {
	cfg := model.DefaultConfig()
	if engineCommand != "" {
		cfg.Engine.Command = engineCommand
		cfg.Engine.Args = nil
	}
	cfg.Flow.Path = flowPath
	return cfg
}

func writeYAMLAtomic(path string, v any) error {
	return atomicyaml.AtomicWrite(path, v)
}

func writeSchemaFile(path, fileType, listField string) error {
	content := fmt.Sprintf("schema_version: 1\nfile_type: %q\n%s: []\n", fileType, listField)
	return atomicyaml.AtomicWriteRaw(path, []byte(content))
}
