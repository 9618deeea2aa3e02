package yaml

import (
	"fmt"
	"os"

	yamlv3 "gopkg.in/yaml.v3"
)

const CurrentSchemaVersion = 1

// The runner persists a single schema-headed file type today. The
// header machinery stays general so more can be added.
var validFileTypes = map[string]bool{
	"recording_history": true,
}

// SchemaHeader is the leading field pair every persisted state file
// carries.
type SchemaHeader struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`
}

// Check validates the version range and file type. expectedFileType
// may be empty to accept any known type.
func (h SchemaHeader) Check(expectedFileType string) error {
	switch {
	case h.SchemaVersion < 1:
		return fmt.Errorf("invalid schema_version %d (must be >= 1)", h.SchemaVersion)
	case h.SchemaVersion > CurrentSchemaVersion:
		return fmt.Errorf("unsupported schema_version %d (max supported: %d)", h.SchemaVersion, CurrentSchemaVersion)
	case h.FileType == "":
		return fmt.Errorf("missing file_type")
	case !validFileTypes[h.FileType]:
		return fmt.Errorf("unknown file_type: %q", h.FileType)
	case expectedFileType != "" && h.FileType != expectedFileType:
		return fmt.Errorf("file_type mismatch: got %q, expected %q", h.FileType, expectedFileType)
	}
	return nil
}

func ValidateSchemaHeader(path string, expectedFileType string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	return ValidateSchemaHeaderFromBytes(content, expectedFileType)
}

func ValidateSchemaHeaderFromBytes(content []byte, expectedFileType string) error {
	var header SchemaHeader
	if err := yamlv3.Unmarshal(content, &header); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return header.Check(expectedFileType)
}

func NeedsMigration(schemaVersion int) bool {
	return schemaVersion < CurrentSchemaVersion
}
