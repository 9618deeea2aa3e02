package yaml

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateSchemaHeader_Valid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.yaml")

	content := []byte("schema_version: 1\nfile_type: recording_history\nentries: []\n")
	os.WriteFile(path, content, 0644)

	if err := ValidateSchemaHeader(path, "recording_history"); err != nil {
		t.Errorf("expected valid, got error: %v", err)
	}
}

func TestValidateSchemaHeader_UnsupportedVersion(t *testing.T) {
	content := []byte("schema_version: 99\nfile_type: recording_history\n")
	err := ValidateSchemaHeaderFromBytes(content, "recording_history")
	if err == nil {
		t.Error("expected error for unsupported version")
	}
}

func TestValidateSchemaHeader_NegativeVersion(t *testing.T) {
	content := []byte("schema_version: -1\nfile_type: recording_history\n")
	err := ValidateSchemaHeaderFromBytes(content, "recording_history")
	if err == nil {
		t.Error("expected error for negative schema_version")
	}
}

func TestValidateSchemaHeader_MissingVersion(t *testing.T) {
	content := []byte("file_type: recording_history\n")
	err := ValidateSchemaHeaderFromBytes(content, "recording_history")
	if err == nil {
		t.Error("expected error for missing schema_version")
	}
}

func TestValidateSchemaHeader_MissingFileType(t *testing.T) {
	content := []byte("schema_version: 1\n")
	err := ValidateSchemaHeaderFromBytes(content, "recording_history")
	if err == nil {
		t.Error("expected error for missing file_type")
	}
}

func TestValidateSchemaHeader_UnknownFileType(t *testing.T) {
	content := []byte("schema_version: 1\nfile_type: unknown_type\n")
	err := ValidateSchemaHeaderFromBytes(content, "unknown_type")
	if err == nil {
		t.Error("expected error for unknown file_type")
	}
}

func TestValidateSchemaHeader_FileTypeMismatch(t *testing.T) {
	content := []byte("schema_version: 1\nfile_type: recording_history\n")
	err := ValidateSchemaHeaderFromBytes(content, "session_log")
	if err == nil {
		t.Error("expected error for file_type mismatch")
	}
}

func TestValidateSchemaHeader_EmptyExpectedType(t *testing.T) {
	content := []byte("schema_version: 1\nfile_type: recording_history\n")
	if err := ValidateSchemaHeaderFromBytes(content, ""); err != nil {
		t.Errorf("expected valid when no expected type specified, got: %v", err)
	}
}

func TestNeedsMigration(t *testing.T) {
	if NeedsMigration(CurrentSchemaVersion) {
		t.Error("current version should not need migration")
	}
	if !NeedsMigration(0) {
		t.Error("version 0 should need migration")
	}
}
