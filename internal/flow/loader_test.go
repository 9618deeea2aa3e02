package flow

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validFlowJSON = `{
  "version": "1.0",
  "metadata": {"name": "checkout", "description": "Checkout smoke flow", "tags": ["smoke"]},
  "images": [{"id": "img-1"}, {"id": "img-2"}],
  "processes": [{"id": "p1", "name": "login"}, {"id": "p2", "name": "purchase"}],
  "states": [{"id": "s1", "name": "home"}, {"id": "s2", "name": "cart"}],
  "transitions": [{"from": "s1", "to": "s2"}]
}`

func TestLoad_Valid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkout.json")
	err := os.WriteFile(path, []byte(validFlowJSON), 0644)
	require.NoError(t, err)

	def, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "checkout", def.Metadata.Name)
	assert.Len(t, def.States, 2)
	assert.Len(t, def.Processes, 2)
	assert.Len(t, def.Images, 2)
	assert.Len(t, def.Transitions, 1)
	assert.Equal(t, path, def.Path())

	summary := def.Summary()
	assert.Contains(t, summary, "checkout (v1.0)")
	assert.Contains(t, summary, "states=2")
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		json     string
		problems int
		errMsg   string
	}{
		{
			name:     "missing version",
			json:     `{"metadata": {"name": "a"}, "states": [{}]}`,
			problems: 1,
			errMsg:   "version is required",
		},
		{
			name:     "missing name",
			json:     `{"version": "1.0", "metadata": {}, "states": [{}]}`,
			problems: 1,
			errMsg:   "metadata name is required",
		},
		{
			name:     "no states",
			json:     `{"version": "1.0", "metadata": {"name": "a"}, "states": []}`,
			problems: 1,
			errMsg:   "at least one state is required",
		},
		{
			name:     "everything missing",
			json:     `{}`,
			problems: 3,
			errMsg:   "invalid flow definition",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.json))
			require.Error(t, err)

			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr), "want ValidationError, got %v", err)
			assert.Len(t, vErr.Problems, tt.problems)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestParse_MalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`{"version": "1.0",`))
	require.Error(t, err)

	// Malformed JSON is a parse failure, not a validation failure.
	var vErr *ValidationError
	assert.False(t, errors.As(err, &vErr))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestProcessNames(t *testing.T) {
	def, err := Parse([]byte(`{
  "version": "1.0",
  "metadata": {"name": "naming"},
  "states": [{}],
  "processes": [{"id": "p1", "name": "login"}, {"id": "p2"}, {"comment": "unnamed"}]
}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"login", "p2"}, def.ProcessNames())
}
