package session

import (
	"log"
	"os"
	"path/filepath"
	"sync"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/baton/internal/model"
	"github.com/msageha/baton/internal/yaml"
)

const historyFileType = "recording_history"

type historyFile struct {
	SchemaVersion int                           `yaml:"schema_version"`
	FileType      string                        `yaml:"file_type"`
	Entries       []model.RecordingHistoryEntry `yaml:"entries"`
}

// History keeps the most recent completed recordings, newest first,
// persisted to history.yaml under the baton directory. A corrupt file
// is quarantined and re-initialized; it never blocks startup.
type History struct {
	mu       sync.Mutex
	path     string
	batonDir string
	max      int
	entries  []model.RecordingHistoryEntry
}

func NewHistory(batonDir string, max int) *History {
	if max <= 0 {
		max = 5
	}
	h := &History{
		path:     filepath.Join(batonDir, "history.yaml"),
		batonDir: batonDir,
		max:      max,
	}
	h.load()
	return h
}

// Append inserts a completed recording at the front, trims to
// capacity, and persists.
func (h *History) Append(entry model.RecordingHistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append([]model.RecordingHistoryEntry{entry}, h.entries...)
	if len(h.entries) > h.max {
		h.entries = h.entries[:h.max]
	}
	return h.saveLocked()
}

// Entries returns the retained recordings, newest first.
func (h *History) Entries() []model.RecordingHistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]model.RecordingHistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

func (h *History) load() {
	data, err := os.ReadFile(h.path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		log.Printf("read history file %s: %v — starting with empty history", h.path, err)
		return
	}

	if err := yaml.ValidateSchemaHeaderFromBytes(data, historyFileType); err != nil {
		log.Printf("history file %s corrupted: %v", h.path, err)
		if err := yaml.RecoverCorruptedFile(h.batonDir, h.path, historyFileType); err != nil {
			log.Printf("history recovery failed: %v — starting with empty history", err)
			return
		}
		data, err = os.ReadFile(h.path)
		if err != nil {
			return
		}
	}

	var f historyFile
	if err := yamlv3.Unmarshal(data, &f); err != nil {
		log.Printf("parse history file %s: %v — starting with empty history", h.path, err)
		return
	}
	if len(f.Entries) > h.max {
		f.Entries = f.Entries[:h.max]
	}
	h.entries = f.Entries
}

func (h *History) saveLocked() error {
	f := historyFile{
		SchemaVersion: yaml.CurrentSchemaVersion,
		FileType:      historyFileType,
		Entries:       h.entries,
	}
	return yaml.AtomicWrite(h.path, f)
}
