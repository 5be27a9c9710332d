// Package history persists one record per monitored call.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"firestige.xyz/callmon/internal/core"
	"firestige.xyz/callmon/internal/log"
)

// Store is the persistence interface for call records.
// All implementations must be safe for concurrent use.
type Store interface {
	// Save persists a Record, overwriting any existing record for the same ID.
	Save(rec Record) error
	// Load retrieves a single Record by ID.
	// Returns os.ErrNotExist (via errors.Is) when not found.
	Load(id string) (Record, error)
	// Delete removes a record. Returns nil when it does not exist.
	Delete(id string) error
	// List returns all records ordered by start time, oldest first;
	// corrupt entries are logged and skipped.
	List() ([]Record, error)
}

// Record is the on-disk format of one call.
type Record struct {
	Version     string                 `json:"version" yaml:"version"`
	ID          string                 `json:"id" yaml:"id"`
	Node        string                 `json:"node,omitempty" yaml:"node,omitempty"`
	Session     string                 `json:"session" yaml:"session"`
	Identity    string                 `json:"identity,omitempty" yaml:"identity,omitempty"`
	Origin      string                 `json:"origin,omitempty" yaml:"origin,omitempty"`
	Destination string                 `json:"destination,omitempty" yaml:"destination,omitempty"`
	State       core.MonitorState      `json:"state" yaml:"state"`
	Reason      core.TerminationReason `json:"reason,omitempty" yaml:"reason,omitempty"`
	Terminated  bool                   `json:"terminated,omitempty" yaml:"terminated,omitempty"` // force-removed by an operator
	StartedAt   time.Time              `json:"started_at" yaml:"started_at"`
	EndedAt     time.Time              `json:"ended_at" yaml:"ended_at"`
	Polls       int                    `json:"polls" yaml:"polls"`
	Error       string                 `json:"error,omitempty" yaml:"error,omitempty"`
	Attributes  map[string]string      `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Duration returns how long the call was observed.
func (r Record) Duration() time.Duration {
	if r.EndedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// recordVersion is the current on-disk format version.
const recordVersion = "v1"

// RecordID derives a file-safe record ID from a session name and start time.
func RecordID(session string, startedAt time.Time) string {
	var b strings.Builder
	for _, r := range session {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		b.WriteString("session")
	}
	return fmt.Sprintf("%s.%d", b.String(), startedAt.UnixMilli())
}

// FileStore persists records as individual JSON files under a directory.
// Writes use temp-file + atomic rename.
type FileStore struct {
	dir string
	log log.Logger
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("history: create directory %q: %w", dir, err)
	}
	return &FileStore{dir: dir, log: log.GetLogger().WithField("component", "history")}, nil
}

// Dir returns the directory records are stored in.
func (s *FileStore) Dir() string { return s.dir }

// Save atomically writes rec using a unique temp file + rename.
func (s *FileStore) Save(rec Record) error {
	if err := validID(rec.ID); err != nil {
		return err
	}
	if rec.Version == "" {
		rec.Version = recordVersion
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("history: marshal %q: %w", rec.ID, err)
	}

	tmpFile, err := os.CreateTemp(s.dir, "."+rec.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("history: create temp file for %q: %w", rec.ID, err)
	}
	tmpName := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("history: write temp file for %q: %w", rec.ID, err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("history: close temp file for %q: %w", rec.ID, err)
	}

	final := s.path(rec.ID)
	if err := os.Rename(tmpName, final); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("history: rename temp to %q: %w", final, err)
	}

	s.log.WithFields(map[string]interface{}{"id": rec.ID, "reason": rec.Reason}).Debug("call record persisted")
	return nil
}

// Load reads the record with the given id.
func (s *FileStore) Load(id string) (Record, error) {
	if err := validID(id); err != nil {
		return Record{}, err
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, fmt.Errorf("history: %q not found: %w", id, os.ErrNotExist)
		}
		return Record{}, fmt.Errorf("history: read %q: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("history: unmarshal %q: %w", id, err)
	}
	return rec, nil
}

// Delete removes the record file for id.
func (s *FileStore) Delete(id string) error {
	if err := validID(id); err != nil {
		return err
	}
	err := os.Remove(s.path(id))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("history: delete %q: %w", id, err)
	}
	return nil
}

// List reads all {id}.json files in the directory.
// Unrecognised file names (including .tmp files) are ignored.
func (s *FileStore) List() ([]Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("history: read directory %q: %w", s.dir, err)
	}

	var records []Record
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		rec, err := s.Load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			s.log.WithError(err).WithField("file", filepath.Join(s.dir, name)).Warn("skipping unreadable call record")
			continue
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
	return records, nil
}

// path returns the path to the JSON file for a given record ID.
func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("history: invalid record id %q", id)
	}
	return nil
}

// Prune deletes the oldest records so that at most keep remain.
// keep <= 0 disables pruning. It returns the number of records removed.
func Prune(s Store, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	records, err := s.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for len(records)-removed > keep {
		if err := s.Delete(records[removed].ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// NoopStore does nothing; it is used when history is disabled.
type NoopStore struct{}

func (NoopStore) Save(Record) error           { return nil }
func (NoopStore) Load(string) (Record, error) { return Record{}, os.ErrNotExist }
func (NoopStore) Delete(string) error         { return nil }
func (NoopStore) List() ([]Record, error)     { return nil, nil }

var (
	_ Store = (*FileStore)(nil)
	_ Store = NoopStore{}
)
