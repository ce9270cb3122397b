package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/user/handoff/internal/types"
)

// SnapshotVersion is the snapshot document format written by Save.
// Documents without a version field are read as version 1.
const SnapshotVersion = 1

var errMalformed = errors.New("malformed snapshot")

// snapshotDoc is the on-disk format:
//
//	{"version": 1, "lastUpdated": ..., "transfers": [[id, record], ...], "agents": [[id, status], ...]}
type snapshotDoc struct {
	Version     int                                            `json:"version"`
	LastUpdated time.Time                                      `json:"lastUpdated"`
	Transfers   []pair[types.TransferID, types.TransferRecord] `json:"transfers"`
	Agents      []pair[types.AgentID, types.AgentStatus]       `json:"agents"`
}

// pair encodes a map entry as a two-element JSON array.
type pair[K ~string, V any] struct {
	Key   K
	Value *V
}

func (p pair[K, V]) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.Key, p.Value})
}

func (p *pair[K, V]) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("%w: entry has %d elements, want 2", errMalformed, len(raw))
	}
	if err := json.Unmarshal(raw[0], &p.Key); err != nil {
		return err
	}
	if bytes.Equal(bytes.TrimSpace(raw[1]), []byte("null")) {
		return fmt.Errorf("%w: null value for %q", errMalformed, p.Key)
	}
	return json.Unmarshal(raw[1], &p.Value)
}

// SnapshotFile keeps the queue snapshot in a single JSON file.
type SnapshotFile struct {
	path string
	log  *slog.Logger
	mu   sync.Mutex

	// seen is the file's stat at the last Save or Load.
	seenMod  time.Time
	seenSize int64
}

// NewSnapshotFile creates a SnapshotFile at the given path. A nil logger
// uses slog.Default().
func NewSnapshotFile(path string, log *slog.Logger) *SnapshotFile {
	if log == nil {
		log = slog.Default()
	}
	return &SnapshotFile{path: path, log: log}
}

// Path returns the file path used by this store.
func (f *SnapshotFile) Path() string {
	return f.path
}

// Save writes the complete snapshot using atomic write (temp file + rename).
func (f *SnapshotFile) Save(s *types.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc := encode(s)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp snapshot: %w", err)
	}
	f.remember()
	return nil
}

// Changed reports whether the file was written by someone else since this
// SnapshotFile last saved or loaded it.
func (f *SnapshotFile) Changed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := os.Stat(f.path)
	if err != nil {
		return false
	}
	return !info.ModTime().Equal(f.seenMod) || info.Size() != f.seenSize
}

// remember records the current stat. Caller must hold f.mu.
func (f *SnapshotFile) remember() {
	if info, err := os.Stat(f.path); err == nil {
		f.seenMod, f.seenSize = info.ModTime(), info.Size()
	}
}

// Load reads the snapshot. A missing file yields an empty snapshot. A file
// that cannot be decoded is moved aside to <path>.corrupt and also yields an
// empty snapshot, with a warning logged. Only read errors are returned.
func (f *SnapshotFile) Load() (*types.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.NewSnapshot(), nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	snap, err := decode(data)
	if err != nil {
		corrupt := f.path + ".corrupt"
		f.log.Warn("snapshot unreadable, starting with an empty queue",
			"path", f.path, "moved_to", corrupt, "error", err)
		if rerr := os.Rename(f.path, corrupt); rerr != nil {
			f.log.Warn("failed to move unreadable snapshot aside", "path", f.path, "error", rerr)
		}
		return types.NewSnapshot(), nil
	}
	f.remember()
	return snap, nil
}

func encode(s *types.Snapshot) *snapshotDoc {
	doc := &snapshotDoc{
		Version:     SnapshotVersion,
		LastUpdated: s.LastUpdated,
		Transfers:   make([]pair[types.TransferID, types.TransferRecord], 0, len(s.Transfers)),
		Agents:      make([]pair[types.AgentID, types.AgentStatus], 0, len(s.Agents)),
	}
	if doc.LastUpdated.IsZero() {
		doc.LastUpdated = time.Now().UTC()
	}
	for id, rec := range s.Transfers {
		doc.Transfers = append(doc.Transfers, pair[types.TransferID, types.TransferRecord]{id, rec})
	}
	for id, st := range s.Agents {
		doc.Agents = append(doc.Agents, pair[types.AgentID, types.AgentStatus]{id, st})
	}
	// Stable order keeps snapshot diffs readable.
	sort.Slice(doc.Transfers, func(i, j int) bool { return doc.Transfers[i].Key < doc.Transfers[j].Key })
	sort.Slice(doc.Agents, func(i, j int) bool { return doc.Agents[i].Key < doc.Agents[j].Key })
	return doc
}

func decode(data []byte) (*types.Snapshot, error) {
	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Version > SnapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", errMalformed, doc.Version)
	}

	snap := types.NewSnapshot()
	snap.LastUpdated = doc.LastUpdated
	for _, p := range doc.Transfers {
		if p.Value.TransferID != p.Key {
			return nil, fmt.Errorf("%w: transfer key %q holds record %q", errMalformed, p.Key, p.Value.TransferID)
		}
		if !p.Value.State.Valid() {
			return nil, fmt.Errorf("%w: transfer %q has unknown state %q", errMalformed, p.Key, p.Value.State)
		}
		for _, h := range p.Value.History {
			if !h.State.Valid() {
				return nil, fmt.Errorf("%w: transfer %q history has unknown state %q", errMalformed, p.Key, h.State)
			}
		}
		if len(p.Value.History) == 0 || p.Value.History[len(p.Value.History)-1].State != p.Value.State {
			return nil, fmt.Errorf("%w: transfer %q history does not end in its state", errMalformed, p.Key)
		}
		snap.Transfers[p.Key] = p.Value
	}
	for _, p := range doc.Agents {
		if p.Value.AgentID != p.Key {
			return nil, fmt.Errorf("%w: agent key %q holds status %q", errMalformed, p.Key, p.Value.AgentID)
		}
		snap.Agents[p.Key] = p.Value
	}
	return snap, nil
}
