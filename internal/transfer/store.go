// Package transfer implements the knowledge-transfer state machine.
//
// A Store owns every TransferRecord and AgentStatus. All mutations go through
// one mutex and are flushed to the configured SnapshotStore before the mutex
// is released, so readers never observe a half-applied transition and
// snapshots are written in mutation order.
package transfer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/handoff/internal/types"
)

var (
	// ErrInvalidInput is returned by Create for malformed requests.
	ErrInvalidInput = errors.New("invalid transfer request")
	// ErrPersist wraps snapshot write failures. The in-memory mutation that
	// triggered the write has still been applied.
	ErrPersist = errors.New("persist snapshot")
	// ErrRejected is wrapped by Result.Err for guard violations.
	ErrRejected = errors.New("transition rejected")
)

// Rejection names the guard that refused a transition.
type Rejection string

const (
	RejectNotFound     Rejection = "not_found"
	RejectWrongActor   Rejection = "wrong_actor"
	RejectInvalidState Rejection = "invalid_state"
	RejectTerminal     Rejection = "terminal"
	RejectNotExpired   Rejection = "not_expired"
)

// Result reports the outcome of a transition. When Applied is false the store
// is unchanged and Reason says why. Transfer is a copy of the record after the
// call, or nil if the transfer does not exist.
type Result struct {
	Applied  bool
	Reason   Rejection
	Transfer *types.TransferRecord
}

// Err returns nil for an applied transition and an error wrapping ErrRejected
// otherwise.
func (r Result) Err() error {
	if r.Applied {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrRejected, r.Reason)
}

// CreateRequest describes a new transfer. A zero ExpiresIn means the transfer
// never expires; a negative one places the deadline in the past.
type CreateRequest struct {
	From          types.AgentID
	To            types.AgentID
	ArtifactRef   string
	Title         string
	Description   string
	KnowledgeType []string
	Priority      types.Priority
	ExpiresIn     time.Duration
}

// Store is the in-memory transfer collection and mutation engine.
type Store struct {
	mu        sync.RWMutex
	transfers map[types.TransferID]*types.TransferRecord
	agents    map[types.AgentID]*types.AgentStatus

	persist types.SnapshotStore
	probe   types.SizeProbe
	now     func() time.Time
	log     *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source. Timestamps are converted to UTC.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = func() time.Time { return now().UTC() } }
}

// WithSizeProbe sets the collaborator used to estimate artifact sizes.
func WithSizeProbe(p types.SizeProbe) Option {
	return func(s *Store) { s.probe = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New creates an empty Store. persist may be nil for a memory-only store.
func New(persist types.SnapshotStore, opts ...Option) *Store {
	s := &Store{
		transfers: make(map[types.TransferID]*types.TransferRecord),
		agents:    make(map[types.AgentID]*types.AgentStatus),
		persist:   persist,
		now:       func() time.Time { return time.Now().UTC() },
		log:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates a Store seeded from persist.Load().
func Open(persist types.SnapshotStore, opts ...Option) (*Store, error) {
	s := New(persist, opts...)
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload replaces the in-memory state with persist.Load(). It is used by a
// long-running process to pick up writes made by another one.
func (s *Store) Reload() error {
	if s.persist == nil {
		return nil
	}

	// Hold the write lock across Load so no transition can commit between
	// reading the file and swapping the maps.
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.persist.Load()
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	s.transfers = make(map[types.TransferID]*types.TransferRecord, len(snap.Transfers))
	for id, rec := range snap.Transfers {
		s.transfers[id] = rec
	}
	s.agents = make(map[types.AgentID]*types.AgentStatus, len(snap.Agents))
	for id, st := range snap.Agents {
		s.agents[id] = st
	}
	return nil
}

// Create registers a new pending transfer and returns its ID. The only
// errors are ErrInvalidInput, in which case nothing is stored, and ErrPersist,
// in which case the transfer exists in memory.
func (s *Store) Create(req CreateRequest) (types.TransferID, error) {
	req.From = types.AgentID(strings.TrimSpace(string(req.From)))
	req.To = types.AgentID(strings.TrimSpace(string(req.To)))
	if req.From == "" || req.To == "" {
		return "", fmt.Errorf("%w: from and to agents are required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.ArtifactRef) == "" {
		return "", fmt.Errorf("%w: artifact reference is required", ErrInvalidInput)
	}
	if req.Priority == "" {
		req.Priority = types.PriorityNormal
	}
	if !req.Priority.Valid() {
		return "", fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, req.Priority)
	}

	// Probe outside the lock; it touches the file system.
	var size int64
	if s.probe != nil {
		n, err := s.probe.Size(req.ArtifactRef)
		if err != nil {
			s.log.Debug("artifact size unavailable", "artifact", req.ArtifactRef, "error", err)
		} else {
			size = n
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec := &types.TransferRecord{
		TransferID:           types.NewTransferID(),
		FromAgentID:          req.From,
		ToAgentID:            req.To,
		KnowledgeArtifactRef: req.ArtifactRef,
		Priority:             req.Priority,
		State:                types.StatePending,
		Metadata: types.Metadata{
			Title:         req.Title,
			Description:   req.Description,
			KnowledgeType: normalizeTags(req.KnowledgeType),
			EstimatedSize: size,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		History: []types.HistoryEntry{{
			Timestamp:    now,
			State:        types.StatePending,
			ActorAgentID: req.From,
			Message:      fmt.Sprintf("Transfer created by %s for %s", req.From, req.To),
		}},
	}
	if req.ExpiresIn != 0 {
		at := now.Add(req.ExpiresIn)
		rec.Metadata.ExpiresAt = &at
	}
	s.transfers[rec.TransferID] = rec
	s.touch(req.From, now, rec)

	return rec.TransferID, s.save(now)
}

// MarkAsSent moves a pending transfer to sent. Only the sender may do this.
func (s *Store) MarkAsSent(id types.TransferID, agent types.AgentID) (Result, error) {
	return s.transition(id, agent, types.StateSent, actorIs(agent, sender),
		fmt.Sprintf("Sent by %s", agent), nil)
}

// MarkAsReceived moves a sent transfer to received. Only the receiver may do this.
func (s *Store) MarkAsReceived(id types.TransferID, agent types.AgentID) (Result, error) {
	return s.transition(id, agent, types.StateReceived, actorIs(agent, receiver),
		fmt.Sprintf("Received by %s", agent), nil)
}

// MarkAsConsumed moves a received transfer to consumed. Only the receiver may
// do this. details is kept verbatim on the history entry.
func (s *Store) MarkAsConsumed(id types.TransferID, agent types.AgentID, details map[string]any) (Result, error) {
	return s.transition(id, agent, types.StateConsumed, actorIs(agent, receiver),
		fmt.Sprintf("Consumed by %s", agent), normalizeDetails(details))
}

// MarkAsFailed moves any non-terminal transfer to failed. Any actor,
// including the system, may report a failure. An empty agent is recorded as
// the system.
func (s *Store) MarkAsFailed(id types.TransferID, agent types.AgentID, reason string) (Result, error) {
	if agent == "" {
		agent = types.SystemAgent
	}
	msg := fmt.Sprintf("Failed (reported by %s)", agent)
	if reason != "" {
		msg = fmt.Sprintf("Failed (reported by %s): %s", agent, reason)
	}
	return s.transition(id, agent, types.StateFailed, nil, msg, nil)
}

// Expire moves a non-terminal transfer whose deadline has passed to expired,
// with the system as actor.
func (s *Store) Expire(id types.TransferID) (Result, error) {
	return s.transition(id, types.SystemAgent, types.StateExpired, func(r *types.TransferRecord, now time.Time) Rejection {
		if r.Metadata.ExpiresAt == nil || now.Before(*r.Metadata.ExpiresAt) {
			return RejectNotExpired
		}
		return ""
	}, "Expired: deadline passed", nil)
}

// guard returns a non-empty Rejection to refuse a transition.
type guard func(r *types.TransferRecord, now time.Time) Rejection

func sender(r *types.TransferRecord) types.AgentID   { return r.FromAgentID }
func receiver(r *types.TransferRecord) types.AgentID { return r.ToAgentID }

func actorIs(agent types.AgentID, party func(*types.TransferRecord) types.AgentID) guard {
	return func(r *types.TransferRecord, _ time.Time) Rejection {
		if agent != party(r) {
			return RejectWrongActor
		}
		return ""
	}
}

// transition applies one state change under the write lock. g, if not nil,
// runs after the existence and terminal checks.
func (s *Store) transition(id types.TransferID, agent types.AgentID, to types.State, g guard, message string, details map[string]any) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.transfers[id]
	if !ok {
		return Result{Reason: RejectNotFound}, nil
	}
	if rec.State.Terminal() {
		return Result{Reason: RejectTerminal, Transfer: rec.Clone()}, nil
	}

	now := s.now()
	if g != nil {
		if reason := g(rec, now); reason != "" {
			return Result{Reason: reason, Transfer: rec.Clone()}, nil
		}
	}
	if !rec.State.CanTransition(to) {
		return Result{Reason: RejectInvalidState, Transfer: rec.Clone()}, nil
	}

	// History timestamps never go backwards, even if the clock does.
	if last := rec.History[len(rec.History)-1].Timestamp; now.Before(last) {
		now = last
	}
	rec.State = to
	applyProgress(&rec.Progress, to)
	rec.Metadata.UpdatedAt = now
	rec.History = append(rec.History, types.HistoryEntry{
		Timestamp:    now,
		State:        to,
		ActorAgentID: agent,
		Message:      message,
		Details:      details,
	})
	s.touch(agent, now, rec)

	return Result{Applied: true, Transfer: rec.Clone()}, s.save(now)
}

func applyProgress(p *types.Progress, to types.State) {
	switch to {
	case types.StateSent:
		p.Sent = true
	case types.StateReceived:
		p.Sent, p.Received = true, true
	case types.StateConsumed:
		p.Sent, p.Received, p.Consumed, p.Validated = true, true, true, true
	}
}

// save flushes the full state. Caller must hold the write lock.
func (s *Store) save(now time.Time) error {
	if s.persist == nil {
		return nil
	}
	snap := s.snapshotLocked()
	snap.LastUpdated = now
	if err := s.persist.Save(snap); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

// Snapshot returns a deep copy of the full store state.
func (s *Store) Snapshot() *types.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() *types.Snapshot {
	snap := types.NewSnapshot()
	for id, rec := range s.transfers {
		snap.Transfers[id] = rec.Clone()
	}
	for id, st := range s.agents {
		c := *st
		snap.Agents[id] = &c
	}
	return snap
}

func normalizeTags(tags []string) []string {
	out := []string{}
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// normalizeDetails passes details through JSON so the stored value is
// exactly what a reloaded snapshot will hold.
func normalizeDetails(details map[string]any) map[string]any {
	if len(details) == 0 {
		return nil
	}
	data, err := json.Marshal(details)
	if err != nil {
		return map[string]any{"unencodable": fmt.Sprintf("%v", details)}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"unencodable": string(data)}
	}
	return out
}
