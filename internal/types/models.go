package types

import (
	"time"
)

// State is a transfer's lifecycle position.
type State string

const (
	StatePending  State = "pending"
	StateSent     State = "sent"
	StateReceived State = "received"
	StateConsumed State = "consumed"
	StateFailed   State = "failed"
	StateExpired  State = "expired"
)

// States lists every state in lifecycle order.
var States = []State{StatePending, StateSent, StateReceived, StateConsumed, StateFailed, StateExpired}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateConsumed || s == StateFailed || s == StateExpired
}

func (s State) Valid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

// CanTransition reports whether the lifecycle allows moving from s to next.
// Actor rules are enforced by the store, not here.
func (s State) CanTransition(next State) bool {
	switch next {
	case StateSent:
		return s == StatePending
	case StateReceived:
		return s == StateSent
	case StateConsumed:
		return s == StateReceived
	case StateFailed, StateExpired:
		return !s.Terminal()
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Role selects which side of a transfer an agent query matches.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
	RoleBoth     Role = "both"
)

func (r Role) Valid() bool {
	return r == RoleSender || r == RoleReceiver || r == RoleBoth
}

type Metadata struct {
	Title         string     `json:"title" yaml:"title"`
	Description   string     `json:"description" yaml:"description"`
	KnowledgeType []string   `json:"knowledgeType" yaml:"knowledgeType"`
	EstimatedSize int64      `json:"estimatedSize" yaml:"estimatedSize"`
	CreatedAt     time.Time  `json:"createdAt" yaml:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt" yaml:"updatedAt"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty"`
}

// Progress mirrors State as flags so consumers can inspect a record without
// decoding the state enum.
type Progress struct {
	Sent      bool `json:"sent" yaml:"sent"`
	Received  bool `json:"received" yaml:"received"`
	Consumed  bool `json:"consumed" yaml:"consumed"`
	Validated bool `json:"validated" yaml:"validated"`
}

type HistoryEntry struct {
	Timestamp    time.Time      `json:"timestamp" yaml:"timestamp"`
	State        State          `json:"state" yaml:"state"`
	ActorAgentID AgentID        `json:"actorAgentId" yaml:"actorAgentId"`
	Message      string         `json:"message" yaml:"message"`
	Details      map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
}

type TransferRecord struct {
	TransferID           TransferID     `json:"transferId" yaml:"transferId"`
	FromAgentID          AgentID        `json:"fromAgentId" yaml:"fromAgentId"`
	ToAgentID            AgentID        `json:"toAgentId" yaml:"toAgentId"`
	KnowledgeArtifactRef string         `json:"knowledgeArtifactRef" yaml:"knowledgeArtifactRef"`
	Priority             Priority       `json:"priority" yaml:"priority"`
	State                State          `json:"state" yaml:"state"`
	Metadata             Metadata       `json:"metadata" yaml:"metadata"`
	Progress             Progress       `json:"progress" yaml:"progress"`
	History              []HistoryEntry `json:"history" yaml:"history"`
}

// Involves reports whether agent is a named party of the transfer in the
// given role.
func (r *TransferRecord) Involves(agent AgentID, role Role) bool {
	switch role {
	case RoleSender:
		return r.FromAgentID == agent
	case RoleReceiver:
		return r.ToAgentID == agent
	default:
		return r.FromAgentID == agent || r.ToAgentID == agent
	}
}

// Clone returns a deep copy of the record.
func (r *TransferRecord) Clone() *TransferRecord {
	c := *r
	c.Metadata.KnowledgeType = append([]string{}, r.Metadata.KnowledgeType...)
	if r.Metadata.ExpiresAt != nil {
		at := *r.Metadata.ExpiresAt
		c.Metadata.ExpiresAt = &at
	}
	c.History = make([]HistoryEntry, len(r.History))
	for i, h := range r.History {
		h.Details = cloneDetails(h.Details)
		c.History[i] = h
	}
	return &c
}

func cloneDetails(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneDetails(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

type AgentStatus struct {
	AgentID         AgentID   `json:"agentId" yaml:"agentId"`
	LastSeen        time.Time `json:"lastSeen" yaml:"lastSeen"`
	IsOnline        bool      `json:"isOnline" yaml:"isOnline"`
	PendingReceives int       `json:"pendingReceives" yaml:"pendingReceives"`
	PendingConsumes int       `json:"pendingConsumes" yaml:"pendingConsumes"`
	TotalTransfers  int       `json:"totalTransfers" yaml:"totalTransfers"`
}

// QueueStatus aggregates transfer counts by lifecycle position. It is
// computed on demand and never stored.
type QueueStatus struct {
	TotalTransfers     int `json:"totalTransfers" yaml:"totalTransfers"`
	PendingTransfers   int `json:"pendingTransfers" yaml:"pendingTransfers"`
	ActiveTransfers    int `json:"activeTransfers" yaml:"activeTransfers"`
	CompletedTransfers int `json:"completedTransfers" yaml:"completedTransfers"`
	FailedTransfers    int `json:"failedTransfers" yaml:"failedTransfers"`
	ExpiredTransfers   int `json:"expiredTransfers" yaml:"expiredTransfers"`
}

// Snapshot is the complete durable state of a queue.
type Snapshot struct {
	Transfers   map[TransferID]*TransferRecord
	Agents      map[AgentID]*AgentStatus
	LastUpdated time.Time
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		Transfers: make(map[TransferID]*TransferRecord),
		Agents:    make(map[AgentID]*AgentStatus),
	}
}
