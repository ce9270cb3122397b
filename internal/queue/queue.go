// Package queue is the public operation surface of the knowledge-transfer
// queue. Callers (the CLI, the status API, the sweeper) depend only on Queue.
package queue

import (
	"errors"
	"log/slog"
	"time"

	"github.com/user/handoff/internal/metrics"
	"github.com/user/handoff/internal/transfer"
	"github.com/user/handoff/internal/types"
)

// CreateOptions are the optional attributes of a new transfer.
type CreateOptions struct {
	Title         string
	Description   string
	KnowledgeType []string
	Priority      types.Priority
	ExpiresIn     time.Duration
}

// Queue wraps a transfer.Store with progress logging and metrics.
type Queue struct {
	store   *transfer.Store
	log     *slog.Logger
	metrics *metrics.Collector
}

type Option func(*Queue)

func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.log = l }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(q *Queue) { q.metrics = c }
}

// New creates a Queue over store. Without WithLogger, progress messages are
// discarded.
func New(store *transfer.Store, opts ...Option) *Queue {
	q := &Queue{
		store: store,
		log:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.metrics.SetQueueStatus(store.QueueStatus())
	return q
}

// Create registers a pending transfer from one agent to another.
func (q *Queue) Create(from, to types.AgentID, artifactRef string, opts CreateOptions) (types.TransferID, error) {
	id, err := q.store.Create(transfer.CreateRequest{
		From:          from,
		To:            to,
		ArtifactRef:   artifactRef,
		Title:         opts.Title,
		Description:   opts.Description,
		KnowledgeType: opts.KnowledgeType,
		Priority:      opts.Priority,
		ExpiresIn:     opts.ExpiresIn,
	})
	switch {
	case errors.Is(err, transfer.ErrInvalidInput):
		q.log.Warn("transfer not created", "from_agent", from, "to_agent", to, "error", err)
		q.metrics.RecordRejection("create", "invalid_input")
		return "", err
	case err != nil:
		q.persistFailed("create", id, err)
	}

	q.log.Info("transfer created",
		"transfer_id", id,
		"from_agent", from,
		"to_agent", to,
		"artifact", artifactRef,
		"priority", opts.Priority,
	)
	q.metrics.RecordTransition(types.StatePending)
	q.metrics.SetQueueStatus(q.store.QueueStatus())
	return id, err
}

// MarkAsSent records that the sender has dispatched the artifact.
func (q *Queue) MarkAsSent(id types.TransferID, agent types.AgentID) (transfer.Result, error) {
	res, err := q.store.MarkAsSent(id, agent)
	return q.observe("mark_as_sent", "transfer sent", id, agent, res, err)
}

// MarkAsReceived records that the receiver has the artifact.
func (q *Queue) MarkAsReceived(id types.TransferID, agent types.AgentID) (transfer.Result, error) {
	res, err := q.store.MarkAsReceived(id, agent)
	return q.observe("mark_as_received", "transfer received", id, agent, res, err)
}

// MarkAsConsumed records that the receiver has imported the artifact.
func (q *Queue) MarkAsConsumed(id types.TransferID, agent types.AgentID, details map[string]any) (transfer.Result, error) {
	res, err := q.store.MarkAsConsumed(id, agent, details)
	return q.observe("mark_as_consumed", "transfer consumed", id, agent, res, err)
}

// MarkAsFailed records a failure reported by any party. An empty agent is
// recorded as the system.
func (q *Queue) MarkAsFailed(id types.TransferID, agent types.AgentID, reason string) (transfer.Result, error) {
	if agent == "" {
		agent = types.SystemAgent
	}
	res, err := q.store.MarkAsFailed(id, agent, reason)
	if res.Applied {
		q.log.Warn("transfer failed", "transfer_id", id, "agent_id", agent, "reason", reason)
	}
	return q.observe("mark_as_failed", "", id, agent, res, err)
}

// Expire expires an overdue transfer on behalf of the system.
func (q *Queue) Expire(id types.TransferID) (transfer.Result, error) {
	res, err := q.store.Expire(id)
	return q.observe("expire", "transfer expired", id, types.SystemAgent, res, err)
}

func (q *Queue) observe(op, msg string, id types.TransferID, agent types.AgentID, res transfer.Result, err error) (transfer.Result, error) {
	if !res.Applied {
		q.log.Warn("transfer transition rejected",
			"operation", op,
			"transfer_id", id,
			"agent_id", agent,
			"reason", res.Reason,
		)
		q.metrics.RecordRejection(op, string(res.Reason))
		return res, nil
	}
	if err != nil {
		q.persistFailed(op, id, err)
	}
	if msg != "" {
		q.log.Info(msg, "transfer_id", id, "agent_id", agent, "state", res.Transfer.State)
	}
	q.metrics.RecordTransition(res.Transfer.State)
	q.metrics.SetQueueStatus(q.store.QueueStatus())
	return res, err
}

func (q *Queue) persistFailed(op string, id types.TransferID, err error) {
	q.log.Error("snapshot write failed, in-memory state kept",
		"operation", op,
		"transfer_id", id,
		"error", err,
	)
	q.metrics.RecordPersistError()
}

// Reload replaces the queue's state with the persisted snapshot.
func (q *Queue) Reload() error {
	if err := q.store.Reload(); err != nil {
		q.log.Error("snapshot reload failed", "error", err)
		return err
	}
	qs := q.store.QueueStatus()
	q.log.Debug("snapshot reloaded", "transfers", qs.TotalTransfers)
	q.metrics.SetQueueStatus(qs)
	return nil
}

// Get returns one transfer.
func (q *Queue) Get(id types.TransferID) (*types.TransferRecord, bool) {
	return q.store.Get(id)
}

func (q *Queue) AllTransfers() []*types.TransferRecord {
	return q.store.AllTransfers()
}

func (q *Queue) TransfersForAgent(agent types.AgentID, role types.Role) []*types.TransferRecord {
	return q.store.TransfersForAgent(agent, role)
}

func (q *Queue) TransfersByState(state types.State) []*types.TransferRecord {
	return q.store.TransfersByState(state)
}

func (q *Queue) QueueStatus() types.QueueStatus {
	return q.store.QueueStatus()
}

// AgentStatus reports false for an agent with no recorded activity.
func (q *Queue) AgentStatus(agent types.AgentID) (types.AgentStatus, bool) {
	return q.store.AgentStatus(agent)
}

func (q *Queue) Agents() []types.AgentStatus {
	return q.store.Agents()
}

// ExpirationCandidates lists the transfers a sweep at now would expire.
func (q *Queue) ExpirationCandidates(now time.Time) []types.TransferID {
	return q.store.ExpirationCandidates(now)
}
