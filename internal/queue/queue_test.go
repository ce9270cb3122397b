package queue

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/handoff/internal/metrics"
	"github.com/user/handoff/internal/state"
	"github.com/user/handoff/internal/transfer"
	"github.com/user/handoff/internal/types"
)

type brokenDisk struct{ err error }

func (b *brokenDisk) Save(*types.Snapshot) error     { return b.err }
func (b *brokenDisk) Load() (*types.Snapshot, error) { return types.NewSnapshot(), nil }

func newTestQueue(t *testing.T, persist types.SnapshotStore) (*Queue, *bytes.Buffer, *metrics.Collector) {
	t.Helper()
	var logs bytes.Buffer
	collector := metrics.NewCollector("handoff")
	store := transfer.New(persist)
	q := New(store,
		WithLogger(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
		WithMetrics(collector),
	)
	return q, &logs, collector
}

func scrape(t *testing.T, c *metrics.Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestQueueHappyPath(t *testing.T) {
	file := state.NewSnapshotFile(filepath.Join(t.TempDir(), "transfers.json"), nil)
	q, logs, collector := newTestQueue(t, file)

	id, err := q.Create("agent-a", "agent-b", "notes.md", CreateOptions{Title: "Notes", Priority: types.PriorityHigh})
	require.NoError(t, err)

	res, err := q.MarkAsSent(id, "agent-a")
	require.NoError(t, err)
	require.True(t, res.Applied)
	res, err = q.MarkAsReceived(id, "agent-b")
	require.NoError(t, err)
	require.True(t, res.Applied)
	res, err = q.MarkAsConsumed(id, "agent-b", map[string]any{"imported": 3})
	require.NoError(t, err)
	require.True(t, res.Applied)
	assert.Equal(t, types.StateConsumed, res.Transfer.State)

	st, ok := q.AgentStatus("agent-b")
	require.True(t, ok)
	assert.Zero(t, st.PendingConsumes)
	assert.Equal(t, types.QueueStatus{TotalTransfers: 1, CompletedTransfers: 1}, q.QueueStatus())

	out := logs.String()
	for _, msg := range []string{"transfer created", "transfer sent", "transfer received", "transfer consumed"} {
		assert.Contains(t, out, msg)
	}
	assert.Contains(t, out, "transfer_id="+string(id))

	body := scrape(t, collector)
	assert.Contains(t, body, `handoff_transitions_total{state="consumed"} 1`)
	assert.Contains(t, body, `handoff_transfers{bucket="completed"} 1`)
	assert.Contains(t, body, `handoff_transfers{bucket="pending"} 0`)

	// Durable: a fresh queue over the same file sees the consumed transfer.
	reopened, err := transfer.Open(file)
	require.NoError(t, err)
	rec, ok := New(reopened).Get(id)
	require.True(t, ok)
	assert.Equal(t, types.StateConsumed, rec.State)
}

func TestQueueRejectionLogged(t *testing.T) {
	q, logs, collector := newTestQueue(t, nil)
	id, err := q.Create("agent-c", "agent-a", "notes.md", CreateOptions{})
	require.NoError(t, err)

	res, err := q.MarkAsSent(id, "agent-a")
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, transfer.RejectWrongActor, res.Reason)

	rec, _ := q.Get(id)
	assert.Equal(t, types.StatePending, rec.State)
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "reason=wrong_actor")
	assert.Contains(t, scrape(t, collector), `handoff_rejections_total{operation="mark_as_sent",reason="wrong_actor"} 1`)
}

func TestQueueInvalidCreate(t *testing.T) {
	q, logs, _ := newTestQueue(t, nil)

	_, err := q.Create("", "agent-a", "notes.md", CreateOptions{})
	assert.ErrorIs(t, err, transfer.ErrInvalidInput)
	assert.Contains(t, logs.String(), "transfer not created")
	assert.Empty(t, q.AllTransfers())
}

func TestQueuePersistFailure(t *testing.T) {
	q, logs, collector := newTestQueue(t, &brokenDisk{err: errors.New("disk full")})

	id, err := q.Create("agent-a", "agent-b", "notes.md", CreateOptions{})
	assert.ErrorIs(t, err, transfer.ErrPersist)
	require.NotEmpty(t, id)

	res, err := q.MarkAsSent(id, "agent-a")
	assert.ErrorIs(t, err, transfer.ErrPersist)
	assert.True(t, res.Applied)
	assert.Equal(t, types.StateSent, res.Transfer.State)

	assert.Contains(t, logs.String(), "level=ERROR")
	assert.Contains(t, logs.String(), "disk full")
	assert.Contains(t, scrape(t, collector), "handoff_persist_errors_total 2")
}

func TestQueueFailDefaultsToSystem(t *testing.T) {
	q, logs, _ := newTestQueue(t, nil)
	id, err := q.Create("agent-a", "agent-b", "notes.md", CreateOptions{})
	require.NoError(t, err)

	res, err := q.MarkAsFailed(id, "", "artifact deleted")
	require.NoError(t, err)
	require.True(t, res.Applied)
	last := res.Transfer.History[len(res.Transfer.History)-1]
	assert.Equal(t, types.SystemAgent, last.ActorAgentID)
	assert.Contains(t, logs.String(), "artifact deleted")
}

func TestQueueExpire(t *testing.T) {
	q, _, _ := newTestQueue(t, nil)
	id, err := q.Create("agent-a", "agent-b", "notes.md", CreateOptions{ExpiresIn: -time.Second})
	require.NoError(t, err)

	assert.Equal(t, []types.TransferID{id}, q.ExpirationCandidates(time.Now()))
	res, err := q.Expire(id)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Len(t, q.TransfersByState(types.StateExpired), 1)
	assert.Len(t, q.TransfersForAgent("agent-b", types.RoleReceiver), 1)
	assert.Len(t, q.Agents(), 1)
}

func TestQueueDiscardsLogsByDefault(t *testing.T) {
	q := New(transfer.New(nil))
	_, err := q.Create("a", "b", "x", CreateOptions{})
	assert.NoError(t, err)
}

func TestQueueReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transfers.json")
	daemon, _, collector := newTestQueue(t, state.NewSnapshotFile(path, nil))

	cliStore, err := transfer.Open(state.NewSnapshotFile(path, nil))
	require.NoError(t, err)
	cli := New(cliStore)
	_, err = cli.Create("agent-a", "agent-b", "notes.md", CreateOptions{})
	require.NoError(t, err)

	assert.Empty(t, daemon.AllTransfers())
	require.NoError(t, daemon.Reload())
	assert.Len(t, daemon.AllTransfers(), 1)
	assert.Contains(t, scrape(t, collector), `handoff_transfers{bucket="pending"} 1`)
}
