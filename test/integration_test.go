//go:build integration

package test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/user/handoff/internal/api"
	"github.com/user/handoff/internal/metrics"
	"github.com/user/handoff/internal/probe"
	"github.com/user/handoff/internal/queue"
	"github.com/user/handoff/internal/state"
	"github.com/user/handoff/internal/sweeper"
	"github.com/user/handoff/internal/transfer"
	"github.com/user/handoff/internal/types"
)

func openQueue(t *testing.T, path string, opts ...transfer.Option) *queue.Queue {
	t.Helper()
	store, err := transfer.Open(state.NewSnapshotFile(path, nil), opts...)
	require.NoError(t, err)
	return queue.New(store)
}

func TestEndToEnd(t *testing.T) {
	dir := t.TempDir()
	snapshot := filepath.Join(dir, "transfers.json")
	artifact := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(artifact, []byte("# what I learned\n"), 0o644))

	q := openQueue(t, snapshot, transfer.WithSizeProbe(types.SizeProbeFunc(probe.FileSize)))

	// Many independent sender/receiver pairs run their full lifecycle at once.
	const pairs = 8
	ids := make([]types.TransferID, pairs)
	var g errgroup.Group
	for i := 0; i < pairs; i++ {
		from := types.AgentID(fmt.Sprintf("sender-%d", i))
		to := types.AgentID(fmt.Sprintf("receiver-%d", i))
		g.Go(func() error {
			id, err := q.Create(from, to, artifact, queue.CreateOptions{Title: "notes", KnowledgeType: []string{"lessons"}})
			if err != nil {
				return err
			}
			ids[i] = id
			steps := []func() (transfer.Result, error){
				func() (transfer.Result, error) { return q.MarkAsSent(id, from) },
				func() (transfer.Result, error) { return q.MarkAsReceived(id, to) },
				func() (transfer.Result, error) { return q.MarkAsConsumed(id, to, map[string]any{"pair": i}) },
			}
			for _, step := range steps {
				res, err := step()
				if err != nil {
					return err
				}
				if !res.Applied {
					return fmt.Errorf("transfer %s rejected: %s", id, res.Reason)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// An overdue transfer for the sweeper.
	overdue, err := q.Create("sender-0", "receiver-0", artifact, queue.CreateOptions{ExpiresIn: -time.Second})
	require.NoError(t, err)

	rep := sweeper.New(q, sweeper.Config{Enabled: true}).RunOnce()
	assert.Equal(t, 1, rep.Expired)

	// Everything survives a restart.
	reopened := openQueue(t, snapshot)
	assert.Equal(t, types.QueueStatus{
		TotalTransfers:     pairs + 1,
		CompletedTransfers: pairs,
		ExpiredTransfers:   1,
	}, reopened.QueueStatus())

	for i, id := range ids {
		rec, ok := reopened.Get(id)
		require.True(t, ok)
		assert.Equal(t, types.StateConsumed, rec.State)
		assert.Equal(t, int64(len("# what I learned\n")), rec.Metadata.EstimatedSize)
		assert.Equal(t, float64(i), rec.History[3].Details["pair"])
	}
	rec, _ := reopened.Get(overdue)
	assert.Equal(t, types.StateExpired, rec.State)

	// The status API serves the reloaded queue.
	collector := metrics.NewCollector("handoff")
	srv := httptest.NewServer(api.NewServer(reopened, collector.Handler()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/agents/receiver-3")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st types.AgentStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, 1, st.TotalTransfers)
	assert.Zero(t, st.PendingConsumes)
}

func TestCorruptSnapshotStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	snapshot := filepath.Join(dir, "transfers.json")
	require.NoError(t, os.WriteFile(snapshot, []byte(`{"transfers": [[`), 0o644))

	q := openQueue(t, snapshot)
	assert.Empty(t, q.AllTransfers())
	_, err := os.Stat(snapshot + ".corrupt")
	assert.NoError(t, err)

	_, err = q.Create("a", "b", "x", queue.CreateOptions{})
	require.NoError(t, err)
	assert.Len(t, openQueue(t, snapshot).AllTransfers(), 1)
}
