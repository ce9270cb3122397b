package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/handoff/internal/metrics"
	"github.com/user/handoff/internal/queue"
	"github.com/user/handoff/internal/transfer"
	"github.com/user/handoff/internal/types"
)

type fixture struct {
	srv      *Server
	q        *queue.Queue
	sent     types.TransferID
	received types.TransferID
}

func setupServer(t *testing.T) fixture {
	t.Helper()
	collector := metrics.NewCollector("handoff")
	q := queue.New(transfer.New(nil), queue.WithMetrics(collector))

	sent, err := q.Create("agent-a", "agent-b", "notes.md", queue.CreateOptions{Title: "notes"})
	require.NoError(t, err)
	_, err = q.MarkAsSent(sent, "agent-a")
	require.NoError(t, err)

	received, err := q.Create("agent-c", "agent-a", "report.md", queue.CreateOptions{})
	require.NoError(t, err)
	_, err = q.MarkAsSent(received, "agent-c")
	require.NoError(t, err)
	_, err = q.MarkAsReceived(received, "agent-a")
	require.NoError(t, err)

	return fixture{srv: NewServer(q, collector.Handler()), q: q, sent: sent, received: received}
}

func get(t *testing.T, srv http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestHealthEndpoint(t *testing.T) {
	f := setupServer(t)
	w := get(t, f.srv, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])
}

func TestStatusEndpoint(t *testing.T) {
	f := setupServer(t)
	w := get(t, f.srv, "/api/status")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.QueueStatus{TotalTransfers: 2, ActiveTransfers: 2}, decode[types.QueueStatus](t, w))
}

func TestTransfersEndpoint(t *testing.T) {
	f := setupServer(t)

	tests := []struct {
		name  string
		query string
		want  []types.TransferID
	}{
		{"all", "", []types.TransferID{f.received, f.sent}},
		{"by state", "?state=sent", []types.TransferID{f.sent}},
		{"by receiver", "?agent=agent-a&role=receiver", []types.TransferID{f.received}},
		{"by sender", "?agent=agent-a&role=sender", []types.TransferID{f.sent}},
		{"agent and state", "?agent=agent-a&state=received", []types.TransferID{f.received}},
		{"no match", "?state=expired", []types.TransferID{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, f.srv, "/api/transfers"+tt.query)
			require.Equal(t, http.StatusOK, w.Code)
			got := []types.TransferID{}
			for _, rec := range decode[[]types.TransferRecord](t, w) {
				got = append(got, rec.TransferID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransfersEndpointBadFilter(t *testing.T) {
	f := setupServer(t)
	assert.Equal(t, http.StatusBadRequest, get(t, f.srv, "/api/transfers?state=lost").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, f.srv, "/api/transfers?agent=a&role=owner").Code)
}

func TestTransferEndpoint(t *testing.T) {
	f := setupServer(t)

	w := get(t, f.srv, "/api/transfers/"+string(f.sent))
	require.Equal(t, http.StatusOK, w.Code)
	rec := decode[types.TransferRecord](t, w)
	assert.Equal(t, types.StateSent, rec.State)
	assert.Equal(t, "notes", rec.Metadata.Title)
	assert.Len(t, rec.History, 2)

	assert.Equal(t, http.StatusNotFound, get(t, f.srv, "/api/transfers/missing").Code)
}

func TestAgentEndpoints(t *testing.T) {
	f := setupServer(t)

	w := get(t, f.srv, "/api/agents/agent-a")
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[types.AgentStatus](t, w)
	assert.Equal(t, 2, st.TotalTransfers)
	assert.Equal(t, 1, st.PendingConsumes)
	assert.True(t, st.IsOnline)

	assert.Equal(t, http.StatusNotFound, get(t, f.srv, "/api/agents/nobody").Code)

	w = get(t, f.srv, "/api/agents")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]types.AgentStatus](t, w), 2)
}

func TestMetricsEndpoint(t *testing.T) {
	f := setupServer(t)
	w := get(t, f.srv, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `handoff_transitions_total{state="sent"} 2`)
}

func TestReadOnly(t *testing.T) {
	f := setupServer(t)
	w := httptest.NewRecorder()
	f.srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/transfers", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
