package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/handoff/internal/types"
)

func TestCollectorRecords(t *testing.T) {
	c := NewCollector("handoff")

	c.RecordTransition(types.StateSent)
	c.RecordTransition(types.StateSent)
	c.RecordRejection("mark_as_sent", "wrong_actor")
	c.RecordPersistError()
	c.RecordSweep(3, 20*time.Millisecond)
	c.SetQueueStatus(types.QueueStatus{PendingTransfers: 4, ActiveTransfers: 2})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.transitions.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rejections.WithLabelValues("mark_as_sent", "wrong_actor")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.persistErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sweepsTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.sweptTotal))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.transfers.WithLabelValues("pending")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.transfers.WithLabelValues("active")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.sweepDuration))
}

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewCollector("handoff")
	b := NewCollector("handoff")

	a.RecordTransition(types.StateFailed)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.transitions.WithLabelValues("failed")))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordTransition(types.StateSent)
		c.RecordRejection("x", "y")
		c.RecordPersistError()
		c.SetQueueStatus(types.QueueStatus{})
		c.RecordSweep(1, time.Second)
	})
}

func TestHandler(t *testing.T) {
	c := NewCollector("handoff")
	c.RecordTransition(types.StateConsumed)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `handoff_transitions_total{state="consumed"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
