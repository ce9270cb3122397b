package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StatePending, StateSent, true},
		{StatePending, StateReceived, false},
		{StatePending, StateConsumed, false},
		{StateSent, StateReceived, true},
		{StateSent, StateConsumed, false},
		{StateReceived, StateConsumed, true},
		{StateReceived, StateSent, false},
		{StatePending, StateFailed, true},
		{StateSent, StateFailed, true},
		{StateReceived, StateExpired, true},
		{StateConsumed, StateFailed, false},
		{StateFailed, StateExpired, false},
		{StateExpired, StateFailed, false},
		{StatePending, StatePending, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStateTerminal(t *testing.T) {
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateSent.Terminal())
	assert.False(t, StateReceived.Terminal())
	assert.True(t, StateConsumed.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateExpired.Terminal())
	assert.False(t, State("bogus").Valid())
}

func TestTransferRecordSerialization(t *testing.T) {
	expires := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := &TransferRecord{
		TransferID:           NewTransferID(),
		FromAgentID:          "agent-a",
		ToAgentID:            "agent-b",
		KnowledgeArtifactRef: "docs/notes.md",
		Priority:             PriorityHigh,
		State:                StatePending,
		Metadata: Metadata{
			Title:         "notes",
			KnowledgeType: []string{"patterns"},
			ExpiresAt:     &expires,
		},
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "agent-a", m["fromAgentId"])
	assert.Equal(t, "docs/notes.md", m["knowledgeArtifactRef"])
	meta := m["metadata"].(map[string]any)
	assert.Equal(t, "2026-01-02T03:04:05Z", meta["expiresAt"])
}

func TestCloneIsDeep(t *testing.T) {
	rec := &TransferRecord{
		Metadata: Metadata{KnowledgeType: []string{"a"}},
		History: []HistoryEntry{{
			State:   StateConsumed,
			Details: map[string]any{"items": []any{"x"}, "nested": map[string]any{"n": 1.0}},
		}},
	}
	c := rec.Clone()
	c.Metadata.KnowledgeType[0] = "b"
	c.History[0].Details["nested"].(map[string]any)["n"] = 2.0
	c.History = append(c.History, HistoryEntry{})

	assert.Equal(t, "a", rec.Metadata.KnowledgeType[0])
	assert.Equal(t, 1.0, rec.History[0].Details["nested"].(map[string]any)["n"])
	assert.Len(t, rec.History, 1)
}

func TestInvolves(t *testing.T) {
	rec := &TransferRecord{FromAgentID: "a", ToAgentID: "b"}
	assert.True(t, rec.Involves("a", RoleSender))
	assert.False(t, rec.Involves("a", RoleReceiver))
	assert.True(t, rec.Involves("b", RoleReceiver))
	assert.True(t, rec.Involves("b", RoleBoth))
	assert.False(t, rec.Involves("c", RoleBoth))
}
