package transfer

import (
	"sort"
	"time"

	"github.com/user/handoff/internal/types"
)

// touch refreshes agent statuses after a mutation of rec. The actor is marked
// seen and online; the other party's counts are refreshed only if it already
// has a status. Caller must hold the write lock.
func (s *Store) touch(actor types.AgentID, now time.Time, rec *types.TransferRecord) {
	if actor != types.SystemAgent {
		st, ok := s.agents[actor]
		if !ok {
			st = &types.AgentStatus{AgentID: actor}
			s.agents[actor] = st
		}
		st.LastSeen = now
		st.IsOnline = true
		s.recount(st)
	}
	for _, party := range []types.AgentID{rec.FromAgentID, rec.ToAgentID} {
		if party == actor {
			continue
		}
		if st, ok := s.agents[party]; ok {
			s.recount(st)
		}
	}
}

func (s *Store) recount(st *types.AgentStatus) {
	st.PendingReceives, st.PendingConsumes, st.TotalTransfers = 0, 0, 0
	for _, rec := range s.transfers {
		if !rec.Involves(st.AgentID, types.RoleBoth) {
			continue
		}
		st.TotalTransfers++
		if rec.ToAgentID != st.AgentID {
			continue
		}
		switch rec.State {
		case types.StateSent:
			st.PendingReceives++
		case types.StateReceived:
			st.PendingConsumes++
		}
	}
}

// AgentStatus returns the derived status of agent. The second result is false
// if the agent has no recorded activity.
func (s *Store) AgentStatus(agent types.AgentID) (types.AgentStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.agents[agent]
	if !ok {
		return types.AgentStatus{}, false
	}
	return *st, true
}

// Agents returns every known agent status, most recently seen first.
func (s *Store) Agents() []types.AgentStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.AgentStatus, 0, len(s.agents))
	for _, st := range s.agents {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

// QueueStatus aggregates transfer counts by state.
func (s *Store) QueueStatus() types.QueueStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var qs types.QueueStatus
	for _, rec := range s.transfers {
		qs.TotalTransfers++
		switch rec.State {
		case types.StatePending:
			qs.PendingTransfers++
		case types.StateSent, types.StateReceived:
			qs.ActiveTransfers++
		case types.StateConsumed:
			qs.CompletedTransfers++
		case types.StateFailed:
			qs.FailedTransfers++
		case types.StateExpired:
			qs.ExpiredTransfers++
		}
	}
	return qs
}
