package transfer

import (
	"sort"
	"time"

	"github.com/user/handoff/internal/types"
)

// Get returns a copy of one transfer.
func (s *Store) Get(id types.TransferID) (*types.TransferRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.transfers[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// AllTransfers returns every transfer, most recently updated first.
func (s *Store) AllTransfers() []*types.TransferRecord {
	return s.filter(func(*types.TransferRecord) bool { return true })
}

// TransfersForAgent returns the transfers in which agent plays role.
func (s *Store) TransfersForAgent(agent types.AgentID, role types.Role) []*types.TransferRecord {
	return s.filter(func(r *types.TransferRecord) bool { return r.Involves(agent, role) })
}

// TransfersByState returns the transfers currently in state.
func (s *Store) TransfersByState(state types.State) []*types.TransferRecord {
	return s.filter(func(r *types.TransferRecord) bool { return r.State == state })
}

// ExpirationCandidates returns the non-terminal transfers whose deadline is at
// or before now, earliest deadline first.
func (s *Store) ExpirationCandidates(now time.Time) []types.TransferID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*types.TransferRecord
	for _, rec := range s.transfers {
		if rec.State.Terminal() || rec.Metadata.ExpiresAt == nil {
			continue
		}
		if !rec.Metadata.ExpiresAt.After(now) {
			due = append(due, rec)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := *due[i].Metadata.ExpiresAt, *due[j].Metadata.ExpiresAt
		if !a.Equal(b) {
			return a.Before(b)
		}
		return due[i].TransferID < due[j].TransferID
	})

	ids := make([]types.TransferID, len(due))
	for i, rec := range due {
		ids[i] = rec.TransferID
	}
	return ids
}

func (s *Store) filter(keep func(*types.TransferRecord) bool) []*types.TransferRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*types.TransferRecord{}
	for _, rec := range s.transfers {
		if keep(rec) {
			out = append(out, rec.Clone())
		}
	}
	sortByRecency(out)
	return out
}

// sortByRecency orders by UpdatedAt descending, then CreatedAt descending,
// then ID.
func sortByRecency(recs []*types.TransferRecord) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i].Metadata, recs[j].Metadata
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return recs[i].TransferID < recs[j].TransferID
	})
}
