package voting

import (
	"fmt"
	"sync"
	"time"

	"github.com/osobh/parley/internal/v1/types"
)

// Resolution is delivered to subscribers when a proposal transitions to
// a terminal status.
type Resolution struct {
	Proposal *Proposal
	Status   Status
}

type subscriber struct {
	id int
	fn func(Resolution)
}

// Manager owns the indexed collection of proposals for one room. It
// never broadcasts itself; the room subscribes for resolution events.
// Listeners are invoked synchronously, in registration order, from the
// goroutine that drove the resolving vote.
type Manager struct {
	mu        sync.Mutex
	proposals map[string]*Proposal
	subs      []subscriber
	nextSubID int
}

// NewManager creates an empty proposal collection.
func NewManager() *Manager {
	return &Manager{proposals: make(map[string]*Proposal)}
}

// CreateProposal registers a new pending proposal. The caller supplies
// id and threshold; duplicates are rejected.
func (m *Manager) CreateProposal(p *Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.proposals[p.ID]; exists {
		return fmt.Errorf("proposal %s already exists", p.ID)
	}
	if p.Votes == nil {
		p.Votes = make(map[string]types.VoteType)
	}
	p.Status = StatusPending
	if p.CreatedAt == 0 {
		p.CreatedAt = time.Now().UnixMilli()
	}
	m.proposals[p.ID] = p
	return nil
}

// Get returns a proposal by id.
func (m *Manager) Get(proposalID string) (*Proposal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[proposalID]
	return p, ok
}

// Vote records an agent's vote on a pending proposal, overwriting any
// prior vote from the same agent.
func (m *Manager) Vote(proposalID, agentID string, v types.VoteType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.proposals[proposalID]
	if !ok {
		return fmt.Errorf("proposal %s not found", proposalID)
	}
	if p.Resolved() {
		return fmt.Errorf("proposal %s already %s", proposalID, p.Status)
	}
	p.Votes[agentID] = v
	return nil
}

// UpdateProposalStatus re-evaluates the consensus predicate after a
// vote. On first satisfaction it transitions the proposal to its
// terminal status and notifies subscribers. Returns the status and
// whether a transition happened on this call.
func (m *Manager) UpdateProposalStatus(proposalID string) (Status, bool) {
	m.mu.Lock()

	p, ok := m.proposals[proposalID]
	if !ok || p.Resolved() || !p.HasReachedConsensus() {
		var status Status
		if ok {
			status = p.Status
		}
		m.mu.Unlock()
		return status, false
	}

	p.Status = p.Outcome()
	p.ResolvedAt = time.Now().UnixMilli()
	subs := make([]subscriber, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	// Fire outside the lock so listeners may query the manager.
	for _, s := range subs {
		s.fn(Resolution{Proposal: p, Status: p.Status})
	}
	return p.Status, true
}

// GetByStatus returns all proposals currently in the given status.
func (m *Manager) GetByStatus(status Status) []*Proposal {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Proposal
	for _, p := range m.proposals {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out
}

// Delete removes a proposal from the collection.
func (m *Manager) Delete(proposalID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.proposals, proposalID)
}

// Subscribe registers a resolution listener and returns its
// unsubscribe function. Listeners fire in registration order.
func (m *Manager) Subscribe(fn func(Resolution)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subs = append(m.subs, subscriber{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				return
			}
		}
	}
}
