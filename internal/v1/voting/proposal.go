// Package voting implements the consensus primitive: motions with a
// configurable approval threshold, resolved by the first satisfying
// vote. Abstentions are excluded from the decisive ratio.
package voting

import (
	"github.com/osobh/parley/internal/v1/types"
)

// Status is the proposal lifecycle state. Proposals start pending and
// transition exactly once to approved or rejected.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Proposal is a single motion. Votes map agent id to that agent's most
// recent vote; re-voting overwrites. Mutation is serialized by the
// owning Manager.
type Proposal struct {
	ID           string
	Title        string
	Description  string
	ProposerID   string
	ProposerName string
	Threshold    float64
	Votes        map[string]types.VoteType
	Status       Status
	CreatedAt    int64
	ResolvedAt   int64
}

// Counts derives the vote tally.
func (p *Proposal) Counts() (yes, no, abstain int) {
	for _, v := range p.Votes {
		switch v {
		case types.VoteYes:
			yes++
		case types.VoteNo:
			no++
		case types.VoteAbstain:
			abstain++
		}
	}
	return yes, no, abstain
}

// HasReachedConsensus reports whether the resolution predicate holds:
// with D = yes + no decisive votes, D > 0 and either the yes share
// meets the threshold or the no share exceeds 1 - threshold. The
// general form covers unanimity (threshold 1.0): approval needs every
// decisive vote to be yes, and a single no rejects.
func (p *Proposal) HasReachedConsensus() bool {
	yes, no, _ := p.Counts()
	decisive := yes + no
	if decisive == 0 {
		return false
	}
	yesShare := float64(yes) / float64(decisive)
	noShare := float64(no) / float64(decisive)
	return yesShare >= p.Threshold || noShare > 1-p.Threshold
}

// Outcome returns the terminal status the current tally implies.
// Meaningful only once HasReachedConsensus is true.
func (p *Proposal) Outcome() Status {
	yes, no, _ := p.Counts()
	decisive := yes + no
	if decisive > 0 && float64(yes)/float64(decisive) >= p.Threshold {
		return StatusApproved
	}
	return StatusRejected
}

// Resolved reports whether the proposal has reached a terminal status.
func (p *Proposal) Resolved() bool {
	return p.Status != StatusPending
}
