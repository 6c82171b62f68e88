package mock

import (
	"chaindpos/election"
	"chaindpos/types"
)

// Election is an in-memory membership collaborator for tests and local
// simulation. Candidates are consumed front to back.
type Election struct {
	Candidates []string

	ReportedEvil   []string
	CommitteeSizes []int
	Snapshots      []election.TermSnapshot
}

var _ election.Election = (*Election)(nil)

func NewElection(candidates ...string) *Election {
	return &Election{Candidates: candidates}
}

func (m *Election) GetReplacementCandidates(evil []string, committee *types.MinerList) ([]string, error) {
	n := len(evil)
	if n > len(m.Candidates) {
		n = len(m.Candidates)
	}
	picked := m.Candidates[:n]
	m.Candidates = m.Candidates[n:]
	return picked, nil
}

func (m *Election) ReportEvil(pubkey string) {
	m.ReportedEvil = append(m.ReportedEvil, pubkey)
}

func (m *Election) ReportCommitteeSize(n int) {
	m.CommitteeSizes = append(m.CommitteeSizes, n)
}

func (m *Election) ReportSnapshot(snap election.TermSnapshot) {
	m.Snapshots = append(m.Snapshots, snap)
}

// Governance is a fixed-flag governance collaborator.
type Governance struct {
	SecretSharing bool
}

var _ election.Governance = (*Governance)(nil)

func (g *Governance) IsSecretSharingEnabled() bool { return g.SecretSharing }
