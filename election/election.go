// Package election defines the boundary to the external membership
// collaborator. The consensus core only consumes its outputs (committees,
// replacement candidates) and reports misbehavior and term statistics back;
// who is eligible to be a miner is decided elsewhere.
package election

import "chaindpos/types"

// TermSnapshot aggregates a term's per-miner statistics, reported once at
// the term boundary.
type TermSnapshot struct {
	TermNumber     int64            `json:"term_number"`
	EndRoundNumber int64            `json:"end_round_number"`
	MinedBlocks    map[string]int64 `json:"mined_blocks"`
	MissedSlots    map[string]int64 `json:"missed_slots"`
}

// Election is the membership collaborator.
type Election interface {
	// GetReplacementCandidates asks for stand-ins for the given evil miners.
	// It may return fewer candidates than evil miners; the caller must then
	// shrink the committee rather than keep an unmatched evil miner active.
	GetReplacementCandidates(evil []string, committee *types.MinerList) ([]string, error)

	// ReportEvil flags a miner whose missed-slot count exceeded tolerance.
	ReportEvil(pubkey string)

	// ReportCommitteeSize publishes the size of the committee after a change.
	ReportCommitteeSize(n int)

	// ReportSnapshot hands over the finished term's statistics.
	ReportSnapshot(snap TermSnapshot)
}

// Governance exposes the configuration the consensus core consumes.
type Governance interface {
	IsSecretSharingEnabled() bool
}
