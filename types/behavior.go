package types

import (
	"fmt"
	"time"
)

// Behavior tags what a block (or a mining instruction) does to the round
// state. Every behavior selects its own fixed validation chain.
type Behavior int8

const (
	// BehaviorNothing means the miner has nothing to do right now.
	BehaviorNothing Behavior = iota
	// BehaviorUpdateValue is the normal in-slot block: publish out value,
	// signature and next-round order.
	BehaviorUpdateValue
	// BehaviorTinyBlock is an extra block by the extra block producer.
	BehaviorTinyBlock
	// BehaviorNextRound terminates the round inside the same term.
	BehaviorNextRound
	// BehaviorNextTerm terminates the term; the committee may change.
	BehaviorNextTerm
)

func (b Behavior) String() string {
	switch b {
	case BehaviorNothing:
		return "Nothing"
	case BehaviorUpdateValue:
		return "UpdateValue"
	case BehaviorTinyBlock:
		return "TinyBlock"
	case BehaviorNextRound:
		return "NextRound"
	case BehaviorNextTerm:
		return "NextTerm"
	default:
		return fmt.Sprintf("Behavior(%d)", b)
	}
}

// ConsensusCommand is the answer to "what should I do now?": a behavior plus
// the wall-clock window in which the block must be authored.
type ConsensusCommand struct {
	Behavior           Behavior  `json:"behavior"`
	ArrangedMiningTime time.Time `json:"arranged_mining_time"`
	MiningDueTime      time.Time `json:"mining_due_time"`
	Hint               string    `json:"hint"`
}
