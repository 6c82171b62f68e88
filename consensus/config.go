package consensus

import "time"

const (
	// DefaultMiningInterval is the spacing between two consecutive slots.
	DefaultMiningInterval = 4 * time.Second

	// DefaultTinyBlockCeiling caps the extra blocks one miner may produce
	// in a single slot.
	DefaultTinyBlockCeiling = 8

	// DefaultMissedSlotTolerance is three days' worth of slots; beyond it a
	// miner is treated as evil and replaced.
	DefaultMissedSlotTolerance = int64(3 * 24 * time.Hour / DefaultMiningInterval)

	// DefaultTermPeriod is how long one committee serves before the term
	// changes.
	DefaultTermPeriod = 7 * 24 * time.Hour

	// DefaultSlotSpacingTolerance is the allowed wobble between consecutive
	// expected mining times of a proposed round.
	DefaultSlotSpacingTolerance = 100 * time.Millisecond
)

// Config carries the scheduling constants. Every node of a chain must run
// the same values; they are consensus-critical.
type Config struct {
	MiningInterval       time.Duration `mapstructure:"mining_interval"`
	TinyBlockCeiling     int64         `mapstructure:"tiny_block_ceiling"`
	MissedSlotTolerance  int64         `mapstructure:"missed_slot_tolerance"`
	TermPeriod           time.Duration `mapstructure:"term_period"`
	SlotSpacingTolerance time.Duration `mapstructure:"slot_spacing_tolerance"`
}

func DefaultConfig() *Config {
	return &Config{
		MiningInterval:       DefaultMiningInterval,
		TinyBlockCeiling:     DefaultTinyBlockCeiling,
		MissedSlotTolerance:  DefaultMissedSlotTolerance,
		TermPeriod:           DefaultTermPeriod,
		SlotSpacingTolerance: DefaultSlotSpacingTolerance,
	}
}
