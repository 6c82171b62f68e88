package consensus

import (
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rcrowley/go-metrics"
)

func newConsensusMetric() *consensusMetric {
	return &consensusMetric{
		producedBlocks:  metrics.NewCounter(),
		producedTiny:    metrics.NewCounter(),
		rejectedHeaders: metrics.NewCounter(),
		roundChanges:    metrics.NewCounter(),
		termChanges:     metrics.NewCounter(),
	}
}

type consensusMetric struct {
	RoundNumber    int64     `json:"current_round_number"`
	TermNumber     int64     `json:"current_term_number"`
	RoundStartTime time.Time `json:"round_start_time"`

	LibHeight      int64 `json:"lib_height"`
	LibRoundNumber int64 `json:"lib_round_number"`

	LastBehavior  string `json:"last_behavior"`
	CommitteeSize int    `json:"committee_size"`

	producedBlocks  metrics.Counter
	producedTiny    metrics.Counter
	rejectedHeaders metrics.Counter
	roundChanges    metrics.Counter
	termChanges     metrics.Counter
}

func (cm *consensusMetric) JSONString() string {
	s, _ := jsoniter.MarshalToString(cm)
	return s
}

func (cm *consensusMetric) MarkRound(roundNumber, termNumber int64, start time.Time, committee int) {
	cm.RoundNumber = roundNumber
	cm.TermNumber = termNumber
	cm.RoundStartTime = start
	cm.CommitteeSize = committee
}

func (cm *consensusMetric) MarkLib(height, roundNumber int64) {
	cm.LibHeight = height
	cm.LibRoundNumber = roundNumber
}

func (cm *consensusMetric) MarkBehavior(v string) {
	cm.LastBehavior = v
}
