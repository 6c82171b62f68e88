package commands

import (
	"fmt"
	"time"

	"chaindpos/consensus"
	"chaindpos/election/mock"
	"chaindpos/store"
	"chaindpos/types"

	"github.com/spf13/cobra"
	memdb "github.com/tendermint/tm-db/memdb"
)

var (
	simRounds      int
	simMiners      int
	simSecretShare bool
)

func init() {
	SimulateCmd.Flags().IntVar(&simRounds, "rounds", 5, "模拟多少轮")
	SimulateCmd.Flags().IntVar(&simMiners, "miners", 4, "committee矿工数")
	SimulateCmd.Flags().BoolVar(&simSecretShare, "secret-share", true, "启用秘密分享")
}

// SimulateCmd 在内存里跑一个单进程多矿工的排班模拟，观察轮换和LIB推进
var SimulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run an in-process multi-round scheduling simulation",
	RunE:  runSimulate,
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if simMiners < 1 || simRounds < 1 {
		return fmt.Errorf("need at least one miner and one round")
	}

	pubkeys := make([]string, simMiners)
	for i := range pubkeys {
		pubkeys[i] = fmt.Sprintf("sim-miner-%02d", i)
	}
	committee := types.NewMinerList(pubkeys)

	rs := store.NewKVRoundStoreWithDB(memdb.NewDB(), logger)
	core := consensus.NewCore(config.Consensus, rs, mock.NewElection(),
		&mock.Governance{SecretSharing: simSecretShare})
	core.SetLogger(logger)

	start := time.Now()
	if _, err := core.InstallFirstRound(committee, start); err != nil {
		return err
	}

	height := int64(0)
	reveals := make(map[string][]byte)
	for i := 0; i < simRounds; i++ {
		cur, err := core.CurrentRound()
		if err != nil {
			return err
		}
		interval := cur.MiningInterval()
		if interval <= 0 {
			interval = config.Consensus.MiningInterval
		}

		next := make(map[string][]byte, simMiners)
		for _, ms := range cur.SlotsByOrder() {
			height++
			bt := ms.ExpectedMiningTime.Add(time.Second)
			proposed, in, err := core.PrepareUpdateValue(ms.PubKey, bt, height, height, reveals[ms.PubKey])
			if err != nil {
				return err
			}
			next[ms.PubKey] = in

			if _, err := core.Apply(&consensus.HeaderInfo{
				Behavior:      types.BehaviorUpdateValue,
				SenderPubKey:  ms.PubKey,
				BlockTime:     bt,
				BlockHeight:   height,
				ProvidedRound: proposed,
				RoundHash:     proposed.Hash(),
			}); err != nil {
				return err
			}
		}
		reveals = next

		end, err := cur.RoundEndTime(interval)
		if err != nil {
			return err
		}
		now := end.Add(interval + time.Second)
		proposal, err := core.PrepareNextRound(now)
		if err != nil {
			return err
		}
		applied, err := core.Apply(&consensus.HeaderInfo{
			Behavior:      types.BehaviorNextRound,
			SenderPubKey:  pubkeys[0],
			BlockTime:     now,
			ProvidedRound: proposal,
			RoundHash:     proposal.Hash(),
		})
		if err != nil {
			return err
		}
		logger.Info("simulated round",
			"round", applied.RoundNumber,
			"lib_height", applied.ConfirmedIrreversibleBlockHeight,
			"lib_round", applied.ConfirmedIrreversibleBlockRoundNumber)
	}

	if item := core.Metrics().GetMetrics("consensus"); item != nil {
		fmt.Println(item.JSONString())
	}
	return nil
}
