package commands

import (
	"fmt"
	"io/ioutil"
	"path/filepath"

	"chaindpos/privval"
	"chaindpos/types"

	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"
)

var committeeSize int

func init() {
	GenCommitteeCmd.Flags().IntVar(&committeeSize, "size", 4, "初始committee的矿工数")
	GenCommitteeCmd.MarkFlagRequired("size")
}

// GenCommitteeCmd 为本地集群生成全部矿工密钥和genesis committee文件
var GenCommitteeCmd = &cobra.Command{
	Use:     "gen-committee",
	Aliases: []string{"gen_committee"},
	Short:   "Generate miner keys and the genesis committee file for a local cluster",
	PreRun:  deprecateSnakeCase,
	RunE:    genCommittee,
}

func genCommittee(cmd *cobra.Command, args []string) error {
	if committeeSize < 1 {
		return fmt.Errorf("committee size %d, want at least 1", committeeSize)
	}
	committeeFile := config.CommitteeFile()
	if tmos.FileExists(committeeFile) {
		return fmt.Errorf("committee file at %s already exists", committeeFile)
	}
	keyDir := filepath.Dir(committeeFile)
	if err := tmos.EnsureDir(keyDir, 0700); err != nil {
		return err
	}

	pubkeys := make([]string, committeeSize)
	for i := 0; i < committeeSize; i++ {
		keyFile := filepath.Join(keyDir, fmt.Sprintf("miner_key_%d.json", i+1))
		if tmos.FileExists(keyFile) {
			return fmt.Errorf("miner key at %s already exists", keyFile)
		}
		fm := privval.GenFileMiner(keyFile)
		fm.Save()
		pubkeys[i] = fm.MinerPubKey()
		logger.Info("Generated miner key", "keyFile", keyFile, "pubkey", pubkeys[i])
	}

	committee := types.NewMinerList(pubkeys)
	bz, err := json.MarshalIndent(committee, "", "  ")
	if err != nil {
		return err
	}
	if err := ioutil.WriteFile(committeeFile, bz, 0644); err != nil {
		return err
	}
	logger.Info("Generated committee file", "path", committeeFile, "size", committee.Size())
	return nil
}
