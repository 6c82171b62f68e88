package commands

import (
	"fmt"
	"path/filepath"

	"chaindpos/privval"

	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"
)

// GenMinerKeyCmd 生成矿工的公私钥对并打印共识身份
var GenMinerKeyCmd = &cobra.Command{
	Use:     "gen-miner-key",
	Aliases: []string{"gen_miner_key"},
	Short:   "Generate a miner keypair and print its consensus identity",
	PreRun:  deprecateSnakeCase,
	RunE:    genMinerKey,
}

func genMinerKey(cmd *cobra.Command, args []string) error {
	keyFile := config.MinerKeyFile()
	if tmos.FileExists(keyFile) {
		return fmt.Errorf("miner key at %s already exists", keyFile)
	}
	if err := tmos.EnsureDir(filepath.Dir(keyFile), 0700); err != nil {
		return err
	}

	fm := privval.GenFileMiner(keyFile)
	fm.Save()
	logger.Info("Generated miner key", "keyFile", keyFile)

	fmt.Println(fm.MinerPubKey())
	return nil
}
