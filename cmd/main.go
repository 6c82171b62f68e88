package main

import (
	"fmt"
	"os"
	"path/filepath"

	cmd "chaindpos/cmd/commands"

	"github.com/tendermint/tendermint/libs/cli"
)

const defaultHomeDir = ".chaindpos"

func main() {
	rootCmd := cmd.RootCmd

	rootCmd.AddCommand(
		cmd.GenMinerKeyCmd,
		cmd.GenCommitteeCmd,
		cmd.SimulateCmd,
		cli.NewCompletionCmd(rootCmd, true),
	)

	executor := cli.PrepareBaseCmd(rootCmd, "CHAINDPOS", os.ExpandEnv(filepath.Join("$HOME", defaultHomeDir)))
	if err := executor.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
