package commands

import (
	"os"
	"path/filepath"
	"strings"

	"chaindpos/consensus"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	tmflags "github.com/tendermint/tendermint/libs/cli/flags"
	"github.com/tendermint/tendermint/libs/log"
)

var (
	config = DefaultRootConfig()
	logger = log.NewTMLogger(log.NewSyncWriter(os.Stdout))
	json   = jsoniter.ConfigCompatibleWithStandardLibrary
)

// RootConfig is the file/flag configuration shared by every subcommand.
type RootConfig struct {
	RootDir  string `mapstructure:"home"`
	LogLevel string `mapstructure:"log_level"`

	Consensus *consensus.Config `mapstructure:"consensus"`
}

func DefaultRootConfig() *RootConfig {
	return &RootConfig{
		LogLevel:  "main:info,*:error",
		Consensus: consensus.DefaultConfig(),
	}
}

// MinerKeyFile is where this node's signing identity lives.
func (cfg *RootConfig) MinerKeyFile() string {
	return filepath.Join(cfg.RootDir, "config", "miner_key.json")
}

// CommitteeFile holds the genesis committee.
func (cfg *RootConfig) CommitteeFile() string {
	return filepath.Join(cfg.RootDir, "config", "committee.json")
}

// RoundDBDir is the goleveldb directory for the round store.
func (cfg *RootConfig) RoundDBDir() string {
	return filepath.Join(cfg.RootDir, "data")
}

// ParseConfig reads the viper-merged flags and files into the shared config.
func ParseConfig() (*RootConfig, error) {
	conf := DefaultRootConfig()
	if err := viper.Unmarshal(conf); err != nil {
		return nil, err
	}
	conf.RootDir = os.ExpandEnv(conf.RootDir)
	return conf, nil
}

// RootCmd is the root command. Every subcommand runs under it.
var RootCmd = &cobra.Command{
	Use:   "chaindpos",
	Short: "DPoS round scheduling node",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		var err error
		config, err = ParseConfig()
		if err != nil {
			return err
		}
		logger, err = tmflags.ParseLogLevel(config.LogLevel, logger, "info")
		if err != nil {
			return err
		}
		logger = logger.With("module", "main")
		return nil
	},
}

func init() {
	RootCmd.PersistentFlags().String("log_level", config.LogLevel, "log level")
}

// deprecateSnakeCase 提示snake_case的命令名已经废弃
func deprecateSnakeCase(cmd *cobra.Command, args []string) {
	if strings.Contains(cmd.CalledAs(), "_") {
		logger.Error("deprecated snake_case commands will be removed")
	}
}
