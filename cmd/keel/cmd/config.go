// Copyright © 2018 One Concern

package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oneconcern/keel/pkg/core"
)

// CLIConfig describes the CLI configuration, read from keel.yaml or KEEL_* environment variables.
type CLIConfig struct {
	Remote        string        `json:"remote" yaml:"remote" mapstructure:"remote"`
	Registry      string        `json:"registry,omitempty" yaml:"registry,omitempty" mapstructure:"registry"`
	Cache         string        `json:"cache,omitempty" yaml:"cache,omitempty" mapstructure:"cache"`
	Timeout       time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" mapstructure:"timeout"`
	Retries       uint64        `json:"retries,omitempty" yaml:"retries,omitempty" mapstructure:"retries"`
	PlainHTTP     bool          `json:"plainHTTP,omitempty" yaml:"plain-http,omitempty" mapstructure:"plain-http"`
	PrimaryBranch string        `json:"primaryBranch,omitempty" yaml:"primary-branch,omitempty" mapstructure:"primary-branch"`
	LogLevel      string        `json:"loglevel,omitempty" yaml:"loglevel,omitempty" mapstructure:"loglevel"`
}

func newConfig() (*CLIConfig, error) {
	var config CLIConfig
	for _, key := range []string{"remote", "registry", "cache", "timeout", "retries", "plain-http", "primary-branch", "loglevel"} {
		// keys absent from the config file are only looked up in the environment once bound
		_ = viper.BindEnv(key)
	}
	err := viper.Unmarshal(&config)
	if err != nil {
		return nil, err
	}
	return &config, nil
}

// setKeelParams completes the flags left unset with the configuration
func (c *CLIConfig) setKeelParams(flags *flagsT) {
	if flags.core.Remote == "" {
		flags.core.Remote = c.Remote
	}
	if flags.core.Registry == "" {
		flags.core.Registry = c.Registry
	}
	if flags.core.Cache == "" {
		flags.core.Cache = c.Cache
	}
	if flags.core.Timeout == 0 {
		flags.core.Timeout = c.Timeout
	}
	if flags.core.Retries == 0 {
		flags.core.Retries = c.Retries
	}
	if !flags.core.PlainHTTP {
		flags.core.PlainHTTP = c.PlainHTTP
	}
	if flags.core.PrimaryBranch == "" {
		flags.core.PrimaryBranch = c.PrimaryBranch
	}
	if c.LogLevel != "" && !rootCmd.PersistentFlags().Changed("loglevel") {
		flags.root.logLevel = c.LogLevel
	}
}

// repoConfig is the repository configuration resulting from flags and config
func (f flagsT) repoConfig() core.Config {
	return core.Config{
		Remote:        f.core.Remote,
		Registry:      f.core.Registry,
		Cache:         f.core.Cache,
		Timeout:       f.core.Timeout,
		Retries:       f.core.Retries,
		PlainHTTP:     f.core.PlainHTTP,
		Concurrency:   f.core.Concurrency,
		PrimaryBranch: f.core.PrimaryBranch,
	}
}

func openRepo() *core.Repo {
	repo, err := core.Open(keelFlags.repoConfig(), core.Logger(logger))
	if err != nil {
		wrapFatalln("open repository", err)
		return nil
	}
	return repo
}

// configCmd represents the config related commands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Commands to manage a config",
	Long: `Commands to manage keel CLI config.

Configuration for keel is the common set of flags that are needed for most commands and do not change across runs,
analogous to "git config ...". `,
}

func init() {
	rootCmd.AddCommand(configCmd)
}
