// Copyright © 2018 One Concern

package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

var configGen = &cobra.Command{
	Use:   "generate",
	Short: "Generate a config",
	Long: `Generate a config to use for keel, from the flags given on the command line.

The config file is written to $HOME/.keel/keel.yaml unless an output file is given.`,
	Example: `% keel config generate --remote acme.org/ml-project --cache ~/.keel/cache --primary-branch main`,
	Run: func(cmd *cobra.Command, args []string) {
		target := keelFlags.config.Output
		if target == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				wrapFatalln("could not get home directory for user", err)
				return
			}
			target = filepath.Join(home, ".keel", "keel.yaml")
		}
		c := CLIConfig{
			Remote:        keelFlags.core.Remote,
			Registry:      keelFlags.core.Registry,
			Cache:         keelFlags.core.Cache,
			Timeout:       keelFlags.core.Timeout,
			Retries:       keelFlags.core.Retries,
			PlainHTTP:     keelFlags.core.PlainHTTP,
			PrimaryBranch: keelFlags.core.PrimaryBranch,
			LogLevel:      keelFlags.root.logLevel,
		}
		o, err := yaml.Marshal(c)
		if err != nil {
			wrapFatalln("serialize config to yaml", err)
			return
		}
		if err = os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
			wrapFatalln("create config directory", err)
			return
		}
		if err = os.WriteFile(target, o, 0o600); err != nil {
			wrapFatalln("write config file", err)
			return
		}
		infoLogger.Printf("config written to %s", target)
	},
}

func init() {
	addOutputFlag(configGen, &keelFlags.config.Output, "The config file to write")

	configCmd.AddCommand(configGen)
}
