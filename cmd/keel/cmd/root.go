// Copyright © 2018 One Concern

package cmd

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/oneconcern/keel/pkg/dlogger"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "keel",
	Short: "Keel versions and stores resources in an OCI registry",
	Long: `Keel packages resource definitions as immutable artifacts in an OCI registry.

A resource is published with its interface, implementation and state. Keel derives its semantic
version from what changed since the previous release:
  * a changed interface releases a new major version
  * a changed implementation releases a new minor version
  * a changed state releases a patch version when granted with --patch

Anything else is published as an adhoc version, named after the source revision.
`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		l, err := dlogger.GetLogger(keelFlags.root.logLevel)
		if err != nil {
			wrapFatalln("failed to set log level", err)
			return
		}
		logger = l
		if keelFlags.root.metricsAddr != "" {
			metricsServer = serveMetrics(keelFlags.root.metricsAddr)
		}
	},
	// upstream api note:  *PostRun functions aren't called in case of a panic() in Run
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		stopMetrics(metricsServer)
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var (
	config *CLIConfig
	logger = zap.NewNop()
)

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	log.SetFlags(0)
	cobra.OnInitialize(initConfig)

	addLogLevel(rootCmd)
	addMetricsAddrFlag(rootCmd)
	addRepoFlags(rootCmd)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if os.Getenv("KEEL_CONFIG") != "" {
		// Use config file from the env.
		viper.SetConfigFile(os.Getenv("KEEL_CONFIG"))
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.keel")
		viper.AddConfigPath("/etc/keel")
		viper.SetConfigName("keel")
	}

	viper.SetEnvPrefix("keel")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		log.Println("Using config file:", viper.ConfigFileUsed())
	}
	var err error
	config, err = newConfig()
	if err != nil {
		logFatalln(err)
		return
	}
	config.setKeelParams(&keelFlags)
}
