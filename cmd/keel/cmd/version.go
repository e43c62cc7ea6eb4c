// Copyright © 2018 One Concern

package cmd

import (
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/oneconcern/keel/pkg/core"
	"github.com/oneconcern/keel/pkg/model"
)

// Build information, set with -ldflags. When unset, the module and vcs settings recorded
// by the go toolchain are reported instead.
var (
	Version   string
	BuildDate string
	GitCommit string
	GitState  string
)

// VersionInfo describes the keel binary and the formats it reads and writes
type VersionInfo struct {
	Version      string `json:"version"`
	BuildDate    string `json:"buildDate,omitempty"`
	GitCommit    string `json:"gitCommit,omitempty"`
	GitState     string `json:"gitState,omitempty"`
	GoVersion    string `json:"goVersion"`
	ArtifactType string `json:"artifactType"`
	LedgerType   string `json:"ledgerType"`
	Registry     string `json:"registry"`
	Primary      string `json:"primaryBranch,omitempty"`
}

// NewVersionInfo reports the build information of this binary, with the registry settings in effect
func NewVersionInfo(opts flagsT) VersionInfo {
	ver := VersionInfo{
		Version:      "dev",
		BuildDate:    BuildDate,
		GitCommit:    GitCommit,
		GoVersion:    runtime.Version(),
		ArtifactType: model.ArtifactType,
		LedgerType:   model.LedgerArtifactType,
		Registry:     opts.core.Registry,
		Primary:      opts.core.PrimaryBranch,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		if v := bi.Main.Version; v != "" && v != "(devel)" {
			ver.Version = v
		}
		for _, setting := range bi.Settings {
			switch setting.Key {
			case "vcs.revision":
				ver.GitCommit = setting.Value
			case "vcs.time":
				ver.BuildDate = setting.Value
			case "vcs.modified":
				ver.GitState = map[string]string{"true": "dirty", "false": "clean"}[setting.Value]
			}
		}
	}

	// ldflags win over the toolchain settings
	if Version != "" {
		ver.Version = Version
		ver.GitState = "clean"
	}
	if BuildDate != "" {
		ver.BuildDate = BuildDate
	}
	if GitCommit != "" {
		ver.GitCommit = GitCommit
	}
	if GitState != "" {
		ver.GitState = GitState
	}
	if ver.Registry == "" {
		ver.Registry = core.RegistryOCI
	}
	return ver
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Prints the version of keel",
	Long: `Prints the version of keel: its build information, the artifact types of the
manifests it publishes and the registry settings in effect.`,
	Example: `% keel version --format '{{.Version}} {{.ArtifactType}}'`,
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		printTemplate(versionInfoTemplate(keelFlags), NewVersionInfo(keelFlags))
	},
}

func init() {
	addTemplateFlag(versionCmd)
	rootCmd.AddCommand(versionCmd)
}
