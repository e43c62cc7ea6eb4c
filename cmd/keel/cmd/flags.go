// Copyright © 2018 One Concern

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/oneconcern/keel/pkg/core"
	"github.com/oneconcern/keel/pkg/dlogger"
	"github.com/oneconcern/keel/pkg/model"
)

type flagsT struct {
	root struct {
		logLevel    string
		metricsAddr string
	}
	core struct {
		Remote        string
		Registry      string
		Cache         string
		Timeout       time.Duration
		Retries       uint64
		PlainHTTP     bool
		Concurrency   int
		PrimaryBranch string
		Template      string
	}
	push struct {
		Interface  string
		Impl       string
		State      string
		Bundles    map[string]string
		Labels     map[string]string
		Source     string
		MainLine   bool
		Adhoc      bool
		Patch      bool
		ForceMajor bool
	}
	pull struct {
		Media  string
		Output string
		Info   bool
	}
	query struct {
		Branch string
		Kind   string
	}
	clean struct {
		Force  bool
		DryRun bool
	}
	config struct {
		Output string
	}
}

var keelFlags = flagsT{}

func addLogLevel(cmd *cobra.Command) string {
	loglevel := "loglevel"
	cmd.PersistentFlags().StringVar(&keelFlags.root.logLevel, loglevel, dlogger.LogLevelWarn,
		"The logging level. Levels by increasing order of verbosity: none, error, warn, info, debug")
	return loglevel
}

func addMetricsAddrFlag(cmd *cobra.Command) string {
	c := "metrics-addr"
	cmd.PersistentFlags().StringVar(&keelFlags.root.metricsAddr, c, "",
		"Serve prometheus metrics on this address (e.g. :9090) while the command runs")
	return c
}

func addRemoteFlag(cmd *cobra.Command) string {
	c := "remote"
	cmd.PersistentFlags().StringVar(&keelFlags.core.Remote, c, "",
		"The remote location of the repository, e.g. acme.org/ml-project (for a layout registry: a directory)")
	return c
}

func addRegistryFlag(cmd *cobra.Command) string {
	c := "registry"
	cmd.PersistentFlags().StringVar(&keelFlags.core.Registry, c, "",
		`The type of registry: "oci" (an OCI distribution registry), "layout" (an OCI image layout directory) or "mem"`)
	return c
}

func addCacheFlag(cmd *cobra.Command) string {
	c := "cache"
	cmd.PersistentFlags().StringVar(&keelFlags.core.Cache, c, "", "The directory of the local blob cache. Disabled when empty")
	return c
}

func addTimeoutFlag(cmd *cobra.Command) string {
	c := "timeout"
	cmd.PersistentFlags().DurationVar(&keelFlags.core.Timeout, c, 0, "The timeout of a single registry call")
	return c
}

func addRetriesFlag(cmd *cobra.Command) string {
	c := "retries"
	cmd.PersistentFlags().Uint64Var(&keelFlags.core.Retries, c, 0, "The number of retries of a failed registry call")
	return c
}

func addPlainHTTPFlag(cmd *cobra.Command) string {
	c := "plain-http"
	cmd.PersistentFlags().BoolVar(&keelFlags.core.PlainHTTP, c, false, "Talk to the registry without TLS")
	return c
}

func addConcurrencyFlag(cmd *cobra.Command) string {
	c := "concurrency"
	cmd.PersistentFlags().IntVar(&keelFlags.core.Concurrency, c, core.DefaultConcurrency, "The number of blobs transferred concurrently")
	return c
}

func addPrimaryBranchFlag(cmd *cobra.Command) string {
	c := "primary-branch"
	cmd.PersistentFlags().StringVar(&keelFlags.core.PrimaryBranch, c, "",
		"The branch releasing on the main chain. Other branches release versions suffixed with the branch name")
	return c
}

func addTemplateFlag(cmd *cobra.Command) string {
	c := "format"
	cmd.PersistentFlags().StringVar(&keelFlags.core.Template, c, "",
		`Pretty-print results using a Go template. Use '{{ printf "%#v" . }}' to explore available fields`)
	return c
}

func addInterfaceFlag(cmd *cobra.Command) string {
	c := "interface"
	cmd.Flags().StringVar(&keelFlags.push.Interface, c, "", "The file describing the interface of the resource (json or yaml)")
	return c
}

func addImplFlag(cmd *cobra.Command) string {
	c := "impl"
	cmd.Flags().StringVar(&keelFlags.push.Impl, c, "", "The file holding the implementation of the resource")
	return c
}

func addStateFlag(cmd *cobra.Command) string {
	c := "state"
	cmd.Flags().StringVar(&keelFlags.push.State, c, "", "The file holding the state snapshot of the resource")
	return c
}

func addBundleFlag(cmd *cobra.Command) string {
	c := "bundle"
	cmd.Flags().StringToStringVar(&keelFlags.push.Bundles, c, nil,
		"Extra payloads published with the version, as media=file, with media one of: pkg, client, server")
	return c
}

func addLabelFlag(cmd *cobra.Command) string {
	c := "label"
	cmd.Flags().StringToStringVar(&keelFlags.push.Labels, c, nil, "Annotations added to the version manifest, as key=value")
	return c
}

func addSourceFlag(cmd *cobra.Command) string {
	c := "source"
	cmd.Flags().StringVar(&keelFlags.push.Source, c, ".", "The git working tree the resource is built from. Names adhoc versions")
	return c
}

func addMainLineFlag(cmd *cobra.Command) string {
	c := "main-line"
	cmd.Flags().BoolVar(&keelFlags.push.MainLine, c, false, "Release on the main chain, whatever the branch")
	return c
}

func addAdhocFlag(cmd *cobra.Command) string {
	c := "adhoc"
	cmd.Flags().BoolVar(&keelFlags.push.Adhoc, c, false, "Publish an adhoc version, even when a release is possible")
	return c
}

func addPatchFlag(cmd *cobra.Command) string {
	c := "patch"
	cmd.Flags().BoolVar(&keelFlags.push.Patch, c, false, "Release a patch version when only the state changed")
	return c
}

func addForceMajorFlag(cmd *cobra.Command) string {
	c := "major"
	cmd.Flags().BoolVar(&keelFlags.push.ForceMajor, c, false, "Release a major version for any change")
	return c
}

func addMediaFlag(cmd *cobra.Command) string {
	c := "media"
	cmd.Flags().StringVar(&keelFlags.pull.Media, c, string(model.MediaState),
		"The blob to pull: interface, impl, state, pkg, client, server or all")
	return c
}

func addOutputFlag(cmd *cobra.Command, target *string, usage string) string {
	c := "output"
	cmd.Flags().StringVarP(target, c, "o", "", usage)
	return c
}

func addInfoFlag(cmd *cobra.Command) string {
	c := "info"
	cmd.Flags().BoolVar(&keelFlags.pull.Info, c, false, "Print the version labels instead of pulling its content")
	return c
}

func addBranchFlag(cmd *cobra.Command) string {
	c := "branch"
	cmd.Flags().StringVar(&keelFlags.query.Branch, c, "", "The branch to look versions up for, the main chain when empty")
	return c
}

func addKindFlag(cmd *cobra.Command) string {
	c := "kind"
	cmd.Flags().StringVar(&keelFlags.query.Kind, c, "", "Only list resources of this kind: obj, pkg, env or fn")
	return c
}

func addForceFlag(cmd *cobra.Command, usage string) string {
	c := "force"
	cmd.Flags().BoolVar(&keelFlags.clean.Force, c, false, usage)
	return c
}

func addDryRunFlag(cmd *cobra.Command) string {
	c := "dry-run"
	cmd.Flags().BoolVar(&keelFlags.clean.DryRun, c, false, "Report what would be removed")
	return c
}

// addRepoFlags registers the flags locating and configuring the repository
func addRepoFlags(cmd *cobra.Command) {
	addRemoteFlag(cmd)
	addRegistryFlag(cmd)
	addCacheFlag(cmd)
	addTimeoutFlag(cmd)
	addRetriesFlag(cmd)
	addPlainHTTPFlag(cmd)
	addConcurrencyFlag(cmd)
	addPrimaryBranchFlag(cmd)
}

// requireFlags marks flags as required
func requireFlags(cmd *cobra.Command, flags ...string) {
	for _, flag := range flags {
		err := cmd.MarkFlagRequired(flag)
		if err != nil {
			err = cmd.MarkPersistentFlagRequired(flag)
		}
		if err != nil {
			wrapFatalln(fmt.Sprintf("error attempting to mark the required flag %q", flag), err)
			return
		}
	}
}
