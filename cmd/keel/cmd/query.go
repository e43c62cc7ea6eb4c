// Copyright © 2018 One Concern

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oneconcern/keel/pkg/core"
	"github.com/oneconcern/keel/pkg/model"
)

func resourceArg(arg string) (model.ResourceID, bool) {
	id, err := model.ParseResourceID(arg)
	if err != nil {
		wrapFatalln("invalid resource", err)
		return model.ResourceID{}, false
	}
	return id, true
}

func branchOption() core.QueryOption {
	return core.OnBranch(keelFlags.query.Branch)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the resources of a repository",
	Long: `List the resources published to a repository, with their latest release
and the number of released and adhoc versions.`,
	Example: `% keel list --remote acme.org/ml-project --kind obj
obj.ham , v1.2.0 , 3 releases , 1 adhoc`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		var kinds []model.Kind
		if keelFlags.query.Kind != "" {
			kind, err := model.ParseKind(keelFlags.query.Kind)
			if err != nil {
				wrapFatalln("invalid kind", err)
				return
			}
			kinds = append(kinds, kind)
		}
		repo := openRepo()
		if repo == nil {
			return
		}
		defer func() { _ = repo.Close() }()

		summaries, err := repo.List(cmd.Context(), kinds...)
		if err != nil {
			wrapFatalln("list resources", err)
			return
		}
		t := summaryTemplate(keelFlags)
		for _, summary := range summaries {
			if !printTemplate(t, summary) {
				return
			}
		}
	},
}

var versionsCmd = &cobra.Command{
	Use:     "versions <kind>.<name>",
	Short:   "List the versions of a resource",
	Long:    "List the released versions of a resource, newest first, then its adhoc versions.",
	Example: `% keel versions obj.ham --remote acme.org/ml-project`,
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, ok := resourceArg(args[0])
		if !ok {
			return
		}
		repo := openRepo()
		if repo == nil {
			return
		}
		defer func() { _ = repo.Close() }()

		versions, err := repo.Versions(cmd.Context(), id)
		if err != nil {
			wrapFatalln("list versions", err)
			return
		}
		t := versionTemplate(keelFlags)
		for _, v := range versions {
			if !printTemplate(t, v) {
				return
			}
		}
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <kind>.<name>",
	Short: "Show the release history of a resource",
	Long: `Show the releases recorded on the chain of a branch, from the oldest to the newest,
with the bump each release made from its parent.`,
	Example: `% keel history obj.ham --branch feature/eggs`,
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, ok := resourceArg(args[0])
		if !ok {
			return
		}
		repo := openRepo()
		if repo == nil {
			return
		}
		defer func() { _ = repo.Close() }()

		nodes, err := repo.History(cmd.Context(), id, branchOption())
		if err != nil {
			wrapFatalln("get history", err)
			return
		}
		t := historyTemplate(keelFlags)
		for _, node := range nodes {
			if !printTemplate(t, node) {
				return
			}
		}
	},
}

var latestCmd = &cobra.Command{
	Use:     "latest <kind>.<name>",
	Short:   "Show the latest release of a resource",
	Example: `% keel latest obj.ham --branch feature/eggs`,
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, ok := resourceArg(args[0])
		if !ok {
			return
		}
		repo := openRepo()
		if repo == nil {
			return
		}
		defer func() { _ = repo.Close() }()

		v, err := repo.Latest(cmd.Context(), id, branchOption())
		if err != nil {
			wrapFatalln("get latest version", err)
			return
		}
		printTemplate(versionTemplate(keelFlags), v)
	},
}

var compatibleCmd = &cobra.Command{
	Use:   "compatible <kind>.<name> <version>",
	Short: "List the releases compatible with a version",
	Long: `List the releases of a resource sharing the major version of the given version, on the same chain,
newest first.`,
	Example: `% keel compatible obj.ham v1.2.3
v1.4.0
v1.2.3
v1.0.0`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		id, ok := resourceArg(args[0])
		if !ok {
			return
		}
		v, err := model.ParseVersion(args[1])
		if err != nil {
			wrapFatalln("invalid version", err)
			return
		}
		repo := openRepo()
		if repo == nil {
			return
		}
		defer func() { _ = repo.Close() }()

		versions, err := repo.Compatible(cmd.Context(), id, v)
		if err != nil {
			wrapFatalln("list compatible versions", err)
			return
		}
		t := versionTemplate(keelFlags)
		for _, compatible := range versions {
			if !printTemplate(t, compatible) {
				return
			}
		}
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <reference> | <kind>.<name> <query>",
	Short: "Resolve a version query to an exact version",
	Long: `Resolve a reference, or a version query on a resource, to the reference of an exact version.

Queries are: latest, a version prefix (v1, v1.2), an exact version, an adhoc tag or a semver constraint (^1.2).
Queries on a resource honor --branch.`,
	Example: `% keel resolve obj.ham.v1
acme.org/ml-project:obj.ham.v1.4.0

% keel resolve obj.ham "^1.2" --branch feature/eggs`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		repo := openRepo()
		if repo == nil {
			return
		}
		defer func() { _ = repo.Close() }()

		if len(args) == 1 {
			ref, err := repo.Resolve(cmd.Context(), args[0])
			if err != nil {
				wrapFatalln("resolve "+args[0], err)
				return
			}
			printTemplate(versionTemplate(keelFlags), ref)
			return
		}
		id, ok := resourceArg(args[0])
		if !ok {
			return
		}
		ref, err := repo.ResolveVersion(cmd.Context(), id, args[1], branchOption())
		if err != nil {
			wrapFatalln("resolve "+args[1], err)
			return
		}
		printTemplate(versionTemplate(keelFlags), model.NewReference(repo.Location(), id, ref))
	},
}

var ancestorCmd = &cobra.Command{
	Use:   "ancestor <kind>.<name> <prefix>",
	Short: "Show the newest release matching a version prefix",
	Long: `Show the newest release matching a version prefix on the chain of a branch,
e.g. the latest v1.2.x for v1.2.`,
	Example: `% keel ancestor obj.ham v1.2`,
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		id, ok := resourceArg(args[0])
		if !ok {
			return
		}
		repo := openRepo()
		if repo == nil {
			return
		}
		defer func() { _ = repo.Close() }()

		node, err := repo.NearestAncestor(cmd.Context(), id, args[1], branchOption())
		if err != nil {
			wrapFatalln("find ancestor of "+args[1], err)
			return
		}
		printTemplate(historyTemplate(keelFlags), node)
	},
}

func init() {
	addKindFlag(listCmd)
	addBranchFlag(historyCmd)
	addBranchFlag(latestCmd)
	addBranchFlag(resolveCmd)
	addBranchFlag(ancestorCmd)

	for _, cmd := range []*cobra.Command{listCmd, versionsCmd, historyCmd, latestCmd, compatibleCmd, resolveCmd, ancestorCmd} {
		addTemplateFlag(cmd)
		rootCmd.AddCommand(cmd)
	}
}
