// Copyright © 2018 One Concern

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oneconcern/keel/pkg/index"
	"github.com/oneconcern/keel/pkg/model"
)

var cleanCmd = &cobra.Command{
	Use:   "clean <kind>.<name>",
	Short: "Remove the adhoc versions of a resource",
	Long: `Remove the adhoc versions of a resource.

With --force, released versions and the version history are removed too: the next publication
of the resource starts over at v1.0.0. Blobs are left in the registry.`,
	Example: `% keel clean obj.ham --dry-run
would remove from obj.ham:
  adhoc 3f2a9c1`,
	Args: cobra.ExactArgs(1),
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

		report, err := repo.Clean(cmd.Context(), id, index.CleanOptions{
			Force:  keelFlags.clean.Force,
			DryRun: keelFlags.clean.DryRun,
		})
		if err != nil {
			wrapFatalln("clean "+id.String(), err)
			return
		}
		if report.Empty() && keelFlags.core.Template == "" {
			infoLogger.Printf("nothing to clean in %s", id)
			return
		}
		printTemplate(cleanTemplate(keelFlags), cleanView{
			ID:          id,
			DryRun:      keelFlags.clean.DryRun,
			CleanReport: report,
		})
	},
}

type cleanView struct {
	ID     model.ResourceID
	DryRun bool
	index.CleanReport
}

var deleteCmd = &cobra.Command{
	Use:   "delete <reference>",
	Short: "Delete a version of a resource",
	Long: `Delete an adhoc version of a resource, or a released one with --force.

The reference must designate an exact version: queries are not accepted.`,
	Example: `% keel delete obj.ham.3f2a9c1
% keel delete acme.org/ml-project:obj.ham.v1.2.0 --force`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		repo := openRepo()
		if repo == nil {
			return
		}
		defer func() { _ = repo.Close() }()

		if err := repo.Delete(cmd.Context(), args[0], keelFlags.clean.Force); err != nil {
			wrapFatalln("delete "+args[0], err)
			return
		}
		infoLogger.Printf("deleted %s", args[0])
	},
}

var cacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Empty the local blob cache",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if keelFlags.core.Cache == "" {
			wrapFatalln("no cache is configured", nil)
			return
		}
		repo := openRepo()
		if repo == nil {
			return
		}
		defer func() { _ = repo.Close() }()

		if err := repo.ClearCache(cmd.Context()); err != nil {
			wrapFatalln("clear cache", err)
			return
		}
		infoLogger.Printf("cleared cache %s", keelFlags.core.Cache)
	},
}

func init() {
	addForceFlag(cleanCmd, "Also remove released versions and the version history")
	addDryRunFlag(cleanCmd)
	addTemplateFlag(cleanCmd)
	addForceFlag(deleteCmd, "Allow the deletion of a released version")

	rootCmd.AddCommand(cleanCmd, deleteCmd, cacheCmd)
}
