// Copyright © 2018 One Concern

package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oneconcern/keel/pkg/core"
	"github.com/oneconcern/keel/pkg/errors"
	"github.com/oneconcern/keel/pkg/model"
	"github.com/oneconcern/keel/pkg/resolver"
	"github.com/oneconcern/keel/pkg/scm"
)

var pushCmd = &cobra.Command{
	Use:   "push <kind>.<name>",
	Short: "Publish a version of a resource",
	Long: `Publish the interface, implementation and state of a resource.

The version is derived from the latest release on the chain of the branch:
  * when the content was already published, the existing version is reported
  * a changed interface releases a new major version
  * a changed implementation releases a new minor version
  * a changed state releases a new patch version, with --patch

Otherwise, an adhoc version named after the source revision is published.
Releases from a branch other than the primary branch are suffixed with the branch name, unless --main-line is set.
`,
	Example: `% keel push obj.ham --interface ham.yaml --impl ham.py --state ham.pkl --remote acme.org/ml-project
released acme.org/ml-project:obj.ham.v1.0.0 (major, interface changed)

% keel push fn.spam --interface spam.yaml --impl spam.py --bundle client=spam_client.py --branch feature/eggs`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		id, err := model.ParseResourceID(args[0])
		if err != nil {
			wrapFatalln("invalid resource", err)
			return
		}
		layers, err := readLayers()
		if err != nil {
			wrapFatalln("read resource layers", err)
			return
		}
		opts := pushOptions(ctx)

		repo := openRepo()
		if repo == nil {
			return
		}
		defer func() { _ = repo.Close() }()

		p, err := repo.Publish(ctx, id, layers, opts)
		if err != nil {
			wrapFatalln("publish "+id.String(), err)
			return
		}
		printTemplate(publicationTemplate(keelFlags), publicationView{
			Reference:   p.Reference.String(),
			Version:     p.Resolution.Ref.String(),
			Outcome:     p.Resolution.Outcome.String(),
			Bumped:      p.Resolution.Outcome == resolver.Released && p.Resolution.Bump != model.BumpNone,
			Bump:        p.Resolution.Bump.String(),
			Changed:     p.Resolution.Changed.String(),
			Chain:       p.Resolution.Chain.String(),
			Fingerprint: p.Fingerprint.String(),
			Manifest:    p.Manifest.String(),
			Restored:    p.Restored,
		})
	},
}

type publicationView struct {
	Reference   string
	Version     string
	Outcome     string
	Bumped      bool
	Bump        string
	Changed     string
	Chain       string
	Fingerprint string
	Manifest    string
	Restored    bool
}

func readLayers() (model.Layers, error) {
	var (
		layers model.Layers
		err    error
	)
	if layers.Interface, err = os.ReadFile(keelFlags.push.Interface); err != nil {
		return layers, err
	}
	if keelFlags.push.Impl != "" {
		if layers.Implementation, err = os.ReadFile(keelFlags.push.Impl); err != nil {
			return layers, err
		}
	}
	if keelFlags.push.State != "" {
		if layers.State, err = os.ReadFile(keelFlags.push.State); err != nil {
			return layers, err
		}
	}
	if len(keelFlags.push.Bundles) == 0 {
		return layers, nil
	}
	layers.Bundles = make(map[model.MediaKind][]byte, len(keelFlags.push.Bundles))
	for media, file := range keelFlags.push.Bundles {
		kind, err := model.ParseMediaKind(media)
		if err != nil {
			return layers, err
		}
		switch kind {
		case model.MediaPackage, model.MediaClient, model.MediaServer:
		default:
			return layers, errors.New("not a bundle").Detailf("%s", media)
		}
		if layers.Bundles[kind], err = os.ReadFile(file); err != nil {
			return layers, err
		}
	}
	return layers, nil
}

// pushOptions resolves the branch and source revision from the git working tree, when there is one
func pushOptions(ctx context.Context) core.PushOptions {
	opts := core.PushOptions{
		Branch:     keelFlags.query.Branch,
		MainLine:   keelFlags.push.MainLine,
		Adhoc:      keelFlags.push.Adhoc,
		Patch:      keelFlags.push.Patch,
		ForceMajor: keelFlags.push.ForceMajor,
		Labels:     keelFlags.push.Labels,
	}
	if keelFlags.push.Source == "" {
		return opts
	}
	branch, err := scm.Open(keelFlags.push.Source, scm.Logger(logger)).Branch(ctx)
	if err != nil {
		logger.Warn("source is not a git working tree: adhoc versions are not named after a revision",
			zap.String("source", keelFlags.push.Source), zap.Error(err))
		return opts
	}
	opts.SourceDir = keelFlags.push.Source
	if opts.Branch == "" {
		opts.Branch = branch
	}
	return opts
}

func init() {
	requireFlags(pushCmd,
		addInterfaceFlag(pushCmd),
	)
	addImplFlag(pushCmd)
	addStateFlag(pushCmd)
	addBundleFlag(pushCmd)
	addLabelFlag(pushCmd)
	addSourceFlag(pushCmd)
	addBranchFlag(pushCmd)
	addMainLineFlag(pushCmd)
	addAdhocFlag(pushCmd)
	addPatchFlag(pushCmd)
	addForceMajorFlag(pushCmd)
	addTemplateFlag(pushCmd)

	rootCmd.AddCommand(pushCmd)
}
