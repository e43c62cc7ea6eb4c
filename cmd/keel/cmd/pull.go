// Copyright © 2018 One Concern

package cmd

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/oneconcern/keel/pkg/artifact"
	"github.com/oneconcern/keel/pkg/model"
)

// mediaAll pulls every blob of a version
const mediaAll = "all"

var pullCmd = &cobra.Command{
	Use:   "pull <reference>",
	Short: "Pull a version of a resource",
	Long: `Pull the content of a version, designated by a reference:

	[<location>:]<kind>.<name>[.<version-or-adhoc-tag-or-query>]

When the location is omitted, the reference designates a resource of the remote repository.
When the version is omitted, the latest release is pulled. Version queries are:
  * a version prefix, e.g. v1 or v1.2
  * a constraint, e.g. ^1.2 or ">= 1.0, < 2"
  * an adhoc tag

The state is pulled unless another media is selected. With "--media all", every blob of the version
is pulled into the output directory.
`,
	Example: `% keel pull obj.ham.v1 --remote acme.org/ml-project -o ham.pkl
% keel pull acme.org/ml-project:fn.spam.v2.1.0 --media client -o spam_client.py
% keel pull obj.ham --info`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		repo := openRepo()
		if repo == nil {
			return
		}
		defer func() { _ = repo.Close() }()

		if keelFlags.pull.Info {
			m, err := repo.Info(ctx, args[0])
			if err != nil {
				wrapFatalln("get version info", err)
				return
			}
			printTemplate(manifestTemplate(keelFlags), newManifestView(repo.Location(), m))
			return
		}

		if keelFlags.pull.Media == mediaAll {
			if keelFlags.pull.Output == "" {
				wrapFatalln("pulling all blobs requires an output directory", nil)
				return
			}
			blobs, err := repo.PullAll(ctx, args[0])
			if err != nil {
				wrapFatalln("pull "+args[0], err)
				return
			}
			if err = os.MkdirAll(keelFlags.pull.Output, 0o700); err != nil {
				wrapFatalln("create output directory", err)
				return
			}
			for media, blob := range blobs {
				target := filepath.Join(keelFlags.pull.Output, blob.Key.Resource.Name+"."+string(media))
				if err = os.WriteFile(target, blob.Payload, 0o600); err != nil {
					wrapFatalln("write "+string(media), err)
					return
				}
				infoLogger.Printf("pulled %s to %s", media, target)
			}
			return
		}

		media, err := model.ParseMediaKind(keelFlags.pull.Media)
		if err != nil {
			wrapFatalln("invalid media", err)
			return
		}
		blob, err := repo.PullMedia(ctx, args[0], media)
		if err != nil {
			wrapFatalln("pull "+args[0], err)
			return
		}
		if keelFlags.pull.Output == "" {
			if _, err = os.Stdout.Write(blob.Payload); err != nil {
				wrapFatalln("write to stdout", err)
			}
			return
		}
		if err = os.WriteFile(keelFlags.pull.Output, blob.Payload, 0o600); err != nil {
			wrapFatalln("write "+keelFlags.pull.Output, err)
			return
		}
	},
}

type layerView struct {
	Media  model.MediaKind
	Digest string
	Size   int64
}

type manifestView struct {
	Reference   string
	Digest      string
	Size        int64
	Created     string
	Layers      []layerView
	Annotations map[string]string
}

func newManifestView(location string, m *artifact.Manifest) manifestView {
	v := manifestView{
		Reference:   model.NewReference(location, m.Resource, m.Ref).String(),
		Digest:      m.Descriptor.Digest.String(),
		Size:        m.Size(),
		Annotations: m.Annotations,
	}
	if created := m.Created(); !created.IsZero() {
		v.Created = created.String()
	}
	kinds := m.MediaKinds()
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, kind := range kinds {
		layer, _ := m.Layer(kind)
		v.Layers = append(v.Layers, layerView{
			Media:  kind,
			Digest: layer.Digest().String(),
			Size:   layer.Descriptor.Size,
		})
	}
	return v
}

func init() {
	addMediaFlag(pullCmd)
	addOutputFlag(pullCmd, &keelFlags.pull.Output, `The file to write the blob to, stdout when empty. A directory with "--media all"`)
	addInfoFlag(pullCmd)
	addTemplateFlag(pullCmd)

	rootCmd.AddCommand(pullCmd)
}
