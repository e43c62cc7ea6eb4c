// Copyright © 2018 One Concern

// Package scm captures the source control revision a resource is published from.
package scm

import (
	"bytes"
	"context"
	"encoding/hex"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	blake2b "github.com/minio/blake2b-simd"
	"go.uber.org/zap"

	"github.com/oneconcern/keel/pkg/errors"
	"github.com/oneconcern/keel/pkg/model"
)

var (
	// ErrNoRepository is returned when the directory is not part of a git working tree
	ErrNoRepository = errors.New("not a git repository")

	// ErrGit is returned when a git command fails
	ErrGit = errors.New("git command failed")
)

// DefaultExcludes are the patterns of generated files ignored when hashing uncommitted changes
var DefaultExcludes = []string{"*_client.*", "*_server.*", "*.keel"}

// Option for a source repository
type Option func(*Repo)

// Logger sets the logger
func Logger(l *zap.Logger) Option {
	return func(r *Repo) {
		if l != nil {
			r.l = l
		}
	}
}

// Exclude sets the patterns of generated files ignored when hashing uncommitted changes.
// Patterns are matched against the base name of files.
func Exclude(patterns ...string) Option {
	return func(r *Repo) {
		r.excludes = patterns
	}
}

// GitBinary sets the git executable
func GitBinary(path string) Option {
	return func(r *Repo) {
		r.git = path
	}
}

// Repo is a git working tree
type Repo struct {
	dir      string
	git      string
	excludes []string
	l        *zap.Logger
}

// Open a git working tree
func Open(dir string, opts ...Option) *Repo {
	r := &Repo{
		dir:      dir,
		git:      "git",
		excludes: DefaultExcludes,
		l:        zap.NewNop(),
	}
	for _, apply := range opts {
		apply(r)
	}
	return r
}

// Revision returns the current commit and a hash of uncommitted changes, if any.
//
// Uncommitted changes are the diff against HEAD and the content of untracked files,
// except generated files.
func (r *Repo) Revision(ctx context.Context) (model.Revision, error) {
	top, err := r.run(ctx, r.dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return model.Revision{}, ErrNoRepository.Detailf("%s", r.dir).Wrap(err)
	}
	root := strings.TrimSpace(string(top))

	head, err := r.run(ctx, root, "rev-parse", "HEAD")
	if err != nil {
		// a repository without commits yet
		r.l.Debug("no HEAD commit", zap.String("dir", r.dir), zap.Error(err))
		head = nil
	}
	rev := model.Revision{Commit: strings.TrimSpace(string(head))}

	dirty, err := r.dirtyHash(ctx, root, rev.Commit != "")
	if err != nil {
		return model.Revision{}, err
	}
	rev.Dirty = dirty
	r.l.Debug("source revision", zap.String("dir", r.dir), zap.String("commit", rev.Commit), zap.String("dirty", rev.Dirty))
	return rev, nil
}

// Branch returns the name of the checked out branch, empty on a detached HEAD.
func (r *Repo) Branch(ctx context.Context) (string, error) {
	out, err := r.run(ctx, r.dir, "symbolic-ref", "--quiet", "--short", "HEAD")
	if err != nil {
		if _, rerr := r.run(ctx, r.dir, "rev-parse", "--git-dir"); rerr != nil {
			return "", ErrNoRepository.Detailf("%s", r.dir).Wrap(rerr)
		}
		r.l.Debug("detached HEAD", zap.String("dir", r.dir))
		return "", nil
	}
	return strings.TrimSpace(string(out)), nil
}

func (r *Repo) dirtyHash(ctx context.Context, root string, hasHead bool) (string, error) {
	h := blake2b.New512()
	changed := false

	if hasHead {
		names, err := r.run(ctx, root, "diff", "HEAD", "--name-only", "-z")
		if err != nil {
			return "", err
		}
		files := r.filter(splitZ(names))
		if len(files) > 0 {
			diff, err := r.run(ctx, root, append([]string{"diff", "HEAD", "--binary", "--"}, files...)...)
			if err != nil {
				return "", err
			}
			_, _ = h.Write(diff)
			changed = true
		}
	}

	untracked, err := r.run(ctx, root, "ls-files", "--others", "--exclude-standard", "-z")
	if err != nil {
		return "", err
	}
	files := r.filter(splitZ(untracked))
	for _, f := range files {
		content, err := os.ReadFile(filepath.Join(root, f))
		if err != nil {
			return "", ErrGit.Detailf("reading untracked file %s", f).Wrap(err)
		}
		_, _ = h.Write([]byte(f))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write(content)
		changed = true
	}

	if !changed {
		return "", nil
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (r *Repo) filter(files []string) []string {
	kept := make([]string, 0, len(files))
	for _, f := range files {
		if r.excluded(f) {
			continue
		}
		kept = append(kept, f)
	}
	sort.Strings(kept)
	return kept
}

func (r *Repo) excluded(file string) bool {
	base := filepath.Base(file)
	for _, pattern := range r.excludes {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

func (r *Repo) run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.git, append([]string{"-C", dir}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, ErrGit.Detailf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(stderr.String())).Wrap(err)
	}
	return out, nil
}

func splitZ(b []byte) []string {
	parts := strings.Split(string(b), "\x00")
	files := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			files = append(files, p)
		}
	}
	return files
}
