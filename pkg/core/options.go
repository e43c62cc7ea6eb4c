// Copyright © 2018 One Concern

package core

import (
	"time"

	opentracing "github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	"github.com/oneconcern/keel/pkg/fingerprint"
	"github.com/oneconcern/keel/pkg/model"
	"github.com/oneconcern/keel/pkg/registry"
)

// Registry types
const (
	RegistryOCI    = "oci"
	RegistryLayout = "layout"
	RegistryMemory = "mem"
)

// Defaults for the repository configuration
const (
	DefaultTimeout     = registry.DefaultCallTimeout
	DefaultRetries     = registry.DefaultMaxRetries
	DefaultConcurrency = 4
)

// Config of a repository. It is loaded from keel.yaml by the CLI.
type Config struct {
	// Remote location, e.g. acme.org/ml-project
	Remote string `json:"remote" yaml:"remote"`
	// Registry type: oci (default), layout (an OCI layout directory) or mem
	Registry string `json:"registry,omitempty" yaml:"registry,omitempty"`
	// Cache is the directory of the local blob cache. No cache when empty.
	Cache string `json:"cache,omitempty" yaml:"cache,omitempty"`
	// Timeout of a single remote call
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// Retries of a failed remote call
	Retries uint64 `json:"retries,omitempty" yaml:"retries,omitempty"`
	// PlainHTTP talks to the registry without TLS
	PlainHTTP bool `json:"plainHTTP,omitempty" yaml:"plain-http,omitempty"`
	// Concurrency of blob uploads
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	// PrimaryBranch releases on the main chain
	PrimaryBranch string `json:"primaryBranch,omitempty" yaml:"primary-branch,omitempty"`
	// CatalogueTTL is the lifetime of the cached catalogue
	CatalogueTTL time.Duration `json:"catalogueTTL,omitempty" yaml:"catalogue-ttl,omitempty"`
}

// Option for a repository
type Option func(*Repo)

// Logger for the repository and all its components
func Logger(l *zap.Logger) Option {
	return func(r *Repo) {
		if l != nil {
			r.l = l
		}
	}
}

// Tracer for registry and cache operations
func Tracer(tr opentracing.Tracer) Option {
	return func(r *Repo) {
		if tr != nil {
			r.tracer = tr
		}
	}
}

// WithRegistry uses an already built registry instead of the one in the configuration
func WithRegistry(reg registry.Registry) Option {
	return func(r *Repo) {
		r.reg = reg
	}
}

// Hasher sets the fingerprint hasher
func Hasher(h *fingerprint.Hasher) Option {
	return func(r *Repo) {
		if h != nil {
			r.hasher = h
		}
	}
}

// PushOptions tune a publication
type PushOptions struct {
	// Branch the content comes from
	Branch string
	// MainLine releases on the main chain whatever the branch
	MainLine bool
	// Adhoc publishes an adhoc version
	Adhoc bool
	// Patch grants a patch release for state-only changes
	Patch bool
	// ForceMajor makes any release a major one
	ForceMajor bool
	// Revision of the source tree. When unset and SourceDir is given, it is read from git.
	Revision model.Revision
	// SourceDir is the git working tree the content is built from
	SourceDir string
	// Labels are extra manifest annotations
	Labels map[string]string
}

// QueryOption tunes version queries
type QueryOption func(*query)

type query struct {
	branch string
}

// OnBranch looks versions up on the chain of a branch
func OnBranch(branch string) QueryOption {
	return func(q *query) {
		q.branch = branch
	}
}
