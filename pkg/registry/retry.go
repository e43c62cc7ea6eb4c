// Copyright © 2018 One Concern

package registry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"

	"github.com/oneconcern/keel/pkg/errors"
	"github.com/oneconcern/keel/pkg/metrics"
	"github.com/oneconcern/keel/pkg/registry/status"
)

// Retry defaults
const (
	DefaultMaxRetries      = 4
	DefaultInitialInterval = 200 * time.Millisecond
	DefaultMaxInterval     = 5 * time.Second
	DefaultCallTimeout     = 30 * time.Second
)

// RetryOption configures the retrying decorator
type RetryOption func(*retryingRegistry)

// MaxRetries sets the number of retries after the first attempt
func MaxRetries(n uint64) RetryOption {
	return func(r *retryingRegistry) {
		r.maxRetries = n
	}
}

// Intervals sets the initial and maximum delays between attempts
func Intervals(initial, max time.Duration) RetryOption {
	return func(r *retryingRegistry) {
		if initial > 0 {
			r.initialInterval = initial
		}
		if max > 0 {
			r.maxInterval = max
		}
	}
}

// CallTimeout bounds the duration of each attempt. Zero means no bound beyond the caller's context.
func CallTimeout(d time.Duration) RetryOption {
	return func(r *retryingRegistry) {
		r.callTimeout = d
	}
}

// RetryLogger sets the logger reporting retries
func RetryLogger(l *zap.Logger) RetryOption {
	return func(r *retryingRegistry) {
		if l != nil {
			r.l = l
		}
	}
}

// WithRetry decorates a registry so that transient failures are retried with a bounded exponential backoff.
//
// Only ErrRemoteUnavailable is retried: integrity and conflict errors are returned immediately.
func WithRetry(reg Registry, opts ...RetryOption) Registry {
	r := &retryingRegistry{
		reg:             reg,
		maxRetries:      DefaultMaxRetries,
		initialInterval: DefaultInitialInterval,
		maxInterval:     DefaultMaxInterval,
		callTimeout:     DefaultCallTimeout,
		l:               zap.NewNop(),
	}
	for _, apply := range opts {
		apply(r)
	}
	return r
}

type retryingRegistry struct {
	reg             Registry
	maxRetries      uint64
	initialInterval time.Duration
	maxInterval     time.Duration
	callTimeout     time.Duration
	l               *zap.Logger
}

func (r *retryingRegistry) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.MaxInterval = r.maxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, r.maxRetries), ctx)
}

func (r *retryingRegistry) do(ctx context.Context, op string, fn func(context.Context) error) error {
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.callTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.callTimeout)
		}
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = status.ErrRemoteUnavailable.Detailf("%s timed out after %v", op, r.callTimeout).Wrap(err)
		}
		if !status.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, r.backOff(ctx), func(err error, next time.Duration) {
		metrics.RegistryRetries.WithLabelValues(op).Inc()
		r.l.Warn("retrying registry call",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	})
}

func (r *retryingRegistry) String() string {
	return r.reg.String()
}

func (r *retryingRegistry) PushBlob(ctx context.Context, desc ocispec.Descriptor, data []byte) error {
	return r.do(ctx, "PushBlob", func(ctx context.Context) error {
		return r.reg.PushBlob(ctx, desc, data)
	})
}

func (r *retryingRegistry) PullBlob(ctx context.Context, desc ocispec.Descriptor) ([]byte, error) {
	var data []byte
	err := r.do(ctx, "PullBlob", func(ctx context.Context) error {
		var e error
		data, e = r.reg.PullBlob(ctx, desc)
		return e
	})
	return data, err
}

func (r *retryingRegistry) HasBlob(ctx context.Context, desc ocispec.Descriptor) (bool, error) {
	var has bool
	err := r.do(ctx, "HasBlob", func(ctx context.Context) error {
		var e error
		has, e = r.reg.HasBlob(ctx, desc)
		return e
	})
	return has, err
}

func (r *retryingRegistry) PutManifest(ctx context.Context, tag, mediaType string, manifest []byte, cond Condition) (ocispec.Descriptor, error) {
	var desc ocispec.Descriptor
	err := r.do(ctx, "PutManifest", func(ctx context.Context) error {
		var e error
		desc, e = r.reg.PutManifest(ctx, tag, mediaType, manifest, cond)
		return e
	})
	return desc, err
}

func (r *retryingRegistry) GetManifest(ctx context.Context, reference string) (ocispec.Descriptor, []byte, error) {
	var (
		desc     ocispec.Descriptor
		manifest []byte
	)
	err := r.do(ctx, "GetManifest", func(ctx context.Context) error {
		var e error
		desc, manifest, e = r.reg.GetManifest(ctx, reference)
		return e
	})
	return desc, manifest, err
}

func (r *retryingRegistry) Resolve(ctx context.Context, reference string) (ocispec.Descriptor, error) {
	var desc ocispec.Descriptor
	err := r.do(ctx, "Resolve", func(ctx context.Context) error {
		var e error
		desc, e = r.reg.Resolve(ctx, reference)
		return e
	})
	return desc, err
}

func (r *retryingRegistry) ListTags(ctx context.Context) ([]string, error) {
	var tags []string
	err := r.do(ctx, "ListTags", func(ctx context.Context) error {
		var e error
		tags, e = r.reg.ListTags(ctx)
		return e
	})
	return tags, err
}

func (r *retryingRegistry) DeleteTag(ctx context.Context, tag string) error {
	return r.do(ctx, "DeleteTag", func(ctx context.Context) error {
		return r.reg.DeleteTag(ctx, tag)
	})
}

func (r *retryingRegistry) DeleteManifest(ctx context.Context, dgst digest.Digest) error {
	return r.do(ctx, "DeleteManifest", func(ctx context.Context) error {
		return r.reg.DeleteManifest(ctx, dgst)
	})
}
