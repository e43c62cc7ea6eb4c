// Copyright © 2018 One Concern

package registry

import (
	"context"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"go.uber.org/zap"

	"github.com/oneconcern/keel/pkg/metrics"
)

// Instrument a registry with tracing spans, debug logs and prometheus metrics
func Instrument(tr opentracing.Tracer, l *zap.Logger, reg Registry) Registry {
	if tr == nil {
		tr = opentracing.NoopTracer{}
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &instrumentedRegistry{
		tr:  tr,
		reg: reg,
		l:   l.With(zap.String("registry", reg.String())),
	}
}

type instrumentedRegistry struct {
	reg Registry
	tr  opentracing.Tracer
	l   *zap.Logger
}

func (i *instrumentedRegistry) opName(name string) string {
	return strings.Join([]string{"registry", name}, ".")
}

func (i *instrumentedRegistry) spanFromContext(ctx context.Context, name string) opentracing.Span {
	parent := opentracing.SpanFromContext(ctx)
	var span opentracing.Span
	if parent != nil {
		span = i.tr.StartSpan(name, opentracing.ChildOf(parent.Context()))
	} else {
		span = i.tr.StartSpan(name)
	}
	return span
}

// observe starts a span and returns the callback closing it, recording the outcome
func (i *instrumentedRegistry) observe(ctx context.Context, op string, fields ...zap.Field) (context.Context, func(error)) {
	span := i.spanFromContext(ctx, i.opName(op))
	start := time.Now()
	return opentracing.ContextWithSpan(ctx, span), func(err error) {
		metrics.RegistryOps.WithLabelValues(op, metrics.Outcome(err)).Inc()
		metrics.Since(start, metrics.RegistryLatency.WithLabelValues(op))
		fields = append(fields, zap.Duration("elapsed", time.Since(start)))
		if err != nil {
			ext.Error.Set(span, true)
			span.LogKV("error", err.Error())
			i.l.Debug("registry "+op+" failed", append(fields, zap.Error(err))...)
		} else {
			i.l.Debug("registry "+op, fields...)
		}
		span.Finish()
	}
}

func (i *instrumentedRegistry) String() string {
	return i.reg.String()
}

func (i *instrumentedRegistry) PushBlob(ctx context.Context, desc ocispec.Descriptor, data []byte) (err error) {
	ctx, done := i.observe(ctx, "PushBlob", zap.Stringer("digest", desc.Digest), zap.Int64("size", desc.Size))
	defer func() { done(err) }()

	err = i.reg.PushBlob(ctx, desc, data)
	if err == nil {
		metrics.BlobBytes.WithLabelValues("push").Add(float64(len(data)))
	}
	return err
}

func (i *instrumentedRegistry) PullBlob(ctx context.Context, desc ocispec.Descriptor) (data []byte, err error) {
	ctx, done := i.observe(ctx, "PullBlob", zap.Stringer("digest", desc.Digest))
	defer func() { done(err) }()

	data, err = i.reg.PullBlob(ctx, desc)
	if err == nil {
		metrics.BlobBytes.WithLabelValues("pull").Add(float64(len(data)))
	}
	return data, err
}

func (i *instrumentedRegistry) HasBlob(ctx context.Context, desc ocispec.Descriptor) (has bool, err error) {
	ctx, done := i.observe(ctx, "HasBlob", zap.Stringer("digest", desc.Digest))
	defer func() { done(err) }()

	return i.reg.HasBlob(ctx, desc)
}

func (i *instrumentedRegistry) PutManifest(ctx context.Context, tag, mediaType string, manifest []byte, cond Condition) (desc ocispec.Descriptor, err error) {
	ctx, done := i.observe(ctx, "PutManifest", zap.String("tag", tag), zap.Stringer("condition", cond))
	defer func() { done(err) }()

	return i.reg.PutManifest(ctx, tag, mediaType, manifest, cond)
}

func (i *instrumentedRegistry) GetManifest(ctx context.Context, reference string) (desc ocispec.Descriptor, manifest []byte, err error) {
	ctx, done := i.observe(ctx, "GetManifest", zap.String("reference", reference))
	defer func() { done(err) }()

	return i.reg.GetManifest(ctx, reference)
}

func (i *instrumentedRegistry) Resolve(ctx context.Context, reference string) (desc ocispec.Descriptor, err error) {
	ctx, done := i.observe(ctx, "Resolve", zap.String("reference", reference))
	defer func() { done(err) }()

	return i.reg.Resolve(ctx, reference)
}

func (i *instrumentedRegistry) ListTags(ctx context.Context) (tags []string, err error) {
	ctx, done := i.observe(ctx, "ListTags")
	defer func() { done(err) }()

	return i.reg.ListTags(ctx)
}

func (i *instrumentedRegistry) DeleteTag(ctx context.Context, tag string) (err error) {
	ctx, done := i.observe(ctx, "DeleteTag", zap.String("tag", tag))
	defer func() { done(err) }()

	return i.reg.DeleteTag(ctx, tag)
}

func (i *instrumentedRegistry) DeleteManifest(ctx context.Context, dgst digest.Digest) (err error) {
	ctx, done := i.observe(ctx, "DeleteManifest", zap.Stringer("digest", dgst))
	defer func() { done(err) }()

	return i.reg.DeleteManifest(ctx, dgst)
}
