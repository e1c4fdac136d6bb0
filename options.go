package memmap

import (
	"log/slog"

	"github.com/hupe1980/memmap/host"
)

type options struct {
	host             host.Host
	policy           Policy
	resolver         Resolver
	resolverSet      bool
	logger           *Logger
	metricsCollector MetricsCollector
	lockLimit        int64
}

// Option configures an Engine at construction, or its policy through
// Engine.Configure.
type Option func(*options)

// WithHost sets the virtual-memory host. Construction only.
func WithHost(h host.Host) Option {
	return func(o *options) {
		o.host = h
	}
}

// WithStrict toggles strict argument checking.
func WithStrict(strict bool) Option {
	return func(o *options) {
		o.policy.Strict = strict
	}
}

// WithStrictMincore toggles strict residency queries independently of
// WithStrict.
func WithStrictMincore(strict bool) Option {
	return func(o *options) {
		o.policy.StrictMincore = strict
	}
}

// WithExecInference sets how the exec bit of a section is inferred.
func WithExecInference(i Inference) Option {
	return func(o *options) {
		o.policy.ExecInference = i
	}
}

// WithWriteInference sets how the write bit of a section is inferred.
func WithWriteInference(i Inference) Option {
	return func(o *options) {
		o.policy.WriteInference = i
	}
}

// WithImageSections maps files as executable images.
func WithImageSections(enabled bool) Option {
	return func(o *options) {
		o.policy.ImageSections = enabled
	}
}

// WithAdviseDecommits makes MadvDontNeed offer pages instead of resetting
// them.
func WithAdviseDecommits(enabled bool) Option {
	return func(o *options) {
		o.policy.AdviseDecommits = enabled
	}
}

// WithOfferResoluteness sets the offer resoluteness (0..3, default 2).
func WithOfferResoluteness(n int) Option {
	return func(o *options) {
		o.policy.OfferResoluteness = n
	}
}

// WithResolver replaces the descriptor resolver. It is rejected once the
// engine has created a mapping.
func WithResolver(r Resolver) Option {
	return func(o *options) {
		o.resolver = r
		o.resolverSet = true
	}
}

// WithLogger sets the logger. Construction only.
//
// If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithLogLevel installs a text logger to stderr at level. Construction only.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector sets the metrics collector. Construction only.
//
// If nil is passed, metrics collection is disabled.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLockLimit caps the bytes the engine keeps locked. Lock calls that
// would exceed it fail with ErrTryAgain. 0 means no limit beyond the host's.
// Construction only.
func WithLockLimit(bytes int64) Option {
	return func(o *options) {
		o.lockLimit = bytes
	}
}
