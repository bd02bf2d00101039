package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/oshokin/cargo-flutter/internal/domain/packaging"
	"github.com/oshokin/cargo-flutter/internal/logger"
)

var errNoFetcher = errors.New("engine not cached and no fetcher configured")

// Request asks for one engine build.
type Request struct {
	// Version is the engine version. An empty version is resolved first.
	Version string
	Triple  string
	Profile packaging.Profile
}

// Resolver maps requests to cached engine builds.
type Resolver struct {
	store   *Store
	fetcher Fetcher
	getenv  func(string) string
	latest  string
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithEnv sets the lookup used for the version override.
func WithEnv(getenv func(string) string) ResolverOption {
	return func(r *Resolver) {
		if getenv != nil {
			r.getenv = getenv
		}
	}
}

// WithLatestVersion overrides the built-in latest known version.
// An empty value makes the resolver ask the fetcher instead.
func WithLatestVersion(latest string) ResolverOption {
	return func(r *Resolver) {
		r.latest = latest
	}
}

// NewResolver creates a resolver. The process environment is not consulted
// unless WithEnv supplies a lookup.
func NewResolver(store *Store, fetcher Fetcher, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:   store,
		fetcher: fetcher,
		getenv:  func(string) string { return "" },
		latest:  LatestKnownVersion,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// ResolveVersion picks the engine version: configured, then the environment
// override, then the latest known version, then the fetcher.
func (r *Resolver) ResolveVersion(ctx context.Context, configured string) (string, error) {
	ctx = logger.WithName(ctx, "engine")

	if configured != "" {
		return configured, nil
	}

	if fromEnv := r.getenv(EnvVersionKey); fromEnv != "" {
		logger.DebugKV(ctx, "Engine version from environment", "version", fromEnv)
		return fromEnv, nil
	}

	if r.latest != "" {
		return r.latest, nil
	}

	if r.fetcher == nil {
		return "", packaging.ErrEngineVersionUnavailable
	}

	latest, err := r.fetcher.LatestVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", packaging.ErrEngineVersionUnavailable, err)
	}

	if latest == "" {
		return "", packaging.ErrEngineVersionUnavailable
	}

	return latest, nil
}

// Resolve returns the descriptor of the requested engine, fetching it into the
// store when it is not cached yet.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Descriptor, error) {
	ctx = logger.WithName(ctx, "engine")

	ver, err := r.ResolveVersion(ctx, req.Version)
	if err != nil {
		return nil, err
	}

	key := Key{Version: ver, Triple: req.Triple, Profile: req.Profile}

	path, err := r.store.Ensure(ctx, key, func(ctx context.Context, dir string) error {
		if r.fetcher == nil {
			return errNoFetcher
		}

		return r.fetcher.Fetch(ctx, key, dir)
	})
	if err != nil {
		return nil, fmt.Errorf("resolve engine %s: %w", key, err)
	}

	logger.DebugKV(ctx, "Engine resolved", "version", ver, "path", path)

	return &Descriptor{
		Version: ver,
		Triple:  req.Triple,
		Profile: req.Profile,
		Path:    path,
	}, nil
}

// Path recomputes the engine library path of a key without any I/O.
func (r *Resolver) Path(key Key) string {
	return r.store.LibraryPath(key)
}
