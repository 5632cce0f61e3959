// Package schema provides entity templates: server-defined schemas with embedded
// fallbacks, cached and deduplicated across concurrent callers.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/msageha/psstudio/internal/logging"
	"github.com/msageha/psstudio/internal/model"
)

// KindProblemStatement is the template for an empty problem statement.
const KindProblemStatement = "problem-statement"

// Kinds lists every template the server publishes.
var Kinds = []string{
	string(model.EntityBot),
	string(model.EntityPPS),
	string(model.EntityMSU),
	string(model.EntityTask),
	string(model.EntityRelay),
	string(model.EntityAssignment),
	KindProblemStatement,
}

// Fetcher retrieves a template from the server.
type Fetcher interface {
	FetchSchema(ctx context.Context, kind string) (model.Values, error)
}

type Options struct {
	// Fallback holds <kind>.json files used when the server is unreachable.
	Fallback fs.FS
	// TTL bounds how long a fetched template is trusted; zero keeps it until Refresh.
	TTL    time.Duration
	Logger *logging.Logger
}

type Provider struct {
	fetcher  Fetcher
	fallback fs.FS
	cache    *templateCache
	group    singleflight.Group
	logger   *logging.Logger
}

// New returns a provider. fetcher may be nil, in which case only fallbacks are served.
func New(fetcher Fetcher, opts Options) *Provider {
	return &Provider{
		fetcher:  fetcher,
		fallback: opts.Fallback,
		cache:    newTemplateCache(opts.TTL),
		logger:   opts.Logger,
	}
}

// Template returns a deep copy of the template for kind without touching the network.
// Absence is normal: callers create the entity without a template.
func (p *Provider) Template(kind string) (model.Values, bool) {
	if t, _, ok := p.cache.get(kind); ok {
		return t, true
	}
	t, err := p.loadFallback(kind)
	if err != nil || t == nil {
		return nil, false
	}
	return t, true
}

// Load fetches kind from the server, falling back to the embedded template. Concurrent
// loads of the same kind share one request.
func (p *Provider) Load(ctx context.Context, kind string) (model.Values, error) {
	if t, _, ok := p.cache.get(kind); ok {
		return t, nil
	}
	v, err, _ := p.group.Do(kind, func() (any, error) {
		return p.fetch(ctx, kind)
	})
	if err != nil {
		return nil, err
	}
	return v.(model.Values).Clone(), nil
}

func (p *Provider) fetch(ctx context.Context, kind string) (model.Values, error) {
	if p.fetcher != nil {
		t, err := p.fetcher.FetchSchema(ctx, kind)
		if err == nil {
			p.cache.set(kind, t, SourceServer)
			return t, nil
		}
		p.logger.Warn("schema fetch failed kind=%s, using fallback: %v", kind, err)
	}
	t, err := p.loadFallback(kind)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("no template for %q", kind)
	}
	p.cache.set(kind, t, SourceFallback)
	return t, nil
}

// LoadAll loads every kind in parallel. A kind with neither a server nor a fallback
// template is logged and skipped; only cancellation fails the whole load.
func (p *Provider) LoadAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range Kinds {
		g.Go(func() error {
			if _, err := p.Load(gctx, kind); err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				p.logger.Warn("template unavailable kind=%s: %v", kind, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("load templates: %w", err)
	}
	return nil
}

// Refresh drops server and fallback entries and reloads them. Local edits are kept.
func (p *Provider) Refresh(ctx context.Context) error {
	for _, kind := range Kinds {
		if src, ok := p.cache.source(kind); ok && src != SourceLocal {
			p.cache.delete(kind)
		}
	}
	return p.LoadAll(ctx)
}

// Set replaces the template for kind locally until ResetToDefault.
func (p *Provider) Set(kind string, tmpl model.Values) {
	p.cache.set(kind, model.NormalizeValues(tmpl), SourceLocal)
}

// ResetToDefault discards any cached template for kind and restores the embedded one.
func (p *Provider) ResetToDefault(kind string) (model.Values, bool) {
	p.cache.delete(kind)
	t, err := p.loadFallback(kind)
	if err != nil || t == nil {
		return nil, false
	}
	p.cache.set(kind, t, SourceFallback)
	return t.Clone(), true
}

func (p *Provider) Source(kind string) (Source, bool) {
	return p.cache.source(kind)
}

func (p *Provider) Stats() CacheStats {
	return p.cache.stats()
}

// loadFallback returns (nil, nil) when no fallback exists for kind.
func (p *Provider) loadFallback(kind string) (model.Values, error) {
	if p.fallback == nil {
		return nil, nil
	}
	data, err := fs.ReadFile(p.fallback, path.Clean(kind)+".json")
	if err != nil {
		return nil, nil
	}
	var t model.Values
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse fallback %s: %w", kind, err)
	}
	return model.NormalizeValues(t), nil
}
