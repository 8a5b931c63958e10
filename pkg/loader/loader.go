// Package loader resolves page requests against an ordered chain of data
// sources and keeps the cache tiers warm with what the primary source returns.
package loader

import (
	"context"
	"errors"

	"github.com/japaniel/wordfamily/pkg/db"
	"github.com/japaniel/wordfamily/pkg/logger"
	"github.com/japaniel/wordfamily/pkg/remote"
	"github.com/japaniel/wordfamily/pkg/vocab"
)

// ErrNoData tells the loader a source has nothing for the range and the next
// source should be asked.
var ErrNoData = errors.New("no data for range")

// SourceNone marks a page nobody could serve.
const SourceNone = "none"

// Source is one strategy in the chain.
type Source interface {
	Name() string
	FetchPage(ctx context.Context, r vocab.Range) (vocab.Page, error)
}

// Primary is implemented by sources whose pages are written through to the
// cache tiers.
type Primary interface {
	Primary() bool
}

// Warmer is implemented by cache tiers that accept pages fetched elsewhere.
type Warmer interface {
	Warm(ctx context.Context, r vocab.Range, page vocab.Page) error
}

// Invalidator is implemented by cache tiers that can drop what they hold
// after a learned toggle made it stale.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// ProgressSource answers the start position and statistics questions.
type ProgressSource interface {
	Name() string
	FirstUnlearned(ctx context.Context, level vocab.Level) (*vocab.FirstUnlearned, error)
	Counts(ctx context.Context) (vocab.Counts, error)
	Stats(ctx context.Context) (vocab.Stats, error)
}

// Loader walks its sources in order. It owns no window state.
type Loader struct {
	log     *logger.Logger
	sources []Source
}

// New builds a loader over sources, tried in the given order. Nil sources are
// skipped so optional tiers can be passed unconditionally.
func New(log *logger.Logger, sources ...Source) *Loader {
	if log == nil {
		log = logger.Nop()
	}
	l := &Loader{log: log.With("component", "loader")}
	for _, s := range sources {
		if s == nil || isNilSource(s) {
			continue
		}
		l.sources = append(l.sources, s)
	}
	return l
}

func isNilSource(s Source) bool {
	switch v := s.(type) {
	case *RemoteSource:
		return v == nil
	case *LocalSource:
		return v == nil
	case *RedisSource:
		return v == nil
	case *BundleSource:
		return v == nil
	}
	return false
}

// Sources lists the source names in chain order.
func (l *Loader) Sources() []string {
	names := make([]string, 0, len(l.sources))
	for _, s := range l.sources {
		names = append(names, s.Name())
	}
	return names
}

// expected reports errors that are a normal part of walking the chain.
func expected(err error) bool {
	return errors.Is(err, ErrNoData) || errors.Is(err, db.ErrColdStore) || errors.Is(err, remote.ErrUnavailable)
}

func (l *Loader) logFailure(msg, source string, err error, kv ...interface{}) {
	kv = append([]interface{}{"source", source, "error", err}, kv...)
	if expected(err) {
		l.log.Debug(msg, kv...)
		return
	}
	l.log.Warn(msg, kv...)
}

// Load returns the first page any source can serve. It never fails: when every
// source is exhausted it returns an empty page with Source set to SourceNone.
func (l *Loader) Load(ctx context.Context, r vocab.Range) vocab.Page {
	if r.StartFrom < 1 {
		r.StartFrom = 1
	}
	for _, s := range l.sources {
		page, err := s.FetchPage(ctx, r)
		if err != nil {
			l.logFailure("source failed, falling back", s.Name(), err, "range", r.String())
			continue
		}
		if page.Words == nil {
			page.Words = []vocab.WordRecord{}
		}
		page.Source = s.Name()
		if p, ok := s.(Primary); ok && p.Primary() && len(page.Words) > 0 {
			l.warm(ctx, s, r, page)
		}
		return page
	}
	l.log.Warn("all sources exhausted", "range", r.String())
	return vocab.Page{Words: []vocab.WordRecord{}, Source: SourceNone}
}

func (l *Loader) warm(ctx context.Context, from Source, r vocab.Range, page vocab.Page) {
	for _, s := range l.sources {
		if s == from {
			continue
		}
		w, ok := s.(Warmer)
		if !ok {
			continue
		}
		if err := w.Warm(ctx, r, page); err != nil {
			l.log.Warn("cache fill failed", "source", s.Name(), "range", r.String(), "error", err)
		}
	}
}

// Invalidate drops cached pages in every tier that supports it.
func (l *Loader) Invalidate(ctx context.Context) {
	for _, s := range l.sources {
		if inv, ok := s.(Invalidator); ok {
			if err := inv.Invalidate(ctx); err != nil {
				l.log.Warn("cache invalidation failed", "source", s.Name(), "error", err)
			}
		}
	}
}

func (l *Loader) progressSources() []ProgressSource {
	var out []ProgressSource
	for _, s := range l.sources {
		if p, ok := s.(ProgressSource); ok {
			out = append(out, p)
		}
	}
	return out
}

// FirstUnlearned asks each progress source in order. A nil answer without
// error is authoritative ("nothing at this level"). When every source fails
// the last error is returned and callers start from wordId 1.
func (l *Loader) FirstUnlearned(ctx context.Context, level vocab.Level) (*vocab.FirstUnlearned, error) {
	lastErr := error(ErrNoData)
	for _, p := range l.progressSources() {
		fu, err := p.FirstUnlearned(ctx, level)
		if err != nil {
			l.logFailure("first unlearned lookup failed", p.Name(), err, "level", string(level))
			lastErr = err
			continue
		}
		return fu, nil
	}
	return nil, lastErr
}

// Counts returns aggregate progress from the first source that answers.
func (l *Loader) Counts(ctx context.Context) (vocab.Counts, error) {
	lastErr := error(ErrNoData)
	for _, p := range l.progressSources() {
		c, err := p.Counts(ctx)
		if err != nil {
			l.logFailure("counts lookup failed", p.Name(), err)
			lastErr = err
			continue
		}
		return c, nil
	}
	return vocab.Counts{}, lastErr
}

// Stats returns per-level and per-difficulty progress from the first source
// that answers.
func (l *Loader) Stats(ctx context.Context) (vocab.Stats, error) {
	lastErr := error(ErrNoData)
	for _, p := range l.progressSources() {
		s, err := p.Stats(ctx)
		if err != nil {
			l.logFailure("stats lookup failed", p.Name(), err)
			lastErr = err
			continue
		}
		return s, nil
	}
	return vocab.Stats{}, lastErr
}
