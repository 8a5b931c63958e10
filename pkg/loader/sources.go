package loader

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/japaniel/wordfamily/pkg/bundle"
	"github.com/japaniel/wordfamily/pkg/db"
	"github.com/japaniel/wordfamily/pkg/remote"
	"github.com/japaniel/wordfamily/pkg/vocab"
)

const (
	SourceRemote  = "remote"
	SourceLocal   = "local"
	SourceRedis   = "redis"
	SourceBundled = "bundled"
)

// RemoteSource serves pages from the remote service. The first page or start
// position failure marks it unreachable and every later call is skipped until
// MarkReachable. Statistics are best effort and never change reachability.
type RemoteSource struct {
	client    *remote.Client
	reachable atomic.Bool
}

// NewRemoteSource returns nil when client is nil (no remote configured).
func NewRemoteSource(client *remote.Client) *RemoteSource {
	if client == nil {
		return nil
	}
	s := &RemoteSource{client: client}
	s.reachable.Store(true)
	return s
}

func (s *RemoteSource) Name() string  { return SourceRemote }
func (s *RemoteSource) Primary() bool { return true }

// Reachable reports whether the remote has not failed yet.
func (s *RemoteSource) Reachable() bool { return s.reachable.Load() }

// MarkReachable lets the next call try the remote again.
func (s *RemoteSource) MarkReachable() { s.reachable.Store(true) }

func (s *RemoteSource) fail(err error) error {
	s.reachable.Store(false)
	return err
}

func (s *RemoteSource) FetchPage(ctx context.Context, r vocab.Range) (vocab.Page, error) {
	if !s.Reachable() {
		return vocab.Page{}, remote.ErrUnavailable
	}
	words, hasMore, err := s.client.ListWords(ctx, r)
	if err != nil {
		return vocab.Page{}, s.fail(err)
	}
	return vocab.Page{Words: words, HasMore: hasMore}, nil
}

func (s *RemoteSource) FirstUnlearned(ctx context.Context, level vocab.Level) (*vocab.FirstUnlearned, error) {
	if !s.Reachable() {
		return nil, remote.ErrUnavailable
	}
	fu, err := s.client.FirstUnlearned(ctx, level)
	if err != nil {
		return nil, s.fail(err)
	}
	return fu, nil
}

func (s *RemoteSource) Counts(ctx context.Context) (vocab.Counts, error) {
	if !s.Reachable() {
		return vocab.Counts{}, remote.ErrUnavailable
	}
	return s.client.Counts(ctx)
}

func (s *RemoteSource) Stats(ctx context.Context) (vocab.Stats, error) {
	if !s.Reachable() {
		return vocab.Stats{}, remote.ErrUnavailable
	}
	return s.client.Stats(ctx)
}

// LocalSource serves pages from the SQLite store. A store holding no words at
// all is cold and lets the chain continue; otherwise its answer is final, even
// when empty. With a writer set, cache fills are written behind the caller and
// flushed before the next read.
type LocalSource struct {
	store  *db.Store
	writer *db.BatchWriter
}

func NewLocalSource(store *db.Store, writer *db.BatchWriter) *LocalSource {
	if store == nil {
		return nil
	}
	return &LocalSource{store: store, writer: writer}
}

func (s *LocalSource) Name() string { return SourceLocal }

func (s *LocalSource) cold(ctx context.Context) error {
	if s.writer != nil {
		// Pending fills must be visible before deciding the store is cold.
		if err := s.writer.Flush(ctx); err != nil {
			return fmt.Errorf("flush pending cache fills: %w", err)
		}
	}
	n, err := s.store.Count(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		return db.ErrColdStore
	}
	return nil
}

func (s *LocalSource) FetchPage(ctx context.Context, r vocab.Range) (vocab.Page, error) {
	if err := s.cold(ctx); err != nil {
		return vocab.Page{}, err
	}
	words, err := s.store.GetWords(ctx, r.StartFrom, r.Limit, r.Level)
	if err != nil {
		return vocab.Page{}, err
	}
	// Approximation: a full page may be the last one.
	return vocab.Page{Words: words, HasMore: len(words) == r.Limit}, nil
}

func (s *LocalSource) Warm(ctx context.Context, _ vocab.Range, page vocab.Page) error {
	if s.writer != nil {
		return s.writer.SubmitWords(page.Words)
	}
	return s.store.PutWords(ctx, page.Words)
}

func (s *LocalSource) FirstUnlearned(ctx context.Context, level vocab.Level) (*vocab.FirstUnlearned, error) {
	if err := s.cold(ctx); err != nil {
		return nil, err
	}
	return s.store.GetFirstUnlearned(ctx, level)
}

func (s *LocalSource) Counts(ctx context.Context) (vocab.Counts, error) {
	if err := s.cold(ctx); err != nil {
		return vocab.Counts{}, err
	}
	return s.store.Counts(ctx)
}

func (s *LocalSource) Stats(ctx context.Context) (vocab.Stats, error) {
	if err := s.cold(ctx); err != nil {
		return vocab.Stats{}, err
	}
	return s.store.Stats(ctx)
}

// BundleSource is the last resort: the in-memory dataset shipped with the
// binary. It always answers, possibly with an empty page.
type BundleSource struct {
	ds *bundle.Dataset
}

func NewBundleSource(ds *bundle.Dataset) *BundleSource {
	if ds == nil {
		return nil
	}
	return &BundleSource{ds: ds}
}

func (s *BundleSource) Name() string { return SourceBundled }

func (s *BundleSource) FetchPage(_ context.Context, r vocab.Range) (vocab.Page, error) {
	words := s.ds.Slice(r.StartFrom, r.Limit, r.Level)
	return vocab.Page{Words: words, HasMore: len(words) == r.Limit}, nil
}
