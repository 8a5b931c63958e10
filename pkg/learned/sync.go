// Package learned toggles a word's learned state: the in-memory window first,
// then the local store and the remote service in the background.
package learned

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/japaniel/wordfamily/pkg/logger"
	"github.com/japaniel/wordfamily/pkg/remote"
	"github.com/japaniel/wordfamily/pkg/vocab"
	"github.com/japaniel/wordfamily/pkg/worker"
)

// Window is the in-memory side of a toggle. *window.Controller implements it.
type Window interface {
	ApplyLearned(wordID int, learned bool, at time.Time) (vocab.WordRecord, bool)
	RefreshStatistics(ctx context.Context) error
}

// Store persists toggles. *db.Store implements it. PutWords stores a word the
// store has never seen, such as one served from the bundled dataset.
type Store interface {
	SetLearned(ctx context.Context, wordID int, learned bool, at time.Time) (bool, error)
	PutWords(ctx context.Context, records []vocab.WordRecord) error
}

// Remote propagates toggles. *remote.Client implements it.
type Remote interface {
	SetLearned(ctx context.Context, wordID int, learned bool) error
}

// Cache drops cached pages made stale by a toggle. *loader.Loader implements it.
type Cache interface {
	Invalidate(ctx context.Context)
}

type Options struct {
	// Workers defaults to 1, which keeps toggles of one word in order.
	Workers int
	Queue   int
	// RefreshStats refetches statistics after a successful remote update.
	RefreshStats bool
}

// Synchronizer applies toggles optimistically. Persistence failures are
// logged and never roll back what the user sees; there is no retry queue.
type Synchronizer struct {
	log    *logger.Logger
	window Window
	store  Store
	remote Remote
	cache  Cache
	opts   Options
	pool   *worker.Pool
	now    func() time.Time

	pending sync.WaitGroup
}

// New starts the background worker. store, rc and cache may be nil.
func New(ctx context.Context, log *logger.Logger, win Window, store Store, rc Remote, cache Cache, opts Options) *Synchronizer {
	if log == nil {
		log = logger.Nop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Queue <= 0 {
		opts.Queue = 64
	}
	s := &Synchronizer{
		log:    log.With("component", "learned"),
		window: win,
		store:  store,
		remote: rc,
		cache:  cache,
		opts:   opts,
		pool:   worker.New(opts.Workers, opts.Queue),
		now:    time.Now,
	}
	s.pool.OnError = func(err error) {
		s.log.Warn("learned sync job failed", "error", err)
	}
	// Queued toggles still drain after the session context is cancelled.
	s.pool.Start(context.WithoutCancel(ctx))
	return s
}

// MarkLearned updates the loaded word before returning and schedules the
// durable writes. It reports false, doing nothing, when the word is not
// loaded.
func (s *Synchronizer) MarkLearned(ctx context.Context, wordID int, learned bool) bool {
	at := s.now()
	rec, ok := s.window.ApplyLearned(wordID, learned, at)
	if !ok {
		s.log.Debug("toggle for word outside the window ignored", "word_id", wordID)
		return false
	}

	s.pending.Add(1)
	err := s.pool.SubmitCtx(ctx, func(jctx context.Context) error {
		defer s.pending.Done()
		s.persist(jctx, rec, at)
		return nil
	})
	if err != nil {
		s.pending.Done()
		s.log.Warn("toggle not persisted", "word_id", wordID, "error", err)
	}
	return true
}

func (s *Synchronizer) persist(ctx context.Context, rec vocab.WordRecord, at time.Time) {
	wordID, learned := rec.WordID, rec.Learned
	if s.store != nil {
		found, err := s.store.SetLearned(ctx, wordID, learned, at)
		switch {
		case err != nil:
			s.log.Warn("local learned write failed", "word_id", wordID, "error", err)
		case !found:
			// The window holds the whole record, learned flag included.
			if err := s.store.PutWords(ctx, []vocab.WordRecord{rec}); err != nil {
				s.log.Warn("local learned insert failed", "word_id", wordID, "error", err)
			} else {
				s.log.Debug("word added to local store", "word_id", wordID)
			}
		}
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
	if s.remote == nil {
		return
	}
	if err := s.remote.SetLearned(ctx, wordID, learned); err != nil {
		if errors.Is(err, remote.ErrUnavailable) {
			s.log.Debug("no remote, toggle kept locally", "word_id", wordID)
			return
		}
		s.log.Warn("remote learned update failed, keeping local state", "word_id", wordID, "learned", learned, "error", err)
		return
	}
	if s.opts.RefreshStats {
		// Failures are logged by the window.
		_ = s.window.RefreshStatistics(ctx)
	}
}

// Flush waits until every toggle submitted so far has been processed.
func (s *Synchronizer) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains queued toggles and stops the worker.
func (s *Synchronizer) Close() {
	s.pool.Close()
}
