// Package session composes the per-user engine: a loader with its own remote
// reachability, the window controller and the learned-state synchronizer.
// Nothing is shared between sessions except the stores passed in Deps.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/japaniel/wordfamily/pkg/bundle"
	"github.com/japaniel/wordfamily/pkg/db"
	"github.com/japaniel/wordfamily/pkg/learned"
	"github.com/japaniel/wordfamily/pkg/loader"
	"github.com/japaniel/wordfamily/pkg/logger"
	"github.com/japaniel/wordfamily/pkg/remote"
	"github.com/japaniel/wordfamily/pkg/vocab"
	"github.com/japaniel/wordfamily/pkg/window"
)

// Deps are the process-wide resources a session builds on. Every field except
// Bundle may be nil.
type Deps struct {
	Log    *logger.Logger
	Store  *db.Store
	Remote *remote.Client
	Bundle *bundle.Dataset

	// Redis enables the shared page cache tier. The session never closes it.
	Redis       goredis.UniversalClient
	RedisPrefix string
	RedisTTL    time.Duration

	// BatchSize > 0 writes remote pages to the local store behind the caller.
	BatchSize     int
	FlushInterval time.Duration

	Window window.Options
	Sync   learned.Options
}

type Session struct {
	ID     string
	UserID string

	log    *logger.Logger
	deps   Deps
	cancel context.CancelFunc
	writer *db.BatchWriter
	remote *loader.RemoteSource

	Loader *loader.Loader
	Window *window.Controller
	Sync   *learned.Synchronizer

	closeOnce sync.Once
}

// Open builds a session for userID and runs the window's initial load.
func Open(ctx context.Context, deps Deps, userID string) (*Session, error) {
	if deps.Bundle == nil {
		return nil, errors.New("session: bundle dataset is required")
	}
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	if userID == "" {
		userID = "local"
	}
	id := uuid.NewString()
	log = log.With("session_id", id, "user_id", userID)

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		ID:     id,
		UserID: userID,
		log:    log.With("component", "session"),
		deps:   deps,
		cancel: cancel,
	}

	if deps.Store != nil && deps.BatchSize > 0 {
		interval := deps.FlushInterval
		if interval <= 0 {
			interval = 200 * time.Millisecond
		}
		s.writer = db.NewBatchWriter(deps.Store.DB(), deps.BatchSize, interval)
		s.writer.OnError = func(err error) {
			s.log.Warn("write-behind cache fill failed", "error", err)
		}
	}

	var redisSrc *loader.RedisSource
	if deps.Redis != nil {
		redisSrc = loader.NewRedisSourceWithClient(deps.Redis, deps.RedisPrefix, userID, deps.RedisTTL)
	}
	s.remote = loader.NewRemoteSource(deps.Remote)
	// Redis sits ahead of the local store, which answers every request once
	// it holds any word.
	s.Loader = loader.New(log,
		s.remote,
		redisSrc,
		loader.NewLocalSource(deps.Store, s.writer),
		loader.NewBundleSource(deps.Bundle),
	)
	s.Window = window.New(sctx, log, s.Loader, deps.Bundle, deps.Window)

	// Typed nils must not reach the synchronizer's interfaces.
	var store learned.Store
	if deps.Store != nil {
		store = localStore{store: deps.Store, writer: s.writer, bundle: deps.Bundle}
	}
	var rc learned.Remote
	if deps.Remote != nil {
		rc = deps.Remote
	}
	s.Sync = learned.New(sctx, log, s.Window, store, rc, s.Loader, deps.Sync)

	s.Window.Init(sctx)
	snap := s.Window.Snapshot()
	s.log.Info("session opened", "sources", s.Loader.Sources(), "source", snap.Source, "loaded", snap.Loaded)
	return s, nil
}

// localStore is the synchronizer's view of the SQLite store. Pending cache
// fills are flushed before every write so a word fetched moments ago is found.
// A word first stored into a cold store brings the whole bundle with it: once
// the store holds any row it answers every read, so it must not hold just one.
type localStore struct {
	store  *db.Store
	writer *db.BatchWriter
	bundle *bundle.Dataset
}

func (l localStore) flush(ctx context.Context) error {
	if l.writer == nil {
		return nil
	}
	if err := l.writer.Flush(ctx); err != nil {
		return fmt.Errorf("flush pending cache fills: %w", err)
	}
	return nil
}

func (l localStore) SetLearned(ctx context.Context, wordID int, learned bool, at time.Time) (bool, error) {
	if err := l.flush(ctx); err != nil {
		return false, err
	}
	return l.store.SetLearned(ctx, wordID, learned, at)
}

func (l localStore) PutWords(ctx context.Context, records []vocab.WordRecord) error {
	if err := l.flush(ctx); err != nil {
		return err
	}
	n, err := l.store.Count(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		records = overlay(l.bundle.Words(), records)
	}
	return l.store.PutWords(ctx, records)
}

// overlay replaces words in base with records of the same WordID and appends
// the rest.
func overlay(base, records []vocab.WordRecord) []vocab.WordRecord {
	pos := make(map[int]int, len(base))
	for i, w := range base {
		pos[w.WordID] = i
	}
	for _, r := range records {
		if i, ok := pos[r.WordID]; ok {
			base[i] = r
			continue
		}
		base = append(base, r)
	}
	return base
}

// MarkLearned toggles wordID; see learned.Synchronizer.MarkLearned.
func (s *Session) MarkLearned(ctx context.Context, wordID int, learned bool) bool {
	return s.Sync.MarkLearned(ctx, wordID, learned)
}

// Reconnect clears the remote's unreachable flag so the next load tries it
// again.
func (s *Session) Reconnect() {
	if s.remote != nil {
		s.remote.MarkReachable()
	}
}

// Flush waits for queued toggles and pending cache fills.
func (s *Session) Flush(ctx context.Context) error {
	if err := s.Sync.Flush(ctx); err != nil {
		return err
	}
	if s.writer != nil {
		return s.writer.Flush(ctx)
	}
	return nil
}

// Reset wipes the local store and every cached page, then reloads the window
// from whatever sources remain.
func (s *Session) Reset(ctx context.Context) error {
	if err := s.Flush(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if s.deps.Store != nil {
		if err := s.deps.Store.Clear(ctx); err != nil {
			return fmt.Errorf("reset: clear local store: %w", err)
		}
	}
	s.Loader.Invalidate(ctx)
	s.Reconnect()
	s.Window.Init(ctx)
	s.log.Info("session reset")
	return nil
}

// Close stops background paging, drains queued toggles and flushes pending
// cache fills. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.Window.Wait()
		s.Sync.Close()
		if s.writer != nil {
			err = s.writer.Close()
		}
		s.log.Info("session closed")
	})
	return err
}
