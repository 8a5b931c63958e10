// Package ingest downloads the whole remote word list into the local store so
// later sessions can run fully offline.
package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/japaniel/wordfamily/pkg/db"
	"github.com/japaniel/wordfamily/pkg/logger"
	"github.com/japaniel/wordfamily/pkg/vocab"
	"github.com/japaniel/wordfamily/pkg/worker"
)

// WorkerPoolInterface abstracts the worker pool so tests can inject failing implementations.
type WorkerPoolInterface interface {
	Start(ctx context.Context)
	Submit(worker.Job) error
	// SubmitCtx attempts to enqueue a job but returns promptly if ctx is canceled.
	SubmitCtx(ctx context.Context, job worker.Job) error
	Close()
}

// Remote is the part of the remote client the download needs.
type Remote interface {
	ListWords(ctx context.Context, r vocab.Range) ([]vocab.WordRecord, bool, error)
	Counts(ctx context.Context) (vocab.Counts, error)
}

// Ingester pages the remote list into the local store.
type Ingester struct {
	DB     *sql.DB
	Remote Remote
	// PageSize is the number of words per request. The reference server
	// caps it at 200.
	PageSize int
	// BatchSize is the number of pages committed per transaction.
	BatchSize int
	Log       *logger.Logger
	// OnProgress is called with the number of words handed to the store and the expected total.
	OnProgress func(current, total int)

	// Concurrency settings
	Workers int

	// PoolFactory allows tests to inject custom worker pool implementations.
	PoolFactory func(workers, queue int) WorkerPoolInterface
}

// NewIngester creates a new Ingester.
func NewIngester(conn *sql.DB, rc Remote) *Ingester {
	return &Ingester{
		DB:        conn,
		Remote:    rc,
		PageSize:  200,
		BatchSize: 5,
		Workers:   4,
	}
}

// fetchedPage is one remote page, tagged with its position for reordering.
type fetchedPage struct {
	Index   int
	Words   []vocab.WordRecord
	HasMore bool
	Err     error
}

// Ingest fetches every page concurrently and commits them in wordId order.
// It returns the number of records written.
func (ig *Ingester) Ingest(ctx context.Context) (int, error) {
	log := ig.Log
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("component", "ingest")
	if ig.Remote == nil {
		return 0, errors.New("ingest: no remote configured")
	}
	pageSize := ig.PageSize
	if pageSize <= 0 {
		pageSize = 200
	}

	counts, err := ig.Remote.Counts(ctx)
	if err != nil {
		return 0, fmt.Errorf("ingest: counts: %w", err)
	}
	total := counts.TotalWords
	if total == 0 {
		log.Info("remote has no words")
		return 0, nil
	}
	pages := (total + pageSize - 1) / pageSize

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wp WorkerPoolInterface
	if ig.PoolFactory != nil {
		wp = ig.PoolFactory(ig.Workers, ig.Workers*2)
	} else {
		wp = worker.New(ig.Workers, ig.Workers*2)
	}
	// Every page sends exactly one result, so workers never block on it.
	resultCh := make(chan fetchedPage, pages)

	bw := db.NewBatchWriter(ig.DB, ig.BatchSize, 100*time.Millisecond)
	var batchErr error
	var batchErrMu sync.Mutex
	bw.OnError = func(e error) {
		batchErrMu.Lock()
		if batchErr == nil {
			batchErr = e
		}
		batchErrMu.Unlock()
	}
	var stored int64

	defer func() {
		cancel()
		wp.Close()
		_ = bw.Close()
	}()

	wp.Start(ctx)

	go func() {
		for i := 0; i < pages; i++ {
			idx := i
			job := func(jctx context.Context) error {
				r := vocab.Range{StartFrom: idx*pageSize + 1, Limit: pageSize}
				words, more, err := ig.Remote.ListWords(jctx, r)
				resultCh <- fetchedPage{Index: idx, Words: words, HasMore: more, Err: err}
				return nil
			}
			if err := wp.SubmitCtx(ctx, job); err != nil {
				resultCh <- fetchedPage{Index: idx, Err: fmt.Errorf("submit: %w", err)}
				return
			}
		}
	}()

	submit := func(words []vocab.WordRecord) error {
		recs := words
		return bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
			if err := db.PutWordsTx(ctx, tx, recs); err != nil {
				return err
			}
			atomic.AddInt64(&stored, int64(len(recs)))
			return nil
		})
	}

	buffer := make(map[int]fetchedPage)
	nextIdx := 0
	handed := 0
	lastWordID := 0
	lastMore := false
	for nextIdx < pages {
		if err := ctx.Err(); err != nil {
			return int(atomic.LoadInt64(&stored)), err
		}
		var res fetchedPage
		select {
		case <-ctx.Done():
			return int(atomic.LoadInt64(&stored)), ctx.Err()
		case res = <-resultCh:
		}
		if res.Err != nil {
			return int(atomic.LoadInt64(&stored)), fmt.Errorf("ingest: page %d: %w", res.Index+1, res.Err)
		}
		buffer[res.Index] = res

		// Commit contiguous pages so the store fills in wordId order.
		for {
			item, ok := buffer[nextIdx]
			if !ok {
				break
			}
			delete(buffer, nextIdx)
			if err := submit(item.Words); err != nil {
				return int(atomic.LoadInt64(&stored)), err
			}
			handed += len(item.Words)
			if n := len(item.Words); n > 0 {
				lastWordID = item.Words[n-1].WordID
			}
			lastMore = item.HasMore
			if ig.OnProgress != nil {
				ig.OnProgress(handed, total)
			}
			nextIdx++
		}
	}

	// The list grew since Counts was read; follow it to the end.
	for lastMore {
		words, more, err := ig.Remote.ListWords(ctx, vocab.Range{StartFrom: lastWordID + 1, Limit: pageSize})
		if err != nil {
			return int(atomic.LoadInt64(&stored)), fmt.Errorf("ingest: tail: %w", err)
		}
		if len(words) == 0 {
			break
		}
		if err := submit(words); err != nil {
			return int(atomic.LoadInt64(&stored)), err
		}
		handed += len(words)
		lastWordID = words[len(words)-1].WordID
		lastMore = more
		if ig.OnProgress != nil {
			ig.OnProgress(handed, handed)
		}
	}

	err = bw.Close()
	batchErrMu.Lock()
	if batchErr != nil && err == nil {
		err = batchErr
	}
	batchErrMu.Unlock()

	n := int(atomic.LoadInt64(&stored))
	log.Info("download finished", "words", n, "pages", pages)
	return n, err
}
