package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/japaniel/wordfamily/pkg/vocab"
)

// WriteFunc is a callback that performs database writes inside a transaction.
type WriteFunc func(ctx context.Context, tx *sql.Tx) error

// batch is one unit handed to the committer. done, when set, receives the
// commit result.
type batch struct {
	writes []WriteFunc
	done   chan error
}

// BatchWriter buffers write operations and flushes them in batches inside a
// transaction. The loader uses it to write fetched pages behind the caller so
// a page request never waits on disk.
type BatchWriter struct {
	mu          sync.Mutex
	buf         []WriteFunc
	cap         int
	flushTicker *time.Ticker
	closed      bool
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc

	commitCh chan batch
	db       *sql.DB
	OnError  func(error)

	// lastErr stores the first asynchronous error seen by the writer. Protected by errMu.
	errMu   sync.Mutex
	lastErr error
}

// NewBatchWriter creates a new BatchWriter.
// db: the database connection to use for transactions.
// bufferSize: flush when buffer reaches this size.
// flushInterval: flush after this duration (0 to disable).
func NewBatchWriter(db *sql.DB, bufferSize int, flushInterval time.Duration) *BatchWriter {
	if bufferSize <= 0 {
		bufferSize = 10
	}
	ctx, cancel := context.WithCancel(context.Background())
	bw := &BatchWriter{
		buf:      make([]WriteFunc, 0, bufferSize),
		cap:      bufferSize,
		ctx:      ctx,
		cancel:   cancel,
		commitCh: make(chan batch, 2), // Buffer a couple of batches
		db:       db,
	}

	bw.wg.Add(1)
	go bw.committer()

	if flushInterval > 0 {
		bw.flushTicker = time.NewTicker(flushInterval)
		bw.wg.Add(1)
		go bw.loop()
	}
	return bw
}

// Submit enqueues a write function.
func (bw *BatchWriter) Submit(w WriteFunc) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	if bw.closed {
		return ErrBatchWriterClosed
	}
	bw.buf = append(bw.buf, w)
	if len(bw.buf) >= bw.cap {
		bw.flushLocked(nil)
	}
	return nil
}

// SubmitWords enqueues an upsert of records.
func (bw *BatchWriter) SubmitWords(records []vocab.WordRecord) error {
	if len(records) == 0 {
		return nil
	}
	recs := append([]vocab.WordRecord(nil), records...)
	return bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
		return PutWordsTx(ctx, tx, recs)
	})
}

// Flush commits everything submitted so far and waits for the commit. It
// returns the commit error of the flushed batch, if any.
func (bw *BatchWriter) Flush(ctx context.Context) error {
	bw.mu.Lock()
	if bw.closed {
		bw.mu.Unlock()
		return ErrBatchWriterClosed
	}
	done := make(chan error, 1)
	bw.flushLocked(done)
	bw.mu.Unlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// flushLocked assumes bw.mu is held. An empty buffer is only sent when a
// Flush caller is waiting on done.
func (bw *BatchWriter) flushLocked(done chan error) {
	if len(bw.buf) == 0 && done == nil {
		return
	}
	b := batch{writes: bw.buf, done: done}
	bw.buf = make([]WriteFunc, 0, bw.cap)

	// Blocking here while holding the lock propagates backpressure to Submit.
	select {
	case bw.commitCh <- b:
	case <-bw.ctx.Done():
		// shutdown: report dropped batch via OnError and record the error so callers can detect potential data loss.
		err := fmt.Errorf("batch writer: dropping batch of %d items due to context cancellation", len(b.writes))
		bw.recordErr(err)
		if done != nil {
			done <- err
		}
	}
}

func (bw *BatchWriter) recordErr(err error) {
	bw.errMu.Lock()
	if bw.lastErr == nil {
		bw.lastErr = err
	}
	bw.errMu.Unlock()
	if bw.OnError != nil {
		bw.OnError(err)
	}
}

func (bw *BatchWriter) committer() {
	defer bw.wg.Done()
	for b := range bw.commitCh {
		err := bw.executeBatch(b.writes)
		if err != nil {
			bw.recordErr(err)
		}
		if b.done != nil {
			b.done <- err
		}
	}
}

func (bw *BatchWriter) executeBatch(writes []WriteFunc) error {
	if len(writes) == 0 {
		return nil
	}
	// If no DB is configured (e.g. testing without DB), just run callbacks with nil tx
	if bw.db == nil {
		for _, w := range writes {
			if err := w(bw.ctx, nil); err != nil {
				return err
			}
		}
		return nil
	}

	// Use background context for flushing to avoid "context canceled" if bw is closing.
	ctx := context.Background()

	tx, err := bw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback() // ignored if committed
	}()

	for _, w := range writes {
		if err := w(ctx, tx); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch (%d items): %w", len(writes), err)
	}
	return nil
}

func (bw *BatchWriter) loop() {
	defer bw.wg.Done()
	for {
		select {
		case <-bw.ctx.Done():
			return
		case <-bw.flushTicker.C:
			bw.mu.Lock()
			if len(bw.buf) > 0 {
				bw.flushLocked(nil)
			}
			bw.mu.Unlock()
		}
	}
}

// Close stops accepting submissions and waits for pending writes to complete.
func (bw *BatchWriter) Close() error {
	bw.mu.Lock()
	if bw.closed {
		bw.mu.Unlock()
		return ErrBatchWriterClosed
	}
	bw.closed = true
	if bw.flushTicker != nil {
		bw.flushTicker.Stop()
	}
	if len(bw.buf) > 0 {
		bw.flushLocked(nil)
	}
	bw.mu.Unlock()

	bw.cancel()        // Stop ticker loop
	close(bw.commitCh) // Stop committer loop
	bw.wg.Wait()

	// Return any async error that was recorded during execution
	bw.errMu.Lock()
	defer bw.errMu.Unlock()
	return bw.lastErr
}

var ErrBatchWriterClosed = &BatchWriterError{"batch writer closed"}

type BatchWriterError struct{ msg string }

func (e *BatchWriterError) Error() string { return e.msg }
