package loader

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/japaniel/wordfamily/pkg/bundle"
	"github.com/japaniel/wordfamily/pkg/db"
	"github.com/japaniel/wordfamily/pkg/logger"
	"github.com/japaniel/wordfamily/pkg/remote"
	"github.com/japaniel/wordfamily/pkg/server/servertest"
	"github.com/japaniel/wordfamily/pkg/vocab"
)

func openStore(t *testing.T) *db.Store {
	t.Helper()
	store, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testBundle(t *testing.T, n int) *bundle.Dataset {
	t.Helper()
	ds, err := bundle.New(servertest.Words(1, n))
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	return ds
}

func TestRemoteFailureServesLocalRange(t *testing.T) {
	ctx := context.Background()
	srv := servertest.New(t, servertest.Words(1, 100))
	srv.SetFailing(true)

	store := openStore(t)
	seeded := servertest.Words(1, 30)
	for i := range seeded {
		seeded[i].ID = vocab.RecordID("local-" + seeded[i].Word)
	}
	if err := store.PutWords(ctx, seeded); err != nil {
		t.Fatalf("seed: %v", err)
	}

	l := New(logger.Nop(),
		NewRemoteSource(remote.New(srv.BaseURL(), "", time.Second)),
		NewLocalSource(store, nil),
		NewBundleSource(testBundle(t, 200)),
	)
	page := l.Load(ctx, vocab.Range{StartFrom: 1, Limit: 50})
	if page.Source != SourceLocal {
		t.Fatalf("expected local source, got %q", page.Source)
	}
	if len(page.Words) != 30 || page.HasMore {
		t.Fatalf("expected 30 words and hasMore=false, got %d/%v", len(page.Words), page.HasMore)
	}
	want, err := store.GetWords(ctx, 1, 50, vocab.LevelAll)
	if err != nil {
		t.Fatalf("GetWords: %v", err)
	}
	if !reflect.DeepEqual(page.Words, want) {
		t.Fatalf("page differs from local store contents")
	}
}

func TestRemoteMarkedUnreachableForSession(t *testing.T) {
	ctx := context.Background()
	srv := servertest.New(t, servertest.Words(1, 10))
	srv.SetFailing(true)
	rs := NewRemoteSource(remote.New(srv.BaseURL(), "", time.Second))
	l := New(logger.Nop(), rs, NewBundleSource(testBundle(t, 10)))

	l.Load(ctx, vocab.Range{StartFrom: 1, Limit: 5})
	if rs.Reachable() {
		t.Fatalf("remote should be marked unreachable after a failure")
	}
	before := srv.Requests()
	srv.SetFailing(false)
	page := l.Load(ctx, vocab.Range{StartFrom: 1, Limit: 5})
	if page.Source != SourceBundled {
		t.Fatalf("expected bundled page, got %q", page.Source)
	}
	if srv.Requests() != before {
		t.Fatalf("unreachable remote was called again")
	}

	rs.MarkReachable()
	if page := l.Load(ctx, vocab.Range{StartFrom: 1, Limit: 5}); page.Source != SourceRemote {
		t.Fatalf("expected remote after MarkReachable, got %q", page.Source)
	}
}

func TestStatisticsFailureKeepsRemoteReachable(t *testing.T) {
	ctx := context.Background()
	srv := servertest.New(t, servertest.Words(1, 10))
	rs := NewRemoteSource(remote.New(srv.BaseURL(), "", time.Second))
	l := New(logger.Nop(), rs, NewBundleSource(testBundle(t, 10)))

	srv.SetFailing(true)
	if _, err := l.Counts(ctx); err == nil {
		t.Fatalf("expected counts error")
	}
	if _, err := l.Stats(ctx); err == nil {
		t.Fatalf("expected stats error")
	}
	if !rs.Reachable() {
		t.Fatalf("a statistics failure must not disable remote paging")
	}

	srv.SetFailing(false)
	if page := l.Load(ctx, vocab.Range{StartFrom: 1, Limit: 5}); page.Source != SourceRemote {
		t.Fatalf("expected remote page, got %q", page.Source)
	}
}

func TestRemotePagesWriteThrough(t *testing.T) {
	ctx := context.Background()
	srv := servertest.New(t, servertest.Words(1, 60))
	store := openStore(t)
	l := New(logger.Nop(),
		NewRemoteSource(remote.New(srv.BaseURL(), "", time.Second)),
		NewLocalSource(store, nil),
	)

	page := l.Load(ctx, vocab.Range{StartFrom: 1, Limit: 50})
	if page.Source != SourceRemote || len(page.Words) != 50 || !page.HasMore {
		t.Fatalf("unexpected remote page: %s %d %v", page.Source, len(page.Words), page.HasMore)
	}
	if n, _ := store.Count(ctx); n != 50 {
		t.Fatalf("expected 50 words written through, got %d", n)
	}
	// Exact hasMore from the server at the boundary.
	page = l.Load(ctx, vocab.Range{StartFrom: 51, Limit: 10})
	if len(page.Words) != 10 || page.HasMore {
		t.Fatalf("expected exact hasMore=false, got %d/%v", len(page.Words), page.HasMore)
	}
}

func TestWriteBehindFlushesBeforeLocalRead(t *testing.T) {
	ctx := context.Background()
	srv := servertest.New(t, servertest.Words(1, 20))
	store := openStore(t)
	bw := db.NewBatchWriter(store.DB(), 100, time.Hour)
	defer bw.Close()

	rs := NewRemoteSource(remote.New(srv.BaseURL(), "", time.Second))
	l := New(logger.Nop(), rs, NewLocalSource(store, bw))
	if page := l.Load(ctx, vocab.Range{StartFrom: 1, Limit: 20}); page.Source != SourceRemote {
		t.Fatalf("expected remote page, got %q", page.Source)
	}

	srv.SetFailing(true)
	page := l.Load(ctx, vocab.Range{StartFrom: 1, Limit: 20})
	if page.Source != SourceLocal || len(page.Words) != 20 {
		t.Fatalf("expected 20 local words after flush, got %s/%d", page.Source, len(page.Words))
	}
}

func TestColdStoreFallsThroughToBundle(t *testing.T) {
	ctx := context.Background()
	l := New(logger.Nop(), nil, NewLocalSource(openStore(t), nil), NewBundleSource(testBundle(t, 120)))
	if got := l.Sources(); !reflect.DeepEqual(got, []string{SourceLocal, SourceBundled}) {
		t.Fatalf("unexpected chain %v", got)
	}
	page := l.Load(ctx, vocab.Range{StartFrom: 101, Limit: 50})
	if page.Source != SourceBundled || len(page.Words) != 20 || page.HasMore {
		t.Fatalf("unexpected bundled page: %s %d %v", page.Source, len(page.Words), page.HasMore)
	}
	if page.Words[0].WordID != 101 {
		t.Fatalf("expected position slice starting at 101, got %d", page.Words[0].WordID)
	}
}

func TestWarmLocalStoreIsAuthoritativeWhenEmpty(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	if err := store.PutWords(ctx, servertest.Words(1, 5)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	l := New(logger.Nop(), NewLocalSource(store, nil), NewBundleSource(testBundle(t, 100)))
	page := l.Load(ctx, vocab.Range{StartFrom: 6, Limit: 50})
	if page.Source != SourceLocal || len(page.Words) != 0 || page.HasMore {
		t.Fatalf("expected empty local page, got %s %d", page.Source, len(page.Words))
	}
}

type failingSource struct{ err error }

func (f failingSource) Name() string { return "failing" }
func (f failingSource) FetchPage(context.Context, vocab.Range) (vocab.Page, error) {
	return vocab.Page{}, f.err
}

func TestExhaustedChainReturnsEmptyPage(t *testing.T) {
	l := New(logger.Nop(), failingSource{errors.New("boom")}, failingSource{ErrNoData})
	page := l.Load(context.Background(), vocab.Range{StartFrom: 0, Limit: 10})
	if page.Source != SourceNone || page.Words == nil || len(page.Words) != 0 || page.HasMore {
		t.Fatalf("unexpected exhausted page %+v", page)
	}
}

func TestClosedStoreFallsThrough(t *testing.T) {
	store := openStore(t)
	store.Close()
	l := New(logger.Nop(), NewLocalSource(store, nil), NewBundleSource(testBundle(t, 10)))
	if page := l.Load(context.Background(), vocab.Range{StartFrom: 1, Limit: 5}); page.Source != SourceBundled {
		t.Fatalf("expected bundled page, got %q", page.Source)
	}
}

func TestRedisTier(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	srv := servertest.New(t, servertest.Words(1, 30))
	rs := NewRemoteSource(remote.New(srv.BaseURL(), "", time.Second))
	cache := NewRedisSourceWithClient(rdb, "test", "user-1", time.Minute)
	l := New(logger.Nop(), rs, cache)

	r := vocab.Range{StartFrom: 1, Limit: 20, Level: vocab.LevelA1}
	if page := l.Load(ctx, r); page.Source != SourceRemote {
		t.Fatalf("expected remote page, got %q", page.Source)
	}
	if !mr.Exists("test:user-1:page:A1:1:20") {
		t.Fatalf("page not cached, keys: %v", mr.Keys())
	}

	srv.SetFailing(true)
	page := l.Load(ctx, r)
	if page.Source != SourceRedis || len(page.Words) != 5 {
		t.Fatalf("expected 5 cached A1 words, got %s/%d", page.Source, len(page.Words))
	}
	if page := l.Load(ctx, vocab.Range{StartFrom: 21, Limit: 20}); page.Source != SourceNone {
		t.Fatalf("cache miss should exhaust the chain, got %q", page.Source)
	}

	l.Invalidate(ctx)
	if len(mr.Keys()) != 0 {
		t.Fatalf("expected no keys after invalidate, got %v", mr.Keys())
	}
}

func TestProgressFallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	srv := servertest.New(t, servertest.Words(1, 10))
	srv.SetFailing(true)
	store := openStore(t)
	if err := store.PutWords(ctx, servertest.Words(1, 12)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.SetLearned(ctx, 1, true, time.Now()); err != nil {
		t.Fatalf("SetLearned: %v", err)
	}
	l := New(logger.Nop(), NewRemoteSource(remote.New(srv.BaseURL(), "", time.Second)), NewLocalSource(store, nil))

	fu, err := l.FirstUnlearned(ctx, vocab.LevelAll)
	if err != nil || fu == nil || fu.WordID != 2 {
		t.Fatalf("FirstUnlearned: %+v %v", fu, err)
	}
	// B2 words are 4 and 10, neither learned.
	fu, err = l.FirstUnlearned(ctx, vocab.LevelB2)
	if err != nil || fu == nil || fu.WordID != 4 {
		t.Fatalf("FirstUnlearned(B2): %+v %v", fu, err)
	}
	c, err := l.Counts(ctx)
	if err != nil || c.TotalWords != 12 || c.LearnedWords != 1 {
		t.Fatalf("Counts: %+v %v", c, err)
	}
	st, err := l.Stats(ctx)
	if err != nil || st.ByLevel["A1"].Learned != 1 {
		t.Fatalf("Stats: %+v %v", st, err)
	}

	empty := New(logger.Nop(), NewLocalSource(openStore(t), nil))
	if _, err := empty.FirstUnlearned(ctx, vocab.LevelAll); !errors.Is(err, db.ErrColdStore) {
		t.Fatalf("expected ErrColdStore, got %v", err)
	}
}

func TestDialRedis(t *testing.T) {
	ctx := context.Background()
	rdb, err := DialRedis(ctx, "")
	if err != nil || rdb != nil {
		t.Fatalf("empty addr should disable redis, got %v %v", rdb, err)
	}
	mr := miniredis.RunT(t)
	rdb, err = DialRedis(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer rdb.Close()
	mr.Close()
	if _, err := DialRedis(ctx, mr.Addr()); err == nil {
		t.Fatalf("expected ping failure against a stopped server")
	}
}
