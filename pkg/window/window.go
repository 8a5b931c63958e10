// Package window keeps the in-memory word window a user browses through: the
// loaded words, the cursor into the filtered view, and the paging cursors that
// grow the window forward and backward.
package window

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/japaniel/wordfamily/pkg/bundle"
	"github.com/japaniel/wordfamily/pkg/loader"
	"github.com/japaniel/wordfamily/pkg/logger"
	"github.com/japaniel/wordfamily/pkg/vocab"
)

// Pager is what the controller needs from the data layer. *loader.Loader
// implements it.
type Pager interface {
	Load(ctx context.Context, r vocab.Range) vocab.Page
	FirstUnlearned(ctx context.Context, level vocab.Level) (*vocab.FirstUnlearned, error)
	Counts(ctx context.Context) (vocab.Counts, error)
	Stats(ctx context.Context) (vocab.Stats, error)
}

// Options tune paging. Zero values take the defaults.
type Options struct {
	PageSize       int
	PrefetchAhead  int
	PrefetchBehind int
	// MaxWindow bounds the loaded window; 0 keeps every page.
	MaxWindow int
	// StartAt, when positive, overrides the first-unlearned lookup on the
	// first Init.
	StartAt int
	// DisablePrefetch turns off background paging; callers page explicitly.
	DisablePrefetch bool
}

const (
	DefaultPageSize       = 50
	DefaultPrefetchAhead  = 10
	DefaultPrefetchBehind = 4
)

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.PrefetchAhead <= 0 {
		o.PrefetchAhead = DefaultPrefetchAhead
	}
	if o.PrefetchBehind <= 0 {
		o.PrefetchBehind = DefaultPrefetchBehind
	}
	if o.MaxWindow > 0 && o.MaxWindow < 2*o.PageSize {
		o.MaxWindow = 2 * o.PageSize
	}
	return o
}

// Snapshot is a consistent view of the controller for consumers.
type Snapshot struct {
	Current         *vocab.WordRecord
	Index           int
	Cursor          int
	Filtered        int
	Loaded          int
	HasMore         bool
	HasPrevious     bool
	LoadingMore     bool
	LoadingPrevious bool
	NextWordID      int
	PreviousWordID  int
	Filter          vocab.Filter
	Counts          vocab.Counts
	Stats           vocab.Stats
	Source          string
}

// Controller owns the loaded window. All state is guarded by mu; I/O happens
// outside the lock and every splice, together with its cursor shift, is one
// critical section.
type Controller struct {
	log    *logger.Logger
	pager  Pager
	bundle *bundle.Dataset
	opts   Options

	// ctx scopes background prefetches.
	ctx context.Context
	wg  sync.WaitGroup

	mu              sync.Mutex
	gen             uint64
	words           []vocab.WordRecord
	index           int
	nextWordID      int
	prevWordID      int
	hasMore         bool
	hasPrevious     bool
	loadingMore     bool
	loadingPrevious bool
	filter          vocab.Filter
	counts          vocab.Counts
	stats           vocab.Stats
	source          string
	startAt         int
	onChange        []func()
}

// New creates an empty controller. Background prefetches stop when ctx is
// done.
func New(ctx context.Context, log *logger.Logger, pager Pager, ds *bundle.Dataset, opts Options) *Controller {
	if log == nil {
		log = logger.Nop()
	}
	opts = opts.withDefaults()
	return &Controller{
		log:     log.With("component", "window"),
		pager:   pager,
		bundle:  ds,
		opts:    opts,
		ctx:     ctx,
		filter:  vocab.Filter{Level: vocab.LevelAll, Learned: vocab.LearnedAny},
		startAt: opts.StartAt,
	}
}

// OnChange registers fn to run after every state change. fn runs outside the
// lock and may call back into the controller.
func (c *Controller) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = append(c.onChange, fn)
	c.mu.Unlock()
}

func (c *Controller) changed() {
	c.mu.Lock()
	hooks := append([]func(){}, c.onChange...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	c.maybePrefetch()
}

// Init (re)loads the window for the active level: it fetches statistics and
// the starting word concurrently, then loads one page from there. Failures
// degrade to zero statistics and the bundled words; Init never fails.
func (c *Controller) Init(ctx context.Context) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	level := c.filter.Level
	startAt := c.startAt
	c.startAt = 0
	c.loadingMore, c.loadingPrevious = false, false
	c.mu.Unlock()

	var (
		counts    vocab.Counts
		stats     vocab.Stats
		haveStats bool
		start     = 1
	)
	var g errgroup.Group
	g.Go(func() error {
		var err error
		if counts, err = c.pager.Counts(ctx); err != nil {
			c.log.Warn("initial counts unavailable", "error", err)
			return nil
		}
		if stats, err = c.pager.Stats(ctx); err != nil {
			c.log.Warn("initial stats unavailable", "error", err)
			return nil
		}
		haveStats = true
		return nil
	})
	g.Go(func() error {
		if startAt > 0 {
			start = startAt
			return nil
		}
		fu, err := c.pager.FirstUnlearned(ctx, level)
		if err != nil {
			c.log.Warn("no starting position, starting at the beginning", "level", string(level), "error", err)
			return nil
		}
		if fu != nil && fu.WordID > 0 {
			start = fu.WordID
		}
		return nil
	})
	_ = g.Wait()

	page := c.pager.Load(ctx, vocab.Range{StartFrom: start, Limit: c.opts.PageSize, Level: level})
	if len(page.Words) == 0 {
		page = vocab.Page{
			Words:   c.bundle.First(c.opts.PageSize, level),
			HasMore: c.bundle.CountLevel(level) > c.opts.PageSize,
			Source:  loader.SourceBundled,
		}
		c.log.Info("window seeded from bundle", "level", string(level), "words", len(page.Words))
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.words = append([]vocab.WordRecord(nil), page.Words...)
	c.index = 0
	c.hasMore = page.HasMore
	c.source = page.Source
	if n := len(c.words); n > 0 {
		c.prevWordID = c.words[0].WordID
		c.nextWordID = c.words[n-1].WordID + 1
		c.hasPrevious = c.prevWordID > 1
	} else {
		c.prevWordID, c.nextWordID = start, start
		c.hasMore, c.hasPrevious = false, false
	}
	c.counts = counts
	if haveStats {
		c.stats = stats
	}
	c.mu.Unlock()

	c.log.Debug("window initialized", "level", string(level), "start", start, "words", len(page.Words), "source", page.Source)
	c.changed()
}

// LoadMore appends the next page. It is a no-op while a forward load is in
// flight or when the end was reached. It reports whether the window changed.
func (c *Controller) LoadMore(ctx context.Context) bool {
	c.mu.Lock()
	if !c.hasMore || c.loadingMore {
		c.mu.Unlock()
		return false
	}
	c.loadingMore = true
	gen, next, level := c.gen, c.nextWordID, c.filter.Level
	c.mu.Unlock()

	r := vocab.Range{StartFrom: next, Limit: c.opts.PageSize, Level: level}
	page := c.pager.Load(ctx, r)
	if len(page.Words) == 0 && page.Source != loader.SourceBundled {
		// Remote and local may be exhausted while the bundle still has words.
		if words := c.bundle.Slice(next, c.opts.PageSize, level); len(words) > 0 {
			page = vocab.Page{Words: words, HasMore: len(words) == c.opts.PageSize, Source: loader.SourceBundled}
		}
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	c.loadingMore = false
	applied := c.appendLocked(next, page)
	c.mu.Unlock()

	c.changed()
	return applied
}

func (c *Controller) appendLocked(next int, page vocab.Page) bool {
	if c.nextWordID != next {
		c.log.Debug("discarding stale append", "requested", next, "cursor", c.nextWordID)
		return false
	}
	if len(page.Words) == 0 {
		c.hasMore = false
		return false
	}
	floor := next
	if n := len(c.words); n > 0 && c.words[n-1].WordID >= floor {
		floor = c.words[n-1].WordID + 1
	}
	fresh := make([]vocab.WordRecord, 0, len(page.Words))
	for _, w := range page.Words {
		if w.WordID >= floor {
			fresh = append(fresh, w)
		}
	}
	end := page.Words[len(page.Words)-1].WordID + 1
	if end <= next {
		c.hasMore = false
		return false
	}
	c.nextWordID = end
	c.hasMore = page.HasMore
	c.source = page.Source
	if len(fresh) == 0 {
		return false
	}
	c.words = append(c.words, fresh...)
	c.evictFrontLocked()
	return true
}

// LoadPrevious prepends the page before the first loaded word and shifts the
// cursor so the displayed word stays the same.
func (c *Controller) LoadPrevious(ctx context.Context) bool {
	c.mu.Lock()
	if !c.hasPrevious || c.loadingPrevious {
		c.mu.Unlock()
		return false
	}
	prev := c.prevWordID
	startFrom := prev - c.opts.PageSize
	if startFrom < 1 {
		startFrom = 1
	}
	limit := prev - startFrom
	if limit <= 0 {
		c.hasPrevious = false
		c.mu.Unlock()
		return false
	}
	c.loadingPrevious = true
	gen, level := c.gen, c.filter.Level
	c.mu.Unlock()

	page := c.pager.Load(ctx, vocab.Range{StartFrom: startFrom, Limit: limit, Level: level})

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	c.loadingPrevious = false
	applied := c.prependLocked(prev, startFrom, page)
	c.mu.Unlock()

	c.changed()
	return applied
}

func (c *Controller) prependLocked(prev, startFrom int, page vocab.Page) bool {
	if c.prevWordID != prev {
		c.log.Debug("discarding stale prepend", "requested", prev, "cursor", c.prevWordID)
		return false
	}
	ceiling := prev
	if len(c.words) > 0 && c.words[0].WordID < ceiling {
		ceiling = c.words[0].WordID
	}
	fresh := make([]vocab.WordRecord, 0, len(page.Words))
	for _, w := range page.Words {
		if w.WordID >= startFrom && w.WordID < ceiling {
			fresh = append(fresh, w)
		}
	}
	if len(fresh) == 0 {
		if page.Source == loader.SourceNone {
			// Nothing can serve this direction right now.
			c.hasPrevious = false
			return false
		}
		// The range holds nothing at this level; keep walking back.
		c.prevWordID = startFrom
		c.hasPrevious = startFrom > 1
		return false
	}
	shift := c.filter.Count(fresh)
	words := make([]vocab.WordRecord, 0, len(fresh)+len(c.words))
	words = append(words, fresh...)
	c.words = append(words, c.words...)
	c.index += shift
	c.prevWordID = fresh[0].WordID
	c.hasPrevious = c.prevWordID > 1
	c.evictBackLocked()
	return true
}

// rawCurrentLocked maps the clamped filtered cursor to a position in words,
// or -1 when the filtered view is empty.
func (c *Controller) rawCurrentLocked() int {
	seen := -1
	last := -1
	for i, w := range c.words {
		if !c.filter.Match(w) {
			continue
		}
		seen++
		last = i
		if seen == c.index {
			return i
		}
	}
	return last
}

// evictFrontLocked drops the oldest words after an append, never the current
// one, and moves the backward cursor so they can be paged in again.
func (c *Controller) evictFrontLocked() {
	excess := len(c.words) - c.opts.MaxWindow
	if c.opts.MaxWindow <= 0 || excess <= 0 {
		return
	}
	if cur := c.rawCurrentLocked(); cur >= 0 && excess > cur {
		excess = cur
	}
	if excess <= 0 {
		return
	}
	dropped := c.words[:excess]
	c.index -= c.filter.Count(dropped)
	if c.index < 0 {
		c.index = 0
	}
	c.words = append([]vocab.WordRecord(nil), c.words[excess:]...)
	c.prevWordID = c.words[0].WordID
	c.hasPrevious = true
	c.log.Debug("evicted words from window front", "count", excess)
}

// evictBackLocked drops the newest words after a prepend, never the current
// one, and moves the forward cursor back.
func (c *Controller) evictBackLocked() {
	excess := len(c.words) - c.opts.MaxWindow
	if c.opts.MaxWindow <= 0 || excess <= 0 {
		return
	}
	keep := len(c.words) - excess
	if cur := c.rawCurrentLocked(); cur >= keep {
		keep = cur + 1
	}
	if keep >= len(c.words) {
		return
	}
	c.log.Debug("evicted words from window back", "count", len(c.words)-keep)
	c.words = append([]vocab.WordRecord(nil), c.words[:keep]...)
	c.nextWordID = c.words[keep-1].WordID + 1
	c.hasMore = true
}

func (c *Controller) maybePrefetch() {
	if c.opts.DisablePrefetch || c.ctx == nil || c.ctx.Err() != nil {
		return
	}
	c.mu.Lock()
	filtered := c.filter.Count(c.words)
	forward := c.hasMore && !c.loadingMore && c.index >= filtered-c.opts.PrefetchAhead
	backward := c.hasPrevious && !c.loadingPrevious && c.index <= c.opts.PrefetchBehind
	c.mu.Unlock()

	if forward {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.LoadMore(c.ctx)
		}()
	}
	if backward {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.LoadPrevious(c.ctx)
		}()
	}
}

// Wait blocks until background prefetches have finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Next moves the cursor forward. Past the end it wraps to the first word only
// when there is nothing more to load; otherwise the cursor runs ahead of the
// loaded words and Current clamps until the prefetch lands.
func (c *Controller) Next() {
	c.mu.Lock()
	filtered := c.filter.Count(c.words)
	if c.index+1 >= filtered && !c.hasMore {
		c.index = 0
	} else {
		c.index++
	}
	c.mu.Unlock()
	c.changed()
}

// Previous moves the cursor back, stopping at the first word.
func (c *Controller) Previous() {
	c.mu.Lock()
	if c.index > 0 {
		c.index--
	}
	c.mu.Unlock()
	c.changed()
}

// Current returns the displayed word: the filtered word at the cursor,
// clamped to the last one.
func (c *Controller) Current() (vocab.WordRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked()
}

func (c *Controller) currentLocked() (vocab.WordRecord, bool) {
	i := c.rawCurrentLocked()
	if i < 0 {
		return vocab.WordRecord{}, false
	}
	return c.words[i], true
}

func (c *Controller) clampedIndexLocked(filtered int) int {
	if filtered == 0 {
		return 0
	}
	if c.index > filtered-1 {
		return filtered - 1
	}
	return c.index
}

// Snapshot returns the state a consumer renders from.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	filtered := c.filter.Count(c.words)
	s := Snapshot{
		Index:           c.clampedIndexLocked(filtered),
		Cursor:          c.index,
		Filtered:        filtered,
		Loaded:          len(c.words),
		HasMore:         c.hasMore,
		HasPrevious:     c.hasPrevious,
		LoadingMore:     c.loadingMore,
		LoadingPrevious: c.loadingPrevious,
		NextWordID:      c.nextWordID,
		PreviousWordID:  c.prevWordID,
		Filter:          c.filter,
		Counts:          c.counts,
		Stats:           c.stats,
		Source:          c.source,
	}
	if w, ok := c.currentLocked(); ok {
		s.Current = &w
	}
	return s
}

// Words returns a copy of the loaded window.
func (c *Controller) Words() []vocab.WordRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]vocab.WordRecord(nil), c.words...)
}

// Filtered returns the loaded words visible under the active filter.
func (c *Controller) Filtered() []vocab.WordRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter.Apply(c.words)
}

func sameLevel(a, b vocab.Level) bool {
	if a.IsAll() || b.IsAll() {
		return a.IsAll() && b.IsAll()
	}
	return a.Matches(b)
}

// SetFilter changes the view. A level change re-initializes the window,
// since level also scopes fetching; other changes only reset the cursor.
func (c *Controller) SetFilter(ctx context.Context, f vocab.Filter) {
	if f.Level == "" {
		f.Level = vocab.LevelAll
	}
	if f.Learned == "" {
		f.Learned = vocab.LearnedAny
	}
	c.mu.Lock()
	levelChanged := !sameLevel(c.filter.Level, f.Level)
	c.filter = f
	if !levelChanged {
		c.index = 0
	}
	c.mu.Unlock()

	if levelChanged {
		c.Init(ctx)
		return
	}
	c.changed()
}

// Filter returns the active filter.
func (c *Controller) Filter() vocab.Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

// Statistics returns the last known aggregate progress.
func (c *Controller) Statistics() (vocab.Counts, vocab.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts, c.stats
}

// RefreshStatistics refetches counts and stats. On failure the previous
// values are kept.
func (c *Controller) RefreshStatistics(ctx context.Context) error {
	var (
		counts vocab.Counts
		stats  vocab.Stats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		counts, err = c.pager.Counts(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		stats, err = c.pager.Stats(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		c.log.Warn("statistics refresh failed", "error", err)
		return err
	}
	c.mu.Lock()
	c.counts, c.stats = counts, stats
	c.mu.Unlock()
	c.changed()
	return nil
}

// ApplyLearned sets the learned flag of a loaded word and adjusts the cached
// counts. It returns the updated record, or false when the word is not in the
// window.
func (c *Controller) ApplyLearned(wordID int, learned bool, at time.Time) (vocab.WordRecord, bool) {
	c.mu.Lock()
	i := sort.Search(len(c.words), func(i int) bool { return c.words[i].WordID >= wordID })
	if i == len(c.words) || c.words[i].WordID != wordID {
		c.mu.Unlock()
		return vocab.WordRecord{}, false
	}
	w := &c.words[i]
	if w.Learned != learned && c.counts.TotalWords > 0 {
		delta := 1
		if !learned {
			delta = -1
		}
		c.counts = vocab.NewCounts(c.counts.TotalWords, c.counts.LearnedWords+delta)
	}
	w.Learned = learned
	t := at
	w.LastModified = &t
	rec := *w
	c.mu.Unlock()

	c.changed()
	return rec, true
}
