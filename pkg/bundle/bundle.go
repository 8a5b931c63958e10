package bundle

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/japaniel/wordfamily/pkg/vocab"
)

//go:embed data/oxford_sample.json
var sampleJSON []byte

// Dataset is the bundled fallback word list: complete, ordered by WordID and
// gap free, held in memory for the life of the process. It is read only after
// construction.
type Dataset struct {
	words []vocab.WordRecord
	// index maps lower-cased words to positions in words.
	index map[string][]int
}

var (
	defaultOnce sync.Once
	defaultSet  *Dataset
	defaultErr  error
)

// Default returns the dataset compiled into the binary.
func Default() (*Dataset, error) {
	defaultOnce.Do(func() {
		defaultSet, defaultErr = Decode(bytes.NewReader(sampleJSON))
	})
	return defaultSet, defaultErr
}

// Load reads a dataset file: either {"words": [...]} or a bare array.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses a dataset from r. Entries are sorted by WordID; a dataset whose
// word ids do not run 1..n is rejected.
func Decode(r io.Reader) (*Dataset, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var wrapped struct {
		Words *[]vocab.WordRecord `json:"words"`
	}
	// Try parsing as full object wrapper first { "words": [...] }, which may
	// legitimately be empty.
	var words []vocab.WordRecord
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Words != nil {
		words = *wrapped.Words
	} else if err := json.Unmarshal(raw, &words); err != nil {
		return nil, fmt.Errorf("failed to parse dataset as object or array: %w", err)
	}
	return New(words)
}

// New builds a dataset from records in any order. Word ids must be positive,
// unique and without gaps, since Slice addresses words by position.
func New(words []vocab.WordRecord) (*Dataset, error) {
	ws := append([]vocab.WordRecord(nil), words...)
	sort.Slice(ws, func(i, j int) bool { return ws[i].WordID < ws[j].WordID })
	idx := make(map[string][]int, len(ws))
	for i, w := range ws {
		if w.WordID <= 0 {
			return nil, fmt.Errorf("word %q: wordId must be positive", w.Word)
		}
		if i > 0 && ws[i-1].WordID == w.WordID {
			return nil, fmt.Errorf("duplicate wordId %d", w.WordID)
		}
		if w.WordID != i+1 {
			return nil, fmt.Errorf("wordId gap: expected %d, got %d", i+1, w.WordID)
		}
		if w.ID == "" {
			ws[i].ID = w.Key()
		}
		key := strings.ToLower(w.Word)
		idx[key] = append(idx[key], i)
	}
	return &Dataset{words: ws, index: idx}, nil
}

// Len is the number of bundled words.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.words)
}

// Slice returns up to limit words starting at startFrom. Without a level
// filter this is the position slice [startFrom-1 : startFrom-1+limit]; with
// one it is the first limit words of that level with WordID >= startFrom.
func (d *Dataset) Slice(startFrom, limit int, level vocab.Level) []vocab.WordRecord {
	if d == nil || limit <= 0 {
		return []vocab.WordRecord{}
	}
	if startFrom < 1 {
		startFrom = 1
	}
	if level.IsAll() {
		lo := startFrom - 1
		if lo >= len(d.words) {
			return []vocab.WordRecord{}
		}
		hi := lo + limit
		if hi > len(d.words) {
			hi = len(d.words)
		}
		return append([]vocab.WordRecord(nil), d.words[lo:hi]...)
	}
	out := []vocab.WordRecord{}
	for _, w := range d.words {
		if w.WordID < startFrom || !level.Matches(w.Level) {
			continue
		}
		out = append(out, w)
		if len(out) == limit {
			break
		}
	}
	return out
}

// First returns the first n words of the level.
func (d *Dataset) First(n int, level vocab.Level) []vocab.WordRecord {
	return d.Slice(1, n, level)
}

// CountLevel returns how many bundled words pass the level filter.
func (d *Dataset) CountLevel(level vocab.Level) int {
	if d == nil {
		return 0
	}
	if level.IsAll() {
		return len(d.words)
	}
	n := 0
	for _, w := range d.words {
		if level.Matches(w.Level) {
			n++
		}
	}
	return n
}

// Lookup finds bundled entries by word, case insensitively.
func (d *Dataset) Lookup(word string) []vocab.WordRecord {
	if d == nil {
		return nil
	}
	var out []vocab.WordRecord
	for _, i := range d.index[strings.ToLower(strings.TrimSpace(word))] {
		out = append(out, d.words[i])
	}
	return out
}

// Words returns a copy of the whole list.
func (d *Dataset) Words() []vocab.WordRecord {
	if d == nil {
		return nil
	}
	return append([]vocab.WordRecord(nil), d.words...)
}
