package bundle

import (
	"fmt"
	"strings"
	"testing"

	"github.com/japaniel/wordfamily/pkg/vocab"
)

func TestDefaultDataset(t *testing.T) {
	ds, err := Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if ds.Len() <= 50 {
		t.Fatalf("embedded sample should exceed one page, has %d", ds.Len())
	}
	for i, w := range ds.Words() {
		if w.WordID != i+1 {
			t.Fatalf("gap at position %d: wordId %d", i, w.WordID)
		}
		if w.ID == "" || w.Word == "" || w.Level == "" {
			t.Fatalf("incomplete entry %+v", w)
		}
	}
	if got := ds.Lookup("Ability"); len(got) != 1 || got[0].Word != "ability" {
		t.Fatalf("lookup: %+v", got)
	}
}

func numbered(n int) []vocab.WordRecord {
	var out []vocab.WordRecord
	for i := n; i >= 1; i-- { // reversed on purpose
		lvl := vocab.LevelA1
		if i%2 == 0 {
			lvl = vocab.LevelB2
		}
		out = append(out, vocab.WordRecord{WordID: i, Word: fmt.Sprintf("w%d", i), Level: lvl})
	}
	return out
}

func TestSlice(t *testing.T) {
	ds, err := New(numbered(120))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	cases := []struct {
		start, limit int
		level        vocab.Level
		first, n     int
	}{
		{1, 50, vocab.LevelAll, 1, 50},
		{51, 50, vocab.LevelAll, 51, 50},
		{101, 50, vocab.LevelAll, 101, 20},
		{121, 50, vocab.LevelAll, 0, 0},
		{0, 10, vocab.LevelAll, 1, 10},
		{1, 10, vocab.LevelB2, 2, 10},
		{100, 50, vocab.LevelB2, 100, 11},
	}
	for _, tc := range cases {
		got := ds.Slice(tc.start, tc.limit, tc.level)
		if len(got) != tc.n {
			t.Fatalf("%+v: expected %d words, got %d", tc, tc.n, len(got))
		}
		if tc.n > 0 && got[0].WordID != tc.first {
			t.Fatalf("%+v: expected first wordId %d, got %d", tc, tc.first, got[0].WordID)
		}
	}
	if ds.CountLevel(vocab.LevelB2) != 60 {
		t.Fatalf("expected 60 B2 words")
	}
	// Slices are copies.
	s := ds.Slice(1, 1, vocab.LevelAll)
	s[0].Learned = true
	if ds.Slice(1, 1, vocab.LevelAll)[0].Learned {
		t.Fatalf("Slice leaked internal storage")
	}
}

func TestNewRejectsDuplicates(t *testing.T) {
	_, err := New([]vocab.WordRecord{{WordID: 1, Word: "a"}, {WordID: 1, Word: "b"}})
	if err == nil {
		t.Fatal("expected duplicate error")
	}
	if _, err := Decode(strings.NewReader(`{"words": "nope"}`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestNewRejectsGaps(t *testing.T) {
	_, err := New([]vocab.WordRecord{{WordID: 1, Word: "a"}, {WordID: 3, Word: "c"}})
	if err == nil || !strings.Contains(err.Error(), "gap") {
		t.Fatalf("expected gap error, got %v", err)
	}
	if _, err := New([]vocab.WordRecord{{WordID: 2, Word: "b"}}); err == nil {
		t.Fatal("a list not starting at 1 has a gap")
	}
	ds, err := New([]vocab.WordRecord{{WordID: 2, Word: "b"}, {WordID: 1, Word: "a"}})
	if err != nil {
		t.Fatalf("unordered input is fine: %v", err)
	}
	if got := ds.Slice(2, 1, vocab.LevelAll); len(got) != 1 || got[0].WordID != 2 {
		t.Fatalf("startFrom 2 should return word 2, got %+v", got)
	}
}

func TestDecodeEmptyDataset(t *testing.T) {
	for _, in := range []string{`{"words": []}`, `[]`} {
		ds, err := Decode(strings.NewReader(in))
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if ds.Len() != 0 {
			t.Fatalf("%s: expected no words, got %d", in, ds.Len())
		}
	}
	if _, err := Decode(strings.NewReader(`{}`)); err == nil {
		t.Fatal("an object without words is not a dataset")
	}
}
