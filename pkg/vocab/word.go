package vocab

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Level is a CEFR tag classifying vocabulary difficulty.
type Level string

const (
	LevelA1  Level = "A1"
	LevelA2  Level = "A2"
	LevelB1  Level = "B1"
	LevelB2  Level = "B2"
	LevelC1  Level = "C1"
	LevelC2  Level = "C2"
	LevelAll Level = "all"
)

// Levels lists the CEFR levels in ascending difficulty.
var Levels = []Level{LevelA1, LevelA2, LevelB1, LevelB2, LevelC1, LevelC2}

// ParseLevel normalizes a user supplied level. Empty input means LevelAll.
func ParseLevel(s string) (Level, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, string(LevelAll)) {
		return LevelAll, nil
	}
	l := Level(strings.ToUpper(s))
	for _, known := range Levels {
		if l == known {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown CEFR level %q", s)
}

// IsAll reports whether l does not restrict by level.
func (l Level) IsAll() bool { return l == "" || l == LevelAll }

// Matches reports whether a word tagged with tag passes the level filter l.
func (l Level) Matches(tag Level) bool {
	return l.IsAll() || strings.EqualFold(string(l), string(tag))
}

// RecordID is the stable primary key of a word. The remote service may send
// it either as a JSON string or as a JSON number.
type RecordID string

func (id *RecordID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = RecordID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("record id: %w", err)
	}
	*id = RecordID(n.String())
	return nil
}

// Enrichment carries optional payload that the engine stores but never reads.
type Enrichment struct {
	Synonyms    []string `json:"synonyms,omitempty"`
	Antonyms    []string `json:"antonyms,omitempty"`
	Translation string   `json:"translation,omitempty"`
	Phonetic    string   `json:"phonetic,omitempty"`
	Difficulty  string   `json:"difficulty,omitempty"`
}

// WordRecord is one vocabulary entry. WordID defines the global order (1..N)
// and is the pagination key; ID is the storage key.
type WordRecord struct {
	ID         RecordID `json:"id"`
	WordID     int      `json:"wordId"`
	Word       string   `json:"word"`
	POS        string   `json:"pos,omitempty"`
	Level      Level    `json:"level"`
	Definition string   `json:"definition,omitempty"`
	Example    string   `json:"example,omitempty"`
	Enrichment

	Learned      bool       `json:"learned"`
	LastModified *time.Time `json:"lastModified,omitempty"`
}

// Key returns the storage key, falling back to the word id when the source
// did not provide one.
func (w WordRecord) Key() RecordID {
	if w.ID != "" {
		return w.ID
	}
	return RecordID(fmt.Sprintf("%d", w.WordID))
}

// FirstUnlearned is the answer to "where should the user start".
type FirstUnlearned struct {
	WordID     int    `json:"wordId"`
	Word       string `json:"word"`
	Level      Level  `json:"level"`
	AllLearned bool   `json:"allLearned,omitempty"`
}

// Counts are the aggregate progress numbers shown in the header.
type Counts struct {
	TotalWords      int     `json:"totalWords"`
	LearnedWords    int     `json:"learnedWords"`
	NotLearnedWords int     `json:"notLearnedWords"`
	PercentComplete float64 `json:"percentComplete"`
}

// NewCounts derives the remaining fields from total and learned.
func NewCounts(total, learned int) Counts {
	c := Counts{TotalWords: total, LearnedWords: learned, NotLearnedWords: total - learned}
	if total > 0 {
		c.PercentComplete = float64(learned) * 100 / float64(total)
	}
	return c
}

// Bucket is the progress of one level or difficulty group.
type Bucket struct {
	Total           int     `json:"total"`
	Learned         int     `json:"learned"`
	NotLearned      int     `json:"notLearned"`
	PercentComplete float64 `json:"percentComplete"`
}

// NewBucket derives the remaining fields from total and learned.
func NewBucket(total, learned int) Bucket {
	c := NewCounts(total, learned)
	return Bucket{Total: total, Learned: learned, NotLearned: c.NotLearnedWords, PercentComplete: c.PercentComplete}
}

// Stats breaks progress down by level and by difficulty.
type Stats struct {
	ByLevel      map[string]Bucket `json:"byLevel"`
	ByDifficulty map[string]Bucket `json:"byDifficulty,omitempty"`
}
