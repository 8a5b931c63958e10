package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/japaniel/wordfamily/pkg/vocab"
)

// ErrColdStore is returned by callers that need at least one stored record.
var ErrColdStore = errors.New("local store is empty")

// Store is the persistent local store: the words table keyed by id plus the
// learned_words marker table keyed by word_id. A word has learned=1 iff a
// marker row exists; every mutation keeps both in one transaction.
type Store struct {
	db *sql.DB
}

// New wraps an already migrated connection.
func New(conn *sql.DB) *Store {
	return &Store{db: conn}
}

// DB exposes the underlying connection, e.g. for a BatchWriter.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

const wordColumns = `id, word_id, word, pos, level, definition, example, enrichment, learned, last_modified`

func formatTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func levelClause(level vocab.Level) (string, []interface{}) {
	if level.IsAll() {
		return "", nil
	}
	return " AND UPPER(level) = ?", []interface{}{strings.ToUpper(string(level))}
}

func scanWords(rows *sql.Rows) ([]vocab.WordRecord, error) {
	defer rows.Close()
	out := []vocab.WordRecord{}
	for rows.Next() {
		var w vocab.WordRecord
		var id, level, enrichment string
		var learned int
		var modified sql.NullString
		if err := rows.Scan(&id, &w.WordID, &w.Word, &w.POS, &level, &w.Definition, &w.Example, &enrichment, &learned, &modified); err != nil {
			return nil, err
		}
		w.ID = vocab.RecordID(id)
		w.Level = vocab.Level(level)
		w.Learned = learned != 0
		w.LastModified = parseTime(modified)
		if enrichment != "" && enrichment != "{}" {
			if err := json.Unmarshal([]byte(enrichment), &w.Enrichment); err != nil {
				return nil, fmt.Errorf("decode enrichment of word %d: %w", w.WordID, err)
			}
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// PutWords upserts records by id. Applying the same batch twice yields the
// same state.
func (s *Store) PutWords(ctx context.Context, records []vocab.WordRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put words: %w", err)
	}
	defer func() {
		_ = tx.Rollback() // ignored if committed
	}()
	if err := PutWordsTx(ctx, tx, records); err != nil {
		return err
	}
	return tx.Commit()
}

// PutWordsTx is PutWords inside a caller owned transaction.
func PutWordsTx(ctx context.Context, db DBExecutor, records []vocab.WordRecord) error {
	for _, w := range records {
		if w.WordID <= 0 {
			return fmt.Errorf("word %q: wordId must be positive", w.Word)
		}
		key := string(w.Key())
		enrichment, err := json.Marshal(w.Enrichment)
		if err != nil {
			return fmt.Errorf("encode enrichment of word %d: %w", w.WordID, err)
		}

		// The same id may move to another word_id, and another id may hold
		// this word_id; both leave stale rows behind.
		var prevWordID int
		err = db.QueryRowContext(ctx, `SELECT word_id FROM words WHERE id = ?`, key).Scan(&prevWordID)
		switch {
		case err == nil && prevWordID != w.WordID:
			if _, err := db.ExecContext(ctx, `DELETE FROM learned_words WHERE word_id = ?`, prevWordID); err != nil {
				return err
			}
		case err != nil && err != sql.ErrNoRows:
			return err
		}
		if _, err := db.ExecContext(ctx, `DELETE FROM words WHERE word_id = ? AND id <> ?`, w.WordID, key); err != nil {
			return fmt.Errorf("evict stale word %d: %w", w.WordID, err)
		}

		_, err = db.ExecContext(ctx, `INSERT INTO words (`+wordColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				word_id = excluded.word_id,
				word = excluded.word,
				pos = excluded.pos,
				level = excluded.level,
				definition = excluded.definition,
				example = excluded.example,
				enrichment = excluded.enrichment,
				learned = excluded.learned,
				last_modified = excluded.last_modified`,
			key, w.WordID, w.Word, w.POS, string(w.Level), w.Definition, w.Example, string(enrichment), boolInt(w.Learned), formatTime(w.LastModified))
		if err != nil {
			return fmt.Errorf("upsert word %d: %w", w.WordID, err)
		}
		if err := setMarker(ctx, db, w.WordID, w.Learned, w.LastModified, false); err != nil {
			return err
		}
	}
	return nil
}

// setMarker adds or removes the learned marker. With overwrite=false an
// existing marker keeps its learned_at, which keeps PutWords idempotent.
func setMarker(ctx context.Context, db DBExecutor, wordID int, learned bool, at *time.Time, overwrite bool) error {
	if !learned {
		if _, err := db.ExecContext(ctx, `DELETE FROM learned_words WHERE word_id = ?`, wordID); err != nil {
			return fmt.Errorf("remove learned marker %d: %w", wordID, err)
		}
		return nil
	}
	stamp := formatTime(at)
	if stamp == nil {
		stamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	q := `INSERT INTO learned_words (word_id, learned_at) VALUES (?, ?) ON CONFLICT(word_id) DO NOTHING`
	if overwrite {
		q = `INSERT INTO learned_words (word_id, learned_at) VALUES (?, ?) ON CONFLICT(word_id) DO UPDATE SET learned_at = excluded.learned_at`
	}
	if _, err := db.ExecContext(ctx, q, wordID, stamp); err != nil {
		return fmt.Errorf("add learned marker %d: %w", wordID, err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GetWords returns up to limit records with word_id >= startFrom, ascending.
func (s *Store) GetWords(ctx context.Context, startFrom, limit int, level vocab.Level) ([]vocab.WordRecord, error) {
	if limit <= 0 {
		return []vocab.WordRecord{}, nil
	}
	clause, args := levelClause(level)
	args = append([]interface{}{startFrom}, args...)
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, `SELECT `+wordColumns+` FROM words WHERE word_id >= ?`+clause+` ORDER BY word_id LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("get words: %w", err)
	}
	return scanWords(rows)
}

// GetWord returns the record with the given word id, or nil.
func (s *Store) GetWord(ctx context.Context, wordID int) (*vocab.WordRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+wordColumns+` FROM words WHERE word_id = ?`, wordID)
	if err != nil {
		return nil, err
	}
	words, err := scanWords(rows)
	if err != nil || len(words) == 0 {
		return nil, err
	}
	return &words[0], nil
}

// GetFirstUnlearned returns the first unlearned word of the filtered set. If
// every word is learned the first word is returned with AllLearned set; an
// empty set yields nil.
func (s *Store) GetFirstUnlearned(ctx context.Context, level vocab.Level) (*vocab.FirstUnlearned, error) {
	clause, args := levelClause(level)
	var fu vocab.FirstUnlearned
	var lvl string
	err := s.db.QueryRowContext(ctx, `SELECT word_id, word, level FROM words WHERE learned = 0`+clause+` ORDER BY word_id LIMIT 1`, args...).
		Scan(&fu.WordID, &fu.Word, &lvl)
	if err == nil {
		fu.Level = vocab.Level(lvl)
		return &fu, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("first unlearned: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `SELECT word_id, word, level FROM words WHERE 1 = 1`+clause+` ORDER BY word_id LIMIT 1`, args...).
		Scan(&fu.WordID, &fu.Word, &lvl)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("first word: %w", err)
	}
	fu.Level = vocab.Level(lvl)
	fu.AllLearned = true
	return &fu, nil
}

// SetLearned updates the word and its marker in one transaction. It reports
// false, without error, when no word has that id.
func (s *Store) SetLearned(ctx context.Context, wordID int, learned bool, at time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin set learned: %w", err)
	}
	defer func() {
		_ = tx.Rollback() // ignored if committed
	}()
	res, err := tx.ExecContext(ctx, `UPDATE words SET learned = ?, last_modified = ? WHERE word_id = ?`, boolInt(learned), formatTime(&at), wordID)
	if err != nil {
		return false, fmt.Errorf("set learned %d: %w", wordID, err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return false, err
	}
	if err := setMarker(ctx, tx, wordID, learned, &at, true); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit set learned %d: %w", wordID, err)
	}
	return true, nil
}

// Count returns the number of stored words.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM words`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count words: %w", err)
	}
	return n, nil
}

// Clear wipes both tables.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()
	for _, q := range []string{`DELETE FROM learned_words`, `DELETE FROM words`} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
	}
	return tx.Commit()
}

// LearnedWordIDs lists learned word ids from the marker table, ascending.
func (s *Store) LearnedWordIDs(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT word_id FROM learned_words ORDER BY word_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HasWordsAfter reports whether any word with word_id > wordID exists.
func (s *Store) HasWordsAfter(ctx context.Context, wordID int, level vocab.Level) (bool, error) {
	clause, args := levelClause(level)
	args = append([]interface{}{wordID}, args...)
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM words WHERE word_id > ?`+clause+` LIMIT 1`, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// Counts computes progress from the stored words.
func (s *Store) Counts(ctx context.Context) (vocab.Counts, error) {
	var total, learned int
	err := s.db.QueryRowContext(ctx, `SELECT (SELECT COUNT(*) FROM words), (SELECT COUNT(*) FROM learned_words)`).Scan(&total, &learned)
	if err != nil {
		return vocab.Counts{}, fmt.Errorf("counts: %w", err)
	}
	return vocab.NewCounts(total, learned), nil
}

// Stats computes progress grouped by level and by difficulty.
func (s *Store) Stats(ctx context.Context) (vocab.Stats, error) {
	byLevel, err := s.buckets(ctx, `UPPER(w.level)`)
	if err != nil {
		return vocab.Stats{}, err
	}
	byDifficulty, err := s.buckets(ctx, `COALESCE(json_extract(w.enrichment, '$.difficulty'), '')`)
	if err != nil {
		return vocab.Stats{}, err
	}
	delete(byDifficulty, "")
	return vocab.Stats{ByLevel: byLevel, ByDifficulty: byDifficulty}, nil
}

func (s *Store) buckets(ctx context.Context, groupExpr string) (map[string]vocab.Bucket, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+groupExpr+` AS grp, COUNT(*), COUNT(lw.word_id)
		FROM words w LEFT JOIN learned_words lw ON lw.word_id = w.word_id
		GROUP BY grp`)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()
	out := map[string]vocab.Bucket{}
	for rows.Next() {
		var grp string
		var total, learned int
		if err := rows.Scan(&grp, &total, &learned); err != nil {
			return nil, err
		}
		out[grp] = vocab.NewBucket(total, learned)
	}
	return out, rows.Err()
}
