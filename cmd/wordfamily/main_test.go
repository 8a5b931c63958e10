package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/japaniel/wordfamily/pkg/db"
	"github.com/japaniel/wordfamily/pkg/server/servertest"
)

// run executes the CLI in-process and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func quietEnv(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("WORDFAMILY_LOG_FILE", filepath.Join(tmp, "test.log"))
	return tmp
}

func learnedIDs(t *testing.T, path string) []int {
	t.Helper()
	store, err := db.Open(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer store.Close()
	ids, err := store.LearnedWordIDs(context.Background())
	if err != nil {
		t.Fatalf("learned ids: %v", err)
	}
	return ids
}

func TestCLI_SyncThenOffline(t *testing.T) {
	tmp := quietEnv(t)
	dbPath := filepath.Join(tmp, "words.db")
	srv := servertest.New(t, servertest.Words(1, 450))

	out, err := run(t, "sync", "--db", dbPath, "--remote", srv.BaseURL())
	if err != nil {
		t.Fatalf("sync failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "downloaded 450 words") {
		t.Fatalf("unexpected sync output:\n%s", out)
	}

	// No --remote from here on: everything is served from the local store.
	out, err = run(t, "stats", "--db", dbPath)
	if err != nil {
		t.Fatalf("stats failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "source: local") || !strings.Contains(out, "total: 450") {
		t.Fatalf("unexpected stats output:\n%s", out)
	}

	out, err = run(t, "mark", "17", "--db", dbPath)
	if err != nil {
		t.Fatalf("mark failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "word 17 marked learned") {
		t.Fatalf("unexpected mark output:\n%s", out)
	}
	if ids := learnedIDs(t, dbPath); len(ids) != 1 || ids[0] != 17 {
		t.Fatalf("expected 17 learned, got %v", ids)
	}

	out, err = run(t, "stats", "--db", dbPath, "--json")
	if err != nil {
		t.Fatalf("stats --json failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"learnedWords": 1`) {
		t.Fatalf("expected one learned word in JSON:\n%s", out)
	}

	if _, err := run(t, "mark", "17", "--unlearned", "--db", dbPath); err != nil {
		t.Fatalf("unmark failed: %v", err)
	}
	if ids := learnedIDs(t, dbPath); len(ids) != 0 {
		t.Fatalf("expected no learned words, got %v", ids)
	}
}

func TestCLI_MarkPropagatesToRemote(t *testing.T) {
	tmp := quietEnv(t)
	dbPath := filepath.Join(tmp, "words.db")
	srv := servertest.New(t, servertest.Words(1, 120))

	out, err := run(t, "mark", "60", "--db", dbPath, "--remote", srv.BaseURL())
	if err != nil {
		t.Fatalf("mark failed: %v\n%s", err, out)
	}
	ids, err := srv.Store.LearnedWordIDs(context.Background())
	if err != nil || len(ids) != 1 || ids[0] != 60 {
		t.Fatalf("remote learned ids %v %v", ids, err)
	}
	if local := learnedIDs(t, dbPath); len(local) != 1 || local[0] != 60 {
		t.Fatalf("local learned ids %v", local)
	}
}

func TestCLI_MarkOfflineOnFreshDatabase(t *testing.T) {
	tmp := quietEnv(t)
	dbPath := filepath.Join(tmp, "words.db")

	out, err := run(t, "mark", "3", "--db", dbPath)
	if err != nil {
		t.Fatalf("mark failed: %v\n%s", err, out)
	}
	if ids := learnedIDs(t, dbPath); len(ids) != 1 || ids[0] != 3 {
		t.Fatalf("offline toggle not kept, got %v", ids)
	}
	out, err = run(t, "stats", "--db", dbPath)
	if err != nil {
		t.Fatalf("stats failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "source: local") || !strings.Contains(out, "learned: 1") {
		t.Fatalf("unexpected stats output:\n%s", out)
	}
}

func TestCLI_MarkErrors(t *testing.T) {
	tmp := quietEnv(t)
	dbPath := filepath.Join(tmp, "words.db")

	if _, err := run(t, "mark", "abc", "--db", dbPath); err == nil {
		t.Fatalf("expected error for a non-numeric wordId")
	}
	if _, err := run(t, "mark", "--db", dbPath); err == nil {
		t.Fatalf("expected error without a wordId")
	}
	_, err := run(t, "mark", "9999", "--db", dbPath)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCLI_SyncRequiresRemote(t *testing.T) {
	tmp := quietEnv(t)
	_, err := run(t, "sync", "--db", filepath.Join(tmp, "words.db"))
	if err == nil || !strings.Contains(err.Error(), "no remote configured") {
		t.Fatalf("expected missing remote error, got %v", err)
	}
}

func TestCLI_Reset(t *testing.T) {
	tmp := quietEnv(t)
	dbPath := filepath.Join(tmp, "words.db")
	srv := servertest.New(t, servertest.Words(1, 60))
	if _, err := run(t, "sync", "--db", dbPath, "--remote", srv.BaseURL()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if _, err := run(t, "reset", "--db", dbPath); err == nil {
		t.Fatalf("reset without --yes must refuse")
	}
	out, err := run(t, "reset", "--yes", "--db", dbPath)
	if err != nil {
		t.Fatalf("reset failed: %v\n%s", err, out)
	}

	store, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	if n, _ := store.Count(context.Background()); n != 0 {
		t.Fatalf("expected empty store after reset, got %d", n)
	}
}

func TestCLI_ConfigFile(t *testing.T) {
	tmp := quietEnv(t)
	dbPath := filepath.Join(tmp, "nested", "cfg.db")
	cfgPath := filepath.Join(tmp, "wordfamily.yaml")
	if err := os.WriteFile(cfgPath, []byte("db_path: "+dbPath+"\nwindow:\n  page_size: 20\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "stats", "--config", cfgPath)
	if err != nil {
		t.Fatalf("stats failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "source: bundled") {
		t.Fatalf("a fresh database should fall back to the bundle:\n%s", out)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("database not created at the configured path: %v", err)
	}

	bad := filepath.Join(tmp, "bad.yaml")
	if err := os.WriteFile(bad, []byte("window:\n  page_size: 900\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "stats", "--config", bad); err == nil {
		t.Fatalf("expected validation error")
	}
}
