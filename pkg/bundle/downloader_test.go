package bundle

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

const tinyDataset = `[{"id":"x1","wordId":2,"word":"beta","level":"A2"},{"id":"x0","wordId":1,"word":"alpha","level":"A1"}]`

func TestEnsure_LocalCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.json")
	if err := os.WriteFile(path, []byte(tinyDataset), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	// The file exists, so the (unreachable) url is never used.
	if err := Ensure(context.Background(), path, "http://127.0.0.1:1/never"); err != nil {
		t.Fatalf("Ensure failed with local file: %v", err)
	}
}

func TestEnsure_DownloadsPlainAndGzip(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path == "/words.json.gz" {
			gz := gzip.NewWriter(w)
			gz.Write([]byte(tinyDataset))
			gz.Close()
			return
		}
		w.Write([]byte(tinyDataset))
	}))
	defer srv.Close()

	for _, name := range []string{"words.json", "words.json.gz"} {
		path := filepath.Join(t.TempDir(), "nested", "words.json")
		if err := Ensure(context.Background(), path, srv.URL+"/"+name); err != nil {
			t.Fatalf("%s: ensure: %v", name, err)
		}
		ds, err := Load(path)
		if err != nil {
			t.Fatalf("%s: load: %v", name, err)
		}
		if ds.Len() != 2 || ds.Words()[0].Word != "alpha" {
			t.Fatalf("%s: unexpected dataset %+v", name, ds.Words())
		}
	}
	if hits != 2 {
		t.Fatalf("expected 2 downloads, got %d", hits)
	}
}

func TestEnsure_RejectsBadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()
	path := filepath.Join(t.TempDir(), "words.json")
	if err := Ensure(context.Background(), path, srv.URL); err == nil {
		t.Fatal("expected error for invalid payload")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("invalid download must not leave a file behind")
	}
}

func TestEnsure_MissingWithoutURL(t *testing.T) {
	if err := Ensure(context.Background(), filepath.Join(t.TempDir(), "none.json"), ""); err == nil {
		t.Fatal("expected error without url")
	}
}
