package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/japaniel/wordfamily/pkg/bundle"
	"github.com/japaniel/wordfamily/pkg/db"
	"github.com/japaniel/wordfamily/pkg/logger"
	"github.com/japaniel/wordfamily/pkg/server"
	"github.com/japaniel/wordfamily/pkg/server/servertest"
	"github.com/japaniel/wordfamily/pkg/vocab"
)

type listResponse struct {
	Success    bool               `json:"success"`
	Data       []vocab.WordRecord `json:"data"`
	Pagination struct {
		HasMore bool `json:"hasMore"`
		Limit   int  `json:"limit"`
	} `json:"pagination"`
}

func get(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestListWordsExactHasMore(t *testing.T) {
	srv := servertest.New(t, servertest.Words(1, 100))

	var page listResponse
	if code := get(t, srv.BaseURL()+"/words?startFrom=51&limit=50", &page); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if !page.Success || len(page.Data) != 50 || page.Data[0].WordID != 51 {
		t.Fatalf("unexpected page: success=%v len=%d", page.Success, len(page.Data))
	}
	// Exactly at the end: the server knows there is nothing after word 100.
	if page.Pagination.HasMore {
		t.Fatalf("expected hasMore=false on the last full page")
	}

	get(t, srv.BaseURL()+"/words?startFrom=1&limit=50", &page)
	if !page.Pagination.HasMore {
		t.Fatalf("expected hasMore=true on the first page")
	}

	get(t, srv.BaseURL()+"/words?startFrom=1&limit=5000", &page)
	if page.Pagination.Limit != 200 || len(page.Data) != 100 {
		t.Fatalf("limit not clamped: %d / %d", page.Pagination.Limit, len(page.Data))
	}

	get(t, srv.BaseURL()+"/words?startFrom=1&limit=10&level=b1", &page)
	for _, w := range page.Data {
		if w.Level != vocab.LevelB1 {
			t.Fatalf("level filter leaked %s", w.Level)
		}
	}
}

func TestListWordsValidation(t *testing.T) {
	srv := servertest.New(t, servertest.Words(1, 3))
	for _, q := range []string{"startFrom=x", "limit=y", "level=Z9"} {
		var env server.ErrorEnvelope
		if code := get(t, srv.BaseURL()+"/words?"+q, &env); code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", q, code)
		}
		if env.Success || env.Message == "" {
			t.Fatalf("%s: unexpected envelope %+v", q, env)
		}
	}
}

func TestFirstUnlearnedCountsAndToggle(t *testing.T) {
	srv := servertest.New(t, servertest.Words(1, 12))
	post := func(path, body string) int {
		resp, err := http.Post(srv.BaseURL()+path, "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := post("/learned-words/1", `{"learned": true}`); code != http.StatusOK {
		t.Fatalf("toggle: status %d", code)
	}
	if code := post("/learned-words/999", `{"learned": true}`); code != http.StatusNotFound {
		t.Fatalf("unknown word: status %d", code)
	}
	if code := post("/learned-words/2", `{}`); code != http.StatusBadRequest {
		t.Fatalf("missing flag: status %d", code)
	}

	var fu struct {
		Data *vocab.FirstUnlearned `json:"data"`
	}
	get(t, srv.BaseURL()+"/words/first-unlearned", &fu)
	if fu.Data == nil || fu.Data.WordID != 2 {
		t.Fatalf("expected first unlearned 2, got %+v", fu.Data)
	}
	// Word 1 and 7 are A1; 1 is learned.
	get(t, srv.BaseURL()+"/words/first-unlearned?level=A1", &fu)
	if fu.Data == nil || fu.Data.WordID != 7 {
		t.Fatalf("expected A1 first unlearned 7, got %+v", fu.Data)
	}

	var counts struct {
		Data vocab.Counts `json:"data"`
	}
	get(t, srv.BaseURL()+"/words/counts", &counts)
	if counts.Data.TotalWords != 12 || counts.Data.LearnedWords != 1 {
		t.Fatalf("unexpected counts %+v", counts.Data)
	}

	var stats struct {
		Data vocab.Stats `json:"data"`
	}
	get(t, srv.BaseURL()+"/words/stats", &stats)
	if stats.Data.ByLevel["A1"].Learned != 1 || stats.Data.ByLevel["A1"].Total != 2 {
		t.Fatalf("unexpected stats %+v", stats.Data.ByLevel)
	}
}

func TestRequireToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	log := logger.Nop()
	r := server.NewRouter(server.RouterConfig{Log: log, WordHandler: server.NewWordHandler(log, store), HealthHandler: server.NewHealthHandler(), Token: "s3cret"})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/words/counts", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/words/counts", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthcheck: %d %q", rec.Code, rec.Body.String())
	}
}

func TestSeedOnlyFillsEmptyStore(t *testing.T) {
	store, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	ds, err := bundle.Default()
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	ctx := context.Background()
	n, err := server.Seed(ctx, store, ds)
	if err != nil || n != ds.Len() {
		t.Fatalf("seed: n=%d err=%v", n, err)
	}
	n, err = server.Seed(ctx, store, ds)
	if err != nil || n != 0 {
		t.Fatalf("second seed should be a no-op: n=%d err=%v", n, err)
	}
}
