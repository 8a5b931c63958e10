// Package servertest runs the reference vocabulary service in-process for
// tests, backed by an in-memory store.
package servertest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/japaniel/wordfamily/pkg/db"
	"github.com/japaniel/wordfamily/pkg/logger"
	"github.com/japaniel/wordfamily/pkg/server"
	"github.com/japaniel/wordfamily/pkg/vocab"
)

// Server is an httptest server speaking the remote vocabulary API.
type Server struct {
	*httptest.Server
	Store *db.Store

	failing  atomic.Bool
	requests atomic.Int64
}

// New starts a server holding words. It is closed by t.Cleanup.
func New(t testing.TB, words []vocab.WordRecord) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open server store: %v", err)
	}
	if err := store.PutWords(context.Background(), words); err != nil {
		t.Fatalf("seed server store: %v", err)
	}
	log := logger.Nop()
	router := server.NewRouter(server.RouterConfig{
		Log:           log,
		WordHandler:   server.NewWordHandler(log, store),
		HealthHandler: server.NewHealthHandler(),
	})
	s := &Server{Store: store}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		if s.failing.Load() {
			http.Error(w, `{"success":false,"message":"unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(func() {
		s.Server.Close()
		store.Close()
	})
	return s
}

// BaseURL is the API root to hand to remote.New.
func (s *Server) BaseURL() string { return s.Server.URL + "/api" }

// SetFailing makes every request answer 503 until reset.
func (s *Server) SetFailing(v bool) { s.failing.Store(v) }

// Requests counts requests received so far, failed ones included.
func (s *Server) Requests() int64 { return s.requests.Load() }

// Words builds records from..to inclusive with levels cycling A1..C2.
func Words(from, to int) []vocab.WordRecord {
	var out []vocab.WordRecord
	for i := from; i <= to; i++ {
		out = append(out, vocab.WordRecord{
			ID:         vocab.RecordID(fmt.Sprintf("srv-%d", i)),
			WordID:     i,
			Word:       fmt.Sprintf("word%03d", i),
			POS:        "noun",
			Level:      vocab.Levels[(i-1)%len(vocab.Levels)],
			Definition: fmt.Sprintf("meaning of word %d", i),
		})
	}
	return out
}
