package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/japaniel/wordfamily/pkg/vocab"
)

// ErrUnavailable is returned when no remote service is configured.
var ErrUnavailable = errors.New("remote vocabulary service unavailable")

// StatusError reports a non-2xx response or a {"success": false} envelope.
type StatusError struct {
	Method string
	Path   string
	Status int
	Msg    string
}

func (e *StatusError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Msg)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
}

// maxResponseSize bounds a single JSON response.
const maxResponseSize = 8 * 1024 * 1024

// Client talks to the remote vocabulary REST service. Every call is bounded
// by Timeout; an expired timeout is an ordinary error.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	Timeout time.Duration
}

// New returns a client for baseURL (e.g. "http://host/api"). An empty baseURL
// yields nil, meaning "no remote configured".
func New(baseURL, token string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{BaseURL: baseURL, Token: token, HTTP: &http.Client{}, Timeout: timeout}
}

type envelope struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Message    string          `json:"message,omitempty"`
	Pagination *struct {
		HasMore bool `json:"hasMore"`
	} `json:"pagination,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}) (*envelope, error) {
	if c == nil {
		return nil, ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: method, Path: path, Status: resp.StatusCode, Msg: env.Message}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%s %s: decode: %w", method, path, decodeErr)
	}
	if !env.Success {
		return nil, &StatusError{Method: method, Path: path, Status: resp.StatusCode, Msg: orDefault(env.Message, "success=false")}
	}
	return &env, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func levelQuery(q url.Values, level vocab.Level) url.Values {
	if !level.IsAll() {
		q.Set("level", string(level))
	}
	return q
}

// ListWords fetches one page. hasMore is the server's own flag.
func (c *Client) ListWords(ctx context.Context, r vocab.Range) ([]vocab.WordRecord, bool, error) {
	q := url.Values{}
	q.Set("startFrom", strconv.Itoa(r.StartFrom))
	q.Set("limit", strconv.Itoa(r.Limit))
	env, err := c.do(ctx, http.MethodGet, "/words", levelQuery(q, r.Level), nil)
	if err != nil {
		return nil, false, err
	}
	words := []vocab.WordRecord{}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &words); err != nil {
			return nil, false, fmt.Errorf("decode words: %w", err)
		}
	}
	hasMore := false
	if env.Pagination != nil {
		hasMore = env.Pagination.HasMore
	}
	return words, hasMore, nil
}

// FirstUnlearned asks where the user should start. A null payload yields nil.
func (c *Client) FirstUnlearned(ctx context.Context, level vocab.Level) (*vocab.FirstUnlearned, error) {
	env, err := c.do(ctx, http.MethodGet, "/words/first-unlearned", levelQuery(url.Values{}, level), nil)
	if err != nil {
		return nil, err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, nil
	}
	var fu vocab.FirstUnlearned
	if err := json.Unmarshal(env.Data, &fu); err != nil {
		return nil, fmt.Errorf("decode first unlearned: %w", err)
	}
	if fu.WordID <= 0 {
		return nil, nil
	}
	return &fu, nil
}

// Counts fetches aggregate progress.
func (c *Client) Counts(ctx context.Context) (vocab.Counts, error) {
	var out vocab.Counts
	env, err := c.do(ctx, http.MethodGet, "/words/counts", nil, nil)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return out, fmt.Errorf("decode counts: %w", err)
	}
	return out, nil
}

// Stats fetches progress by level and difficulty.
func (c *Client) Stats(ctx context.Context) (vocab.Stats, error) {
	var out vocab.Stats
	env, err := c.do(ctx, http.MethodGet, "/words/stats", nil, nil)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return out, fmt.Errorf("decode stats: %w", err)
	}
	return out, nil
}

// SetLearned propagates a toggle. Only the word id and the flag are sent.
func (c *Client) SetLearned(ctx context.Context, wordID int, learned bool) error {
	_, err := c.do(ctx, http.MethodPost, "/learned-words/"+strconv.Itoa(wordID), nil, map[string]bool{"learned": learned})
	return err
}
