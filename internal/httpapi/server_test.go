package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solrunner/walletrank/internal/config"
	"github.com/solrunner/walletrank/internal/taskgraph"
	"github.com/solrunner/walletrank/internal/watchlist"
)

type fakePinger struct{ err error }

func (f *fakePinger) Ping(context.Context) error { return f.err }

type fakePool struct{ active, cooling, burned int }

func (f *fakePool) Counts() (int, int, int) { return f.active, f.cooling, f.burned }
func (f *fakePool) Size() int               { return f.active + f.cooling + f.burned }

type fakeResults struct{ results map[string]string }

func (f *fakeResults) GetJobResult(_ context.Context, jobID string, out interface{}) error {
	raw, ok := f.results[jobID]
	if !ok {
		return errors.New("not found")
	}
	return json.Unmarshal([]byte(raw), out)
}

type fakeQueue struct {
	pushed []*taskgraph.Job
	err    error
}

func (f *fakeQueue) Push(_ context.Context, job *taskgraph.Job) error {
	if f.err != nil {
		return f.err
	}
	f.pushed = append(f.pushed, job)
	return nil
}

func (f *fakeQueue) PushDelayed(ctx context.Context, job *taskgraph.Job, _ time.Duration) error {
	return f.Push(ctx, job)
}

type fakeWatchlist struct {
	entries map[string]*watchlist.Entry
}

func (f *fakeWatchlist) key(user, wallet string) string { return user + "/" + wallet }

func (f *fakeWatchlist) Upsert(_ context.Context, e *watchlist.Entry) error {
	if f.entries == nil {
		f.entries = map[string]*watchlist.Entry{}
	}
	e.ID = int64(len(f.entries) + 1)
	f.entries[f.key(e.UserID, e.Wallet)] = e
	return nil
}

func (f *fakeWatchlist) Get(_ context.Context, user, wallet string) (*watchlist.Entry, error) {
	e, ok := f.entries[f.key(user, wallet)]
	if !ok {
		return nil, watchlist.ErrNotFound
	}
	return e, nil
}

func (f *fakeWatchlist) List(_ context.Context, user string) ([]watchlist.Entry, error) {
	var out []watchlist.Entry
	for _, e := range f.entries {
		if e.UserID == user {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeWatchlist) UpdateScore(_ context.Context, user, wallet, tier string, score float64) error {
	e, ok := f.entries[f.key(user, wallet)]
	if !ok {
		return watchlist.ErrNotFound
	}
	e.Tier, e.Score = tier, score
	return nil
}

func (f *fakeWatchlist) Remove(_ context.Context, user, wallet string) error {
	k := f.key(user, wallet)
	if _, ok := f.entries[k]; !ok {
		return watchlist.ErrNotFound
	}
	delete(f.entries, k)
	return nil
}

func testDeps() Deps {
	cfg := config.Default()
	cfg.Provider.APIKeys = []string{"real-key"}
	return Deps{
		Cfg:       cfg,
		Redis:     &fakePinger{},
		Pool:      &fakePool{active: 3, cooling: 1},
		Results:   &fakeResults{results: map[string]string{}},
		Queue:     &fakeQueue{},
		Watchlist: &fakeWatchlist{},
	}
}

func doRequest(t *testing.T, deps Deps, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("")
	} else {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	NewServer(deps).Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth_OK(t *testing.T) {
	rec := doRequest(t, testDeps(), "GET", "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var hs HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hs))
	assert.Equal(t, "ok", hs.Status)
	assert.Equal(t, 3, hs.KeyPool.Active)
	assert.Equal(t, 4, hs.KeyPool.Total)
	assert.Empty(t, hs.Warnings)
}

func TestHealth_RedisDown(t *testing.T) {
	deps := testDeps()
	deps.Redis = &fakePinger{err: errors.New("connection refused")}

	rec := doRequest(t, deps, "GET", "/health", "")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var hs HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hs))
	assert.Equal(t, "unavailable", hs.Status)
	assert.Contains(t, hs.Redis, "refused")
}

func TestHealth_DegradedOnPlaceholderKeys(t *testing.T) {
	deps := testDeps()
	deps.Cfg.Provider.APIKeys = []string{"changeme"}
	deps.Pool = &fakePool{active: 0, burned: 1}

	rec := doRequest(t, deps, "GET", "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var hs HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hs))
	assert.Equal(t, "degraded", hs.Status)
	assert.NotEmpty(t, hs.Warnings)
}

func TestAnalyze_EnqueuesJob(t *testing.T) {
	deps := testDeps()
	queue := deps.Queue.(*fakeQueue)

	body := `{"tokens":[{"address":"So1abc","ticker":"WIF"}]}`
	rec := doRequest(t, deps, "POST", "/analyze", body)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, queue.pushed, 1)
	assert.Equal(t, taskgraph.QueueCompute, queue.pushed[0].Queue)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, queue.pushed[0].ID, resp["job_id"])
}

func TestAnalyze_RejectsBadRequests(t *testing.T) {
	deps := testDeps()

	rec := doRequest(t, deps, "POST", "/analyze", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, deps, "POST", "/analyze", `{"tokens":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, deps, "POST", "/analyze",
		`{"tokens":[{"address":"0xdead","chain":"ethereum","ticker":"PEPE"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResults(t *testing.T) {
	deps := testDeps()
	deps.Results.(*fakeResults).results["job-1"] = `{"success":true}`

	rec := doRequest(t, deps, "GET", "/results/job-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)

	rec = doRequest(t, deps, "GET", "/results/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWatchlist_CRUD(t *testing.T) {
	deps := testDeps()

	rec := doRequest(t, deps, "POST", "/watchlist/u1", `{"wallet":"w1","label":"runner","tier":"A","score":81}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, deps, "GET", "/watchlist/u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = doRequest(t, deps, "DELETE", "/watchlist/u1/w1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, deps, "DELETE", "/watchlist/u1/w1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWatchlist_DisabledStore(t *testing.T) {
	deps := testDeps()
	deps.Watchlist = nil

	rec := doRequest(t, deps, "GET", "/watchlist/u1", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	rec := doRequest(t, testDeps(), "GET", "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
