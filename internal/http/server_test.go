package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saldo/internal/cache"
	"saldo/internal/feed"
	"saldo/internal/observability"
	"saldo/internal/services"
	"saldo/internal/storage"
)

func newTestServer(t *testing.T, rateLimit int) *Server {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "saldo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	broker := feed.NewBroker()
	notifier := services.NewNotifier(broker, nil)
	users := services.NewUserService(repo, cache.NewLRUCache[string](10, time.Minute), notifier)
	loader := feed.NewLoader(repo, users)
	f := feed.New(loader, broker, feed.Config{Debounce: 10 * time.Millisecond, MaxWait: 50 * time.Millisecond})
	metrics := observability.NewMetrics()

	return NewServer(":0", Deps{
		Groups:             services.NewGroupService(repo, notifier),
		Expenses:           services.NewExpenseService(repo, repo, notifier),
		Users:              users,
		Balances:           services.NewBalanceService(loader, f, metrics),
		DB:                 repo,
		Metrics:            metrics,
		RateLimitPerMinute: rateLimit,
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func createGroup(t *testing.T, h http.Handler, members ...string) groupResponse {
	t.Helper()
	body, err := json.Marshal(map[string]any{"name": "Trip", "members": members})
	require.NoError(t, err)
	rr := do(t, h, http.MethodPost, "/groups", string(body))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[groupResponse](t, rr)
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t, 100)

	rr := do(t, s.Handler, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, rr)["status"])
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = do(t, s.Handler, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ready", decode[map[string]any](t, rr)["status"])
}

func TestGroups_CRUD(t *testing.T) {
	s := newTestServer(t, 100)
	h := s.Handler

	g := createGroup(t, h, "A", "B")
	assert.Equal(t, []string{"A", "B"}, g.Members)
	assert.Equal(t, "0.00", g.Total)

	rr := do(t, h, http.MethodGet, "/groups/"+g.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Trip", decode[groupResponse](t, rr).Name)

	rr = do(t, h, http.MethodPut, "/groups/"+g.ID, `{"name":"Flat","description":"rent","members":["A","C"]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, []string{"A", "C"}, decode[groupResponse](t, rr).Members)

	rr = do(t, h, http.MethodGet, "/groups?user=C", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]groupResponse](t, rr), 1)

	rr = do(t, h, http.MethodGet, "/groups?user=B", "")
	assert.Empty(t, decode[[]groupResponse](t, rr))

	rr = do(t, h, http.MethodDelete, "/groups/"+g.ID, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, h, http.MethodGet, "/groups/"+g.ID, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGroups_Validation(t *testing.T) {
	s := newTestServer(t, 100)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantField  string
	}{
		{name: "missing name", body: `{"members":["A"]}`, wantStatus: http.StatusBadRequest, wantField: "name"},
		{name: "no members", body: `{"name":"Trip","members":[]}`, wantStatus: http.StatusBadRequest, wantField: "members"},
		{name: "unknown field", body: `{"name":"Trip","members":["A"],"owner":"A"}`, wantStatus: http.StatusBadRequest},
		{name: "malformed JSON", body: `{"name":`, wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, s.Handler, http.MethodPost, "/groups", tt.body)
			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantField != "" {
				body := decode[errorBody](t, rr)
				assert.Contains(t, body.Details, tt.wantField)
			}
		})
	}
}

func TestExpenses_CreateListDelete(t *testing.T) {
	s := newTestServer(t, 100)
	h := s.Handler
	g := createGroup(t, h, "A", "B")

	rr := do(t, h, http.MethodPost, "/groups/"+g.ID+"/expenses",
		`{"description":"Pizza","amount":"12,50","payer":"A","participants":["A","B"]}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	e := decode[expenseResponse](t, rr)
	assert.Equal(t, "12.50", e.Amount)
	assert.Equal(t, g.ID, e.GroupID)

	rr = do(t, h, http.MethodGet, "/groups/"+g.ID+"/expenses", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]expenseResponse](t, rr), 1)

	rr = do(t, h, http.MethodGet, "/groups/"+g.ID, "")
	assert.Equal(t, "12.50", decode[groupResponse](t, rr).Total)

	rr = do(t, h, http.MethodDelete, "/groups/"+g.ID+"/expenses/"+e.ID, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, h, http.MethodGet, "/groups/"+g.ID+"/expenses", "")
	assert.Empty(t, decode[[]expenseResponse](t, rr))
}

func TestExpenses_Errors(t *testing.T) {
	s := newTestServer(t, 100)
	g := createGroup(t, s.Handler, "A", "B")

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
	}{
		{name: "payer not a member", path: "/groups/" + g.ID + "/expenses",
			body: `{"description":"x","amount":10,"payer":"Z","participants":["A"]}`, wantStatus: http.StatusBadRequest},
		{name: "bad amount", path: "/groups/" + g.ID + "/expenses",
			body: `{"description":"x","amount":"ten","payer":"A","participants":["A"]}`, wantStatus: http.StatusBadRequest},
		{name: "missing payer", path: "/groups/" + g.ID + "/expenses",
			body: `{"description":"x","amount":10,"participants":["A"]}`, wantStatus: http.StatusBadRequest},
		{name: "not an object", path: "/groups/" + g.ID + "/expenses",
			body: `[1,2]`, wantStatus: http.StatusBadRequest},
		{name: "unknown group", path: "/groups/missing/expenses",
			body: `{"description":"x","amount":10,"payer":"A","participants":["A"]}`, wantStatus: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, s.Handler, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
		})
	}

	rr := do(t, s.Handler, http.MethodDelete, "/groups/"+g.ID+"/expenses/missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	body := `{"id":"dup","description":"x","amount":10,"payer":"A","participants":["A","B"]}`
	rr = do(t, s.Handler, http.MethodPost, "/groups/"+g.ID+"/expenses", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	rr = do(t, s.Handler, http.MethodPost, "/groups/"+g.ID+"/expenses", body)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestBalances(t *testing.T) {
	s := newTestServer(t, 100)
	h := s.Handler

	rr := do(t, h, http.MethodPut, "/users/A", `{"displayName":"Ana"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	g := createGroup(t, h, "A", "B", "C")
	rr = do(t, h, http.MethodPost, "/groups/"+g.ID+"/expenses",
		`{"description":"Dinner","amount":300,"payer":"A","participants":["A","B","C"]}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	other := createGroup(t, h, "D", "E")
	rr = do(t, h, http.MethodPost, "/groups/"+other.ID+"/expenses",
		`{"description":"Taxi","amount":10,"payer":"D","participants":["D","E"]}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = do(t, h, http.MethodGet, "/balances", "")
	require.Equal(t, http.StatusOK, rr.Code)
	all := decode[balancesResponse](t, rr)
	assert.Equal(t, "global", all.Scope)
	require.Len(t, all.Rows, 5)
	assert.Equal(t, "B", all.Rows[0].UserID)
	assert.Equal(t, "E", all.Rows[2].UserID)
	assert.Equal(t, "Ana", all.Rows[3].DisplayName)
	assert.Equal(t, int64(200), all.Rows[3].Balance)
	assert.Equal(t, int64(5), all.Rows[4].Balance)

	rr = do(t, h, http.MethodGet, "/balances?user=E", "")
	scoped := decode[balancesResponse](t, rr)
	assert.Equal(t, "user:E", scoped.Scope)
	assert.Len(t, scoped.Rows, 2)

	rr = do(t, h, http.MethodGet, "/balances/B", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(-100), decode[services.UserBalance](t, rr).Balance)

	rr = do(t, h, http.MethodGet, "/balances/B?scope=groups", "")
	assert.Equal(t, int64(-100), decode[services.UserBalance](t, rr).Balance)

	rr = do(t, h, http.MethodGet, "/balances/nobody", "")
	assert.Equal(t, int64(0), decode[services.UserBalance](t, rr).Balance)

	rr = do(t, h, http.MethodGet, "/balances/B?scope=everything", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
}

func TestUsers_Validation(t *testing.T) {
	s := newTestServer(t, 100)
	rr := do(t, s.Handler, http.MethodPut, "/users/A", `{"displayName":""}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, 2)
	for i := 0; i < 2; i++ {
		rr := do(t, s.Handler, http.MethodGet, "/balances", "")
		require.Equal(t, http.StatusOK, rr.Code)
	}
	rr := do(t, s.Handler, http.MethodGet, "/balances", "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	rr = do(t, s.Handler, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code, "health checks are not rate limited")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, 100)
	do(t, s.Handler, http.MethodGet, "/balances", "")

	rr := do(t, s.Handler, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `saldo_http_requests_total{code="200",route="/balances"} 1`)
	assert.Contains(t, rr.Body.String(), `saldo_balance_recompute_seconds_count{scope="global"} 1`)
}

type sseEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.name != "" {
				return ev
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestBalanceStream(t *testing.T) {
	s := newTestServer(t, 100)
	ts := httptest.NewServer(s.Handler)
	defer ts.Close()

	g := createGroup(t, s.Handler, "A", "B")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/balances/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first := readEvent(t, reader)
	assert.Equal(t, "balances", first.name)
	assert.JSONEq(t, `{"scope":"global","rows":[]}`, first.data)

	rr := do(t, s.Handler, http.MethodPost, "/groups/"+g.ID+"/expenses",
		`{"description":"Lunch","amount":"50","payer":"A","participants":["A","B"]}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	for {
		ev := readEvent(t, reader)
		require.Equal(t, "balances", ev.name)
		var body balancesResponse
		require.NoError(t, json.Unmarshal([]byte(ev.data), &body))
		if len(body.Rows) == 2 {
			assert.Equal(t, int64(-25), body.Rows[0].Balance)
			assert.Equal(t, int64(25), body.Rows[1].Balance)
			return
		}
	}
}
