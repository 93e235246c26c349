package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/whitead/msgbid/auction"
	"github.com/whitead/msgbid/registry"
	"github.com/whitead/msgbid/store"
)

const testAdminToken = "admin-secret"

// setupBroker builds the full router (CORS, error handlers, lifecycle
// endpoints) over a MemStore. BatchSize 1 makes every submission settle its
// own round so handler tests stay synchronous.
func setupBroker(t *testing.T, mut func(*auction.Config)) (http.Handler, *auction.Engine, *registry.Registry) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := auction.DefaultConfig()
	cfg.BatchSize = 1
	cfg.Timeout = 250 * time.Millisecond
	cfg.AdminToken = testAdminToken
	if mut != nil {
		mut(cfg)
	}

	st := store.NewMemStore()
	engine := auction.NewEngine(cfg, st, log)
	reg := registry.New(st, cfg.StartBal, log)
	broker := NewBrokerHandler(engine, reg, nil, cfg.AdminToken, log)

	srv, err := New(&HTTPServerConfig{
		ListenAddr:   ":0",
		Log:          log,
		ReadTimeout:  time.Second,
		WriteTimeout: 10 * time.Second,
	}, broker)
	require.NoError(t, err)

	return srv.Handler(), engine, reg
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func registerClient(t *testing.T, h http.Handler, name string) *registry.Client {
	t.Helper()
	w := doJSON(t, h, http.MethodPut, "/register", `{"name":"`+name+`"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var client registry.Client
	require.NoError(t, json.NewDecoder(w.Body).Decode(&client))
	return &client
}

func TestRegisterEndpoint(t *testing.T) {
	h, _, _ := setupBroker(t, nil)

	w := doJSON(t, h, http.MethodPut, "/register", `{"name":"Alice"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var client registry.Client
	require.NoError(t, json.NewDecoder(w.Body).Decode(&client))
	require.Len(t, client.Token, registry.TokenLen)
	require.EqualValues(t, 10, client.Balance)
	require.Equal(t, "Alice", client.Name)
	require.Equal(t, client.Token, w.Header().Get("X-Client-Token"))
}

func TestRegisterMissingName(t *testing.T) {
	h, _, _ := setupBroker(t, nil)

	w := doJSON(t, h, http.MethodPut, "/register", `{}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodPut, "/register", `not json`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitSettlesRound(t *testing.T) {
	h, _, _ := setupBroker(t, nil)
	client := registerClient(t, h, "Alice")

	w := doJSON(t, h, http.MethodPost, "/messages", `{"message":"hi","bid":3}`,
		map[string]string{"X-Client-Token": client.Token})
	require.Equal(t, http.StatusOK, w.Code)

	var res auction.BidResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	require.Equal(t, auction.StatusAccepted, res.Status)
	require.Equal(t, "hi", res.Message)
	require.EqualValues(t, 10, res.Balance)
	require.Equal(t, auction.RoundStats{WinBid: 0, SumBid: 3, NBids: 1}, res.Stats)
}

func TestSubmitValidationFailures(t *testing.T) {
	h, _, _ := setupBroker(t, nil)
	client := registerClient(t, h, "Alice")
	authed := map[string]string{"X-Client-Token": client.Token}

	for name, tc := range map[string]struct {
		body string
		hdr  map[string]string
	}{
		"missing token":        {body: `{"message":"hi","bid":1}`},
		"missing message":      {body: `{"bid":1}`, hdr: authed},
		"missing bid":          {body: `{"message":"hi"}`, hdr: authed},
		"zero bid":             {body: `{"message":"hi","bid":0}`, hdr: authed},
		"negative bid":         {body: `{"message":"hi","bid":-2}`, hdr: authed},
		"non-integer bid":      {body: `{"message":"hi","bid":1.5}`, hdr: authed},
		"insufficient balance": {body: `{"message":"hi","bid":11}`, hdr: authed},
		"unknown token": {body: `{"message":"hi","bid":1}`,
			hdr: map[string]string{"X-Client-Token": "deadbeefdeadbeef"}},
	} {
		t.Run(name, func(t *testing.T) {
			w := doJSON(t, h, http.MethodPost, "/messages", tc.body, tc.hdr)
			require.Equal(t, http.StatusBadRequest, w.Code)

			var resp errorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			require.NotEmpty(t, resp.Error)
		})
	}
}

func TestReplayEndpoint(t *testing.T) {
	h, _, _ := setupBroker(t, nil)
	client := registerClient(t, h, "Alice")
	authed := map[string]string{"X-Client-Token": client.Token}

	for _, msg := range []string{"one", "two", "three"} {
		w := doJSON(t, h, http.MethodPost, "/messages", `{"message":"`+msg+`","bid":1}`, authed)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doJSON(t, h, http.MethodGet, "/messages?limit=2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var page auction.ReplayPage
	require.NoError(t, json.NewDecoder(w.Body).Decode(&page))
	require.Len(t, page.Messages, 2)
	require.NotNil(t, page.Next)

	w = doJSON(t, h, http.MethodGet, "/messages?limit=2&end="+*page.Next, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&page))
	require.Len(t, page.Messages, 1)
	require.Nil(t, page.Next)
}

func TestBalanceEndpoint(t *testing.T) {
	h, _, _ := setupBroker(t, nil)
	client := registerClient(t, h, "Alice")

	w := doJSON(t, h, http.MethodGet, "/balance", "",
		map[string]string{"X-Client-Token": client.Token})
	require.Equal(t, http.StatusOK, w.Code)

	var got registry.Client
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	require.EqualValues(t, 10, got.Balance)
	require.Equal(t, "Alice", got.Name)

	w = doJSON(t, h, http.MethodGet, "/balance", "",
		map[string]string{"X-Client-Token": "bogusbogusbogus1"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminAuth(t *testing.T) {
	h, _, _ := setupBroker(t, nil)

	for _, path := range []string{"/clients", "/delete"} {
		w := doJSON(t, h, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusUnauthorized, w.Code, path)

		w = doJSON(t, h, http.MethodGet, path, "",
			map[string]string{"Authorization": "Bearer wrong"})
		require.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestListClientsEndpoint(t *testing.T) {
	h, _, _ := setupBroker(t, nil)
	registerClient(t, h, "Alice")
	registerClient(t, h, "Bob")

	w := doJSON(t, h, http.MethodGet, "/clients?page=1&pageSize=1", "",
		map[string]string{"Authorization": "Bearer " + testAdminToken})
	require.Equal(t, http.StatusOK, w.Code)

	var page registry.ClientPage
	require.NoError(t, json.NewDecoder(w.Body).Decode(&page))
	require.Len(t, page.Clients, 1)
	require.Equal(t, 2, page.Pagination.Total)
	require.Equal(t, 2, page.Pagination.TotalPages)
}

func TestResetEndpoint(t *testing.T) {
	h, _, _ := setupBroker(t, nil)
	client := registerClient(t, h, "Alice")
	authed := map[string]string{"X-Client-Token": client.Token}

	w := doJSON(t, h, http.MethodPost, "/messages", `{"message":"hi","bid":1}`, authed)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/delete", "",
		map[string]string{"Authorization": "Bearer " + testAdminToken})
	require.Equal(t, http.StatusOK, w.Code)

	var res resetResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	require.True(t, res.Success)

	// The old token is gone and the log is empty.
	w = doJSON(t, h, http.MethodGet, "/balance", "", authed)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodGet, "/messages", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page auction.ReplayPage
	require.NoError(t, json.NewDecoder(w.Body).Decode(&page))
	require.Empty(t, page.Messages)

	// A fresh registration starts over at the initial balance.
	fresh := registerClient(t, h, "Carol")
	require.EqualValues(t, 10, fresh.Balance)
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	h, _, _ := setupBroker(t, func(cfg *auction.Config) {
		cfg.AdminToken = ""
	})

	w := doJSON(t, h, http.MethodGet, "/clients", "",
		map[string]string{"Authorization": "Bearer "})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
