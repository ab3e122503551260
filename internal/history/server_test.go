package history

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/chatstudio/internal/config"
	"github.com/soyeahso/chatstudio/internal/logging"
)

// testAPI spins up the full handler chain over an in-memory repository
// and returns a client pointed at it.
func testAPI(t *testing.T) (*Client, *httptest.Server) {
	t.Helper()
	log := logging.New(nil, "silent")
	srv := NewServer(config.HistoryConfig{}, testRepo(t), log)
	mux := http.NewServeMux()
	srv.registerRoutes(mux)
	ts := httptest.NewServer(withMiddleware(mux, log, nil))
	t.Cleanup(ts.Close)
	return NewClient(ts.URL, log), ts
}

func TestServerRoundTrip(t *testing.T) {
	client, _ := testAPI(t)
	ctx := context.Background()

	start := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	end := start.Add(5 * time.Minute)
	rec := sampleRecord("trip planning", start)
	rec.EndTime = &end

	created, err := client.Create(ctx, rec)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "trip planning", created.Topic)

	got, err := client.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "hello", got.Messages[0].Message)
	require.NotNil(t, got.EndTime)
	assert.True(t, got.EndTime.Equal(end))

	recs, err := client.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, created.ID, recs[0].ID)

	deleted, err := client.Delete(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, deleted.ID)

	_, err = client.Get(ctx, created.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestServerDomainFailuresKeepHTTP200(t *testing.T) {
	_, ts := testAPI(t)

	// Missing record travels as HTTP 200 with success:false.
	resp, err := http.Get(ts.URL + "/api/chatHistory/absent")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, codeNotFound, env.Error.Code)
	assert.Equal(t, "chat history not found", env.Error.Message)
}

func TestServerValidationEnvelope(t *testing.T) {
	client, _ := testAPI(t)

	rec := sampleRecord("incomplete", time.Now().UTC())
	rec.UserID = ""

	_, err := client.Create(context.Background(), rec)
	var aerr *APIError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, codeValidation, aerr.Code)
	assert.Contains(t, aerr.Message, "userId")
}

func TestServerUnknownRoute(t *testing.T) {
	_, ts := testAPI(t)

	resp, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.False(t, env.Success)
}

func TestClientTransportFailure(t *testing.T) {
	log := logging.New(nil, "silent")
	client := NewClient("http://127.0.0.1:1", log)

	_, err := client.List(context.Background())
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestClientUnparseableResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>gateway error</html>"))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, logging.New(nil, "silent"))
	_, err := client.List(context.Background())
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestResolveBindAddr(t *testing.T) {
	cases := []struct {
		cfg  config.HistoryConfig
		want string
	}{
		{config.HistoryConfig{Bind: "loopback", Port: 18990}, "127.0.0.1:18990"},
		{config.HistoryConfig{Bind: "lan", Port: 9000}, "0.0.0.0:9000"},
		{config.HistoryConfig{Bind: "custom", CustomBindHost: "10.0.0.5", Port: 8080}, "10.0.0.5:8080"},
		{config.HistoryConfig{Bind: "custom", Port: 8080}, "0.0.0.0:8080"},
		{config.HistoryConfig{Port: 1234}, "127.0.0.1:1234"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, resolveBindAddr(tc.cfg))
	}
}

func TestCORSHeaders(t *testing.T) {
	log := logging.New(nil, "silent")
	srv := NewServer(config.HistoryConfig{}, testRepo(t), log)
	mux := http.NewServeMux()
	srv.registerRoutes(mux)
	ts := httptest.NewServer(withMiddleware(mux, log, []string{"https://studio.example.com"}))
	defer ts.Close()

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/chatHistory", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://studio.example.com")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://studio.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}
