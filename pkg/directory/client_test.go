package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"blockgraph/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *observer.ObservedLogs) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	core, logs := observer.New(zapcore.DebugLevel)
	return NewClient(server.URL, 10, server.Client(), zap.New(core)), logs
}

func TestFetchRosterSendsAuthenticatedRequest(t *testing.T) {
	var gotAuth, gotCount, gotPath string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCount = r.URL.Query().Get("count")
		gotPath = r.URL.Path
		w.Write([]byte(`{"instances":[]}`))
	})

	roster, err := client.FetchRoster(context.Background(), "k3y")
	require.NoError(t, err)
	assert.Empty(t, roster)
	assert.Equal(t, "Bearer k3y", gotAuth)
	assert.Equal(t, "10", gotCount)
	assert.Equal(t, listPath, gotPath)
}

func TestFetchRosterParsesUsers(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"instances":[
			{"name":"a.example","users":"10"},
			{"name":"b.example","users":"bad"},
			{"name":"c.example","users":42},
			{"name":"d.example"},
			{"name":"","users":"5"},
			{"name":"a.example","users":"99"}
		]}`))
	})

	roster, err := client.FetchRoster(context.Background(), "k")
	require.NoError(t, err)

	assert.Equal(t, []types.Instance{
		{Name: "a.example", Users: 10},
		{Name: "b.example", Users: 0},
		{Name: "c.example", Users: 42},
		{Name: "d.example", Users: 0},
	}, roster)
}

func TestFetchRosterDegradesToEmpty(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		logText string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad token"}`, "Need new API key"},
		{"server error", http.StatusInternalServerError, "", "Unexpected directory response"},
		{"bad envelope", http.StatusOK, `{"instances": "nope"}`, "Failed to parse instance list"},
		{"not json", http.StatusOK, `<html>`, "Failed to parse instance list"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, logs := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			roster, err := client.FetchRoster(context.Background(), "k")
			require.NoError(t, err)
			assert.NotNil(t, roster)
			assert.Empty(t, roster)
			assert.Equal(t, 1, logs.FilterMessage(tt.logText).Len())
		})
	}
}

func TestFetchRosterTransportErrorIsReturned(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(url, 10, nil, nil)
	roster, err := client.FetchRoster(context.Background(), "k")
	require.Error(t, err)
	assert.Nil(t, roster)
	assert.Contains(t, err.Error(), "failed to list instances")
}

func TestParseUsers(t *testing.T) {
	tests := []struct {
		in   interface{}
		want int
	}{
		{"10", 10},
		{" 7 ", 7},
		{"bad", 0},
		{"", 0},
		{"1.5", 0},
		{float64(3), 3},
		{float64(3.5), 0},
		{json.Number("12"), 12},
		{nil, 0},
		{true, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseUsers(tt.in), "input %#v", tt.in)
	}
}
