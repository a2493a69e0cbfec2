package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/geo-coverage/internal/coverage"
)

func TestRemote_TablesPaginates(t *testing.T) {
	var auths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/datasets/Demo.geo/tables", r.URL.Path)
		auths = append(auths, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("pageToken") {
		case "":
			json.NewEncoder(w).Encode(map[string]any{
				"results":       []map[string]string{{"name": "a"}, {"name": "b"}},
				"nextPageToken": "p2",
			})
		case "p2":
			json.NewEncoder(w).Encode(map[string]any{
				"results": []map[string]string{{"name": "c"}},
			})
		default:
			t.Errorf("unexpected page token %q", r.URL.Query().Get("pageToken"))
		}
	}))
	defer srv.Close()

	c := NewRemote(RemoteOptions{BaseURL: srv.URL, Tokens: staticToken("tok")})
	tables, err := c.Tables(context.Background(), "Demo.geo")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, tables)
	assert.Equal(t, []string{"Bearer tok", "Bearer tok"}, auths)
}

func TestRemote_Anonymous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	tables, err := NewRemote(RemoteOptions{BaseURL: srv.URL, Tokens: staticToken("")}).
		Tables(context.Background(), "Demo.geo")
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestRemote_Collection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/tables/Demo.geo.hospitals/variables", r.URL.Path)
		w.Write([]byte(`{"results":[{"name":"Latitude","type":"float"},{"name":"lng","type":"string"},{"name":"beds","type":"integer"}]}`))
	}))
	defer srv.Close()

	col, err := NewRemote(RemoteOptions{BaseURL: srv.URL}).
		Collection(context.Background(), "Demo.geo.hospitals")
	require.NoError(t, err)
	assert.Equal(t, []coverage.Variable{
		{Name: "Latitude", Type: coverage.TypeFloat},
		{Name: "lng", Type: coverage.TypeString},
		{Name: "beds", Type: coverage.TypeInteger},
	}, col.Variables)
}

func TestRemote_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusNotFound, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := NewRemote(RemoteOptions{BaseURL: srv.URL}).Tables(context.Background(), "Demo.geo")
			require.Error(t, err)
			assert.True(t, eris.Is(err, tt.want))
		})
	}
}

func TestRemote_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewRemote(RemoteOptions{BaseURL: srv.URL}).Collection(context.Background(), "Demo.geo.t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.False(t, eris.Is(err, ErrNotFound))
}

func TestRemote_InvalidReference(t *testing.T) {
	c := NewRemote(RemoteOptions{BaseURL: "http://unused.invalid"})
	_, err := c.Tables(context.Background(), "Demo")
	assert.Error(t, err)
	_, err = c.Collection(context.Background(), "Demo.geo")
	assert.Error(t, err)
}

func TestRemote_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRemote(RemoteOptions{BaseURL: srv.URL, RequestsPerSecond: 1}).Tables(ctx, "Demo.geo")
	assert.Error(t, err)
}

func TestRemote_RepeatedPageToken(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"results":[{"name":"x","type":"float"}],"nextPageToken":"again"}`))
	}))
	defer srv.Close()

	c := NewRemote(RemoteOptions{BaseURL: srv.URL})
	_, err := c.Tables(context.Background(), "Demo.geo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repeated page token")

	_, err = c.Collection(context.Background(), "Demo.geo.t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repeated page token")
	assert.Equal(t, 4, calls)
}

func TestAdvanceCapsPages(t *testing.T) {
	seen := map[string]bool{}
	var err error
	for i := 0; err == nil && i < 2*maxPages; i++ {
		err = advance(seen, fmt.Sprintf("p%d", i))
	}
	require.Error(t, err)
	assert.Len(t, seen, maxPages-1)
}
