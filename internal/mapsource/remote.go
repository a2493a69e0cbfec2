package mapsource

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"

	"github.com/joeblew999/geo-coverage/internal/coverage"
)

// maxResponseSize caps the GeoJSON body read from the map service.
const maxResponseSize = 64 << 20

// RemoteOptions configures the remote map service client.
type RemoteOptions struct {
	BaseURL string
	Timeout time.Duration
	Tokens  TokenSource
	Client  *http.Client
}

// Remote posts map options to {base}/map and reads back a GeoJSON
// FeatureCollection.
type Remote struct {
	url    string
	client *http.Client
	tokens TokenSource
}

// NewRemote creates a remote map source.
func NewRemote(opts RemoteOptions) *Remote {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 2 * time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Remote{
		url:    strings.TrimRight(opts.BaseURL, "/") + "/map",
		client: client,
		tokens: opts.Tokens,
	}
}

// Map implements coverage.MapSource.
func (m *Remote) Map(ctx context.Context, opts coverage.MapOptions) (*coverage.MapData, error) {
	if opts.Roads == nil {
		opts.Roads = []string{}
	}
	body, err := json.Marshal(opts)
	if err != nil {
		return nil, eris.Wrap(err, "mapsource: encode options")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "mapsource: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/geo+json, application/json")
	if m.tokens != nil {
		if token := m.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "mapsource: request")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, eris.Errorf("mapsource: %s returned status %d", m.url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, eris.Wrap(err, "mapsource: read response")
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, eris.Wrap(err, "mapsource: parse geojson")
	}
	return coverage.NewMapData(fc), nil
}
