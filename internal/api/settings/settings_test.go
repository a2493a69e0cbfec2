package settings

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/joeblew999/geo-coverage/internal/auth"
	"github.com/joeblew999/geo-coverage/internal/coverage"
	"github.com/joeblew999/geo-coverage/internal/humastar"
	"github.com/joeblew999/geo-coverage/internal/service"
	"github.com/joeblew999/geo-coverage/internal/templates"
	"github.com/joeblew999/geo-coverage/web"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type stubCatalog struct{}

func (stubCatalog) Tables(ctx context.Context, parent string) ([]string, error) {
	return []string{"a", "b"}, nil
}

func (stubCatalog) Collection(ctx context.Context, table string) (*coverage.Collection, error) {
	return &coverage.Collection{}, nil
}

type stubMaps struct{}

func (stubMaps) Map(ctx context.Context, opts coverage.MapOptions) (*coverage.MapData, error) {
	return coverage.NewMapData(nil), nil
}

// quietController never fires a fetch during a test.
func quietController(t *testing.T) *coverage.Controller {
	t.Helper()
	cfg := coverage.DefaultConfig()
	cfg.InputDelay = time.Hour
	cfg.MapDelay = time.Hour
	c := coverage.New(cfg, stubCatalog{}, stubMaps{})
	t.Cleanup(c.Close)
	return c
}

func newSessions(t *testing.T) *service.SessionService {
	t.Helper()
	cfg := coverage.DefaultConfig()
	cfg.InputDelay = time.Hour
	cfg.MapDelay = time.Hour
	sessions := service.NewSessionService(cfg,
		func(*auth.TokenStore) coverage.Catalog { return stubCatalog{} },
		func(*auth.TokenStore) coverage.MapSource { return stubMaps{} },
		0,
	)
	t.Cleanup(sessions.Close)
	return sessions
}

func newMux(t *testing.T, sessions *service.SessionService) (*http.ServeMux, huma.API) {
	t.Helper()
	renderer, err := templates.New(web.Files, web.FragmentsPattern)
	require.NoError(t, err)

	mux := http.NewServeMux()
	api := humago.New(mux, huma.DefaultConfig("test", "1.0.0"))
	New(sessions, renderer).RegisterRoutes(api)
	return mux, api
}

func TestApplyGroupsSetters(t *testing.T) {
	c := quietController(t)

	Apply(c, humastar.Signals{
		"owner":                 "Acme",
		"table":                 "clinics",
		"latitude":              "lat",
		"region":                "Canada",
		"roads":                 "motorway, trunk",
		"showpoints":            false,
		"colorscalebucketcount": float64(4),
	}, coverage.Indicators{})

	st := c.Snapshot()
	assert.Equal(t, "Acme", st.Source.Owner)
	assert.Equal(t, coverage.DefaultSource().ParentEntity, st.Source.ParentEntity)
	assert.Equal(t, "clinics", st.Source.Table)
	assert.Equal(t, "lat", st.Indicators.Latitude)
	assert.Empty(t, st.Indicators.Longitude)
	assert.Equal(t, "Canada", st.Display.Region)
	assert.Equal(t, []string{"motorway", "trunk"}, st.Display.Roads)
	assert.False(t, st.Display.ShowPoints)
	assert.Equal(t, 4, st.Display.ColorScaleBucketCount)
	assert.Equal(t, coverage.DefaultSubregion, st.Display.Subregion)
}

func TestApplyIgnoresAbsentAndInvalidSignals(t *testing.T) {
	c := quietController(t)
	before := c.Snapshot()

	Apply(c, humastar.Signals{"colorscalebucketcount": float64(0), "unrelated": "x"}, before.Indicators)

	after := c.Snapshot()
	assert.Equal(t, before.Source, after.Source)
	assert.Equal(t, before.Indicators, after.Indicators)
	assert.Equal(t, before.Display, after.Display)
}

func TestApplyUnchangedDoesNotNotify(t *testing.T) {
	c := quietController(t)
	st := c.Snapshot()

	calls := 0
	unsubscribe := c.Subscribe(func(coverage.State) { calls++ })
	defer unsubscribe()

	Apply(c, humastar.Signals{
		"owner":  st.Source.Owner,
		"region": st.Display.Region,
		"roads":  strings.Join(st.Display.Roads, ","),
	}, st.Indicators)
	assert.Zero(t, calls)
}

func TestApplyKeepsIndicatorsThePageHasNotSeen(t *testing.T) {
	c := quietController(t)
	// A guess lands after the page last received empty indicators.
	c.SetIndicators(coverage.Indicators{Latitude: "lat", Longitude: "lng"})

	Apply(c, humastar.Signals{"latitude": "", "longitude": "", "region": "Canada"}, coverage.Indicators{})
	st := c.Snapshot()
	assert.Equal(t, coverage.Indicators{Latitude: "lat", Longitude: "lng"}, st.Indicators)
	assert.Equal(t, "Canada", st.Display.Region)

	// A value the page picked itself is applied to that axis only.
	Apply(c, humastar.Signals{"latitude": "y", "longitude": ""}, coverage.Indicators{})
	assert.Equal(t, coverage.Indicators{Latitude: "y", Longitude: "lng"}, c.Snapshot().Indicators)

	// Clearing a value the page has seen is honoured.
	Apply(c, humastar.Signals{"latitude": ""}, coverage.Indicators{Latitude: "y", Longitude: "lng"})
	assert.Equal(t, coverage.Indicators{Latitude: "", Longitude: "lng"}, c.Snapshot().Indicators)
}

func TestStateSignals(t *testing.T) {
	st := coverage.State{
		Source:     coverage.DefaultSource(),
		Indicators: coverage.Indicators{Latitude: "lat", Longitude: "lng"},
		Display:    coverage.DefaultDisplay(),
		TablesStatus: coverage.FetchStatus{
			State: coverage.StateFailed,
			Error: "catalog down",
		},
		MapStatus: coverage.FetchStatus{State: coverage.StateFetching, Fetching: true},
	}

	partial := StateSignals(st, true, false)
	assert.Equal(t, "lat", partial["latitude"])
	assert.Equal(t, "lng", partial["longitude"])
	assert.Equal(t, true, partial["authorized"])
	assert.Equal(t, true, partial["mapfetching"])
	assert.Equal(t, false, partial["tablesfetching"])
	assert.Equal(t, "tables: catalog down", partial["error"])
	assert.Equal(t, 0, partial["mapfeatures"])
	assert.NotContains(t, partial, "owner")
	assert.NotContains(t, partial, "region")

	full := StateSignals(st, false, true)
	assert.Equal(t, st.Source.Owner, full["owner"])
	assert.Equal(t, st.Source.Table, full["table"])
	assert.Equal(t, strings.Join(coverage.DefaultRoads, ","), full["roads"])
	assert.Equal(t, st.Display.ColorScaleBucketCount, full["colorscalebucketcount"])
	assert.Equal(t, false, full["authorized"])
}

func TestUpdate(t *testing.T) {
	sessions := newSessions(t)
	sess, err := sessions.Create()
	require.NoError(t, err)

	_, api := newMux(t, sessions)
	tapi := humatest.Wrap(t, api)

	resp := tapi.Post("/api/v1/settings/"+sess.ID, map[string]any{"region": "Mexico"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Contains(t, resp.Header().Get("Content-Type"), "text/event-stream")
	assert.Contains(t, resp.Body.String(), "datastar-patch-signals")
	assert.Equal(t, "Mexico", sess.Controller.Snapshot().Display.Region)

	resp = tapi.Post("/api/v1/settings/missing", map[string]any{"region": "Mexico"})
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestStreamEndsWhenSessionCloses(t *testing.T) {
	sessions := newSessions(t)
	sess, err := sessions.Create()
	require.NoError(t, err)

	mux, _ := newMux(t, sessions)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/settings/"+sess.ID+"/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	var seen strings.Builder
	for !strings.Contains(seen.String(), "#fetch-status") {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		seen.WriteString(line)
	}
	assert.Contains(t, seen.String(), "#table-select")
	assert.Contains(t, seen.String(), `"owner"`)

	require.NoError(t, sessions.Delete(sess.ID))

	rest, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Contains(t, string(rest), "session closed")
}
