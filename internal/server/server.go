// Package server assembles the coverage HTTP server: the Huma API, the
// Datastar settings stream and the settings page.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/geo-coverage/internal/api"
	"github.com/joeblew999/geo-coverage/internal/api/settings"
	"github.com/joeblew999/geo-coverage/internal/auth"
	"github.com/joeblew999/geo-coverage/internal/catalog"
	"github.com/joeblew999/geo-coverage/internal/config"
	"github.com/joeblew999/geo-coverage/internal/coverage"
	"github.com/joeblew999/geo-coverage/internal/db"
	"github.com/joeblew999/geo-coverage/internal/mapsource"
	"github.com/joeblew999/geo-coverage/internal/service"
	"github.com/joeblew999/geo-coverage/internal/templates"
	"github.com/joeblew999/geo-coverage/web"
)

// VisitorCookie names the cookie that keys a browser's stored redirect path.
const VisitorCookie = "geocoverage_visitor"

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string
	WebDir  string // optional web/ directory; templates are re-read from it on start
	App     *config.Config
}

// Server is the coverage HTTP server.
type Server struct {
	config   Config
	mux      *http.ServeMux
	handler  http.Handler
	humaAPI  huma.API
	db       *sql.DB
	pool     *pgxpool.Pool
	sessions *service.SessionService
	stop     context.CancelFunc
	paths    *auth.PathStore
	pages    *templates.Renderer
}

// New creates a coverage server. The databases the configured drivers need
// are opened here and released by Close.
func New(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, eris.New("server: missing application config")
	}
	app := cfg.App

	fragments, err := templates.New(web.Files, web.FragmentsPattern)
	if err != nil {
		return nil, err
	}
	pages, err := templates.New(web.Files, web.PagesPattern)
	if err != nil {
		return nil, err
	}
	if cfg.WebDir != "" {
		dir := os.DirFS(cfg.WebDir)
		if err := fragments.Reload(dir, web.FragmentsPattern); err != nil {
			return nil, eris.Wrapf(err, "server: load fragments from %s", cfg.WebDir)
		}
		if err := pages.Reload(dir, web.PagesPattern); err != nil {
			return nil, eris.Wrapf(err, "server: load pages from %s", cfg.WebDir)
		}
		zap.L().Info("loaded templates from disk", zap.String("dir", cfg.WebDir))
	}

	s := &Server{
		config: cfg,
		mux:    http.NewServeMux(),
		paths:  auth.NewPathStore(cfg.DataDir),
		pages:  pages,
	}

	catalogs, maps, err := s.openDrivers(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.sessions = service.NewSessionService(
		app.Coverage.Controller(),
		func(t *auth.TokenStore) coverage.Catalog { return catalogs(t) },
		func(t *auth.TokenStore) coverage.MapSource { return maps(t) },
		app.Coverage.MaxSessions,
	)
	reaperCtx, stop := context.WithCancel(context.Background())
	s.stop = stop
	go s.sessions.RunReaper(reaperCtx, app.Coverage.SessionTTL, 0)

	// Create Huma API with humago (pure stdlib) adapter
	humaConfig := huma.DefaultConfig("geo-coverage API", api.Version)
	humaConfig.Info.Description = "Coverage configuration sessions: dataset selection, latitude/longitude guessing and debounced map fetches."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())
	s.humaAPI = humago.New(s.mux, humaConfig)

	huma.AutoRegister(s.humaAPI, api.NewAPIHandler(&api.Services{Sessions: s.sessions}))
	api.NewInfoHandler(cfg.DataDir, app.Catalog.Driver, app.MapSource.Driver, s.db != nil).RegisterRoutes(s.humaAPI)
	settings.New(s.sessions, fragments).RegisterRoutes(s.humaAPI)

	s.mux.HandleFunc("/", s.handleRoot)

	s.handler = cors.Handler(cors.Options{
		AllowedOrigins: app.CORS.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Datastar-Request"},
		ExposedHeaders: []string{"Link"},
		MaxAge:         app.CORS.MaxAge,
	})(s.mux)

	return s, nil
}

func (s *Server) openDrivers(ctx context.Context) (catalog.Factory, mapsource.Factory, error) {
	app := s.config.App

	if app.UsesDuckDB() {
		conn, err := db.Open(db.Config{
			DataDir:    s.config.DataDir,
			Name:       app.DuckDB.Name,
			Extensions: app.DuckDB.Extensions,
		})
		if err != nil {
			return nil, nil, err
		}
		s.db = conn
	}

	catalogOpts := catalog.Options{
		Driver: app.Catalog.Driver,
		DuckDB: s.db,
		Remote: catalog.RemoteOptions{
			BaseURL:           app.Catalog.BaseURL,
			Timeout:           app.Catalog.Timeout,
			RequestsPerSecond: app.Catalog.RequestsPerSecond,
		},
	}
	if app.Catalog.Driver == catalog.DriverPostgres {
		pool, err := pgxpool.New(ctx, app.Catalog.DatabaseURL)
		if err != nil {
			return nil, nil, eris.Wrap(err, "server: open postgres pool")
		}
		s.pool = pool
		catalogOpts.Postgres = pool
	}
	catalogs, err := catalog.NewFactory(catalogOpts)
	if err != nil {
		return nil, nil, err
	}

	maps, err := mapsource.NewFactory(mapsource.Options{
		Driver: app.MapSource.Driver,
		DB:     s.db,
		DuckDB: mapsource.DuckDBOptions{
			Table:     app.MapSource.RoadsTable,
			Tolerance: app.MapSource.Tolerance,
		},
		Remote: mapsource.RemoteOptions{
			BaseURL: app.MapSource.BaseURL,
			Timeout: app.MapSource.Timeout,
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return catalogs, maps, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// OpenAPI returns the OpenAPI spec.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Sessions returns the session service.
func (s *Server) Sessions() *service.SessionService {
	return s.sessions
}

// Close ends every session and closes the databases.
func (s *Server) Close() error {
	if s.stop != nil {
		s.stop()
	}
	if s.sessions != nil {
		s.sessions.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	if s.db != nil {
		return eris.Wrap(s.db.Close(), "server: close duckdb")
	}
	return nil
}

type pageData struct {
	SessionID string
	Signals   string
}

// handleRoot serves the settings page at "/". Any other unmatched GET path
// is remembered for the visitor and redirected to "/", which hands it back
// to the page as the initial path.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if strings.HasPrefix(r.URL.Path, "/api/") {
		http.NotFound(w, r)
		return
	}

	visitor := s.visitor(w, r)
	if r.URL.Path != "/" {
		path := r.URL.Path
		if r.URL.RawQuery != "" {
			path += "?" + r.URL.RawQuery
		}
		if err := s.paths.SetPath(visitor, path); err != nil {
			zap.L().Warn("failed to store redirect path", zap.Error(err))
		}
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	// Only a page load gets a session and consumes the stored path.
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		return
	}

	initialPath, err := s.paths.TakePath(visitor)
	if err != nil {
		zap.L().Warn("failed to clear redirect path", zap.Error(err))
	}

	sess, err := s.sessions.Create()
	if err != nil {
		if eris.Is(err, service.ErrTooManySessions) {
			http.Error(w, "Too many sessions", http.StatusTooManyRequests)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	signals := settings.StateSignals(sess.Controller.Snapshot(), sess.Auth.IsAuthorized(), true)
	signals["path"] = initialPath
	encoded, err := json.Marshal(signals)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	html, err := s.pages.Render("index.html", pageData{SessionID: sess.ID, Signals: string(encoded)})
	if err != nil {
		zap.L().Error("render index", zap.Error(err))
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}

// visitor returns the visitor ID from its cookie, issuing one if absent.
func (s *Server) visitor(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(VisitorCookie); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     VisitorCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}
