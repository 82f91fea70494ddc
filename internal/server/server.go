// Package server exposes a docs.Store over HTTP: rendered pages with ETag
// revalidation, a JSON API for the index and per-field cache status, cache
// invalidation endpoints, and a websocket feed of store events.
package server

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/river-now/lazyfield/internal/docs"
	"github.com/river-now/lazyfield/kit/colorlog"
	"github.com/river-now/lazyfield/kit/middleware/secureheaders"
)

var serverLog = colorlog.New("server")

type Options struct {
	// Dev enables the override endpoint.
	Dev bool
	// IndexTimeout bounds how long a request waits for the index to build.
	// The build is abandoned, not finished in the background.
	IndexTimeout time.Duration
	PingInterval time.Duration
	Logger       *slog.Logger
}

type Server struct {
	store    *docs.Store
	opts     Options
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func New(store *docs.Store, opts Options) *Server {
	if opts.IndexTimeout <= 0 {
		opts.IndexTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = serverLog
	}
	return &Server{
		store: store,
		opts:  opts,
		log:   opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RequestLogger(&chimw.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(s.log.Handler(), slog.LevelInfo),
		NoColor: true,
	}))
	r.Use(chimw.Recoverer)
	r.Use(secureheaders.Middleware)
	r.Use(chimw.Heartbeat("/healthz"))

	r.Get("/", s.handleHome)
	r.Get("/docs/*", s.handleDoc)
	r.Get("/ws", s.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/index", s.handleIndex)
		r.Get("/docs/*", s.handleDocJSON)
		r.Get("/status", s.handleStatusAll)
		r.Get("/status/*", s.handleStatus)
		r.Delete("/cache", s.handleClearAll)
		r.Delete("/cache/*", s.handleClear)
		if s.opts.Dev {
			r.Put("/override/*", s.handleOverride)
		}
	})

	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("server stopped")
	return nil
}

/////////////////////////////////////////////////////////////////////
/////// HTML
/////////////////////////////////////////////////////////////////////

var pageTmpl = template.Must(template.New("page").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
{{- with .Description}}
<meta name="description" content="{{.}}">
{{- end}}
</head>
<body>
<main>{{.Body}}</main>
</body>
</html>
`))

var homeTmpl = template.Must(template.New("home").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>Docs</title></head>
<body>
<ul>
{{- range .}}
<li><a href="/docs/{{.Path}}">{{or .Title .Path}}</a>{{with .Error}} ({{.}}){{end}}</li>
{{- end}}
</ul>
</body>
</html>
`))

type pageData struct {
	Title       string
	Description string
	Body        template.HTML
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	entries, ok := s.entries(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := homeTmpl.Execute(w, entries); err != nil {
		s.log.Error("error rendering home", "error", err)
	}
}

func (s *Server) handleDoc(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookup(w, r)
	if !ok {
		return
	}
	page, err := d.Page()
	if err != nil {
		s.docError(w, err)
		return
	}
	body, err := d.HTML()
	if err != nil {
		s.docError(w, err)
		return
	}
	etag, _ := d.ETag()

	// "no-cache" rather than "no-store" so clients still revalidate with
	// the ETag.
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("ETag", etag)
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err = pageTmpl.Execute(w, pageData{
		Title:       page.Title,
		Description: page.Description,
		Body:        template.HTML(body),
	})
	if err != nil {
		s.log.Error("error rendering page", "path", d.Path(), "error", err)
	}
}
