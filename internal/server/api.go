package server

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/river-now/lazyfield/internal/docs"
	"github.com/river-now/lazyfield/kit/jsonutil"
)

const maxOverrideBytes = 1 << 20

type docResponse struct {
	Path     string         `json:"path"`
	Page     docs.Page      `json:"page"`
	Headings []docs.Heading `json:"headings"`
	ETag     string         `json:"etag"`
}

type statusResponse struct {
	IndexBuilt bool          `json:"indexBuilt"`
	Docs       []docs.Status `json:"docs"`
}

type clearResponse struct {
	Path    string `json:"path"`
	Field   string `json:"field,omitempty"`
	Cleared bool   `json:"cleared"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	entries, ok := s.entries(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleDocJSON(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookup(w, r)
	if !ok {
		return
	}
	page, err := d.Page()
	if err != nil {
		s.docError(w, err)
		return
	}
	headings, err := d.Headings()
	if err != nil {
		s.docError(w, err)
		return
	}
	etag, _ := d.ETag()
	s.writeJSON(w, http.StatusOK, docResponse{
		Path:     d.Path(),
		Page:     page,
		Headings: headings,
		ETag:     etag,
	})
}

func (s *Server) handleStatusAll(w http.ResponseWriter, r *http.Request) {
	all := s.store.Docs()
	res := statusResponse{
		IndexBuilt: s.store.Index().IsBuilt(),
		Docs:       make([]docs.Status, len(all)),
	}
	for i, d := range all {
		res.Docs[i] = d.Status()
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, d.Status())
}

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	if err := s.store.InvalidateAll(r.Context()); err != nil {
		s.ctxError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, clearResponse{Path: "*", Cleared: true})
}

// handleClear invalidates a whole doc, or with ?field= a single field.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	path := docPath(r)
	field := r.URL.Query().Get("field")

	if field == "" {
		cleared, err := s.store.Invalidate(r.Context(), path)
		if err != nil {
			s.ctxError(w, err)
			return
		}
		if !cleared {
			s.writeError(w, http.StatusNotFound, "no such document")
			return
		}
		s.writeJSON(w, http.StatusOK, clearResponse{Path: path, Cleared: true})
		return
	}

	d, ok := s.lookup(w, r)
	if !ok {
		return
	}
	cleared, err := d.Clear(docs.Field(field))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, clearResponse{Path: path, Field: field, Cleared: cleared})
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookup(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxOverrideBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "error reading body")
		return
	}
	d.Override(body)
	if _, err := s.store.Index().Invalidate(r.Context()); err != nil {
		s.ctxError(w, err)
		return
	}
	etag, _ := d.ETag()
	s.writeJSON(w, http.StatusOK, map[string]string{"path": d.Path(), "etag": etag})
}

/////////////////////////////////////////////////////////////////////
/////// HELPERS
/////////////////////////////////////////////////////////////////////

func docPath(r *http.Request) string {
	return strings.TrimPrefix(chi.URLParam(r, "*"), "/")
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*docs.Doc, bool) {
	d, ok := s.store.Doc(docPath(r))
	if !ok {
		s.writeError(w, http.StatusNotFound, "no such document")
	}
	return d, ok
}

// entries waits for the index, at most IndexTimeout. A request that gives
// up leaves the index unbuilt for the next one.
func (s *Server) entries(w http.ResponseWriter, r *http.Request) ([]docs.Entry, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.IndexTimeout)
	defer cancel()
	entries, err := s.store.Index().Entries(ctx)
	if err != nil {
		s.ctxError(w, err)
		return nil, false
	}
	return entries, true
}

func (s *Server) docError(w http.ResponseWriter, err error) {
	if errors.Is(err, fs.ErrNotExist) {
		s.writeError(w, http.StatusNotFound, "document is gone")
		return
	}
	s.log.Error("error building document", "error", err)
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) ctxError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		s.writeError(w, http.StatusGatewayTimeout, "timed out waiting for the index")
		return
	}
	// The client went away; nobody reads this.
	s.writeError(w, http.StatusServiceUnavailable, err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	if err := jsonutil.Write(w, status, v); err != nil {
		s.log.Error("error writing response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	if err := jsonutil.WriteError(w, status, msg); err != nil {
		s.log.Error("error writing response", "error", err)
	}
}

// etagMatches implements the weak comparison If-None-Match calls for.
func etagMatches(header, etag string) bool {
	if header == "" || etag == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if strings.TrimPrefix(candidate, "W/") == strings.TrimPrefix(etag, "W/") {
			return true
		}
	}
	return false
}
