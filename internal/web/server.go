// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

// Package web exposes the runtime to a hosting render layer over HTTP: the
// resolved tree, application state, action dispatch, mode switching and
// extension administration, plus a websocket stream of tree changes.
package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/oops"

	"github.com/mapshell/mapshell/internal/extension"
	"github.com/mapshell/mapshell/internal/plugin"
	"github.com/mapshell/mapshell/internal/runtime"
	"github.com/mapshell/mapshell/internal/store"
	"github.com/mapshell/mapshell/pkg/errutil"
)

const (
	// DefaultPingInterval is how often idle tree streams are pinged.
	DefaultPingInterval = 30 * time.Second
	// DefaultWriteTimeout bounds one websocket write.
	DefaultWriteTimeout = 10 * time.Second

	maxActionBody = 1 << 20
)

// Server serves the runtime API.
type Server struct {
	rt           *runtime.Runtime
	logger       *slog.Logger
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	writeTimeout time.Duration
	mux          *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithPingInterval sets the tree stream keepalive interval.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) { s.pingInterval = d }
}

// WithCheckOrigin overrides the websocket origin check. The default
// accepts same-origin requests only.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(s *Server) { s.upgrader.CheckOrigin = fn }
}

// NewServer builds the handler set for rt.
func NewServer(rt *runtime.Runtime, opts ...Option) *Server {
	s := &Server{
		rt:           rt,
		logger:       slog.Default(),
		pingInterval: DefaultPingInterval,
		writeTimeout: DefaultWriteTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tree", s.handleTree)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/monitored", s.handleMonitored)
	mux.HandleFunc("POST /api/actions", s.handleAction)
	mux.HandleFunc("GET /api/modes", s.handleModes)
	mux.HandleFunc("PUT /api/mode", s.handleSetMode)
	mux.HandleFunc("GET /api/processors", s.handleProcessors)
	mux.HandleFunc("GET /api/translations", s.handleTranslations)
	mux.HandleFunc("GET /api/extensions", s.handleExtensions)
	mux.HandleFunc("POST /api/extensions/reload", s.handleReload)
	mux.HandleFunc("DELETE /api/extensions/{name}", s.handleUninstall)
	mux.HandleFunc("GET /ws/tree", s.handleTreeStream)
	s.mux = mux
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// TreeView is the JSON shape of a resolved tree.
type TreeView struct {
	Mode       string               `json:"mode"`
	Root       []*plugin.Descriptor `json:"root"`
	Unrendered []string             `json:"unrendered,omitempty"`
	Requested  []string             `json:"requested,omitempty"`
	Ready      bool                 `json:"ready"`
}

func (s *Server) treeView() TreeView {
	v := TreeView{Mode: s.rt.Mode(), Ready: s.rt.Ready()}
	if t := s.rt.Tree(); t != nil {
		v.Root = t.Root
		v.Unrendered = t.Unrendered
		v.Requested = t.Requested
	}
	if v.Root == nil {
		v.Root = []*plugin.Descriptor{}
	}
	return v
}

func (s *Server) handleTree(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.treeView())
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.rt.State())
}

func (s *Server) handleMonitored(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.rt.Monitored())
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var action store.Action
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxActionBody))
	if err := dec.Decode(&action); err != nil {
		s.writeError(w, r, http.StatusBadRequest, ErrBadRequest("invalid action body", err))
		return
	}
	if action.Type == "" {
		s.writeError(w, r, http.StatusBadRequest, ErrBadRequest("action type is required", nil))
		return
	}
	s.rt.Dispatch(r.Context(), action)
	w.WriteHeader(http.StatusAccepted)
}

type modesView struct {
	Current string   `json:"current"`
	Modes   []string `json:"modes"`
}

func (s *Server) handleModes(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, modesView{Current: s.rt.Mode(), Modes: s.rt.Modes()})
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxActionBody)).Decode(&body); err != nil {
		s.writeError(w, r, http.StatusBadRequest, ErrBadRequest("invalid mode body", err))
		return
	}
	if _, err := s.rt.SetMode(r.Context(), body.Mode); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.treeView())
}

func (s *Server) handleProcessors(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.rt.Store().Registrations())
}

type translationsView struct {
	Locale string   `json:"locale"`
	Files  []string `json:"files"`
}

func (s *Server) handleTranslations(w http.ResponseWriter, r *http.Request) {
	c := s.rt.Catalog()
	tag := c.FromRequest(r)
	files := c.Files(tag)
	if files == nil {
		files = []string{}
	}
	s.writeJSON(w, http.StatusOK, translationsView{Locale: tag.String(), Files: files})
}

type extensionsView struct {
	Installed []string `json:"installed"`
	Loaded    []string `json:"loaded"`
}

func (s *Server) extensions(w http.ResponseWriter, r *http.Request) (*extension.Manager, bool) {
	m, err := s.rt.Extensions()
	if err != nil {
		s.writeError(w, r, http.StatusNotFound, err)
		return nil, false
	}
	return m, true
}

func (s *Server) handleExtensions(w http.ResponseWriter, r *http.Request) {
	m, ok := s.extensions(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, extensionsView{Installed: nonNil(m.Installed()), Loaded: nonNil(m.Scripts())})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	m, ok := s.extensions(w, r)
	if !ok {
		return
	}
	if err := m.Refresh(r.Context()); err != nil {
		s.writeError(w, r, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, extensionsView{Installed: nonNil(m.Installed()), Loaded: nonNil(m.Scripts())})
}

func (s *Server) handleUninstall(w http.ResponseWriter, r *http.Request) {
	m, ok := s.extensions(w, r)
	if !ok {
		return
	}
	if err := m.Uninstall(r.Context(), r.PathValue("name")); err != nil {
		status := http.StatusInternalServerError
		if errutil.Code(err) == extension.CodeNotInstalled {
			status = http.StatusNotFound
		}
		s.writeError(w, r, status, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

type errorView struct {
	Error string `json:"error"`
	Code  any    `json:"code,omitempty"`
	Hint  string `json:"hint,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		errutil.LogError(r.Context(), s.logger, "request failed", err)
	} else {
		s.logger.Debug("request rejected", "path", r.URL.Path, "error", err)
	}
	v := errorView{Error: err.Error(), Code: errutil.Code(err)}
	if oe, ok := oops.AsOops(err); ok {
		v.Hint = oe.Hint()
	}
	s.writeJSON(w, status, v)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("response write failed", "error", err)
	}
}
