// Package web serves the single game page and the JSON API behind it.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ytget/qrplay/errs"
	"github.com/ytget/qrplay/game"
	"github.com/ytget/qrplay/internal/logger"
	"github.com/ytget/qrplay/types"
	"github.com/ytget/qrplay/youtube/embed"
	"github.com/ytget/qrplay/youtube/link"
)

const maxBodyBytes = 8 << 10

// InfoLookup resolves metadata shown on reveal. *oembed.Client implements it.
type InfoLookup interface {
	Lookup(ctx context.Context, ref types.MediaReference) (types.VideoInfo, error)
}

// Config configures the server. Zero values use defaults.
type Config struct {
	// BaseURL is the public origin of the page. When empty the origin is
	// taken from each request.
	BaseURL    string
	SessionTTL time.Duration
	MaxSession int
	PlayDelay  time.Duration
	Lookup     InfoLookup
}

type Server struct {
	router   chi.Router
	sessions *sessions
	baseURL  string
	lookup   InfoLookup
	log      *logger.ComponentLogger
}

func New(cfg Config) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		sessions: newSessions(cfg.SessionTTL, cfg.MaxSession, cfg.PlayDelay),
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		lookup:   cfg.Lookup,
		log:      logger.WithComponent(logger.ComponentWeb),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(requestLogger(s.log))
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders(s.baseURL))

	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Get("/", s.handlePage)
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/resolve", s.handleResolve)

	s.router.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.withGame(s.handleState))
			r.Delete("/", s.handleDeleteSession)
			r.Post("/load", s.withGame(s.handleLoad))
			r.Post("/play", s.withGame(s.handlePlay))
			r.Post("/reveal", s.withGame(s.handleReveal))
			r.Post("/reset", s.withGame(s.handleReset))
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type resolveResponse struct {
	Service  types.ServiceKind `json:"service"`
	ID       string            `json:"id"`
	EmbedURL string            `json:"embedUrl"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if strings.TrimSpace(raw) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	ref := link.Resolve(raw)
	embedURL, ok := embed.BuildURL(ref, s.origin(r))
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, errs.ErrInputUnrecognized.Error())
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{
		Service:  ref.Service(),
		ID:       ref.VideoID(),
		EmbedURL: embedURL,
	})
}

type sessionResponse struct {
	ID    string     `json:"id"`
	State game.State `json:"state"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, g := s.sessions.create(s.origin(r))
	s.log.Debug("Session created", map[string]interface{}{"session": id})
	writeJSON(w, http.StatusCreated, sessionResponse{ID: id, State: g.Snapshot()})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	g, ok := s.sessions.get(id)
	if !ok {
		writeError(w, http.StatusNotFound, errs.ErrSessionNotFound.Error())
		return
	}
	g.Reset()
	s.sessions.remove(id)
	w.WriteHeader(http.StatusNoContent)
}

type gameHandler func(w http.ResponseWriter, r *http.Request, g *game.Game)

func (s *Server) withGame(h gameHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g, ok := s.sessions.get(chi.URLParam(r, "id"))
		if !ok {
			writeError(w, http.StatusNotFound, errs.ErrSessionNotFound.Error())
			return
		}
		h(w, r, g)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request, g *game.Game) {
	writeJSON(w, http.StatusOK, g.Snapshot())
}

type loadRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request, g *game.Game) {
	var req loadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := g.Load(req.URL); err != nil {
		s.writeGameError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g.Snapshot())
}

type frameResponse struct {
	Src   string `json:"src"`
	Title string `json:"title"`
	Allow string `json:"allow"`
}

type playResponse struct {
	EmbedURL string          `json:"embedUrl"`
	Command  json.RawMessage `json:"command"`
	DelayMS  int64           `json:"delayMs"`
	Frame    frameResponse   `json:"frame"`
	State    game.State      `json:"state"`
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request, g *game.Game) {
	pb, err := g.Play()
	if err != nil {
		s.writeGameError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, playResponse{
		EmbedURL: pb.EmbedURL,
		Command:  pb.Command,
		DelayMS:  pb.Delay.Milliseconds(),
		Frame: frameResponse{
			Src:   pb.Frame.Src,
			Title: pb.Frame.Title,
			Allow: pb.Frame.Allow,
		},
		State: g.Snapshot(),
	})
}

type revealResponse struct {
	State game.State       `json:"state"`
	Info  *types.VideoInfo `json:"info,omitempty"`
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request, g *game.Game) {
	if err := g.Reveal(); err != nil {
		s.writeGameError(w, err)
		return
	}
	resp := revealResponse{State: g.Snapshot()}
	if s.lookup != nil {
		info, err := s.lookup.Lookup(r.Context(), resp.State.Reference)
		if err != nil {
			s.log.Warn("Metadata lookup failed", map[string]interface{}{"ref": resp.State.Reference.String(), "error": err})
		} else {
			resp.Info = &info
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request, g *game.Game) {
	g.Reset()
	writeJSON(w, http.StatusOK, g.Snapshot())
}

// writeGameError maps game errors to HTTP statuses.
func (s *Server) writeGameError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrInputUnrecognized):
		writeError(w, http.StatusUnprocessableEntity, errs.ErrInputUnrecognized.Error())
	case errors.Is(err, errs.ErrNothingLoaded), errors.Is(err, errs.ErrNotPlaying):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, errs.ErrEmbedFailed):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.log.Error("Unexpected game error", map[string]interface{}{"error": err})
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// origin returns the configured base URL or the origin the request was
// served from.
func (s *Server) origin(r *http.Request) string {
	if s.baseURL != "" {
		return s.baseURL
	}
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
