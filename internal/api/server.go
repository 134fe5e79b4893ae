package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"taskdeck/internal/events"
	"taskdeck/internal/store"
)

// ReviewCompleter receives the correlation token a review worker echoes back
// in its follow-up status update. The dispatch package implements it.
type ReviewCompleter interface {
	CompleteReview(taskID, token string) bool
}

// Config carries the server's collaborators.
type Config struct {
	Store     *store.Store
	Publisher events.Publisher
	Completer ReviewCompleter
	Logger    *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	store     *store.Store
	publisher events.Publisher
	completer ReviewCompleter
	logger    *slog.Logger
	router    chi.Router
	ws        *WSHandler
}

// New constructs a Server and mounts all routes.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = events.NewNopPublisher()
	}

	s := &Server{
		store:     cfg.Store,
		publisher: pub,
		completer: cfg.Completer,
		logger:    logger,
	}
	s.ws = NewWSHandler(pub, logger)
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Patch("/", s.handleUpdateTask)
				r.Delete("/", s.handleDeleteTask)
				r.Patch("/status", s.handleUpdateTaskStatus)
				r.Get("/comments", s.handleListComments)
				r.Post("/comments", s.handleCreateComment)
				r.Get("/audit", s.handleTaskAudit)
			})
		})
		r.Delete("/comments/{id}", s.handleDeleteComment)
		r.Get("/audit", s.handleRecentAudit)
		r.Get("/events/ws", s.ws.ServeHTTP)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, map[string]string{"status": "ok"})
}
