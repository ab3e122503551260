package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/soyeahso/chatstudio/internal/config"
	"github.com/soyeahso/chatstudio/internal/domain"
	"github.com/soyeahso/chatstudio/internal/logging"
)

// ErrorShape is the standard error format in API envelopes.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// envelope wraps every API response. The success flag is authoritative;
// domain failures (validation, not found) still travel with HTTP 200.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`
}

const (
	codeValidation   = "validation"
	codeNotFound     = "not_found"
	codeInternal     = "internal"
	codeInvalidInput = "invalid_input"
)

// Server exposes the history repository over HTTP.
type Server struct {
	cfg        config.HistoryConfig
	repo       Repository
	log        *logging.Logger
	httpServer *http.Server
}

// NewServer creates a history API server over the given repository.
func NewServer(cfg config.HistoryConfig, repo Repository, log *logging.Logger) *Server {
	return &Server{
		cfg:  cfg,
		repo: repo,
		log:  log.Sub("history.server"),
	}
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.HistoryConfig) string {
	switch cfg.Bind {
	case "lan":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start begins listening. It blocks until the context is cancelled or an
// error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := withMiddleware(mux, s.log, s.cfg.AllowedOrigins)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(l net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Bind).
		Msg("history server starting")

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down history server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/chatHistory", s.handleCreate)
	mux.HandleFunc("GET /api/chatHistory", s.handleList)
	mux.HandleFunc("GET /api/chatHistory/{id}", s.handleGet)
	mux.HandleFunc("DELETE /api/chatHistory/{id}", s.handleDelete)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "unknown route: "+r.URL.Path)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, "", map[string]string{"status": "ok"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var rec domain.HistoryRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusOK, codeInvalidInput, "invalid record payload: "+err.Error())
		return
	}

	created, err := s.repo.Create(r.Context(), rec)
	if err != nil {
		s.writeRepoError(w, err)
		return
	}
	writeSuccess(w, "History added", created)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	recs, err := s.repo.List(r.Context())
	if err != nil {
		s.writeRepoError(w, err)
		return
	}
	if recs == nil {
		recs = []domain.HistoryRecord{}
	}
	writeSuccess(w, "", recs)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.repo.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeRepoError(w, err)
		return
	}
	writeSuccess(w, "", rec)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	rec, err := s.repo.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeRepoError(w, err)
		return
	}
	writeSuccess(w, "History deleted", rec)
}

// writeRepoError maps repository errors onto the envelope. Domain
// failures keep HTTP 200 — the success flag is what callers read.
func (s *Server) writeRepoError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusOK, codeValidation, verr.Error())
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusOK, codeNotFound, "chat history not found")
	default:
		s.log.Error().Err(err).Msg("repository failure")
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

func writeSuccess(w http.ResponseWriter, message string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "encoding response")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: message, Data: raw})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, envelope{Success: false, Error: &ErrorShape{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}
