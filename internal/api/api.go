package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pepeccz/atrevete-bot-sub001/internal/engine"
	"github.com/pepeccz/atrevete-bot-sub001/internal/models"
)

// Timeouts for the HTTP server.
const (
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// MessageRequest is the body of POST /conversations/{id}/messages.
type MessageRequest struct {
	Message string `json:"message"`
}

// Server serves the conversation API. Turns for the same conversation are
// serialized with a per-conversation lock within this process; the store's
// compare-and-set still guards against writers in other processes.
type Server struct {
	engine     *engine.Engine
	addr       string
	httpServer *http.Server

	mu    sync.Mutex
	locks map[string]*conversationLock
}

// conversationLock serializes turns for one conversation. The reference count
// lets the server drop the map entry once no request holds or awaits it, so
// the lock map stays bounded by in-flight requests rather than by every
// conversation id ever seen.
type conversationLock struct {
	mu   sync.Mutex
	refs int
}

// NewServer creates a Server bound to the given address.
func NewServer(eng *engine.Engine, addr string) *Server {
	return &Server{
		engine: eng,
		addr:   addr,
		locks:  make(map[string]*conversationLock),
	}
}

// Routes builds the request multiplexer.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /conversations/{id}/messages", s.messageHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	return mux
}

// Start runs the server until the context is canceled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Routes(),
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		slog.Info("API server shutting down")
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// messageHandler handles POST /conversations/{id}/messages.
func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	slog.Debug("messageHandler invoked", "conversationID", conversationID)

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("messageHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	lock := s.lockConversation(conversationID)
	defer s.unlockConversation(conversationID, lock)

	reply, err := s.engine.HandleMessage(r.Context(), conversationID, req.Message)
	if err != nil {
		s.writeEngineError(w, conversationID, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(reply))
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"health": "ok"}))
}

// writeEngineError maps engine errors onto HTTP status codes.
func (s *Server) writeEngineError(w http.ResponseWriter, conversationID string, err error) {
	switch {
	case errors.Is(err, models.ErrEmptyConversationID),
		errors.Is(err, models.ErrEmptyMessage),
		errors.Is(err, models.ErrMessageTooLong):
		slog.Warn("messageHandler rejected request", "conversationID", conversationID, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	case errors.Is(err, models.ErrPersistenceConflict):
		slog.Warn("messageHandler concurrent turn rejected", "conversationID", conversationID)
		writeJSONResponse(w, http.StatusConflict, models.Error("Another message for this conversation is being processed"))
	case errors.Is(err, models.ErrStoreUnavailable):
		slog.Error("messageHandler store unavailable", "conversationID", conversationID, "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Storage temporarily unavailable"))
	default:
		slog.Error("messageHandler failed", "conversationID", conversationID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
	}
}

// lockConversation acquires the per-conversation lock, creating it on first
// use and counting this request as a holder.
func (s *Server) lockConversation(conversationID string) *conversationLock {
	s.mu.Lock()
	lock, ok := s.locks[conversationID]
	if !ok {
		lock = &conversationLock{}
		s.locks[conversationID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return lock
}

// unlockConversation releases the lock and removes the map entry when no
// other request is holding or waiting on it.
func (s *Server) unlockConversation(conversationID string, lock *conversationLock) {
	lock.mu.Unlock()
	s.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(s.locks, conversationID)
	}
	s.mu.Unlock()
}
