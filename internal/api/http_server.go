// Package api is the local control surface a UI shell uses to queue writes
// and observe sync progress.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rentsync/internal/config"
	"rentsync/internal/domain"
	"rentsync/internal/models"
	"rentsync/internal/queue"
	"rentsync/internal/syncengine"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// ConnectivitySetter is implemented by monitors whose state is pushed in.
type ConnectivitySetter interface {
	SetConnected(connected bool) (changed bool)
}

type HTTPServer struct {
	cfg          config.APIConfig
	svc          domain.SyncService
	connectivity ConnectivitySetter
	server       *http.Server
	auth         *HTTPAuth
	logger       *zerolog.Logger
}

// NewHTTPServer wires the routes. connectivity may be nil when reachability
// is probed rather than reported.
func NewHTTPServer(cfg config.APIConfig, svc domain.SyncService, connectivity ConnectivitySetter, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	srv := &HTTPServer{
		cfg:          cfg,
		svc:          svc,
		connectivity: connectivity,
		auth:         NewHTTPAuth(cfg),
		logger:       logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.HandleFunc("GET /v1/status", srv.handleStatus)
	mux.HandleFunc("GET /v1/operations", srv.handleListOperations)
	mux.HandleFunc("POST /v1/operations", srv.handleEnqueue)
	mux.HandleFunc("POST /v1/sync", srv.handleForceSync)
	mux.HandleFunc("GET /v1/deadletters", srv.handleListDeadLetters)
	mux.HandleFunc("POST /v1/deadletters/{id}/requeue", srv.handleRequeue)
	mux.HandleFunc("DELETE /v1/deadletters", srv.handlePurge)
	mux.HandleFunc("POST /v1/connectivity", srv.handleConnectivity)

	handler := requestIDMiddleware(srv.loggingMiddleware(srv.auth.Wrap(mux)))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv
}

// Handler exposes the routed handler, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("control API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.CurrentStatus())
}

func (s *HTTPServer) handleListOperations(w http.ResponseWriter, r *http.Request) {
	ops := s.svc.Pending()
	writeJSON(w, http.StatusOK, map[string]any{"operations": ops, "count": len(ops)})
}

type enqueueRequest struct {
	EntityKind models.EntityKind    `json:"entity_kind"`
	Kind       models.OperationKind `json:"kind"`
	EntityID   string               `json:"entity_id"`
	Payload    json.RawMessage      `json:"payload"`
}

func (s *HTTPServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var body enqueueRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.svc.Enqueue(r.Context(), body.EntityKind, body.Kind, strings.TrimSpace(body.EntityID), body.Payload)
	switch {
	case errors.Is(err, syncengine.ErrInvalidOperation):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, syncengine.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.logger.Error().Err(err).Msg("enqueue operation")
		writeError(w, http.StatusInternalServerError, "failed to queue operation")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *HTTPServer) handleForceSync(w http.ResponseWriter, r *http.Request) {
	triggered := s.svc.ForceSyncNow()
	writeJSON(w, http.StatusOK, map[string]bool{"triggered": triggered})
}

func (s *HTTPServer) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	dead := s.svc.DeadLetters()
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": dead, "count": len(dead)})
}

func (s *HTTPServer) handleRequeue(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	op, err := s.svc.RequeueDeadLetter(r.Context(), id)
	if errors.Is(err, queue.ErrDeadLetterNotFound) {
		writeError(w, http.StatusNotFound, "dead letter not found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("op_id", id).Msg("requeue dead letter")
		writeError(w, http.StatusInternalServerError, "failed to requeue")
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func (s *HTTPServer) handlePurge(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.PurgeDeadLetters(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("purge dead letters")
		writeError(w, http.StatusInternalServerError, "failed to purge")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	if s.connectivity == nil {
		writeError(w, http.StatusConflict, "connectivity is probed, not reported")
		return
	}

	var body struct {
		Online *bool `json:"online"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Online == nil {
		writeError(w, http.StatusBadRequest, "online is required")
		return
	}

	changed := s.connectivity.SetConnected(*body.Online)
	writeJSON(w, http.StatusOK, map[string]bool{"online": *body.Online, "changed": changed})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return errors.New("invalid JSON body")
	}
	return nil
}

type ctxKey int

const requestIDKey ctxKey = iota

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		event := s.logger.Debug()
		if recorder.status >= http.StatusInternalServerError {
			event = s.logger.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Str("request_id", requestID(r.Context())).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
