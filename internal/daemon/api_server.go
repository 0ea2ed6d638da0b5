package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"boqmatch/internal/api"
	"boqmatch/internal/logging"
	"boqmatch/internal/metrics"
)

const maxBodyBytes = 8 << 20

type apiServer struct {
	svc    *api.Service
	logger *slog.Logger
	server *http.Server
}

func newAPIServer(svc *api.Service, token string, logger *slog.Logger) *apiServer {
	srv := &apiServer{svc: svc, logger: logger}
	srv.server = &http.Server{
		Handler:           srv.routes(strings.TrimSpace(token)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/match", authMiddleware(token, s.handleMatch))
	mux.HandleFunc("/api/feedback", authMiddleware(token, s.handleFeedback))
	mux.HandleFunc("/api/kb/stats", authMiddleware(token, s.handleKBStats))
	mux.HandleFunc("/api/kb/related/", authMiddleware(token, s.handleRelated))
	mux.HandleFunc("/api/catalog/status", authMiddleware(token, s.handleCatalogStatus))
	mux.HandleFunc("/api/catalog/health", authMiddleware(token, s.handleHealth))
	mux.HandleFunc("/api/catalog/cleanup", authMiddleware(token, s.handleCleanup))
	mux.HandleFunc("/api/catalog/versions", authMiddleware(token, s.handleVersions))
	mux.HandleFunc("/api/catalog/versions/", authMiddleware(token, s.handleVersion))
	mux.Handle("/metrics", metrics.Handler())
	return withRequestID(mux)
}

// withRequestID tags every request with X-Request-ID, generating one when the
// caller did not send it.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

func (s *apiServer) serve(listener net.Listener) error {
	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	if err := s.server.Serve(listener); !isServerClosed(err) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

func (s *apiServer) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *apiServer) handleMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.MatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.svc.Match(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.FeedbackRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.svc.Feedback(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, resp)
}

func (s *apiServer) handleKBStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp, err := s.svc.KBStats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleRelated(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	code := strings.TrimPrefix(r.URL.Path, "/api/kb/related/")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	resp, err := s.svc.Related(r.Context(), code, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleCatalogStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp, err := s.svc.CatalogStatus(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	includeLLM, _ := strconv.ParseBool(r.URL.Query().Get("llm"))
	report, err := s.svc.Health(r.Context(), includeLLM)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *apiServer) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp, err := s.svc.Cleanup(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleVersions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		includeArchived, _ := strconv.ParseBool(r.URL.Query().Get("archived"))
		resp, err := s.svc.Versions(r.Context(), includeArchived)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		var req api.SubmitRequest
		if !s.decode(w, r, &req) {
			return
		}
		resp, err := s.svc.Submit(r.Context(), req)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, resp)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/catalog/versions/"), "/")
	id, action, hasAction := strings.Cut(rest, "/")
	if id == "" {
		s.writeError(w, http.StatusNotFound, "version id required")
		return
	}

	if !hasAction {
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		resp, err := s.svc.Version(r.Context(), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, resp)
		return
	}

	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.TransitionRequest
	if r.ContentLength != 0 && !s.decodeOptional(w, r, &req) {
		return
	}
	resp, err := s.svc.Transition(r.Context(), id, action, req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	return s.decodeBody(w, r, dst, false)
}

// decodeOptional accepts an empty body.
func (s *apiServer) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	return s.decodeBody(w, r, dst, true)
}

func (s *apiServer) decodeBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		s.writeJSON(w, http.StatusBadRequest, api.ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  api.CodeInvalidInput,
		})
		return false
	}
	return true
}

func (s *apiServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := api.ErrorStatus(err)
	if status >= http.StatusInternalServerError && !errors.Is(err, context.Canceled) {
		logging.WithContext(r.Context(), s.log()).Error("api request failed",
			logging.String("path", r.URL.Path),
			logging.String("code", code),
			logging.Error(err))
	}
	s.writeJSON(w, status, api.ErrorResponse{Error: err.Error(), Code: code})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	code := api.CodeInvalidInput
	switch status {
	case http.StatusMethodNotAllowed:
		code = "METHOD_NOT_ALLOWED"
	case http.StatusNotFound:
		code = api.CodeNotFound
	}
	s.writeJSON(w, status, api.ErrorResponse{Error: message, Code: code})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String("component", "api-server"))
	}
	return logging.NewNop()
}
