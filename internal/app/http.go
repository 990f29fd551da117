package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
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

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"taskboard/api/internal/auth"
	"taskboard/api/internal/realtime"
)

const maxWebhookBody = 1 << 20

type HTTPServer struct {
	service       *Service
	hub           *realtime.Hub
	corsOrigin    string
	webhookSecret string
	log           *slog.Logger
}

// NewHTTPServer builds the API surface. hub may be nil, in which case the
// websocket endpoint answers 503.
func NewHTTPServer(service *Service, hub *realtime.Hub, corsOrigin, webhookSecret string, log *slog.Logger) *HTTPServer {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPServer{
		service:       service,
		hub:           hub,
		corsOrigin:    corsOrigin,
		webhookSecret: webhookSecret,
		log:           log,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/webhooks/users", s.handleUserWebhook).Methods(http.MethodPost)
	api.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	api.HandleFunc("/boards", s.authed(s.handleListBoards)).Methods(http.MethodGet)
	api.HandleFunc("/boards", s.authed(s.handleCreateBoard)).Methods(http.MethodPost)
	api.HandleFunc("/boards/{uuid}", s.authed(s.handleGetBoard)).Methods(http.MethodGet)
	api.HandleFunc("/boards/{uuid}", s.authed(s.handleUpdateBoard)).Methods(http.MethodPut)
	api.HandleFunc("/boards/{uuid}", s.authed(s.handleDeleteBoard)).Methods(http.MethodDelete)
	api.HandleFunc("/boards/{uuid}/export", s.authed(s.handleExportBoard)).Methods(http.MethodPost)

	api.HandleFunc("/columns", s.authed(s.handleCreateColumn)).Methods(http.MethodPost)
	api.HandleFunc("/columns/{uuid}", s.authed(s.handleUpdateColumn)).Methods(http.MethodPut)
	api.HandleFunc("/columns/{uuid}", s.authed(s.handleDeleteColumn)).Methods(http.MethodDelete)

	api.HandleFunc("/tasks", s.authed(s.handleCreateTask)).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{uuid}", s.authed(s.handleGetTask)).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{uuid}", s.authed(s.handleUpdateTask)).Methods(http.MethodPut)
	api.HandleFunc("/tasks/{uuid}", s.authed(s.handleDeleteTask)).Methods(http.MethodDelete)

	api.HandleFunc("/search", s.authed(s.handleSearch)).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: corsOrigins(s.corsOrigin),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID", "X-Webhook-Signature"},
		ExposedHeaders: []string{"X-Request-ID"},
	})
	return s.withMiddleware(c.Handler(r))
}

type ownerHandler func(w http.ResponseWriter, r *http.Request, ownerID string)

func (s *HTTPServer) authed(next ownerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := s.requireOwner(w, r, bearerToken(r))
		if !ok {
			return
		}
		next(w, r, ownerID)
	}
}

func (s *HTTPServer) requireOwner(w http.ResponseWriter, r *http.Request, token string) (string, bool) {
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return "", false
	}
	ownerID, err := s.service.Authenticate(token)
	if err != nil {
		s.fail(w, r, err)
		return "", false
	}
	return ownerID, true
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// Boards

func (s *HTTPServer) handleListBoards(w http.ResponseWriter, r *http.Request, ownerID string) {
	boards, err := s.service.ListBoards(r.Context(), ownerID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, boards)
}

func (s *HTTPServer) handleCreateBoard(w http.ResponseWriter, r *http.Request, ownerID string) {
	var body CreateBoardRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, err.Error(), nil)
		return
	}
	board, err := s.service.CreateBoard(r.Context(), ownerID, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, board)
}

func (s *HTTPServer) handleGetBoard(w http.ResponseWriter, r *http.Request, ownerID string) {
	board, err := s.service.GetBoard(r.Context(), ownerID, mux.Vars(r)["uuid"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (s *HTTPServer) handleUpdateBoard(w http.ResponseWriter, r *http.Request, ownerID string) {
	var body UpdateBoardRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, err.Error(), nil)
		return
	}
	board, err := s.service.UpdateBoard(r.Context(), ownerID, mux.Vars(r)["uuid"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (s *HTTPServer) handleDeleteBoard(w http.ResponseWriter, r *http.Request, ownerID string) {
	if err := s.service.DeleteBoard(r.Context(), ownerID, mux.Vars(r)["uuid"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) handleExportBoard(w http.ResponseWriter, r *http.Request, ownerID string) {
	key, err := s.service.ExportBoard(r.Context(), ownerID, mux.Vars(r)["uuid"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key})
}

// Columns

func (s *HTTPServer) handleCreateColumn(w http.ResponseWriter, r *http.Request, ownerID string) {
	var body CreateColumnRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, err.Error(), nil)
		return
	}
	column, err := s.service.CreateColumn(r.Context(), ownerID, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, column)
}

func (s *HTTPServer) handleUpdateColumn(w http.ResponseWriter, r *http.Request, ownerID string) {
	var body UpdateColumnRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, err.Error(), nil)
		return
	}
	column, err := s.service.UpdateColumn(r.Context(), ownerID, mux.Vars(r)["uuid"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, column)
}

func (s *HTTPServer) handleDeleteColumn(w http.ResponseWriter, r *http.Request, ownerID string) {
	version, err := s.service.DeleteColumn(r.Context(), ownerID, mux.Vars(r)["uuid"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "version": version})
}

// Tasks

func (s *HTTPServer) handleCreateTask(w http.ResponseWriter, r *http.Request, ownerID string) {
	var body CreateTaskRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, err.Error(), nil)
		return
	}
	task, err := s.service.CreateTask(r.Context(), ownerID, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *HTTPServer) handleGetTask(w http.ResponseWriter, r *http.Request, ownerID string) {
	task, err := s.service.GetTask(r.Context(), ownerID, mux.Vars(r)["uuid"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *HTTPServer) handleUpdateTask(w http.ResponseWriter, r *http.Request, ownerID string) {
	var body UpdateTaskRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, err.Error(), nil)
		return
	}
	task, err := s.service.UpdateTask(r.Context(), ownerID, mux.Vars(r)["uuid"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *HTTPServer) handleDeleteTask(w http.ResponseWriter, r *http.Request, ownerID string) {
	version, err := s.service.DeleteTask(r.Context(), ownerID, mux.Vars(r)["uuid"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "version": version})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, ownerID string) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, CodeValidation, "limit must be a non-negative integer", nil)
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, s.service.Search(ownerID, r.URL.Query().Get("q"), limit))
}

// handleWebSocket streams board events. Browsers cannot set headers on the
// upgrade request, so the token may also come as ?token=.
func (s *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "Realtime updates are not enabled", nil)
		return
	}
	token := bearerToken(r)
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	ownerID, ok := s.requireOwner(w, r, token)
	if !ok {
		return
	}
	s.hub.ServeWS(w, r, ownerID, strings.TrimSpace(r.URL.Query().Get("board")))
}

func (s *HTTPServer) handleUserWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "invalid body", nil)
		return
	}
	if s.webhookSecret != "" {
		if err := auth.VerifySignature([]byte(s.webhookSecret), body, r.Header.Get("X-Webhook-Signature")); err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid webhook signature", nil)
			return
		}
	}
	var payload UserWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "invalid JSON body", nil)
		return
	}
	user, err := s.service.SyncUser(r.Context(), payload)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "user": user})
}

// fail writes err as a JSON error. Unexpected errors are logged with the
// request id and hidden from the client.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			"request_id", requestIDFrom(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"code", code,
			"error", err,
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setResponseHeaders(writer.Header())
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func corsOrigins(value string) []string {
	var origins []string
	for _, origin := range strings.Split(value, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func setResponseHeaders(header http.Header) {
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return fmt.Errorf("invalid JSON body")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
