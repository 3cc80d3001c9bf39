package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"fieldchart/sync/internal/draft"
	"fieldchart/sync/internal/util"
)

// HTTPServer is the narrow mutation API form tabs and widgets go
// through; nothing else may hold a mutable reference to the draft.
type HTTPServer struct {
	service *Service
	logger  *zap.Logger
}

func NewHTTPServer(service *Service, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{service: service, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"remoteStore": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["remoteStore"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/record":
		s.handleSnapshot(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/record":
		s.handleOpen(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/record/update":
		s.handleUpdate(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/record/path":
		s.handleMutateAtPath(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/record/append":
		s.handleAppend(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/record/sync":
		s.handleForceSync(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/record/finalize":
		s.handleFinalize(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/record/discard":
		s.handleDiscard(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/api/sync/status":
		writeJSON(w, http.StatusOK, s.service.SyncState())
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

type openInput struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
}

func (in openInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.OwnerID, validation.Required.When(in.ID == ""), validation.Length(0, 64)),
		validation.Field(&in.ID, validation.Length(0, 128)),
	)
}

func (s *HTTPServer) handleOpen(w http.ResponseWriter, r *http.Request) {
	var input openInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	if err := input.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}
	rec, err := s.service.Open(r.Context(), input.ID, input.OwnerID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record": rec})
}

func (s *HTTPServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	rec, err := s.service.Snapshot()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record": rec})
}

func (s *HTTPServer) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Fields map[string]any `json:"fields"`
	}
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	if len(input.Fields) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "fields is required", nil)
		return
	}
	if err := s.service.Update(r.Context(), input.Fields); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeSnapshot(w)
}

type pathInput struct {
	Path  []string `json:"path"`
	Value any      `json:"value"`
}

func (in pathInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Path, validation.Required, validation.Each(validation.Required, validation.Length(1, 128))),
	)
}

func (s *HTTPServer) handleMutateAtPath(w http.ResponseWriter, r *http.Request) {
	var input pathInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	if err := input.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}
	if err := s.service.MutateAtPath(r.Context(), input.Path, input.Value); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeSnapshot(w)
}

type appendInput struct {
	Path []string `json:"path"`
	Item any      `json:"item"`
}

func (in appendInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Path, validation.Required, validation.Each(validation.Required, validation.Length(1, 128))),
		validation.Field(&in.Item, validation.Required),
	)
}

func (s *HTTPServer) handleAppend(w http.ResponseWriter, r *http.Request) {
	var input appendInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	if err := input.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}
	if err := s.service.AppendToList(r.Context(), input.Path, input.Item); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeSnapshot(w)
}

func (s *HTTPServer) handleForceSync(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ForceSync(r.Context()); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.service.SyncState())
}

type finalizeInput struct {
	Token string `json:"token"`
}

func (in finalizeInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Token, validation.Required, validation.Length(1, 512)),
	)
}

func (s *HTTPServer) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var input finalizeInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	if err := input.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}
	rec, err := s.service.Finalize(r.Context(), input.Token)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record": rec})
}

func (s *HTTPServer) handleDiscard(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Discard(r.Context()); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"discarded": true})
}

func (s *HTTPServer) writeSnapshot(w http.ResponseWriter) {
	rec, err := s.service.Snapshot()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"record": rec,
		"sync":   s.service.SyncState(),
	})
}

// writeServiceError maps the error taxonomy onto HTTP statuses. Caller
// misuse is surfaced; infrastructure failures that the sync core
// swallows never reach here.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	var dErr *DomainError
	switch {
	case errors.As(err, &dErr):
		writeError(w, dErr.Status, dErr.Code, dErr.Message, dErr.Details)
	case errors.Is(err, draft.ErrNoActiveRecord):
		writeError(w, http.StatusNotFound, "NO_ACTIVE_RECORD", "no record is currently open", nil)
	case errors.Is(err, draft.ErrRecordLocked):
		writeError(w, http.StatusConflict, "RECORD_LOCKED", "the record has been submitted and is immutable", nil)
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "REMOTE_WRITE_FAILED", "the write could not be completed", nil)
	}
}

func writeValidationError(w http.ResponseWriter, err error) {
	var details any
	var vErrs validation.Errors
	if errors.As(err, &vErrs) {
		details = vErrs
	}
	writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), details)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", requestID)
		writer.Header().Set("Content-Type", "application/json")

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			zap.String("requestId", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("durationMs", time.Since(started).Milliseconds()),
		)
	})
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
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}
