// Package server exposes the dispatch subsystem over HTTP.
//
// Routes mirror the client contract: /health, /list_models,
// /list_providers, /check_credentials/{provider}/{name} and
// /chat/{provider}/{name}. Errors are serialized as a detail payload with
// a stable error tag and mapped to status codes.
package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/dumitrescustefan/llm-serv/llm"
	"github.com/dumitrescustefan/llm-serv/registry"
	"github.com/dumitrescustefan/llm-serv/schema"
)

// Server wires the dispatcher to HTTP handlers.
type Server struct {
	dispatcher *llm.Dispatcher
	mux        *http.ServeMux
}

// New creates a server over a dispatcher.
func New(d *llm.Dispatcher) *Server {
	s := &Server{dispatcher: d, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /list_models", s.handleListModels)
	s.mux.HandleFunc("GET /list_providers", s.handleListProviders)
	s.mux.HandleFunc("GET /check_credentials/{provider}/{name}", s.handleCheckCredentials)
	s.mux.HandleFunc("POST /chat/{provider}/{name}", s.handleChat)
	return s
}

// Handler returns the root handler with request-ID tagging.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)
		s.mux.ServeHTTP(w, r)
		log.Printf("%s %s request_id=%s", r.Method, r.URL.Path, requestID)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// modelRef is the provider/name pair returned by list_models.
type modelRef struct {
	Provider string `json:"provider"`
	Name     string `json:"name"`
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models := s.dispatcher.Registry().Models(r.URL.Query().Get("provider"))
	refs := make([]modelRef, 0, len(models))
	for _, m := range models {
		refs = append(refs, modelRef{Provider: m.Provider.Name, Name: m.Name})
	}
	writeJSON(w, http.StatusOK, refs)
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers := s.dispatcher.Registry().Providers()
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name)
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleCheckCredentials(w http.ResponseWriter, r *http.Request) {
	modelID := r.PathValue("provider") + "/" + r.PathValue("name")
	if err := s.dispatcher.CheckCredentials(modelID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req llm.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, errorDetail{
			Error:   "invalid_request",
			Message: "malformed request body: " + err.Error(),
		})
		return
	}

	modelID := r.PathValue("provider") + "/" + r.PathValue("name")
	resp, err := s.dispatcher.Dispatch(r.Context(), modelID, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// errorDetail is the wire shape of a classified failure.
type errorDetail struct {
	Error       string `json:"error"`
	Message     string `json:"message"`
	XML         string `json:"xml,omitempty"`
	ReturnClass string `json:"return_class,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	var (
		notFound    *registry.NotFoundError
		unsupported *llm.UnsupportedProviderError
		credentials *llm.CredentialsError
		conversion  *llm.ConversionError
		throttling  *llm.ThrottlingError
		timeout     *llm.TimeoutError
		structured  *schema.ResponseError
	)

	switch {
	case errors.As(err, &notFound):
		writeDetail(w, http.StatusNotFound, errorDetail{Error: "model_not_found", Message: err.Error()})
	case errors.As(err, &unsupported):
		writeDetail(w, http.StatusBadRequest, errorDetail{Error: "unsupported_provider", Message: err.Error()})
	case errors.As(err, &credentials):
		writeDetail(w, http.StatusUnauthorized, errorDetail{Error: "credentials_not_set", Message: err.Error()})
	case errors.As(err, &conversion):
		writeDetail(w, http.StatusBadRequest, errorDetail{Error: "internal_conversion_error", Message: err.Error()})
	case errors.As(err, &throttling):
		writeDetail(w, http.StatusTooManyRequests, errorDetail{Error: "service_throttling", Message: err.Error()})
	case errors.As(err, &structured):
		writeDetail(w, http.StatusUnprocessableEntity, errorDetail{
			Error:       "structured_response_error",
			Message:     err.Error(),
			XML:         structured.Raw,
			ReturnClass: structured.SchemaName,
		})
	case errors.As(err, &timeout):
		writeDetail(w, http.StatusGatewayTimeout, errorDetail{Error: "timeout_error", Message: err.Error()})
	default:
		writeDetail(w, http.StatusBadGateway, errorDetail{Error: "service_call_error", Message: err.Error()})
	}
}

func writeDetail(w http.ResponseWriter, status int, detail errorDetail) {
	writeJSON(w, status, map[string]errorDetail{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
