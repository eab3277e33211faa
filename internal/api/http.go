// Package api exposes the conversation and training surfaces over HTTP and
// MCP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/insightgenix/insightgenix/internal/session"
	"github.com/insightgenix/insightgenix/internal/training"
	"github.com/insightgenix/insightgenix/internal/vector"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds the HTTP layer's collaborators. Token, when non-empty, gates
// every route behind bearer auth.
type Deps struct {
	Session *session.Session
	Manager *training.Manager
	Token   string
}

// ChatRequest is the POST /v1/chat body.
type ChatRequest struct {
	Message string `json:"message"`
	Stream  bool   `json:"stream"`
}

// ChatResponse is the non-streaming chat reply.
type ChatResponse struct {
	Content      string `json:"content"`
	ResultSample string `json:"result_sample,omitempty"`
	ExecError    string `json:"exec_error,omitempty"`
}

// NewHandler returns the HTTP API router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	if deps.Token != "" {
		r.Use(BearerAuth(deps.Token))
	}

	r.Get("/health", handleHealth)
	r.Post("/v1/chat", handleChat(deps))
	r.Get("/training-data", handleListTrainingData(deps))
	r.Post("/training-data", handleTrain(deps))
	r.Post("/training-data/batch", handleTrainBatch(deps))
	r.Delete("/training-data/{id}", handleRemoveTrainingData(deps))
	r.Post("/training-data/reset", handleResetCollection(deps))
	r.Post("/reset", handleReset(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		if req.Stream {
			streamChat(w, r, deps, req.Message)
			return
		}

		reply, err := deps.Session.Handle(r.Context(), req.Message, nil)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "turn failed: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ChatResponse{
			Content:      reply.Content,
			ResultSample: reply.ResultSample,
			ExecError:    reply.ExecError,
		})
	}
}

// streamChat renders incremental response text as server-sent events: one
// {"delta": ...} event per chunk, a final {"done": true, ...} event with
// the execution outcome, then [DONE].
func streamChat(w http.ResponseWriter, r *http.Request, deps Deps, message string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var streamed bool
	onChunk := func(chunk string) {
		payload, err := json.Marshal(map[string]string{"delta": chunk})
		if err != nil {
			return
		}
		streamed = true
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	reply, err := deps.Session.Handle(r.Context(), message, onChunk)
	if err != nil {
		payload, marshalErr := json.Marshal(map[string]any{
			"error": map[string]any{"message": err.Error(), "type": "api_error"},
		})
		if marshalErr == nil {
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		flusher.Flush()
		return
	}

	// Some turns produce their reply without streaming a single chunk, such
	// as the clarifying answer to an ungrounded insight request. Deliver the
	// text as one delta so the client still sees it.
	if !streamed && reply.Content != "" {
		onChunk(reply.Content)
	}

	final, err := json.Marshal(map[string]any{
		"done":          true,
		"result_sample": reply.ResultSample,
		"exec_error":    reply.ExecError,
	})
	if err == nil {
		fmt.Fprintf(w, "data: %s\n\n", final)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func handleListTrainingData(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := deps.Manager.GetTrainingData(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing training data: %v", err)
			return
		}
		if rows == nil {
			rows = []training.Row{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": rows})
	}
}

func handleTrain(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req training.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		id, err := deps.Manager.Train(r.Context(), req)
		switch {
		case errors.Is(err, training.ErrMalformedItem):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		case errors.Is(err, vector.ErrDuplicateID):
			httpError(w, http.StatusConflict, "invalid_request_error", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "training failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": id})
	}
}

func handleTrainBatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Documentation []string `json:"documentation"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Documentation) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "documentation entries are required")
			return
		}

		ids, err := deps.Manager.TrainDocumentationBatch(r.Context(), req.Documentation)
		switch {
		case errors.Is(err, training.ErrMalformedItem):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "training failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string][]string{"ids": ids})
	}
}

func handleRemoveTrainingData(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		removed, err := deps.Manager.Remove(r.Context(), id)
		switch {
		case errors.Is(err, vector.ErrNotFound):
			httpError(w, http.StatusNotFound, "invalid_request_error", "training data %s not found", id)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "removing training data: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"removed": removed})
	}
}

func handleResetCollection(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Collection string `json:"collection"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if err := deps.Manager.ResetCollection(r.Context(), req.Collection); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}
}

func handleReset(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Session.Reset()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
