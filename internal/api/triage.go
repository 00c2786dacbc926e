package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/sriyan983/slack-triage/internal/core"
)

// startRequest is the body of POST /api/v1/triage/start.
type startRequest struct {
	// Message is the raw "channel|sender|text" line.
	Message string `json:"message"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, core.ErrValidation(core.CodeMalformedInput, "request body must be JSON with a message field"))
		return
	}

	res, err := s.service.Start(r.Context(), req.Message)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// resumeValidator checks resume bodies against the feedback schema
// before they become typed payloads.
type resumeValidator struct {
	schema *jsonschema.Schema
}

func newResumeValidator() (*resumeValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(core.FeedbackSchemaJSON))
	if err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("feedback.json", doc); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile("feedback.json")
	if err != nil {
		return nil, err
	}
	return &resumeValidator{schema: schema}, nil
}

func (v *resumeValidator) payload(body io.Reader) (core.FeedbackPayload, error) {
	raw, err := io.ReadAll(io.LimitReader(body, 1<<20))
	if err != nil {
		return core.FeedbackPayload{}, core.ErrValidation(core.CodeMalformedInput, "cannot read request body")
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return core.FeedbackPayload{}, core.ErrValidation(core.CodeMalformedInput, "request body must be JSON")
	}
	if err := v.schema.Validate(doc); err != nil {
		return core.FeedbackPayload{}, core.ErrValidation(core.CodeInvalidFeedback, err.Error())
	}

	var payload core.FeedbackPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return core.FeedbackPayload{}, core.ErrValidation(core.CodeMalformedInput, "request body must be JSON")
	}
	return payload, nil
}

func (s *Server) handleResume(v *resumeValidator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := core.ExecutionID(chi.URLParam(r, "executionID"))
		if id == "" {
			writeError(w, core.ErrValidation(core.CodeMissingExecutionID, "execution ID is required"))
			return
		}

		payload, err := v.payload(r.Body)
		if err != nil {
			writeError(w, err)
			return
		}

		outcome, err := s.service.Resume(r.Context(), id, payload)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, outcome)
	}
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := core.ExecutionID(chi.URLParam(r, "executionID"))
	state, err := s.service.GetExecution(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	c := core.Classification(r.URL.Query().Get("classification"))
	if c != "" && !core.ValidClassification(c) {
		writeError(w, core.ErrValidation(core.CodeUnknownClassification,
			"classification must be ignore, notify, or respond"))
		return
	}

	records, err := s.service.ListMessages(r.Context(), c)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": records})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.service.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"counts": counts})
}

func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.RunCycle(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
