// Package api is the HTTP adapter for form sessions, lead ingestion and
// caller lookup. Handlers only translate requests into session and service
// calls and render the returned state.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

const problemBase = "https://myinjuryclaimnow.com/problems/"

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// Fields carries per-field reasons for contact validation failures.
	Fields map[string]string `json:"fields,omitempty"`
	// State is the unchanged session state after a rejected call.
	State any `json:"state,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func writeProblem(w http.ResponseWriter, p *ProblemDetail) {
	if p.Type == "" {
		p.Type = fmt.Sprintf("%s%d", problemBase, p.Status)
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{Title: title, Status: status, Detail: detail})
}

// WriteErrorR is WriteError with the request path as the instance.
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{Title: title, Status: status, Detail: detail, Instance: r.URL.Path})
}

func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, "Not Found", detail)
}

// WriteInvalidTransition writes a 409 for an answer the current step cannot
// take, with the untouched state so the UI can re-render.
func WriteInvalidTransition(w http.ResponseWriter, detail string, state any) {
	writeProblem(w, &ProblemDetail{
		Type:   problemBase + "invalid-transition",
		Title:  "Invalid Transition",
		Status: http.StatusConflict,
		Detail: detail,
		State:  state,
	})
}

// WriteContactInvalid writes a 422 with per-field reasons.
func WriteContactInvalid(w http.ResponseWriter, fields map[string]string, state any) {
	writeProblem(w, &ProblemDetail{
		Type:   problemBase + "contact-validation",
		Title:  "Invalid Contact",
		Status: http.StatusUnprocessableEntity,
		Detail: "One or more contact fields are invalid",
		Fields: fields,
		State:  state,
	})
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500. err is logged, never sent.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
