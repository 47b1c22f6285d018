package api

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/AnarchoFatSats/comercial-mva/pkg/ingest"
	"github.com/AnarchoFatSats/comercial-mva/pkg/leads"
	"github.com/AnarchoFatSats/comercial-mva/pkg/store"
)

// LookupResponse is the caller lookup result.
type LookupResponse struct {
	Found      bool               `json:"found"`
	Summary    *store.LeadSummary `json:"summary,omitempty"`
	Record     *leads.Record      `json:"record,omitempty"`
	Attributes map[string]string  `json:"attributes"`
}

func (s *Server) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	if s.opts.IngestAPIKey == "" {
		return next
	}
	want := []byte(s.opts.IngestAPIKey)
	return func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("x-api-key"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			WriteUnauthorized(w, "Invalid API key")
			return
		}
		next(w, r)
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		WriteBadRequest(w, "Invalid request body")
		return nil, false
	}
	return data, true
}

func (s *Server) writeIngestError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *leads.ValidationError
	if errors.As(err, &ve) {
		WriteErrorR(w, r, http.StatusBadRequest, "Invalid Lead", ve.Error())
		return
	}
	WriteInternal(w, err)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	data, ok := readBody(w, r)
	if !ok {
		return
	}
	res, err := s.opts.Ingest.Ingest(r.Context(), data)
	if err != nil {
		s.writeIngestError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleIngestPartial(w http.ResponseWriter, r *http.Request) {
	data, ok := readBody(w, r)
	if !ok {
		return
	}
	res, err := s.opts.Ingest.IngestPartial(r.Context(), data)
	if err != nil {
		s.writeIngestError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	res, err := s.opts.Ingest.Lookup(r.Context(), r.URL.Query().Get("phone"))
	switch {
	case errors.Is(err, ingest.ErrInvalidPhone):
		WriteBadRequest(w, err.Error())
		return
	case errors.Is(err, ingest.ErrLookupUnavailable):
		WriteError(w, http.StatusNotImplemented, "Not Implemented", "Lead lookup is not configured")
		return
	case err != nil:
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LookupResponse{
		Found:      res.Found,
		Summary:    res.Summary,
		Record:     res.Record,
		Attributes: res.ConnectAttributes(),
	})
}
