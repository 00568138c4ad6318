package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/basamba1990/scimentor-ai/internal/apperr"
	"github.com/basamba1990/scimentor-ai/internal/notebook"
	"github.com/basamba1990/scimentor-ai/internal/pipeline"
)

// MaxPageSize caps the limit a history request may ask for.
const MaxPageSize = 100

// uploadOverhead is the room left for multipart framing on top of the
// document limit.
const uploadOverhead = 64 * 1024

// errorBody is the JSON shape of every API failure.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Field string `json:"field,omitempty"`
}

// statusFor maps a classified failure to an HTTP status.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.InvalidFormat:
		return http.StatusBadRequest
	case apperr.TooLarge:
		return http.StatusRequestEntityTooLarge
	case apperr.Unauthenticated:
		return http.StatusUnauthorized
	case apperr.NotFoundOrForbidden:
		return http.StatusNotFound
	case apperr.SchemaViolation, apperr.MalformedJSON, apperr.EmptyResponse, apperr.ProviderError:
		return http.StatusBadGateway
	case apperr.ProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{
		Error: err.Error(),
		Kind:  string(apperr.KindOf(err)),
		Field: apperr.FieldOf(err),
	}
	if status == http.StatusInternalServerError && body.Kind == "" {
		log.Printf("Unclassified error: %v", err)
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

// readUpload pulls the "file" part out of a multipart request. Bodies over the
// document limit come back as TooLarge.
func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, notebook.MaxDocumentBytes+uploadOverhead)
	if err := r.ParseMultipartForm(notebook.MaxDocumentBytes + uploadOverhead); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, "", apperr.New(apperr.TooLarge, "upload exceeds %d bytes", notebook.MaxDocumentBytes)
		}
		return nil, "", apperr.Wrap(apperr.InvalidFormat, err, "reading multipart form")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", apperr.Wrap(apperr.InvalidFormat, err, "missing file field")
	}
	defer file.Close()

	// Read one byte past the limit so Validate can report TooLarge.
	raw, err := io.ReadAll(io.LimitReader(file, notebook.MaxDocumentBytes+1))
	if err != nil {
		return nil, "", apperr.Wrap(apperr.InvalidFormat, err, "reading upload")
	}
	return raw, header.Filename, nil
}

func (s *Server) handleAPIAnalyze(w http.ResponseWriter, r *http.Request) {
	owner, err := s.ids.OwnerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	raw, filename, err := readUpload(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.orch.Analyze(r.Context(), raw, filename, owner)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	owner, err := s.ids.OwnerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q, err := parseQuery(r, pipeline.DefaultPageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := s.orch.GetHistory(r.Context(), owner, q)
	if err != nil {
		writeError(w, err)
		return
	}
	if page.Items == nil {
		page.Items = []pipeline.Record{}
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleAPIGet(w http.ResponseWriter, r *http.Request) {
	owner, err := s.ids.OwnerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.orch.GetAnalysis(r.Context(), r.PathValue("id"), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAPIDelete(w http.ResponseWriter, r *http.Request) {
	owner, err := s.ids.OwnerID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.orch.RemoveAnalysis(r.Context(), r.PathValue("id"), owner); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseQuery reads limit, offset and search from the URL. Limits above
// MaxPageSize are clamped.
func parseQuery(r *http.Request, defaultLimit int) (pipeline.Query, error) {
	q := pipeline.Query{PageSize: defaultLimit, Search: r.URL.Query().Get("search")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, apperr.New(apperr.InvalidFormat, "invalid limit %q", v)
		}
		q.PageSize = min(n, MaxPageSize)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, apperr.New(apperr.InvalidFormat, "invalid offset %q", v)
		}
		q.Offset = n
	}
	return q, nil
}

func errorMessage(err error) string {
	switch apperr.KindOf(err) {
	case apperr.InvalidFormat:
		return "The file is not a valid Jupyter notebook."
	case apperr.TooLarge:
		return fmt.Sprintf("The file is larger than %d MB.", notebook.MaxDocumentBytes/(1024*1024))
	case apperr.Unauthenticated:
		return "You need to sign in first."
	case apperr.NotFoundOrForbidden:
		return "Analysis not found."
	case apperr.ProviderUnavailable:
		return "The analysis service is unavailable. Try again later."
	case apperr.ProviderError, apperr.EmptyResponse, apperr.MalformedJSON, apperr.SchemaViolation:
		return "The analysis service returned an unusable answer. Try again."
	default:
		return "Something went wrong."
	}
}

// errorDetail is the classified failure text shown under the friendly
// message. Unclassified errors stay hidden.
func errorDetail(err error) string {
	if apperr.KindOf(err) == "" {
		return ""
	}
	return err.Error()
}
