package server

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/basamba1990/scimentor-ai/internal/apperr"
	"github.com/basamba1990/scimentor-ai/internal/pipeline"
)

type indexData struct {
	Owner      string
	Items      []pipeline.Record
	TotalCount int
	Page       int
	TotalPages int
	Search     string
	Error      string
	Detail     string
	Field      string
}

type analysisData struct {
	Owner  string
	Record *pipeline.Record
}

type errorData struct {
	Owner   string
	Status  int
	Message string
	Detail  string
	Field   string
}

func (s *Server) renderError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	s.render(w, status, "error.html", errorData{
		Status:  status,
		Message: errorMessage(err),
		Detail:  errorDetail(err),
		Field:   apperr.FieldOf(err),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	owner, err := s.ids.OwnerID(r)
	if err != nil {
		s.renderError(w, err)
		return
	}
	page := 1
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 1 {
		page = v
	}
	s.renderIndex(w, r, owner, page, r.URL.Query().Get("q"), nil)
}

// renderIndex shows the history page. A non-nil failure sets the status and
// is reported above the upload form.
func (s *Server) renderIndex(w http.ResponseWriter, r *http.Request, owner string, page int, search string, failure error) {
	hist, err := s.orch.GetHistory(r.Context(), owner, pipeline.Query{
		PageSize: s.pageSize,
		Offset:   (page - 1) * s.pageSize,
		Search:   search,
	})
	if err != nil {
		s.renderError(w, err)
		return
	}
	totalPages := (hist.TotalCount + s.pageSize - 1) / s.pageSize
	if totalPages == 0 {
		totalPages = 1
	}
	data := indexData{
		Owner:      owner,
		Items:      hist.Items,
		TotalCount: hist.TotalCount,
		Page:       page,
		TotalPages: totalPages,
		Search:     search,
	}
	status := http.StatusOK
	if failure != nil {
		status = statusFor(failure)
		data.Error = errorMessage(failure)
		data.Detail = errorDetail(failure)
		data.Field = apperr.FieldOf(failure)
	}
	s.render(w, status, "index.html", data)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	owner, err := s.ids.OwnerID(r)
	if err != nil {
		s.renderError(w, err)
		return
	}
	raw, filename, err := readUpload(w, r)
	if err == nil {
		var rec *pipeline.Record
		rec, err = s.orch.Analyze(r.Context(), raw, filename, owner)
		if err == nil {
			http.Redirect(w, r, "/analysis/"+url.PathEscape(rec.ID), http.StatusSeeOther)
			return
		}
	}
	if r.Context().Err() != nil {
		return
	}
	s.renderIndex(w, r, owner, 1, "", err)
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	owner, err := s.ids.OwnerID(r)
	if err != nil {
		s.renderError(w, err)
		return
	}
	rec, err := s.orch.GetAnalysis(r.Context(), r.PathValue("id"), owner)
	if err != nil {
		s.renderError(w, err)
		return
	}
	s.render(w, http.StatusOK, "analysis.html", analysisData{Owner: owner, Record: rec})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	owner, err := s.ids.OwnerID(r)
	if err != nil {
		s.renderError(w, err)
		return
	}
	if err := s.orch.RemoveAnalysis(r.Context(), r.PathValue("id"), owner); err != nil {
		s.renderError(w, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
