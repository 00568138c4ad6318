package server

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/yuin/goldmark"

	"github.com/basamba1990/scimentor-ai/internal/feedback"
	"github.com/basamba1990/scimentor-ai/internal/identity"
	"github.com/basamba1990/scimentor-ai/internal/pipeline"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// Server is the HTTP server for uploading notebooks and browsing analyses.
type Server struct {
	orch     *pipeline.Orchestrator
	ids      identity.Provider
	pageSize int
	pages    map[string]*template.Template
	mux      *http.ServeMux
}

// New creates a new Server. pageSize is the HTML history page size.
func New(orch *pipeline.Orchestrator, ids identity.Provider, pageSize int) (*Server, error) {
	if pageSize <= 0 {
		pageSize = 10
	}
	funcMap := template.FuncMap{
		"markdown":      renderMarkdown,
		"formatTime":    formatTime,
		"severityClass": severityClass,
		"sortedPoints":  sortedPoints,
		"add":           func(a, b int) int { return a + b },
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// For each page template, clone the base and parse the page into the clone.
	// This gives each page its own {{define "content"}} and {{define "title"}}.
	pageNames := []string{"index.html", "analysis.html", "error.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{orch: orch, ids: ids, pageSize: pageSize, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// JSON API
	s.mux.HandleFunc("POST /api/analyses", s.handleAPIAnalyze)
	s.mux.HandleFunc("GET /api/analyses", s.handleAPIHistory)
	s.mux.HandleFunc("GET /api/analyses/{id}", s.handleAPIGet)
	s.mux.HandleFunc("DELETE /api/analyses/{id}", s.handleAPIDelete)

	// Pages
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("POST /upload", s.handleUpload)
	s.mux.HandleFunc("GET /analysis/{id}", s.handleAnalysis)
	s.mux.HandleFunc("POST /analysis/{id}/delete", s.handleDelete)
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Printf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		log.Printf("Error rendering template %s: %v", name, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

func formatTime(t time.Time) string {
	return t.Local().Format("Jan 02, 2006 15:04")
}

func severityClass(s feedback.Severity) string {
	if s.Valid() {
		return "severity-" + string(s)
	}
	return "severity-unknown"
}

// sortedPoints orders feedback high severity first, then by cell.
func sortedPoints(points []feedback.Point) []feedback.Point {
	out := append([]feedback.Point(nil), points...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity.Rank() != out[j].Severity.Rank() {
			return out[i].Severity.Rank() < out[j].Severity.Rank()
		}
		return out[i].CellIndex < out[j].CellIndex
	})
	return out
}

// Serve listens on 127.0.0.1:port until ctx is done, then shuts down.
func Serve(ctx context.Context, srv *Server, port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on http://%s", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
