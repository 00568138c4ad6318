// Package batch analyzes a set of notebooks for one owner, such as a folder
// of student submissions.
package batch

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/basamba1990/scimentor-ai/internal/apperr"
	"github.com/basamba1990/scimentor-ai/internal/notebook"
	"github.com/basamba1990/scimentor-ai/internal/pipeline"
)

// Analyzer is the part of the orchestrator a batch needs.
type Analyzer interface {
	Analyze(ctx context.Context, raw []byte, filename, ownerID string) (*pipeline.Record, error)
}

// Result holds the results of a batch run.
type Result struct {
	Processed int
	Failed    int
	// Grades counts successful analyses by final score.
	Grades map[string]int
	// Failures counts failed analyses by error kind.
	Failures map[string]int
	Records  []*pipeline.Record
}

// Runner analyzes notebooks one after another. Provider pacing is left to
// the rate-limited provider behind the analyzer.
type Runner struct {
	analyzer Analyzer
	owner    string
}

// NewRunner creates a runner that files every record under owner.
func NewRunner(analyzer Analyzer, owner string) *Runner {
	return &Runner{analyzer: analyzer, owner: owner}
}

// Collect expands paths into notebook files. Directories are walked
// recursively; explicit file arguments are kept whatever their extension so
// validation can reject them.
func Collect(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				// Skip Jupyter's autosave copies.
				if d.Name() == ".ipynb_checkpoints" {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.EqualFold(filepath.Ext(path), notebook.Extension) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", p, err)
		}
	}
	sort.Strings(files)
	return files, nil
}

// Run analyzes each file. A failed file is counted and skipped; Run stops
// early only when ctx is done.
func (r *Runner) Run(ctx context.Context, files []string) *Result {
	res := &Result{Grades: make(map[string]int), Failures: make(map[string]int)}
	if len(files) == 0 {
		log.Println("No notebooks to analyze")
		return res
	}

	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		rec, err := r.analyzeFile(ctx, path)
		if err != nil {
			kind := string(apperr.KindOf(err))
			if kind == "" {
				kind = "other"
			}
			res.Failed++
			res.Failures[kind]++
			log.Printf("Error analyzing %s: %v", path, err)
			continue
		}
		res.Processed++
		res.Grades[string(rec.Feedback.FinalScore)]++
		res.Records = append(res.Records, rec)
		log.Printf("Analyzed [%s]: %s", rec.Feedback.FinalScore, path)
	}

	log.Printf("Batch complete: %d analyzed, %d failed", res.Processed, res.Failed)
	return res
}

func (r *Runner) analyzeFile(ctx context.Context, path string) (*pipeline.Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading notebook: %w", err)
	}
	return r.analyzer.Analyze(ctx, raw, filepath.Base(path), r.owner)
}
