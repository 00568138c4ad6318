package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/basamba1990/scimentor-ai/internal/apperr"
	"github.com/basamba1990/scimentor-ai/internal/blob"
	"github.com/basamba1990/scimentor-ai/internal/feedback"
	"github.com/basamba1990/scimentor-ai/internal/notebook"
	"github.com/basamba1990/scimentor-ai/internal/prompt"
)

// Stage is a state of one analysis run.
type Stage string

const (
	StageReceived       Stage = "received"
	StageValidated      Stage = "validated"
	StagePromptBuilt    Stage = "prompt_built"
	StageInvoked        Stage = "invoked"
	StageFeedbackParsed Stage = "feedback_parsed"
	StageStored         Stage = "stored"
	StageSaved          Stage = "saved"
)

// StepResult holds the result of a single pipeline step. Stage is the state
// the step moves into; Err is set when it failed there.
type StepResult struct {
	Stage   Stage
	Summary string
	Err     error
}

// StageError is returned by Analyze: the stage that could not be reached and
// the classified cause. errors.Is(err, apperr.X) sees through it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Invoker sends a prompt to the model and returns its JSON reply.
type Invoker interface {
	Invoke(ctx context.Context, p prompt.Prompt) (json.RawMessage, error)
}

// Orchestrator runs analyses and serves owner-scoped history. It holds no
// per-request state and is safe for concurrent use.
type Orchestrator struct {
	invoker Invoker
	store   RecordStore
	blobs   blob.Store
	now     func() time.Time

	// OnStep, if set, is called after every step of Analyze.
	OnStep func(owner string, step StepResult)
}

// New creates an orchestrator. With a nil blob store the raw document is not
// retained; the record still carries the key it would have been stored under.
func New(invoker Invoker, store RecordStore, blobs blob.Store) *Orchestrator {
	return &Orchestrator{
		invoker: invoker,
		store:   store,
		blobs:   blobs,
		now:     time.Now,
	}
}

// Analyze validates raw, asks the model for feedback, stores the document and
// persists the record. ProcessingTimeMs covers everything up to the insert.
func (o *Orchestrator) Analyze(ctx context.Context, raw []byte, filename, ownerID string) (*Record, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, &StageError{Stage: StageReceived, Err: apperr.New(apperr.Unauthenticated, "owner is required")}
	}
	start := o.now()
	o.step(ownerID, StepResult{Stage: StageReceived, Summary: fmt.Sprintf("%s (%d bytes)", filename, len(raw))})

	doc, err := notebook.Validate(raw, filename)
	if err != nil {
		return nil, o.fail(ownerID, StageValidated, err)
	}
	o.step(ownerID, StepResult{Stage: StageValidated, Summary: fmt.Sprintf("%d cells", doc.CellCount())})

	p := prompt.Build(doc)
	o.step(ownerID, StepResult{Stage: StagePromptBuilt, Summary: fmt.Sprintf("%d bytes", len(p.User))})

	reply, err := o.invoker.Invoke(ctx, p)
	if err != nil {
		return nil, o.fail(ownerID, StageInvoked, err)
	}
	// The provider call ignores cancellation; an abandoned request ends here.
	if err := ctx.Err(); err != nil {
		return nil, o.fail(ownerID, StageInvoked, err)
	}
	o.step(ownerID, StepResult{Stage: StageInvoked, Summary: fmt.Sprintf("%d bytes of JSON", len(reply))})

	fb, warnings, err := feedback.Parse(reply, doc.CellCount())
	if err != nil {
		return nil, o.fail(ownerID, StageFeedbackParsed, err)
	}
	o.step(ownerID, StepResult{
		Stage:   StageFeedbackParsed,
		Summary: fmt.Sprintf("grade %s, %d points, %d warnings", fb.FinalScore, len(fb.Points), len(warnings)),
	})

	documentPath, err := o.storeDocument(ctx, ownerID, filename, raw, start)
	if err != nil {
		return nil, o.fail(ownerID, StageStored, err)
	}
	o.step(ownerID, StepResult{Stage: StageStored, Summary: documentPath})

	elapsed := o.now().Sub(start).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}
	rec, err := o.store.Save(ctx, ownerID, documentPath, fb, elapsed)
	if err != nil {
		return nil, o.fail(ownerID, StageSaved, err)
	}
	o.step(ownerID, StepResult{Stage: StageSaved, Summary: fmt.Sprintf("record %s in %dms", rec.ID, rec.ProcessingTimeMs)})
	return rec, nil
}

func (o *Orchestrator) storeDocument(ctx context.Context, ownerID, filename string, raw []byte, at time.Time) (string, error) {
	key := blob.Key(ownerID, filename, at)
	if o.blobs == nil {
		return key, nil
	}
	path, err := o.blobs.Put(ctx, key, raw)
	if err != nil {
		return "", apperr.Wrap(apperr.PersistenceError, err, "storing document")
	}
	return path, nil
}

// GetHistory returns one window of the owner's records, newest first.
func (o *Orchestrator) GetHistory(ctx context.Context, ownerID string, q Query) (*HistoryPage, error) {
	ownerID, err := requireOwner(ownerID)
	if err != nil {
		return nil, err
	}
	return o.store.List(ctx, ownerID, q)
}

// GetAnalysis returns one of the owner's records.
func (o *Orchestrator) GetAnalysis(ctx context.Context, recordID, ownerID string) (*Record, error) {
	ownerID, err := requireOwner(ownerID)
	if err != nil {
		return nil, err
	}
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return nil, apperr.New(apperr.NotFoundOrForbidden, "analysis id is required")
	}
	return o.store.Get(ctx, recordID, ownerID)
}

// GetDocument returns the stored notebook behind one of the owner's records.
func (o *Orchestrator) GetDocument(ctx context.Context, recordID, ownerID string) ([]byte, error) {
	rec, err := o.GetAnalysis(ctx, recordID, ownerID)
	if err != nil {
		return nil, err
	}
	if o.blobs == nil {
		return nil, apperr.New(apperr.NotFoundOrForbidden, "document for analysis %s was not kept", rec.ID)
	}
	data, err := o.blobs.Get(ctx, rec.DocumentPath)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, apperr.New(apperr.NotFoundOrForbidden, "document %s not found", rec.DocumentPath)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.PersistenceError, err, "reading document %s", rec.DocumentPath)
	}
	return data, nil
}

// RemoveAnalysis deletes one of the owner's records.
func (o *Orchestrator) RemoveAnalysis(ctx context.Context, recordID, ownerID string) error {
	ownerID, err := requireOwner(ownerID)
	if err != nil {
		return err
	}
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return apperr.New(apperr.NotFoundOrForbidden, "analysis id is required")
	}
	if err := o.store.Delete(ctx, recordID, ownerID); err != nil {
		return err
	}
	log.Printf("analysis %s deleted by %s", recordID, ownerID)
	return nil
}

func requireOwner(ownerID string) (string, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return "", apperr.New(apperr.Unauthenticated, "owner is required")
	}
	return ownerID, nil
}

func (o *Orchestrator) step(owner string, s StepResult) {
	log.Printf("analyze[%s]: %s: %s", owner, s.Stage, s.Summary)
	if o.OnStep != nil {
		o.OnStep(owner, s)
	}
}

func (o *Orchestrator) fail(owner string, stage Stage, err error) error {
	kind := apperr.KindOf(err)
	if kind == "" {
		kind = "unclassified"
	}
	log.Printf("analyze[%s]: failed at %s (%s): %v", owner, stage, kind, err)
	if o.OnStep != nil {
		o.OnStep(owner, StepResult{Stage: stage, Err: err})
	}
	return &StageError{Stage: stage, Err: err}
}
