package job

import (
	"errors"
	"time"

	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle"
	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle/pipeline"
	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle/translate"
)

// State represents the lifecycle stage of a task
type State string

const (
	StateQueued      State = "queued"
	StateExtracting  State = "extracting"
	StateTranslating State = "translating"
	StateMerging     State = "merging"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateCancelled   State = "cancelled"
)

var (
	ErrNotFound          = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid task state transition")
	// ErrTaskFatal wraps failures that end a task before any translation
	// could be attempted, or after every batch failed
	ErrTaskFatal    = errors.New("task failed")
	ErrNotFinished  = errors.New("task has not finished")
	ErrInvalidInput = errors.New("invalid task request")
	ErrStopped      = errors.New("task manager is stopped")
)

// forward lists the legal successors of each non-terminal state.
// Every non-terminal state may also move to failed or cancelled.
var forward = map[State]State{
	StateQueued:      StateExtracting,
	StateExtracting:  StateTranslating,
	StateTranslating: StateMerging,
	StateMerging:     StateCompleted,
}

// Terminal reports whether s is absorbing
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// CanTransition reports whether a task in state s may move to next
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed || next == StateCancelled {
		return true
	}
	return forward[s] == next
}

// Task is the externally visible status of one translation run
type Task struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	State            State      `json:"state"`
	Progress         float64    `json:"progress"`
	CompletedBatches int        `json:"completed_batches"`
	TotalBatches     int        `json:"total_batches"`
	FailedBatches    int        `json:"failed_batches"`
	Entries          int        `json:"entries"`
	Backend          string     `json:"backend"`
	Model            string     `json:"model,omitempty"`
	SourceLanguage   string     `json:"source_language,omitempty"`
	TargetLanguage   string     `json:"target_language"`
	Error            string     `json:"error,omitempty"`
	OwnerID          int64      `json:"owner_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// Request describes a task to submit. Backend must be fully resolved,
// credentials included.
type Request struct {
	Name         string             `json:"name"`
	Document     *subtitle.Document `json:"-"`
	Backend      translate.Config   `json:"backend"`
	Params       pipeline.Params    `json:"params"`
	OutputFormat subtitle.Format    `json:"output_format,omitempty"`
	OwnerID      int64              `json:"owner_id,omitempty"`
}

// ResultEntry is one entry of a finished task. Untranslated entries keep
// their source text and carry a reason.
type ResultEntry struct {
	ID         string `json:"id"`
	Index      int    `json:"index"`
	StartMs    int64  `json:"start_ms"`
	EndMs      int64  `json:"end_ms"`
	Text       string `json:"text"`
	Translated bool   `json:"translated"`
	Reason     string `json:"reason,omitempty"`
}

// Result is the document-shaped output of a finished task
type Result struct {
	TaskID       string                  `json:"task_id"`
	Format       subtitle.Format         `json:"format"`
	OutputPath   string                  `json:"output_path,omitempty"`
	Content      string                  `json:"content"`
	Entries      []ResultEntry           `json:"entries"`
	Untranslated []string                `json:"untranslated,omitempty"`
	Failures     []pipeline.BatchFailure `json:"failures,omitempty"`
	Warning      string                  `json:"warning,omitempty"`
}

// buildResult merges the translated document with the per-entry outcome
func buildResult(taskID string, doc *subtitle.Document, results []pipeline.Result, format subtitle.Format) *Result {
	if format == "" {
		format = doc.Format
	}
	res := &Result{
		TaskID:  taskID,
		Format:  format,
		Content: subtitle.Render(subtitle.Convert(doc, format)),
		Entries: make([]ResultEntry, len(doc.Entries)),
	}
	for i, e := range doc.Entries {
		re := ResultEntry{
			ID:         e.ID,
			Index:      e.SequenceIndex,
			StartMs:    e.Start.Milliseconds(),
			EndMs:      e.End.Milliseconds(),
			Text:       e.Text,
			Translated: true,
		}
		if i < len(results) {
			re.Translated = results[i].Translated
			re.Reason = results[i].Reason
		}
		if !re.Translated {
			res.Untranslated = append(res.Untranslated, e.ID)
		}
		res.Entries[i] = re
	}
	return res
}

// untranslatedResults marks every entry of doc as not translated
func untranslatedResults(doc *subtitle.Document, reason string) []pipeline.Result {
	out := make([]pipeline.Result, len(doc.Entries))
	for i, e := range doc.Entries {
		out[i] = pipeline.Result{ID: e.ID, Index: e.SequenceIndex, Text: e.Text, Source: e.Text, Reason: reason}
	}
	return out
}
