package pipeline

import (
	"context"
	"fmt"

	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle"
	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle/translate"
)

// Stage names the document phases reported through Hooks
type Stage string

const (
	StageExtracting  Stage = "extracting"
	StageTranslating Stage = "translating"
	StageMerging     Stage = "merging"
)

// Hooks receive stage changes and batch progress during TranslateDocument
type Hooks struct {
	Stage    func(Stage)
	Progress ProgressFunc
}

func (h Hooks) stage(s Stage) {
	if h.Stage != nil {
		h.Stage(s)
	}
}

// DocumentResult is a translated document plus the run outcome. Entries that
// were not translated keep their original text, markup included.
type DocumentResult struct {
	Document *subtitle.Document `json:"document"`
	Outcome  *Outcome           `json:"outcome"`
}

// TranslateDocument strips markup from every entry, translates the plain
// text and restores the markup onto the translations. It fails only when an
// entry is not valid text; backend failures are reported in the outcome.
func (o *Orchestrator) TranslateDocument(ctx context.Context, doc *subtitle.Document, p Params, hooks Hooks) (*DocumentResult, error) {
	hooks.stage(StageExtracting)
	items := make([]Item, len(doc.Entries))
	maps := make([]subtitle.FormatMap, len(doc.Entries))
	for i, e := range doc.Entries {
		plain, fm, err := subtitle.Extract(e.Text)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		items[i] = Item{ID: e.ID, Index: e.SequenceIndex, Text: plain}
		maps[i] = fm
	}

	hooks.stage(StageTranslating)
	outcome := o.Run(ctx, items, p, hooks.Progress)
	if !outcome.Cancelled {
		hooks.stage(StageMerging)
	}

	texts := make([]string, len(doc.Entries))
	for i, res := range outcome.Results {
		texts[i] = doc.Entries[i].Text
		if !res.Translated {
			continue
		}
		restored, err := subtitle.Restore(res.Text, maps[i])
		if err != nil {
			outcome.Results[i].Translated = false
			outcome.Results[i].Reason = string(translate.ErrorMalformedResponse)
			outcome.Results[i].Text = res.Source
			continue
		}
		texts[i] = restored
	}

	return &DocumentResult{Document: doc.WithTexts(texts), Outcome: outcome}, nil
}
