package app

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"path"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"custodytrail/internal/ai"
	"custodytrail/internal/model"
	"custodytrail/internal/pkg/pdfextract"
	"custodytrail/internal/repository"
	"custodytrail/internal/storage"
)

const maxEvidenceTextRunes = 20000

// EvidenceSummary is the structured per-item summary stored on the item.
type EvidenceSummary struct {
	Summary         string   `json:"summary" validate:"required"`
	KeyFacts        []string `json:"keyFacts" validate:"dive,required"`
	DatesMentioned  []string `json:"datesMentioned" validate:"dive,required"`
	PeopleMentioned []string `json:"peopleMentioned" validate:"dive,required"`
}

type EvidenceOutcome struct {
	ItemID    uint   `json:"item_id"`
	Label     string `json:"label"`
	Processed bool   `json:"processed"`
	Skipped   bool   `json:"skipped"`
	Error     string `json:"error,omitempty"`
}

type EvidenceReport struct {
	Total     int               `json:"total"`
	Processed int               `json:"processed"`
	Failed    int               `json:"failed"`
	Outcomes  []EvidenceOutcome `json:"outcomes"`
}

// EvidenceProgressFunc is called after each item finishes.
type EvidenceProgressFunc func(done, failed, total int)

const evidenceSystemPrompt = `You summarize one piece of evidence a parent attached to a custody record.
Describe only what the artifact shows or says. List concrete facts, any dates written in it, and the people it names.
Use the parent's note as context, not as fact.`

// EvidenceProcessor stores and summarizes a session's evidence items through a
// bounded worker pool. The default pool size of one keeps items strictly
// sequential in citation order.
type EvidenceProcessor struct {
	evidence    *repository.EvidenceRepository
	blobs       BlobStore
	llm         StructuredCompleter
	cfg         ai.ChatConfig
	labeler     PhotoLabeler
	validate    *validator.Validate
	schema      ai.ResponseSchema
	concurrency int
}

func NewEvidenceProcessor(
	evidence *repository.EvidenceRepository,
	blobs BlobStore,
	llm StructuredCompleter,
	cfg ai.ChatConfig,
	labeler PhotoLabeler,
	concurrency int,
) *EvidenceProcessor {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &EvidenceProcessor{
		evidence:    evidence,
		blobs:       blobs,
		llm:         llm,
		cfg:         cfg,
		labeler:     labeler,
		validate:    newValidator(),
		schema:      evidenceSummarySchema(),
		concurrency: concurrency,
	}
}

func evidenceSummarySchema() ai.ResponseSchema {
	return ai.ResponseSchema{
		Name: "evidence_summary",
		Schema: objectSchema(map[string]interface{}{
			"summary":         stringSchema("two or three neutral sentences"),
			"keyFacts":        arraySchema(stringSchema("one concrete fact")),
			"datesMentioned":  arraySchema(stringSchema("a date or time as written")),
			"peopleMentioned": arraySchema(stringSchema("a person named or described")),
		}),
	}
}

// ProcessSession runs every item of the session through the pool. A failing
// item is recorded on the item and never stops the others; the returned error
// is reserved for failures to read the session's items at all.
func (p *EvidenceProcessor) ProcessSession(
	ctx context.Context,
	userID, sessionID uint,
	force bool,
	onProgress EvidenceProgressFunc,
) (*EvidenceReport, error) {
	items, err := p.evidence.ListBySessionID(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	report := &EvidenceReport{Total: len(items), Outcomes: make([]EvidenceOutcome, len(items))}
	if len(items) == 0 {
		return report, nil
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		done int
		jobs = make(chan int)
	)
	workers := p.concurrency
	if workers > len(items) {
		workers = len(items)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				outcome := p.processItem(ctx, &items[idx], force)

				mu.Lock()
				report.Outcomes[idx] = outcome
				done++
				if outcome.Processed {
					report.Processed++
				} else {
					report.Failed++
				}
				if onProgress != nil {
					onProgress(done, report.Failed, report.Total)
				}
				mu.Unlock()
			}
		}()
	}
	for idx := range items {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	log.Printf("evidence session=%d user=%d processed=%d failed=%d", sessionID, userID, report.Processed, report.Failed)
	return report, nil
}

// ProcessItem runs a single item, used for explicit re-processing.
func (p *EvidenceProcessor) ProcessItem(ctx context.Context, userID, itemID uint, force bool) (*model.EvidenceItem, EvidenceOutcome, error) {
	item, err := p.evidence.GetByIDAndUserID(ctx, itemID, userID)
	if err != nil {
		return nil, EvidenceOutcome{}, err
	}
	if item == nil {
		return nil, EvidenceOutcome{}, ErrEvidenceNotFound
	}
	outcome := p.processItem(ctx, item, force)
	updated, err := p.evidence.GetByIDAndUserID(ctx, itemID, userID)
	if err != nil {
		return nil, outcome, err
	}
	return updated, outcome, nil
}

func (p *EvidenceProcessor) processItem(ctx context.Context, item *model.EvidenceItem, force bool) EvidenceOutcome {
	outcome := EvidenceOutcome{ItemID: item.ID, Label: item.Label()}
	if item.IsProcessed && !force {
		outcome.Processed = true
		outcome.Skipped = true
		return outcome
	}

	data, err := p.loadArtifact(ctx, item)
	if err != nil {
		return p.fail(ctx, item, outcome, MessageUploadFailed, err)
	}

	messages, err := p.summaryMessages(item, data)
	if err != nil {
		return p.fail(ctx, item, outcome, MessageUploadFailed, err)
	}

	raw, err := p.llm.CompleteJSON(ctx, p.cfg, messages, p.schema)
	if err != nil {
		return p.fail(ctx, item, outcome, MessageAnalysisFailed, err)
	}
	summary, err := decodeStrict[EvidenceSummary](raw, p.validate)
	if err != nil {
		return p.fail(ctx, item, outcome, MessageAnalysisFailed, err)
	}
	details, err := json.Marshal(summary)
	if err != nil {
		return p.fail(ctx, item, outcome, MessageAnalysisFailed, err)
	}

	if err := p.evidence.MarkProcessed(ctx, item.ID, item.UserID, summary.Summary, details); err != nil {
		log.Printf("evidence item=%d save summary failed: %v", item.ID, err)
		outcome.Error = MessageSaveFailed
		return outcome
	}
	outcome.Processed = true
	return outcome
}

// loadArtifact stores staged bytes on first run and reads them back from blob
// storage when an already-stored item is forced through again.
func (p *EvidenceProcessor) loadArtifact(ctx context.Context, item *model.EvidenceItem) ([]byte, error) {
	data := item.StagedContent
	if item.StorageRef == "" && len(data) > 0 {
		ref, err := p.blobs.Put(ctx, storage.EvidencePath(item.UserID, item.CaptureSessionID, item.FileName), data)
		if err != nil {
			return nil, fmt.Errorf("store artifact: %w", err)
		}
		if err := p.evidence.MarkStored(ctx, item.ID, item.UserID, ref); err != nil {
			return nil, err
		}
		item.StorageRef = ref
	}
	if len(data) == 0 && item.StorageRef != "" {
		stored, err := p.blobs.Get(ctx, item.StorageRef)
		if err != nil {
			return nil, fmt.Errorf("read artifact: %w", err)
		}
		data = stored
	}
	return data, nil
}

func (p *EvidenceProcessor) summaryMessages(item *model.EvidenceItem, data []byte) ([]ai.ChatMessage, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Evidence type: %s\n", item.SourceType)
	if item.FileName != "" {
		fmt.Fprintf(&b, "File name: %s\n", item.FileName)
	}
	if note := strings.TrimSpace(item.Annotation); note != "" {
		fmt.Fprintf(&b, "Parent's note: %s\n", note)
	}

	user := ai.ChatMessage{Role: "user"}
	switch {
	case item.SourceType == model.EvidenceSourcePhoto && len(data) > 0:
		if p.labeler != nil {
			labels, err := p.labeler.Labels(data)
			if err != nil {
				log.Printf("evidence item=%d photo labels failed: %v", item.ID, err)
			} else if len(labels) > 0 {
				fmt.Fprintf(&b, "Image classifier hints: %s\n", strings.Join(labels, ", "))
			}
		}
		user.ImageURLs = []string{dataURL(item.ContentType, data)}
	case isPDF(item):
		text, err := pdfextract.Text(data)
		if err != nil {
			return nil, fmt.Errorf("extract pdf text: %w", err)
		}
		writeArtifactText(&b, text)
	case item.SourceType == model.EvidenceSourceRecording:
		b.WriteString("Audio recording; no transcript available. Summarize from the note only.\n")
	case len(data) > 0:
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("artifact is not text")
		}
		writeArtifactText(&b, string(data))
	default:
		b.WriteString("No artifact content; summarize the note.\n")
	}
	user.Content = b.String()

	return []ai.ChatMessage{
		{Role: "system", Content: evidenceSystemPrompt},
		user,
	}, nil
}

func writeArtifactText(b *strings.Builder, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		b.WriteString("The artifact contains no readable text.\n")
		return
	}
	if utf8.RuneCountInString(text) > maxEvidenceTextRunes {
		text = string([]rune(text)[:maxEvidenceTextRunes])
	}
	b.WriteString("Content:\n")
	b.WriteString(text)
	b.WriteString("\n")
}

func isPDF(item *model.EvidenceItem) bool {
	return item.ContentType == "application/pdf" || strings.EqualFold(path.Ext(item.FileName), ".pdf")
}

func dataURL(contentType string, data []byte) string {
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func (p *EvidenceProcessor) fail(ctx context.Context, item *model.EvidenceItem, outcome EvidenceOutcome, category string, cause error) EvidenceOutcome {
	log.Printf("evidence item=%d session=%d failed: %v", item.ID, item.CaptureSessionID, fmt.Errorf("%w: %w", ErrEvidenceProcessing, cause))
	record := p.evidence.MarkFailed
	if item.IsProcessed && item.Summary != nil {
		record = p.evidence.RecordError
	}
	if err := record(ctx, item.ID, item.UserID, category); err != nil {
		log.Printf("evidence item=%d record failure failed: %v", item.ID, err)
	}
	outcome.Error = category
	return outcome
}
