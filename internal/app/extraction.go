package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/go-playground/validator/v10"

	"custodytrail/internal/ai"
)

// ExtractionResult is the validated output of one extraction call. Every field
// is required on the wire; nullable fields are pointers.
type ExtractionResult struct {
	Events      []ExtractedEvent      `json:"events" validate:"dive"`
	ActionItems []ExtractedActionItem `json:"actionItems" validate:"dive"`
	Metadata    ExtractionMetadata    `json:"metadata"`
}

type ExtractedEvent struct {
	Type               string                `json:"type" validate:"oneof=incident positive medical school communication legal"`
	Title              string                `json:"title" validate:"required,max=255"`
	Description        string                `json:"description" validate:"required"`
	Timestamp          *string               `json:"timestamp" validate:"omitempty,timestamp"`
	TimestampPrecision string                `json:"timestampPrecision" validate:"oneof=exact day approximate unknown"`
	Duration           *string               `json:"duration" validate:"omitempty,max=64"`
	Location           *string               `json:"location" validate:"omitempty,max=255"`
	Participants       ExtractedParticipants `json:"participants"`
	ChildInvolved      bool                  `json:"childInvolved"`
	CustodyRelevance   CustodyRelevance      `json:"custodyRelevance"`
	EvidenceMentions   []string              `json:"evidenceMentions" validate:"dive,required"`
	Patterns           []ExtractedPattern    `json:"patterns" validate:"dive"`
}

type ExtractedParticipants struct {
	Primary       []string `json:"primary" validate:"dive,required"`
	Witnesses     []string `json:"witnesses" validate:"dive,required"`
	Professionals []string `json:"professionals" validate:"dive,required"`
}

// CustodyRelevance uses null for "cannot tell" on the yes/no questions.
type CustodyRelevance struct {
	AgreementViolation *bool  `json:"agreementViolation"`
	SafetyConcern      *bool  `json:"safetyConcern"`
	WelfareImpact      string `json:"welfareImpact" validate:"oneof=positive negative none unknown"`
}

type ExtractedPattern struct {
	Key   string `json:"key" validate:"required,max=128"`
	Label string `json:"label" validate:"required,max=255"`
}

type ExtractedActionItem struct {
	Priority          string  `json:"priority" validate:"oneof=high medium low"`
	Type              string  `json:"type" validate:"oneof=document communication legal medical school follow_up other"`
	Description       string  `json:"description" validate:"required"`
	Deadline          *string `json:"deadline" validate:"omitempty,datetime=2006-01-02"`
	RelatedEventIndex *int    `json:"relatedEventIndex" validate:"omitempty,min=0"`
}

type ExtractionMetadata struct {
	Confidence  float64  `json:"confidence" validate:"gte=0,lte=1"`
	Ambiguities []string `json:"ambiguities" validate:"dive,required"`
}

func extractionSchema() ai.ResponseSchema {
	participants := objectSchema(map[string]interface{}{
		"primary":       arraySchema(stringSchema("people directly involved")),
		"witnesses":     arraySchema(stringSchema("people who saw or heard it")),
		"professionals": arraySchema(stringSchema("teachers, doctors, counselors, officers")),
	})
	relevance := objectSchema(map[string]interface{}{
		"agreementViolation": map[string]interface{}{"type": []string{"boolean", "null"}, "description": "null when the narrative does not say"},
		"safetyConcern":      map[string]interface{}{"type": []string{"boolean", "null"}, "description": "null when the narrative does not say"},
		"welfareImpact":      enumSchema("effect on the child's welfare", "positive", "negative", "none", "unknown"),
	})
	pattern := objectSchema(map[string]interface{}{
		"key":   stringSchema("stable snake_case identifier, e.g. late_pickup"),
		"label": stringSchema("short human label"),
	})
	event := objectSchema(map[string]interface{}{
		"type":               enumSchema("event category", "incident", "positive", "medical", "school", "communication", "legal"),
		"title":              stringSchema("short factual title"),
		"description":        stringSchema("neutral factual description in the parent's own terms"),
		"timestamp":          nullableStringSchema("ISO 8601 local time (YYYY-MM-DDTHH:MM) or date (YYYY-MM-DD); null if unknown"),
		"timestampPrecision": enumSchema("how precise the timestamp is", "exact", "day", "approximate", "unknown"),
		"duration":           nullableStringSchema("how long it lasted, null if not stated"),
		"location":           nullableStringSchema("where it happened, null if not stated"),
		"participants":       participants,
		"childInvolved":      map[string]interface{}{"type": "boolean"},
		"custodyRelevance":   relevance,
		"evidenceMentions":   arraySchema(stringSchema("evidence label such as E1")),
		"patterns":           arraySchema(pattern),
	})
	action := objectSchema(map[string]interface{}{
		"priority":          enumSchema("urgency", "high", "medium", "low"),
		"type":              enumSchema("kind of follow-up", "document", "communication", "legal", "medical", "school", "follow_up", "other"),
		"description":       stringSchema("what the parent should do"),
		"deadline":          nullableStringSchema("YYYY-MM-DD, null if none"),
		"relatedEventIndex": map[string]interface{}{"type": []string{"integer", "null"}, "description": "index into events, null if general"},
	})
	metadata := objectSchema(map[string]interface{}{
		"confidence":  map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
		"ambiguities": arraySchema(stringSchema("anything unclear the parent should clarify")),
	})
	return ai.ResponseSchema{
		Name: "timeline_extraction",
		Schema: objectSchema(map[string]interface{}{
			"events":      arraySchema(event),
			"actionItems": arraySchema(action),
			"metadata":    metadata,
		}),
	}
}

const extractionSystemPrompt = `You turn a parent's narrative into structured timeline records for a family-law record.
Rules:
- A narrative may describe zero, one or many separate events. Return each distinct event separately.
- Record only what the narrative or evidence states. When something is not stated use null or "unknown"; never guess.
- Resolve relative dates with the temporal guidance. If a time cannot be resolved, set timestamp to null and timestampPrecision to "unknown".
- Cite evidence only by the labels given (E1, E2, ...).
- Keep descriptions neutral and factual.`

type StructuredCompleter interface {
	CompleteJSON(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage, schema ai.ResponseSchema) (string, error)
}

// ExtractionEngine runs the schema-constrained extraction call and returns
// either a fully valid result or a classified error. It never retries.
type ExtractionEngine struct {
	llm      StructuredCompleter
	cfg      ai.ChatConfig
	validate *validator.Validate
	schema   ai.ResponseSchema
}

func NewExtractionEngine(llm StructuredCompleter, cfg ai.ChatConfig) *ExtractionEngine {
	return &ExtractionEngine{
		llm:      llm,
		cfg:      cfg,
		validate: newValidator(),
		schema:   extractionSchema(),
	}
}

func (e *ExtractionEngine) Extract(ctx context.Context, pc PromptContext) (*ExtractionResult, error) {
	messages := []ai.ChatMessage{
		{Role: "system", Content: extractionSystemPrompt},
		{Role: "user", Content: pc.Render()},
	}

	raw, err := e.llm.CompleteJSON(ctx, e.cfg, messages, e.schema)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractionProvider, err)
	}

	result, err := decodeStrict[ExtractionResult](raw, e.validate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionSchema, err)
	}
	if err := checkReferences(result, pc.EvidenceLabels); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionSchema, err)
	}
	for i := range result.Events {
		kept := result.Events[i].Patterns[:0]
		for _, p := range result.Events[i].Patterns {
			if p.Key = normalizePatternKey(p.Key); p.Key != "" {
				kept = append(kept, p)
			}
		}
		result.Events[i].Patterns = kept
	}
	log.Printf("extraction: %d events, %d action items, confidence %.2f",
		len(result.Events), len(result.ActionItems), result.Metadata.Confidence)
	return result, nil
}

// checkReferences rejects cross-references the schema cannot express: action
// items pointing past the event list, and evidence labels that were never offered.
func checkReferences(result *ExtractionResult, labels []string) error {
	known := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		known[l] = struct{}{}
	}
	for i, ev := range result.Events {
		for _, m := range ev.EvidenceMentions {
			if _, ok := known[m]; !ok {
				return fmt.Errorf("$.events[%d].evidenceMentions: unknown evidence label %q", i, m)
			}
		}
	}
	for i, item := range result.ActionItems {
		if item.RelatedEventIndex != nil && *item.RelatedEventIndex >= len(result.Events) {
			return fmt.Errorf("$.actionItems[%d].relatedEventIndex: %d out of range", i, *item.RelatedEventIndex)
		}
	}
	return nil
}

func normalizePatternKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.Join(strings.FieldsFunc(key, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}), "_")
}
