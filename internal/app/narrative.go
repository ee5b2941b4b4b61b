package app

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"custodytrail/internal/model"
)

type CaseContext struct {
	Jurisdiction string
	Role         string
	Goals        string
	ChildNames   string
}

type NarrativeInput struct {
	Narrative     string
	ReferenceDate *time.Time
	TimeOfDay     string
	Location      *time.Location
	Now           time.Time
	Case          *CaseContext
	Evidence      []model.EvidenceItem
}

// PromptContext is everything the extraction call sees besides the system prompt.
type PromptContext struct {
	Narrative        string
	ReferenceDate    time.Time
	TemporalGuidance []string
	CaseBlock        string
	EvidenceBlock    string
	EvidenceLabels   []string
}

// NormalizeNarrative assembles the prompt context for one extraction. It is
// pure: the same input always yields the same context, and nothing is written.
func NormalizeNarrative(in NarrativeInput) (PromptContext, error) {
	if strings.TrimSpace(in.Narrative) == "" {
		return PromptContext{}, ErrNarrativeEmpty
	}
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}

	var ref time.Time
	if in.ReferenceDate != nil {
		ref = in.ReferenceDate.In(loc)
	} else {
		ref = in.Now.In(loc)
	}
	ref = time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, loc)

	evidence := make([]model.EvidenceItem, len(in.Evidence))
	copy(evidence, in.Evidence)
	sort.SliceStable(evidence, func(i, j int) bool {
		if evidence[i].SortOrder != evidence[j].SortOrder {
			return evidence[i].SortOrder < evidence[j].SortOrder
		}
		return evidence[i].ID < evidence[j].ID
	})
	block, labels := evidenceBlock(evidence)

	return PromptContext{
		Narrative:        in.Narrative,
		ReferenceDate:    ref,
		TemporalGuidance: temporalGuidance(ref, in.TimeOfDay),
		CaseBlock:        caseBlock(in.Case),
		EvidenceBlock:    block,
		EvidenceLabels:   labels,
	}, nil
}

func temporalGuidance(ref time.Time, timeOfDay string) []string {
	day := func(t time.Time) string { return t.Format("Monday 2006-01-02") }
	yesterday := ref.AddDate(0, 0, -1)

	lines := []string{
		fmt.Sprintf("Reference date: %s (%s)", day(ref), ref.Location()),
	}
	if tod := strings.TrimSpace(timeOfDay); tod != "" {
		lines = append(lines, fmt.Sprintf("Recorded at: %s", tod))
	}
	lines = append(lines,
		fmt.Sprintf(`"today", "this morning", "this afternoon", "tonight" = %s`, ref.Format("2006-01-02")),
		fmt.Sprintf(`"yesterday" = %s`, yesterday.Format("2006-01-02")),
		fmt.Sprintf(`"last night" = evening of %s, precision approximate`, yesterday.Format("2006-01-02")),
	)
	for offset := 2; offset <= 7; offset++ {
		d := ref.AddDate(0, 0, -offset)
		lines = append(lines, fmt.Sprintf(`"%s" or "last %s" = %s`,
			d.Weekday(), d.Weekday(), d.Format("2006-01-02")))
	}
	lines = append(lines,
		fmt.Sprintf(`"last week" = %s to %s, precision approximate`,
			ref.AddDate(0, 0, -7).Format("2006-01-02"), yesterday.Format("2006-01-02")),
		"Phrases like \"this morning\" without a clock time use precision approximate.",
	)
	return lines
}

func caseBlock(c *CaseContext) string {
	if c == nil {
		return "No case profile on file."
	}
	var b strings.Builder
	writeField := func(name, value string) {
		if v := strings.TrimSpace(value); v != "" {
			fmt.Fprintf(&b, "%s: %s\n", name, v)
		}
	}
	writeField("Jurisdiction", c.Jurisdiction)
	writeField("Parent role", c.Role)
	writeField("Goals", c.Goals)
	writeField("Children", c.ChildNames)
	if b.Len() == 0 {
		return "No case profile on file."
	}
	return strings.TrimRight(b.String(), "\n")
}

// evidenceBlock lists processed items only; unprocessed items cannot be cited.
func evidenceBlock(items []model.EvidenceItem) (string, []string) {
	var (
		b      strings.Builder
		labels []string
	)
	for i := range items {
		item := &items[i]
		if !item.IsProcessed || item.Summary == nil {
			continue
		}
		label := item.Label()
		labels = append(labels, label)
		fmt.Fprintf(&b, "[%s] %s\n", label, item.SourceType)
		if a := strings.TrimSpace(item.Annotation); a != "" {
			fmt.Fprintf(&b, "  Parent's note: %s\n", a)
		}
		fmt.Fprintf(&b, "  Summary: %s\n", strings.TrimSpace(*item.Summary))
		var details EvidenceSummary
		if len(item.SummaryDetails) > 0 && json.Unmarshal(item.SummaryDetails, &details) == nil {
			for _, fact := range details.KeyFacts {
				fmt.Fprintf(&b, "  - %s\n", fact)
			}
		}
	}
	if len(labels) == 0 {
		return "No evidence attached.", nil
	}
	return strings.TrimRight(b.String(), "\n"), labels
}

// Render lays the context out as the user message of the extraction call.
func (pc PromptContext) Render() string {
	var b strings.Builder
	b.WriteString("## Temporal guidance\n")
	for _, line := range pc.TemporalGuidance {
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n## Case context\n")
	b.WriteString(pc.CaseBlock)
	b.WriteString("\n\n## Evidence\n")
	b.WriteString(pc.EvidenceBlock)
	b.WriteString("\n\n## Narrative\n")
	b.WriteString(pc.Narrative)
	return b.String()
}
