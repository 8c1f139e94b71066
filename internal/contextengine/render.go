package contextengine

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/lukaszraczylo/memoryd/internal/store"
	"github.com/lukaszraczylo/memoryd/pkg/models"
)

func nullOr(v sql.NullString) string {
	if !v.Valid {
		return ""
	}
	return v.String
}

const emptyStateBody = "No prior context recorded for this project yet. Proceed normally; observations will accumulate as you work."

func renderEmptyState(renderMode string) string {
	if renderMode == "ansi" {
		return color.New(color.Faint).Sprint(emptyStateBody)
	}
	return emptyStateBody
}

func renderMarkdown(doc document) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Project context\n\n")
	fmt.Fprintf(&b, "%d observations, %d tokens used, ~%d tokens saved vs. re-discovery.\n\n",
		doc.observationCount, doc.tokensUsed, doc.tokensSaved)

	if doc.priorSummary != nil {
		b.WriteString("## Last session\n\n")
		writeSummaryMarkdown(&b, doc.priorSummary)
		b.WriteString("\n")
	}

	if doc.previously != "" {
		fmt.Fprintf(&b, "## Previously\n\n%s\n\n", doc.previously)
	}

	b.WriteString("## Timeline\n\n")
	for _, e := range doc.timeline {
		switch {
		case e.summary != nil:
			fmt.Fprintf(&b, "### Summary\n")
			writeSummaryMarkdown(&b, e.summary)
		case e.observation != nil && e.full:
			writeObservationFullMarkdown(&b, e.observation, doc.fullField)
		case e.observation != nil:
			writeObservationOneLineMarkdown(&b, e.observation)
		}
	}

	return strings.TrimSpace(b.String()) + "\n"
}

func writeSummaryMarkdown(b *strings.Builder, s *store.SessionSummary) {
	fmt.Fprintf(b, "- Request: %s\n", nullOr(s.Request))
	if v := nullOr(s.Investigated); v != "" {
		fmt.Fprintf(b, "- Investigated: %s\n", v)
	}
	if v := nullOr(s.Learned); v != "" {
		fmt.Fprintf(b, "- Learned: %s\n", v)
	}
	if v := nullOr(s.Completed); v != "" {
		fmt.Fprintf(b, "- Completed: %s\n", v)
	}
	if v := nullOr(s.NextSteps); v != "" {
		fmt.Fprintf(b, "- Next steps: %s\n", v)
	}
}

func writeObservationFullMarkdown(b *strings.Builder, o *store.Observation, field string) {
	fmt.Fprintf(b, "### [%s] %s\n\n", o.Type, nullOr(o.Title))
	if v := nullOr(o.Subtitle); v != "" {
		fmt.Fprintf(b, "_%s_\n\n", v)
	}
	switch field {
	case "facts":
		for _, f := range o.Facts {
			fmt.Fprintf(b, "- %s\n", f)
		}
	default:
		if v := nullOr(o.Narrative); v != "" {
			fmt.Fprintf(b, "%s\n", v)
		}
	}
	b.WriteString("\n")
}

func writeObservationOneLineMarkdown(b *strings.Builder, o *store.Observation) {
	fmt.Fprintf(b, "- [%s] %s\n", o.Type, nullOr(o.Title))
}

func renderANSI(doc document) string {
	var b strings.Builder
	header := color.New(color.Bold, color.FgCyan)
	dim := color.New(color.Faint)

	b.WriteString(header.Sprint("Project context") + "\n\n")
	fmt.Fprintf(&b, "%s\n\n", dim.Sprintf("%d observations, %d tokens used, ~%d tokens saved vs. re-discovery.",
		doc.observationCount, doc.tokensUsed, doc.tokensSaved))

	if doc.priorSummary != nil {
		b.WriteString(header.Sprint("Last session") + "\n")
		writeSummaryANSI(&b, doc.priorSummary)
		b.WriteString("\n")
	}

	if doc.previously != "" {
		fmt.Fprintf(&b, "%s\n%s\n\n", header.Sprint("Previously"), doc.previously)
	}

	b.WriteString(header.Sprint("Timeline") + "\n")
	for _, e := range doc.timeline {
		switch {
		case e.summary != nil:
			writeSummaryANSI(&b, e.summary)
		case e.observation != nil && e.full:
			writeObservationFullANSI(&b, e.observation)
		case e.observation != nil:
			writeObservationOneLineANSI(&b, e.observation)
		}
	}

	return strings.TrimSpace(b.String()) + "\n"
}

func writeSummaryANSI(b *strings.Builder, s *store.SessionSummary) {
	fmt.Fprintf(b, "  %s\n", nullOr(s.Request))
}

func writeObservationFullANSI(b *strings.Builder, o *store.Observation) {
	typeColor := typeTagColor(o.Type)
	fmt.Fprintf(b, "  %s %s\n", typeColor.Sprintf("[%s]", o.Type), nullOr(o.Title))
	if v := nullOr(o.Narrative); v != "" {
		fmt.Fprintf(b, "    %s\n", v)
	}
}

func writeObservationOneLineANSI(b *strings.Builder, o *store.Observation) {
	typeColor := typeTagColor(o.Type)
	fmt.Fprintf(b, "  %s %s\n", typeColor.Sprintf("[%s]", o.Type), nullOr(o.Title))
}

func typeTagColor(t models.ObservationType) *color.Color {
	switch t {
	case models.ObsTypeBugfix:
		return color.New(color.FgRed)
	case models.ObsTypeFeature:
		return color.New(color.FgGreen)
	case models.ObsTypeDecision:
		return color.New(color.FgYellow)
	case models.ObsTypeRefactor:
		return color.New(color.FgMagenta)
	default:
		return color.New(color.FgBlue)
	}
}
