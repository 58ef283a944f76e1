package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/memlogd/memlog/internal/ops"
	"github.com/memlogd/memlog/internal/types"
)

var (
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

func renderBool(ok bool) string {
	if ok {
		return passStyle.Render("PASS")
	}
	return failStyle.Render("FAIL")
}

// renderMarkdown renders md through glamour's terminal renderer, falling
// back to printing it verbatim if the renderer can't be built (e.g. no
// terminal profile detected).
func renderMarkdown(md string) error {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		fmt.Println(md)
		return nil
	}
	out, err := r.Render(md)
	if err != nil {
		fmt.Println(md)
		return nil
	}
	fmt.Print(out)
	return nil
}

func renderConsolidationExplanation(episodeID string, decisions []*types.ConsolidationDecision) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Consolidation for %s\n\n", episodeID)
	if len(decisions) == 0 {
		b.WriteString("_no consolidation decisions recorded_\n")
	}
	for _, d := range decisions {
		fmt.Fprintf(&b, "## %s\n\n", d.DecisionType)
		fmt.Fprintf(&b, "- candidate: `%s`\n", d.CandidateID)
		if d.CardID != "" {
			fmt.Fprintf(&b, "- card: `%s`\n", d.CardID)
		}
		if d.ReasonCode != "" {
			fmt.Fprintf(&b, "- reason: `%s`\n", d.ReasonCode)
		}
		if d.DetailJSON != "" {
			fmt.Fprintf(&b, "- detail: %s\n", d.DetailJSON)
		}
		b.WriteString("\n")
	}
	return renderMarkdown(b.String())
}

func renderGateReport(report *ops.GateReport) error {
	fmt.Printf("ready_for_causal_instrumentation: %s\n\n", renderBool(report.ReadyForCausalInstrumentation))

	var b strings.Builder
	b.WriteString("# Rollout gates\n\n")
	fmt.Fprintf(&b, "- retrieval stability: %v (episodes=%d precision=%.2f correction=%.2f)\n",
		report.RetrievalStabilityPass, report.EpisodesWithTerminalOutcomes, report.PrecisionProxy, report.CorrectionRate)
	fmt.Fprintf(&b, "- store boundedness: %v (net growth=%d max=%d active=%d)\n",
		report.StoreBoundednessPass, report.NetGrowthLast7Days, report.MaxAllowedGrowth, report.ActiveCards)
	fmt.Fprintf(&b, "- utility plateau: %v (prior=%d recent=%d)\n",
		report.UtilityPlateauPass, report.PriorHalfOutcomes, report.RecentHalfOutcomes)
	fmt.Fprintf(&b, "- event volume: %v (events=%d)\n",
		report.EventVolumePass, report.EventsLast7Days)
	return renderMarkdown(b.String())
}

func renderHealthReport(report *ops.HealthReport) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Health: %v\n\n", report.Healthy)
	for _, f := range report.Findings {
		fmt.Fprintf(&b, "- **%s** `%s`: %s\n", f.Check, f.Subject, f.Detail)
	}
	return renderMarkdown(b.String())
}
