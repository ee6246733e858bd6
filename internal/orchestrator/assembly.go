package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/arfor-backend/internal/pipeline"
)

const (
	SynthesisUnavailableNotice = "Synthesis unavailable: displaying persona verdicts only"
	formattingNotice           = "> *Formatting notice: some expected fields may be missing from this evaluation.*"
	synthesisFormattingNotice  = "> *Formatting notice: some expected fields may be missing from the synthesis.*"
)

type Sections struct {
	DeepDive     string `json:"deep_dive"`
	Perspectives string `json:"perspectives"`
	Synthesis    string `json:"synthesis"`
}

type Models struct {
	Research    string
	Sections    string
	Capstone    string
	Evaluation  string
	Arbitration string
}

// Report is the final artifact of a run.
type Report struct {
	Ticker      string
	Company     string
	Markdown    string
	Sections    Sections
	Verdicts    []Verdict
	Notices     []string
	GeneratedAt time.Time
}

// ResultData is the payload of the completion event and the stored record.
func (r Report) ResultData() map[string]any {
	notices := r.Notices
	if notices == nil {
		notices = []string{}
	}
	return map[string]any{
		"ticker":           r.Ticker,
		"sections":         r.Sections,
		"persona_verdicts": r.Verdicts,
		"report":           r.Markdown,
		"notices":          notices,
	}
}

type assemblyInput struct {
	Subject      pipeline.Subject
	DeepDive     string
	Viewpoints   []pipeline.ViewpointResult
	Arbitration  pipeline.Arbitration
	Models       Models
	TemplateHash string
	GeneratedAt  time.Time
	// Upstream carries degradations noticed before assembly.
	Upstream []string
}

func assemble(in assemblyInput) Report {
	notices := append([]string(nil), in.Upstream...)
	notices = append(notices, validateDeepDive(in.DeepDive)...)

	total := len(in.Viewpoints)
	available := pipeline.AvailableCount(in.Viewpoints)
	verdicts := make([]Verdict, 0, total)
	panels := make([]string, 0, total)
	for _, v := range in.Viewpoints {
		verdicts = append(verdicts, ParseVerdict(v.Viewpoint, v.Text, v.Available))
		if !v.Available {
			notices = append(notices, fmt.Sprintf("Persona '%s' evaluation unavailable", v.Viewpoint.ID))
			panels = append(panels, fmt.Sprintf("> **[%s] evaluation unavailable**: showing %d of %d perspectives\n", v.Viewpoint.ID, available, total))
			continue
		}
		section := v.Text
		if vn := validateViewpoint(v.Viewpoint.ID, v.Text); len(vn) > 0 {
			notices = append(notices, vn...)
			section = formattingNotice + "\n\n" + v.Text
		}
		panels = append(panels, section)
	}
	perspectives := strings.Join(panels, "\n\n---\n\n")

	var synthesis string
	if in.Arbitration.Available() {
		synthesis = in.Arbitration.Text
		if sn := validateSynthesis(synthesis); len(sn) > 0 {
			notices = append(notices, sn...)
			synthesis = synthesisFormattingNotice + "\n\n" + synthesis
		}
	} else {
		notices = append(notices, SynthesisUnavailableNotice)
		synthesis = "> **Synthesis unavailable.** The persona verdicts above are displayed side-by-side for independent comparison.\n"
	}

	stamp := in.GeneratedAt.UTC().Format("2006-01-02 15:04 UTC")
	hash := in.TemplateHash
	shortHash := hash
	if len(shortHash) > 12 {
		shortHash = shortHash[:12]
	}
	m := in.Models
	s := in.Subject

	lines := []string{
		"# arfor: Investment Intelligence Report",
		fmt.Sprintf("## %s", s.Display()),
		"",
		"---",
		"",
		fmt.Sprintf("*Generated: %s*  ", stamp),
		fmt.Sprintf("*Template version hash: `%s...`*  ", shortHash),
		fmt.Sprintf("*Models: Research %s | Sections %s | Capstone %s | Personas %s | Synthesis %s*  ",
			m.Research, m.Sections, m.Capstone, m.Evaluation, m.Arbitration),
		fmt.Sprintf("*Personas reporting: %d of %d*", available, total),
		"",
		"---",
		"",
		"# Part I: Institutional Deep Dive",
		"",
		in.DeepDive,
		"",
		"---",
		"",
		"# Part II: Perspective Panel",
		"",
		perspectives,
		"",
		"---",
		"",
		"# Part III: Consensus & Disagreement",
		"",
		synthesis,
		"",
		"---",
		"",
		"## Report Metadata",
		"",
		"| Field | Value |",
		"|-------|-------|",
		fmt.Sprintf("| Company | %s |", s.Company),
		fmt.Sprintf("| Ticker | %s |", s.Ticker),
		fmt.Sprintf("| Generated | %s |", stamp),
		fmt.Sprintf("| Research Model | %s |", m.Research),
		fmt.Sprintf("| Section Write Model | %s |", m.Sections),
		fmt.Sprintf("| Capstone Model | %s |", m.Capstone),
		fmt.Sprintf("| Persona Model | %s |", m.Evaluation),
		fmt.Sprintf("| Synthesis Model | %s |", m.Arbitration),
		fmt.Sprintf("| Template Hash | `%s` |", hash),
		fmt.Sprintf("| Personas Available | %d / %d |", available, total),
		"",
		"---",
		"",
		"## What This Report Cannot Do",
		"",
		"- This is **not** investment advice.",
		"- AI-generated analysis **may contain errors**, including fabricated or outdated financial figures.",
		"- Verify all financial data against primary sources such as filings and earnings reports.",
		"- Past patterns **do not guarantee** future outcomes.",
		"- Every analysis starts fresh; nothing is remembered between runs.",
		"",
	}
	if len(notices) > 0 {
		lines = append(lines, "---", "", "## Validation Notices", "")
		for _, n := range notices {
			lines = append(lines, "- "+n)
		}
		lines = append(lines, "")
	}

	return Report{
		Ticker:  s.Ticker,
		Company: s.Company,
		Sections: Sections{
			DeepDive:     strings.TrimSpace(in.DeepDive),
			Perspectives: strings.TrimSpace(perspectives),
			Synthesis:    strings.TrimSpace(synthesis),
		},
		Markdown:    strings.Join(lines, "\n"),
		Verdicts:    verdicts,
		Notices:     notices,
		GeneratedAt: in.GeneratedAt,
	}
}
