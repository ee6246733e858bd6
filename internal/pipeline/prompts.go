package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/yungbote/arfor-backend/internal/config"
)

// Prompts supplies instructions and input for every call in the pipeline.
// Wording is owned by the deployment; DefaultPrompts is a working stand-in.
type Prompts interface {
	Lane(lane config.Lane, company string) (instructions, input string)
	Merge(company, laneOutputs string) (instructions, input string)
	SectionGroup(company, brief string, group config.SectionGroup) (instructions, input string)
	Capstone(company, brief, prior string, sections []int) (instructions, input string)
	Viewpoint(v config.Viewpoint) string
	Arbitration() string
	// TemplateHash identifies the wording in use; it is printed in reports.
	TemplateHash() string
}

const styleRules = `You write sections of a professional equity due diligence report.
Rules:
- Prefer primary sources (filings, transcripts, disclosures) and cite them inline.
- Tag major conclusions [High Confidence], [Medium Confidence] or [Low Confidence - Verify].
- Never invent figures; write [Data not available - verify manually] instead.
- Use markdown: ## for sections, ### for subsections, tables for numbers, > for red flags.
- End each section with a "**Bottom Line:**" sentence.`

var sectionHeader = regexp.MustCompile(`(?m)^## Section (\d+):.*$`)

// DefaultPrompts renders built-in prompts. Templates, when set, holds the
// per-section outline keyed by section number.
type DefaultPrompts struct {
	Templates map[int]string
	Personas  map[string]string
	Synthesis string
	hash      string
}

func NewDefaultPrompts() *DefaultPrompts {
	p := &DefaultPrompts{Templates: map[int]string{}, Personas: map[string]string{}}
	p.rehash()
	return p
}

// LoadPromptDir reads template.md, arbitration.md and <viewpoint-id>.md
// from dir. Missing files keep the built-in wording.
func LoadPromptDir(dir string, viewpoints []config.Viewpoint) (*DefaultPrompts, error) {
	p := NewDefaultPrompts()
	if strings.TrimSpace(dir) == "" {
		return p, nil
	}
	read := func(name string) (string, bool, error) {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if os.IsNotExist(err) {
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("read prompt %s: %w", name, err)
		}
		return string(b), true, nil
	}
	if tpl, ok, err := read("template.md"); err != nil {
		return nil, err
	} else if ok {
		p.Templates = ParseTemplateSections(tpl)
	}
	if s, ok, err := read("arbitration.md"); err != nil {
		return nil, err
	} else if ok {
		p.Synthesis = s
	}
	for _, v := range viewpoints {
		s, ok, err := read(v.ID + ".md")
		if err != nil {
			return nil, err
		}
		if ok {
			p.Personas[v.ID] = s
		}
	}
	p.rehash()
	return p, nil
}

// ParseTemplateSections splits a report outline on "## Section N:" headers.
// Each entry keeps its header line and runs to the next header.
func ParseTemplateSections(text string) map[int]string {
	out := map[int]string{}
	locs := sectionHeader.FindAllStringSubmatchIndex(text, -1)
	for i, loc := range locs {
		n, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		out[n] = strings.TrimRight(text[loc[0]:end], " \n\t")
	}
	return out
}

func (p *DefaultPrompts) rehash() {
	h := sha256.New()
	h.Write([]byte(styleRules))
	for i := 0; i <= 13; i++ {
		h.Write([]byte(p.Templates[i]))
	}
	for _, k := range sortedKeys(p.Personas) {
		h.Write([]byte(k))
		h.Write([]byte(p.Personas[k]))
	}
	h.Write([]byte(p.Synthesis))
	p.hash = hex.EncodeToString(h.Sum(nil))
}

func (p *DefaultPrompts) TemplateHash() string { return p.hash }

func (p *DefaultPrompts) Lane(lane config.Lane, company string) (string, string) {
	instructions := fmt.Sprintf(`You are an equity research analyst gathering raw data on %s.
Focus area: %s.
Search the web for current figures. Prefer density over prose, use markdown tables for numbers,
include source URLs and mark anything you cannot find as [Not found].`, company, lane.Label)
	input := fmt.Sprintf("Gather research data for %s. Search the web for real, current data.", company)
	return instructions, input
}

func (p *DefaultPrompts) Merge(company, laneOutputs string) (string, string) {
	instructions := fmt.Sprintf(`You merge research notes on %s from several analysts into one brief.
Group the data under clear category headers, keep the best-sourced version of duplicate facts,
keep every source URL, mark gaps as [Not found] and add no opinions.

## Lane Outputs

%s`, company, laneOutputs)
	return instructions, fmt.Sprintf("Merge the research lane outputs for %s into a unified brief.", company)
}

func (p *DefaultPrompts) outline(sections []int) string {
	parts := make([]string, 0, len(sections))
	for _, n := range sections {
		if t, ok := p.Templates[n]; ok && t != "" {
			parts = append(parts, t)
			continue
		}
		parts = append(parts, fmt.Sprintf("## Section %d: %s", n, defaultSectionTitle(n)))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func (p *DefaultPrompts) SectionGroup(company, brief string, group config.SectionGroup) (string, string) {
	instructions := fmt.Sprintf(`%s

You are writing part of the report on **%s**. Write only the sections below, in order,
using the research brief as your only data source. Do not search the web.

## Sections

%s`, styleRules, company, p.outline(group.Sections))
	input := fmt.Sprintf(`## Research Brief for %s

%s

---

Write the sections listed above for %s. Use "## Section N: Title" headers.`, company, brief, company)
	return instructions, input
}

func (p *DefaultPrompts) Capstone(company, brief, prior string, sections []int) (string, string) {
	instructions := fmt.Sprintf(`%s

You are writing the opening summary, the final verdict and the open questions of the report on
**%s**. Section 0 summarizes the whole report, Section 12 gives the investment verdict and
Section 13 lists what the analysis could not resolve. Do not search the web.

## Sections

%s`, styleRules, company, p.outline(sections))
	input := fmt.Sprintf(`## Research Brief for %s

%s

---

## Previously Written Sections

%s

---

Write Section 0 first, then Sections 12 and 13, each under a "## Section N: Title" header.`, company, brief, prior)
	return instructions, input
}

func (p *DefaultPrompts) Viewpoint(v config.Viewpoint) string {
	if s, ok := p.Personas[v.ID]; ok && strings.TrimSpace(s) != "" {
		return s
	}
	return fmt.Sprintf(`You are %s, a portfolio manager with a %s mandate.
Evaluate the due diligence report you are given strictly through that lens.

Answer in markdown with these headers:
### Verdict
**Rating:** one of Strong Buy, Buy, Watchlist, Avoid, Strong Avoid
**Confidence:** an integer from 1 to 10
**Time Horizon:** the holding period you have in mind
### Thesis
### Key Strengths Identified
### Key Risks and Red Flags
### Position Sizing Suggestion
Start with one of None, Small, Moderate, Full.
### What Would Change My Mind
### Pre-Mortem
### Unanswered Questions`, v.Name, v.Label)
}

func (p *DefaultPrompts) Arbitration() string {
	if strings.TrimSpace(p.Synthesis) != "" {
		return p.Synthesis
	}
	return `You reconcile independent investor evaluations of one company.
You receive the report's executive summary and each evaluation. Do not take a side.

Answer in markdown with these headers:
### Consensus Points
### Points of Disagreement
### Verdict Summary Table
### Where the Market May Be Mispricing
### Overall Risk-Reward Profile
### Key KPIs to Monitor
### Disclaimer`
}

func defaultSectionTitle(n int) string {
	switch n {
	case 0:
		return "Executive Summary"
	case 1:
		return "Business Overview"
	case 2:
		return "Financial Analysis"
	case 3:
		return "Leadership & Governance"
	case 4:
		return "Industry & Competitive Position"
	case 5:
		return "Valuation"
	case 6:
		return "Ownership & Sentiment"
	case 7:
		return "Variant View"
	case 8:
		return "Bear Thesis"
	case 9:
		return "Catalysts"
	case 10:
		return "Scenario Analysis"
	case 11:
		return "Capital Allocation"
	case 12:
		return "Final Investment Verdict"
	case 13:
		return "Key Unknowns and Research Agenda"
	}
	return "Section"
}
