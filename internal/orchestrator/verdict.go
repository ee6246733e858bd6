package orchestrator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/yungbote/arfor-backend/internal/config"
)

var (
	ratingRe     = regexp.MustCompile(`\*\*Rating:\*\*\s*(Strong Buy|Buy|Watchlist|Avoid|Strong Avoid)`)
	confidenceRe = regexp.MustCompile(`\*\*Confidence:\*\*\s*(\d+)`)
	horizonRe    = regexp.MustCompile(`\*\*Time Horizon:\*\*\s*(.+)`)
	sizeBlockRe  = regexp.MustCompile(`(?i)(?:Position Sizing Suggestion|Position Size)[^\n]*\n+\*?\*?(None|Small|Moderate|Full)`)
	sizeInlineRe = regexp.MustCompile(`(?i)\*\*(None|Small|Moderate|Full)\s*(?:position|—|-)`)
	execSummary  = regexp.MustCompile(`(?m)^## Section 0`)
	sectionOneUp = regexp.MustCompile(`(?m)^## Section 1`)
)

var viewpointHeaders = []string{
	"### Verdict",
	"### Thesis",
	"### Key Strengths Identified",
	"### Key Risks and Red Flags",
	"### Position Sizing Suggestion",
	"### What Would Change My Mind",
	"### Pre-Mortem",
	"### Unanswered Questions",
}

var synthesisHeaders = []string{
	"### Consensus Points",
	"### Points of Disagreement",
	"### Verdict Summary Table",
	"### Where the Market May Be Mispricing",
	"### Overall Risk-Reward Profile",
	"### Key KPIs to Monitor",
	"### Disclaimer",
}

// Verdict is the structured head of one viewpoint's evaluation.
type Verdict struct {
	ViewpointID  string `json:"persona_id"`
	Name         string `json:"persona_name"`
	Label        string `json:"persona_label"`
	Rating       string `json:"rating"`
	Confidence   int    `json:"confidence"`
	TimeHorizon  string `json:"time_horizon"`
	PositionSize string `json:"position_size"`
	Available    bool   `json:"available"`
}

func ParseVerdict(v config.Viewpoint, text string, available bool) Verdict {
	out := Verdict{ViewpointID: v.ID, Name: v.Name, Label: v.Label}
	if !available {
		out.Rating, out.TimeHorizon, out.PositionSize = "N/A", "N/A", "N/A"
		return out
	}
	out.Available = true

	out.Rating = "Unknown"
	if m := ratingRe.FindStringSubmatch(text); m != nil {
		out.Rating = m[1]
	}
	if m := confidenceRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 && n <= 10 {
			out.Confidence = n
		}
	}
	out.TimeHorizon = "N/A"
	if m := horizonRe.FindStringSubmatch(text); m != nil {
		out.TimeHorizon = strings.TrimSpace(m[1])
	}
	out.PositionSize = "N/A"
	m := sizeBlockRe.FindStringSubmatch(text)
	if m == nil {
		m = sizeInlineRe.FindStringSubmatch(text)
	}
	if m != nil {
		s := strings.ToLower(m[1])
		out.PositionSize = strings.ToUpper(s[:1]) + s[1:]
	}
	return out
}

func validateDeepDive(text string) []string {
	var notices []string
	for n := 0; n <= 13; n++ {
		h := fmt.Sprintf("Section %d:", n)
		if !strings.Contains(text, h) {
			notices = append(notices, "Deep dive missing: Section "+strconv.Itoa(n))
		}
	}
	return notices
}

func validateViewpoint(name, text string) []string {
	var notices []string
	for _, h := range viewpointHeaders {
		if !strings.Contains(text, h) {
			notices = append(notices, fmt.Sprintf("%s output missing: %s", name, h))
		}
	}
	if !ratingRe.MatchString(text) {
		notices = append(notices, name+": Rating not one of Strong Buy/Buy/Watchlist/Avoid/Strong Avoid")
	}
	if m := confidenceRe.FindStringSubmatch(text); m == nil {
		notices = append(notices, name+": Confidence score not found")
	} else if n, _ := strconv.Atoi(m[1]); n < 1 || n > 10 {
		notices = append(notices, fmt.Sprintf("%s: Confidence %d outside 1-10 range", name, n))
	}
	return notices
}

func validateSynthesis(text string) []string {
	var notices []string
	for _, h := range synthesisHeaders {
		if !strings.Contains(text, h) {
			notices = append(notices, "Synthesis missing: "+h)
		}
	}
	return notices
}

// ExecutiveSummary returns Section 0 of the deep dive, or its first 2000
// characters when there is no Section 0 header.
func ExecutiveSummary(deepDive string) string {
	loc := execSummary.FindStringIndex(deepDive)
	if loc == nil {
		return truncateRunes(deepDive, 2000)
	}
	rest := deepDive[loc[0]:]
	if end := sectionOneUp.FindStringIndex(rest); end != nil {
		rest = rest[:end[0]]
	}
	return strings.TrimSpace(rest)
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
