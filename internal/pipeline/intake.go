package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const MaxInputLength = 100

var ErrInvalidInput = errors.New("invalid input")

var (
	strippedChars = regexp.MustCompile("[#*_`~\\[\\](){}<>|\\\\;!@$%^+=\"]")
	spaceRun      = regexp.MustCompile(`\s+`)
	apiTicker     = regexp.MustCompile(`^[A-Z0-9]{1,10}(\.[A-Z])?$`)
)

func allowedInputRune(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune(" .&-'", r)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Sanitize strips markup and anything outside the ticker/company-name
// alphabet, collapses whitespace and enforces the length cap.
func Sanitize(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", invalid("Input is empty. Please provide a ticker symbol or company name.")
	}
	text = strippedChars.ReplaceAllString(text, "")
	text = strings.Map(func(r rune) rune {
		if allowedInputRune(r) {
			return r
		}
		return -1
	}, text)
	text = strings.TrimSpace(spaceRun.ReplaceAllString(text, " "))
	if text == "" {
		return "", invalid("Input contains no valid characters after sanitization.")
	}
	if len(text) > MaxInputLength {
		return "", invalid("Input too long (%d chars). Maximum is %d.", len(text), MaxInputLength)
	}
	return text, nil
}

// ValidateTicker upper-cases raw and checks it against the symbol shape
// accepted by the HTTP API (e.g. AAPL, BRK.B).
func ValidateTicker(raw string) (string, error) {
	t := strings.ToUpper(strings.TrimSpace(raw))
	if !apiTicker.MatchString(t) {
		return "", invalid("Invalid ticker symbol")
	}
	return t, nil
}

// Subject is the resolved company a run analyses.
type Subject struct {
	Ticker  string
	Company string
}

func (s Subject) Display() string {
	if s.Company == "" || s.Company == s.Ticker {
		return s.Ticker
	}
	return fmt.Sprintf("%s (%s)", s.Company, s.Ticker)
}

type TickerResolver interface {
	Resolve(ctx context.Context, sanitized string) Subject
}

// StaticResolver knows a fixed set of large-cap names and passes anything
// else through unchanged.
type StaticResolver struct {
	names map[string]string
	order []string
}

func NewStaticResolver() *StaticResolver {
	r := &StaticResolver{names: make(map[string]string, len(commonTickers)/2)}
	for i := 0; i+1 < len(commonTickers); i += 2 {
		r.names[commonTickers[i]] = commonTickers[i+1]
		r.order = append(r.order, commonTickers[i])
	}
	return r
}

func (r *StaticResolver) Resolve(_ context.Context, sanitized string) Subject {
	upper := strings.ToUpper(strings.TrimSpace(sanitized))
	if name, ok := r.names[upper]; ok {
		return Subject{Ticker: upper, Company: name}
	}
	lower := strings.ToLower(sanitized)
	for _, t := range r.order {
		name := strings.ToLower(r.names[t])
		if name == lower || strings.HasPrefix(name, lower) {
			return Subject{Ticker: t, Company: r.names[t]}
		}
	}
	return Subject{Ticker: upper, Company: sanitized}
}

// Intake sanitizes raw and resolves it to a subject.
func Intake(ctx context.Context, raw string, resolver TickerResolver) (Subject, error) {
	clean, err := Sanitize(raw)
	if err != nil {
		return Subject{}, err
	}
	if resolver == nil {
		return Subject{Ticker: strings.ToUpper(clean), Company: clean}, nil
	}
	return resolver.Resolve(ctx, clean), nil
}

// ticker, name pairs
var commonTickers = []string{
	"AAPL", "Apple Inc.",
	"MSFT", "Microsoft Corporation",
	"GOOGL", "Alphabet Inc.",
	"GOOG", "Alphabet Inc.",
	"AMZN", "Amazon.com Inc.",
	"NVDA", "NVIDIA Corporation",
	"META", "Meta Platforms Inc.",
	"TSLA", "Tesla Inc.",
	"BRK.A", "Berkshire Hathaway Inc.",
	"BRK.B", "Berkshire Hathaway Inc.",
	"JPM", "JPMorgan Chase & Co.",
	"V", "Visa Inc.",
	"JNJ", "Johnson & Johnson",
	"UNH", "UnitedHealth Group Inc.",
	"WMT", "Walmart Inc.",
	"MA", "Mastercard Inc.",
	"PG", "Procter & Gamble Co.",
	"HD", "The Home Depot Inc.",
	"XOM", "Exxon Mobil Corporation",
	"CVX", "Chevron Corporation",
	"LLY", "Eli Lilly and Company",
	"ABBV", "AbbVie Inc.",
	"PFE", "Pfizer Inc.",
	"MRK", "Merck & Co. Inc.",
	"COST", "Costco Wholesale Corporation",
	"AVGO", "Broadcom Inc.",
	"PEP", "PepsiCo Inc.",
	"KO", "The Coca-Cola Company",
	"MCD", "McDonald's Corporation",
	"CSCO", "Cisco Systems Inc.",
	"NKE", "Nike Inc.",
	"NFLX", "Netflix Inc.",
	"AMD", "Advanced Micro Devices Inc.",
	"INTC", "Intel Corporation",
	"CRM", "Salesforce Inc.",
	"ADBE", "Adobe Inc.",
	"ORCL", "Oracle Corporation",
	"IBM", "International Business Machines Corporation",
	"GS", "Goldman Sachs Group Inc.",
	"MS", "Morgan Stanley",
	"BA", "The Boeing Company",
	"DIS", "The Walt Disney Company",
	"UBER", "Uber Technologies Inc.",
	"SHOP", "Shopify Inc.",
	"PLTR", "Palantir Technologies Inc.",
	"COIN", "Coinbase Global Inc.",
	"PANW", "Palo Alto Networks Inc.",
	"CRWD", "CrowdStrike Holdings Inc.",
	"NET", "Cloudflare Inc.",
	"MU", "Micron Technology Inc.",
	"QCOM", "Qualcomm Inc.",
	"TSM", "Taiwan Semiconductor Manufacturing Company",
	"ASML", "ASML Holding N.V.",
	"PYPL", "PayPal Holdings Inc.",
	"BABA", "Alibaba Group Holding Limited",
}
