package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/arfor-backend/internal/config"
	"github.com/yungbote/arfor-backend/internal/data/repos"
	"github.com/yungbote/arfor-backend/internal/platform/apierr"
	"github.com/yungbote/arfor-backend/internal/platform/dbctx"
	"github.com/yungbote/arfor-backend/internal/platform/logger"
)

const (
	SignatureHeader         = "Stripe-Signature"
	EventCheckoutCompleted  = "checkout.session.completed"
	DefaultWebhookTolerance = 5 * time.Minute
)

var (
	ErrMissingSignature = errors.New("missing signature header")
	ErrBadSignature     = errors.New("no matching signature")
	ErrStaleSignature   = errors.New("signature timestamp outside tolerance")
)

type PackView struct {
	ID           string `json:"id"`
	Credits      int    `json:"credits"`
	PriceCents   int    `json:"price_cents"`
	PriceDisplay string `json:"price_display"`
	PerCredit    string `json:"per_credit"`
	Label        string `json:"label"`
}

// WebhookResult says what a verified event did. Verified events that can
// never succeed get a 2xx so the provider stops retrying; a ledger failure
// does not, so the purchase is redelivered.
type WebhookResult struct {
	Received bool   `json:"received"`
	Applied  bool   `json:"-"`
	Skipped  string `json:"-"`
}

type TopUpper interface {
	TopUp(ctx context.Context, userID uuid.UUID, amount int, idempotencyKey string) (bool, error)
}

type PurchaseService interface {
	Packs() []PackView
	HandleWebhook(ctx context.Context, payload []byte, sigHeader string) (*WebhookResult, error)
}

type purchaseService struct {
	log       *logger.Logger
	packs     []config.CreditPack
	secret    string
	tolerance time.Duration
	ledger    TopUpper
	profiles  repos.ProfileRepo
	now       func() time.Time
}

func NewPurchaseService(log *logger.Logger, cfg config.BillingConfig, l TopUpper, profiles repos.ProfileRepo) PurchaseService {
	tol := cfg.WebhookTolerance
	if tol <= 0 {
		tol = DefaultWebhookTolerance
	}
	return &purchaseService{
		log:       log.With("service", "PurchaseService"),
		packs:     cfg.Packs,
		secret:    cfg.WebhookSecret,
		tolerance: tol,
		ledger:    l,
		profiles:  profiles,
		now:       time.Now,
	}
}

func formatDollars(cents float64) string {
	if math.Mod(cents, 100) == 0 {
		return fmt.Sprintf("$%d", int(cents/100))
	}
	return fmt.Sprintf("$%.2f", cents/100)
}

func (s *purchaseService) Packs() []PackView {
	out := make([]PackView, 0, len(s.packs))
	for _, p := range s.packs {
		per := ""
		if p.Credits > 0 {
			per = fmt.Sprintf("$%.2f", float64(p.PriceCents)/float64(p.Credits)/100)
		}
		out = append(out, PackView{
			ID:           p.ID,
			Credits:      p.Credits,
			PriceCents:   p.PriceCents,
			PriceDisplay: formatDollars(float64(p.PriceCents)),
			PerCredit:    per,
			Label:        p.Label,
		})
	}
	return out
}

// VerifySignature checks a "t=<unix>,v1=<hex>[,v1=...]" header against
// HMAC-SHA256(secret, "<t>.<payload>").
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if strings.TrimSpace(header) == "" {
		return ErrMissingSignature
	}
	var ts int64
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: bad timestamp", ErrBadSignature)
			}
			ts = n
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return fmt.Errorf("%w: malformed header", ErrBadSignature)
	}
	if d := now.Sub(time.Unix(ts, 0)); d > tolerance || d < -tolerance {
		return ErrStaleSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	want := mac.Sum(nil)
	for _, sig := range sigs {
		got, err := hex.DecodeString(sig)
		if err == nil && hmac.Equal(got, want) {
			return nil
		}
	}
	return ErrBadSignature
}

// SignPayload builds a header VerifySignature accepts.
func SignPayload(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

type webhookEvent struct {
	Type string `json:"type"`
	Data struct {
		Object checkoutSession `json:"object"`
	} `json:"data"`
}

type checkoutSession struct {
	ID            string            `json:"id"`
	PaymentStatus string            `json:"payment_status"`
	Customer      string            `json:"customer"`
	Metadata      map[string]string `json:"metadata"`
}

func (s *purchaseService) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) (*WebhookResult, error) {
	if s.secret == "" {
		return nil, apierr.New(http.StatusServiceUnavailable, "webhook_not_configured", errors.New("Webhook secret not configured"))
	}
	if err := VerifySignature(payload, sigHeader, s.secret, s.tolerance, s.now()); err != nil {
		s.log.Warn("Webhook signature verification failed", "error", err)
		return nil, apierr.BadRequest("invalid_signature", "Invalid signature")
	}
	var ev webhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		s.log.Warn("Webhook payload parse error", "error", err)
		return nil, apierr.BadRequest("invalid_payload", "Invalid payload")
	}

	res := &WebhookResult{Received: true}
	if ev.Type != EventCheckoutCompleted {
		res.Skipped = "event_type"
		return res, nil
	}
	cs := ev.Data.Object
	if cs.PaymentStatus != "paid" {
		s.log.Info("Checkout not paid yet, skipping fulfillment", "payment_session", cs.ID, "payment_status", cs.PaymentStatus)
		res.Skipped = "unpaid"
		return res, nil
	}

	userID, uerr := uuid.Parse(cs.Metadata["user_id"])
	credits, cerr := strconv.Atoi(cs.Metadata["credits"])
	if uerr != nil || cerr != nil || credits <= 0 || cs.ID == "" {
		s.log.Error("Webhook metadata invalid", "payment_session", cs.ID, "user_id", cs.Metadata["user_id"], "credits", cs.Metadata["credits"])
		res.Skipped = "metadata"
		return res, nil
	}

	applied, err := s.ledger.TopUp(ctx, userID, credits, cs.ID)
	if err != nil {
		s.log.Error("Failed to add purchased credits", "user_id", userID, "payment_session", cs.ID, "error", err)
		return nil, apierr.New(http.StatusServiceUnavailable, "fulfillment_failed", fmt.Errorf("top up %s: %w", cs.ID, err))
	}
	res.Applied = applied

	if cs.Customer != "" && s.profiles != nil {
		if err := s.profiles.SetPaymentCustomerID(dbctx.New(ctx), userID, cs.Customer); err != nil {
			s.log.Warn("Failed to save payment customer id", "user_id", userID, "error", err)
		}
	}
	return res, nil
}
