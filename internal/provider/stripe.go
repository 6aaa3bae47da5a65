package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tripledger/commission/internal/domain"
)

const stripeAPIBase = "https://api.stripe.com"

// StripeProvider sends payouts through the Stripe Payouts API and verifies
// its webhooks.
type StripeProvider struct {
	secretKey     string
	webhookSecret string
	currency      string
	baseURL       string
	client        *http.Client
	now           func() time.Time
}

// NewStripeProvider creates a Stripe provider.
func NewStripeProvider(secretKey, webhookSecret string) *StripeProvider {
	return &StripeProvider{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		currency:      "usd",
		baseURL:       stripeAPIBase,
		client:        &http.Client{Timeout: 10 * time.Second},
		now:           time.Now,
	}
}

// WithBaseURL points the client at another host (tests, proxies).
func (s *StripeProvider) WithBaseURL(u string) *StripeProvider {
	s.baseURL = strings.TrimRight(u, "/")
	return s
}

// StripePayout is the subset of the Stripe payout object we read.
type StripePayout struct {
	ID             string            `json:"id"`
	Status         string            `json:"status"`
	Amount         int64             `json:"amount"`
	FailureCode    string            `json:"failure_code"`
	FailureMessage string            `json:"failure_message"`
	Metadata       map[string]string `json:"metadata"`
}

// StripeWebhookEvent represents a parsed Stripe webhook event.
type StripeWebhookEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (s *StripeProvider) Name() string { return "stripe" }

// Submit creates a Stripe payout. The payout ID doubles as the Stripe
// idempotency key so a retried handoff never pays twice.
func (s *StripeProvider) Submit(ctx context.Context, in PayoutInstruction) (*Receipt, error) {
	if s.secretKey == "" {
		return nil, fmt.Errorf("stripe secret key not configured")
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(in.Amount.Shift(2).IntPart(), 10))
	form.Set("currency", s.currency)
	form.Set("description", in.PayoutNumber)
	form.Set("metadata[payout_id]", in.PayoutID.String())
	form.Set("metadata[owner_id]", in.OwnerID.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/payouts", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Idempotency-Key", in.PayoutID.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stripe api call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("stripe error (status %d): %s", resp.StatusCode, string(body))
	}

	var payout StripePayout
	if err := json.NewDecoder(resp.Body).Decode(&payout); err != nil {
		return nil, fmt.Errorf("decode stripe response: %w", err)
	}
	return &Receipt{ProcessorRef: payout.ID, Completed: payout.Status == "paid"}, nil
}

// VerifyWebhookSignature verifies a Stripe webhook signature.
// Returns the parsed event if valid.
func (s *StripeProvider) VerifyWebhookSignature(payload []byte, sigHeader string) (*StripeWebhookEvent, error) {
	if s.webhookSecret == "" {
		return nil, fmt.Errorf("stripe webhook secret not configured")
	}

	// Stripe-Signature: t=timestamp,v1=signature[,v1=...]
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(sigHeader, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			signatures = append(signatures, v)
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		return nil, fmt.Errorf("invalid signature header format")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp: %w", err)
	}
	if s.now().Unix()-ts > 300 {
		return nil, fmt.Errorf("webhook timestamp too old")
	}

	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write([]byte(timestamp + "." + string(payload)))
	expected := hex.EncodeToString(mac.Sum(nil))

	valid := false
	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("invalid webhook signature")
	}

	var event StripeWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode webhook event: %w", err)
	}
	return &event, nil
}

// ParsePayoutData extracts the payout object from a payout.* webhook event.
func ParsePayoutData(data json.RawMessage) (*StripePayout, error) {
	var wrapper struct {
		Object StripePayout `json:"object"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parse payout data: %w", err)
	}
	return &wrapper.Object, nil
}

// SettlementOutcome maps a Stripe payout event type to a terminal payout
// state. ok is false for informational events that carry no outcome.
func SettlementOutcome(eventType string) (state domain.PayoutState, ok bool) {
	switch eventType {
	case "payout.paid":
		return domain.PayoutCompleted, true
	case "payout.failed", "payout.canceled":
		return domain.PayoutFailed, true
	default:
		return "", false
	}
}
