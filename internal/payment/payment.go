// Package payment creates payment intents with the card processor.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Amount is the fixed contact request price in minor units.
const Amount int64 = 500

// Provider creates payment intents.
type Provider interface {
	CreateIntent(ctx context.Context, amount int64, currency string) (*Intent, error)
}

// Intent is the part of a created payment intent the client needs.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"clientSecret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// ProviderError reports a failed call to the processor.
type ProviderError struct {
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	if e.Status == 0 {
		return "payment provider: " + e.Message
	}
	return fmt.Sprintf("payment provider returned %d: %s", e.Status, e.Message)
}

// ErrNotConfigured is returned when no secret key is set.
var ErrNotConfigured = errors.New("payment provider not configured")

// StripeProvider talks to the Stripe payment intents API.
type StripeProvider struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
	newKey     func() string
}

// NewStripeProvider returns a provider for baseURL authenticated by secretKey.
func NewStripeProvider(secretKey, baseURL string) *StripeProvider {
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	return &StripeProvider{
		secretKey:  secretKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		newKey:     uuid.NewString,
	}
}

type stripeIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

type stripeError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// CreateIntent creates a card payment intent for amount minor units. Each
// call carries a fresh idempotency key.
func (p *StripeProvider) CreateIntent(ctx context.Context, amount int64, currency string) (*Intent, error) {
	if p.secretKey == "" {
		return nil, ErrNotConfigured
	}
	if amount <= 0 {
		return nil, fmt.Errorf("invalid amount %d", amount)
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amount, 10))
	form.Set("currency", currency)
	form.Add("payment_method_types[]", "card")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Idempotency-Key", p.newKey())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &ProviderError{Status: resp.StatusCode, Message: "failed to read response"}
	}

	if resp.StatusCode != http.StatusOK {
		var se stripeError
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(body, &se) == nil && se.Error.Message != "" {
			msg = se.Error.Message
		}
		return nil, &ProviderError{Status: resp.StatusCode, Message: msg}
	}

	var si stripeIntent
	if err := json.Unmarshal(body, &si); err != nil {
		return nil, &ProviderError{Status: resp.StatusCode, Message: "malformed response"}
	}
	if si.ClientSecret == "" {
		return nil, &ProviderError{Status: resp.StatusCode, Message: "missing client secret"}
	}
	return &Intent{ID: si.ID, ClientSecret: si.ClientSecret, Amount: si.Amount, Currency: si.Currency}, nil
}
