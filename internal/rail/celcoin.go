package rail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"pagcore/internal/model"
)

// CelcoinGateway talks to the Celcoin BaaS sandbox: OAuth2 client
// credentials, PIX payments on the instant rail, TED on the wire rail.
type CelcoinGateway struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewCelcoinGateway(baseURL, clientID, clientSecret string) *CelcoinGateway {
	return &CelcoinGateway{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (g *CelcoinGateway) token(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.accessToken != "" && time.Now().Before(g.tokenExpiry) {
		return g.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", g.clientID)
	form.Set("client_secret", g.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v5/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request returned %d: %w", resp.StatusCode, ErrUnavailable)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	g.accessToken = body.AccessToken
	// Refresh a minute early so in-flight calls never carry a stale token.
	g.tokenExpiry = time.Now().Add(time.Duration(body.ExpiresIn)*time.Second - time.Minute)
	return g.accessToken, nil
}

// post sends an authenticated JSON request, retrying transport errors and
// 5xx answers with exponential backoff. 4xx is permanent and not retried.
func (g *CelcoinGateway) post(ctx context.Context, path string, payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		tok, err := g.token(ctx)
		if err != nil {
			return retry.RetryableError(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(raw))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+tok)

		resp, err := g.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("%w: %v", ErrUnavailable, err))
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("rail returned %d: %w", resp.StatusCode, ErrUnavailable))
		case resp.StatusCode >= 400:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("rail returned %d (%s): %w", resp.StatusCode, strings.TrimSpace(string(body)), ErrRejected)
		}
		if out != nil {
			return json.NewDecoder(resp.Body).Decode(out)
		}
		return nil
	})
}

// get sends an authenticated GET with the same retry policy as post.
func (g *CelcoinGateway) get(ctx context.Context, path string, out any) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		tok, err := g.token(ctx)
		if err != nil {
			return retry.RetryableError(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+tok)

		resp, err := g.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("%w: %v", ErrUnavailable, err))
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("rail returned %d: %w", resp.StatusCode, ErrUnavailable))
		case resp.StatusCode >= 400:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("rail returned %d (%s): %w", resp.StatusCode, strings.TrimSpace(string(body)), ErrRejected)
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}

// minorToDecimal renders minor units the way the provider expects amounts.
func minorToDecimal(amount int64) float64 {
	return float64(amount) / 100
}

func (g *CelcoinGateway) Submit(ctx context.Context, transactionID string, target model.RailTarget, amount int64) (string, error) {
	switch target.Rail {
	case model.RailInstant:
		payload := map[string]any{
			"amount": minorToDecimal(amount),
			"receiver": map[string]string{
				"key":     target.PixKey,
				"keyType": target.PixKeyType,
			},
			"clientCode":     transactionID,
			"urgency":        "HIGH",
			"initiationType": "MANUAL",
		}
		var out struct {
			ID string `json:"id"`
		}
		if err := g.post(ctx, "/pix/v1/payment", payload, &out); err != nil {
			return "", err
		}
		return out.ID, nil

	case model.RailWire:
		payload := map[string]any{
			"amount":     minorToDecimal(amount),
			"clientCode": transactionID,
			"bank": map[string]string{
				"bankCode": target.BankCode,
				"agency":   target.Agency,
				"account":  target.AccountNumber,
			},
			"recipient": map[string]string{
				"name":     target.RecipientName,
				"document": target.RecipientDocument,
			},
			"purpose": "01",
		}
		var out struct {
			ID string `json:"id"`
		}
		if err := g.post(ctx, "/v5/transactions/banktransfer", payload, &out); err != nil {
			return "", err
		}
		return out.ID, nil
	}
	return "", fmt.Errorf("rail %q is not externally settled: %w", target.Rail, ErrRejected)
}

func (g *CelcoinGateway) CancelRequest(ctx context.Context, correlationID string) error {
	return g.post(ctx, "/pix/v1/payment/cancel", map[string]string{"id": correlationID}, nil)
}

// Status asks the provider where a submitted transfer stands. The provider
// reports settlement states by name; anything it still calls in progress maps
// to ErrResultPending.
func (g *CelcoinGateway) Status(ctx context.Context, correlationID string) (*model.RailResult, error) {
	var out struct {
		ID           string `json:"id"`
		Status       string `json:"status"`
		EndToEndID   string `json:"endToEndId"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := g.get(ctx, "/pix/v1/payment/status?id="+url.QueryEscape(correlationID), &out); err != nil {
		return nil, err
	}

	res := &model.RailResult{
		CorrelationID:     correlationID,
		ExternalReference: out.EndToEndID,
		ReceivedAt:        time.Now(),
	}
	switch strings.ToUpper(out.Status) {
	case "CONFIRMED", "COMPLETED", "SETTLED":
		res.Success = true
		return res, nil
	case "ERROR", "REJECTED", "CANCELLED", "RETURNED":
		res.Reason = out.ErrorMessage
		if res.Reason == "" {
			res.Reason = "rail reported " + strings.ToLower(out.Status)
		}
		return res, nil
	}
	return nil, ErrResultPending
}

func (g *CelcoinGateway) DictLookup(ctx context.Context, key, keyType string) error {
	payload := map[string]string{"key": key, "keyType": keyType}
	err := g.post(ctx, "/pix/v1/dict/v2/key", payload, nil)
	if err != nil && strings.Contains(err.Error(), "404") {
		return ErrUnknownKey
	}
	return err
}
