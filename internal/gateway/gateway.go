package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/astrv/library-rental/internal/model"
)

// Client talks to a Stripe-style hosted-checkout API. Only two calls
// are consumed: create a session, read a session's status.
type Client struct {
	log    *zap.Logger
	client *http.Client
	cfg    Config
}

type Config struct {
	APIKey  string        `envconfig:"GATEWAY_API_KEY"`
	BaseURL string        `envconfig:"GATEWAY_BASE_URL" default:"https://api.stripe.com"`
	Timeout time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"30s"`
}

func NewClient(log *zap.Logger, cfg Config) *Client {
	return &Client{
		log:    log.Named("gateway"),
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
	}
}

type SessionStatus string

const (
	SessionOpen     SessionStatus = "open"
	SessionComplete SessionStatus = "complete"
	SessionExpired  SessionStatus = "expired"
)

type CreateSessionRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Description string
	Metadata    map[string]string
	SuccessURL  string
	CancelURL   string
}

func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (model.Session, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", req.SuccessURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", req.Currency)
	form.Set("line_items[0][price_data][product_data][name]", req.Description)
	// the API counts money in the smallest currency unit
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.Amount.Mul(decimal.NewFromInt(100)).IntPart(), 10))
	for k, v := range req.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	r, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return model.Session{}, err
	}
	r.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	// retries after a network error must not open a second session
	r.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := c.client.Do(r)
	if err != nil {
		return model.Session{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.Session{}, errors.Errorf("create session: status %d", resp.StatusCode)
	}

	var out struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.Session{}, err
	}
	return model.Session{SessionID: out.ID, SessionURL: out.URL}, nil
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (SessionStatus, error) {
	r, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/v1/checkout/sessions/"+url.PathEscape(sessionID), http.NoBody)
	if err != nil {
		return "", err
	}
	r.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(r)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("get session %s: status %d", sessionID, resp.StatusCode)
	}

	var out struct {
		Status SessionStatus `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Status, nil
}
