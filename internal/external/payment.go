package external

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

type PaymentClient struct {
	baseURL    string
	teamSlug   string
	password   string
	httpClient *http.Client
}

type PaymentConfig struct {
	BaseURL  string
	TeamSlug string
	Password string
	Timeout  time.Duration
}

// Payment statuses reported by the gateway
const (
	PaymentStatusConfirmed = "CONFIRMED"
	PaymentStatusRefunded  = "REFUNDED"
	PaymentStatusCancelled = "CANCELLED"
)

type PaymentCheckRequest struct {
	TeamSlug  string `json:"teamSlug"`
	Token     string `json:"token"`
	PaymentID string `json:"paymentId,omitempty"`
	OrderID   string `json:"orderId,omitempty"`
}

type PaymentCheckResponse struct {
	Success    bool             `json:"success"`
	Payments   []PaymentDetails `json:"payments"`
	TotalCount int              `json:"totalCount"`
	OrderID    string           `json:"orderId"`
}

type PaymentDetails struct {
	PaymentID         string `json:"paymentId"`
	OrderID           string `json:"orderId"`
	Status            string `json:"status"`
	StatusDescription string `json:"statusDescription"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	CreatedAt         string `json:"createdAt"`
	UpdatedAt         string `json:"updatedAt"`
}

type PaymentRefundRequest struct {
	TeamSlug  string `json:"teamSlug"`
	Token     string `json:"token"`
	PaymentID string `json:"paymentId"`
	Reason    string `json:"reason,omitempty"`
}

type PaymentRefundResponse struct {
	Success   bool   `json:"success"`
	PaymentID string `json:"paymentId"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

func NewPaymentClient(cfg PaymentConfig) *PaymentClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &PaymentClient{
		baseURL:  cfg.BaseURL,
		teamSlug: cfg.TeamSlug,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (pc *PaymentClient) generateToken(params map[string]string) string {
	// Add required parameters
	params["TeamSlug"] = pc.teamSlug
	params["Password"] = pc.password

	// Sort parameters alphabetically
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var tokenString string
	for _, key := range keys {
		tokenString += params[key]
	}

	hash := sha256.Sum256([]byte(tokenString))
	return hex.EncodeToString(hash[:])
}

func (pc *PaymentClient) post(ctx context.Context, path string, body interface{}, headers map[string]string, out interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pc.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := pc.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// CheckPayment returns the gateway's view of a payment.
func (pc *PaymentClient) CheckPayment(ctx context.Context, paymentID string) (*PaymentCheckResponse, error) {
	params := map[string]string{
		"PaymentId": paymentID,
	}

	req := PaymentCheckRequest{
		TeamSlug:  pc.teamSlug,
		Token:     pc.generateToken(params),
		PaymentID: paymentID,
	}

	var result PaymentCheckResponse
	if err := pc.post(ctx, "/api/v1/PaymentCheck/check", req, nil, &result); err != nil {
		return nil, fmt.Errorf("failed to check payment: %w", err)
	}
	return &result, nil
}

// IsConfirmed reports whether the gateway holds a captured payment with the given ID.
func (pc *PaymentClient) IsConfirmed(ctx context.Context, paymentID string) (bool, error) {
	result, err := pc.CheckPayment(ctx, paymentID)
	if err != nil {
		return false, err
	}
	for _, p := range result.Payments {
		if p.PaymentID == paymentID && p.Status == PaymentStatusConfirmed {
			return true, nil
		}
	}
	return false, nil
}

// Refund returns a captured payment to its payer. The idempotency key makes retries of the same
// refund safe on the gateway side.
func (pc *PaymentClient) Refund(ctx context.Context, paymentID, reason, idempotencyKey string) error {
	params := map[string]string{
		"PaymentId": paymentID,
	}

	req := PaymentRefundRequest{
		TeamSlug:  pc.teamSlug,
		Token:     pc.generateToken(params),
		PaymentID: paymentID,
		Reason:    reason,
	}

	var result PaymentRefundResponse
	headers := map[string]string{"Idempotency-Key": idempotencyKey}
	if err := pc.post(ctx, "/api/v1/PaymentCancel/cancel", req, headers, &result); err != nil {
		return fmt.Errorf("failed to refund payment %s: %w", paymentID, err)
	}

	if !result.Success && result.Status != PaymentStatusRefunded {
		return fmt.Errorf("refund of payment %s rejected: %s", paymentID, result.Message)
	}
	return nil
}
