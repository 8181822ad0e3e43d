package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/congo-pay/ledgerpay/internal/metrics"
	"github.com/congo-pay/ledgerpay/internal/processor"
)

const DefaultBaseURL = "https://api.paystack.co"

// Config holds Paystack API configuration.
type Config struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
	// RatePerSecond caps outbound calls. Zero disables the limiter.
	RatePerSecond float64
	// ReadRetries is how many extra attempts read-only calls get.
	ReadRetries int
	Backoff     time.Duration
}

// Client talks to the Paystack REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	secret     string
	limiter    *rate.Limiter
	retries    int
	backoff    time.Duration
	metrics    *metrics.Metrics
}

// NewClient builds a Paystack client. m may be nil.
func NewClient(cfg Config, m *metrics.Metrics) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	backoff := cfg.Backoff
	if backoff == 0 {
		backoff = 250 * time.Millisecond
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    base,
		secret:     cfg.SecretKey,
		limiter:    limiter,
		retries:    cfg.ReadRetries,
		backoff:    backoff,
		metrics:    m,
	}
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

type initializeRequest struct {
	Email       string `json:"email"`
	Amount      int64  `json:"amount"`
	CallbackURL string `json:"callback_url,omitempty"`
	Reference   string `json:"reference"`
	Currency    string `json:"currency"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

type recipientRequest struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Currency      string `json:"currency"`
}

type recipientData struct {
	RecipientCode string `json:"recipient_code"`
}

type transferRequest struct {
	Source    string `json:"source"`
	Reason    string `json:"reason,omitempty"`
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
	Reference string `json:"reference"`
	Currency  string `json:"currency"`
}

type finalizeRequest struct {
	TransferCode string `json:"transfer_code"`
	OTP          string `json:"otp"`
}

type transferData struct {
	TransferCode string `json:"transfer_code"`
	Reference    string `json:"reference"`
	Status       string `json:"status"`
}

// Transfer statuses Paystack reports for payouts that will never pay out.
var failedTransferStatuses = map[string]bool{
	"abandoned": true,
	"blocked":   true,
	"rejected":  true,
}

func (d transferData) toTransfer() processor.Transfer {
	status := strings.ToLower(d.Status)
	if failedTransferStatuses[status] {
		status = string(processor.TransferFailed)
	}
	return processor.Transfer{
		TransferCode: d.TransferCode,
		Reference:    d.Reference,
		Status:       processor.TransferState(status),
	}
}

// InitializePayment opens a hosted checkout for amount minor units.
func (c *Client) InitializePayment(ctx context.Context, email string, amount int64, callbackURL, reference string) (processor.PaymentInit, error) {
	var out initializeData
	err := c.call(ctx, "initialize", http.MethodPost, "/transaction/initialize", initializeRequest{
		Email:       email,
		Amount:      amount,
		CallbackURL: callbackURL,
		Reference:   reference,
		Currency:    "NGN",
	}, &out)
	if err != nil {
		return processor.PaymentInit{}, err
	}
	if out.Reference == "" {
		out.Reference = reference
	}
	return processor.PaymentInit{Reference: out.Reference, AuthorizationURL: out.AuthorizationURL, AccessCode: out.AccessCode}, nil
}

// VerifyPayment asks Paystack whether the checkout for reference was paid.
func (c *Client) VerifyPayment(ctx context.Context, reference string) (processor.PaymentVerification, error) {
	var out verifyData
	err := c.call(ctx, "verify_payment", http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &out)
	if err != nil {
		return processor.PaymentVerification{}, err
	}
	return processor.PaymentVerification{
		Reference: out.Reference,
		Status:    strings.ToLower(out.Status),
		Amount:    out.Amount,
		Currency:  out.Currency,
	}, nil
}

// CreateRecipient registers a NUBAN bank account and returns its recipient code.
func (c *Client) CreateRecipient(ctx context.Context, details processor.PayoutDetails) (string, error) {
	var out recipientData
	err := c.call(ctx, "create_recipient", http.MethodPost, "/transferrecipient", recipientRequest{
		Type:          "nuban",
		Name:          details.Name,
		AccountNumber: details.AccountNumber,
		BankCode:      details.BankCode,
		Currency:      "NGN",
	}, &out)
	if err != nil {
		return "", err
	}
	if out.RecipientCode == "" {
		return "", fmt.Errorf("%w: empty recipient code", processor.ErrRejected)
	}
	return out.RecipientCode, nil
}

// InitiateTransfer starts a payout from the Paystack balance. The reference
// doubles as Paystack's de-duplication key.
func (c *Client) InitiateTransfer(ctx context.Context, recipientCode string, amount int64, reference, reason string) (processor.Transfer, error) {
	var out transferData
	err := c.call(ctx, "initiate_transfer", http.MethodPost, "/transfer", transferRequest{
		Source:    "balance",
		Reason:    reason,
		Amount:    amount,
		Recipient: recipientCode,
		Reference: reference,
		Currency:  "NGN",
	}, &out)
	if err != nil {
		return processor.Transfer{}, err
	}
	if out.Reference == "" {
		out.Reference = reference
	}
	return out.toTransfer(), nil
}

// FinalizeTransfer submits the OTP for a transfer awaiting confirmation.
func (c *Client) FinalizeTransfer(ctx context.Context, transferCode, otp string) (processor.Transfer, error) {
	var out transferData
	err := c.call(ctx, "finalize_transfer", http.MethodPost, "/transfer/finalize_transfer", finalizeRequest{
		TransferCode: transferCode,
		OTP:          otp,
	}, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.invalidOTP() {
			return processor.Transfer{}, fmt.Errorf("%w: %s", processor.ErrOTPRejected, apiErr.Message)
		}
		return processor.Transfer{}, err
	}
	if out.TransferCode == "" {
		out.TransferCode = transferCode
	}
	return out.toTransfer(), nil
}

// TransferStatus fetches a transfer by its code.
func (c *Client) TransferStatus(ctx context.Context, transferCode string) (processor.Transfer, error) {
	var out transferData
	if err := c.call(ctx, "fetch_transfer", http.MethodGet, "/transfer/"+url.PathEscape(transferCode), nil, &out); err != nil {
		return processor.Transfer{}, err
	}
	return out.toTransfer(), nil
}

// VerifyTransfer fetches a transfer by the reference we minted.
func (c *Client) VerifyTransfer(ctx context.Context, reference string) (processor.Transfer, error) {
	var out transferData
	if err := c.call(ctx, "verify_transfer", http.MethodGet, "/transfer/verify/"+url.PathEscape(reference), nil, &out); err != nil {
		return processor.Transfer{}, err
	}
	return out.toTransfer(), nil
}

// call performs one API request. GETs are retried on unknown outcomes; POSTs
// are sent exactly once.
func (c *Client) call(ctx context.Context, endpoint, method, path string, in, out any) error {
	attempts := 1
	if method == http.MethodGet {
		attempts += c.retries
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := c.backoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", processor.ErrOutcomeUnknown, ctx.Err())
			case <-time.After(wait):
			}
		}
		started := time.Now()
		err = c.do(ctx, method, path, in, out)
		c.metrics.ObserveProcessorCall(endpoint, started, err)
		if err == nil || !errors.Is(err, processor.ErrOutcomeUnknown) {
			return err
		}
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: rate limiter: %v", processor.ErrOutcomeUnknown, err)
		}
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode paystack request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build paystack request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", processor.ErrOutcomeUnknown, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", processor.ErrOutcomeUnknown, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= 500 {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Message, cause: processor.ErrOutcomeUnknown}
	}
	if decodeErr != nil {
		return fmt.Errorf("%w: decode paystack response: %v", processor.ErrOutcomeUnknown, decodeErr)
	}
	if resp.StatusCode == http.StatusNotFound {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Message, cause: processor.ErrNotFound}
	}
	if resp.StatusCode >= 300 || !env.Status {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Message, Code: env.Code, cause: processor.ErrRejected}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%w: decode paystack data: %v", processor.ErrOutcomeUnknown, err)
		}
	}
	return nil
}

var _ processor.Processor = (*Client)(nil)
