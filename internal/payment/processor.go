package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Processor is the external payment processor.
type Processor interface {
	// CreateOrder opens a checkout order the guest pays against.
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	// Refund asks the processor to refund part or all of a capture.
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

type OrderRequest struct {
	IdempotencyKey   string `json:"-"`
	BookingReference string `json:"booking_reference"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
}

type Order struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type RefundRequest struct {
	IdempotencyKey string `json:"-"`
	CaptureID      string `json:"capture_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Reason         string `json:"reason,omitempty"`
}

type RefundResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

const processorTimeout = 10 * time.Second

type httpProcessor struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPProcessor returns a JSON client for the processor API at baseURL.
func NewHTTPProcessor(baseURL, apiKey string) Processor {
	return &httpProcessor{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: processorTimeout},
	}
}

func (p *httpProcessor) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	var out Order
	if err := p.post(ctx, "/v1/orders", req.IdempotencyKey, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *httpProcessor) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	var out RefundResult
	if err := p.post(ctx, "/v1/captures/"+req.CaptureID+"/refunds", req.IdempotencyKey, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *httpProcessor) post(ctx context.Context, path, idempotencyKey string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode processor request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build processor request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	// The processor deduplicates retries carrying the same key.
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("processor %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read processor response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("processor %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode processor response: %w", err)
	}
	return nil
}

// SandboxProcessor accepts every request and issues local ids.
// It is used when no processor URL is configured.
type SandboxProcessor struct{}

func (SandboxProcessor) CreateOrder(_ context.Context, req OrderRequest) (*Order, error) {
	return &Order{ID: "sandbox-order-" + req.IdempotencyKey, Status: "CREATED"}, nil
}

func (SandboxProcessor) Refund(_ context.Context, req RefundRequest) (*RefundResult, error) {
	return &RefundResult{ID: "sandbox-refund-" + req.IdempotencyKey, Status: "PENDING"}, nil
}
