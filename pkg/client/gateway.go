package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"medbook/pkg/model"

	"github.com/google/uuid"
)

// SimulatedGateway selects the built-in deterministic gateway instead of a
// remote one. Useful for local runs and tests; production points BaseURL
// at the real simulator service.
const SimulatedGateway = "simulate"

type ChargeRequest struct {
	TransactionID string  `json:"transaction_id"`
	Amount        float64 `json:"amount"`
	Method        string  `json:"method"`
	Instrument    string  `json:"instrument,omitempty"`
}

type RefundRequest struct {
	TransactionID    string  `json:"transaction_id"`
	GatewayReference string  `json:"gateway_reference"`
	Amount           float64 `json:"amount"`
}

// GatewayClient is the opaque payment-gateway boundary. The core never
// retries gateway calls; callers retry with a stable transaction ID and
// Capture stays idempotent-safe.
type GatewayClient struct {
	http     *HttpClient
	simulate bool
}

func NewGatewayClient(baseURL string) *GatewayClient {
	if baseURL == "" || baseURL == SimulatedGateway {
		return &GatewayClient{simulate: true}
	}
	return &GatewayClient{http: NewHttpClient(baseURL)}
}

func (g *GatewayClient) Charge(ctx context.Context, req ChargeRequest) (*model.GatewayResult, error) {
	if g.simulate {
		return g.simulateCharge(req), nil
	}

	resp, err := g.http.POST(ctx, "/v1/charges", req)
	if err != nil {
		return nil, fmt.Errorf("gateway charge call failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway charge returned status %d", resp.StatusCode)
	}

	var result model.GatewayResult
	if err := resp.DecodeJSON(&result); err != nil {
		return nil, fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return &result, nil
}

func (g *GatewayClient) Refund(ctx context.Context, req RefundRequest) (*model.GatewayResult, error) {
	if g.simulate {
		return &model.GatewayResult{
			Success:   true,
			Code:      "REFUND_OK",
			Message:   "refund accepted",
			Reference: "sim-rf-" + uuid.New().String(),
		}, nil
	}

	resp, err := g.http.POST(ctx, "/v1/refunds", req)
	if err != nil {
		return nil, fmt.Errorf("gateway refund call failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway refund returned status %d", resp.StatusCode)
	}

	var result model.GatewayResult
	if err := resp.DecodeJSON(&result); err != nil {
		return nil, fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return &result, nil
}

// simulateCharge is deterministic so tests can drive both outcomes: an
// instrument ending in "0000" is declined, anything else is approved.
func (g *GatewayClient) simulateCharge(req ChargeRequest) *model.GatewayResult {
	if strings.HasSuffix(req.Instrument, "0000") {
		return &model.GatewayResult{
			Success: false,
			Code:    "DECLINED",
			Message: "insufficient funds",
		}
	}
	return &model.GatewayResult{
		Success:   true,
		Code:      "CAPTURED",
		Message:   "payment captured",
		Reference: "sim-ch-" + uuid.New().String(),
	}
}
