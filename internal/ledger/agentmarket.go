// Package ledger contains the reward ledger client.
//
// AgentMarket reports rewards to the Agent Market API
// (PUT {base}/instances/{instance_id}/report-reward). Server errors and
// transport failures are returned as plain errors so the caller may retry;
// 4xx responses are wrapped in a *RejectedError, which reports itself as
// permanent.
package ledger

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

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultBaseURL is the public Agent Market API.
const DefaultBaseURL = "https://api.agent.market/v1"

// ErrLedgerRejected is matched by every *RejectedError.
var ErrLedgerRejected = errors.New("ledger rejected request")

// RejectedError is a non-retryable client error returned by the ledger.
type RejectedError struct {
	Status int
	Body   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("ledger rejected request (%d): %s", e.Status, e.Body)
}

// Permanent reports that the request must not be retried.
func (e *RejectedError) Permanent() bool { return true }

// Is lets errors.Is match ErrLedgerRejected.
func (e *RejectedError) Is(target error) bool { return target == ErrLedgerRejected }

// AgentMarket is an HTTP client for reward reporting.
type AgentMarket struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// NewAgentMarket returns a client with a 30s request timeout.
func NewAgentMarket(baseURL, apiKey string) (*AgentMarket, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("ledger: api key not provided")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &AgentMarket{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type reportRewardRequest struct {
	GenReward   json.Number `json:"gen_reward"`
	RecipientID string      `json:"recipient_id,omitempty"`
}

// Submit implements consensus.Ledger.
func (c *AgentMarket) Submit(ctx context.Context, recipientID string, amount decimal.Decimal, instanceID string) error {
	ctx, span := otel.Tracer("ledger/agentmarket").Start(ctx, "ReportReward")
	defer span.End()
	span.SetAttributes(
		attribute.String("ledger.instance_id", instanceID),
		attribute.String("ledger.recipient_id", recipientID),
		attribute.String("ledger.amount", amount.String()),
	)

	if instanceID == "" {
		return &RejectedError{Status: http.StatusBadRequest, Body: "instance id is required"}
	}
	body, err := json.Marshal(reportRewardRequest{GenReward: json.Number(amount.String()), RecipientID: recipientID})
	if err != nil {
		return err
	}
	endpoint := c.BaseURL + "/instances/" + url.PathEscape(instanceID) + "/report-reward"

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return fmt.Errorf("report reward: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 400 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	text, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	span.SetStatus(codes.Error, resp.Status)
	if resp.StatusCode >= 500 {
		return fmt.Errorf("report reward: server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}
	return &RejectedError{Status: resp.StatusCode, Body: strings.TrimSpace(string(text))}
}
