// Package africastalking implements the Africa's Talking push gateway
// provider. Messages are submitted one request at a time so the result array
// stays parallel to the input batch.
package africastalking

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukex/smsbridge/pkg/gateway"
	"github.com/dukex/smsbridge/pkg/models"
)

const (
	ProviderID = "africas-talking"

	defaultBaseURL = "https://api.africastalking.com"
	sendPath       = "/version1/messaging"
	requestTimeout = 30 * time.Second
)

// stateByStatusCode maps the provider's recipient status codes to task states.
// Codes at or above 400 are hard failures.
var stateByStatusCode = map[int]models.TaskState{
	100: models.StateForwardedByGateway, // Processed
	101: models.StateSent,               // Sent
	102: models.StateForwardedToGateway, // Queued
}

// Provider is the Africa's Talking gateway client.
type Provider struct {
	username string
	apiKey   string
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
}

func NewProvider(logger *slog.Logger, username, apiKey, baseURL string) *Provider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Provider{
		username: username,
		apiKey:   apiKey,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		client:   &http.Client{Timeout: requestTimeout},
		logger:   logger.With("module", "africastalking"),
	}
}

func (p *Provider) ID() string {
	return ProviderID
}

func (p *Provider) Push() bool {
	return true
}

// Send submits the batch and returns one result per message, in batch order.
// A failed submission marks only that message unsuccessful; the task stays
// pending and is retried on the next cycle.
func (p *Provider) Send(ctx context.Context, batch []models.PendingMessage) ([]gateway.Result, error) {
	results := make([]gateway.Result, 0, len(batch))

	for _, msg := range batch {
		result, err := p.sendOne(ctx, msg)
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to submit message", "message_id", msg.ID, "error", err)

			results = append(results, gateway.Result{Success: false, Details: err.Error()})

			continue
		}

		results = append(results, result)
	}

	return results, nil
}

type sendResponse struct {
	SMSMessageData struct {
		Recipients []struct {
			Number     string `json:"number"`
			StatusCode int    `json:"statusCode"`
			Status     string `json:"status"`
			MessageID  string `json:"messageId"`
		} `json:"Recipients"`
	} `json:"SMSMessageData"`
}

func (p *Provider) sendOne(ctx context.Context, msg models.PendingMessage) (gateway.Result, error) {
	form := url.Values{}
	form.Set("username", p.username)
	form.Set("to", msg.To)
	form.Set("message", msg.Content)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+sendPath, strings.NewReader(form.Encode()))
	if err != nil {
		return gateway.Result{}, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apiKey", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return gateway.Result{}, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gateway.Result{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gateway.Result{}, fmt.Errorf("unexpected response status %d: %s", resp.StatusCode, body)
	}

	var parsed sendResponse

	err = json.Unmarshal(body, &parsed)
	if err != nil {
		return gateway.Result{}, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(parsed.SMSMessageData.Recipients) == 0 {
		return gateway.Result{}, fmt.Errorf("response contains no recipients: %s", body)
	}

	recipient := parsed.SMSMessageData.Recipients[0]

	state, ok := stateByStatusCode[recipient.StatusCode]
	if !ok {
		return gateway.Result{
			Success: false,
			Details: fmt.Sprintf("status %d: %s", recipient.StatusCode, recipient.Status),
		}, nil
	}

	return gateway.Result{
		Success:    true,
		State:      state,
		GatewayRef: recipient.MessageID,
	}, nil
}
