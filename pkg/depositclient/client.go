/**
 * @description
 * This package provides a client for communicating with the deposit service.
 * It encapsulates the logic for crediting an external account during gift
 * card redemption. Calls are wrapped in a circuit breaker so a failing
 * deposit service sheds load fast instead of tying up redemption requests.
 *
 * @dependencies
 * - net/http, encoding/json: Standard Go libraries.
 * - github.com/sony/gobreaker: Circuit breaker around the HTTP call.
 */
package depositclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// Client is a client for the deposit service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates a new deposit service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "deposit-service",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// DepositRequest defines the request payload for crediting an account.
type DepositRequest struct {
	AccountNumber string `json:"account_number"`
	Amount        int64  `json:"amount"` // in cents
	Description   string `json:"description,omitempty"`
}

// Deposit credits the given account with the amount. A non-2xx response or a
// tripped breaker is returned as an error; the caller treats any error as a
// failed deposit and rolls back its local mutation.
func (c *Client) Deposit(ctx context.Context, accountNumber string, amount int64, description string) error {
	if c.baseURL == "" {
		return fmt.Errorf("deposit service base url is empty")
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.post(ctx, accountNumber, amount, description)
	})
	return err
}

func (c *Client) post(ctx context.Context, accountNumber string, amount int64, description string) error {
	url := fmt.Sprintf("%s/internal/deposits", c.baseURL)

	payload := DepositRequest{
		AccountNumber: accountNumber,
		Amount:        amount,
		Description:   description,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request to deposit service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("deposit service returned error status %d", resp.StatusCode)
	}
	return nil
}
