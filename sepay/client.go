// Package sepay talks to the SePay transaction API used to reconcile
// incoming bank transfers against pending payments.
package sepay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/henry-banana/tkob-qrorder/circuitbreaker"
)

var ErrGatewayUnavailable = errors.New("sepay gateway unavailable")

// Transaction is one incoming transfer as reported by the gateway. Amounts
// come back as decimal strings.
type Transaction struct {
	ID              string `json:"id"`
	TransactionDate string `json:"transaction_date"`
	AccountNumber   string `json:"account_number"`
	AmountIn        string `json:"amount_in"`
	Content         string `json:"transaction_content"`
	ReferenceNumber string `json:"reference_number"`
}

// AmountVND parses the transfer amount as whole VND.
func (t Transaction) AmountVND() int64 {
	f, err := strconv.ParseFloat(t.AmountIn, 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(f))
}

type ListOptions struct {
	// TransferContent filters the result to transactions whose memo
	// contains this token. Matching happens client-side; the gateway
	// endpoint only supports account and limit parameters.
	TransferContent string
	Limit           int
}

type Client interface {
	ListTransactions(ctx context.Context, opts ListOptions) ([]Transaction, error)
}

type HTTPClient struct {
	baseURL       string
	apiKey        string
	accountNumber string
	httpClient    *http.Client
	breaker       *circuitbreaker.CircuitBreaker
	logger        *zap.Logger
}

func NewHTTPClient(baseURL, apiKey, accountNumber string, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:       baseURL,
		apiKey:        apiKey,
		accountNumber: accountNumber,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		breaker:       circuitbreaker.New(5, 30*time.Second),
		logger:        logger,
	}
}

type listResponse struct {
	Status   int `json:"status"`
	Messages struct {
		Success bool `json:"success"`
	} `json:"messages"`
	Transactions []Transaction `json:"transactions"`
}

func (c *HTTPClient) ListTransactions(ctx context.Context, opts ListOptions) ([]Transaction, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	q := url.Values{}
	q.Set("account_number", c.accountNumber)
	q.Set("limit", strconv.Itoa(limit))

	var body listResponse
	err := c.breaker.Execute(ctx, func() error {
		endpoint := fmt.Sprintf("%s/userapi/transactions/list?%s", c.baseURL, q.Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("gateway returned status %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
		if !body.Messages.Success {
			return fmt.Errorf("gateway reported failure, status %d", body.Status)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	if opts.TransferContent == "" {
		return body.Transactions, nil
	}

	var matched []Transaction
	for _, tx := range body.Transactions {
		if strings.Contains(tx.Content, opts.TransferContent) {
			matched = append(matched, tx)
		}
	}
	return matched, nil
}
