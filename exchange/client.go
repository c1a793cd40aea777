package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"killswitch_go_1/logs"
)

// Ensure APIClient implements Client interface
var _ Client = (*APIClient)(nil)

// APIClient talks to a Binance-style futures REST API. Only the read-only
// endpoints the safety loop needs are implemented.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	timeOffset int64 // milliseconds, exchange time minus local time
}

// NewAPIClient creates a REST client with the configured timeout.
func NewAPIClient(baseURL string, timeoutSeconds int) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSeconds) * time.Second,
		},
	}
}

// GetPrice fetches the latest ticker price for a symbol.
func (c *APIClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	endpoint := fmt.Sprintf("%s/fapi/v1/ticker/price?%s", c.baseURL, url.Values{"symbol": {symbol}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build price request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("price request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("price request returned status %d", resp.StatusCode)
	}
	var body struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode price response: %w", err)
	}
	price, err := strconv.ParseFloat(body.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price '%s' in response: %w", body.Price, err)
	}
	return price, nil
}

// Ping probes the exchange's ping endpoint.
func (c *APIClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/fapi/v1/ping", nil)
	if err != nil {
		return fmt.Errorf("failed to build ping request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping returned status %d", resp.StatusCode)
	}
	return nil
}

// SyncTime computes and stores the offset between exchange and local time.
func (c *APIClient) SyncTime() error {
	resp, err := c.httpClient.Get(c.baseURL + "/fapi/v1/time")
	if err != nil {
		return fmt.Errorf("time sync request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("time sync returned status %d", resp.StatusCode)
	}
	var body struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode time sync response: %w", err)
	}
	offset := body.ServerTime - time.Now().UnixMilli()
	atomic.StoreInt64(&c.timeOffset, offset)
	logs.Debugf("[Exchange] Time synchronized, offset %dms", offset)
	return nil
}

// TimeOffset returns the last synchronized offset in milliseconds.
func (c *APIClient) TimeOffset() int64 {
	return atomic.LoadInt64(&c.timeOffset)
}
