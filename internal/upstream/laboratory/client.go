package laboratory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/his/his/internal/upstream"
)

// LabTest is a completed diagnostic chargeable to an admission.
type LabTest struct {
	ID     uuid.UUID       `json:"id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Status string          `json:"status"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// Client talks to the laboratory system.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a laboratory client against the given base URL.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CompletedTests returns the completed diagnostics for an admission.
// Pending or cancelled orders are not chargeable and never leave the
// laboratory system.
func (c *Client) CompletedTests(ctx context.Context, admissionID uuid.UUID) ([]LabTest, error) {
	u := fmt.Sprintf("%s/requests/?%s", c.baseURL, url.Values{
		"admission": {admissionID.String()},
		"status":    {"completed"},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building laboratory request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: laboratory: %v", upstream.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: laboratory returned status %d", upstream.ErrUnavailable, resp.StatusCode)
	}

	var tests []LabTest
	if err := json.NewDecoder(resp.Body).Decode(&tests); err != nil {
		return nil, fmt.Errorf("decoding laboratory response: %w", err)
	}
	return tests, nil
}
