package pharmacy

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

// Medication is a dispensed pharmacy item chargeable to an admission.
type Medication struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Dosage    *string         `json:"dosage,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Status    string          `json:"status"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// Client talks to the pharmacy system.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a pharmacy client against the given base URL.
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

// DispensedMedications returns the dispensed, not-yet-billed medications
// for an admission. Only items the pharmacy marked dispensed are
// chargeable; ordered or cancelled items never reach the invoice.
func (c *Client) DispensedMedications(ctx context.Context, admissionID uuid.UUID) ([]Medication, error) {
	u := fmt.Sprintf("%s/medication-requests/?%s", c.baseURL, url.Values{
		"admission": {admissionID.String()},
		"status":    {"dispensed"},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building pharmacy request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: pharmacy: %v", upstream.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: pharmacy returned status %d", upstream.ErrUnavailable, resp.StatusCode)
	}

	var meds []Medication
	if err := json.NewDecoder(resp.Body).Decode(&meds); err != nil {
		return nil, fmt.Errorf("decoding pharmacy response: %w", err)
	}
	return meds, nil
}
