package admissions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/his/his/internal/upstream"
)

// Admission is the patient and encounter context behind an invoice. The
// billing dashboard joins against it for display only; billing amounts
// never come from here.
type Admission struct {
	ID                 uuid.UUID  `json:"id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	PatientName        string     `json:"patient_name"`
	RoomNumber         string     `json:"room_number"`
	AttendingPhysician string     `json:"attending_physician"`
	AdmittedAt         time.Time  `json:"admitted_at"`
	DischargedAt       *time.Time `json:"discharged_at,omitempty"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// Client talks to the admissions system.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates an admissions client against the given base URL.
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

// GetAdmission fetches one admission by id.
func (c *Client) GetAdmission(ctx context.Context, id uuid.UUID) (*Admission, error) {
	u := fmt.Sprintf("%s/admissions/%s/", c.baseURL, id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building admissions request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: admissions: %v", upstream.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("admission %s not found", id)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: admissions returned status %d", upstream.ErrUnavailable, resp.StatusCode)
	}

	var adm Admission
	if err := json.NewDecoder(resp.Body).Decode(&adm); err != nil {
		return nil, fmt.Errorf("decoding admissions response: %w", err)
	}
	return &adm, nil
}

// GetAdmissions fetches several admissions in one round trip. Missing
// ids are simply absent from the result; an unreachable service returns
// ErrUnavailable so the dashboard can fall back to placeholders.
func (c *Client) GetAdmissions(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Admission, error) {
	out := make(map[uuid.UUID]*Admission, len(ids))
	for _, id := range ids {
		adm, err := c.GetAdmission(ctx, id)
		if err != nil {
			if errors.Is(err, upstream.ErrUnavailable) {
				return nil, err
			}
			// Not found: skip, the dashboard shows placeholders.
			continue
		}
		out[id] = adm
	}
	return out, nil
}
