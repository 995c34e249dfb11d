// Package mileage talks to the driving-distance endpoint used to price
// medical trips.
package mileage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrMissingAddress means the origin or destination was not given or
	// could not be resolved
	ErrMissingAddress = errors.New("missing address")
	// ErrUpstream means the geocoding or routing provider failed
	ErrUpstream = errors.New("distance provider failed")
)

// Route is a trip between two addresses. Place IDs, when set, win over
// the free-text address.
type Route struct {
	From        string `json:"from"`
	To          string `json:"to"`
	FromPlaceID string `json:"fromPlaceId,omitempty"`
	ToPlaceID   string `json:"toPlaceId,omitempty"`
}

// Distance is the resolved driving distance
type Distance struct {
	Miles           float64  `json:"miles"`
	Origin          string   `json:"origin"`
	Destination     string   `json:"destination"`
	DurationMinutes *float64 `json:"durationMinutes,omitempty"`
}

// Amount prices the trip at a per-mile rate, rounded to cents
func (d *Distance) Amount(ratePerMile decimal.Decimal) decimal.Decimal {
	return decimal.NewFromFloat(d.Miles).Mul(ratePerMile).Round(2)
}

// Error carries the endpoint's error body
type Error struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Details string `json:"details,omitempty"`
	kind    error
}

func (e *Error) Error() string {
	if e.Details == "" {
		return e.Message
	}
	return e.Message + ": " + e.Details
}

func (e *Error) Unwrap() error {
	return e.kind
}

// Client calls the distance endpoint
type Client struct {
	url    string
	client *http.Client
}

// NewClient creates a distance client for the endpoint URL
func NewClient(url string) *Client {
	return &Client{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Distance resolves the driving distance of a route
func (c *Client) Distance(ctx context.Context, route Route) (*Distance, error) {
	if (strings.TrimSpace(route.From) == "" && route.FromPlaceID == "") ||
		(strings.TrimSpace(route.To) == "" && route.ToPlaceID == "") {
		return nil, &Error{
			Status:  http.StatusBadRequest,
			Message: "Both a starting and ending address are required",
			kind:    ErrMissingAddress,
		}
	}

	body, err := json.Marshal(route)
	if err != nil {
		return nil, fmt.Errorf("marshaling route: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling distance endpoint: %w", errors.Join(ErrUpstream, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errorFromBody(resp.StatusCode, data)
	}

	var d Distance
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decoding response: %w", errors.Join(ErrUpstream, err))
	}
	return &d, nil
}

func errorFromBody(status int, data []byte) error {
	e := &Error{Status: status}
	if err := json.Unmarshal(data, e); err != nil || e.Message == "" {
		e.Message = fmt.Sprintf("distance endpoint returned status %d", status)
		e.Details = strings.TrimSpace(string(data))
	}
	if status == http.StatusBadRequest {
		e.kind = ErrMissingAddress
	} else {
		e.kind = ErrUpstream
	}
	return e
}
