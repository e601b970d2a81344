// Package payments obtains checkout links from the hotel's payment
// service. The concierge never charges anything itself; it only hands
// the guest a link. Deployments without a payment service run with
// links disabled and every caller treats that as "no link available".
package payments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
)

// ErrDisabled is returned when no payment service is configured.
var ErrDisabled = errors.New("payment links disabled")

// Links builds checkout URLs for the three charge shapes the concierge
// produces.
type Links interface {
	ForAddons(ctx context.Context, sessionID string, keys []string) (string, error)
	ForBooking(ctx context.Context, bookingID string, amount float64) (string, error)
	ForPending(ctx context.Context, amount float64) (string, error)
}

const linkTimeout = 10 * time.Second

// Client asks the payment service for checkout links over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: linkTimeout},
		log:     log,
	}
}

type linkRequest struct {
	Kind      string   `json:"kind"`
	SessionID string   `json:"session_id,omitempty"`
	Items     []string `json:"items,omitempty"`
	BookingID string   `json:"booking_id,omitempty"`
	Amount    float64  `json:"amount,omitempty"`
}

type linkResponse struct {
	URL string `json:"url"`
}

func (c *Client) ForAddons(ctx context.Context, sessionID string, keys []string) (string, error) {
	return c.create(ctx, linkRequest{Kind: "addons", SessionID: sessionID, Items: keys})
}

func (c *Client) ForBooking(ctx context.Context, bookingID string, amount float64) (string, error) {
	return c.create(ctx, linkRequest{Kind: "booking", BookingID: bookingID, Amount: amount})
}

func (c *Client) ForPending(ctx context.Context, amount float64) (string, error) {
	return c.create(ctx, linkRequest{Kind: "pending", Amount: amount})
}

func (c *Client) create(ctx context.Context, lr linkRequest) (string, error) {
	if c.baseURL == "" {
		return "", ErrDisabled
	}
	body, err := sonic.Marshal(lr)
	if err != nil {
		return "", fmt.Errorf("encode link request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/links", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create link request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request payment link: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("request payment link: unexpected status %s", resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read payment link: %w", err)
	}
	var decoded linkResponse
	if err := sonic.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decode payment link: %w", err)
	}
	if decoded.URL == "" {
		return "", fmt.Errorf("payment service returned no url")
	}
	return decoded.URL, nil
}
