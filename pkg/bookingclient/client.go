// Package bookingclient talks to the bookings service REST API.
package bookingclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/diagnosis/staybook/pkg/checkout"
	"github.com/diagnosis/staybook/pkg/logger"
	"github.com/diagnosis/staybook/pkg/pricing"
	"github.com/google/go-querystring/query"
)

// APIError is a non-2xx response from the bookings service.
type APIError struct {
	Status  int                 `json:"-"`
	Message string              `json:"error"`
	Code    string              `json:"code,omitempty"`
	Fields  map[string][]string `json:"fields,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("bookings service: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("bookings service: %d: %s", e.Status, e.Message)
}

// UserMessage is the text safe to show to an end user.
func (e *APIError) UserMessage() string {
	if e.Status >= 500 || e.Message == "" {
		return "The booking service is unavailable right now. Please try again."
	}
	return e.Message
}

// IsNotFound reports whether err is a 404 from the bookings service.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type RoomType struct {
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	NightlyRate float64 `json:"nightly_rate"`
	MaxGuests   int     `json:"max_guests"`
	Inventory   int     `json:"inventory"`
}

type Hotel struct {
	ID          int64      `json:"id"`
	OwnerID     int64      `json:"owner_id"`
	Name        string     `json:"name"`
	City        string     `json:"city"`
	Address     string     `json:"address"`
	Description string     `json:"description"`
	StarRating  int        `json:"star_rating"`
	Amenities   []string   `json:"amenities"`
	RoomTypes   []RoomType `json:"room_types"`
	TaxRate     float64    `json:"tax_rate"`
}

// Room returns the room type with the given code.
func (h *Hotel) Room(code string) (RoomType, bool) {
	for _, rt := range h.RoomTypes {
		if rt.Code == code {
			return rt, true
		}
	}
	return RoomType{}, false
}

// SearchParams is encoded into the hotel search query string.
type SearchParams struct {
	City     string  `url:"city,omitempty"`
	Guests   int     `url:"guests,omitempty"`
	MinPrice float64 `url:"min_price,omitempty"`
	MaxPrice float64 `url:"max_price,omitempty"`
	CheckIn  string  `url:"check_in,omitempty"`
	CheckOut string  `url:"check_out,omitempty"`
	Limit    int     `url:"limit,omitempty"`
	Offset   int     `url:"offset,omitempty"`
}

type quoteParams struct {
	RoomType string `url:"room_type"`
	CheckIn  string `url:"check_in"`
	CheckOut string `url:"check_out"`
}

type bookingResponse struct {
	ID          int64     `json:"id"`
	ManageToken string    `json:"manage_token"`
	Status      string    `json:"status"`
	Total       float64   `json:"total"`
	CreatedAt   time.Time `json:"created_at"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) GetHotel(ctx context.Context, id int64) (*Hotel, error) {
	var hotel Hotel
	if err := c.do(ctx, http.MethodGet, "/hotels/"+strconv.FormatInt(id, 10), nil, nil, &hotel); err != nil {
		return nil, err
	}
	return &hotel, nil
}

func (c *Client) SearchHotels(ctx context.Context, params SearchParams) ([]Hotel, error) {
	v, err := query.Values(params)
	if err != nil {
		return nil, fmt.Errorf("encode search params: %w", err)
	}

	var resp struct {
		Hotels []Hotel `json:"hotels"`
	}
	if err := c.do(ctx, http.MethodGet, "/hotels?"+v.Encode(), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Hotels, nil
}

// Quote asks the service to price a stay with the hotel's own tax rate.
func (c *Client) Quote(ctx context.Context, hotelID int64, roomType, checkIn, checkOut string) (*pricing.PriceQuote, error) {
	v, err := query.Values(quoteParams{RoomType: roomType, CheckIn: checkIn, CheckOut: checkOut})
	if err != nil {
		return nil, fmt.Errorf("encode quote params: %w", err)
	}

	var q pricing.PriceQuote
	path := "/hotels/" + strconv.FormatInt(hotelID, 10) + "/quote?" + v.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// CreateBooking posts a booking on behalf of the holder of token.
func (c *Client) CreateBooking(ctx context.Context, token string, req checkout.Request) (*checkout.Confirmation, error) {
	headers := map[string]string{}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	if req.IdempotencyKey != "" {
		headers["Idempotency-Key"] = req.IdempotencyKey
	}

	var b bookingResponse
	if err := c.do(ctx, http.MethodPost, "/bookings", req, headers, &b); err != nil {
		return nil, err
	}

	return &checkout.Confirmation{
		BookingID:   b.ID,
		ManageToken: b.ManageToken,
		Status:      b.Status,
		Total:       b.Total,
		CreatedAt:   b.CreatedAt,
	}, nil
}

// Submitter binds token so the client can back a checkout.Lifecycle.
func (c *Client) Submitter(token string) checkout.Submitter {
	return &submitter{client: c, token: token}
}

type submitter struct {
	client *Client
	token  string
}

func (s *submitter) CreateBooking(ctx context.Context, req checkout.Request) (*checkout.Confirmation, error) {
	return s.client.CreateBooking(ctx, s.token, req)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, headers map[string]string, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if requestID, ok := ctx.Value(logger.RequestIDKey).(string); ok && requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	logger.DebugContext(ctx, "Calling bookings service", "method", method, "path", redactQuery(path))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(raw, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
			if apiErr.Message == "" {
				apiErr.Message = http.StatusText(resp.StatusCode)
			}
		}
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func redactQuery(path string) string {
	u, err := url.Parse(path)
	if err != nil {
		return path
	}
	return u.Path
}
