package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/diagnosis/staybook/pkg/auth"
	"github.com/diagnosis/staybook/pkg/httpx"
	"github.com/diagnosis/staybook/pkg/pricing"
	"github.com/diagnosis/staybook/services/bookings/internal/domain"
	"github.com/diagnosis/staybook/services/bookings/internal/handlers"
)

const testSecret = "test-secret"

// ---------- Mocks ----------

type mockHotelService struct {
	hotel      *domain.Hotel
	lastFilter domain.HotelFilter
	lastCaller *auth.Claims
	err        error
}

func (m *mockHotelService) Search(_ context.Context, f domain.HotelFilter) ([]domain.Hotel, error) {
	m.lastFilter = f
	if m.hotel == nil {
		return []domain.Hotel{}, m.err
	}
	return []domain.Hotel{*m.hotel}, m.err
}

func (m *mockHotelService) Get(_ context.Context, id int64) (*domain.Hotel, error) {
	if m.hotel == nil || m.hotel.ID != id {
		return nil, domain.ErrHotelNotFound
	}
	return m.hotel, nil
}

func (m *mockHotelService) Quote(_ context.Context, hotelID int64, roomType, checkIn, checkOut string) (*pricing.PriceQuote, error) {
	stay, err := pricing.ParseStay(checkIn, checkOut)
	if err != nil {
		v := &domain.ValidationError{}
		v.Add("dates", "bad dates")
		return nil, v
	}
	q := pricing.QuoteDefault(299, stay)
	return &q, nil
}

func (m *mockHotelService) Create(_ context.Context, caller *auth.Claims, in domain.HotelInput) (*domain.Hotel, error) {
	m.lastCaller = caller
	return &domain.Hotel{ID: 7, OwnerID: caller.Sub, Name: in.Name, City: in.City}, m.err
}

func (m *mockHotelService) Update(_ context.Context, caller *auth.Claims, id int64, patch domain.HotelPatch) (*domain.Hotel, error) {
	m.lastCaller = caller
	if m.err != nil {
		return nil, m.err
	}
	return m.hotel, nil
}

func (m *mockHotelService) Delete(_ context.Context, caller *auth.Claims, id int64) error {
	m.lastCaller = caller
	return m.err
}

func (m *mockHotelService) ListOwned(_ context.Context, caller *auth.Claims, limit, offset int) ([]domain.Hotel, error) {
	return []domain.Hotel{}, nil
}

func (m *mockHotelService) ListBookings(_ context.Context, caller *auth.Claims, hotelID int64, limit, offset int, status *domain.BookingStatus) ([]domain.Booking, error) {
	return []domain.Booking{}, m.err
}

type mockBookingService struct {
	booking    *domain.Booking
	replayed   bool
	err        error
	lastKey    string
	lastToken  string
	lastCaller *auth.Claims
	lastReason string
}

func (m *mockBookingService) CreateBooking(_ context.Context, caller *auth.Claims, req *domain.CreateBookingReq, key string) (*domain.Booking, bool, error) {
	m.lastCaller, m.lastKey = caller, key
	if m.err != nil {
		return nil, false, m.err
	}
	return m.booking, m.replayed, nil
}

func (m *mockBookingService) ListMyBookings(_ context.Context, caller *auth.Claims, limit, offset int) ([]domain.Booking, error) {
	m.lastCaller = caller
	return []domain.Booking{*m.booking}, nil
}

func (m *mockBookingService) GetBooking(_ context.Context, caller *auth.Claims, id int64, token string) (*domain.Booking, error) {
	m.lastCaller, m.lastToken = caller, token
	if m.err != nil {
		return nil, m.err
	}
	return m.booking, nil
}

func (m *mockBookingService) CancelBooking(_ context.Context, caller *auth.Claims, id int64, token, reason string) (*domain.Booking, error) {
	m.lastCaller, m.lastToken, m.lastReason = caller, token, reason
	if m.err != nil {
		return nil, m.err
	}
	b := *m.booking
	b.Status = domain.BookingCanceled
	return &b, nil
}

// ---------- Helpers ----------

func sampleBooking() *domain.Booking {
	return &domain.Booking{
		ID:          42,
		ManageToken: "manage-abc",
		HotelID:     3,
		RoomType:    "deluxe",
		CheckIn:     time.Date(2030, 3, 1, 0, 0, 0, 0, time.UTC),
		CheckOut:    time.Date(2030, 3, 4, 0, 0, 0, 0, time.UTC),
		Guests:      2,
		Guest:       domain.GuestDetails{Name: "Ada Park", Email: "ada@example.com"},
		NightlyRate: 299,
		Nights:      3,
		Subtotal:    897,
		TaxRate:     0.12,
		Taxes:       108,
		Total:       1005,
		Status:      domain.BookingConfirmed,
	}
}

func setup(t *testing.T) (*httptest.Server, *mockHotelService, *mockBookingService) {
	t.Helper()
	hs := &mockHotelService{hotel: &domain.Hotel{ID: 3, OwnerID: 1, Name: "Harbor View", City: "Lisbon", TaxRate: 0.12}}
	bs := &mockBookingService{booking: sampleBooking()}

	srv := httptest.NewServer(handlers.New(hs, bs, testSecret).Routes())
	t.Cleanup(srv.Close)
	return srv, hs, bs
}

func token(t *testing.T, sub int64, role string) string {
	t.Helper()
	tok, err := auth.NewAccessToken(sub, "ada@example.com", "Ada Park", role, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok
}

func do(t *testing.T, method, url, bearer string, body interface{}, headers map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

// ---------- Tests ----------

func TestSearchHotels(t *testing.T) {
	srv, hs, _ := setup(t)

	resp := do(t, http.MethodGet, srv.URL+"/hotels?city=Lisbon&guests=2&check_in=2030-03-01&check_out=2030-03-04&max_price=400", "", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Hotels []domain.Hotel `json:"hotels"`
		Limit  int            `json:"limit"`
	}
	decode(t, resp, &body)
	if len(body.Hotels) != 1 || body.Hotels[0].Name != "Harbor View" {
		t.Errorf("unexpected hotels %+v", body.Hotels)
	}

	f := hs.lastFilter
	if f.City != "Lisbon" || f.Guests != 2 || f.MaxPrice != 400 || f.CheckIn != "2030-03-01" {
		t.Errorf("filter not parsed: %+v", f)
	}
}

func TestSearchHotels_BadParams(t *testing.T) {
	srv, _, _ := setup(t)

	for _, q := range []string{"guests=two", "min_price=cheap", "max_price=1e"} {
		resp := do(t, http.MethodGet, srv.URL+"/hotels?"+q, "", nil, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestGetHotel_NotFound(t *testing.T) {
	srv, _, _ := setup(t)

	resp := do(t, http.MethodGet, srv.URL+"/hotels/99", "", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, srv.URL+"/hotels/abc", "", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestQuoteStay(t *testing.T) {
	srv, _, _ := setup(t)

	resp := do(t, http.MethodGet, srv.URL+"/hotels/3/quote?room_type=deluxe&check_in=2030-03-01&check_out=2030-03-04", "", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var q pricing.PriceQuote
	decode(t, resp, &q)
	if q.Total != 1005 || q.Nights != 3 {
		t.Errorf("unexpected quote %+v", q)
	}

	resp = do(t, http.MethodGet, srv.URL+"/hotels/3/quote?room_type=deluxe&check_in=soon", "", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var e httpx.ErrorResponse
	decode(t, resp, &e)
	if e.Code != httpx.CodeValidation || len(e.Fields["dates"]) == 0 {
		t.Errorf("unexpected error body %+v", e)
	}
}

func TestCreateBooking(t *testing.T) {
	srv, _, bs := setup(t)
	body := map[string]interface{}{
		"hotel_id":  3,
		"room_type": "deluxe",
		"check_in":  "2030-03-01",
		"check_out": "2030-03-04",
		"guests":    2,
	}

	resp := do(t, http.MethodPost, srv.URL+"/bookings", "", body, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", resp.StatusCode)
	}

	tok := token(t, 2, auth.RoleCustomer)
	resp = do(t, http.MethodPost, srv.URL+"/bookings", tok, body, map[string]string{"Idempotency-Key": "k-1"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var dto domain.BookingDTO
	decode(t, resp, &dto)
	if dto.ManageToken != "manage-abc" || dto.Total != 1005 || dto.CheckIn != "2030-03-01" {
		t.Errorf("unexpected booking %+v", dto)
	}
	if bs.lastKey != "k-1" || bs.lastCaller == nil || bs.lastCaller.Sub != 2 {
		t.Errorf("service called with key=%q caller=%+v", bs.lastKey, bs.lastCaller)
	}

	bs.replayed = true
	resp = do(t, http.MethodPost, srv.URL+"/bookings", tok, body, map[string]string{"Idempotency-Key": "k-1"})
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Idempotent-Replayed") != "true" {
		t.Errorf("replay status = %d header = %q", resp.StatusCode, resp.Header.Get("Idempotent-Replayed"))
	}
}

func TestCreateBooking_GuestSession(t *testing.T) {
	srv, _, bs := setup(t)

	tok, err := auth.NewGuestSession("gia@example.com", "Gia", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("guest session: %v", err)
	}
	resp := do(t, http.MethodPost, srv.URL+"/bookings", tok, map[string]interface{}{"hotel_id": 3}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if bs.lastCaller.Role != auth.RoleGuest || bs.lastCaller.Email != "gia@example.com" {
		t.Errorf("unexpected caller %+v", bs.lastCaller)
	}
}

func TestCreateBooking_ErrorMapping(t *testing.T) {
	validation := &domain.ValidationError{}
	validation.Add("guests", "too many")

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", validation, http.StatusBadRequest, httpx.CodeValidation},
		{"sold out", domain.ErrRoomUnavailable, http.StatusConflict, httpx.CodeUnavailable},
		{"no hotel", domain.ErrHotelNotFound, http.StatusNotFound, httpx.CodeNotFound},
		{"boom", context.DeadlineExceeded, http.StatusInternalServerError, httpx.CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, bs := setup(t)
			bs.err = tt.err

			resp := do(t, http.MethodPost, srv.URL+"/bookings", token(t, 2, auth.RoleCustomer), map[string]interface{}{"hotel_id": 3}, nil)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			var e httpx.ErrorResponse
			decode(t, resp, &e)
			if e.Code != tt.code {
				t.Errorf("code = %q, want %q", e.Code, tt.code)
			}
		})
	}
}

func TestCreateBooking_RejectsUnknownFields(t *testing.T) {
	srv, _, _ := setup(t)

	resp := do(t, http.MethodPost, srv.URL+"/bookings", token(t, 2, auth.RoleCustomer), map[string]interface{}{"total": 1}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetBooking_ManageToken(t *testing.T) {
	srv, _, bs := setup(t)

	resp := do(t, http.MethodGet, srv.URL+"/bookings/42", "", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, srv.URL+"/bookings/42?manage_token=manage-abc", "", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var dto domain.BookingDTO
	decode(t, resp, &dto)
	if dto.ManageToken != "" {
		t.Error("manage token leaked on read")
	}
	if bs.lastToken != "manage-abc" || bs.lastCaller != nil {
		t.Errorf("service called with token=%q caller=%+v", bs.lastToken, bs.lastCaller)
	}

	bs.err = domain.ErrBookingNotFound
	resp = do(t, http.MethodGet, srv.URL+"/bookings/42", token(t, 9, auth.RoleCustomer), nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCancelBooking(t *testing.T) {
	srv, _, bs := setup(t)

	resp := do(t, http.MethodPost, srv.URL+"/bookings/42/cancel", "", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	resp = do(t, http.MethodPost, srv.URL+"/bookings/42/cancel", "", map[string]string{"manage_token": "manage-abc", "reason": "flight moved"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var dto domain.BookingDTO
	decode(t, resp, &dto)
	if dto.Status != "canceled" || bs.lastReason != "flight moved" {
		t.Errorf("unexpected result status=%s reason=%q", dto.Status, bs.lastReason)
	}

	bs.err = domain.ErrCancelClosed
	resp = do(t, http.MethodPost, srv.URL+"/bookings/42/cancel", token(t, 2, auth.RoleCustomer), nil, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	var e httpx.ErrorResponse
	decode(t, resp, &e)
	if e.Code != httpx.CodeBookingImmutable {
		t.Errorf("code = %q, want %q", e.Code, httpx.CodeBookingImmutable)
	}
}

func TestOwnerRoutes_RequireOwnerRole(t *testing.T) {
	srv, hs, _ := setup(t)
	body := map[string]interface{}{"name": "Alfama Rooms", "city": "Lisbon"}

	resp := do(t, http.MethodPost, srv.URL+"/owner/hotels", token(t, 2, auth.RoleCustomer), body, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("customer status = %d, want 403", resp.StatusCode)
	}

	resp = do(t, http.MethodPost, srv.URL+"/owner/hotels", token(t, 1, auth.RoleOwner), body, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("owner status = %d, want 201", resp.StatusCode)
	}
	if hs.lastCaller == nil || hs.lastCaller.Sub != 1 {
		t.Errorf("unexpected caller %+v", hs.lastCaller)
	}

	hs.err = domain.ErrForbidden
	resp = do(t, http.MethodDelete, srv.URL+"/owner/hotels/3", token(t, 5, auth.RoleOwner), nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign owner status = %d, want 403", resp.StatusCode)
	}

	hs.err = nil
	resp = do(t, http.MethodDelete, srv.URL+"/owner/hotels/3", token(t, 1, auth.RoleOwner), nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}
}

func TestListHotelBookings_BadStatus(t *testing.T) {
	srv, _, _ := setup(t)

	resp := do(t, http.MethodGet, srv.URL+"/owner/hotels/3/bookings?status=pending", token(t, 1, auth.RoleOwner), nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
