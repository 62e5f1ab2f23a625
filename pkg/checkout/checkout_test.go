package checkout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// mockSubmitter counts calls and optionally blocks until released.
type mockSubmitter struct {
	calls   int32
	gate    chan struct{}
	started chan struct{}
	err     error
	lastReq Request
	mu      sync.Mutex
}

func (m *mockSubmitter) CreateBooking(ctx context.Context, req Request) (*Confirmation, error) {
	atomic.AddInt32(&m.calls, 1)
	m.mu.Lock()
	m.lastReq = req
	m.mu.Unlock()

	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &Confirmation{BookingID: 42, ManageToken: "tok", Status: "confirmed", Total: 1005}, nil
}

func fixedClock() time.Time {
	return time.Date(2024, 2, 20, 10, 0, 0, 0, time.UTC)
}

func validForm() Form {
	return Form{
		HotelID:     7,
		HotelName:   "Harbor View",
		RoomType:    "deluxe",
		NightlyRate: 299,
		TaxRate:     0.12,
		MaxGuests:   3,
		CheckIn:     "2024-03-01",
		CheckOut:    "2024-03-04",
		Guests:      2,
		Guest:       GuestDetails{Name: "Ada Park", Email: "ada@example.com"},
	}
}

func TestNew_ComputesQuote(t *testing.T) {
	l := New(validForm(), &mockSubmitter{}, WithClock(fixedClock))
	b := l.Snapshot()

	if b.Status != StatusDraft {
		t.Fatalf("status = %s, want draft", b.Status)
	}
	if b.Quote == nil {
		t.Fatal("expected quote")
	}
	if b.Quote.Nights != 3 || b.Quote.Subtotal != 897 || b.Quote.Taxes != 108 || b.Quote.Total != 1005 {
		t.Errorf("unexpected quote %+v", *b.Quote)
	}
}

func TestUpdate_RecomputesAndNotifies(t *testing.T) {
	l := New(validForm(), &mockSubmitter{}, WithClock(fixedClock))

	var got []Booking
	l.OnChange(func(b Booking) { got = append(got, b) })

	err := l.Update(func(f *Form) { f.CheckOut = "2024-03-06" })
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(got))
	}
	if got[0].Quote.Nights != 5 || got[0].Quote.Total != 1674 {
		t.Errorf("unexpected quote after update %+v", *got[0].Quote)
	}

	if err := l.Update(func(f *Form) { f.CheckOut = "03/06/2024" }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if l.Snapshot().Quote != nil {
		t.Error("expected no quote for malformed date")
	}
}

func TestSubmit_Confirms(t *testing.T) {
	sub := &mockSubmitter{}
	l := New(validForm(), sub, WithClock(fixedClock))

	var statuses []Status
	l.OnChange(func(b Booking) { statuses = append(statuses, b.Status) })

	conf, err := l.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if conf.BookingID != 42 {
		t.Errorf("booking id = %d, want 42", conf.BookingID)
	}

	want := []Status{StatusSubmitting, StatusConfirmed}
	if len(statuses) != len(want) || statuses[0] != want[0] || statuses[1] != want[1] {
		t.Errorf("statuses = %v, want %v", statuses, want)
	}

	if sub.lastReq.IdempotencyKey == "" {
		t.Error("expected idempotency key on request")
	}
	if sub.lastReq.CheckIn != "2024-03-01" || sub.lastReq.Guests != 2 {
		t.Errorf("unexpected request %+v", sub.lastReq)
	}
}

func TestConfirmed_IsImmutable(t *testing.T) {
	l := New(validForm(), &mockSubmitter{}, WithClock(fixedClock))
	if _, err := l.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := l.Update(func(f *Form) { f.Guests = 1 }); !errors.Is(err, ErrImmutable) {
		t.Errorf("Update err = %v, want ErrImmutable", err)
	}
	if _, err := l.Submit(context.Background()); !errors.Is(err, ErrImmutable) {
		t.Errorf("Submit err = %v, want ErrImmutable", err)
	}
	if err := l.Retry(); !errors.Is(err, ErrImmutable) {
		t.Errorf("Retry err = %v, want ErrImmutable", err)
	}
	if l.Snapshot().Form.Guests != 2 {
		t.Error("confirmed form changed")
	}
}

func TestSubmit_FailureAndRetry(t *testing.T) {
	sub := &mockSubmitter{err: errors.New("room no longer available")}
	l := New(validForm(), sub, WithClock(fixedClock))

	if _, err := l.Submit(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	b := l.Snapshot()
	if b.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", b.Status)
	}
	if b.Error != "room no longer available" {
		t.Errorf("error = %q", b.Error)
	}

	// failed only leads back to draft
	if _, err := l.Submit(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Submit from failed err = %v, want ErrInvalidTransition", err)
	}
	if err := l.Update(func(f *Form) {}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Update from failed err = %v, want ErrInvalidTransition", err)
	}

	if err := l.Retry(); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	b = l.Snapshot()
	if b.Status != StatusDraft || b.Error != "" {
		t.Fatalf("after retry got status %s error %q", b.Status, b.Error)
	}
	if b.Form != validForm() {
		t.Errorf("form not retained: %+v", b.Form)
	}
	if atomic.LoadInt32(&sub.calls) != 1 {
		t.Errorf("calls = %d, want 1 (no automatic retry)", sub.calls)
	}
}

func TestSubmit_InvalidInputKeepsDraft(t *testing.T) {
	sub := &mockSubmitter{}
	form := validForm()
	form.Guests = 0
	form.CheckOut = "2024-03-01"
	form.Guest.Email = "not-an-email"
	l := New(form, sub, WithClock(fixedClock))

	_, err := l.Submit(context.Background())
	var inputErr *InputError
	if !errors.As(err, &inputErr) {
		t.Fatalf("expected *InputError, got %v", err)
	}
	for _, field := range []string{"guests", "check_out", "guest_details.email"} {
		if len(inputErr.Fields[field]) == 0 {
			t.Errorf("expected error for %s, got %v", field, inputErr.Fields)
		}
	}

	if l.Status() != StatusDraft {
		t.Errorf("status = %s, want draft", l.Status())
	}
	if sub.calls != 0 {
		t.Errorf("submitter called %d times", sub.calls)
	}
}

func TestValidate_Rules(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(f *Form)
		field string
	}{
		{"past check-in", func(f *Form) { f.CheckIn = "2024-02-01" }, "check_in"},
		{"malformed check-in", func(f *Form) { f.CheckIn = "tomorrow" }, "check_in"},
		{"missing room", func(f *Form) { f.RoomType = " " }, "room_type"},
		{"over room capacity", func(f *Form) { f.Guests = 4 }, "guests"},
		{"over global cap", func(f *Form) { f.MaxGuests = 0; f.Guests = MaxGuests + 1 }, "guests"},
		{"missing name", func(f *Form) { f.Guest.Name = "" }, "guest_details.name"},
		{"reversed stay", func(f *Form) { f.CheckOut = "2024-02-28" }, "check_out"},
		{"over night cap", func(f *Form) { f.CheckOut = "2024-04-15" }, "check_out"},
		{"negative rate", func(f *Form) { f.NightlyRate = -10 }, "nightly_rate"},
		{"fractional rate", func(f *Form) { f.NightlyRate = 99.5 }, "nightly_rate"},
		{"negative tax rate", func(f *Form) { f.TaxRate = -0.1 }, "tax_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(validForm(), &mockSubmitter{}, WithClock(fixedClock))
			if err := l.Update(tt.edit); err != nil {
				t.Fatalf("Update: %v", err)
			}
			inputErr := l.Validate()
			if inputErr == nil {
				t.Fatal("expected validation error")
			}
			if len(inputErr.Fields[tt.field]) == 0 {
				t.Errorf("expected error on %s, got %v", tt.field, inputErr.Fields)
			}
		})
	}

	l := New(validForm(), &mockSubmitter{}, WithClock(fixedClock))
	if inputErr := l.Validate(); inputErr != nil {
		t.Errorf("valid form reported %v", inputErr)
	}
}

func TestValidate_RateProblemsStayOffCheckOut(t *testing.T) {
	form := validForm()
	form.NightlyRate = -10
	l := New(form, &mockSubmitter{}, WithClock(fixedClock))

	inputErr := l.Validate()
	if inputErr == nil {
		t.Fatal("expected validation error")
	}
	if got := inputErr.Fields["check_out"]; len(got) != 0 {
		t.Errorf("check_out errors = %v, want none", got)
	}
}

func TestSubmit_OverNightCapNotSent(t *testing.T) {
	sub := &mockSubmitter{}
	form := validForm()
	form.CheckOut = "2024-04-15"
	l := New(form, sub, WithClock(fixedClock))

	_, err := l.Submit(context.Background())
	var inputErr *InputError
	if !errors.As(err, &inputErr) || len(inputErr.Fields["check_out"]) == 0 {
		t.Fatalf("expected check_out error, got %v", err)
	}
	if atomic.LoadInt32(&sub.calls) != 0 {
		t.Errorf("submitter called %d times", sub.calls)
	}

	if err := l.Update(func(f *Form) { f.CheckOut = "2024-03-31" }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if inputErr := l.Validate(); inputErr != nil {
		t.Errorf("30-night stay rejected: %v", inputErr)
	}
}

func TestSubmitAsync_ReentrantSubmitIgnored(t *testing.T) {
	sub := &mockSubmitter{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	l := New(validForm(), sub, WithClock(fixedClock))

	done, err := l.SubmitAsync(context.Background())
	if err != nil {
		t.Fatalf("SubmitAsync: %v", err)
	}
	<-sub.started

	before := l.Snapshot()
	if before.Status != StatusSubmitting {
		t.Fatalf("status = %s, want submitting", before.Status)
	}

	if _, err := l.SubmitAsync(context.Background()); !errors.Is(err, ErrSubmitInFlight) {
		t.Errorf("second SubmitAsync err = %v, want ErrSubmitInFlight", err)
	}
	if _, err := l.Submit(context.Background()); !errors.Is(err, ErrSubmitInFlight) {
		t.Errorf("Submit err = %v, want ErrSubmitInFlight", err)
	}
	if err := l.Update(func(f *Form) { f.Guests = 1 }); !errors.Is(err, ErrFrozen) {
		t.Errorf("Update err = %v, want ErrFrozen", err)
	}

	after := l.Snapshot()
	if after.Version != before.Version {
		t.Errorf("state changed while submitting: version %d -> %d", before.Version, after.Version)
	}

	close(sub.gate)
	<-done

	if l.Status() != StatusConfirmed {
		t.Errorf("status = %s, want confirmed", l.Status())
	}
	if atomic.LoadInt32(&sub.calls) != 1 {
		t.Errorf("calls = %d, want 1", sub.calls)
	}
}

func TestSubmit_ConcurrentCallersSendOneRequest(t *testing.T) {
	sub := &mockSubmitter{gate: make(chan struct{})}
	l := New(validForm(), sub, WithClock(fixedClock))

	var (
		wg       sync.WaitGroup
		inFlight int32
		ok       int32
	)
	start := make(chan struct{})
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := l.Submit(context.Background())
			switch {
			case errors.Is(err, ErrSubmitInFlight), errors.Is(err, ErrImmutable):
				atomic.AddInt32(&inFlight, 1)
			case err == nil:
				atomic.AddInt32(&ok, 1)
			}
		}()
	}

	close(start)
	time.Sleep(20 * time.Millisecond)
	close(sub.gate)
	wg.Wait()

	if atomic.LoadInt32(&sub.calls) != 1 {
		t.Errorf("calls = %d, want 1", sub.calls)
	}
	if ok != 1 || inFlight != 19 {
		t.Errorf("ok=%d rejected=%d, want 1 and 19", ok, inFlight)
	}
}

func TestSubmit_CanceledContextFails(t *testing.T) {
	sub := &mockSubmitter{gate: make(chan struct{})}
	l := New(validForm(), sub, WithClock(fixedClock))

	ctx, cancel := context.WithCancel(context.Background())
	done, err := l.SubmitAsync(ctx)
	if err != nil {
		t.Fatalf("SubmitAsync: %v", err)
	}
	cancel()
	<-done

	b := l.Snapshot()
	if b.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", b.Status)
	}
	if b.Error == "" {
		t.Error("expected user-visible error message")
	}
}

func TestUpdate_RotatesIdempotencyKey(t *testing.T) {
	sub := &mockSubmitter{err: errors.New("boom")}
	l := New(validForm(), sub, WithClock(fixedClock))

	_, _ = l.Submit(context.Background())
	first := sub.lastReq.IdempotencyKey
	_ = l.Retry()

	_, _ = l.Submit(context.Background())
	if sub.lastReq.IdempotencyKey != first {
		t.Error("unchanged form should reuse its idempotency key")
	}
	_ = l.Retry()

	_ = l.Update(func(f *Form) { f.Guests = 1 })
	_, _ = l.Submit(context.Background())
	if sub.lastReq.IdempotencyKey == first {
		t.Error("edited form should get a new idempotency key")
	}
}

func TestStatus_CanTransition(t *testing.T) {
	all := []Status{StatusDraft, StatusSubmitting, StatusConfirmed, StatusFailed}
	allowed := map[[2]Status]bool{
		{StatusDraft, StatusSubmitting}:     true,
		{StatusSubmitting, StatusConfirmed}: true,
		{StatusSubmitting, StatusFailed}:    true,
		{StatusFailed, StatusDraft}:         true,
	}

	for _, from := range all {
		for _, to := range all {
			if got := from.CanTransition(to); got != allowed[[2]Status{from, to}] {
				t.Errorf("%s -> %s = %v", from, to, got)
			}
		}
	}
}
