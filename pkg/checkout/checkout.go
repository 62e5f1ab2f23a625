// Package checkout tracks a single booking attempt from the moment the form is
// opened until the booking API accepts or rejects it.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/diagnosis/staybook/pkg/pricing"
	"github.com/google/uuid"
)

type Status string

const (
	StatusDraft      Status = "draft"
	StatusSubmitting Status = "submitting"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
)

// MaxGuests caps a single booking regardless of room capacity.
const MaxGuests = 10

var (
	ErrSubmitInFlight    = errors.New("booking submission already in progress")
	ErrFrozen            = errors.New("booking form is frozen while submitting")
	ErrImmutable         = errors.New("booking is confirmed and can no longer change")
	ErrInvalidTransition = errors.New("invalid booking state transition")
)

var transitions = map[Status][]Status{
	StatusDraft:      {StatusSubmitting},
	StatusSubmitting: {StatusConfirmed, StatusFailed},
	StatusFailed:     {StatusDraft},
	StatusConfirmed:  {},
}

// CanTransition reports whether the lifecycle allows moving from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type GuestDetails struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone,omitempty"`
	SpecialRequests string `json:"special_requests,omitempty"`
}

// Form holds the editable fields of a booking. Dates are kept as entered so
// malformed input can be reported back to the user.
type Form struct {
	HotelID     int64        `json:"hotel_id"`
	HotelName   string       `json:"hotel_name,omitempty"`
	RoomType    string       `json:"room_type"`
	NightlyRate float64      `json:"nightly_rate"`
	TaxRate     float64      `json:"tax_rate"`
	MaxGuests   int          `json:"max_guests,omitempty"`
	CheckIn     string       `json:"check_in"`
	CheckOut    string       `json:"check_out"`
	Guests      int          `json:"guests"`
	Guest       GuestDetails `json:"guest_details"`
}

// Request is what gets sent to the booking API.
type Request struct {
	HotelID        int64        `json:"hotel_id"`
	RoomType       string       `json:"room_type"`
	CheckIn        string       `json:"check_in"`
	CheckOut       string       `json:"check_out"`
	Guests         int          `json:"guests"`
	GuestDetails   GuestDetails `json:"guest_details"`
	IdempotencyKey string       `json:"-"`
}

// Confirmation is the booking record returned by a successful submission.
type Confirmation struct {
	BookingID   int64     `json:"booking_id"`
	ManageToken string    `json:"manage_token,omitempty"`
	Status      string    `json:"status"`
	Total       float64   `json:"total"`
	CreatedAt   time.Time `json:"created_at"`
}

// Submitter creates bookings on the backend.
type Submitter interface {
	CreateBooking(ctx context.Context, req Request) (*Confirmation, error)
}

// Booking is a point-in-time copy of a lifecycle. Version increases on every
// change so consumers can discard stale snapshots.
type Booking struct {
	ID           string              `json:"id"`
	Form         Form                `json:"form"`
	Quote        *pricing.PriceQuote `json:"quote,omitempty"`
	Status       Status              `json:"status"`
	Error        string              `json:"error,omitempty"`
	Confirmation *Confirmation       `json:"confirmation,omitempty"`
	Attempts     int                 `json:"attempts"`
	Version      int                 `json:"version"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

type Option func(*Lifecycle)

// WithClock overrides the time source used for validation and timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) { l.now = now }
}

// WithID sets the lifecycle id instead of generating one.
func WithID(id string) Option {
	return func(l *Lifecycle) { l.id = id }
}

// Lifecycle is safe for concurrent use. At most one submission is in flight
// at any time.
type Lifecycle struct {
	mu           sync.Mutex
	id           string
	form         Form
	quote        *pricing.PriceQuote
	status       Status
	errMsg       string
	confirmation *Confirmation
	attempts     int
	version      int
	updatedAt    time.Time
	idemKey      string

	submitter Submitter
	now       func() time.Time

	listenerMu sync.Mutex
	listeners  []func(Booking)
}

// New opens a draft for form.
func New(form Form, submitter Submitter, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		form:      form,
		status:    StatusDraft,
		submitter: submitter,
		now:       time.Now,
		idemKey:   uuid.New().String(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.id == "" {
		l.id = uuid.New().String()
	}
	if l.form.Guests == 0 {
		l.form.Guests = 1
	}
	l.updatedAt = l.now()
	l.recompute()
	return l
}

func (l *Lifecycle) ID() string { return l.id }

func (l *Lifecycle) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Snapshot returns a copy of the current state.
func (l *Lifecycle) Snapshot() Booking {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// OnChange registers fn to receive a snapshot after every change. Listeners
// run on the goroutine that made the change and must not block.
func (l *Lifecycle) OnChange(fn func(Booking)) {
	l.listenerMu.Lock()
	l.listeners = append(l.listeners, fn)
	l.listenerMu.Unlock()
}

// Update edits the form while in draft and recomputes the quote.
func (l *Lifecycle) Update(fn func(f *Form)) error {
	l.mu.Lock()
	switch l.status {
	case StatusSubmitting:
		l.mu.Unlock()
		return ErrFrozen
	case StatusConfirmed:
		l.mu.Unlock()
		return ErrImmutable
	case StatusFailed:
		l.mu.Unlock()
		return fmt.Errorf("%w: retry before editing", ErrInvalidTransition)
	}

	fn(&l.form)
	l.recompute()
	// A changed form is a different booking request.
	l.idemKey = uuid.New().String()
	snap := l.touchLocked()
	l.mu.Unlock()

	l.notify(snap)
	return nil
}

// Validate checks the current form without changing state.
func (l *Lifecycle) Validate() *InputError {
	l.mu.Lock()
	defer l.mu.Unlock()
	return validate(l.form, l.now())
}

// Submit validates the form, sends it and waits for the outcome. Validation
// failures come back as *InputError and leave the draft untouched. A call made
// while another submission is pending returns ErrSubmitInFlight.
func (l *Lifecycle) Submit(ctx context.Context) (*Confirmation, error) {
	req, err := l.begin()
	if err != nil {
		return nil, err
	}
	return l.finish(l.send(ctx, req))
}

// SubmitAsync is Submit without waiting. Once it returns nil the lifecycle is
// submitting; the returned channel closes when the attempt settles.
func (l *Lifecycle) SubmitAsync(ctx context.Context) (<-chan struct{}, error) {
	req, err := l.begin()
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = l.finish(l.send(ctx, req))
	}()
	return done, nil
}

// Retry returns a failed booking to draft, keeping every field value.
func (l *Lifecycle) Retry() error {
	l.mu.Lock()
	if l.status == StatusConfirmed {
		l.mu.Unlock()
		return ErrImmutable
	}
	if err := l.transitionLocked(StatusDraft); err != nil {
		l.mu.Unlock()
		return err
	}
	l.errMsg = ""
	snap := l.touchLocked()
	l.mu.Unlock()

	l.notify(snap)
	return nil
}

func (l *Lifecycle) begin() (Request, error) {
	l.mu.Lock()
	switch l.status {
	case StatusSubmitting:
		l.mu.Unlock()
		return Request{}, ErrSubmitInFlight
	case StatusConfirmed:
		l.mu.Unlock()
		return Request{}, ErrImmutable
	}

	if err := l.transitionCheckLocked(StatusSubmitting); err != nil {
		l.mu.Unlock()
		return Request{}, err
	}
	if inputErr := validate(l.form, l.now()); inputErr != nil {
		l.mu.Unlock()
		return Request{}, inputErr
	}

	l.status = StatusSubmitting
	l.attempts++
	req := Request{
		HotelID:        l.form.HotelID,
		RoomType:       l.form.RoomType,
		CheckIn:        l.form.CheckIn,
		CheckOut:       l.form.CheckOut,
		Guests:         l.form.Guests,
		GuestDetails:   l.form.Guest,
		IdempotencyKey: l.idemKey,
	}
	snap := l.touchLocked()
	l.mu.Unlock()

	l.notify(snap)
	return req, nil
}

func (l *Lifecycle) send(ctx context.Context, req Request) (conf *Confirmation, err error) {
	defer func() {
		if r := recover(); r != nil {
			conf, err = nil, fmt.Errorf("booking submission panicked: %v", r)
		}
	}()

	conf, err = l.submitter.CreateBooking(ctx, req)
	if err == nil && conf == nil {
		err = errors.New("booking service returned no booking")
	}
	return conf, err
}

func (l *Lifecycle) finish(conf *Confirmation, err error) (*Confirmation, error) {
	l.mu.Lock()
	if err != nil {
		l.status = StatusFailed
		l.errMsg = failureMessage(err)
		l.confirmation = nil
	} else {
		l.status = StatusConfirmed
		l.errMsg = ""
		c := *conf
		l.confirmation = &c
	}
	snap := l.touchLocked()
	l.mu.Unlock()

	l.notify(snap)
	if err != nil {
		return nil, err
	}
	return snap.Confirmation, nil
}

func (l *Lifecycle) transitionCheckLocked(next Status) error {
	if !l.status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.status, next)
	}
	return nil
}

func (l *Lifecycle) transitionLocked(next Status) error {
	if err := l.transitionCheckLocked(next); err != nil {
		return err
	}
	l.status = next
	return nil
}

func (l *Lifecycle) recompute() {
	stay, err := pricing.ParseStay(l.form.CheckIn, l.form.CheckOut)
	if err != nil {
		l.quote = nil
		return
	}
	q := pricing.Quote(l.form.NightlyRate, stay, l.form.TaxRate)
	l.quote = &q
}

func (l *Lifecycle) touchLocked() Booking {
	l.version++
	l.updatedAt = l.now()
	return l.snapshotLocked()
}

func (l *Lifecycle) snapshotLocked() Booking {
	b := Booking{
		ID:        l.id,
		Form:      l.form,
		Status:    l.status,
		Error:     l.errMsg,
		Attempts:  l.attempts,
		Version:   l.version,
		UpdatedAt: l.updatedAt,
	}
	if l.quote != nil {
		q := *l.quote
		b.Quote = &q
	}
	if l.confirmation != nil {
		c := *l.confirmation
		b.Confirmation = &c
	}
	return b
}

func (l *Lifecycle) notify(b Booking) {
	l.listenerMu.Lock()
	listeners := make([]func(Booking), len(l.listeners))
	copy(listeners, l.listeners)
	l.listenerMu.Unlock()

	for _, fn := range listeners {
		fn(b)
	}
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "Booking request was canceled. Please try again."
	case errors.Is(err, context.DeadlineExceeded):
		return "The booking service took too long to respond. Please try again."
	}
	var um interface{ UserMessage() string }
	if errors.As(err, &um) {
		return um.UserMessage()
	}
	return err.Error()
}

// InputError lists problems with individual form fields.
type InputError struct {
	Fields map[string][]string
}

func (e *InputError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], ", "))
	}
	return "invalid booking: " + strings.Join(parts, "; ")
}

func (e *InputError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}
