package seed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/diagnosis/staybook/services/bookings/internal/domain"
)

const sample = `
owner_id: 1
hotels:
  - name: Harbor View
    city: Lisbon
    star_rating: 4
    amenities: [wifi, pool]
    room_types:
      - code: deluxe
        name: Deluxe King
        nightly_rate: 299
        max_guests: 3
        inventory: 4
  - name: Old Town Inn
    city: Porto
    tax_rate: 0.06
    room_types:
      - code: std
        name: Standard
        nightly_rate: 89
        max_guests: 2
        inventory: 10
`

type mockStore struct {
	existing int64
	created  []domain.HotelInput
}

func (m *mockStore) Count(ctx context.Context) (int64, error) {
	return m.existing, nil
}

func (m *mockStore) Create(ctx context.Context, ownerID int64, in domain.HotelInput) (*domain.Hotel, error) {
	m.created = append(m.created, in)
	return &domain.Hotel{ID: int64(len(m.created)), OwnerID: ownerID, Name: in.Name}, nil
}

func writeSample(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hotels.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	return path
}

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(f.Hotels) != 2 {
		t.Fatalf("hotels = %d, want 2", len(f.Hotels))
	}

	h := f.Hotels[0]
	if h.RoomTypes[0].NightlyRate != 299 || h.RoomTypes[0].Inventory != 4 {
		t.Errorf("unexpected room %+v", h.RoomTypes[0])
	}
	if f.Hotels[1].TaxRate == nil || *f.Hotels[1].TaxRate != 0.06 {
		t.Error("expected tax rate override on second hotel")
	}
}

func TestParse_RejectsInvalidHotel(t *testing.T) {
	bad := strings.Replace(sample, "nightly_rate: 89", "nightly_rate: -89", 1)
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("expected error for negative rate")
	}
}

func TestLoad_EmptyStore(t *testing.T) {
	store := &mockStore{}
	n, err := Load(context.Background(), store, writeSample(t, sample))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 2 || len(store.created) != 2 {
		t.Errorf("created %d, want 2", n)
	}
}

func TestLoad_SkipsWhenPopulated(t *testing.T) {
	store := &mockStore{existing: 3}
	n, err := Load(context.Background(), store, filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 0 || len(store.created) != 0 {
		t.Errorf("expected no inserts, got %d", n)
	}
}
