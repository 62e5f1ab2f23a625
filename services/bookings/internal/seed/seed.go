// Package seed loads demo hotel listings from a YAML file into an empty
// database.
package seed

import (
	"context"
	"fmt"
	"os"

	"github.com/diagnosis/staybook/pkg/logger"
	"github.com/diagnosis/staybook/services/bookings/internal/domain"
	"gopkg.in/yaml.v2"
)

type File struct {
	OwnerID int64               `yaml:"owner_id"`
	Hotels  []domain.HotelInput `yaml:"hotels"`
}

// Verify filters out evident errors before anything is written.
func (f *File) Verify() error {
	if f.OwnerID <= 0 {
		return fmt.Errorf("seed: owner_id must be set")
	}
	if len(f.Hotels) == 0 {
		return fmt.Errorf("seed: no hotels listed")
	}
	for i, h := range f.Hotels {
		if err := h.Validate(); err != nil {
			return fmt.Errorf("seed: hotel %d (%s): %w", i, h.Name, err)
		}
	}
	return nil
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("seed: decode: %w", err)
	}
	if err := f.Verify(); err != nil {
		return nil, err
	}
	return &f, nil
}

type HotelStore interface {
	Count(ctx context.Context) (int64, error)
	Create(ctx context.Context, ownerID int64, in domain.HotelInput) (*domain.Hotel, error)
}

// Load reads path and inserts its hotels when the store is empty. It returns
// the number of hotels created.
func Load(ctx context.Context, store HotelStore, path string) (int, error) {
	n, err := store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("seed: count hotels: %w", err)
	}
	if n > 0 {
		logger.InfoContext(ctx, "Skipping seed, hotels already present", "count", n)
		return 0, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("seed: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, in := range f.Hotels {
		if _, err := store.Create(ctx, f.OwnerID, in); err != nil {
			return created, fmt.Errorf("seed: create %s: %w", in.Name, err)
		}
		created++
	}

	logger.InfoContext(ctx, "Seeded hotels", "count", created, "file", path)
	return created, nil
}
