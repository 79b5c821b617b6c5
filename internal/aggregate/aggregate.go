// Package aggregate maintains running training-distribution totals per
// owner. Totals are folded incrementally as exercises complete, so a
// read never rescans workout history, and reset when the goal weights
// they were accumulated under change.
package aggregate

import (
	"fmt"
	"math"
	"time"
)

// Totals is the accumulated training distribution for one owner.
// Category and muscle shares are fractional contributions, not set
// counts: one completed exercise distributes weight 1.0 across its
// categories and across its muscles.
type Totals struct {
	OwnerID           string             `json:"owner_id"`
	CategoryTotals    map[string]float64 `json:"category_totals"`
	MuscleTotals      map[string]float64 `json:"muscle_totals"`
	ExerciseCount     int                `json:"exercise_count"`
	TrackingStartedAt time.Time          `json:"tracking_started_at"`
}

func emptyTotals(ownerID string) *Totals {
	return &Totals{
		OwnerID:        ownerID,
		CategoryTotals: map[string]float64{},
		MuscleTotals:   map[string]float64{},
	}
}

// ValidateShares rejects share maps with negative, NaN, or infinite
// weights before they can poison the stored totals.
func ValidateShares(shares map[string]float64) error {
	for key, w := range shares {
		if key == "" {
			return fmt.Errorf("%w: empty share key", ErrInvalidShares)
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: %q has weight %v", ErrInvalidShares, key, w)
		}
	}
	return nil
}

// merge adds shares into totals in place, touching only the keys
// present in shares.
func merge(totals, shares map[string]float64) {
	for key, w := range shares {
		totals[key] += w
	}
}
