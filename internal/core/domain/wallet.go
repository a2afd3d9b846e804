package domain

import (
	"time"

	"github.com/google/uuid"
)

// Wallet is a single account holding a scaled integer balance and frozen
// amount for one owning entity. Balance and FrozenAmount are raw fixed-point
// integers scaled by 10^DecimalPlaces; presentation rounding is applied only
// at the edges via the math engine.
type Wallet struct {
	ID            int64          `json:"id"`
	UUID          uuid.UUID      `json:"uuid"`
	HolderType    string         `json:"holder_type"`
	HolderID      string         `json:"holder_id"`
	Name          string         `json:"name"`
	Slug          string         `json:"slug"`
	Description   string         `json:"description,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
	Balance       string         `json:"balance"`
	FrozenAmount  string         `json:"frozen_amount"`
	DecimalPlaces int32          `json:"decimal_places"`
	Checksum      string         `json:"-"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     *time.Time     `json:"deleted_at,omitempty"`
}

// Key returns the identifier used for locks and cache entries.
func (w *Wallet) Key() string {
	return w.UUID.String()
}
