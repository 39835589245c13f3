package connector

import (
	"context"

	"overlord/internal/schema"
)

// Connector is the per-venue execution contract. Submit returns the
// venue-assigned order identifier.
type Connector interface {
	Submit(ctx context.Context, order *schema.Order) (string, error)
	Cancel(ctx context.Context, venueOrderID string) error
}
